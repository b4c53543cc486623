package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseDurationString(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected time.Duration
		wantErr  bool
	}{
		{name: "seconds", input: "30s", expected: 30 * time.Second},
		{name: "minutes", input: "2m", expected: 2 * time.Minute},
		{name: "milliseconds", input: "1500ms", expected: 1500 * time.Millisecond},
		{name: "combined", input: "1h30m", expected: 90 * time.Minute},
		{name: "integer as seconds", input: "30", expected: 30 * time.Second},
		{name: "surrounding space", input: " 10s ", expected: 10 * time.Second},
		{name: "empty string", input: "", expected: 0},
		{name: "invalid format", input: "abc", wantErr: true},
		{name: "trailing garbage", input: "10abc", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDurationString(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseDurationString() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if got != tt.expected {
				t.Errorf("ParseDurationString() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0s"},
		{10 * time.Second, "10s"},
		{70 * time.Second, "70s"},
		{250 * time.Millisecond, "250ms"},
		{1500 * time.Millisecond, "1500ms"},
	}

	for _, tt := range tests {
		if got := FormatDuration(tt.in); got != tt.want {
			t.Errorf("FormatDuration(%v) = %q, want %q", tt.in, got, tt.want)
		}
		back, err := ParseDurationString(FormatDuration(tt.in))
		if err != nil || back != tt.in {
			t.Errorf("round trip of %v = %v, %v", tt.in, back, err)
		}
	}
}

const burstYAML = `
name: burst-100
settings:
  baseUrl: "https://fn.example.net/api/bench"
  timeout: 30s
scenarios:
  burst_000:
    executor: per-vu-iterations
    vus: 100
    iterations: 1
    startTime: 0s
    requests:
      - url: "{{baseUrl}}?invokeMode=burst&invokeInput=100&id={{__SEQ}}"
  burst_001:
    executor: per-vu-iterations
    vus: 100
    iterations: 1
    startTime: 10s
    requests:
      - url: "{{baseUrl}}?invokeMode=burst&invokeInput=100&id={{__SEQ}}"
`

func TestParseConfig_YAML(t *testing.T) {
	config, err := ParseConfig([]byte(burstYAML), "plan.yaml")
	if err != nil {
		t.Fatalf("ParseConfig() error = %v", err)
	}

	if config.Name != "burst-100" {
		t.Errorf("Name = %q, want burst-100", config.Name)
	}
	if config.Settings.Timeout.GetDuration(0) != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s", config.Settings.Timeout)
	}
	if len(config.Scenarios) != 2 {
		t.Fatalf("len(Scenarios) = %d, want 2", len(config.Scenarios))
	}

	sc := config.Scenarios["burst_001"]
	if sc.VUs != 100 || sc.Iterations != 1 {
		t.Errorf("burst_001 vus/iterations = %d/%d, want 100/1", sc.VUs, sc.Iterations)
	}
	if sc.StartOffset() != 10*time.Second {
		t.Errorf("burst_001 StartOffset() = %v, want 10s", sc.StartOffset())
	}
}

func TestParseConfig_JSON(t *testing.T) {
	data := `{
  "name": "one-vu",
  "scenarios": {
    "constant_one_vu": {
      "executor": "constant-arrival-rate",
      "rate": 1,
      "timeUnit": "200ms",
      "duration": "100000ms",
      "preAllocatedVUs": 1,
      "maxVUs": 1,
      "requests": [{"url": "http://localhost/api?id={{__SCENARIO_ITER}}"}]
    }
  }
}`

	config, err := ParseConfig([]byte(data), "plan.json")
	if err != nil {
		t.Fatalf("ParseConfig() error = %v", err)
	}

	sc := config.Scenarios["constant_one_vu"]
	if sc == nil {
		t.Fatal("scenario constant_one_vu missing")
	}
	if sc.Rate != 1 || sc.TimeUnit != "200ms" || sc.MaxVUs != 1 {
		t.Errorf("unexpected scenario: %+v", sc)
	}
}

func TestParseConfig_InvalidYAML(t *testing.T) {
	if _, err := ParseConfig([]byte("scenarios: [unclosed"), "plan.yaml"); err == nil {
		t.Error("ParseConfig() should fail on malformed YAML")
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plan.yaml")
	if err := os.WriteFile(path, []byte(burstYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	config, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if len(config.Scenarios) != 2 {
		t.Errorf("len(Scenarios) = %d, want 2", len(config.Scenarios))
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("LoadConfig() should fail for a missing file")
	}
}

func TestLoadConfig_SchemaViolation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plan.yaml")
	data := `
scenarios:
  s:
    executor: ramping-vus
    requests:
      - url: http://localhost
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := LoadConfig(path)
	if err == nil {
		t.Fatal("LoadConfig() should reject an unknown executor")
	}
	if !strings.Contains(err.Error(), "/scenarios/s/executor") {
		t.Errorf("error should point at the executor field, got: %v", err)
	}
}

func TestCheckSchema(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		format  Format
		wantErr bool
	}{
		{name: "valid yaml", data: burstYAML, format: FormatYAML},
		{
			name:   "valid json",
			data:   `{"scenarios": {"a": {"executor": "per-vu-iterations", "vus": 1, "requests": [{"url": "http://x"}]}}}`,
			format: FormatJSON,
		},
		{name: "missing scenarios", data: `name: x`, format: FormatYAML, wantErr: true},
		{
			name:    "unknown top-level key",
			data:    "scenarios: {a: {executor: per-vu-iterations, requests: [{url: x}]}}\nstages: []",
			format:  FormatYAML,
			wantErr: true,
		},
		{
			name:    "negative vus",
			data:    `{"scenarios": {"a": {"executor": "per-vu-iterations", "vus": -1, "requests": [{"url": "http://x"}]}}}`,
			format:  FormatJSON,
			wantErr: true,
		},
		{name: "not json", data: `{`, format: FormatJSON, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckSchema([]byte(tt.data), tt.format)
			if (err != nil) != tt.wantErr {
				t.Errorf("CheckSchema() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	config := &TestConfig{
		Scenarios: map[string]*ScenarioConfig{
			"burst": {
				Requests: []RequestConfig{{URL: "http://localhost"}},
			},
			"paced": {
				Executor: ExecutorConstantArrivalRate,
				Rate:     1,
				Duration: "10s",
				Requests: []RequestConfig{{URL: "http://localhost"}},
			},
		},
	}

	ApplyDefaults(config)

	if config.Settings.Timeout.GetDuration(0) != DefaultTimeout {
		t.Errorf("Timeout = %v, want %v", config.Settings.Timeout, DefaultTimeout)
	}
	if config.Settings.UserAgent != DefaultUserAgent {
		t.Errorf("UserAgent = %q, want %q", config.Settings.UserAgent, DefaultUserAgent)
	}
	if config.Options == nil {
		t.Error("Options should be set")
	}

	burst := config.Scenarios["burst"]
	if burst.Executor != ExecutorPerVUIterations {
		t.Errorf("default executor = %q, want %q", burst.Executor, ExecutorPerVUIterations)
	}
	if burst.VUs != 1 || burst.Iterations != 1 {
		t.Errorf("burst vus/iterations = %d/%d, want 1/1", burst.VUs, burst.Iterations)
	}
	if burst.MaxDuration != DefaultMaxDuration {
		t.Errorf("MaxDuration = %q, want %q", burst.MaxDuration, DefaultMaxDuration)
	}
	if burst.Requests[0].Method != "GET" {
		t.Errorf("Method = %q, want GET", burst.Requests[0].Method)
	}
	if burst.Requests[0].Name != "burst_request_1" {
		t.Errorf("Name = %q, want burst_request_1", burst.Requests[0].Name)
	}

	paced := config.Scenarios["paced"]
	if paced.TimeUnit != DefaultTimeUnit {
		t.Errorf("TimeUnit = %q, want %q", paced.TimeUnit, DefaultTimeUnit)
	}
	if paced.PreAllocatedVUs != 1 || paced.MaxVUs != 1 {
		t.Errorf("paced VUs = %d/%d, want 1/1", paced.PreAllocatedVUs, paced.MaxVUs)
	}
}

func TestMarshal_RoundTrip(t *testing.T) {
	original, err := ParseConfig([]byte(burstYAML), "plan.yaml")
	if err != nil {
		t.Fatal(err)
	}

	for _, format := range []Format{FormatYAML, FormatJSON} {
		t.Run(string(format), func(t *testing.T) {
			data, err := Marshal(original, format)
			if err != nil {
				t.Fatalf("Marshal() error = %v", err)
			}
			if err := CheckSchema(data, format); err != nil {
				t.Fatalf("marshalled config fails schema: %v", err)
			}

			decoded, err := ParseConfig(data, "plan."+string(format))
			if err != nil {
				t.Fatalf("ParseConfig() error = %v", err)
			}
			if len(decoded.Scenarios) != len(original.Scenarios) {
				t.Errorf("len(Scenarios) = %d, want %d", len(decoded.Scenarios), len(original.Scenarios))
			}
			if decoded.Settings.Timeout != original.Settings.Timeout {
				t.Errorf("Timeout = %v, want %v", decoded.Settings.Timeout, original.Settings.Timeout)
			}
		})
	}

	if _, err := Marshal(original, "toml"); err == nil {
		t.Error("Marshal() should reject unknown formats")
	}
}

func TestTestConfig_TotalDurationAndMaxVUs(t *testing.T) {
	config := &TestConfig{
		Scenarios: map[string]*ScenarioConfig{
			"a": {Executor: ExecutorPerVUIterations, VUs: 100, StartTime: "70s"},
			"b": {Executor: ExecutorConstantArrivalRate, MaxVUs: 1, Duration: "100s"},
		},
	}

	if got := config.TotalDuration(); got != 100*time.Second {
		t.Errorf("TotalDuration() = %v, want 100s", got)
	}
	if got := config.MaxVUs(); got != 100 {
		t.Errorf("MaxVUs() = %d, want 100", got)
	}
}
