package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Format is a serialization format for configuration files.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// Executor names understood by the engine.
const (
	ExecutorPerVUIterations     = "per-vu-iterations"
	ExecutorConstantArrivalRate = "constant-arrival-rate"
)

// Defaults applied by ApplyDefaults.
const (
	DefaultTimeout     = 30 * time.Second
	DefaultTimeUnit    = "1s"
	DefaultMaxDuration = "10m"
	DefaultUserAgent   = "azbench/1.0"
)

// FormatForPath picks the format from a file extension. Anything that is
// not .json is treated as YAML.
func FormatForPath(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return FormatJSON
	}
	return FormatYAML
}

// LoadConfig loads a run configuration from a file.
//
// The file is checked against the embedded JSON schema before it is decoded,
// so structural mistakes are reported with their location in the document.
func LoadConfig(path string) (*TestConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := CheckSchema(data, FormatForPath(path)); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return ParseConfig(data, path)
}

// ParseConfig decodes configuration data. The format follows the extension
// of path and defaults to YAML.
func ParseConfig(data []byte, path string) (*TestConfig, error) {
	var config TestConfig

	switch FormatForPath(path) {
	case FormatJSON:
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}

	return &config, nil
}

// Marshal encodes a configuration in the given format.
func Marshal(config *TestConfig, format Format) ([]byte, error) {
	switch format {
	case FormatJSON:
		return json.MarshalIndent(config, "", "  ")
	case FormatYAML, "":
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(config); err != nil {
			return nil, err
		}
		if err := enc.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}

// ParseDurationString parses a duration string.
//
// Supported formats:
//   - Go durations: "30s", "1500ms", "1h30m"
//   - bare integers, taken as seconds: "30"
//
// An empty string is a zero duration.
func ParseDurationString(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}

	if seconds, err := strconv.Atoi(s); err == nil {
		return time.Duration(seconds) * time.Second, nil
	}

	return 0, fmt.Errorf("invalid duration format: %s", s)
}

// FormatDuration renders d the way schedules are written: whole seconds as
// "10s", everything else in milliseconds ("1500ms").
func FormatDuration(d time.Duration) string {
	if d%time.Second == 0 {
		return strconv.FormatInt(int64(d/time.Second), 10) + "s"
	}
	return strconv.FormatInt(d.Milliseconds(), 10) + "ms"
}

// ApplyDefaults fills in unset values.
func ApplyDefaults(config *TestConfig) {
	if config.Settings.Timeout == 0 {
		config.Settings.Timeout = Duration(DefaultTimeout)
	}
	if config.Settings.MaxIdleConnsPerHost == 0 {
		config.Settings.MaxIdleConnsPerHost = 100
	}
	if config.Settings.UserAgent == "" {
		config.Settings.UserAgent = DefaultUserAgent
	}

	if config.Options == nil {
		config.Options = &ExecutionOptions{}
	}

	for name, sc := range config.Scenarios {
		if sc != nil {
			applyScenarioDefaults(name, sc)
		}
	}
}

func applyScenarioDefaults(name string, sc *ScenarioConfig) {
	if sc.Executor == "" {
		sc.Executor = ExecutorPerVUIterations
	}

	switch sc.Executor {
	case ExecutorPerVUIterations:
		if sc.VUs == 0 {
			sc.VUs = 1
		}
		if sc.Iterations == 0 {
			sc.Iterations = 1
		}
		if sc.MaxDuration == "" {
			sc.MaxDuration = DefaultMaxDuration
		}
	case ExecutorConstantArrivalRate:
		if sc.TimeUnit == "" {
			sc.TimeUnit = DefaultTimeUnit
		}
		if sc.PreAllocatedVUs == 0 {
			sc.PreAllocatedVUs = 1
		}
		if sc.MaxVUs == 0 {
			sc.MaxVUs = sc.PreAllocatedVUs
		}
	}

	for i, req := range sc.Requests {
		if req.Name == "" {
			sc.Requests[i].Name = fmt.Sprintf("%s_request_%d", name, i+1)
		}
		if req.Method == "" {
			sc.Requests[i].Method = "GET"
		}
	}
}

// StartOffset returns the parsed startTime of a scenario.
func (sc *ScenarioConfig) StartOffset() time.Duration {
	d, _ := ParseDurationString(sc.StartTime)
	return d
}

// TotalDuration estimates how long the whole schedule takes: the latest
// scenario start plus that scenario's own duration, where known.
func (c *TestConfig) TotalDuration() time.Duration {
	var total time.Duration
	for _, sc := range c.Scenarios {
		end := sc.StartOffset()
		if sc.Executor == ExecutorConstantArrivalRate {
			d, _ := ParseDurationString(sc.Duration)
			end += d
		}
		if end > total {
			total = end
		}
	}
	return total
}

// MaxVUs returns the highest VU count any single scenario can reach.
func (c *TestConfig) MaxVUs() int {
	max := 0
	for _, sc := range c.Scenarios {
		n := sc.VUs
		if sc.MaxVUs > n {
			n = sc.MaxVUs
		}
		if n > max {
			max = n
		}
	}
	return max
}
