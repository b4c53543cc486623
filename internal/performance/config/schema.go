// Package config provides the benchmark run configuration: the scenario
// schedule, its requests, and the pass/fail thresholds.
package config

import (
	"time"

	"gopkg.in/yaml.v3"
)

// TestConfig is the root configuration for a benchmark run.
//
// Example YAML:
//
//	name: burst-100
//	settings:
//	  baseUrl: "https://fn.azurewebsites.net/api/bench"
//	  timeout: 30s
//	scenarios:
//	  burst_000:
//	    executor: per-vu-iterations
//	    vus: 100
//	    iterations: 1
//	    startTime: 0s
//	    requests:
//	      - name: invoke
//	        method: GET
//	        url: "{{baseUrl}}?invokeMode=burst&invokeInput=100&id={{__SEQ}}"
type TestConfig struct {
	// Name of the run (for reporting)
	Name string `json:"name" yaml:"name"`

	// Description of the run (optional)
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Settings contains global settings for all scenarios
	Settings GlobalSettings `json:"settings,omitempty" yaml:"settings,omitempty"`

	// Variables are global variables available to all scenarios
	Variables map[string]string `json:"variables,omitempty" yaml:"variables,omitempty"`

	// Scenarios defines the load schedule, keyed by unique scenario name.
	// Each scenario runs independently with its own executor.
	Scenarios map[string]*ScenarioConfig `json:"scenarios" yaml:"scenarios"`

	// Thresholds define pass/fail criteria for the run
	Thresholds *ThresholdsConfig `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`

	// Options for run execution
	Options *ExecutionOptions `json:"options,omitempty" yaml:"options,omitempty"`
}

// GlobalSettings contains global HTTP settings.
type GlobalSettings struct {
	// BaseURL is the benchmark endpoint, available to requests as {{baseUrl}}
	BaseURL string `json:"baseUrl,omitempty" yaml:"baseUrl,omitempty"`

	// Timeout is the default HTTP request timeout
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// MaxConnectionsPerHost limits connections per host (0 = unlimited)
	MaxConnectionsPerHost int `json:"maxConnectionsPerHost,omitempty" yaml:"maxConnectionsPerHost,omitempty"`

	// MaxIdleConnsPerHost limits idle connections per host
	MaxIdleConnsPerHost int `json:"maxIdleConnsPerHost,omitempty" yaml:"maxIdleConnsPerHost,omitempty"`

	// InsecureSkipVerify skips TLS certificate verification
	InsecureSkipVerify bool `json:"insecureSkipVerify,omitempty" yaml:"insecureSkipVerify,omitempty"`

	// UserAgent is the User-Agent header sent with every request
	UserAgent string `json:"userAgent,omitempty" yaml:"userAgent,omitempty"`

	// Headers are default headers applied to all requests
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

// ScenarioConfig defines one scheduled unit of load.
type ScenarioConfig struct {
	// Executor specifies the load generation strategy:
	// "per-vu-iterations" or "constant-arrival-rate"
	Executor string `json:"executor" yaml:"executor"`

	// VUs is the number of virtual users (per-vu-iterations)
	VUs int `json:"vus,omitempty" yaml:"vus,omitempty"`

	// Iterations is the iteration count of each VU (per-vu-iterations)
	Iterations int `json:"iterations,omitempty" yaml:"iterations,omitempty"`

	// MaxDuration bounds an iteration-based scenario (default 10m)
	MaxDuration string `json:"maxDuration,omitempty" yaml:"maxDuration,omitempty"`

	// Duration is how long an arrival-rate scenario runs
	Duration string `json:"duration,omitempty" yaml:"duration,omitempty"`

	// Rate is the number of iterations started per TimeUnit
	Rate float64 `json:"rate,omitempty" yaml:"rate,omitempty"`

	// TimeUnit is the period Rate refers to (default 1s)
	TimeUnit string `json:"timeUnit,omitempty" yaml:"timeUnit,omitempty"`

	// PreAllocatedVUs is the number of VUs to start with (arrival-rate)
	PreAllocatedVUs int `json:"preAllocatedVUs,omitempty" yaml:"preAllocatedVUs,omitempty"`

	// MaxVUs caps concurrent VUs (arrival-rate)
	MaxVUs int `json:"maxVUs,omitempty" yaml:"maxVUs,omitempty"`

	// StartTime is the offset from run start at which this scenario begins
	StartTime string `json:"startTime,omitempty" yaml:"startTime,omitempty"`

	// GracefulStop is how long to wait for in-flight iterations
	GracefulStop string `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`

	// Tags are exposed to requests as variables, e.g. {{id}}
	Tags map[string]string `json:"tags,omitempty" yaml:"tags,omitempty"`

	// Requests are executed in order once per iteration
	Requests []RequestConfig `json:"requests" yaml:"requests"`
}

// RequestConfig defines a single HTTP request.
type RequestConfig struct {
	// Name for this request (used in metrics)
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Method is the HTTP method (default GET)
	Method string `json:"method,omitempty" yaml:"method,omitempty"`

	// URL is the request URL (supports {{var}} substitution)
	URL string `json:"url" yaml:"url"`

	// Query parameters merged into the resolved URL's query string
	// (values support {{var}} substitution)
	Query map[string]string `json:"query,omitempty" yaml:"query,omitempty"`

	// Headers are request-specific headers
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`

	// Timeout overrides the global request timeout
	Timeout string `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// Extract defines variable extraction from the response
	Extract []ExtractConfig `json:"extract,omitempty" yaml:"extract,omitempty"`
}

// ExtractConfig defines how to extract a variable from a response.
type ExtractConfig struct {
	// Name of the variable to store
	Name string `json:"name" yaml:"name"`

	// Source is where to extract from: "body", "header", "status"
	Source string `json:"source" yaml:"source"`

	// Path is the header name, or a JSONPath for body
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

// ThresholdsConfig defines pass/fail criteria for the run.
type ThresholdsConfig struct {
	// HTTPReqDuration thresholds, e.g. ["p95 < 500ms", "avg < 200ms"]
	HTTPReqDuration []string `json:"http_req_duration,omitempty" yaml:"http_req_duration,omitempty"`

	// HTTPReqFailed thresholds, e.g. ["rate < 0.01"]
	HTTPReqFailed []string `json:"http_req_failed,omitempty" yaml:"http_req_failed,omitempty"`

	// HTTPReqs thresholds, e.g. ["count >= 3000"]
	HTTPReqs []string `json:"http_reqs,omitempty" yaml:"http_reqs,omitempty"`
}

// ExecutionOptions controls run execution behavior.
type ExecutionOptions struct {
	// Sequential runs scenarios one-by-one, ignoring startTime
	Sequential bool `json:"sequential,omitempty" yaml:"sequential,omitempty"`
}

// Duration is a time.Duration that (un)marshals as a string like "30s".
type Duration time.Duration

// GetDuration returns the duration or a default if unset.
func (d Duration) GetDuration(defaultValue time.Duration) time.Duration {
	if d == 0 {
		return defaultValue
	}
	return time.Duration(d)
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	if s == "" || s == "null" {
		*d = 0
		return nil
	}

	dur, err := ParseDurationString(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}

	dur, err := ParseDurationString(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// String returns the duration as a string.
func (d Duration) String() string {
	return time.Duration(d).String()
}
