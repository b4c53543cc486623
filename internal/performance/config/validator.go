package config

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors struct {
	Errors []*ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e.Errors)))
	for i, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Add adds an error to the collection.
func (e *ValidationErrors) Add(field, message string) {
	e.Errors = append(e.Errors, &ValidationError{Field: field, Message: message})
}

// HasErrors returns true if there are any errors.
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

// Validate validates the entire configuration.
//
// Returns nil if valid, or a *ValidationErrors holding every problem found.
func (c *TestConfig) Validate() error {
	errs := &ValidationErrors{}

	if len(c.Scenarios) == 0 {
		errs.Add("scenarios", "at least one scenario is required")
	}

	for name, scenario := range c.Scenarios {
		if scenario == nil {
			errs.Add("scenarios."+name, "scenario is empty")
			continue
		}
		validateScenario(name, scenario, errs)
	}

	if c.Thresholds != nil {
		validateThresholds(c.Thresholds, errs)
	}

	validateSettings(&c.Settings, errs)

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func validateScenario(name string, sc *ScenarioConfig, errs *ValidationErrors) {
	prefix := fmt.Sprintf("scenarios.%s", name)

	switch sc.Executor {
	case "":
		errs.Add(prefix+".executor", "executor type is required")
	case ExecutorPerVUIterations:
		validatePerVUIterations(prefix, sc, errs)
	case ExecutorConstantArrivalRate:
		validateConstantArrivalRate(prefix, sc, errs)
	default:
		errs.Add(prefix+".executor", fmt.Sprintf("unknown executor type: %s", sc.Executor))
	}

	validateDurationField(prefix+".startTime", sc.StartTime, errs)
	validateDurationField(prefix+".gracefulStop", sc.GracefulStop, errs)
	if d, err := ParseDurationString(sc.StartTime); err == nil && d < 0 {
		errs.Add(prefix+".startTime", "startTime cannot be negative")
	}

	if len(sc.Requests) == 0 {
		errs.Add(prefix+".requests", "at least one request is required")
	}
	for i := range sc.Requests {
		validateRequest(fmt.Sprintf("%s.requests[%d]", prefix, i), &sc.Requests[i], errs)
	}
}

func validatePerVUIterations(prefix string, sc *ScenarioConfig, errs *ValidationErrors) {
	if sc.VUs <= 0 {
		errs.Add(prefix+".vus", "vus must be greater than 0")
	}
	if sc.Iterations <= 0 {
		errs.Add(prefix+".iterations", "iterations must be greater than 0")
	}
	validateDurationField(prefix+".maxDuration", sc.MaxDuration, errs)
}

func validateConstantArrivalRate(prefix string, sc *ScenarioConfig, errs *ValidationErrors) {
	if sc.Rate <= 0 {
		errs.Add(prefix+".rate", "rate must be greater than 0")
	}

	if sc.Duration == "" {
		errs.Add(prefix+".duration", "duration is required for constant-arrival-rate executor")
	} else {
		validateDurationField(prefix+".duration", sc.Duration, errs)
	}

	if sc.TimeUnit != "" {
		if d, err := ParseDurationString(sc.TimeUnit); err != nil {
			errs.Add(prefix+".timeUnit", fmt.Sprintf("invalid timeUnit: %v", err))
		} else if d <= 0 {
			errs.Add(prefix+".timeUnit", "timeUnit must be greater than 0")
		}
	}

	if sc.PreAllocatedVUs < 0 {
		errs.Add(prefix+".preAllocatedVUs", "preAllocatedVUs cannot be negative")
	}
	if sc.MaxVUs > 0 && sc.PreAllocatedVUs > sc.MaxVUs {
		errs.Add(prefix+".preAllocatedVUs", "preAllocatedVUs cannot be greater than maxVUs")
	}
}

func validateDurationField(field, value string, errs *ValidationErrors) {
	if value == "" {
		return
	}
	if _, err := ParseDurationString(value); err != nil {
		name := field[strings.LastIndex(field, ".")+1:]
		errs.Add(field, fmt.Sprintf("invalid %s: %v", name, err))
	}
}

func validateRequest(prefix string, req *RequestConfig, errs *ValidationErrors) {
	validMethods := map[string]bool{
		"GET": true, "POST": true, "PUT": true, "DELETE": true,
		"PATCH": true, "HEAD": true, "OPTIONS": true,
	}

	method := strings.ToUpper(req.Method)
	if method == "" {
		errs.Add(prefix+".method", "method is required")
	} else if !validMethods[method] {
		errs.Add(prefix+".method", fmt.Sprintf("invalid HTTP method: %s", req.Method))
	}

	if req.URL == "" {
		errs.Add(prefix+".url", "url is required")
	} else if _, err := url.Parse(placeholderURL(req.URL)); err != nil {
		errs.Add(prefix+".url", fmt.Sprintf("invalid URL: %v", err))
	}

	for key := range req.Query {
		if strings.TrimSpace(key) == "" {
			errs.Add(prefix+".query", "query parameter name is required")
		}
	}

	validateDurationField(prefix+".timeout", req.Timeout, errs)

	for i := range req.Extract {
		validateExtract(fmt.Sprintf("%s.extract[%d]", prefix, i), &req.Extract[i], errs)
	}
}

// placeholderURL replaces {{var}} patterns so a templated URL can be parsed.
func placeholderURL(raw string) string {
	out := strings.ReplaceAll(raw, "{{baseUrl}}", "http://example.com")
	for {
		start := strings.Index(out, "{{")
		if start < 0 {
			return out
		}
		end := strings.Index(out[start:], "}}")
		if end < 0 {
			return out
		}
		out = out[:start] + "placeholder" + out[start+end+2:]
	}
}

func validateExtract(prefix string, extract *ExtractConfig, errs *ValidationErrors) {
	if extract.Name == "" {
		errs.Add(prefix+".name", "name is required")
	}

	switch extract.Source {
	case "":
		errs.Add(prefix+".source", "source is required")
	case "body", "header":
		if extract.Path == "" {
			errs.Add(prefix+".path", fmt.Sprintf("path is required for %s extraction", extract.Source))
		}
	case "status":
	default:
		errs.Add(prefix+".source", fmt.Sprintf("invalid source: %s", extract.Source))
	}
}

func validateThresholds(t *ThresholdsConfig, errs *ValidationErrors) {
	for i, threshold := range t.HTTPReqDuration {
		if err := validateThresholdExpression(threshold); err != nil {
			errs.Add(fmt.Sprintf("thresholds.http_req_duration[%d]", i), err.Error())
		}
	}
	for i, threshold := range t.HTTPReqFailed {
		if err := validateThresholdExpression(threshold); err != nil {
			errs.Add(fmt.Sprintf("thresholds.http_req_failed[%d]", i), err.Error())
		}
	}
	for i, threshold := range t.HTTPReqs {
		if err := validateThresholdExpression(threshold); err != nil {
			errs.Add(fmt.Sprintf("thresholds.http_reqs[%d]", i), err.Error())
		}
	}
}

// validateThresholdExpression validates a threshold expression.
//
// Valid formats:
//   - "p95 < 500ms"
//   - "avg < 200ms"
//   - "rate < 0.01"
//   - "count >= 3000"
func validateThresholdExpression(expr string) error {
	_, _, _, err := ParseThresholdExpression(expr)
	return err
}

// ParseThresholdExpression splits "p95 < 500ms" into metric, operator and
// value.
func ParseThresholdExpression(expr string) (metric, op, value string, err error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return "", "", "", fmt.Errorf("threshold expression cannot be empty")
	}

	// two-character operators first so "<=" is not read as "<"
	for _, candidate := range []string{"<=", ">=", "==", "!=", "<", ">"} {
		if idx := strings.Index(expr, candidate); idx > 0 {
			metric = strings.TrimSpace(expr[:idx])
			op = candidate
			value = strings.TrimSpace(expr[idx+len(candidate):])
			break
		}
	}
	if op == "" {
		return "", "", "", fmt.Errorf("threshold must contain a comparison operator (<, >, <=, >=, ==, !=)")
	}

	switch metric {
	case "p50", "p90", "p95", "p99", "min", "max", "avg", "med", "rate", "count":
	default:
		return "", "", "", fmt.Errorf("threshold must start with a valid metric (p50, p90, p95, p99, min, max, avg, med, rate, count)")
	}

	if value == "" {
		return "", "", "", fmt.Errorf("threshold value is missing")
	}
	return metric, op, value, nil
}

// AddThreshold adds a "name:expression" threshold such as
// "http_req_duration:p95<500ms".
func (t *ThresholdsConfig) AddThreshold(def string) error {
	name, expr, ok := strings.Cut(def, ":")
	if !ok {
		return fmt.Errorf("threshold %q must have the form name:expression", def)
	}
	if err := validateThresholdExpression(expr); err != nil {
		return fmt.Errorf("threshold %q: %w", def, err)
	}

	expr = strings.TrimSpace(expr)
	switch strings.TrimSpace(name) {
	case "http_req_duration":
		t.HTTPReqDuration = append(t.HTTPReqDuration, expr)
	case "http_req_failed":
		t.HTTPReqFailed = append(t.HTTPReqFailed, expr)
	case "http_reqs":
		t.HTTPReqs = append(t.HTTPReqs, expr)
	default:
		return fmt.Errorf("unknown threshold metric %q (want http_req_duration, http_req_failed or http_reqs)", name)
	}
	return nil
}

func validateSettings(s *GlobalSettings, errs *ValidationErrors) {
	if s.BaseURL != "" {
		if _, err := url.Parse(s.BaseURL); err != nil {
			errs.Add("settings.baseUrl", fmt.Sprintf("invalid URL: %v", err))
		}
	}

	if s.MaxConnectionsPerHost < 0 {
		errs.Add("settings.maxConnectionsPerHost", "cannot be negative")
	}
	if s.MaxIdleConnsPerHost < 0 {
		errs.Add("settings.maxIdleConnsPerHost", "cannot be negative")
	}
}
