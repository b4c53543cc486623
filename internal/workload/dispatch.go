package workload

import (
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"

	"github.com/wesleyorama2/azbench/internal/performance"
	"github.com/wesleyorama2/azbench/internal/performance/config"
)

// Query parameters appended to every invocation.
const (
	QueryInvokeMode  = "invokeMode"
	QueryInvokeInput = "invokeInput"
	QueryID          = "id"
)

// RequestName names the invocation request in metrics.
const RequestName = "invoke"

// Placeholder for the benchmark URL inside request templates.
const baseURLVar = "{{baseUrl}}"

// IDTemplate is the placeholder resolved to the request's id for a mode:
// the run-wide dispatch sequence for bursts, the scenario's id tag for
// constant mode, and the scenario iteration for the single-VU mode.
func IDTemplate(m Mode) string {
	switch m {
	case ModeConstant:
		return "{{" + TagID + "}}"
	case ModeConstantOneVU:
		return "{{" + performance.VarScenarioIter + "}}"
	default:
		return "{{" + performance.VarSeq + "}}"
	}
}

// NormalizeURL validates a benchmark URL and drops any fragment. An empty
// URL is returned unchanged.
func NormalizeURL(raw string) (string, error) {
	if raw == "" {
		return "", nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%w: %q must be an absolute http or https URL", ErrInvalidURL, raw)
	}
	u.Fragment = ""
	return u.String(), nil
}

// InvokeQuery is the query parameters every invocation carries. They are
// kept apart from the benchmark URL and merged into its query when the
// request is resolved, so a URL that already has a query, such as a
// function key, works whether or not it was known when the schedule was
// built.
func InvokeQuery(p Params) map[string]string {
	return map[string]string{
		QueryInvokeMode:  p.Mode.InvokeMode(),
		QueryInvokeInput: strconv.Itoa(p.Input()),
		QueryID:          IDTemplate(p.Mode),
	}
}

// Request is the single GET each iteration dispatches. There are no
// retries, a failure is recorded by the engine as a failed request.
func Request(p Params) config.RequestConfig {
	return config.RequestConfig{
		Name:   RequestName,
		Method: http.MethodGet,
		URL:    baseURLVar,
		Query:  InvokeQuery(p),
	}
}

// ParamsFromConfig recovers the parameters cfg was built with from the
// invokeMode and invokeInput query of its requests. It reports false when no
// request carries them.
func ParamsFromConfig(cfg *config.TestConfig) (Params, bool) {
	names := make([]string, 0, len(cfg.Scenarios))
	for name := range cfg.Scenarios {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		for _, req := range cfg.Scenarios[name].Requests {
			mode, input := req.Query[QueryInvokeMode], req.Query[QueryInvokeInput]
			if mode == "" {
				continue
			}
			p, err := ParseParams(mode, input, input, cfg.Settings.BaseURL)
			if err == nil {
				return p, true
			}
		}
	}
	return Params{URL: cfg.Settings.BaseURL}, false
}
