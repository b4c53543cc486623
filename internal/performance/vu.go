// Package performance provides the virtual users and the VU scheduler that
// executors use to dispatch benchmark requests.
package performance

import (
	"context"
	"fmt"
	"io"
	"net/http"
	neturl "net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wesleyorama2/azbench/internal/performance/metrics"
	"github.com/wesleyorama2/azbench/pkg/jsonpath"
)

// VUState represents the lifecycle state of a Virtual User.
type VUState int32

const (
	// VUStateIdle indicates the VU is ready but not currently running.
	VUStateIdle VUState = iota
	// VUStateRunning indicates the VU is actively running iterations.
	VUStateRunning
	// VUStateStopping indicates the VU has been requested to stop.
	VUStateStopping
	// VUStateStopped indicates the VU has fully stopped.
	VUStateStopped
)

func (s VUState) String() string {
	switch s {
	case VUStateIdle:
		return "idle"
	case VUStateRunning:
		return "running"
	case VUStateStopping:
		return "stopping"
	case VUStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// VirtualUser represents a single simulated caller executing scenario
// iterations.
//
// Each VU has its own iteration counter and variable scope for extracted
// values. The HTTP client and the scenario/run counters are shared.
type VirtualUser struct {
	// Unique identifier for this VU within its scenario
	ID int

	// Scenario defines what requests to execute
	Scenario *Scenario

	// HTTP client for this VU (usually shared)
	HTTPClient *http.Client

	// Metrics engine for recording results
	Metrics *metrics.Engine

	scenarioIter *Sequence
	seq          *Sequence

	state  atomic.Int32
	stopCh chan struct{}
	doneCh chan struct{}

	iteration atomic.Int64

	data   map[string]string
	dataMu sync.RWMutex

	lastIterStart time.Time
	lastIterEnd   time.Time
}

// NewVirtualUser creates a new Virtual User with its own counters.
// VUs spawned by a VUScheduler share the scheduler's counters instead.
func NewVirtualUser(id int, scenario *Scenario, httpClient *http.Client, metricsEngine *metrics.Engine) *VirtualUser {
	return &VirtualUser{
		ID:           id,
		Scenario:     scenario,
		HTTPClient:   httpClient,
		Metrics:      metricsEngine,
		scenarioIter: NewSequence(),
		seq:          NewSequence(),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
		data:         make(map[string]string),
	}
}

// GetState returns the current VU state.
func (vu *VirtualUser) GetState() VUState {
	return VUState(vu.state.Load())
}

// GetIteration returns the number of iterations started so far.
func (vu *VirtualUser) GetIteration() int64 {
	return vu.iteration.Load()
}

// RunIteration executes a single iteration of the scenario: every request
// in order, one HTTP call each. Request failures are recorded in the
// metrics engine and do not fail the iteration.
//
// Returns an error only if the VU is stopping or ctx is done.
func (vu *VirtualUser) RunIteration(ctx context.Context) error {
	currentState := vu.GetState()
	if currentState == VUStateStopping || currentState == VUStateStopped {
		return fmt.Errorf("VU %d is stopping or stopped", vu.ID)
	}

	vu.state.Store(int32(VUStateRunning))
	vu.lastIterStart = time.Now()

	iter := &iterationVars{
		vu:           vu,
		iter:         vu.iteration.Add(1) - 1,
		scenarioIter: vu.scenarioIter.Next(),
	}

	for _, req := range vu.Scenario.Requests {
		select {
		case <-ctx.Done():
			vu.finishIteration()
			return ctx.Err()
		case <-vu.stopCh:
			vu.finishIteration()
			return nil
		default:
		}

		result := vu.executeRequest(ctx, req, iter)

		success := result.Error == nil && result.StatusCode >= 200 && result.StatusCode < 300
		vu.Metrics.RecordLatency(result.Duration, req.Name, result.StatusCode, success, result.BytesReceived)

		if result.Error != nil {
			log.Debug().Err(result.Error).
				Str("scenario", vu.Scenario.Name).
				Int("vu", vu.ID).
				Str("url", result.URL).
				Msg("request failed")
		}
	}

	vu.finishIteration()
	return nil
}

func (vu *VirtualUser) finishIteration() {
	vu.lastIterEnd = time.Now()
	vu.state.CompareAndSwap(int32(VUStateRunning), int32(VUStateIdle))
}

// iterationVars holds the built-in variable values of one iteration.
type iterationVars struct {
	vu           *VirtualUser
	iter         int64
	scenarioIter int64
	seq          int64
}

// lookup resolves a template variable: built-ins first, then values
// extracted by this VU, then scenario tags, then scenario variables.
func (iv *iterationVars) lookup(name string) (string, bool) {
	switch name {
	case VarVU:
		return strconv.Itoa(iv.vu.ID), true
	case VarIter:
		return strconv.FormatInt(iv.iter, 10), true
	case VarScenario:
		return iv.vu.Scenario.Name, true
	case VarScenarioIter:
		return strconv.FormatInt(iv.scenarioIter, 10), true
	case VarSeq:
		return strconv.FormatInt(iv.seq, 10), true
	}

	if v, ok := iv.vu.GetData(name); ok {
		return v, true
	}
	if v, ok := iv.vu.Scenario.Tags[name]; ok {
		return v, true
	}
	if v, ok := iv.vu.Scenario.Variables[name]; ok {
		return v, true
	}
	return "", false
}

// executeRequest executes a single HTTP request and returns the result.
func (vu *VirtualUser) executeRequest(ctx context.Context, req *RequestConfig, iter *iterationVars) *RequestResult {
	// every dispatch takes the next run-wide sequence number
	iter.seq = vu.seq.Next()

	url, urlErr := requestURL(req, iter.lookup)
	startTime := time.Now()

	result := &RequestResult{
		VUID:        vu.ID,
		Iteration:   iter.iter,
		RequestName: req.Name,
		URL:         url,
		StartTime:   startTime,
	}
	if urlErr != nil {
		result.EndTime = startTime
		result.Error = fmt.Errorf("failed to build request: %w", urlErr)
		return result
	}

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	httpReq, err := vu.buildRequest(ctx, req, url, iter)
	if err != nil {
		result.EndTime = time.Now()
		result.Duration = result.EndTime.Sub(startTime)
		result.Error = fmt.Errorf("failed to build request: %w", err)
		return result
	}

	resp, err := vu.HTTPClient.Do(httpReq)
	if err != nil {
		result.EndTime = time.Now()
		result.Duration = result.EndTime.Sub(startTime)
		result.Error = err
		return result
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(startTime)
	result.StatusCode = resp.StatusCode
	if err != nil {
		result.Error = fmt.Errorf("failed to read response body: %w", err)
		return result
	}
	result.BytesReceived = int64(len(body))

	if len(req.Extract) > 0 {
		vu.extractVariables(req.Extract, resp, body)
	}

	return result
}

// requestURL resolves the request URL and sets its query parameters. The
// parameters are merged into whatever query the resolved URL already
// carries.
func requestURL(req *RequestConfig, lookup func(string) (string, bool)) (string, error) {
	resolved := Resolve(req.URL, lookup)
	if len(req.Query) == 0 {
		return resolved, nil
	}

	u, err := neturl.Parse(resolved)
	if err != nil {
		return resolved, err
	}
	q := u.Query()
	for key, value := range req.Query {
		q.Set(key, Resolve(value, lookup))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// buildRequest builds an HTTP request from the configuration.
func (vu *VirtualUser) buildRequest(ctx context.Context, req *RequestConfig, url string, iter *iterationVars) (*http.Request, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, err
	}

	for key, value := range vu.Scenario.Headers {
		httpReq.Header.Set(key, Resolve(value, iter.lookup))
	}
	for key, value := range req.Headers {
		httpReq.Header.Set(key, Resolve(value, iter.lookup))
	}

	return httpReq, nil
}

// extractVariables extracts values from the response into the VU scope.
func (vu *VirtualUser) extractVariables(extracts []ExtractConfig, resp *http.Response, body []byte) {
	for _, extract := range extracts {
		var value string

		switch extract.Source {
		case "header":
			value = resp.Header.Get(extract.Path)
		case "status":
			value = strconv.Itoa(resp.StatusCode)
		case "body":
			v, err := jsonpath.Extract(body, extract.Path)
			if err != nil {
				log.Debug().Err(err).Str("name", extract.Name).Msg("body extraction failed")
				continue
			}
			value = v
		}

		if value != "" {
			vu.SetData(extract.Name, value)
		}
	}
}

// RequestStop signals the VU to stop after completing the current request.
func (vu *VirtualUser) RequestStop() {
	if vu.state.CompareAndSwap(int32(VUStateRunning), int32(VUStateStopping)) ||
		vu.state.CompareAndSwap(int32(VUStateIdle), int32(VUStateStopping)) {
		close(vu.stopCh)
	}
}

// WaitForStop waits for the VU to stop with a timeout.
//
// Returns true if the VU stopped within the timeout, false otherwise.
func (vu *VirtualUser) WaitForStop(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-vu.doneCh:
		return true
	case <-timer.C:
		return false
	}
}

// MarkStopped marks the VU as fully stopped.
func (vu *VirtualUser) MarkStopped() {
	vu.state.Store(int32(VUStateStopped))
	select {
	case <-vu.doneCh:
	default:
		close(vu.doneCh)
	}
}

// SetData stores a value in the VU's variable scope.
func (vu *VirtualUser) SetData(key, value string) {
	vu.dataMu.Lock()
	defer vu.dataMu.Unlock()
	vu.data[key] = value
}

// GetData retrieves a value from the VU's variable scope.
func (vu *VirtualUser) GetData(key string) (string, bool) {
	vu.dataMu.RLock()
	defer vu.dataMu.RUnlock()
	val, ok := vu.data[key]
	return val, ok
}

// RequestResult contains the result of a single HTTP request.
type RequestResult struct {
	VUID          int           `json:"vuId"`
	Iteration     int64         `json:"iteration"`
	RequestName   string        `json:"requestName"`
	URL           string        `json:"url"`
	StartTime     time.Time     `json:"startTime"`
	EndTime       time.Time     `json:"endTime"`
	Duration      time.Duration `json:"duration"`
	StatusCode    int           `json:"statusCode"`
	BytesReceived int64         `json:"bytesReceived"`
	Error         error         `json:"-"`
}

// Scenario defines what a VU executes during each iteration.
type Scenario struct {
	// Name of the scenario
	Name string `json:"name" yaml:"name"`

	// Variables available to all requests
	Variables map[string]string `json:"variables,omitempty" yaml:"variables,omitempty"`

	// Tags are scenario-level values such as the constant-mode id
	Tags map[string]string `json:"tags,omitempty" yaml:"tags,omitempty"`

	// Headers are sent with every request of the scenario
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`

	// Requests to execute in order
	Requests []*RequestConfig `json:"requests" yaml:"requests"`
}

// RequestConfig defines a single HTTP request.
type RequestConfig struct {
	// Name for this request (used in metrics)
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// HTTP method (default GET)
	Method string `json:"method" yaml:"method"`

	// URL (supports variable substitution)
	URL string `json:"url" yaml:"url"`

	// Query parameters set on the resolved URL (values support variable
	// substitution)
	Query map[string]string `json:"query,omitempty" yaml:"query,omitempty"`

	// Headers (support variable substitution)
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`

	// Timeout for this specific request (optional)
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// Variable extraction from response
	Extract []ExtractConfig `json:"extract,omitempty" yaml:"extract,omitempty"`
}

// ExtractConfig defines how to extract variables from a response.
type ExtractConfig struct {
	// Name of the variable to store
	Name string `json:"name" yaml:"name"`

	// Source: "body", "header", "status"
	Source string `json:"source" yaml:"source"`

	// Path: header name, or JSONPath for body
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}
