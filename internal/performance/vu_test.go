package performance_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/wesleyorama2/azbench/internal/performance"
	"github.com/wesleyorama2/azbench/internal/performance/metrics"
)

// recorder is a test endpoint that remembers every request it receives.
type recorder struct {
	mu       sync.Mutex
	requests []*http.Request
	status   int
	body     string
	headers  map[string]string
}

func newRecorder(status int, body string) *recorder {
	return &recorder{status: status, body: body}
}

func (r *recorder) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mu.Lock()
	r.requests = append(r.requests, req)
	r.mu.Unlock()

	for k, v := range r.headers {
		w.Header().Set(k, v)
	}
	w.WriteHeader(r.status)
	_, _ = w.Write([]byte(r.body))
}

func (r *recorder) received() []*http.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*http.Request(nil), r.requests...)
}

func createTestScenario(url string) *performance.Scenario {
	return &performance.Scenario{
		Name: "test-scenario",
		Requests: []*performance.RequestConfig{
			{Name: "invoke", Method: "GET", URL: url},
		},
	}
}

func createTestVU(scenario *performance.Scenario, metricsEngine *metrics.Engine) *performance.VirtualUser {
	client := &http.Client{Timeout: 5 * time.Second}
	return performance.NewVirtualUser(1, scenario, client, metricsEngine)
}

func TestNewVirtualUser(t *testing.T) {
	metricsEngine := metrics.NewEngine()
	defer metricsEngine.Stop()

	vu := createTestVU(createTestScenario("http://localhost"), metricsEngine)

	if vu.ID != 1 {
		t.Errorf("VU ID = %d, want 1", vu.ID)
	}
	if vu.GetState() != performance.VUStateIdle {
		t.Errorf("Initial VU state = %v, want %v", vu.GetState(), performance.VUStateIdle)
	}
	if vu.GetIteration() != 0 {
		t.Errorf("Initial iteration = %d, want 0", vu.GetIteration())
	}
}

func TestVUState_String(t *testing.T) {
	tests := []struct {
		state performance.VUState
		want  string
	}{
		{performance.VUStateIdle, "idle"},
		{performance.VUStateRunning, "running"},
		{performance.VUStateStopping, "stopping"},
		{performance.VUStateStopped, "stopped"},
		{performance.VUState(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("VUState(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestVirtualUser_RunIteration(t *testing.T) {
	rec := newRecorder(http.StatusOK, `{"status":"ok"}`)
	server := httptest.NewServer(rec)
	defer server.Close()

	metricsEngine := metrics.NewEngine()
	defer metricsEngine.Stop()

	vu := createTestVU(createTestScenario(server.URL), metricsEngine)

	for i := 0; i < 3; i++ {
		if err := vu.RunIteration(context.Background()); err != nil {
			t.Fatalf("RunIteration() error = %v", err)
		}
	}

	if vu.GetIteration() != 3 {
		t.Errorf("GetIteration() = %d, want 3", vu.GetIteration())
	}
	if vu.GetState() != performance.VUStateIdle {
		t.Errorf("state after iteration = %v, want idle", vu.GetState())
	}

	snapshot := metricsEngine.GetSnapshot()
	if snapshot.TotalRequests != 3 || snapshot.SuccessRequests != 3 {
		t.Errorf("requests = %d (success %d), want 3 (3)", snapshot.TotalRequests, snapshot.SuccessRequests)
	}
	if len(rec.received()) != 3 {
		t.Errorf("server saw %d requests, want 3", len(rec.received()))
	}
}

func TestVirtualUser_BuiltinVariables(t *testing.T) {
	rec := newRecorder(http.StatusAccepted, "")
	server := httptest.NewServer(rec)
	defer server.Close()

	metricsEngine := metrics.NewEngine()
	defer metricsEngine.Stop()

	scenario := &performance.Scenario{
		Name: "constant_007",
		Tags: map[string]string{"id": "7"},
		Requests: []*performance.RequestConfig{{
			Name:   "invoke",
			Method: "GET",
			URL: server.URL + "?vu={{__VU}}&iter={{__ITER}}&scenario={{__SCENARIO}}" +
				"&siter={{__SCENARIO_ITER}}&seq={{ __SEQ }}&id={{id}}&keep={{unknown}}",
		}},
	}
	vu := createTestVU(scenario, metricsEngine)

	for i := 0; i < 2; i++ {
		if err := vu.RunIteration(context.Background()); err != nil {
			t.Fatal(err)
		}
	}

	reqs := rec.received()
	if len(reqs) != 2 {
		t.Fatalf("server saw %d requests, want 2", len(reqs))
	}

	q := reqs[1].URL.Query()
	want := map[string]string{
		"vu":       "1",
		"iter":     "1",
		"scenario": "constant_007",
		"siter":    "1",
		"seq":      "1",
		"id":       "7",
		"keep":     "{{unknown}}",
	}
	for k, v := range want {
		if got := q.Get(k); got != v {
			t.Errorf("query %s = %q, want %q", k, got, v)
		}
	}

	// 202 is a success, the endpoint acknowledges asynchronous invocations
	if s := metricsEngine.GetSnapshot(); s.SuccessRequests != 2 {
		t.Errorf("SuccessRequests = %d, want 2", s.SuccessRequests)
	}
}

func TestVirtualUser_Headers(t *testing.T) {
	rec := newRecorder(http.StatusOK, "")
	server := httptest.NewServer(rec)
	defer server.Close()

	metricsEngine := metrics.NewEngine()
	defer metricsEngine.Stop()

	scenario := createTestScenario(server.URL)
	scenario.Headers = map[string]string{performance.HeaderRunID: "run-1"}
	scenario.Requests[0].Headers = map[string]string{"X-Iteration": "{{__ITER}}"}

	vu := createTestVU(scenario, metricsEngine)
	if err := vu.RunIteration(context.Background()); err != nil {
		t.Fatal(err)
	}

	req := rec.received()[0]
	if got := req.Header.Get(performance.HeaderRunID); got != "run-1" {
		t.Errorf("%s = %q, want run-1", performance.HeaderRunID, got)
	}
	if got := req.Header.Get("X-Iteration"); got != "0" {
		t.Errorf("X-Iteration = %q, want 0", got)
	}
}

func TestVirtualUser_NonSuccessRecordedAsFailure(t *testing.T) {
	server := httptest.NewServer(newRecorder(http.StatusServiceUnavailable, "busy"))
	defer server.Close()

	metricsEngine := metrics.NewEngine()
	defer metricsEngine.Stop()

	vu := createTestVU(createTestScenario(server.URL), metricsEngine)
	if err := vu.RunIteration(context.Background()); err != nil {
		t.Fatalf("RunIteration() error = %v, failures are recorded not returned", err)
	}

	snapshot := metricsEngine.GetSnapshot()
	if snapshot.FailedRequests != 1 {
		t.Errorf("FailedRequests = %d, want 1", snapshot.FailedRequests)
	}
	if snapshot.StatusCodes[http.StatusServiceUnavailable] != 1 {
		t.Errorf("StatusCodes = %v, want 503:1", snapshot.StatusCodes)
	}
}

func TestVirtualUser_TransportErrorRecorded(t *testing.T) {
	server := httptest.NewServer(newRecorder(http.StatusOK, ""))
	url := server.URL
	server.Close()

	metricsEngine := metrics.NewEngine()
	defer metricsEngine.Stop()

	vu := createTestVU(createTestScenario(url), metricsEngine)
	if err := vu.RunIteration(context.Background()); err != nil {
		t.Fatalf("RunIteration() error = %v", err)
	}

	snapshot := metricsEngine.GetSnapshot()
	if snapshot.FailedRequests != 1 || snapshot.StatusCodes[0] != 1 {
		t.Errorf("transport failure not recorded: failed=%d codes=%v", snapshot.FailedRequests, snapshot.StatusCodes)
	}
}

func TestVirtualUser_Extract(t *testing.T) {
	rec := newRecorder(http.StatusOK, `{"instance":{"id":"i-42"}}`)
	rec.headers = map[string]string{"X-Trigger": "queue"}
	server := httptest.NewServer(rec)
	defer server.Close()

	metricsEngine := metrics.NewEngine()
	defer metricsEngine.Stop()

	scenario := &performance.Scenario{
		Name: "extract",
		Requests: []*performance.RequestConfig{
			{
				Name: "first",
				URL:  server.URL,
				Extract: []performance.ExtractConfig{
					{Name: "instance", Source: "body", Path: "$.instance.id"},
					{Name: "trigger", Source: "header", Path: "X-Trigger"},
					{Name: "code", Source: "status"},
					{Name: "missing", Source: "body", Path: "$.nope"},
				},
			},
			{Name: "second", URL: server.URL + "?instance={{instance}}&trigger={{trigger}}&code={{code}}"},
		},
	}

	vu := createTestVU(scenario, metricsEngine)
	if err := vu.RunIteration(context.Background()); err != nil {
		t.Fatal(err)
	}

	if v, ok := vu.GetData("instance"); !ok || v != "i-42" {
		t.Errorf("instance = %q, %v", v, ok)
	}
	if _, ok := vu.GetData("missing"); ok {
		t.Error("failed extraction should not set a value")
	}

	q := rec.received()[1].URL.Query()
	if q.Get("instance") != "i-42" || q.Get("trigger") != "queue" || q.Get("code") != "200" {
		t.Errorf("second request query = %v", q)
	}
}

func TestVirtualUser_RequestStop(t *testing.T) {
	metricsEngine := metrics.NewEngine()
	defer metricsEngine.Stop()

	vu := createTestVU(createTestScenario("http://localhost"), metricsEngine)
	vu.RequestStop()
	vu.RequestStop()

	if vu.GetState() != performance.VUStateStopping {
		t.Errorf("state = %v, want stopping", vu.GetState())
	}
	if err := vu.RunIteration(context.Background()); err == nil {
		t.Error("RunIteration() on a stopping VU should fail")
	}

	vu.MarkStopped()
	if !vu.WaitForStop(10 * time.Millisecond) {
		t.Error("WaitForStop() should return true after MarkStopped()")
	}
}

func TestVirtualUser_ContextCancelled(t *testing.T) {
	metricsEngine := metrics.NewEngine()
	defer metricsEngine.Stop()

	vu := createTestVU(createTestScenario("http://localhost"), metricsEngine)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := vu.RunIteration(ctx); err != context.Canceled {
		t.Errorf("RunIteration() error = %v, want context.Canceled", err)
	}
	if metricsEngine.GetSnapshot().TotalRequests != 0 {
		t.Error("no request should be sent after cancellation")
	}
}

func TestResolve(t *testing.T) {
	vars := map[string]string{"id": "3", "baseUrl": "http://fn"}
	lookup := func(name string) (string, bool) {
		v, ok := vars[name]
		return v, ok
	}

	tests := []struct {
		in   string
		want string
	}{
		{"plain", "plain"},
		{"{{baseUrl}}?id={{id}}", "http://fn?id=3"},
		{"{{ id }}", "3"},
		{"{{missing}}-{{id}}", "{{missing}}-3"},
		{"open {{id", "open {{id"},
	}

	for _, tt := range tests {
		if got := performance.Resolve(tt.in, lookup); got != tt.want {
			t.Errorf("Resolve(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSequence(t *testing.T) {
	seq := performance.NewSequence()

	var wg sync.WaitGroup
	seen := make([]bool, 100)
	var mu sync.Mutex
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n := seq.Next()
			mu.Lock()
			seen[n] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	for i, ok := range seen {
		if !ok {
			t.Errorf("value %d never handed out", i)
		}
	}
	if seq.Count() != 100 {
		t.Errorf("Count() = %d, want 100", seq.Count())
	}
}

func TestVirtualUser_QueryMergedIntoURL(t *testing.T) {
	tests := []struct {
		name     string
		base     string
		wantCode string
	}{
		{"plain url", "/api/bench", ""},
		{"url with query", "/api/bench?code=KEY", "KEY"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := newRecorder(http.StatusOK, "")
			server := httptest.NewServer(rec)
			defer server.Close()

			metricsEngine := metrics.NewEngine()
			defer metricsEngine.Stop()

			scenario := &performance.Scenario{
				Name:      "burst_000",
				Variables: map[string]string{"baseUrl": server.URL + tt.base},
				Requests: []*performance.RequestConfig{{
					Name:  "invoke",
					URL:   "{{baseUrl}}",
					Query: map[string]string{"invokeMode": "burst", "id": "{{__SEQ}}"},
				}},
			}
			vu := createTestVU(scenario, metricsEngine)
			if err := vu.RunIteration(context.Background()); err != nil {
				t.Fatal(err)
			}

			reqs := rec.received()
			if len(reqs) != 1 {
				t.Fatalf("server saw %d requests, want 1", len(reqs))
			}
			u := reqs[0].URL
			if u.Path != "/api/bench" {
				t.Errorf("path = %q, want /api/bench", u.Path)
			}
			q := u.Query()
			if q.Get("invokeMode") != "burst" || q.Get("id") != "0" || q.Get("code") != tt.wantCode {
				t.Errorf("unexpected query %q", u.RawQuery)
			}
		})
	}
}

func TestVirtualUser_InvalidResolvedURL(t *testing.T) {
	metricsEngine := metrics.NewEngine()
	defer metricsEngine.Stop()

	scenario := &performance.Scenario{
		Name: "broken",
		Requests: []*performance.RequestConfig{{
			Name:  "invoke",
			URL:   "http://[::1",
			Query: map[string]string{"id": "1"},
		}},
	}
	vu := createTestVU(scenario, metricsEngine)
	_ = vu.RunIteration(context.Background())

	if s := metricsEngine.GetSnapshot(); s.FailedRequests != 1 {
		t.Errorf("FailedRequests = %d, want the unbuildable request recorded as failed", s.FailedRequests)
	}
}
