package executor_test

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"time"

	"github.com/wesleyorama2/azbench/internal/performance"
	"github.com/wesleyorama2/azbench/internal/performance/metrics"
)

// countingServer counts requests and answers each after delay.
type countingServer struct {
	*httptest.Server
	hits atomic.Int64
}

func newCountingServer(status int, delay time.Duration) *countingServer {
	cs := &countingServer{}
	cs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cs.hits.Add(1)
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
			}
		}
		w.WriteHeader(status)
	}))
	return cs
}

func newScheduler(url string, m *metrics.Engine) *performance.VUScheduler {
	scenario := &performance.Scenario{
		Name: "executor-test",
		Requests: []*performance.RequestConfig{
			{Name: "invoke", Method: "GET", URL: url},
		},
	}
	return performance.NewVUScheduler(scenario, m, performance.DefaultHTTPClientConfig())
}
