// Package history keeps a record of every benchmark run in a local bbolt
// database so runs can be listed and compared later.
package history

import (
	"net/url"
	"time"

	"github.com/wesleyorama2/azbench/internal/performance/engine"
)

// RunRecord is the stored summary of one run.
type RunRecord struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Mode      string        `json:"mode,omitempty"`
	Input     int           `json:"input,omitempty"`
	URL       string        `json:"url,omitempty"`
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"duration"`

	Summary RunSummary `json:"summary"`

	Passed bool   `json:"passed"`
	Error  string `json:"error,omitempty"`
}

// RunSummary holds the headline numbers of a run.
type RunSummary struct {
	Scenarios  int     `json:"scenarios"`
	Iterations int64   `json:"iterations"`
	Dropped    int64   `json:"dropped,omitempty"`
	Requests   int64   `json:"requests"`
	Succeeded  int64   `json:"succeeded"`
	Failed     int64   `json:"failed"`
	ErrorRate  float64 `json:"errorRate"`
	RPS        float64 `json:"rps"`

	LatencyMean time.Duration `json:"latencyMean"`
	LatencyP50  time.Duration `json:"latencyP50"`
	LatencyP90  time.Duration `json:"latencyP90"`
	LatencyP95  time.Duration `json:"latencyP95"`
	LatencyP99  time.Duration `json:"latencyP99"`
	LatencyMax  time.Duration `json:"latencyMax"`
}

// NewRecord summarizes result. The URL is stored without its query, which
// may carry a function key.
func NewRecord(result *engine.TestResult, mode string, input int, rawURL string) RunRecord {
	rec := RunRecord{
		ID:        result.RunID,
		Name:      result.Name,
		Mode:      mode,
		Input:     input,
		URL:       redactURL(rawURL),
		StartedAt: result.StartTime,
		Duration:  result.Duration,
		Passed:    result.Passed,
		Error:     result.Error,
	}

	rec.Summary.Scenarios = len(result.Scenarios)
	for _, s := range result.Scenarios {
		rec.Summary.Iterations += s.Iterations
		rec.Summary.Dropped += s.Dropped
	}

	if m := result.Metrics; m != nil {
		rec.Summary.Requests = m.TotalRequests
		rec.Summary.Succeeded = m.SuccessRequests
		rec.Summary.Failed = m.FailedRequests
		rec.Summary.ErrorRate = m.ErrorRate
		rec.Summary.RPS = m.RPS
		rec.Summary.LatencyMean = m.Latency.Mean
		rec.Summary.LatencyP50 = m.Latency.P50
		rec.Summary.LatencyP90 = m.Latency.P90
		rec.Summary.LatencyP95 = m.Latency.P95
		rec.Summary.LatencyP99 = m.Latency.P99
		rec.Summary.LatencyMax = m.Latency.Max
	}

	return rec
}

func redactURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	u.RawQuery = ""
	u.Fragment = ""
	u.User = nil
	return u.String()
}
