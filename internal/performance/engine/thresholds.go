package engine

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/wesleyorama2/azbench/internal/performance/config"
	"github.com/wesleyorama2/azbench/internal/performance/metrics"
)

// Threshold metric names.
const (
	MetricHTTPReqDuration = "http_req_duration"
	MetricHTTPReqFailed   = "http_req_failed"
	MetricHTTPReqs        = "http_reqs"
)

// ThresholdResult contains the result of a threshold evaluation.
type ThresholdResult struct {
	Metric     string `json:"metric"`
	Expression string `json:"expression"`
	Passed     bool   `json:"passed"`
	Value      string `json:"value"`
	Message    string `json:"message,omitempty"`
}

// statistic is one value a threshold can be placed on.
type statistic struct {
	label    string
	value    func(*metrics.Snapshot) float64
	duration bool // value is in nanoseconds, limits are durations
	decimals int
}

func latencyStat(label string, pick func(metrics.LatencyStats) time.Duration) statistic {
	return statistic{
		label:    label,
		value:    func(s *metrics.Snapshot) float64 { return float64(pick(s.Latency)) },
		duration: true,
	}
}

var thresholdStats = map[string]map[string]statistic{
	MetricHTTPReqDuration: {
		"min": latencyStat("min", func(l metrics.LatencyStats) time.Duration { return l.Min }),
		"max": latencyStat("max", func(l metrics.LatencyStats) time.Duration { return l.Max }),
		"avg": latencyStat("avg", func(l metrics.LatencyStats) time.Duration { return l.Mean }),
		"med": latencyStat("med", func(l metrics.LatencyStats) time.Duration { return l.P50 }),
		"p50": latencyStat("p50", func(l metrics.LatencyStats) time.Duration { return l.P50 }),
		"p90": latencyStat("p90", func(l metrics.LatencyStats) time.Duration { return l.P90 }),
		"p95": latencyStat("p95", func(l metrics.LatencyStats) time.Duration { return l.P95 }),
		"p99": latencyStat("p99", func(l metrics.LatencyStats) time.Duration { return l.P99 }),
	},
	MetricHTTPReqFailed: {
		"rate": {label: "error rate", value: func(s *metrics.Snapshot) float64 { return s.ErrorRate }, decimals: 4},
	},
	MetricHTTPReqs: {
		"count": {label: "count", value: func(s *metrics.Snapshot) float64 { return float64(s.TotalRequests) }, decimals: 0},
		"rate":  {label: "rate", value: func(s *metrics.Snapshot) float64 { return s.RPS }, decimals: 2},
	},
}

func (s statistic) format(v float64) string {
	if s.duration {
		return time.Duration(v).String()
	}
	return strconv.FormatFloat(v, 'f', s.decimals, 64)
}

func (s statistic) parseLimit(raw string) (float64, error) {
	if s.duration {
		d, err := config.ParseDurationString(raw)
		return float64(d), err
	}
	return strconv.ParseFloat(raw, 64)
}

// evaluateThresholds checks all configured thresholds against snapshot.
func (e *Engine) evaluateThresholds(snapshot *metrics.Snapshot) []ThresholdResult {
	return EvaluateThresholds(e.config.Thresholds, snapshot)
}

// EvaluateThresholds checks thresholds against a metrics snapshot. An
// expression that cannot be evaluated counts as failed.
func EvaluateThresholds(thresholds *config.ThresholdsConfig, snapshot *metrics.Snapshot) []ThresholdResult {
	if thresholds == nil || snapshot == nil {
		return nil
	}

	var results []ThresholdResult
	for _, group := range []struct {
		metric string
		exprs  []string
	}{
		{MetricHTTPReqDuration, thresholds.HTTPReqDuration},
		{MetricHTTPReqFailed, thresholds.HTTPReqFailed},
		{MetricHTTPReqs, thresholds.HTTPReqs},
	} {
		for _, expr := range group.exprs {
			results = append(results, evaluateThreshold(group.metric, expr, snapshot))
		}
	}
	return results
}

// evaluateThreshold evaluates one expression such as "p95 < 500ms" on
// metric.
func evaluateThreshold(metric, expr string, snapshot *metrics.Snapshot) ThresholdResult {
	result := ThresholdResult{Metric: metric, Expression: expr}

	name, op, raw, err := config.ParseThresholdExpression(expr)
	if err != nil {
		result.Message = fmt.Sprintf("failed to parse expression: %v", err)
		return result
	}

	stat, ok := thresholdStats[metric][name]
	if !ok {
		result.Message = fmt.Sprintf("%s does not support %q (supported: %s)", metric, name, supportedStats(metric))
		return result
	}

	limit, err := stat.parseLimit(raw)
	if err != nil {
		result.Message = fmt.Sprintf("failed to parse threshold value: %v", err)
		return result
	}

	actual := stat.value(snapshot)
	result.Value = stat.format(actual)
	result.Passed = compareValues(actual, op, limit)
	if !result.Passed {
		result.Message = fmt.Sprintf("%s is %s, threshold: %s %s", stat.label, result.Value, op, stat.format(limit))
	}
	return result
}

func supportedStats(metric string) string {
	names := make([]string, 0, len(thresholdStats[metric]))
	for name := range thresholdStats[metric] {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

// compareValues compares two values using the given operator.
func compareValues(actual float64, op string, threshold float64) bool {
	switch op {
	case "<":
		return actual < threshold
	case "<=":
		return actual <= threshold
	case ">":
		return actual > threshold
	case ">=":
		return actual >= threshold
	case "==":
		return actual == threshold
	case "!=":
		return actual != threshold
	default:
		return false
	}
}
