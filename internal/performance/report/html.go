// Package report renders a finished benchmark run as a self-contained HTML
// page with latency and throughput charts.
package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/wesleyorama2/azbench/internal/performance/engine"
	"github.com/wesleyorama2/azbench/internal/performance/metrics"
)

// ReportData contains all data needed to render the HTML report.
type ReportData struct {
	*engine.TestResult
	TimeSeriesJSON template.JS
	Schedule       []ScenarioRow
	StatusCodes    []StatusRow
}

// ScenarioRow is one scenario of the schedule, in start order.
type ScenarioRow struct {
	Name string
	*engine.ScenarioResult
}

// StatusRow is the response count of one HTTP status.
type StatusRow struct {
	Code  int
	Count int64
}

// chartPoint is one time-series bucket as the charts consume it.
// Latencies are in milliseconds.
type chartPoint struct {
	Second     float64 `json:"t"`
	RPS        float64 `json:"rps"`
	Requests   int64   `json:"requests"`
	P50        float64 `json:"p50"`
	P95        float64 `json:"p95"`
	P99        float64 `json:"p99"`
	Max        float64 `json:"max"`
	ActiveVUs  int     `json:"vus"`
	ErrorRate  float64 `json:"errorRate"`
	CumFailure int64   `json:"failures"`
}

// GenerateHTML generates an HTML report and writes it to path.
func GenerateHTML(result *engine.TestResult, path string) error {
	html, err := GenerateHTMLString(result)
	if err != nil {
		return fmt.Errorf("failed to generate HTML: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create report directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(html), 0o644); err != nil {
		return fmt.Errorf("failed to write HTML file: %w", err)
	}
	return nil
}

// GenerateHTMLString renders the HTML report.
func GenerateHTMLString(result *engine.TestResult) (string, error) {
	if result == nil {
		return "", fmt.Errorf("result cannot be nil")
	}

	tmpl, err := template.New("report").Funcs(templateFuncs()).Parse(htmlTemplate)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}

	series, err := timeSeriesJSON(result.StartTime, result.TimeSeries)
	if err != nil {
		return "", fmt.Errorf("failed to convert time series: %w", err)
	}

	data := ReportData{
		TestResult:     result,
		TimeSeriesJSON: template.JS(series),
		Schedule:       scheduleRows(result.Scenarios),
		StatusCodes:    statusRows(result.Metrics),
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}
	return buf.String(), nil
}

// timeSeriesJSON converts the buckets to chart points, timed in seconds
// since the start of the run.
func timeSeriesJSON(start time.Time, buckets []*metrics.TimeBucket) (string, error) {
	points := make([]chartPoint, 0, len(buckets))
	for _, b := range buckets {
		points = append(points, chartPoint{
			Second:     b.Timestamp.Sub(start).Round(100 * time.Millisecond).Seconds(),
			RPS:        b.IntervalRPS,
			Requests:   b.IntervalRequests,
			P50:        ms(b.LatencyP50),
			P95:        ms(b.LatencyP95),
			P99:        ms(b.LatencyP99),
			Max:        ms(b.LatencyMax),
			ActiveVUs:  b.ActiveVUs,
			ErrorRate:  b.IntervalErrorRate * 100,
			CumFailure: b.TotalFailures,
		})
	}

	data, err := json.Marshal(points)
	if err != nil {
		return "[]", err
	}
	return string(data), nil
}

func ms(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

// scheduleRows orders scenarios by start offset, then name.
func scheduleRows(scenarios map[string]*engine.ScenarioResult) []ScenarioRow {
	rows := make([]ScenarioRow, 0, len(scenarios))
	for name, s := range scenarios {
		rows = append(rows, ScenarioRow{Name: name, ScenarioResult: s})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].StartOffset != rows[j].StartOffset {
			return rows[i].StartOffset < rows[j].StartOffset
		}
		return rows[i].Name < rows[j].Name
	})
	return rows
}

func statusRows(m *metrics.Snapshot) []StatusRow {
	if m == nil {
		return nil
	}
	rows := make([]StatusRow, 0, len(m.StatusCodes))
	for code, count := range m.StatusCodes {
		rows = append(rows, StatusRow{Code: code, Count: count})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Code < rows[j].Code })
	return rows
}

func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"formatDuration": formatDuration,
		"formatNumber":   formatNumber,
		"formatLatency":  formatLatency,
		"percent":        percent,
		"successRate":    successRate,
		"statusLabel":    statusLabel,
		"statusClass":    statusClass,
	}
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	default:
		return d.Round(time.Second).String()
	}
}

func formatNumber(n int64) string {
	if n < 0 {
		return "-" + formatNumber(-n)
	}
	s := strconv.FormatInt(n, 10)
	if len(s) <= 3 {
		return s
	}

	var b bytes.Buffer
	lead := len(s) % 3
	if lead > 0 {
		b.WriteString(s[:lead])
	}
	for i := lead; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

func formatLatency(d time.Duration) string {
	switch {
	case d == 0:
		return "0"
	case d < time.Millisecond:
		return fmt.Sprintf("%dµs", d.Microseconds())
	case d < 10*time.Millisecond:
		return fmt.Sprintf("%.2fms", ms(d))
	case d < time.Second:
		return fmt.Sprintf("%.1fms", ms(d))
	default:
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
}

// percent formats a 0..1 ratio.
func percent(ratio float64) string {
	return fmt.Sprintf("%.2f%%", ratio*100)
}

func successRate(m *metrics.Snapshot) string {
	if m == nil || m.TotalRequests == 0 {
		return "0.00%"
	}
	return percent(float64(m.SuccessRequests) / float64(m.TotalRequests))
}

func statusLabel(code int) string {
	if code == 0 {
		return "error"
	}
	return strconv.Itoa(code)
}

func statusClass(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "ok"
	case code >= 400 && code < 500:
		return "warn"
	default:
		return "fail"
	}
}
