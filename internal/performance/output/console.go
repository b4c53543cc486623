// Package output renders benchmark runs: a live console display while the
// schedule executes, and the final summary as text or JSON.
package output

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/wesleyorama2/azbench/internal/performance/engine"
	"github.com/wesleyorama2/azbench/internal/performance/metrics"
)

// Cursor control sequences for the live display.
const (
	cursorUp  = "\033[%dA"
	clearLine = "\033[2K"
)

const (
	boxHorizontal  = "━"
	boxVertical    = "│"
	boxTopLeft     = "┌"
	boxTopRight    = "┐"
	boxBottomLeft  = "└"
	boxBottomRight = "┘"

	progressFilled = "█"
	progressEmpty  = "░"

	ruleWidth = 56
)

// LiveStats contains real-time statistics for display.
type LiveStats struct {
	Progress  float64 // 0.0 to 1.0
	Elapsed   time.Duration
	Remaining time.Duration

	ActiveVUs int
	MaxVUs    int

	CurrentRPS    float64
	TotalRequests int64
	Errors        int64
	ErrorRate     float64

	LatencyP95 time.Duration
	LatencyAvg time.Duration

	Phase            string
	ScenariosDone    int
	ScenariosRunning int
	ScenariosTotal   int

	// Dropped counts iterations skipped because every VU was busy.
	Dropped int64
}

// ConsoleOutput manages live console output during a run.
type ConsoleOutput struct {
	title         string
	runID         string
	mode          string
	scenarios     int
	totalDuration time.Duration
	writer        io.Writer
	isTTY         bool
	colors        *ColorScheme
	quiet         bool

	mu          sync.Mutex
	linesOutput int
}

// ConsoleOutputConfig contains configuration for ConsoleOutput.
type ConsoleOutputConfig struct {
	Title         string
	RunID         string
	Mode          string
	Scenarios     int
	TotalDuration time.Duration
	Writer        io.Writer
	Quiet         bool
	NoColor       bool
	ForceColors   bool
	ForceTTY      bool
}

// NewConsoleOutput creates a new console output handler.
func NewConsoleOutput(config ConsoleOutputConfig) *ConsoleOutput {
	if config.Writer == nil {
		config.Writer = os.Stdout
	}

	isTTY := config.ForceTTY || isTerminal(config.Writer)

	var colors *ColorScheme
	switch {
	case config.NoColor:
		colors = NoColorScheme()
	case config.ForceColors, isTTY && supportsColors():
		colors = ForcedColorScheme()
	default:
		colors = NoColorScheme()
	}

	return &ConsoleOutput{
		title:         config.Title,
		runID:         config.RunID,
		mode:          config.Mode,
		scenarios:     config.Scenarios,
		totalDuration: config.TotalDuration,
		writer:        config.Writer,
		isTTY:         isTTY,
		colors:        colors,
		quiet:         config.Quiet,
	}
}

// IsTTY returns whether the output is a terminal.
func (c *ConsoleOutput) IsTTY() bool {
	return c.isTTY
}

// PrintHeader prints the run header.
func (c *ConsoleOutput) PrintHeader() {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	line := c.colors.Rule.Sprint(strings.Repeat(boxHorizontal, ruleWidth))
	title := c.title
	if c.mode != "" {
		title = fmt.Sprintf("%s [%s]", title, c.mode)
	}

	c.writeln(line)
	c.writeln(c.colors.Title.Sprintf("%s - Running", title))
	c.writeln(line)
	if c.runID != "" {
		c.writeln(fmt.Sprintf("Run ID:      %s", c.colors.Value.Sprint(c.runID)))
	}
	c.writeln(fmt.Sprintf("Scenarios:   %s", c.colors.Value.Sprint(formatNumber(int64(c.scenarios)))))
	if c.totalDuration > 0 {
		c.writeln(fmt.Sprintf("Schedule:    %s", c.colors.Value.Sprint(formatDuration(c.totalDuration))))
	}
	c.writeln("")
}

// Update redraws the live display. It does nothing when the output is
// not a terminal.
func (c *ConsoleOutput) Update(stats *LiveStats) {
	if c.quiet || !c.isTTY {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.clearLive()

	lines := c.renderLiveStats(stats)
	c.linesOutput = len(lines)
	for _, line := range lines {
		c.writeln(line)
	}
}

// clearLive erases the previous live display. Callers hold c.mu.
func (c *ConsoleOutput) clearLive() {
	if c.linesOutput == 0 {
		return
	}
	c.write(fmt.Sprintf(cursorUp, c.linesOutput))
	for i := 0; i < c.linesOutput; i++ {
		c.write(clearLine + "\n")
	}
	c.write(fmt.Sprintf(cursorUp, c.linesOutput))
	c.linesOutput = 0
}

// renderLiveStats renders the live statistics display.
func (c *ConsoleOutput) renderLiveStats(stats *LiveStats) []string {
	var lines []string

	bar := renderProgressBar(stats.Progress, 40)
	timeInfo := fmt.Sprintf("%s / %s", formatDuration(stats.Elapsed), formatDuration(stats.Elapsed+stats.Remaining))
	lines = append(lines, fmt.Sprintf("Progress:  %s %s | %s",
		c.colors.Progress.Sprint(bar),
		c.colors.Label.Sprintf("%.0f%%", stats.Progress*100),
		c.colors.Dim.Sprint(timeInfo)))

	lines = append(lines, fmt.Sprintf("Scenarios: %s",
		c.colors.Phase.Sprintf("%d done, %d running, %d/%d total (%s)",
			stats.ScenariosDone, stats.ScenariosRunning, stats.ScenariosDone+stats.ScenariosRunning,
			stats.ScenariosTotal, stats.Phase))+c.droppedSuffix(stats.Dropped, ", "))
	lines = append(lines, "")

	boxWidth := 55
	lines = append(lines, c.colors.Dim.Sprint(boxTopLeft+strings.Repeat(boxHorizontal, boxWidth-2)+boxTopRight))

	vus := fmt.Sprintf("VUs:     %s / %d", c.colors.Value.Sprint(stats.ActiveVUs), stats.MaxVUs)
	reqs := fmt.Sprintf("Requests:    %s", c.colors.Value.Sprint(formatNumber(stats.TotalRequests)))
	lines = append(lines, c.formatBoxRow(vus, reqs, boxWidth))

	errColor := c.colors.rateColor(stats.ErrorRate)
	rps := fmt.Sprintf("RPS:     %s", c.colors.Progress.Sprintf("%.1f", stats.CurrentRPS))
	errs := fmt.Sprintf("Errors:      %s (%s)",
		errColor.Sprint(stats.Errors), errColor.Sprintf("%.1f%%", stats.ErrorRate*100))
	lines = append(lines, c.formatBoxRow(rps, errs, boxWidth))

	p95 := fmt.Sprintf("P95:     %s", c.colors.Latency.Sprint(formatDurationShort(stats.LatencyP95)))
	avg := fmt.Sprintf("Avg:         %s", c.colors.Latency.Sprint(formatDurationShort(stats.LatencyAvg)))
	lines = append(lines, c.formatBoxRow(p95, avg, boxWidth))

	lines = append(lines, c.colors.Dim.Sprint(boxBottomLeft+strings.Repeat(boxHorizontal, boxWidth-2)+boxBottomRight))
	return lines
}

// formatBoxRow formats a row inside the stats box with two columns.
func (c *ConsoleOutput) formatBoxRow(left, right string, boxWidth int) string {
	colWidth := (boxWidth - 4) / 2
	leftPadding := max(colWidth-visibleLen(left), 0)
	rightPadding := max(colWidth-visibleLen(right), 0)
	border := c.colors.Dim.Sprint(boxVertical)

	return fmt.Sprintf("%s %s%s%s %s%s %s",
		border, left, strings.Repeat(" ", leftPadding),
		border, right, strings.Repeat(" ", rightPadding),
		border)
}

// PrintNonInteractiveUpdate prints a one-line status, for output that is
// piped to a file or a CI log.
func (c *ConsoleOutput) PrintNonInteractiveUpdate(stats *LiveStats) {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.writeln(fmt.Sprintf("[%s] Progress: %.0f%% | Scenarios: %d/%d | VUs: %d | Reqs: %d | RPS: %.1f | Errors: %d (%.1f%%) | P95: %s",
		formatDuration(stats.Elapsed),
		stats.Progress*100,
		stats.ScenariosDone,
		stats.ScenariosTotal,
		stats.ActiveVUs,
		stats.TotalRequests,
		stats.CurrentRPS,
		stats.Errors,
		stats.ErrorRate*100,
		formatDurationShort(stats.LatencyP95)) + c.droppedSuffix(stats.Dropped, " | "))
}

// droppedSuffix reports dropped iterations, or nothing when none were.
func (c *ConsoleOutput) droppedSuffix(dropped int64, sep string) string {
	if dropped == 0 {
		return ""
	}
	return sep + c.colors.Warn.Sprintf("Dropped: %d", dropped)
}

// PrintSummary prints the final run summary.
func (c *ConsoleOutput) PrintSummary(result *engine.TestResult) {
	if c.quiet {
		if result.Passed {
			c.writeln(c.colors.Success.Sprint("PASSED"))
		} else {
			c.writeln(c.colors.Error.Sprint("FAILED"))
		}
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isTTY {
		c.clearLive()
	}

	line := c.colors.Rule.Sprint(strings.Repeat(boxHorizontal, ruleWidth))
	status := c.colors.Success.Sprint("Completed ✓")
	if !result.Passed {
		status = c.colors.Error.Sprint("Failed ✗")
	}

	c.writeln("")
	c.writeln(line)
	c.writeln(fmt.Sprintf("%s - %s", c.colors.Title.Sprint(result.Name), status))
	c.writeln(line)
	c.writeln("")

	c.writeln(fmt.Sprintf("Run ID:        %s", c.colors.Value.Sprint(result.RunID)))
	c.writeln(fmt.Sprintf("Duration:      %s", c.colors.Value.Sprint(formatDuration(result.Duration))))
	c.printScenarioSummary(result.Scenarios)

	if m := result.Metrics; m != nil {
		c.writeln(fmt.Sprintf("Total Reqs:    %s", c.colors.Value.Sprint(formatNumber(m.TotalRequests))))
		successRate := 1.0 - m.ErrorRate
		c.writeln(fmt.Sprintf("Success Rate:  %s", c.colors.rateColor(m.ErrorRate).Sprintf("%.1f%%", successRate*100)))
		c.writeln(fmt.Sprintf("Throughput:    %s", c.colors.Value.Sprintf("%.1f req/s", m.RPS)))
		c.writeln("")

		c.writeln(c.colors.Label.Sprint("Latency Distribution:"))
		for _, row := range []struct {
			label string
			value time.Duration
		}{
			{"Min", m.Latency.Min},
			{"P50", m.Latency.P50},
			{"P90", m.Latency.P90},
			{"P95", m.Latency.P95},
			{"P99", m.Latency.P99},
			{"Max", m.Latency.Max},
		} {
			c.writeln(fmt.Sprintf("  %-10s %s", row.label+":", formatDurationShort(row.value)))
		}
		c.writeln("")

		c.printStatusCodes(m)
	}

	if len(result.Thresholds) > 0 {
		c.writeln(c.colors.Label.Sprint("Thresholds:"))
		for _, t := range result.Thresholds {
			mark := c.colors.Success.Sprint("✓")
			if !t.Passed {
				mark = c.colors.Error.Sprint("✗")
			}
			c.writeln(fmt.Sprintf("  %s %s %s (actual: %s)", mark, t.Metric, t.Expression, t.Value))
		}
		c.writeln("")
	}

	if result.Error != "" {
		c.writeln(fmt.Sprintf("%s %s", c.colors.Error.Sprint("Error:"), result.Error))
		c.writeln("")
	}
}

func (c *ConsoleOutput) printScenarioSummary(scenarios map[string]*engine.ScenarioResult) {
	if len(scenarios) == 0 {
		return
	}

	var iterations, dropped int64
	var skipped, failed int
	for _, s := range scenarios {
		iterations += s.Iterations
		dropped += s.Dropped
		if s.Skipped {
			skipped++
		}
		if s.Error != "" {
			failed++
		}
	}

	c.writeln(fmt.Sprintf("Scenarios:     %s", c.colors.Value.Sprint(formatNumber(int64(len(scenarios))))))
	c.writeln(fmt.Sprintf("Iterations:    %s", c.colors.Value.Sprint(formatNumber(iterations))))
	if dropped > 0 {
		c.writeln(fmt.Sprintf("Dropped:       %s", c.colors.Warn.Sprint(formatNumber(dropped))))
	}
	if skipped > 0 {
		c.writeln(fmt.Sprintf("Skipped:       %s", c.colors.Warn.Sprint(skipped)))
	}
	if failed > 0 {
		c.writeln(fmt.Sprintf("Interrupted:   %s", c.colors.Error.Sprint(failed)))
	}
}

func (c *ConsoleOutput) printStatusCodes(m *metrics.Snapshot) {
	if len(m.StatusCodes) == 0 {
		return
	}

	codes := make([]int, 0, len(m.StatusCodes))
	for code := range m.StatusCodes {
		codes = append(codes, code)
	}
	sort.Ints(codes)

	c.writeln(c.colors.Label.Sprint("Status Codes:"))
	for _, code := range codes {
		label := fmt.Sprintf("%d", code)
		if code == 0 {
			label = "error"
		}
		c.writeln(fmt.Sprintf("  %-10s %s", label+":", c.statusColor(code).Sprint(formatNumber(m.StatusCodes[code]))))
	}
	c.writeln("")
}

func (c *ConsoleOutput) statusColor(code int) *color.Color {
	switch {
	case code >= 200 && code < 300:
		return c.colors.Success
	case code >= 300 && code < 500:
		return c.colors.Warn
	default:
		return c.colors.Error
	}
}

func (c *ConsoleOutput) write(s string) {
	fmt.Fprint(c.writer, s)
}

func (c *ConsoleOutput) writeln(s string) {
	fmt.Fprintln(c.writer, s)
}

// StatsFromProgress creates LiveStats from a metrics snapshot and the
// engine's progress.
func StatsFromProgress(snapshot *metrics.Snapshot, progress engine.Progress, maxVUs int) *LiveStats {
	stats := &LiveStats{
		Elapsed:          progress.Elapsed,
		MaxVUs:           maxVUs,
		ScenariosDone:    progress.Completed,
		ScenariosRunning: progress.Running,
		ScenariosTotal:   progress.Completed + progress.Running + progress.Pending,
		Dropped:          progress.Dropped,
		Phase:            "initializing",
	}

	// Wall-clock progress tracks a staggered schedule better than the
	// mean of per-scenario progress.
	if progress.EstimatedDuration > 0 {
		stats.Progress = min(float64(progress.Elapsed)/float64(progress.EstimatedDuration), 1)
		stats.Remaining = max(progress.EstimatedDuration-progress.Elapsed, 0)
	} else {
		stats.Progress = progress.Fraction
	}

	if snapshot == nil {
		return stats
	}

	stats.ActiveVUs = snapshot.ActiveVUs
	stats.CurrentRPS = snapshot.RPS
	stats.TotalRequests = snapshot.TotalRequests
	stats.Errors = snapshot.FailedRequests
	stats.ErrorRate = snapshot.ErrorRate
	stats.LatencyP95 = snapshot.Latency.P95
	stats.LatencyAvg = snapshot.Latency.Mean
	stats.Phase = string(snapshot.CurrentPhase)
	return stats
}

func renderProgressBar(progress float64, width int) string {
	progress = min(max(progress, 0), 1)
	filled := int(progress * float64(width))
	return "[" + strings.Repeat(progressFilled, filled) + strings.Repeat(progressEmpty, width-filled) + "]"
}

// formatDuration formats a duration in a human-readable format.
func formatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	case d < time.Hour:
		return fmt.Sprintf("%dm %02ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh %02dm %02ds", int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60)
	}
}

// formatDurationShort formats a latency value.
func formatDurationShort(d time.Duration) string {
	switch {
	case d < time.Microsecond:
		return "0ms"
	case d < time.Millisecond:
		return fmt.Sprintf("%dµs", d.Microseconds())
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.2fs", d.Seconds())
	default:
		return fmt.Sprintf("%.1fm", d.Minutes())
	}
}

// formatNumber formats a number with thousands separators.
func formatNumber(n int64) string {
	if n < 0 {
		return "-" + formatNumber(-n)
	}
	str := fmt.Sprintf("%d", n)
	if len(str) <= 3 {
		return str
	}

	var result strings.Builder
	offset := len(str) % 3
	if offset > 0 {
		result.WriteString(str[:offset])
	}
	for i := offset; i < len(str); i += 3 {
		if result.Len() > 0 {
			result.WriteString(",")
		}
		result.WriteString(str[i : i+3])
	}
	return result.String()
}

// visibleLen is the printed width of s, ignoring ANSI escapes.
func visibleLen(s string) int {
	n := 0
	inEscape := false
	for _, r := range s {
		if r == '\033' {
			inEscape = true
			continue
		}
		if inEscape {
			if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
				inEscape = false
			}
			continue
		}
		n++
	}
	return n
}
