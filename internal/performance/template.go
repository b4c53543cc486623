package performance

import (
	"strings"
	"sync/atomic"
)

// Built-in template variables available to every request.
const (
	// VarVU is the 1-based ID of the VU within its scenario.
	VarVU = "__VU"

	// VarIter is the 0-based iteration index of the VU.
	VarIter = "__ITER"

	// VarScenario is the scenario name.
	VarScenario = "__SCENARIO"

	// VarScenarioIter is the 0-based iteration index across the scenario.
	VarScenarioIter = "__SCENARIO_ITER"

	// VarSeq is the 0-based dispatch counter shared by every scenario of a run.
	VarSeq = "__SEQ"
)

// HeaderRunID carries the run ID on every request so server-side telemetry
// can be joined with a run.
const HeaderRunID = "X-Benchmark-Run-Id"

// Sequence is a monotonically increasing counter starting at zero.
type Sequence struct {
	n atomic.Int64
}

// NewSequence creates a counter whose first value is 0.
func NewSequence() *Sequence {
	return &Sequence{}
}

// Next returns the current value and advances the counter.
func (s *Sequence) Next() int64 {
	return s.n.Add(1) - 1
}

// Count returns how many values have been handed out.
func (s *Sequence) Count() int64 {
	return s.n.Load()
}

// Resolve replaces {{name}} placeholders in input using lookup. Surrounding
// whitespace inside the braces is ignored. Placeholders lookup cannot
// resolve are left untouched.
func Resolve(input string, lookup func(name string) (string, bool)) string {
	if !strings.Contains(input, "{{") {
		return input
	}

	var sb strings.Builder
	rest := input
	for {
		start := strings.Index(rest, "{{")
		if start < 0 {
			sb.WriteString(rest)
			return sb.String()
		}
		end := strings.Index(rest[start+2:], "}}")
		if end < 0 {
			sb.WriteString(rest)
			return sb.String()
		}
		end += start + 2

		sb.WriteString(rest[:start])
		name := strings.TrimSpace(rest[start+2 : end])
		if value, ok := lookup(name); ok {
			sb.WriteString(value)
		} else {
			sb.WriteString(rest[start : end+2])
		}
		rest = rest[end+2:]
	}
}
