// Package executor provides the load generation strategies scenarios run with.
package executor

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/wesleyorama2/azbench/internal/performance"
	"github.com/wesleyorama2/azbench/internal/performance/metrics"
)

// Type identifies the type of executor.
type Type string

const (
	// TypePerVUIterations runs a fixed number of iterations per VU.
	TypePerVUIterations Type = "per-vu-iterations"

	// TypeConstantArrivalRate starts iterations at a fixed rate.
	TypeConstantArrivalRate Type = "constant-arrival-rate"
)

// DefaultGracefulStop is how long in-flight iterations may finish after a
// scenario's time is up.
const DefaultGracefulStop = 30 * time.Second

// Executor defines the interface for load generation strategies.
//
// Executors control HOW load is generated: by running a fixed amount of
// work on a set of VUs, or by starting iterations at a fixed rate on a
// pool of VUs.
type Executor interface {
	// Type returns the executor type.
	Type() Type

	// Init initializes the executor with configuration.
	// Called once before Run().
	Init(ctx context.Context, config *Config) error

	// Run starts the executor and blocks until completion.
	// The executor should respect context cancellation for graceful shutdown.
	Run(ctx context.Context, scheduler *performance.VUScheduler, metrics *metrics.Engine) error

	// GetProgress returns current progress (0.0 to 1.0).
	GetProgress() float64

	// GetActiveVUs returns current active VU count.
	GetActiveVUs() int

	// GetStats returns executor-specific statistics.
	GetStats() *Stats

	// Stop gracefully stops the executor.
	Stop(ctx context.Context) error
}

// Config contains configuration for an executor.
type Config struct {
	// Name is the scenario this executor runs
	Name string `json:"name" yaml:"name"`

	// Type is the executor type
	Type Type `json:"type" yaml:"type"`

	// per-vu-iterations
	VUs         int           `json:"vus,omitempty" yaml:"vus,omitempty"`
	Iterations  int64         `json:"iterations,omitempty" yaml:"iterations,omitempty"`
	MaxDuration time.Duration `json:"maxDuration,omitempty" yaml:"maxDuration,omitempty"`

	// constant-arrival-rate
	Duration        time.Duration `json:"duration,omitempty" yaml:"duration,omitempty"`
	Rate            float64       `json:"rate,omitempty" yaml:"rate,omitempty"`
	TimeUnit        time.Duration `json:"timeUnit,omitempty" yaml:"timeUnit,omitempty"`
	PreAllocatedVUs int           `json:"preAllocatedVUs,omitempty" yaml:"preAllocatedVUs,omitempty"`
	MaxVUs          int           `json:"maxVUs,omitempty" yaml:"maxVUs,omitempty"`

	// StartTime is the scenario's offset from the start of the run
	StartTime time.Duration `json:"startTime,omitempty" yaml:"startTime,omitempty"`

	// GracefulStop bounds how long in-flight iterations may run on
	GracefulStop time.Duration `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`
}

// Stats contains real-time executor statistics.
type Stats struct {
	StartTime     time.Time     `json:"startTime"`
	CurrentTime   time.Time     `json:"currentTime"`
	Elapsed       time.Duration `json:"elapsed"`
	TotalDuration time.Duration `json:"totalDuration"`

	ActiveVUs int `json:"activeVUs"`
	TargetVUs int `json:"targetVUs"`

	// Iterations completed so far, and the total expected where known
	Iterations      int64 `json:"iterations"`
	TotalIterations int64 `json:"totalIterations"`

	// Iterations the arrival-rate executor could not start for lack of VUs
	DroppedIterations int64 `json:"droppedIterations,omitempty"`

	// Iterations per second (arrival-rate)
	TargetRate float64 `json:"targetRate,omitempty"`
}

// Validate validates the executor configuration.
func (c *Config) Validate() error {
	switch c.Type {
	case "":
		return &ValidationError{Field: "type", Message: "executor type is required"}

	case TypePerVUIterations:
		if c.VUs <= 0 {
			return &ValidationError{Field: "vus", Message: "vus must be > 0"}
		}
		if c.Iterations <= 0 {
			return &ValidationError{Field: "iterations", Message: "iterations must be > 0"}
		}

	case TypeConstantArrivalRate:
		if c.Rate <= 0 {
			return &ValidationError{Field: "rate", Message: "rate must be > 0"}
		}
		if c.Duration <= 0 {
			return &ValidationError{Field: "duration", Message: "duration must be > 0"}
		}
		if c.TimeUnit < 0 {
			return &ValidationError{Field: "timeUnit", Message: "timeUnit cannot be negative"}
		}

	default:
		return &ValidationError{Field: "type", Message: "unknown executor type: " + string(c.Type)}
	}

	if c.StartTime < 0 {
		return &ValidationError{Field: "startTime", Message: "startTime cannot be negative"}
	}
	return nil
}

// TotalDuration returns how long the executor runs, excluding its start
// offset. Iteration-based executors have no fixed duration and return 0.
func (c *Config) TotalDuration() time.Duration {
	if c.Type == TypeConstantArrivalRate {
		return c.Duration
	}
	return 0
}

// gracefulStop returns the configured graceful stop or the default.
func (c *Config) gracefulStop() time.Duration {
	if c.GracefulStop > 0 {
		return c.GracefulStop
	}
	return DefaultGracefulStop
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "validation error on field '" + e.Field + "': " + e.Message
}

// waitGraceful waits for wait to return. If it has not returned after
// grace, cancel is called to abort in-flight work and waiting continues.
// Returns true if everything finished within grace.
func waitGraceful(wait func(), grace time.Duration, cancel context.CancelFunc) bool {
	done := make(chan struct{})
	go func() {
		wait()
		close(done)
	}()

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-done:
		return true
	case <-timer.C:
		cancel()
		<-done
		return false
	}
}

// startClock records when an executor started running. Progress is read
// from other goroutines while Run is going.
type startClock struct {
	nanos atomic.Int64
}

func (c *startClock) start() time.Time {
	now := time.Now()
	c.nanos.Store(now.UnixNano())
	return now
}

// startedAt returns the start time, or the zero time before Run.
func (c *startClock) startedAt() time.Time {
	n := c.nanos.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// elapsed returns the time since the start, or zero before Run.
func (c *startClock) elapsed() time.Duration {
	n := c.nanos.Load()
	if n == 0 {
		return 0
	}
	return time.Duration(time.Now().UnixNano() - n)
}
