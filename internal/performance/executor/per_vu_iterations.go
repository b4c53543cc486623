package executor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wesleyorama2/azbench/internal/performance"
	"github.com/wesleyorama2/azbench/internal/performance/metrics"
)

// PerVUIterations runs a fixed number of iterations on each of a fixed
// number of VUs (closed model).
//
// All VUs start together, which makes this executor the building block of
// bursts: VUs=N with Iterations=1 fires N concurrent requests at once.
// The scenario ends when every VU has finished or MaxDuration expires.
//
// Example:
//
//	config:
//	  type: per-vu-iterations
//	  vus: 100          # 100 concurrent VUs
//	  iterations: 1     # one iteration each
//	  maxDuration: 10m  # hard upper bound
type PerVUIterations struct {
	config    *Config
	scheduler *performance.VUScheduler

	clock      startClock
	iterations atomic.Int64
	activeVUs  atomic.Int32
	running    atomic.Bool
	finished   atomic.Bool

	cancelMu   sync.Mutex
	cancelFunc context.CancelFunc
}

// NewPerVUIterations creates a new per-VU iterations executor.
func NewPerVUIterations() *PerVUIterations {
	return &PerVUIterations{}
}

// Type returns the executor type.
func (e *PerVUIterations) Type() Type {
	return TypePerVUIterations
}

// Init initializes the executor with configuration.
func (e *PerVUIterations) Init(ctx context.Context, config *Config) error {
	if config.Type != TypePerVUIterations {
		return fmt.Errorf("invalid config type: expected %s, got %s", TypePerVUIterations, config.Type)
	}

	if err := config.Validate(); err != nil {
		return err
	}

	if config.MaxDuration <= 0 {
		config.MaxDuration = 10 * time.Minute
	}

	e.config = config
	return nil
}

// Run spawns every VU, runs their iterations and blocks until all are done,
// MaxDuration expires, or ctx is cancelled.
func (e *PerVUIterations) Run(ctx context.Context, scheduler *performance.VUScheduler, metricsEngine *metrics.Engine) error {
	e.scheduler = scheduler
	e.clock.start()
	e.running.Store(true)
	defer func() {
		e.running.Store(false)
		e.finished.Store(true)
	}()

	// iterCtx aborts in-flight requests, it is only cancelled once the
	// graceful stop period after MaxDuration has passed
	iterCtx, iterCancel := context.WithCancel(ctx)
	defer iterCancel()

	runCtx, cancel := context.WithTimeout(ctx, e.config.MaxDuration)
	defer cancel()
	e.cancelMu.Lock()
	e.cancelFunc = cancel
	e.cancelMu.Unlock()

	log.Debug().Str("scenario", e.config.Name).Int("vus", e.config.VUs).
		Int64("iterations", e.config.Iterations).Msg("per-vu-iterations started")

	var wg sync.WaitGroup
	vus := make([]*performance.VirtualUser, 0, e.config.VUs)
	for i := 0; i < e.config.VUs; i++ {
		vus = append(vus, scheduler.SpawnVU())
	}

	for _, vu := range vus {
		wg.Add(1)
		e.activeVUs.Add(1)
		go func(vu *performance.VirtualUser) {
			defer wg.Done()
			defer e.activeVUs.Add(-1)
			n := scheduler.RunIterations(iterCtx, vu, e.config.Iterations)
			e.iterations.Add(n)
		}(vu)
	}

	allDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(allDone)
	}()

	select {
	case <-allDone:
	case <-runCtx.Done():
		// no new iterations; in-flight ones get the graceful stop period
		scheduler.StopAllVUs()
		if !waitGraceful(wg.Wait, e.config.gracefulStop(), iterCancel) {
			log.Warn().Str("scenario", e.config.Name).Msg("iterations interrupted after graceful stop")
		}
	}

	log.Debug().Str("scenario", e.config.Name).Int64("iterations", e.iterations.Load()).
		Dur("elapsed", e.clock.elapsed()).Msg("per-vu-iterations finished")

	if ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}

// GetProgress returns the share of iterations completed.
func (e *PerVUIterations) GetProgress() float64 {
	if e.finished.Load() {
		return 1.0
	}
	if e.config == nil || !e.running.Load() {
		return 0.0
	}

	total := float64(e.config.Iterations) * float64(e.config.VUs)
	progress := float64(e.iterations.Load()) / total
	if progress > 1.0 {
		progress = 1.0
	}
	return progress
}

// GetActiveVUs returns current active VU count.
func (e *PerVUIterations) GetActiveVUs() int {
	return int(e.activeVUs.Load())
}

// GetStats returns executor statistics.
func (e *PerVUIterations) GetStats() *Stats {
	stats := &Stats{
		StartTime:   e.clock.startedAt(),
		CurrentTime: time.Now(),
		Elapsed:     e.clock.elapsed(),
		ActiveVUs:   int(e.activeVUs.Load()),
		Iterations:  e.iterations.Load(),
	}
	if e.config != nil {
		stats.TargetVUs = e.config.VUs
		stats.TotalIterations = int64(e.config.VUs) * e.config.Iterations
	}
	return stats
}

// Stop ends the scenario: no new iterations start, in-flight ones finish.
func (e *PerVUIterations) Stop(ctx context.Context) error {
	e.cancelMu.Lock()
	if e.cancelFunc != nil {
		e.cancelFunc()
	}
	e.cancelMu.Unlock()
	return nil
}

var _ Executor = (*PerVUIterations)(nil)
