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
	"github.com/wesleyorama2/azbench/internal/performance/rate"
)

// ConstantArrivalRate starts iterations at a fixed rate (open model).
//
// Iterations are scheduled at Rate per TimeUnit regardless of how long each
// takes. The first iteration starts immediately, so a scenario running one
// iteration per 200ms for 100s starts 500 iterations.
//
// The executor keeps a pool of VUs to run iterations on. When every VU is
// busy it spawns more, up to MaxVUs; once MaxVUs are busy, iterations that
// come due are dropped rather than queued, so a slow endpoint cannot make
// the schedule drift. Slots are paced by rate.LeakyBucket: a slot that
// comes due while the scheduler is stalled for longer than one interval is
// lost and never made up, so a run may start fewer iterations than
// ExpectedIterations but never more.
//
// Example:
//
//	config:
//	  type: constant-arrival-rate
//	  rate: 1                # one iteration
//	  timeUnit: 200ms        # every 200ms
//	  duration: 100000ms     # for 100 seconds
//	  preAllocatedVUs: 1
//	  maxVUs: 1
type ConstantArrivalRate struct {
	config    *Config
	scheduler *performance.VUScheduler

	bucket *rate.LeakyBucket

	vuPool     chan *performance.VirtualUser
	allVUs     []*performance.VirtualUser
	currentVUs atomic.Int32
	vuPoolMu   sync.Mutex

	clock      startClock
	iterations atomic.Int64
	dropped    atomic.Int64
	running    atomic.Bool

	cancelMu   sync.Mutex
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// NewConstantArrivalRate creates a new constant arrival rate executor.
func NewConstantArrivalRate() *ConstantArrivalRate {
	return &ConstantArrivalRate{}
}

// Type returns the executor type.
func (e *ConstantArrivalRate) Type() Type {
	return TypeConstantArrivalRate
}

// Init initializes the executor with configuration.
func (e *ConstantArrivalRate) Init(ctx context.Context, config *Config) error {
	if config.Type != TypeConstantArrivalRate {
		return fmt.Errorf("invalid config type: expected %s, got %s", TypeConstantArrivalRate, config.Type)
	}

	if err := config.Validate(); err != nil {
		return err
	}

	if config.TimeUnit <= 0 {
		config.TimeUnit = time.Second
	}
	if config.PreAllocatedVUs <= 0 {
		config.PreAllocatedVUs = 1
	}
	if config.MaxVUs < config.PreAllocatedVUs {
		config.MaxVUs = config.PreAllocatedVUs
	}

	e.config = config
	return nil
}

// IterationsPerSecond returns the configured rate converted to iterations
// per second.
func (e *ConstantArrivalRate) IterationsPerSecond() float64 {
	return rate.Per(e.config.Rate, e.config.TimeUnit)
}

// Run starts the executor and blocks until Duration has passed and the
// in-flight iterations have finished.
func (e *ConstantArrivalRate) Run(ctx context.Context, scheduler *performance.VUScheduler, metricsEngine *metrics.Engine) error {
	e.scheduler = scheduler
	e.clock.start()
	e.running.Store(true)
	defer e.running.Store(false)

	e.bucket = rate.NewLeakyBucket(e.IterationsPerSecond())

	e.vuPool = make(chan *performance.VirtualUser, e.config.MaxVUs)
	e.allVUs = make([]*performance.VirtualUser, 0, e.config.MaxVUs)

	// iterCtx aborts in-flight iterations once the graceful stop has passed
	iterCtx, iterCancel := context.WithCancel(ctx)
	defer iterCancel()

	runCtx, cancel := context.WithTimeout(ctx, e.config.Duration)
	e.cancelMu.Lock()
	e.cancelFunc = cancel
	e.cancelMu.Unlock()
	defer cancel()

	for i := 0; i < e.config.PreAllocatedVUs; i++ {
		vu := scheduler.SpawnVU()
		e.allVUs = append(e.allVUs, vu)
		e.vuPool <- vu
		e.currentVUs.Add(1)
	}

	log.Debug().Str("scenario", e.config.Name).
		Float64("ratePerSecond", e.IterationsPerSecond()).
		Dur("duration", e.config.Duration).
		Msg("constant-arrival-rate started")

	e.iterationScheduler(runCtx, iterCtx)

	if !waitGraceful(e.wg.Wait, e.config.gracefulStop(), iterCancel) {
		log.Warn().Str("scenario", e.config.Name).Msg("iterations interrupted after graceful stop")
	}

	e.releaseVUs()

	log.Debug().Str("scenario", e.config.Name).
		Int64("iterations", e.iterations.Load()).
		Int64("dropped", e.dropped.Load()).
		Msg("constant-arrival-rate finished")

	if ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}

// iterationScheduler starts iterations at the configured rate until runCtx
// is done or every expected slot has been handed out. Iterations themselves
// run under iterCtx.
func (e *ConstantArrivalRate) iterationScheduler(runCtx, iterCtx context.Context) {
	limit := e.ExpectedIterations()
	for slots := int64(0); limit <= 0 || slots < limit; slots++ {
		if err := e.bucket.Wait(runCtx); err != nil {
			return
		}

		vu := e.getVU()
		if vu == nil {
			e.dropped.Add(1)
			log.Debug().Str("scenario", e.config.Name).Msg("no free VU, iteration dropped")
			continue
		}

		e.wg.Add(1)
		go e.runIteration(iterCtx, vu)
	}
}

// getVU takes a free VU from the pool, spawning one if the pool is empty
// and MaxVUs allows. Returns nil when every VU is busy.
func (e *ConstantArrivalRate) getVU() *performance.VirtualUser {
	select {
	case vu := <-e.vuPool:
		return vu
	default:
	}

	e.vuPoolMu.Lock()
	defer e.vuPoolMu.Unlock()

	if int(e.currentVUs.Load()) >= e.config.MaxVUs {
		return nil
	}

	vu := e.scheduler.SpawnVU()
	e.allVUs = append(e.allVUs, vu)
	e.currentVUs.Add(1)
	return vu
}

// returnVU returns a VU to the pool.
func (e *ConstantArrivalRate) returnVU(vu *performance.VirtualUser) {
	state := vu.GetState()
	if state == performance.VUStateStopping || state == performance.VUStateStopped {
		return
	}

	select {
	case e.vuPool <- vu:
	default:
	}
}

// runIteration runs a single iteration on a VU.
func (e *ConstantArrivalRate) runIteration(ctx context.Context, vu *performance.VirtualUser) {
	defer e.wg.Done()
	defer e.returnVU(vu)

	if err := vu.RunIteration(ctx); err != nil {
		return
	}
	e.iterations.Add(1)
}

// releaseVUs removes every VU from the scheduler.
func (e *ConstantArrivalRate) releaseVUs() {
	e.vuPoolMu.Lock()
	defer e.vuPoolMu.Unlock()

	for _, vu := range e.allVUs {
		e.scheduler.RemoveVU(vu.ID)
	}
	e.currentVUs.Store(0)
}

// GetProgress returns current progress (0.0 to 1.0).
func (e *ConstantArrivalRate) GetProgress() float64 {
	if !e.running.Load() {
		if e.clock.startedAt().IsZero() {
			return 0.0
		}
		return 1.0
	}

	progress := float64(e.clock.elapsed()) / float64(e.config.Duration)
	if progress > 1.0 {
		progress = 1.0
	}
	return progress
}

// GetActiveVUs returns current active VU count.
func (e *ConstantArrivalRate) GetActiveVUs() int {
	return int(e.currentVUs.Load())
}

// ExpectedIterations returns how many iterations a full run starts.
func (e *ConstantArrivalRate) ExpectedIterations() int64 {
	return int64(e.config.Duration.Seconds()*e.IterationsPerSecond() + 1e-9)
}

// GetStats returns executor statistics.
func (e *ConstantArrivalRate) GetStats() *Stats {
	return &Stats{
		StartTime:         e.clock.startedAt(),
		CurrentTime:       time.Now(),
		Elapsed:           e.clock.elapsed(),
		TotalDuration:     e.config.Duration,
		ActiveVUs:         int(e.currentVUs.Load()),
		TargetVUs:         e.config.MaxVUs,
		Iterations:        e.iterations.Load(),
		TotalIterations:   e.ExpectedIterations(),
		DroppedIterations: e.dropped.Load(),
		TargetRate:        e.IterationsPerSecond(),
	}
}

// Stop ends scheduling; in-flight iterations get the graceful stop period.
func (e *ConstantArrivalRate) Stop(ctx context.Context) error {
	e.cancelMu.Lock()
	if e.cancelFunc != nil {
		e.cancelFunc()
	}
	e.cancelMu.Unlock()
	return nil
}

var _ Executor = (*ConstantArrivalRate)(nil)
