// Package engine runs a benchmark configuration: every scenario with its
// executor at its start offset, sharing one metrics engine, one HTTP client
// and one dispatch sequence.
package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/wesleyorama2/azbench/internal/performance"
	"github.com/wesleyorama2/azbench/internal/performance/config"
	"github.com/wesleyorama2/azbench/internal/performance/executor"
	"github.com/wesleyorama2/azbench/internal/performance/metrics"
)

// Engine is the main orchestrator of a benchmark run.
//
// It coordinates:
//   - Configuration defaults and validation
//   - Scenario execution with their respective executors, each at its startTime
//   - Metrics collection and aggregation
//   - Threshold evaluation
//
// Example usage:
//
//	cfg, _ := config.LoadConfig("plan.yaml")
//	engine, _ := NewEngine(cfg)
//	result, _ := engine.Run(context.Background())
//	fmt.Printf("Run passed: %v\n", result.Passed)
type Engine struct {
	config *config.TestConfig
	runID  string

	metricsEngine *metrics.Engine

	httpConfig performance.HTTPClientConfig
	sequence   *performance.Sequence

	scenarios []*ScenarioRunner
	mu        sync.RWMutex

	startTime time.Time
	running   bool
	cancel    context.CancelFunc
}

// Option configures an Engine.
type Option func(*Engine)

// WithRunID sets the run ID instead of generating one.
func WithRunID(id string) Option {
	return func(e *Engine) {
		e.runID = id
	}
}

// ScenarioRunner manages the execution of a single scenario.
type ScenarioRunner struct {
	Name        string
	Config      *config.ScenarioConfig
	StartOffset time.Duration
	Executor    executor.Executor
	Scheduler   *performance.VUScheduler
	Scenario    *performance.Scenario
	Result      *ScenarioResult
}

// ScenarioResult contains the results of a single scenario.
type ScenarioResult struct {
	Name        string        `json:"name"`
	Executor    string        `json:"executor"`
	StartOffset time.Duration `json:"startOffset"`
	StartedAt   time.Time     `json:"startedAt"`
	Duration    time.Duration `json:"duration"`
	Iterations  int64         `json:"iterations"`
	Dropped     int64         `json:"droppedIterations,omitempty"`
	MaxVUs      int           `json:"maxVUs"`
	Skipped     bool          `json:"skipped,omitempty"`
	Error       string        `json:"error,omitempty"`
}

// RequestStats contains statistics for a specific request.
type RequestStats struct {
	Name    string               `json:"name"`
	Count   int64                `json:"count"`
	Latency metrics.LatencyStats `json:"latency"`
}

// TestResult contains the complete run results.
type TestResult struct {
	RunID       string        `json:"runId"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	StartTime   time.Time     `json:"startTime"`
	EndTime     time.Time     `json:"endTime"`
	Duration    time.Duration `json:"duration"`

	Scenarios map[string]*ScenarioResult `json:"scenarios"`

	// Aggregated metrics across all scenarios
	Metrics      *metrics.Snapshot       `json:"metrics"`
	TimeSeries   []*metrics.TimeBucket   `json:"timeSeries,omitempty"`
	RequestStats map[string]RequestStats `json:"requestStats,omitempty"`

	Passed     bool              `json:"passed"`
	Thresholds []ThresholdResult `json:"thresholds,omitempty"`

	Error string `json:"error,omitempty"`
}

// NewEngine creates a new engine for cfg. Defaults are applied to cfg
// before it is validated.
func NewEngine(cfg *config.TestConfig, opts ...Option) (*Engine, error) {
	config.ApplyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	httpConfig := performance.DefaultHTTPClientConfig()
	httpConfig.Timeout = cfg.Settings.Timeout.GetDuration(config.DefaultTimeout)
	httpConfig.MaxConnsPerHost = cfg.Settings.MaxConnectionsPerHost
	httpConfig.InsecureSkipVerify = cfg.Settings.InsecureSkipVerify
	if cfg.Settings.MaxIdleConnsPerHost > 0 {
		httpConfig.MaxIdleConnsPerHost = cfg.Settings.MaxIdleConnsPerHost
	}

	e := &Engine{
		config:     cfg,
		httpConfig: httpConfig,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.runID == "" {
		e.runID = uuid.NewString()
	}

	return e, nil
}

// RunID returns the ID sent with every request of this run.
func (e *Engine) RunID() string {
	return e.runID
}

// Run executes all scenarios and returns the results.
//
// By default scenarios run concurrently, each starting at its startTime
// offset from the beginning of the run. If Options.Sequential is set they
// run one after another in start order and offsets are ignored.
//
// Cancelling ctx stops every scenario; in-flight iterations finish within
// their graceful stop period.
func (e *Engine) Run(ctx context.Context) (*TestResult, error) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil, fmt.Errorf("engine is already running")
	}
	e.running = true
	e.startTime = time.Now()
	e.metricsEngine = metrics.NewEngine()
	ctx, e.cancel = context.WithCancel(ctx)
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.cancel()
		e.mu.Unlock()
	}()

	client := performance.NewHTTPClient(e.httpConfig)
	defer client.CloseIdleConnections()
	e.sequence = performance.NewSequence()

	if err := e.initializeScenarios(ctx, performance.WithHTTPClient(client), performance.WithSequence(e.sequence)); err != nil {
		e.metricsEngine.Stop()
		return nil, fmt.Errorf("failed to initialize scenarios: %w", err)
	}

	log.Info().Str("runId", e.runID).Int("scenarios", len(e.scenarios)).
		Dur("estimatedDuration", e.config.TotalDuration()).Msg("run started")

	var scenarioResults map[string]*ScenarioResult
	var runErr error
	if e.config.Options != nil && e.config.Options.Sequential {
		scenarioResults, runErr = e.runScenariosSequentially(ctx)
	} else {
		scenarioResults, runErr = e.runScenariosConcurrently(ctx)
	}

	e.metricsEngine.SetPhase(metrics.PhaseDone)
	e.metricsEngine.Stop()

	finalMetrics := e.metricsEngine.GetSnapshot()
	thresholdResults := e.evaluateThresholds(finalMetrics)
	passed := runErr == nil
	for _, tr := range thresholdResults {
		if !tr.Passed {
			passed = false
		}
	}

	requestStats := make(map[string]RequestStats)
	for name, stats := range e.metricsEngine.GetRequestStats() {
		requestStats[name] = RequestStats{Name: name, Count: stats.Count, Latency: stats}
	}

	endTime := time.Now()
	result := &TestResult{
		RunID:        e.runID,
		Name:         e.config.Name,
		Description:  e.config.Description,
		StartTime:    e.startTime,
		EndTime:      endTime,
		Duration:     endTime.Sub(e.startTime),
		Scenarios:    scenarioResults,
		Metrics:      finalMetrics,
		TimeSeries:   e.metricsEngine.GetTimeSeries(),
		RequestStats: requestStats,
		Passed:       passed,
		Thresholds:   thresholdResults,
	}
	if runErr != nil {
		result.Error = runErr.Error()
	}

	log.Info().Str("runId", e.runID).Int64("requests", finalMetrics.TotalRequests).
		Int64("failed", finalMetrics.FailedRequests).Bool("passed", passed).
		Dur("duration", result.Duration).Msg("run finished")

	return result, runErr
}

// initializeScenarios creates executors and schedulers for all scenarios,
// ordered by start offset and then name.
func (e *Engine) initializeScenarios(ctx context.Context, opts ...performance.SchedulerOption) error {
	names := make([]string, 0, len(e.config.Scenarios))
	for name := range e.config.Scenarios {
		names = append(names, name)
	}
	sort.Strings(names)

	runners := make([]*ScenarioRunner, 0, len(names))
	for _, name := range names {
		sc := e.config.Scenarios[name]

		exec, execConfig, err := executor.CreateExecutorFromScenarioConfig(ctx, name, sc)
		if err != nil {
			return fmt.Errorf("failed to create executor for scenario %s: %w", name, err)
		}

		scenario, err := e.createScenario(name, sc)
		if err != nil {
			return fmt.Errorf("scenario %s: %w", name, err)
		}

		runners = append(runners, &ScenarioRunner{
			Name:        name,
			Config:      sc,
			StartOffset: execConfig.StartTime,
			Executor:    exec,
			Scheduler:   performance.NewVUScheduler(scenario, e.metricsEngine, e.httpConfig, opts...),
			Scenario:    scenario,
		})
	}

	sort.SliceStable(runners, func(i, j int) bool {
		return runners[i].StartOffset < runners[j].StartOffset
	})

	e.mu.Lock()
	e.scenarios = runners
	e.mu.Unlock()
	return nil
}

// createScenario creates the VU-facing Scenario from the config.
func (e *Engine) createScenario(name string, sc *config.ScenarioConfig) (*performance.Scenario, error) {
	scenario := &performance.Scenario{
		Name:      name,
		Variables: make(map[string]string),
		Tags:      sc.Tags,
		Headers:   make(map[string]string),
	}

	for k, v := range e.config.Variables {
		scenario.Variables[k] = v
	}
	if e.config.Settings.BaseURL != "" {
		scenario.Variables["baseUrl"] = e.config.Settings.BaseURL
	}

	for k, v := range e.config.Settings.Headers {
		scenario.Headers[k] = v
	}
	if e.config.Settings.UserAgent != "" {
		scenario.Headers["User-Agent"] = e.config.Settings.UserAgent
	}
	scenario.Headers[performance.HeaderRunID] = e.runID

	for _, req := range sc.Requests {
		reqConfig := &performance.RequestConfig{
			Name:    req.Name,
			Method:  req.Method,
			URL:     req.URL,
			Query:   req.Query,
			Headers: req.Headers,
		}

		if req.Timeout != "" {
			dur, err := config.ParseDurationString(req.Timeout)
			if err != nil {
				return nil, fmt.Errorf("request %s: invalid timeout: %w", req.Name, err)
			}
			reqConfig.Timeout = dur
		}

		for _, ext := range req.Extract {
			reqConfig.Extract = append(reqConfig.Extract, performance.ExtractConfig{
				Name:   ext.Name,
				Source: ext.Source,
				Path:   ext.Path,
			})
		}

		scenario.Requests = append(scenario.Requests, reqConfig)
	}

	return scenario, nil
}

// runScenariosConcurrently starts every scenario at its start offset and
// waits for all of them.
func (e *Engine) runScenariosConcurrently(ctx context.Context) (map[string]*ScenarioResult, error) {
	results := make(map[string]*ScenarioResult)
	var resultsMu sync.Mutex
	var wg sync.WaitGroup
	var firstErr error

	for _, runner := range e.scenarios {
		wg.Add(1)
		go func(runner *ScenarioRunner) {
			defer wg.Done()

			var result *ScenarioResult
			var err error
			if waitErr := e.waitForStart(ctx, runner.StartOffset); waitErr != nil {
				result = e.skippedResult(runner)
				err = waitErr
			} else {
				result, err = e.runScenario(ctx, runner)
			}

			resultsMu.Lock()
			defer resultsMu.Unlock()
			results[runner.Name] = result
			if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("scenario %s failed: %w", runner.Name, err)
			}
		}(runner)
	}

	wg.Wait()
	return results, firstErr
}

// runScenariosSequentially runs all scenarios one at a time in start order.
func (e *Engine) runScenariosSequentially(ctx context.Context) (map[string]*ScenarioResult, error) {
	results := make(map[string]*ScenarioResult)

	for _, runner := range e.scenarios {
		if err := ctx.Err(); err != nil {
			results[runner.Name] = e.skippedResult(runner)
			continue
		}

		result, err := e.runScenario(ctx, runner)
		results[runner.Name] = result
		if err != nil {
			return results, fmt.Errorf("scenario %s failed: %w", runner.Name, err)
		}
	}

	if err := ctx.Err(); err != nil {
		return results, err
	}
	return results, nil
}

// waitForStart blocks until offset has passed since the run started.
func (e *Engine) waitForStart(ctx context.Context, offset time.Duration) error {
	wait := offset - time.Since(e.startTime)
	if wait <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// runScenario runs a single scenario.
func (e *Engine) runScenario(ctx context.Context, runner *ScenarioRunner) (*ScenarioResult, error) {
	startTime := time.Now()
	e.metricsEngine.SetPhase(metrics.PhaseSteady)

	log.Debug().Str("scenario", runner.Name).
		Dur("offset", runner.StartOffset).
		Dur("late", startTime.Sub(e.startTime)-runner.StartOffset).
		Msg("scenario started")

	err := runner.Executor.Run(ctx, runner.Scheduler, e.metricsEngine)
	runner.Scheduler.Shutdown(executor.DefaultGracefulStop)

	stats := runner.Executor.GetStats()
	result := &ScenarioResult{
		Name:        runner.Name,
		Executor:    string(runner.Executor.Type()),
		StartOffset: runner.StartOffset,
		StartedAt:   startTime,
		Duration:    time.Since(startTime),
		Iterations:  stats.Iterations,
		Dropped:     stats.DroppedIterations,
		MaxVUs:      stats.TargetVUs,
	}
	if err != nil {
		result.Error = err.Error()
	}

	e.mu.Lock()
	runner.Result = result
	e.mu.Unlock()
	return result, err
}

func (e *Engine) skippedResult(runner *ScenarioRunner) *ScenarioResult {
	result := &ScenarioResult{
		Name:        runner.Name,
		Executor:    string(runner.Executor.Type()),
		StartOffset: runner.StartOffset,
		Skipped:     true,
	}
	e.mu.Lock()
	runner.Result = result
	e.mu.Unlock()
	return result
}

// GetMetrics returns the current metrics snapshot.
func (e *Engine) GetMetrics() *metrics.Snapshot {
	e.mu.RLock()
	m := e.metricsEngine
	e.mu.RUnlock()

	if m == nil {
		return nil
	}
	return m.GetSnapshot()
}

// IsRunning returns true if the engine is currently running.
func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// Stop ends the run: pending scenarios are skipped and running ones stop
// starting new iterations.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.RLock()
	if !e.running {
		e.mu.RUnlock()
		return nil
	}
	cancel := e.cancel
	scenarios := e.scenarios
	e.mu.RUnlock()

	cancel()

	var lastErr error
	for _, runner := range scenarios {
		if err := runner.Executor.Stop(ctx); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// Progress is a point-in-time view of the run.
type Progress struct {
	Elapsed           time.Duration
	EstimatedDuration time.Duration
	Completed         int
	Running           int
	Pending           int
	Iterations        int64
	Dropped           int64
	Fraction          float64
}

// GetProgress returns the overall run progress.
//
// Fraction is the mean executor progress across scenarios, so a schedule
// of many staggered scenarios advances as each one finishes.
func (e *Engine) GetProgress() Progress {
	e.mu.RLock()
	defer e.mu.RUnlock()

	p := Progress{EstimatedDuration: e.config.TotalDuration()}
	if !e.startTime.IsZero() {
		p.Elapsed = time.Since(e.startTime)
	}
	if len(e.scenarios) == 0 {
		return p
	}

	var total float64
	for _, runner := range e.scenarios {
		progress := runner.Executor.GetProgress()
		total += progress
		stats := runner.Executor.GetStats()
		p.Iterations += stats.Iterations
		p.Dropped += stats.DroppedIterations

		switch {
		case runner.Result != nil:
			p.Completed++
		case progress > 0 || runner.Executor.GetActiveVUs() > 0:
			p.Running++
		default:
			p.Pending++
		}
	}
	p.Fraction = total / float64(len(e.scenarios))
	return p
}
