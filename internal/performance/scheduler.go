package performance

import (
	"context"
	"crypto/tls"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wesleyorama2/azbench/internal/performance/metrics"
)

// VUScheduler manages the lifecycle of the Virtual Users of one scenario.
//
// It provides:
// - VU spawning and stopping
// - the HTTP client the VUs use
// - the scenario-wide iteration counter and the run-wide dispatch sequence
//
// The scheduler is used by executors to control VU counts.
type VUScheduler struct {
	scenario *Scenario
	metrics  *metrics.Engine

	httpClientConfig HTTPClientConfig
	client           *http.Client
	ownsClient       bool

	scenarioIter *Sequence
	seq          *Sequence

	vus      map[int]*VirtualUser
	vusMu    sync.RWMutex
	nextVUID atomic.Int32

	shutdownCh   chan struct{}
	shutdownOnce sync.Once
	shutdownWg   sync.WaitGroup
}

// HTTPClientConfig contains HTTP client configuration.
type HTTPClientConfig struct {
	// Timeout for HTTP requests
	Timeout time.Duration

	// MaxIdleConns controls the maximum number of idle connections
	MaxIdleConns int

	// MaxIdleConnsPerHost controls the maximum idle connections per host
	MaxIdleConnsPerHost int

	// MaxConnsPerHost limits the total connections per host
	MaxConnsPerHost int

	// IdleConnTimeout is how long idle connections are kept alive
	IdleConnTimeout time.Duration

	// DisableKeepAlives disables HTTP keep-alives
	DisableKeepAlives bool

	// InsecureSkipVerify skips TLS certificate verification
	InsecureSkipVerify bool
}

// DefaultHTTPClientConfig returns sensible defaults for load testing.
func DefaultHTTPClientConfig() HTTPClientConfig {
	return HTTPClientConfig{
		Timeout:             30 * time.Second,
		MaxIdleConns:        1000,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
	}
}

// NewHTTPClient creates an HTTP client with the given settings. Redirects
// are not followed so the recorded status is the endpoint's own.
func NewHTTPClient(cfg HTTPClientConfig) *http.Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		DisableKeepAlives:   cfg.DisableKeepAlives,
		ForceAttemptHTTP2:   true,
	}
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in flag
	}

	return &http.Client{
		Transport: transport,
		Timeout:   cfg.Timeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// SchedulerOption configures a VUScheduler.
type SchedulerOption func(*VUScheduler)

// WithHTTPClient makes the scheduler use client instead of creating its own.
// The scheduler does not close a client it did not create.
func WithHTTPClient(client *http.Client) SchedulerOption {
	return func(s *VUScheduler) {
		s.client = client
		s.ownsClient = false
	}
}

// WithSequence shares a run-wide dispatch sequence ({{__SEQ}}) between
// schedulers.
func WithSequence(seq *Sequence) SchedulerOption {
	return func(s *VUScheduler) {
		s.seq = seq
	}
}

// NewVUScheduler creates a new VU scheduler.
func NewVUScheduler(scenario *Scenario, metricsEngine *metrics.Engine, httpConfig HTTPClientConfig, opts ...SchedulerOption) *VUScheduler {
	s := &VUScheduler{
		scenario:         scenario,
		metrics:          metricsEngine,
		httpClientConfig: httpConfig,
		scenarioIter:     NewSequence(),
		vus:              make(map[int]*VirtualUser),
		shutdownCh:       make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.client == nil {
		s.client = NewHTTPClient(httpConfig)
		s.ownsClient = true
	}
	if s.seq == nil {
		s.seq = NewSequence()
	}

	return s
}

// Scenario returns the scenario the scheduler's VUs execute.
func (s *VUScheduler) Scenario() *Scenario {
	return s.scenario
}

// Metrics returns the metrics engine VUs record into.
func (s *VUScheduler) Metrics() *metrics.Engine {
	return s.metrics
}

// ScenarioIterations returns how many iterations have started across the
// scenario.
func (s *VUScheduler) ScenarioIterations() int64 {
	return s.scenarioIter.Count()
}

// SpawnVU creates and returns a new Virtual User.
//
// The VU is registered with the scheduler and counted as active in the
// metrics engine until it is removed. The caller is responsible for
// running it.
func (s *VUScheduler) SpawnVU() *VirtualUser {
	id := int(s.nextVUID.Add(1))

	vu := NewVirtualUser(id, s.scenario, s.client, s.metrics)
	vu.scenarioIter = s.scenarioIter
	vu.seq = s.seq

	s.vusMu.Lock()
	s.vus[id] = vu
	s.vusMu.Unlock()

	s.metrics.AddActiveVUs(1)
	return vu
}

// GetVU returns a VU by ID, or nil if not found.
func (s *VUScheduler) GetVU(id int) *VirtualUser {
	s.vusMu.RLock()
	defer s.vusMu.RUnlock()
	return s.vus[id]
}

// GetActiveVUCount returns the count of non-stopped VUs.
func (s *VUScheduler) GetActiveVUCount() int {
	s.vusMu.RLock()
	defer s.vusMu.RUnlock()

	count := 0
	for _, vu := range s.vus {
		if vu.GetState() != VUStateStopped {
			count++
		}
	}
	return count
}

// StopAllVUs requests all VUs to stop.
func (s *VUScheduler) StopAllVUs() {
	s.vusMu.RLock()
	defer s.vusMu.RUnlock()

	for _, vu := range s.vus {
		vu.RequestStop()
	}
}

// RemoveVU marks a VU stopped and unregisters it.
func (s *VUScheduler) RemoveVU(id int) {
	s.vusMu.Lock()
	vu, exists := s.vus[id]
	if exists {
		delete(s.vus, id)
	}
	s.vusMu.Unlock()

	if exists {
		vu.MarkStopped()
		s.metrics.AddActiveVUs(-1)
	}
}

// WaitForAllVUs waits for all VUs to stop with a timeout.
//
// Returns the number of VUs that did not stop within the timeout.
func (s *VUScheduler) WaitForAllVUs(timeout time.Duration) int {
	deadline := time.Now().Add(timeout)

	s.vusMu.RLock()
	vus := make([]*VirtualUser, 0, len(s.vus))
	for _, vu := range s.vus {
		vus = append(vus, vu)
	}
	s.vusMu.RUnlock()

	notStopped := 0
	for _, vu := range vus {
		remaining := time.Until(deadline)
		if remaining <= 0 || !vu.WaitForStop(remaining) {
			notStopped++
		}
	}
	return notStopped
}

// RunIterations runs exactly iterations iterations on vu, or fewer if ctx
// is done, the scheduler shuts down, or the VU is asked to stop. The VU is
// removed from the scheduler when it returns.
//
// Returns the number of iterations completed.
func (s *VUScheduler) RunIterations(ctx context.Context, vu *VirtualUser, iterations int64) int64 {
	s.shutdownWg.Add(1)
	defer s.shutdownWg.Done()
	defer s.RemoveVU(vu.ID)

	var done int64
	for done < iterations {
		select {
		case <-ctx.Done():
			return done
		case <-s.shutdownCh:
			return done
		default:
		}

		if state := vu.GetState(); state == VUStateStopping || state == VUStateStopped {
			return done
		}

		if err := vu.RunIteration(ctx); err != nil {
			return done
		}
		done++
	}
	return done
}

// Shutdown stops all VUs and waits up to timeout for them to finish.
// The HTTP client's idle connections are closed if the scheduler created it.
func (s *VUScheduler) Shutdown(timeout time.Duration) {
	s.shutdownOnce.Do(func() {
		close(s.shutdownCh)
	})

	s.StopAllVUs()

	done := make(chan struct{})
	go func() {
		s.shutdownWg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
		log.Warn().Str("scenario", s.scenario.Name).Dur("timeout", timeout).
			Msg("VUs still running after shutdown timeout")
	}

	if s.ownsClient {
		s.client.CloseIdleConnections()
	}
}
