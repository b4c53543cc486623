package executor_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/wesleyorama2/azbench/internal/performance/executor"
	"github.com/wesleyorama2/azbench/internal/performance/metrics"
)

func TestPerVUIterations_Type(t *testing.T) {
	e := executor.NewPerVUIterations()
	if e.Type() != executor.TypePerVUIterations {
		t.Errorf("Type() = %v, want %v", e.Type(), executor.TypePerVUIterations)
	}
}

func TestPerVUIterations_Init(t *testing.T) {
	tests := []struct {
		name    string
		config  *executor.Config
		wantErr bool
	}{
		{
			name:   "valid",
			config: &executor.Config{Type: executor.TypePerVUIterations, VUs: 100, Iterations: 1},
		},
		{
			name:    "wrong type",
			config:  &executor.Config{Type: executor.TypeConstantArrivalRate, Rate: 1, Duration: time.Second},
			wantErr: true,
		},
		{
			name:    "zero vus",
			config:  &executor.Config{Type: executor.TypePerVUIterations, Iterations: 1},
			wantErr: true,
		},
		{
			name:    "zero iterations",
			config:  &executor.Config{Type: executor.TypePerVUIterations, VUs: 1},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := executor.NewPerVUIterations().Init(context.Background(), tt.config)
			if (err != nil) != tt.wantErr {
				t.Errorf("Init() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPerVUIterations_Init_DefaultMaxDuration(t *testing.T) {
	config := &executor.Config{Type: executor.TypePerVUIterations, VUs: 1, Iterations: 1}
	if err := executor.NewPerVUIterations().Init(context.Background(), config); err != nil {
		t.Fatal(err)
	}
	if config.MaxDuration != 10*time.Minute {
		t.Errorf("MaxDuration = %v, want 10m", config.MaxDuration)
	}
}

func TestPerVUIterations_Run_Burst(t *testing.T) {
	server := newCountingServer(http.StatusOK, 0)
	defer server.Close()

	metricsEngine := metrics.NewEngine()
	defer metricsEngine.Stop()

	scheduler := newScheduler(server.URL, metricsEngine)
	defer scheduler.Shutdown(time.Second)

	e := executor.NewPerVUIterations()
	config := &executor.Config{Name: "burst_000", Type: executor.TypePerVUIterations, VUs: 25, Iterations: 1}
	if err := e.Init(context.Background(), config); err != nil {
		t.Fatal(err)
	}

	if e.GetProgress() != 0 {
		t.Errorf("GetProgress() before Run = %v, want 0", e.GetProgress())
	}

	if err := e.Run(context.Background(), scheduler, metricsEngine); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if got := server.hits.Load(); got != 25 {
		t.Errorf("server hits = %d, want 25", got)
	}
	stats := e.GetStats()
	if stats.Iterations != 25 || stats.TotalIterations != 25 {
		t.Errorf("Iterations = %d/%d, want 25/25", stats.Iterations, stats.TotalIterations)
	}
	if e.GetProgress() != 1.0 {
		t.Errorf("GetProgress() after Run = %v, want 1", e.GetProgress())
	}
	if metricsEngine.GetActiveVUs() != 0 {
		t.Errorf("active VUs after Run = %d, want 0", metricsEngine.GetActiveVUs())
	}
}

func TestPerVUIterations_Run_MultipleIterations(t *testing.T) {
	server := newCountingServer(http.StatusOK, 0)
	defer server.Close()

	metricsEngine := metrics.NewEngine()
	defer metricsEngine.Stop()

	scheduler := newScheduler(server.URL, metricsEngine)
	defer scheduler.Shutdown(time.Second)

	e := executor.NewPerVUIterations()
	config := &executor.Config{Type: executor.TypePerVUIterations, VUs: 3, Iterations: 4}
	if err := e.Init(context.Background(), config); err != nil {
		t.Fatal(err)
	}
	if err := e.Run(context.Background(), scheduler, metricsEngine); err != nil {
		t.Fatal(err)
	}

	if got := server.hits.Load(); got != 12 {
		t.Errorf("server hits = %d, want 12", got)
	}
	if got := scheduler.ScenarioIterations(); got != 12 {
		t.Errorf("ScenarioIterations() = %d, want 12", got)
	}
}

func TestPerVUIterations_Run_MaxDuration(t *testing.T) {
	server := newCountingServer(http.StatusOK, 30*time.Millisecond)
	defer server.Close()

	metricsEngine := metrics.NewEngine()
	defer metricsEngine.Stop()

	scheduler := newScheduler(server.URL, metricsEngine)
	defer scheduler.Shutdown(time.Second)

	e := executor.NewPerVUIterations()
	config := &executor.Config{
		Type:         executor.TypePerVUIterations,
		VUs:          1,
		Iterations:   1000,
		MaxDuration:  100 * time.Millisecond,
		GracefulStop: time.Second,
	}
	if err := e.Init(context.Background(), config); err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	if err := e.Run(context.Background(), scheduler, metricsEngine); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Run() took %v, MaxDuration should have ended it", elapsed)
	}
	if got := e.GetStats().Iterations; got >= 1000 || got == 0 {
		t.Errorf("Iterations = %d, want a few", got)
	}
	// the in-flight request finished inside the graceful stop
	if failed := metricsEngine.GetSnapshot().FailedRequests; failed != 0 {
		t.Errorf("FailedRequests = %d, want 0", failed)
	}
}

func TestPerVUIterations_Run_ContextCancelled(t *testing.T) {
	server := newCountingServer(http.StatusOK, 10*time.Millisecond)
	defer server.Close()

	metricsEngine := metrics.NewEngine()
	defer metricsEngine.Stop()

	scheduler := newScheduler(server.URL, metricsEngine)
	defer scheduler.Shutdown(time.Second)

	e := executor.NewPerVUIterations()
	config := &executor.Config{Type: executor.TypePerVUIterations, VUs: 2, Iterations: 1000}
	if err := e.Init(context.Background(), config); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := e.Run(ctx, scheduler, metricsEngine); err != context.DeadlineExceeded {
		t.Errorf("Run() error = %v, want DeadlineExceeded", err)
	}
}

func TestPerVUIterations_Stop(t *testing.T) {
	server := newCountingServer(http.StatusOK, 10*time.Millisecond)
	defer server.Close()

	metricsEngine := metrics.NewEngine()
	defer metricsEngine.Stop()

	scheduler := newScheduler(server.URL, metricsEngine)
	defer scheduler.Shutdown(time.Second)

	e := executor.NewPerVUIterations()
	config := &executor.Config{Type: executor.TypePerVUIterations, VUs: 2, Iterations: 1000}
	if err := e.Init(context.Background(), config); err != nil {
		t.Fatal(err)
	}

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = e.Stop(context.Background())
	}()

	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background(), scheduler, metricsEngine) }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after Stop()")
	}
}
