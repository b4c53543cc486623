package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/wesleyorama2/azbench/internal/performance/config"
)

// NewExecutor creates a new executor of the specified type.
//
// Supported types:
//   - "per-vu-iterations" - fixed iterations on a fixed number of VUs
//   - "constant-arrival-rate" - fixed iteration rate (open model)
//
// Returns an uninitialized executor. Call Init() before Run().
func NewExecutor(executorType Type) (Executor, error) {
	switch executorType {
	case TypePerVUIterations:
		return NewPerVUIterations(), nil
	case TypeConstantArrivalRate:
		return NewConstantArrivalRate(), nil
	default:
		return nil, fmt.Errorf("unknown executor type: %s", executorType)
	}
}

// CreateAndInitExecutor creates and initializes an executor with the given config.
func CreateAndInitExecutor(ctx context.Context, cfg *Config) (Executor, error) {
	exec, err := NewExecutor(cfg.Type)
	if err != nil {
		return nil, err
	}

	if err := exec.Init(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize executor: %w", err)
	}

	return exec, nil
}

// CreateExecutorFromScenarioConfig creates and initializes an executor from
// a scenario config.
func CreateExecutorFromScenarioConfig(ctx context.Context, name string, sc *config.ScenarioConfig) (Executor, *Config, error) {
	execConfig, err := ConvertScenarioConfig(name, sc)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to convert scenario config: %w", err)
	}

	exec, err := CreateAndInitExecutor(ctx, execConfig)
	if err != nil {
		return nil, nil, err
	}

	return exec, execConfig, nil
}

// ConvertScenarioConfig converts a config.ScenarioConfig to an executor Config,
// parsing its duration strings.
func ConvertScenarioConfig(name string, sc *config.ScenarioConfig) (*Config, error) {
	cfg := &Config{
		Name:            name,
		Type:            Type(sc.Executor),
		VUs:             sc.VUs,
		Iterations:      int64(sc.Iterations),
		Rate:            sc.Rate,
		PreAllocatedVUs: sc.PreAllocatedVUs,
		MaxVUs:          sc.MaxVUs,
	}

	durations := []struct {
		field string
		value string
		dst   *time.Duration
	}{
		{"duration", sc.Duration, &cfg.Duration},
		{"maxDuration", sc.MaxDuration, &cfg.MaxDuration},
		{"timeUnit", sc.TimeUnit, &cfg.TimeUnit},
		{"startTime", sc.StartTime, &cfg.StartTime},
		{"gracefulStop", sc.GracefulStop, &cfg.GracefulStop},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		parsed, err := config.ParseDurationString(d.value)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", d.field, err)
		}
		*d.dst = parsed
	}

	return cfg, nil
}

// IsValidExecutorType returns true if the type is a valid executor type.
func IsValidExecutorType(executorType string) bool {
	switch Type(executorType) {
	case TypePerVUIterations, TypeConstantArrivalRate:
		return true
	default:
		return false
	}
}

// GetSupportedExecutors returns a list of all supported executor types.
func GetSupportedExecutors() []Type {
	return []Type{TypePerVUIterations, TypeConstantArrivalRate}
}

// CalculateMaxVUs returns the maximum number of VUs that might be used.
func CalculateMaxVUs(cfg *Config) int {
	if cfg.Type == TypeConstantArrivalRate {
		if cfg.MaxVUs > cfg.PreAllocatedVUs {
			return cfg.MaxVUs
		}
		return cfg.PreAllocatedVUs
	}
	return cfg.VUs
}
