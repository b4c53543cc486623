package workload

import (
	"fmt"
	"strconv"
	"time"

	"github.com/wesleyorama2/azbench/internal/performance/config"
)

// Schedule constants.
const (
	// TargetSamples is the total sample count shared by the burst sizes.
	TargetSamples = 3000

	// BurstBuckets is the number of burst sizes TargetSamples is split
	// across, giving each burst size its per-bucket share.
	BurstBuckets = 4

	// BurstPause separates the start of consecutive bursts.
	BurstPause = 10 * time.Second

	// ConstantScenarios is the number of single-request scenarios in
	// constant mode, and the request count of the single-VU mode.
	ConstantScenarios = 500

	// TagID is the scenario tag holding a constant-mode request's id.
	TagID = "id"
)

// SamplesPerBucket is the sample share of a single burst size.
const SamplesPerBucket = TargetSamples / BurstBuckets

// Build creates the run configuration for p. It is a pure function of p:
// the same parameters always produce the same schedule.
func Build(p Params) (*config.TestConfig, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	base, err := NormalizeURL(p.URL)
	if err != nil {
		return nil, err
	}
	p.URL = base

	cfg := &config.TestConfig{
		Settings: config.GlobalSettings{BaseURL: base},
	}

	switch p.Mode {
	case ModeBurst:
		cfg.Name = fmt.Sprintf("burst-%d", p.BurstSize)
		cfg.Description = fmt.Sprintf("%d bursts of %d concurrent requests, %s apart",
			BurstRepetitions(p.BurstSize), p.BurstSize, BurstPause)
		cfg.Scenarios = burstScenarios(p)
	case ModeConstant:
		cfg.Name = fmt.Sprintf("constant-%dms", p.InvokeDelay)
		cfg.Description = fmt.Sprintf("%d single requests, one every %dms", ConstantScenarios, p.InvokeDelay)
		cfg.Scenarios = constantScenarios(p)
	case ModeConstantOneVU:
		cfg.Name = fmt.Sprintf("constant-one-vu-%dms", p.InvokeDelay)
		cfg.Description = fmt.Sprintf("%d requests through one VU, one every %dms", ConstantScenarios, p.InvokeDelay)
		cfg.Scenarios = constantOneVUScenarios(p)
	}

	return cfg, nil
}

// BurstRepetitions is the number of bursts needed to reach the per-bucket
// sample share with bursts of size burstSize.
func BurstRepetitions(burstSize int) int {
	if burstSize <= 0 {
		return 0
	}
	return (SamplesPerBucket + burstSize - 1) / burstSize
}

func burstScenarios(p Params) map[string]*config.ScenarioConfig {
	n := BurstRepetitions(p.BurstSize)
	scenarios := make(map[string]*config.ScenarioConfig, n)
	for i := 0; i < n; i++ {
		scenarios[ScenarioName(p.Mode, i)] = &config.ScenarioConfig{
			Executor:   config.ExecutorPerVUIterations,
			VUs:        p.BurstSize,
			Iterations: 1,
			StartTime:  config.FormatDuration(BurstPause * time.Duration(i)),
			Requests:   []config.RequestConfig{Request(p)},
		}
	}
	return scenarios
}

func constantScenarios(p Params) map[string]*config.ScenarioConfig {
	delay := time.Duration(p.InvokeDelay) * time.Millisecond
	scenarios := make(map[string]*config.ScenarioConfig, ConstantScenarios)
	for i := 0; i < ConstantScenarios; i++ {
		scenarios[ScenarioName(p.Mode, i)] = &config.ScenarioConfig{
			Executor:   config.ExecutorPerVUIterations,
			VUs:        1,
			Iterations: 1,
			StartTime:  config.FormatDuration(delay * time.Duration(i)),
			Tags:       map[string]string{TagID: strconv.Itoa(i)},
			Requests:   []config.RequestConfig{Request(p)},
		}
	}
	return scenarios
}

func constantOneVUScenarios(p Params) map[string]*config.ScenarioConfig {
	delay := time.Duration(p.InvokeDelay) * time.Millisecond
	return map[string]*config.ScenarioConfig{
		ScenarioName(p.Mode, 0): {
			Executor:        config.ExecutorConstantArrivalRate,
			Rate:            1,
			TimeUnit:        config.FormatDuration(delay),
			Duration:        config.FormatDuration(delay * ConstantScenarios),
			PreAllocatedVUs: 1,
			MaxVUs:          1,
			Requests:        []config.RequestConfig{Request(p)},
		},
	}
}

// ScenarioName names the i-th scenario of a mode. Indexes are zero-padded
// so names sort in start order.
func ScenarioName(m Mode, i int) string {
	if m == ModeConstantOneVU {
		return m.InvokeMode()
	}
	return fmt.Sprintf("%s_%03d", m.InvokeMode(), i)
}
