package cli

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/azbench/internal/performance/config"
	"github.com/wesleyorama2/azbench/internal/workload"
)

const planURL = "https://fn-bench.azurewebsites.net/api/bench"

func TestPlanCmd_FromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("MODE", "BURST")
	t.Setenv("BURST_SIZE", "100")
	t.Setenv("BENCHMARK_URL", planURL)

	out, err := execute(t, "plan")
	require.NoError(t, err)

	cfg, err := config.ParseConfig([]byte(out), "plan.yaml")
	require.NoError(t, err)
	assert.Equal(t, "burst-100", cfg.Name)
	assert.Equal(t, planURL, cfg.Settings.BaseURL)
	assert.Len(t, cfg.Scenarios, workload.BurstRepetitions(100))

	first := cfg.Scenarios[workload.ScenarioName(workload.ModeBurst, 0)]
	require.NotNil(t, first)
	assert.Equal(t, 100, first.VUs)
	require.Len(t, first.Requests, 1)
	assert.Equal(t, "burst", first.Requests[0].Query[workload.QueryInvokeMode])
	assert.Equal(t, "100", first.Requests[0].Query[workload.QueryInvokeInput])
}

func TestPlanCmd_FlagsOverrideEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("MODE", "BURST")
	t.Setenv("BURST_SIZE", "100")

	out, err := execute(t, "plan", "--mode", "constant", "--invoke-delay", "250", "--format", "json")
	require.NoError(t, err)
	require.True(t, json.Valid([]byte(out)))

	var cfg config.TestConfig
	require.NoError(t, json.Unmarshal([]byte(out), &cfg))
	assert.Equal(t, "constant-250ms", cfg.Name)
	assert.Len(t, cfg.Scenarios, workload.ConstantScenarios)

	last := cfg.Scenarios[workload.ScenarioName(workload.ModeConstant, workload.ConstantScenarios-1)]
	require.NotNil(t, last)
	assert.Equal(t, "499", last.Tags[workload.TagID])
}

func TestPlanCmd_OutputFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "plan.json")

	out, err := execute(t, "plan", "--mode", "CONSTANT_ONE_VU", "--invoke-delay", "20", "-o", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Plan written to "+path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, json.Valid(data), "format follows the file extension")

	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)
	assert.Contains(t, cfg.Scenarios, workload.ScenarioName(workload.ModeConstantOneVU, 0))
}

func TestPlanCmd_Errors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		args []string
		want error
	}{
		{
			name: "missing mode",
			want: workload.ErrInvalidMode,
		},
		{
			name: "unknown mode",
			env:  map[string]string{"MODE": "RAMP"},
			want: workload.ErrInvalidMode,
		},
		{
			name: "non-numeric burst size",
			env:  map[string]string{"MODE": "BURST", "BURST_SIZE": "lots"},
			want: workload.ErrInvalidParameter,
		},
		{
			name: "missing delay",
			args: []string{"--mode", "CONSTANT"},
			want: workload.ErrInvalidParameter,
		},
		{
			name: "relative url",
			args: []string{"--mode", "BURST", "--burst-size", "5", "--url", "/api/bench"},
			want: workload.ErrInvalidURL,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := execute(t, append([]string{"plan"}, tt.args...)...)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "err = %v", err)
		})
	}
}

func TestPlanCmd_UnknownFormat(t *testing.T) {
	clearEnv(t)

	_, err := execute(t, "plan", "--mode", "BURST", "--burst-size", "5", "--format", "toml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported format")
}
