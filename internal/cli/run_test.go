package cli

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/azbench/internal/history"
	"github.com/wesleyorama2/azbench/internal/workload"
)

// resultHead is the part of the JSON result the tests look at.
type resultHead struct {
	RunID  string `json:"runId"`
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
}

func TestRunCmd_MissingURL(t *testing.T) {
	clearEnv(t)
	t.Setenv("MODE", "BURST")
	t.Setenv("BURST_SIZE", "10")

	_, err := execute(t, "run", "--no-history")
	require.Error(t, err)
	assert.True(t, errors.Is(err, workload.ErrMissingURL))
}

func TestRunCmd_InvalidThreshold(t *testing.T) {
	clearEnv(t)
	srv, hits := countingServer(t, http.StatusOK)

	_, err := execute(t, "run", "--no-history",
		"--mode", "BURST", "--burst-size", "1", "--url", srv.URL,
		"--threshold", "http_req_bytes:count>1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown threshold metric")
	assert.Zero(t, hits.Load(), "nothing is sent before the thresholds parse")
}

func TestRunCmd_JSONAndHistory(t *testing.T) {
	clearEnv(t)
	srv, hits := countingServer(t, http.StatusOK)
	db := filepath.Join(t.TempDir(), "history.db")
	resultFile := filepath.Join(t.TempDir(), "out", "result.json")

	t.Setenv("MODE", "CONSTANT_ONE_VU")
	t.Setenv("INVOKE_DELAY", "1")
	t.Setenv("BENCHMARK_URL", srv.URL+"/api/bench?code=secret")
	t.Setenv("AZBENCH_HISTORY_DB", db)

	out, err := execute(t, "run", "--json", "--run-id", "run-cli", "-o", resultFile)
	require.NoError(t, err)

	var head resultHead
	require.NoError(t, json.Unmarshal([]byte(out), &head), out)
	assert.Equal(t, "run-cli", head.RunID)
	assert.Equal(t, "constant-one-vu-1ms", head.Name)
	assert.True(t, head.Passed)
	assert.NotZero(t, hits.Load())

	data, err := os.ReadFile(resultFile)
	require.NoError(t, err)
	assert.True(t, json.Valid(data))

	store, err := history.Open(db)
	require.NoError(t, err)
	rec, err := store.Get("run-cli")
	require.NoError(t, err)
	require.NoError(t, store.Close())

	assert.Equal(t, "CONSTANT_ONE_VU", rec.Mode)
	assert.Equal(t, 1, rec.Input)
	assert.Equal(t, srv.URL+"/api/bench", rec.URL, "the function key is not stored")
	assert.Equal(t, hits.Load(), rec.Summary.Requests)
}

func TestRunCmd_ThresholdFailure(t *testing.T) {
	clearEnv(t)
	srv, _ := countingServer(t, http.StatusInternalServerError)

	out, err := execute(t, "run", "--no-history", "--quiet",
		"--mode", "CONSTANT_ONE_VU", "--invoke-delay", "1", "--url", srv.URL,
		"--threshold", "http_req_failed:rate<0.01")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRunFailed), "err = %v", err)
	assert.Contains(t, out, "FAILED")
}

func TestRunCmd_Summary(t *testing.T) {
	clearEnv(t)
	srv, hits := countingServer(t, http.StatusOK)

	reportFile := filepath.Join(t.TempDir(), "report.html")

	out, err := execute(t, "run", "--no-history", "--no-color", "-o", reportFile,
		"--mode", "CONSTANT_ONE_VU", "--invoke-delay", "1", "--url", srv.URL, "--run-id", "run-summary")
	require.NoError(t, err)
	assert.Contains(t, out, "run-summary")
	assert.Contains(t, out, "constant-one-vu-1ms")
	assert.Contains(t, out, "Total Reqs")
	assert.NotZero(t, hits.Load())

	html, err := os.ReadFile(reportFile)
	require.NoError(t, err)
	assert.Contains(t, string(html), "<!DOCTYPE html>")
	assert.Contains(t, string(html), "run-summary")
}

func TestRunCmd_ConfigFile(t *testing.T) {
	clearEnv(t)
	srv, hits := countingServer(t, http.StatusOK)
	plan := filepath.Join(t.TempDir(), "plan.yaml")

	_, err := execute(t, "plan", "--mode", "CONSTANT_ONE_VU", "--invoke-delay", "1", "-o", plan)
	require.NoError(t, err)

	// the plan has no URL, so the run needs one
	_, err = execute(t, "run", "--no-history", "--config", plan)
	require.Error(t, err)
	assert.True(t, errors.Is(err, workload.ErrMissingURL))

	out, err := execute(t, "run", "--no-history", "--json", "--config", plan, "--url", srv.URL)
	require.NoError(t, err)

	var head resultHead
	require.NoError(t, json.Unmarshal([]byte(out), &head), out)
	assert.True(t, head.Passed)
	assert.NotZero(t, hits.Load())
}

func TestRunCmd_ConfigFileNotFound(t *testing.T) {
	clearEnv(t)

	_, err := execute(t, "run", "--no-history", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

// queryServer records the path and query of every request.
func queryServer(t *testing.T) (*httptest.Server, func() []*url.URL) {
	t.Helper()
	var mu sync.Mutex
	var seen []*url.URL
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.URL)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []*url.URL {
		mu.Lock()
		defer mu.Unlock()
		return append([]*url.URL(nil), seen...)
	}
}

func TestRunCmd_ConfigFileURLShapes(t *testing.T) {
	tests := []struct {
		name     string
		planURL  string // path and query appended to the server URL, "-" for none
		runURL   string
		wantCode string
	}{
		{name: "plan without url, run with function key", planURL: "-", runURL: "/api/bench?code=KEY", wantCode: "KEY"},
		{name: "plan with function key, run without", planURL: "/api/bench?code=OLD", runURL: "/api/bench"},
		{name: "plan without key, run with key", planURL: "/api/bench", runURL: "/api/bench?code=KEY", wantCode: "KEY"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			srv, seen := queryServer(t)
			plan := filepath.Join(t.TempDir(), "plan.yaml")
			db := filepath.Join(t.TempDir(), "history.db")

			args := []string{"plan", "--mode", "CONSTANT_ONE_VU", "--invoke-delay", "1", "-o", plan}
			if tt.planURL != "-" {
				args = append(args, "--url", srv.URL+tt.planURL)
			}
			_, err := execute(t, args...)
			require.NoError(t, err)

			_, err = execute(t, "run", "--json", "--history-db", db, "--run-id", "shape",
				"--config", plan, "--url", srv.URL+tt.runURL)
			require.NoError(t, err)

			urls := seen()
			require.NotEmpty(t, urls)
			ids := make(map[string]bool, len(urls))
			for _, u := range urls {
				q := u.Query()
				assert.Equal(t, "/api/bench", u.Path)
				assert.Equal(t, "constant_one_vu", q.Get("invokeMode"))
				assert.Equal(t, "1", q.Get("invokeInput"))
				assert.Equal(t, tt.wantCode, q.Get("code"))
				require.NotEmpty(t, q.Get("id"))
				ids[q.Get("id")] = true
			}
			assert.Len(t, ids, len(urls), "ids are unique")

			store, err := history.Open(db)
			require.NoError(t, err)
			defer store.Close()
			rec, err := store.Get("shape")
			require.NoError(t, err)
			assert.Equal(t, "CONSTANT_ONE_VU", rec.Mode)
			assert.Equal(t, 1, rec.Input)
			assert.Equal(t, srv.URL+"/api/bench", rec.URL)
		})
	}
}
