package history

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/azbench/internal/performance/engine"
	"github.com/wesleyorama2/azbench/internal/performance/metrics"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func record(id string, started time.Time) RunRecord {
	return RunRecord{ID: id, Name: "burst-100", Mode: "BURST", Input: 100, StartedAt: started, Passed: true}
}

func TestStore_SaveAndGet(t *testing.T) {
	s := openStore(t)
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.Save(record("a1b2c3", started)))

	got, err := s.Get("a1b2c3")
	require.NoError(t, err)
	assert.Equal(t, "burst-100", got.Name)
	assert.True(t, got.StartedAt.Equal(started))

	_, err = s.Get("missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestStore_ListNewestFirst(t *testing.T) {
	s := openStore(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// saved out of order on purpose
	require.NoError(t, s.Save(record("second", base.Add(time.Minute))))
	require.NoError(t, s.Save(record("first", base)))
	require.NoError(t, s.Save(record("third", base.Add(2*time.Minute))))

	all, err := s.List(0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"third", "second", "first"}, []string{all[0].ID, all[1].ID, all[2].ID})

	latest, err := s.List(2)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, "third", latest[0].ID)
}

func TestStore_SaveReplaces(t *testing.T) {
	s := openStore(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	rec := record("run", base)
	require.NoError(t, s.Save(rec))

	rec.StartedAt = base.Add(time.Hour)
	rec.Passed = false
	require.NoError(t, s.Save(rec))

	all, err := s.List(0)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.False(t, all[0].Passed)
}

func TestStore_GetByPrefix(t *testing.T) {
	s := openStore(t)
	now := time.Now()

	require.NoError(t, s.Save(record("0b7c1e2a", now)))
	require.NoError(t, s.Save(record("0b7d9f00", now.Add(time.Second))))

	got, err := s.Get("0b7c")
	require.NoError(t, err)
	assert.Equal(t, "0b7c1e2a", got.ID)

	_, err = s.Get("0b7")
	assert.True(t, errors.Is(err, ErrAmbiguousID))

	_, err = s.Get("ff")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestStore_Persists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Save(record("kept", time.Now())))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Get("kept")
	require.NoError(t, err)
	assert.Equal(t, "kept", got.ID)
	assert.Equal(t, path, s.Path())
}

func TestStore_SaveRequiresID(t *testing.T) {
	s := openStore(t)
	assert.Error(t, s.Save(RunRecord{Name: "anonymous"}))
}

func TestNewRecord(t *testing.T) {
	result := &engine.TestResult{
		RunID:     "run-7",
		Name:      "constant-250ms",
		StartTime: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Duration:  2 * time.Minute,
		Passed:    false,
		Error:     "scenario constant_010 failed: context canceled",
		Scenarios: map[string]*engine.ScenarioResult{
			"constant_000": {Iterations: 1},
			"constant_001": {Iterations: 1, Dropped: 2},
		},
		Metrics: &metrics.Snapshot{
			TotalRequests:   2,
			SuccessRequests: 1,
			FailedRequests:  1,
			ErrorRate:       0.5,
			Latency:         metrics.LatencyStats{P95: 300 * time.Millisecond, Max: time.Second},
		},
	}

	rec := NewRecord(result, "CONSTANT", 250, "https://user:pw@fn.azurewebsites.net/api/http?code=secret#x")

	assert.Equal(t, "run-7", rec.ID)
	assert.Equal(t, "CONSTANT", rec.Mode)
	assert.Equal(t, 250, rec.Input)
	assert.Equal(t, "https://fn.azurewebsites.net/api/http", rec.URL)
	assert.Equal(t, 2, rec.Summary.Scenarios)
	assert.Equal(t, int64(2), rec.Summary.Iterations)
	assert.Equal(t, int64(2), rec.Summary.Dropped)
	assert.Equal(t, int64(1), rec.Summary.Failed)
	assert.Equal(t, 300*time.Millisecond, rec.Summary.LatencyP95)
	assert.Equal(t, time.Second, rec.Summary.LatencyMax)
	assert.False(t, rec.Passed)
	assert.NotEmpty(t, rec.Error)
}
