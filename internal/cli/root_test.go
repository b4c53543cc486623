package cli

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestExecute tests the Execute function
func TestExecute(t *testing.T) {
	// Just make sure the function doesn't panic
	defer func() {
		if r := recover(); r != nil {
			t.Errorf("Execute() panicked: %v", r)
		}
	}()

	// os.Args holds the test binary's flags, so an error is expected
	_ = Execute()
}

// clearEnv unsets every variable the command line reads.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, env := range envBindings {
		t.Setenv(env, "")
	}
}

// execute runs the command tree with args and returns its output.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// countingServer answers every request with status and counts them.
func countingServer(t *testing.T, status int) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestRootCmd_Help(t *testing.T) {
	clearEnv(t)

	out, err := execute(t)
	require.NoError(t, err)
	assert.Contains(t, out, "azbench")
	for _, sub := range []string{"plan", "run", "history", "version"} {
		assert.Contains(t, out, sub)
	}
}

func TestRootCmd_InvalidLogLevel(t *testing.T) {
	clearEnv(t)

	_, err := execute(t, "version", "--log-level", "loud")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
}

func TestRootCmd_LogLevelFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("AZBENCH_LOG_LEVEL", "nope")

	_, err := execute(t, "version")
	require.Error(t, err)

	// the flag wins over the environment
	_, err = execute(t, "version", "--log-level", "error")
	assert.NoError(t, err)
}

func TestVersionCmd(t *testing.T) {
	clearEnv(t)

	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "azbench "+version))
}

func TestSetupLogging(t *testing.T) {
	for _, level := range []string{"debug", "INFO", " warn ", "error", ""} {
		assert.NoError(t, setupLogging(level), level)
	}
	err := setupLogging("verbose")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrRunFailed))
}
