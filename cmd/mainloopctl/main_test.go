package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	var outBuf, errBuf bytes.Buffer
	cmd := newRootCommand(&outBuf, &errBuf)
	cmd.SetArgs(args)
	err = cmd.ExecuteContext(context.Background())
	return outBuf.String(), errBuf.String(), err
}

func TestCountdown(t *testing.T) {
	stdout, _, err := execute(t, "countdown", "--interval", "1ms", "--count", "3")
	require.NoError(t, err)
	assert.Contains(t, stdout, "tick 2\ntick 1\ntick 0\n")
	assert.Contains(t, stdout, "done: 3 ticks")
}

func TestCountdown_invalid(t *testing.T) {
	_, _, err := execute(t, "countdown", "--count", "0")
	require.EqualError(t, err, "count must be positive")
}

func TestCountdown_env(t *testing.T) {
	t.Setenv("MAINLOOPCTL_COUNT", "2")
	t.Setenv("MAINLOOPCTL_INTERVAL", "1ms")
	stdout, _, err := execute(t, "countdown")
	require.NoError(t, err)
	assert.Contains(t, stdout, "done: 2 ticks")
	assert.NotContains(t, stdout, "tick 2")
}

func TestCountdown_configFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mainloopctl.yaml")
	require.NoError(t, os.WriteFile(path, []byte("count: 4\ninterval: 1ms\nlog-level: debug\n"), 0o600))

	stdout, stderr, err := execute(t, "--config", path, "countdown")
	require.NoError(t, err)
	assert.Contains(t, stdout, "done: 4 ticks")
	assert.Contains(t, stderr, "countdown finished")
}

func TestCountdown_flagOverridesEnv(t *testing.T) {
	t.Setenv("MAINLOOPCTL_COUNT", "5")
	stdout, _, err := execute(t, "countdown", "--count", "1", "--interval", "1ms")
	require.NoError(t, err)
	assert.Contains(t, stdout, "done: 1 ticks")
}

func TestLogLevel(t *testing.T) {
	_, _, err := execute(t, "--log-level", "loud", "countdown")
	require.EqualError(t, err, `unknown log level "loud"`)

	_, stderr, err := execute(t, "--log-level", "err", "countdown", "--count", "1", "--interval", "1ms")
	require.NoError(t, err)
	assert.Empty(t, stderr)
}

func TestParseLevel(t *testing.T) {
	for _, s := range []string{"emerg", "alert", "crit", "err", "error", "warning", "warn", "notice", "info", "debug", "trace", "disabled", " INFO "} {
		_, err := parseLevel(s)
		assert.NoError(t, err, s)
	}
}

func TestStats(t *testing.T) {
	stdout, _, err := execute(t, "stats", "--duration", "50ms", "--timers", "2", "--interval", "5ms", "--idle", "10")
	require.NoError(t, err)
	for _, want := range []string{"iterations", "dispatches", "dispatch p99", "sources max"} {
		assert.Contains(t, stdout, want)
	}
}

func TestStats_invalid(t *testing.T) {
	_, _, err := execute(t, "stats", "--duration", "0s")
	require.EqualError(t, err, "duration must be positive")
}
