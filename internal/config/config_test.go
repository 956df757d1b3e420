package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verwatch/verwatch/internal/check"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "verwatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "environment: development\n"))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, 30*time.Second, cfg.Transport.Timeout)
	assert.EqualValues(t, 10, cfg.Transport.MaxInFlight)
	assert.Equal(t, 10, cfg.Transport.MaxConnsPerHost)
	assert.Equal(t, 100, cfg.Transport.MaxConns)
	assert.Equal(t, 10, cfg.Scheduler.Slots)
	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.Equal(t, time.Hour, cfg.Cache.TTL)
	assert.False(t, cfg.Headless.Enabled)
}

func TestLoadFileOverrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
environment: production
http:
  addr: ":9090"
scheduler:
  slots: 4
  check_interval: 15m
transport:
  timeout: 10s
  host_rps: 2.5
packages:
  - id: ripgrep
    local_version: 14.1.0
    kind: github
    url: https://github.com/BurntSushi/ripgrep
    priority: high
`))
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.Equal(t, 4, cfg.Scheduler.Slots)
	assert.Equal(t, 15*time.Minute, cfg.Scheduler.CheckInterval)
	assert.Equal(t, 10*time.Second, cfg.Transport.Timeout)
	assert.InDelta(t, 2.5, cfg.Transport.HostRPS, 0.001)

	require.Len(t, cfg.Packages, 1)
	pkg := cfg.Packages[0].Package()
	assert.Equal(t, "ripgrep", pkg.ID)
	assert.Equal(t, "github", pkg.Source.Kind)
	assert.Equal(t, check.PriorityHigh, pkg.Priority)
}

func TestLoadMissingExplicitFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestRetryPolicyOverrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
retry:
  timeout:
    max_attempts: 5
    base_delay: 2s
    max_delay: 8s
  parse:
    retryable: false
`))
	require.NoError(t, err)

	policy := cfg.RetryPolicy()

	rule := policy.Rule(check.KindTimeout)
	assert.Equal(t, 5, rule.MaxAttempts)
	assert.Equal(t, 2*time.Second, rule.BaseDelay)
	assert.Equal(t, 8*time.Second, rule.MaxDelay)

	assert.False(t, policy.ShouldRetry(check.KindParse, 1))

	// untouched kinds keep their defaults
	assert.True(t, policy.ShouldRetry(check.KindNetwork, 1))
	assert.False(t, policy.ShouldRetry(check.KindNotFound, 1))
}
