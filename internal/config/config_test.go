package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "server:\n  port: 9090\n"))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 5, cfg.Queue.Concurrency)
	assert.Equal(t, 3, cfg.Queue.MaxAttempts)
	assert.Equal(t, 50, cfg.Queue.RatePerSecond)
	assert.Equal(t, 60, cfg.Workers.MetricsIntervalSeconds)
	assert.Equal(t, 50, cfg.Workers.MetricsBatchSize)
	assert.Equal(t, 20, cfg.Workers.SyncIntervalMinutes)
	assert.Equal(t, 5, cfg.Thresholds.MailboxPauseBounces)
	assert.Equal(t, 3, cfg.Thresholds.MailboxWarningBounces)
	assert.Equal(t, 60, cfg.Thresholds.MailboxWarningWindow)
	assert.Equal(t, 100, cfg.Thresholds.RollingWindowSize)
	assert.Equal(t, 60.0, cfg.Thresholds.HardRiskCritical)
	assert.Equal(t, 30, cfg.Thresholds.DomainDailyCap)
	assert.Equal(t, 100, cfg.Thresholds.OrgDailyCap)
}

func TestLoadThresholdOverrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
thresholds:
  mailbox_pause_bounces: 8
  hard_risk_critical: 70
`))
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Thresholds.MailboxPauseBounces)
	assert.Equal(t, 70.0, cfg.Thresholds.HardRiskCritical)
	// untouched values still get defaults
	assert.Equal(t, 3, cfg.Thresholds.MailboxWarningBounces)
}

func TestLoadPlatforms(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
platforms:
  - name: emailbison
    base_url: https://api.emailbison.example
    api_key_env: EMAILBISON_API_KEY
    enabled: true
`))
	require.NoError(t, err)
	require.Len(t, cfg.Platforms, 1)
	p := cfg.Platforms[0]
	assert.Equal(t, "emailbison", p.Name)
	assert.Equal(t, 30, p.TimeoutSeconds) // default applied
	assert.True(t, p.Enabled)

	t.Setenv("EMAILBISON_API_KEY", "secret-key")
	assert.Equal(t, "secret-key", p.APIKey())
}

func TestLoadFromEnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://env-host/engine")
	t.Setenv("REDIS_URL", "redis://env-host:6379/0")

	cfg, err := LoadFromEnv(writeConfig(t, `
database:
  url: postgres://file-host/engine
`))
	require.NoError(t, err)
	assert.Equal(t, "postgres://env-host/engine", cfg.Database.URL)
	assert.Equal(t, "redis://env-host:6379/0", cfg.Redis.URL)
}

func TestLoadFromEnvMissingFile(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://only-env/engine")
	cfg, err := LoadFromEnv(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "postgres://only-env/engine", cfg.Database.URL)
	assert.Equal(t, 8080, cfg.Server.Port)
}
