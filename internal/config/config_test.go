package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
env: staging
server:
  port: 9090
  host: "0.0.0.0"

queue:
  enabled: true
  redis_url: "redis://localhost:6379/0"
  concurrency: 8
  rate_per_second: 20
  backoff_base: 500ms
  keep_failed_for: 72h

webhook:
  secret: "whsec_test"
  tolerance: 5m

provider:
  name: ses
  from: "Jobs <jobs@example.com>"
  ses:
    region: eu-west-1
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, "staging", cfg.Env)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0:9090", cfg.Server.Addr())

	assert.True(t, cfg.Queue.Enabled)
	assert.Equal(t, 8, cfg.Queue.Concurrency)
	assert.Equal(t, 20, cfg.Queue.RatePerSecond)
	assert.Equal(t, 500*time.Millisecond, cfg.Queue.BackoffBase)
	assert.Equal(t, 72*time.Hour, cfg.Queue.KeepFailedFor)
	assert.True(t, cfg.Queue.UseGlobalRateLimit())

	assert.Equal(t, "whsec_test", cfg.Webhook.Secret)
	assert.Equal(t, 5*time.Minute, cfg.Webhook.Tolerance)

	assert.Equal(t, "ses", cfg.Provider.Name)
	assert.Equal(t, "eu-west-1", cfg.Provider.SES.Region)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Env)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.False(t, cfg.Queue.Enabled)
	assert.Equal(t, 5, cfg.Queue.Concurrency)
	assert.Equal(t, 10, cfg.Queue.RatePerSecond)
	assert.Equal(t, 3, cfg.Queue.MaxAttempts)
	assert.Equal(t, time.Hour, cfg.Queue.KeepCompletedFor)
	assert.Equal(t, 7*24*time.Hour, cfg.Queue.KeepFailedFor)
	assert.Equal(t, "http", cfg.Provider.Name)
	assert.Equal(t, 30*time.Second, cfg.Provider.Timeout)
}

func TestLoadInvalidFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	assert.Error(t, err)

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("invalid: yaml: content: ["), 0644))

	_, err = Load(configPath)
	assert.Error(t, err)
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("queue:\n  concurrency: 3\n  redis_url: redis://yaml:6379\n"), 0644))

	t.Setenv("APP_ENV", "production")
	t.Setenv("WEBHOOK_SECRET", "from-env")
	t.Setenv("QUEUE_ENABLED", "true")
	t.Setenv("DATABASE_URL", "postgres://env/db")

	cfg, err := LoadFromEnv(configPath)
	require.NoError(t, err)

	assert.True(t, cfg.IsProduction())
	assert.Equal(t, "from-env", cfg.Webhook.Secret)
	assert.True(t, cfg.Queue.Enabled)
	assert.Equal(t, 3, cfg.Queue.Concurrency)
	assert.Equal(t, "redis://yaml:6379", cfg.Queue.RedisURL)
	assert.Equal(t, "postgres://env/db", cfg.Database.URL)
	assert.NoError(t, cfg.Validate())
}

func TestValidate_ProductionRequiresWebhookSecret(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.NoError(t, cfg.Validate(), "development may run without a secret")

	cfg.Env = "production"
	assert.ErrorIs(t, cfg.Validate(), ErrMissingWebhookSecret)

	cfg.Webhook.Secret = "s"
	assert.NoError(t, cfg.Validate())

	cfg.Provider.Name = "carrier-pigeon"
	assert.Error(t, cfg.Validate())
}

func TestValidate_StalledAfterMustExceedProviderTimeout(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	cfg.Provider.Timeout = cfg.Queue.StalledAfter
	assert.ErrorIs(t, cfg.Validate(), ErrStalledWithinTimeout)

	cfg.Provider.Timeout = 10 * time.Minute
	assert.ErrorIs(t, cfg.Validate(), ErrStalledWithinTimeout)

	cfg.Queue.StalledAfter = 11 * time.Minute
	assert.NoError(t, cfg.Validate())
}
