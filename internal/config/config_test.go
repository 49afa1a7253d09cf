package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	assert.NoError(t, cfg.Validate())
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "nope"
	cfg.LogLevel = "loud"
	cfg.Redis.Addr = ""
	cfg.Exchange.RateLimitPerSec = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
	assert.Contains(t, err.Error(), "unknown log_level")
	assert.Contains(t, err.Error(), "redis: addr")
	assert.Contains(t, err.Error(), "rate_limit_per_sec")
}

func TestValidateSchedulerBudgets(t *testing.T) {
	cfg := Defaults()
	cfg.Scheduler.SoftBudget = duration{90 * time.Second}
	cfg.Scheduler.HardBudget = duration{60 * time.Second}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "soft_budget must be below hard_budget")
}

func TestValidateArchiveRequiresS3(t *testing.T) {
	cfg := Defaults()
	cfg.Archive.Enabled = true
	cfg.S3.Endpoint = ""
	cfg.S3.Bucket = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3: endpoint")
	assert.Contains(t, err.Error(), "s3: bucket")
}

func TestValidateModeNeedsCredentials(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "validate"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validate: venue")
	assert.Contains(t, err.Error(), "api_key and api_secret")
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "full"
log_level = "debug"

[scheduler]
lock_ttl = "30s"
poll_interval = "2s"

[exchange]
rate_limit_per_sec = 5
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "full", cfg.Mode)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.LockTTL.Duration)
	assert.Equal(t, 2*time.Second, cfg.Scheduler.PollInterval.Duration)
	assert.Equal(t, 5, cfg.Exchange.RateLimitPerSec)

	// Untouched sections keep their defaults.
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 5000, cfg.Exchange.RecvWindowMs)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CEXBOT_MODE", "archive")
	t.Setenv("CEXBOT_REDIS_ADDR", "redis.internal:6380")
	t.Setenv("CEXBOT_SCHEDULER_LOCK_TTL", "90s")
	t.Setenv("CEXBOT_FEED_SYMBOLS", "BTCUSDT, ETHUSDT")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	assert.Equal(t, "archive", cfg.Mode)
	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr)
	assert.Equal(t, 90*time.Second, cfg.Scheduler.LockTTL.Duration)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, cfg.Feed.Symbols)
}

func TestDurationRoundTrip(t *testing.T) {
	var d duration
	require.NoError(t, d.UnmarshalText([]byte("5m")))
	assert.Equal(t, 5*time.Minute, d.Duration)

	text, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "5m0s", string(text))

	assert.Error(t, d.UnmarshalText([]byte("not-a-duration")))
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Password = "hunter2"
	cfg.S3.SecretKey = "sekret"
	cfg.Notify.TelegramToken = "123:abc"
	cfg.ValidateMode.APISecret = "apisecret"

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Postgres.Password)
	assert.Equal(t, "***", out.S3.SecretKey)
	assert.Equal(t, "***", out.Notify.TelegramToken)
	assert.Equal(t, "***", out.ValidateMode.APISecret)

	// The original is untouched.
	assert.Equal(t, "hunter2", cfg.Postgres.Password)
}
