package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies CEXBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known CEXBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "CEXBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "CEXBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "CEXBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "CEXBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "CEXBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "CEXBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "CEXBOT_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "CEXBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "CEXBOT_POSTGRES_POOL_MIN_CONNS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "CEXBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "CEXBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "CEXBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "CEXBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "CEXBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "CEXBOT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "CEXBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "CEXBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "CEXBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "CEXBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "CEXBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "CEXBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "CEXBOT_S3_FORCE_PATH_STYLE")

	// ── Exchange ──
	setDuration(&cfg.Exchange.HTTPTimeout, "CEXBOT_EXCHANGE_HTTP_TIMEOUT")
	setInt(&cfg.Exchange.RecvWindowMs, "CEXBOT_EXCHANGE_RECV_WINDOW_MS")
	setInt(&cfg.Exchange.RateLimitPerSec, "CEXBOT_EXCHANGE_RATE_LIMIT_PER_SEC")
	setDuration(&cfg.Exchange.InstrumentTTL, "CEXBOT_EXCHANGE_INSTRUMENT_TTL")
	setDuration(&cfg.Exchange.PriceTTL, "CEXBOT_EXCHANGE_PRICE_TTL")
	setDuration(&cfg.Exchange.KlineTTL, "CEXBOT_EXCHANGE_KLINE_TTL")
	setDuration(&cfg.Exchange.PairsTTL, "CEXBOT_EXCHANGE_PAIRS_TTL")
	setStr(&cfg.Exchange.BybitBaseURL, "CEXBOT_EXCHANGE_BYBIT_BASE_URL")
	setStr(&cfg.Exchange.BinanceSpotURL, "CEXBOT_EXCHANGE_BINANCE_SPOT_URL")
	setStr(&cfg.Exchange.BinanceFuturesURL, "CEXBOT_EXCHANGE_BINANCE_FUTURES_URL")
	setStr(&cfg.Exchange.OKXBaseURL, "CEXBOT_EXCHANGE_OKX_BASE_URL")

	// ── Scheduler ──
	setDuration(&cfg.Scheduler.LockTTL, "CEXBOT_SCHEDULER_LOCK_TTL")
	setDuration(&cfg.Scheduler.SoftBudget, "CEXBOT_SCHEDULER_SOFT_BUDGET")
	setDuration(&cfg.Scheduler.HardBudget, "CEXBOT_SCHEDULER_HARD_BUDGET")
	setInt(&cfg.Scheduler.MaxRetries, "CEXBOT_SCHEDULER_MAX_RETRIES")
	setDuration(&cfg.Scheduler.RetryBackoff, "CEXBOT_SCHEDULER_RETRY_BACKOFF")
	setDuration(&cfg.Scheduler.PollInterval, "CEXBOT_SCHEDULER_POLL_INTERVAL")

	// ── Feed ──
	setBool(&cfg.Feed.Enabled, "CEXBOT_FEED_ENABLED")
	setStr(&cfg.Feed.WsURL, "CEXBOT_FEED_WS_URL")
	setStringSlice(&cfg.Feed.Symbols, "CEXBOT_FEED_SYMBOLS")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "CEXBOT_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "CEXBOT_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.Archive.Interval, "CEXBOT_ARCHIVE_INTERVAL")
	setInt(&cfg.Archive.BatchSize, "CEXBOT_ARCHIVE_BATCH_SIZE")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "CEXBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "CEXBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "CEXBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "CEXBOT_NOTIFY_EVENTS")

	// ── Validate ──
	setStr(&cfg.ValidateMode.Venue, "CEXBOT_VALIDATE_VENUE")
	setStr(&cfg.ValidateMode.APIKey, "CEXBOT_VALIDATE_API_KEY")
	setStr(&cfg.ValidateMode.APISecret, "CEXBOT_VALIDATE_API_SECRET")
	setStr(&cfg.ValidateMode.Passphrase, "CEXBOT_VALIDATE_PASSPHRASE")

	// ── Top-level ──
	setStr(&cfg.Mode, "CEXBOT_MODE")
	setStr(&cfg.LogLevel, "CEXBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
