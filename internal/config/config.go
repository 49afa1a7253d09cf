// Package config defines the top-level configuration for the execution
// engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by CEXBOT_* environment variables.
type Config struct {
	Postgres     PostgresConfig  `toml:"postgres"`
	Redis        RedisConfig     `toml:"redis"`
	S3           S3Config        `toml:"s3"`
	Exchange     ExchangeConfig  `toml:"exchange"`
	Scheduler    SchedulerConfig `toml:"scheduler"`
	Feed         FeedConfig      `toml:"feed"`
	Archive      ArchiveConfig   `toml:"archive"`
	Notify       NotifyConfig    `toml:"notify"`
	ValidateMode ValidateConfig  `toml:"validate"`
	Mode         string          `toml:"mode"`
	LogLevel     string          `toml:"log_level"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN          string `toml:"dsn"`
	Host         string `toml:"host"`
	Port         int    `toml:"port"`
	Database     string `toml:"database"`
	User         string `toml:"user"`
	Password     string `toml:"password"`
	SSLMode      string `toml:"ssl_mode"`
	PoolMaxConns int    `toml:"pool_max_conns"`
	PoolMinConns int    `toml:"pool_min_conns"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ExchangeConfig holds the adapter tunables shared by every venue client.
type ExchangeConfig struct {
	HTTPTimeout       duration `toml:"http_timeout"`
	RecvWindowMs      int      `toml:"recv_window_ms"`
	RateLimitPerSec   int      `toml:"rate_limit_per_sec"`
	InstrumentTTL     duration `toml:"instrument_ttl"`
	PriceTTL          duration `toml:"price_ttl"`
	KlineTTL          duration `toml:"kline_ttl"`
	PairsTTL          duration `toml:"pairs_ttl"`
	BybitBaseURL      string   `toml:"bybit_base_url"`
	BinanceSpotURL    string   `toml:"binance_spot_url"`
	BinanceFuturesURL string   `toml:"binance_futures_url"`
	OKXBaseURL        string   `toml:"okx_base_url"`
}

// SchedulerConfig holds cycle scheduling parameters.
type SchedulerConfig struct {
	LockTTL      duration `toml:"lock_ttl"`
	SoftBudget   duration `toml:"soft_budget"`
	HardBudget   duration `toml:"hard_budget"`
	MaxRetries   int      `toml:"max_retries"`
	RetryBackoff duration `toml:"retry_backoff"`
	PollInterval duration `toml:"poll_interval"`
}

// FeedConfig holds the public websocket price feed parameters.
type FeedConfig struct {
	Enabled bool     `toml:"enabled"`
	WsURL   string   `toml:"ws_url"`
	Symbols []string `toml:"symbols"`
}

// ArchiveConfig holds audit log archival parameters.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	RetentionDays int      `toml:"retention_days"`
	Interval      duration `toml:"interval"`
	BatchSize     int      `toml:"batch_size"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// ValidateConfig holds the credentials checked in validate mode.
type ValidateConfig struct {
	Venue      string `toml:"venue"`
	APIKey     string `toml:"api_key"`
	APISecret  string `toml:"api_secret"`
	Passphrase string `toml:"passphrase"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Postgres: PostgresConfig{
			Host:         "localhost",
			Port:         5432,
			Database:     "cexbot",
			User:         "postgres",
			SSLMode:      "disable",
			PoolMaxConns: 10,
			PoolMinConns: 2,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "cexbot-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Exchange: ExchangeConfig{
			HTTPTimeout:       duration{10 * time.Second},
			RecvWindowMs:      5000,
			RateLimitPerSec:   10,
			InstrumentTTL:     duration{time.Hour},
			PriceTTL:          duration{5 * time.Second},
			KlineTTL:          duration{30 * time.Second},
			PairsTTL:          duration{time.Hour},
			BybitBaseURL:      "https://api.bybit.com",
			BinanceSpotURL:    "https://api.binance.com",
			BinanceFuturesURL: "https://fapi.binance.com",
			OKXBaseURL:        "https://www.okx.com",
		},
		Scheduler: SchedulerConfig{
			LockTTL:      duration{60 * time.Second},
			SoftBudget:   duration{50 * time.Second},
			HardBudget:   duration{60 * time.Second},
			MaxRetries:   3,
			RetryBackoff: duration{60 * time.Second},
			PollInterval: duration{5 * time.Second},
		},
		Feed: FeedConfig{
			Enabled: false,
			WsURL:   "wss://stream.bybit.com/v5/public/spot",
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 90,
			Interval:      duration{24 * time.Hour},
			BatchSize:     1000,
		},
		Notify: NotifyConfig{
			Events: []string{"bot_stopped", "deal_completed", "cycle_error"},
		},
		Mode:     "trade",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade":    true,
	"validate": true,
	"archive":  true,
	"full":     true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, validate, archive, full)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3 is only needed when archiving is on.
	if c.Archive.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when archiving is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archiving is enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if c.Archive.BatchSize < 1 {
			errs = append(errs, "archive: batch_size must be >= 1")
		}
	}

	// Exchange
	if c.Exchange.HTTPTimeout.Duration <= 0 {
		errs = append(errs, "exchange: http_timeout must be positive")
	}
	if c.Exchange.RecvWindowMs <= 0 {
		errs = append(errs, "exchange: recv_window_ms must be positive")
	}
	if c.Exchange.RateLimitPerSec < 1 {
		errs = append(errs, "exchange: rate_limit_per_sec must be >= 1")
	}

	// Scheduler
	if c.Scheduler.LockTTL.Duration <= 0 {
		errs = append(errs, "scheduler: lock_ttl must be positive")
	}
	if c.Scheduler.SoftBudget.Duration <= 0 || c.Scheduler.HardBudget.Duration <= 0 {
		errs = append(errs, "scheduler: budgets must be positive")
	}
	if c.Scheduler.SoftBudget.Duration >= c.Scheduler.HardBudget.Duration {
		errs = append(errs, "scheduler: soft_budget must be below hard_budget")
	}
	if c.Scheduler.MaxRetries < 0 {
		errs = append(errs, "scheduler: max_retries must be >= 0")
	}

	// Feed
	if c.Feed.Enabled {
		if c.Feed.WsURL == "" {
			errs = append(errs, "feed: ws_url must not be empty when enabled")
		}
		if len(c.Feed.Symbols) == 0 {
			errs = append(errs, "feed: at least one symbol is required when enabled")
		}
	}

	// Validate mode needs credentials to check.
	if strings.ToLower(c.Mode) == "validate" {
		if c.ValidateMode.Venue == "" {
			errs = append(errs, "validate: venue must not be empty in validate mode")
		}
		if c.ValidateMode.APIKey == "" || c.ValidateMode.APISecret == "" {
			errs = append(errs, "validate: api_key and api_secret are required in validate mode")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
