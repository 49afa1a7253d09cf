// Package redis implements the domain cache, lock and rate limiter
// interfaces on go-redis/v9. Every consumer shares one pooled client: the
// per-bot cycle locks, the REST rate limiter and the market data caches.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// pingAttempts bounds the startup readiness loop. Under compose the engine
// regularly comes up before Redis does.
const (
	pingAttempts = 3
	pingBackoff  = 500 * time.Millisecond
)

// ClientConfig holds connection parameters for the shared Redis client.
type ClientConfig struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	TLSEnabled bool
}

// Client owns the pooled go-redis connection shared by the caches, the lock
// manager and the rate limiter.
type Client struct {
	rdb *redis.Client
}

// New connects to Redis and verifies the connection before returning. The
// initial ping is retried a few times so a racing Redis container does not
// fail the whole boot.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	opts := &redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		PoolSize:    cfg.PoolSize,
		MaxRetries:  cfg.MaxRetries,
		DialTimeout: 5 * time.Second,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	rdb := redis.NewClient(opts)

	var err error
	for attempt := 1; attempt <= pingAttempts; attempt++ {
		if err = rdb.Ping(ctx).Err(); err == nil {
			return &Client{rdb: rdb}, nil
		}
		if attempt < pingAttempts {
			select {
			case <-ctx.Done():
				_ = rdb.Close()
				return nil, ctx.Err()
			case <-time.After(pingBackoff):
			}
		}
	}

	_ = rdb.Close()
	return nil, fmt.Errorf("redis: ping %s: %w", cfg.Addr, err)
}

// Ping checks the Redis connection.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// RDB exposes the raw driver to the sibling files in this package.
func (c *Client) RDB() *redis.Client {
	return c.rdb
}
