package domain

import (
	"context"
	"time"
)

// PriceCache provides fast access to the latest prices. Keys are
// venue-qualified so the websocket feed and the REST read-through path
// overwrite the same entries.
type PriceCache interface {
	SetPrice(ctx context.Context, venue Venue, symbol string, price float64, ts time.Time) error
	GetPrice(ctx context.Context, venue Venue, symbol string) (float64, time.Time, error)
}

// InstrumentCache stores instrument precision metadata with a TTL.
type InstrumentCache interface {
	Set(ctx context.Context, inst Instrument, ttl time.Duration) error
	Get(ctx context.Context, venue Venue, symbol string, category Category) (Instrument, error)
}

// KlineCache stores candle windows keyed by the full query shape.
type KlineCache interface {
	Set(ctx context.Context, key string, window Window, ttl time.Duration) error
	Get(ctx context.Context, key string) (Window, error)
}

// PairsCache stores the venue's tradable symbol list.
type PairsCache interface {
	Set(ctx context.Context, venue Venue, category Category, symbols []string, ttl time.Duration) error
	Get(ctx context.Context, venue Venue, category Category) ([]string, error)
}

// ExecutionGuard remembers the last run of a time-gated action (the DCA
// interval). Mark sets the guard with the given TTL; Held reports whether
// the guard is still in effect.
type ExecutionGuard interface {
	Mark(ctx context.Context, key string, ttl time.Duration) error
	Held(ctx context.Context, key string) (bool, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}
