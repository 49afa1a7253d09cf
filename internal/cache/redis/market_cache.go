package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/cexbot/internal/domain"
	"github.com/redis/go-redis/v9"
)

// Market metadata caches: instrument precision, kline windows and the venue
// pair lists. All three store JSON values under TTL'd string keys.
//
// Key schema:
//
//	instrument:{venue}:{category}:{symbol} - JSON Instrument
//	klines:{key}                           - JSON Window
//	pairs:{venue}:{category}               - JSON symbol list
//	guard:{key}                            - plain marker with TTL

// InstrumentCache implements domain.InstrumentCache.
type InstrumentCache struct {
	rdb *redis.Client
}

// NewInstrumentCache creates an InstrumentCache backed by the given Client.
func NewInstrumentCache(c *Client) *InstrumentCache {
	return &InstrumentCache{rdb: c.RDB()}
}

func instrumentKey(venue domain.Venue, symbol string, category domain.Category) string {
	return fmt.Sprintf("instrument:%s:%s:%s", venue, category, symbol)
}

// Set stores an instrument's precision metadata under the given TTL.
func (ic *InstrumentCache) Set(ctx context.Context, inst domain.Instrument, ttl time.Duration) error {
	data, err := json.Marshal(inst)
	if err != nil {
		return fmt.Errorf("redis: marshal instrument %s: %w", inst.Symbol, err)
	}
	key := instrumentKey(inst.Venue, inst.Symbol, inst.Category)
	if err := ic.rdb.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis: set instrument %s: %w", inst.Symbol, err)
	}
	return nil
}

// Get retrieves a cached instrument. It returns domain.ErrNotFound when the
// key does not exist or has expired.
func (ic *InstrumentCache) Get(ctx context.Context, venue domain.Venue, symbol string, category domain.Category) (domain.Instrument, error) {
	data, err := ic.rdb.Get(ctx, instrumentKey(venue, symbol, category)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Instrument{}, domain.ErrNotFound
		}
		return domain.Instrument{}, fmt.Errorf("redis: get instrument %s: %w", symbol, err)
	}

	var inst domain.Instrument
	if err := json.Unmarshal(data, &inst); err != nil {
		return domain.Instrument{}, fmt.Errorf("redis: unmarshal instrument %s: %w", symbol, err)
	}
	return inst, nil
}

// KlineCache implements domain.KlineCache. The caller builds the key from
// the full query shape (venue, symbol, category, interval, limit) so windows
// of different shapes never collide.
type KlineCache struct {
	rdb *redis.Client
}

// NewKlineCache creates a KlineCache backed by the given Client.
func NewKlineCache(c *Client) *KlineCache {
	return &KlineCache{rdb: c.RDB()}
}

func klineKey(key string) string {
	return "klines:" + key
}

// Set stores a candle window under the given TTL.
func (kc *KlineCache) Set(ctx context.Context, key string, window domain.Window, ttl time.Duration) error {
	data, err := json.Marshal(window)
	if err != nil {
		return fmt.Errorf("redis: marshal klines %s: %w", key, err)
	}
	if err := kc.rdb.Set(ctx, klineKey(key), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis: set klines %s: %w", key, err)
	}
	return nil
}

// Get retrieves a cached candle window. It returns domain.ErrNotFound when
// the key does not exist or has expired.
func (kc *KlineCache) Get(ctx context.Context, key string) (domain.Window, error) {
	data, err := kc.rdb.Get(ctx, klineKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Window{}, domain.ErrNotFound
		}
		return domain.Window{}, fmt.Errorf("redis: get klines %s: %w", key, err)
	}

	var window domain.Window
	if err := json.Unmarshal(data, &window); err != nil {
		return domain.Window{}, fmt.Errorf("redis: unmarshal klines %s: %w", key, err)
	}
	return window, nil
}

// PairsCache implements domain.PairsCache.
type PairsCache struct {
	rdb *redis.Client
}

// NewPairsCache creates a PairsCache backed by the given Client.
func NewPairsCache(c *Client) *PairsCache {
	return &PairsCache{rdb: c.RDB()}
}

func pairsKey(venue domain.Venue, category domain.Category) string {
	return fmt.Sprintf("pairs:%s:%s", venue, category)
}

// Set stores a venue's tradable symbol list under the given TTL.
func (pc *PairsCache) Set(ctx context.Context, venue domain.Venue, category domain.Category, symbols []string, ttl time.Duration) error {
	data, err := json.Marshal(symbols)
	if err != nil {
		return fmt.Errorf("redis: marshal pairs %s %s: %w", venue, category, err)
	}
	if err := pc.rdb.Set(ctx, pairsKey(venue, category), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis: set pairs %s %s: %w", venue, category, err)
	}
	return nil
}

// Get retrieves a cached symbol list. It returns domain.ErrNotFound when the
// key does not exist or has expired.
func (pc *PairsCache) Get(ctx context.Context, venue domain.Venue, category domain.Category) ([]string, error) {
	data, err := pc.rdb.Get(ctx, pairsKey(venue, category)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("redis: get pairs %s %s: %w", venue, category, err)
	}

	var symbols []string
	if err := json.Unmarshal(data, &symbols); err != nil {
		return nil, fmt.Errorf("redis: unmarshal pairs %s %s: %w", venue, category, err)
	}
	return symbols, nil
}

// ExecutionGuard implements domain.ExecutionGuard as a TTL'd marker key. The
// DCA strategy uses it to gate one buy per configured interval across
// processes.
type ExecutionGuard struct {
	rdb *redis.Client
}

// NewExecutionGuard creates an ExecutionGuard backed by the given Client.
func NewExecutionGuard(c *Client) *ExecutionGuard {
	return &ExecutionGuard{rdb: c.RDB()}
}

func guardKey(key string) string {
	return "guard:" + strings.TrimPrefix(key, "guard:")
}

// Mark sets the guard with the given TTL.
func (eg *ExecutionGuard) Mark(ctx context.Context, key string, ttl time.Duration) error {
	if err := eg.rdb.Set(ctx, guardKey(key), "1", ttl).Err(); err != nil {
		return fmt.Errorf("redis: mark guard %s: %w", key, err)
	}
	return nil
}

// Held reports whether the guard is still in effect.
func (eg *ExecutionGuard) Held(ctx context.Context, key string) (bool, error) {
	n, err := eg.rdb.Exists(ctx, guardKey(key)).Result()
	if err != nil {
		return false, fmt.Errorf("redis: check guard %s: %w", key, err)
	}
	return n > 0, nil
}

// Compile-time interface checks.
var (
	_ domain.InstrumentCache = (*InstrumentCache)(nil)
	_ domain.KlineCache      = (*KlineCache)(nil)
	_ domain.PairsCache      = (*PairsCache)(nil)
	_ domain.ExecutionGuard  = (*ExecutionGuard)(nil)
)
