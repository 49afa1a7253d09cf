// Package exchange provides the venue-agnostic trading surface: a Client
// interface implemented by each venue package and an Adapter that layers
// rate limiting, precision handling and caching on top of it.
package exchange

import (
	"context"
	"time"

	"github.com/alanyoungcy/cexbot/internal/domain"
)

// Client is the raw venue surface. Implementations translate the
// venue-agnostic types to each venue's REST API and map failures onto the
// domain error kinds. Intervals are passed in the normalized form ("1m",
// "1h", "1d"); each client owns its venue's translation table.
type Client interface {
	Venue() domain.Venue

	GetInstrument(ctx context.Context, symbol string, category domain.Category) (domain.Instrument, error)
	GetTradingPairs(ctx context.Context, category domain.Category) ([]string, error)
	GetLastPrice(ctx context.Context, symbol string, category domain.Category) (float64, error)
	GetKlines(ctx context.Context, symbol, interval string, limit int, category domain.Category) (domain.Window, error)
	GetBalance(ctx context.Context, category domain.Category) (domain.Balance, error)
	CheckPermissions(ctx context.Context) (domain.KeyPermissions, error)

	CreateOrder(ctx context.Context, req domain.OrderRequest) (domain.Order, error)
	CancelOrder(ctx context.Context, symbol string, category domain.Category, orderID string) error
	GetOpenOrders(ctx context.Context, symbol string, category domain.Category) ([]domain.Order, error)
	GetOrderHistory(ctx context.Context, symbol string, category domain.Category, limit int) ([]domain.Order, error)
	SetLeverage(ctx context.Context, symbol string, category domain.Category, leverage int) error
}

// ClientFactory builds a raw venue client for the given venue and
// credentials. The concrete wiring lives in the app package so the venue
// packages can depend on this one.
type ClientFactory func(venue domain.Venue, creds domain.Credentials) (Client, error)

// AdapterConfig carries the adapter tunables. Explicit rather than global
// so tests and multi-venue setups can vary them independently.
type AdapterConfig struct {
	HTTPTimeout     time.Duration
	RecvWindowMs    int
	RateLimitPerSec int
	InstrumentTTL   time.Duration
	PriceTTL        time.Duration
	KlineTTL        time.Duration
	PairsTTL        time.Duration
}

// DefaultAdapterConfig returns the production defaults.
func DefaultAdapterConfig() AdapterConfig {
	return AdapterConfig{
		HTTPTimeout:     10 * time.Second,
		RecvWindowMs:    5000,
		RateLimitPerSec: 10,
		InstrumentTTL:   time.Hour,
		PriceTTL:        5 * time.Second,
		KlineTTL:        30 * time.Second,
		PairsTTL:        time.Hour,
	}
}
