package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/cexbot/internal/domain"
)

// rateLimitKey is the process-wide bucket every outbound venue call goes
// through.
const rateLimitKey = "exchange:rest"

// Caches bundles the read-through caches the adapter uses. Any field may
// be nil, in which case that concern goes straight to the venue.
type Caches struct {
	Price      domain.PriceCache
	Instrument domain.InstrumentCache
	Kline      domain.KlineCache
	Pairs      domain.PairsCache
}

// Adapter wraps a venue Client with the cross-cutting trading concerns:
// process-wide rate limiting, instrument precision handling with cached
// metadata, price and kline caching, and pre-network order checks.
type Adapter struct {
	client  Client
	cfg     AdapterConfig
	limiter domain.RateLimiter
	caches  Caches
	logger  *slog.Logger
}

// NewAdapter wires an adapter around client. limiter may be nil in tests.
func NewAdapter(client Client, cfg AdapterConfig, limiter domain.RateLimiter, caches Caches, logger *slog.Logger) *Adapter {
	return &Adapter{
		client:  client,
		cfg:     cfg,
		limiter: limiter,
		caches:  caches,
		logger:  logger.With(slog.String("component", "exchange"), slog.String("venue", string(client.Venue()))),
	}
}

// Venue returns the wrapped venue.
func (a *Adapter) Venue() domain.Venue { return a.client.Venue() }

// Instrument returns the precision rules for symbol, cached with the
// configured TTL. Zero or invalid venue values are replaced by defaults.
func (a *Adapter) Instrument(ctx context.Context, symbol string, category domain.Category) (domain.Instrument, error) {
	if a.caches.Instrument != nil {
		if inst, err := a.caches.Instrument.Get(ctx, a.Venue(), symbol, category); err == nil {
			return inst, nil
		}
	}

	if err := a.throttle(ctx); err != nil {
		return domain.Instrument{}, err
	}
	inst, err := a.client.GetInstrument(ctx, symbol, category)
	if err != nil {
		return domain.Instrument{}, err
	}

	if inst.Sanitize() {
		a.logger.WarnContext(ctx, "instrument metadata incomplete, defaults substituted",
			slog.String("symbol", symbol),
			slog.Float64("tick_size", inst.TickSize),
			slog.Float64("qty_step", inst.QtyStep),
			slog.Float64("min_order_qty", inst.MinOrderQty),
		)
	}

	if a.caches.Instrument != nil {
		if err := a.caches.Instrument.Set(ctx, inst, a.cfg.InstrumentTTL); err != nil {
			a.logger.WarnContext(ctx, "instrument cache write failed", slog.String("error", err.Error()))
		}
	}
	return inst, nil
}

// TradingPairs returns the venue's tradable symbols, cached.
func (a *Adapter) TradingPairs(ctx context.Context, category domain.Category) ([]string, error) {
	if a.caches.Pairs != nil {
		if pairs, err := a.caches.Pairs.Get(ctx, a.Venue(), category); err == nil && len(pairs) > 0 {
			return pairs, nil
		}
	}

	if err := a.throttle(ctx); err != nil {
		return nil, err
	}
	pairs, err := a.client.GetTradingPairs(ctx, category)
	if err != nil {
		return nil, err
	}

	if a.caches.Pairs != nil {
		if err := a.caches.Pairs.Set(ctx, a.Venue(), category, pairs, a.cfg.PairsTTL); err != nil {
			a.logger.WarnContext(ctx, "pairs cache write failed", slog.String("error", err.Error()))
		}
	}
	return pairs, nil
}

// LastPrice returns the most recent price of symbol, served from the price
// cache when fresh enough.
func (a *Adapter) LastPrice(ctx context.Context, symbol string, category domain.Category) (float64, error) {
	if a.caches.Price != nil {
		if price, ts, err := a.caches.Price.GetPrice(ctx, a.Venue(), symbol); err == nil {
			if time.Since(ts) <= a.cfg.PriceTTL {
				return price, nil
			}
		}
	}

	if err := a.throttle(ctx); err != nil {
		return 0, err
	}
	price, err := a.client.GetLastPrice(ctx, symbol, category)
	if err != nil {
		return 0, err
	}

	if a.caches.Price != nil {
		if err := a.caches.Price.SetPrice(ctx, a.Venue(), symbol, price, time.Now()); err != nil {
			a.logger.WarnContext(ctx, "price cache write failed", slog.String("error", err.Error()))
		}
	}
	return price, nil
}

// Klines returns up to limit candles of symbol at the normalized interval,
// oldest first, cached by the full query shape.
func (a *Adapter) Klines(ctx context.Context, symbol, interval string, limit int, category domain.Category) (domain.Window, error) {
	key := fmt.Sprintf("%s:%s:%s:%d:%s", a.Venue(), symbol, interval, limit, category)

	if a.caches.Kline != nil {
		if window, err := a.caches.Kline.Get(ctx, key); err == nil && len(window) > 0 {
			return window, nil
		}
	}

	if err := a.throttle(ctx); err != nil {
		return nil, err
	}
	window, err := a.client.GetKlines(ctx, symbol, interval, limit, category)
	if err != nil {
		return nil, err
	}

	if a.caches.Kline != nil {
		if err := a.caches.Kline.Set(ctx, key, window, a.cfg.KlineTTL); err != nil {
			a.logger.WarnContext(ctx, "kline cache write failed", slog.String("error", err.Error()))
		}
	}
	return window, nil
}

// Balance returns the account snapshot. Never cached: margin checks must
// see current numbers.
func (a *Adapter) Balance(ctx context.Context, category domain.Category) (domain.Balance, error) {
	if err := a.throttle(ctx); err != nil {
		return domain.Balance{}, err
	}
	return a.client.GetBalance(ctx, category)
}

// CheckPermissions verifies the API key is safe to trade with: trading
// enabled, withdrawals disabled.
func (a *Adapter) CheckPermissions(ctx context.Context) error {
	if err := a.throttle(ctx); err != nil {
		return err
	}
	perms, err := a.client.CheckPermissions(ctx)
	if err != nil {
		return err
	}
	if perms.CanWithdraw {
		return domain.BusinessErrorf("exchange: API key has withdraw permission, refusing to trade")
	}
	if !perms.CanTrade {
		return domain.BusinessErrorf("exchange: API key lacks trade permission")
	}
	return nil
}

// CreateOrder floors the request onto the instrument's precision grid and
// submits it. Quantities that round below the minimum order size are
// rejected before any network call.
func (a *Adapter) CreateOrder(ctx context.Context, req domain.OrderRequest) (domain.Order, error) {
	inst, err := a.Instrument(ctx, req.Symbol, req.Category)
	if err != nil {
		return domain.Order{}, fmt.Errorf("exchange: load instrument for order: %w", err)
	}

	req.Qty = FloorToStep(req.Qty, inst.QtyStep)
	if req.Type == domain.OrderTypeLimit {
		req.Price = FloorToTick(req.Price, inst.TickSize)
	}
	if req.Qty < inst.MinOrderQty {
		return domain.Order{}, domain.BusinessErrorf("exchange: qty %s below minimum %s for %s",
			FormatDecimal(req.Qty), FormatDecimal(inst.MinOrderQty), req.Symbol)
	}

	if err := a.throttle(ctx); err != nil {
		return domain.Order{}, err
	}
	order, err := a.client.CreateOrder(ctx, req)
	if err != nil {
		return domain.Order{}, err
	}

	a.logger.InfoContext(ctx, "order placed",
		slog.String("order_id", order.ID),
		slog.String("symbol", req.Symbol),
		slog.String("side", string(req.Side)),
		slog.String("type", string(req.Type)),
		slog.Float64("qty", req.Qty),
		slog.Float64("price", req.Price),
	)
	return order, nil
}

// CancelOrder cancels a resting order by id.
func (a *Adapter) CancelOrder(ctx context.Context, symbol string, category domain.Category, orderID string) error {
	if err := a.throttle(ctx); err != nil {
		return err
	}
	if err := a.client.CancelOrder(ctx, symbol, category, orderID); err != nil {
		return err
	}
	a.logger.InfoContext(ctx, "order cancelled",
		slog.String("order_id", orderID),
		slog.String("symbol", symbol),
	)
	return nil
}

// OpenOrders returns the resting orders for symbol.
func (a *Adapter) OpenOrders(ctx context.Context, symbol string, category domain.Category) ([]domain.Order, error) {
	if err := a.throttle(ctx); err != nil {
		return nil, err
	}
	return a.client.GetOpenOrders(ctx, symbol, category)
}

// OrderHistory returns recent orders for symbol.
func (a *Adapter) OrderHistory(ctx context.Context, symbol string, category domain.Category, limit int) ([]domain.Order, error) {
	if err := a.throttle(ctx); err != nil {
		return nil, err
	}
	return a.client.GetOrderHistory(ctx, symbol, category, limit)
}

// SetLeverage sets the leverage on a derivatives symbol.
func (a *Adapter) SetLeverage(ctx context.Context, symbol string, category domain.Category, leverage int) error {
	if leverage <= 0 {
		return nil
	}
	if err := a.throttle(ctx); err != nil {
		return err
	}
	return a.client.SetLeverage(ctx, symbol, category, leverage)
}

// throttle blocks until the process-wide rate budget admits one more call.
func (a *Adapter) throttle(ctx context.Context) error {
	if a.limiter == nil {
		return nil
	}
	if err := a.limiter.Wait(ctx, rateLimitKey); err != nil {
		return fmt.Errorf("exchange: rate limit wait: %w", err)
	}
	return nil
}
