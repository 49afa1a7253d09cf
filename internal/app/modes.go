package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/cexbot/internal/config"
	"github.com/alanyoungcy/cexbot/internal/domain"
	"github.com/alanyoungcy/cexbot/internal/exchange"
	"github.com/alanyoungcy/cexbot/internal/exchange/binance"
	"github.com/alanyoungcy/cexbot/internal/exchange/bybit"
	"github.com/alanyoungcy/cexbot/internal/exchange/okx"
	"github.com/alanyoungcy/cexbot/internal/feed"
	"github.com/alanyoungcy/cexbot/internal/scheduler"
	"github.com/alanyoungcy/cexbot/internal/signal"
	"github.com/alanyoungcy/cexbot/internal/strategy"
)

// venueClientFactory builds raw venue clients from the shared exchange
// tunables. It is the only place the venue packages are constructed.
func venueClientFactory(cfg config.ExchangeConfig) exchange.ClientFactory {
	return func(venue domain.Venue, creds domain.Credentials) (exchange.Client, error) {
		switch venue {
		case domain.VenueBybit:
			return bybit.NewClient(cfg.BybitBaseURL, creds, cfg.RecvWindowMs, cfg.HTTPTimeout.Duration), nil
		case domain.VenueBinance:
			return binance.NewClient(cfg.BinanceSpotURL, cfg.BinanceFuturesURL, creds, cfg.RecvWindowMs, cfg.HTTPTimeout.Duration), nil
		case domain.VenueOKX:
			return okx.NewClient(cfg.OKXBaseURL, creds, cfg.HTTPTimeout.Duration), nil
		default:
			return nil, domain.ConfigErrorf("app: unsupported venue %q", string(venue))
		}
	}
}

// adapterConfig maps the exchange section of the config onto the adapter
// tunables.
func adapterConfig(cfg config.ExchangeConfig) exchange.AdapterConfig {
	return exchange.AdapterConfig{
		HTTPTimeout:     cfg.HTTPTimeout.Duration,
		RecvWindowMs:    cfg.RecvWindowMs,
		RateLimitPerSec: cfg.RateLimitPerSec,
		InstrumentTTL:   cfg.InstrumentTTL.Duration,
		PriceTTL:        cfg.PriceTTL.Duration,
		KlineTTL:        cfg.KlineTTL.Duration,
		PairsTTL:        cfg.PairsTTL.Duration,
	}
}

// adapterCaches bundles the wired read-through caches for the adapters.
func adapterCaches(deps *Dependencies) exchange.Caches {
	return exchange.Caches{
		Price:      deps.PriceCache,
		Instrument: deps.InstrumentCache,
		Kline:      deps.KlineCache,
		Pairs:      deps.PairsCache,
	}
}

// marketDataRouter serves public market data for the signal evaluator by
// routing each request to a credential-less adapter for its venue.
type marketDataRouter struct {
	adapters map[domain.Venue]*exchange.Adapter
}

func newMarketDataRouter(cfg *config.Config, deps *Dependencies, logger *slog.Logger) (*marketDataRouter, error) {
	factory := venueClientFactory(cfg.Exchange)
	acfg := adapterConfig(cfg.Exchange)
	caches := adapterCaches(deps)

	adapters := make(map[domain.Venue]*exchange.Adapter)
	for _, venue := range []domain.Venue{domain.VenueBybit, domain.VenueBinance, domain.VenueOKX} {
		client, err := factory(venue, domain.Credentials{})
		if err != nil {
			return nil, fmt.Errorf("app: market data client for %s: %w", venue, err)
		}
		adapters[venue] = exchange.NewAdapter(client, acfg, deps.RateLimiter, caches, logger)
	}
	return &marketDataRouter{adapters: adapters}, nil
}

func (r *marketDataRouter) LastPrice(ctx context.Context, venue domain.Venue, symbol string, category domain.Category) (float64, error) {
	adapter, ok := r.adapters[venue]
	if !ok {
		return 0, domain.ConfigErrorf("app: no market data adapter for venue %q", string(venue))
	}
	return adapter.LastPrice(ctx, symbol, category)
}

func (r *marketDataRouter) Klines(ctx context.Context, venue domain.Venue, symbol, interval string, limit int, category domain.Category) (domain.Window, error) {
	adapter, ok := r.adapters[venue]
	if !ok {
		return domain.Window{}, domain.ConfigErrorf("app: no market data adapter for venue %q", string(venue))
	}
	return adapter.Klines(ctx, symbol, interval, limit, category)
}

var _ signal.MarketData = (*marketDataRouter)(nil)

// buildScheduler assembles the full trading stack: venue clients, the
// per-bot adapter factory, the signal evaluator, the strategy executor and
// the scheduler on top.
func (a *App) buildScheduler(deps *Dependencies) (*scheduler.Scheduler, error) {
	logger := slog.Default()

	factory := venueClientFactory(a.cfg.Exchange)
	acfg := adapterConfig(a.cfg.Exchange)
	caches := adapterCaches(deps)

	// Each bot carries its own credentials, so the adapter is built per
	// cycle around a fresh client.
	exchangeFactory := func(bot *domain.Bot) (strategy.Exchange, error) {
		client, err := factory(bot.Venue, bot.Credentials)
		if err != nil {
			return nil, err
		}
		return exchange.NewAdapter(client, acfg, deps.RateLimiter, caches, logger), nil
	}

	router, err := newMarketDataRouter(a.cfg, deps, logger)
	if err != nil {
		return nil, err
	}

	evaluator := signal.NewEvaluator(router, logger)
	executor := strategy.NewExecutor(exchangeFactory, strategy.DefaultRegistry(), evaluator, deps.ExecutionGuard, logger)

	return scheduler.New(
		deps.BotStore,
		deps.PositionStore,
		deps.AuditStore,
		deps.LockManager,
		executor,
		deps.Notifier,
		a.cfg.Scheduler,
		logger,
	), nil
}

// TradeMode runs the scheduler over every active bot, plus the public
// websocket price feed when enabled.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode")

	sched, err := a.buildScheduler(deps)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sched.Run(ctx) })

	if a.cfg.Feed.Enabled {
		ticker := feed.NewBybitTickerFeed(a.cfg.Feed.WsURL, a.cfg.Feed.Symbols, deps.PriceCache, slog.Default())
		g.Go(func() error { return ticker.Run(ctx) })
	}

	return g.Wait()
}

// ValidateMode checks the configured API key against its venue: the key
// must allow trading, must not allow withdrawals, and the account must be
// reachable. It runs once and exits.
func (a *App) ValidateMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting validate mode",
		slog.String("venue", a.cfg.ValidateMode.Venue),
	)

	venue, err := domain.ParseVenue(a.cfg.ValidateMode.Venue)
	if err != nil {
		return fmt.Errorf("app: validate: %w", err)
	}

	client, err := venueClientFactory(a.cfg.Exchange)(venue, domain.Credentials{
		APIKey:     a.cfg.ValidateMode.APIKey,
		APISecret:  a.cfg.ValidateMode.APISecret,
		Passphrase: a.cfg.ValidateMode.Passphrase,
	})
	if err != nil {
		return fmt.Errorf("app: validate: %w", err)
	}

	adapter := exchange.NewAdapter(client, adapterConfig(a.cfg.Exchange), deps.RateLimiter, adapterCaches(deps), slog.Default())

	if err := adapter.CheckPermissions(ctx); err != nil {
		return fmt.Errorf("app: validate: %w", err)
	}

	balance, err := adapter.Balance(ctx, domain.CategorySpot)
	if err != nil {
		return fmt.Errorf("app: validate: read balance: %w", err)
	}

	a.logger.InfoContext(ctx, "credentials valid",
		slog.String("venue", string(venue)),
		slog.Float64("total_equity", balance.TotalEquity),
		slog.Float64("available", balance.Available),
	)
	return nil
}

// ArchiveMode exports audit rows past the retention window to object
// storage, then repeats on the archive interval until cancelled.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode",
		slog.Int("retention_days", a.cfg.Archive.RetentionDays),
	)
	if deps.Archiver == nil {
		return domain.ConfigErrorf("app: archive mode requires postgres and s3")
	}
	return a.archiveLoop(ctx, deps)
}

// FullMode runs everything: the scheduler, the price feed when enabled,
// and the archive loop when enabled.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	sched, err := a.buildScheduler(deps)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sched.Run(ctx) })

	if a.cfg.Feed.Enabled {
		ticker := feed.NewBybitTickerFeed(a.cfg.Feed.WsURL, a.cfg.Feed.Symbols, deps.PriceCache, slog.Default())
		g.Go(func() error { return ticker.Run(ctx) })
	}

	if a.cfg.Archive.Enabled && deps.Archiver != nil {
		g.Go(func() error { return a.archiveLoop(ctx, deps) })
	}

	return g.Wait()
}

// archiveLoop runs one archive pass immediately, then repeats on the
// configured interval until ctx is cancelled. Pass failures are logged and
// retried on the next tick rather than taking the process down.
func (a *App) archiveLoop(ctx context.Context, deps *Dependencies) error {
	interval := a.cfg.Archive.Interval.Duration
	if interval <= 0 {
		interval = 24 * time.Hour
	}

	pass := func() {
		cutoff := time.Now().AddDate(0, 0, -a.cfg.Archive.RetentionDays)
		archived, err := deps.Archiver.ArchiveAuditLog(ctx, cutoff)
		if err != nil {
			a.logger.ErrorContext(ctx, "archive pass failed",
				slog.String("error", err.Error()),
			)
			return
		}
		a.logger.InfoContext(ctx, "archive pass complete",
			slog.Int64("archived", archived),
			slog.Time("cutoff", cutoff),
		)
	}

	pass()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			pass()
		}
	}
}
