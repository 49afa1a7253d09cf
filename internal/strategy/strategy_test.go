package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/cexbot/internal/domain"
	"github.com/alanyoungcy/cexbot/internal/signal"
)

// fakeExchange is an in-memory Exchange recording every call.
type fakeExchange struct {
	venue      domain.Venue
	price      float64
	prices     map[string]float64 // "category:symbol" overrides, arbitrage tests
	balance    domain.Balance
	instrument domain.Instrument
	open       []domain.Order
	history    []domain.Order

	created   []domain.OrderRequest
	cancelled []string
	leverage  int
	nextID    int
	createErr error
}

func newFakeExchange(price float64) *fakeExchange {
	return &fakeExchange{
		venue: domain.VenueBybit,
		price: price,
		instrument: domain.Instrument{
			TickSize:    0.01,
			QtyStep:     0.00001,
			MinOrderQty: 0.0001,
		},
		balance: domain.Balance{TotalEquity: 10000, Available: 10000, MarginRatio: 0.1},
	}
}

func (f *fakeExchange) Venue() domain.Venue { return f.venue }

func (f *fakeExchange) Instrument(context.Context, string, domain.Category) (domain.Instrument, error) {
	return f.instrument, nil
}

func (f *fakeExchange) LastPrice(_ context.Context, symbol string, category domain.Category) (float64, error) {
	if p, ok := f.prices[string(category)+":"+symbol]; ok {
		return p, nil
	}
	return f.price, nil
}

func (f *fakeExchange) Balance(context.Context, domain.Category) (domain.Balance, error) {
	return f.balance, nil
}

func (f *fakeExchange) CreateOrder(_ context.Context, req domain.OrderRequest) (domain.Order, error) {
	if f.createErr != nil {
		return domain.Order{}, f.createErr
	}
	f.created = append(f.created, req)
	f.nextID++
	return domain.Order{
		ID:     fmt.Sprintf("ord-%d", f.nextID),
		Symbol: req.Symbol,
		Side:   req.Side,
		Type:   req.Type,
		Status: domain.OrderStatusNew,
		Qty:    req.Qty,
		Price:  req.Price,
	}, nil
}

func (f *fakeExchange) CancelOrder(_ context.Context, _ string, _ domain.Category, orderID string) error {
	f.cancelled = append(f.cancelled, orderID)
	return nil
}

func (f *fakeExchange) OpenOrders(context.Context, string, domain.Category) ([]domain.Order, error) {
	return f.open, nil
}

func (f *fakeExchange) OrderHistory(context.Context, string, domain.Category, int) ([]domain.Order, error) {
	return f.history, nil
}

func (f *fakeExchange) SetLeverage(_ context.Context, _ string, _ domain.Category, leverage int) error {
	f.leverage = leverage
	return nil
}

var _ Exchange = (*fakeExchange)(nil)

// fakeSignals returns a fixed evaluation outcome.
type fakeSignals struct {
	ok  bool
	err error
}

func (f *fakeSignals) Evaluate(context.Context, domain.SignalSpec, signal.Request) (bool, error) {
	return f.ok, f.err
}

// fakeGuard is an in-memory execution guard.
type fakeGuard struct {
	held   bool
	marked map[string]time.Duration
}

func (f *fakeGuard) Mark(_ context.Context, key string, ttl time.Duration) error {
	if f.marked == nil {
		f.marked = make(map[string]time.Duration)
	}
	f.marked[key] = ttl
	return nil
}

func (f *fakeGuard) Held(context.Context, string) (bool, error) {
	return f.held, nil
}

func testBot(mode domain.TradeMode, settings domain.StrategySettings) *domain.Bot {
	return &domain.Bot{
		ID:       "bot-1",
		Name:     "test",
		Venue:    domain.VenueBybit,
		Category: domain.CategorySpot,
		Symbol:   "BTCUSDT",
		Mode:     mode,
		Status:   domain.BotStatusActive,
		Settings: settings,
	}
}

func testCycle(bot *domain.Bot, ex *fakeExchange, pos *domain.Position) *Cycle {
	return &Cycle{
		Bot:        bot,
		Position:   pos,
		Instrument: ex.instrument,
		Price:      ex.price,
		Exchange:   ex,
		Signals:    &fakeSignals{ok: true},
		Guard:      &fakeGuard{},
		Logger:     slog.Default(),
		Result:     &Result{Position: *pos},
	}
}

// --------------------------------------------------------------------------
// Grid
// --------------------------------------------------------------------------

func TestGridPlacesLadder(t *testing.T) {
	ex := newFakeExchange(50000)
	bot := testBot(domain.ModeGrid, domain.StrategySettings{
		BaseQty:          0.1,
		GridLevels:       3,
		GridSpacing:      0.01,
		GridOverlap:      0.2,
		MartingaleFactor: 0.05,
	})
	pos := &domain.Position{BotID: bot.ID}
	cycle := testCycle(bot, ex, pos)

	require.NoError(t, (&Grid{}).RunCycle(context.Background(), cycle))

	require.Len(t, ex.created, 3)
	// Step is price * spacing * (1 + overlap) = 600.
	assert.InDelta(t, 49400, ex.created[0].Price, 1e-9)
	assert.InDelta(t, 48800, ex.created[1].Price, 1e-9)
	assert.InDelta(t, 48200, ex.created[2].Price, 1e-9)
	// Quantities scale by (1 + martingale factor)^level.
	assert.InDelta(t, 0.1, ex.created[0].Qty, 1e-9)
	assert.InDelta(t, 0.105, ex.created[1].Qty, 1e-9)
	assert.InDelta(t, 0.11025, ex.created[2].Qty, 1e-9)

	assert.Len(t, pos.BuyOrderIDs, 3)
	for _, req := range ex.created {
		assert.Equal(t, domain.SideBuy, req.Side)
		assert.Equal(t, domain.OrderTypeLimit, req.Type)
	}
}

func TestGridLevelsStrictlyDecreasing(t *testing.T) {
	linear := domain.StrategySettings{GridSpacing: 0.01, GridOverlap: 0.2}
	logarithmic := domain.StrategySettings{GridSpacing: 0.01, GridLogarithmic: true}

	for name, s := range map[string]domain.StrategySettings{"linear": linear, "log": logarithmic} {
		prev := 50000.0
		for i := 0; i < 10; i++ {
			level := GridLevelPrice(50000, s, i)
			assert.Less(t, level, prev, "%s level %d", name, i)
			prev = level
		}
	}
}

func TestGridSkipsSubMinimumLevels(t *testing.T) {
	ex := newFakeExchange(50000)
	ex.instrument.MinOrderQty = 1 // everything below minimum
	bot := testBot(domain.ModeGrid, domain.StrategySettings{
		BaseQty:     0.1,
		GridLevels:  3,
		GridSpacing: 0.01,
	})
	pos := &domain.Position{BotID: bot.ID}
	cycle := testCycle(bot, ex, pos)
	cycle.Instrument = ex.instrument

	require.NoError(t, (&Grid{}).RunCycle(context.Background(), cycle))
	assert.Empty(t, ex.created)
	assert.Empty(t, pos.BuyOrderIDs)
}

func TestGridEntrySignalGatesNewRound(t *testing.T) {
	ex := newFakeExchange(50000)
	bot := testBot(domain.ModeGrid, domain.StrategySettings{
		Signal:      &domain.SignalSpec{Kind: domain.SignalRSI},
		BaseQty:     0.1,
		GridLevels:  3,
		GridSpacing: 0.01,
	})
	pos := &domain.Position{BotID: bot.ID}
	cycle := testCycle(bot, ex, pos)
	cycle.Signals = &fakeSignals{ok: false}

	require.NoError(t, (&Grid{}).RunCycle(context.Background(), cycle))
	assert.Empty(t, ex.created)
}

func TestGridFollowRebuildsLadderAroundPrice(t *testing.T) {
	// Ladder placed around 50000, market now at 100000: follow mode pulls
	// the stale levels and re-places the same count below the new price.
	ex := newFakeExchange(100000)
	bot := testBot(domain.ModeGrid, domain.StrategySettings{
		BaseQty:     0.1,
		GridLevels:  3,
		GridSpacing: 0.01,
		GridFollow:  true,
	})
	pos := &domain.Position{
		BotID:       bot.ID,
		Quantity:    0.1,
		AvgPrice:    50000,
		BuyOrderIDs: []string{"stale-1", "stale-2"},
	}
	cycle := testCycle(bot, ex, pos)

	require.NoError(t, (&Grid{}).RunCycle(context.Background(), cycle))

	assert.Equal(t, []string{"stale-1", "stale-2"}, ex.cancelled)
	require.Len(t, ex.created, 2)
	// Step is 100000 * 0.01 = 1000 off the new price.
	assert.InDelta(t, 99000, ex.created[0].Price, 1e-9)
	assert.InDelta(t, 98000, ex.created[1].Price, 1e-9)
	require.Len(t, pos.BuyOrderIDs, 2)
	assert.NotContains(t, pos.BuyOrderIDs, "stale-1")
	assert.NotContains(t, pos.BuyOrderIDs, "stale-2")
}

func TestGridSignalOffFreezesOpenLadder(t *testing.T) {
	ex := newFakeExchange(100000)
	bot := testBot(domain.ModeGrid, domain.StrategySettings{
		Signal:      &domain.SignalSpec{Kind: domain.SignalRSI},
		BaseQty:     0.1,
		GridLevels:  3,
		GridSpacing: 0.01,
		GridFollow:  true,
	})
	pos := &domain.Position{
		BotID:       bot.ID,
		Quantity:    0.1,
		AvgPrice:    50000,
		BuyOrderIDs: []string{"resting-1"},
	}
	cycle := testCycle(bot, ex, pos)
	cycle.Signals = &fakeSignals{ok: false}

	require.NoError(t, (&Grid{}).RunCycle(context.Background(), cycle))

	// With the signal off nothing moves: no new levels, no cancels.
	assert.Empty(t, ex.created)
	assert.Empty(t, ex.cancelled)
	assert.Equal(t, []string{"resting-1"}, pos.BuyOrderIDs)
}

func TestGridOpenPositionDoesNotDeepen(t *testing.T) {
	ex := newFakeExchange(50000)
	bot := testBot(domain.ModeGrid, domain.StrategySettings{
		BaseQty:     0.1,
		GridLevels:  3,
		GridSpacing: 0.01,
	})
	pos := &domain.Position{
		BotID:       bot.ID,
		Quantity:    0.1,
		AvgPrice:    49500,
		BuyOrderIDs: []string{"resting-1"},
	}
	cycle := testCycle(bot, ex, pos)

	require.NoError(t, (&Grid{}).RunCycle(context.Background(), cycle))

	// The open position keeps its partial ladder; no top-up to GridLevels.
	assert.Empty(t, ex.created)
	assert.Equal(t, []string{"resting-1"}, pos.BuyOrderIDs)
}

// --------------------------------------------------------------------------
// Take profit helper
// --------------------------------------------------------------------------

func TestPlaceTakeProfit(t *testing.T) {
	ex := newFakeExchange(50000)
	bot := testBot(domain.ModeGrid, domain.StrategySettings{TakeProfit: 0.02})
	pos := &domain.Position{BotID: bot.ID, Quantity: 0.1, AvgPrice: 50000}
	cycle := testCycle(bot, ex, pos)

	require.NoError(t, placeTakeProfit(context.Background(), cycle))

	require.Len(t, ex.created, 1)
	assert.Equal(t, domain.SideSell, ex.created[0].Side)
	assert.InDelta(t, 51000, ex.created[0].Price, 1e-9)
	assert.InDelta(t, 0.1, ex.created[0].Qty, 1e-9)
	assert.NotEmpty(t, pos.SellOrderID)

	// A resting sell means no second order.
	require.NoError(t, placeTakeProfit(context.Background(), cycle))
	assert.Len(t, ex.created, 1)
}

// --------------------------------------------------------------------------
// Martingale
// --------------------------------------------------------------------------

func TestMartingaleScalesByRestingAdds(t *testing.T) {
	ex := newFakeExchange(50000)
	bot := testBot(domain.ModeMartingale, domain.StrategySettings{
		BaseQty:          0.1,
		MartingaleFactor: 0.1,
	})
	pos := &domain.Position{BotID: bot.ID, BuyOrderIDs: []string{"a", "b"}}
	cycle := testCycle(bot, ex, pos)

	require.NoError(t, (&Martingale{}).RunCycle(context.Background(), cycle))

	require.Len(t, ex.created, 1)
	// Two resting adds: 0.1 * 1.1^2.
	assert.InDelta(t, 0.121, ex.created[0].Qty, 1e-9)
	assert.Equal(t, domain.OrderTypeLimit, ex.created[0].Type)
	assert.InDelta(t, 50000, ex.created[0].Price, 1e-9)
	assert.Len(t, pos.BuyOrderIDs, 3)
}

// --------------------------------------------------------------------------
// DCA
// --------------------------------------------------------------------------

func TestDCABuysOncePerInterval(t *testing.T) {
	ex := newFakeExchange(50000)
	bot := testBot(domain.ModeDCA, domain.StrategySettings{
		BaseQty:     0.01,
		DCAInterval: time.Hour,
	})
	pos := &domain.Position{BotID: bot.ID}
	cycle := testCycle(bot, ex, pos)
	guard := &fakeGuard{}
	cycle.Guard = guard

	require.NoError(t, (&DCA{}).RunCycle(context.Background(), cycle))

	require.Len(t, ex.created, 1)
	assert.Equal(t, domain.OrderTypeMarket, ex.created[0].Type)
	assert.InDelta(t, 0.01, pos.Quantity, 1e-9)
	assert.InDelta(t, 50000, pos.AvgPrice, 1e-9)
	assert.Equal(t, 1, cycle.Result.DealsDelta)
	assert.Equal(t, time.Hour, guard.marked["dca_last:bot-1"])
}

func TestDCASkipsWhileGuardHeld(t *testing.T) {
	ex := newFakeExchange(50000)
	bot := testBot(domain.ModeDCA, domain.StrategySettings{
		BaseQty:     0.01,
		DCAInterval: time.Hour,
	})
	pos := &domain.Position{BotID: bot.ID}
	cycle := testCycle(bot, ex, pos)
	cycle.Guard = &fakeGuard{held: true}

	require.NoError(t, (&DCA{}).RunCycle(context.Background(), cycle))
	assert.Empty(t, ex.created)
	assert.Zero(t, pos.Quantity)
}

// --------------------------------------------------------------------------
// Trailing stop
// --------------------------------------------------------------------------

func TestTrailingStopLifecycle(t *testing.T) {
	settings := domain.StrategySettings{BaseQty: 0.1, TrailingPct: 0.02}
	bot := testBot(domain.ModeTrailingStop, settings)
	pos := &domain.Position{BotID: bot.ID}
	strat := &TrailingStop{}

	// Entry at 50000.
	ex := newFakeExchange(50000)
	cycle := testCycle(bot, ex, pos)
	require.NoError(t, strat.RunCycle(context.Background(), cycle))
	require.Len(t, ex.created, 1)
	assert.True(t, pos.PositionOpened)
	assert.InDelta(t, 50000, pos.HighestPrice, 1e-9)
	assert.InDelta(t, 0.1, pos.Quantity, 1e-9)

	// Price rises: the mark ratchets, no exit.
	ex = newFakeExchange(52000)
	cycle = testCycle(bot, ex, pos)
	require.NoError(t, strat.RunCycle(context.Background(), cycle))
	assert.Empty(t, ex.created)
	assert.InDelta(t, 52000, pos.HighestPrice, 1e-9)

	// Price dips but stays inside the trailing band: the mark holds.
	ex = newFakeExchange(51500)
	cycle = testCycle(bot, ex, pos)
	require.NoError(t, strat.RunCycle(context.Background(), cycle))
	assert.Empty(t, ex.created)
	assert.InDelta(t, 52000, pos.HighestPrice, 1e-9)

	// Price falls 2% below the mark: market exit.
	ex = newFakeExchange(50900)
	cycle = testCycle(bot, ex, pos)
	require.NoError(t, strat.RunCycle(context.Background(), cycle))
	require.Len(t, ex.created, 1)
	assert.Equal(t, domain.SideSell, ex.created[0].Side)
	assert.Equal(t, domain.OrderTypeMarket, ex.created[0].Type)
	assert.False(t, pos.Open())
	assert.Equal(t, 1, cycle.Result.DealsDelta)
	// Bought 0.1 at 50000, sold at 50900.
	assert.InDelta(t, 90, cycle.Result.RealizedPnL, 1e-6)
}

// --------------------------------------------------------------------------
// Arbitrage
// --------------------------------------------------------------------------

func TestArbitragePositiveSpread(t *testing.T) {
	ex := newFakeExchange(50000)
	ex.prices = map[string]float64{
		"spot:BTCUSDT":   50000,
		"linear:BTCUSDT": 50400, // +0.8% basis
	}
	bot := testBot(domain.ModeArbitrage, domain.StrategySettings{
		BaseQty:         0.1,
		SpreadThreshold: 0.005,
	})
	pos := &domain.Position{BotID: bot.ID}
	cycle := testCycle(bot, ex, pos)

	require.NoError(t, (&Arbitrage{}).RunCycle(context.Background(), cycle))

	require.Len(t, ex.created, 2)
	assert.Equal(t, domain.SideBuy, ex.created[0].Side)
	assert.Equal(t, domain.CategorySpot, ex.created[0].Category)
	assert.Equal(t, domain.SideSell, ex.created[1].Side)
	assert.Equal(t, domain.CategoryLinear, ex.created[1].Category)
	assert.Equal(t, 1, cycle.Result.DealsDelta)
}

func TestArbitrageNegativeSpread(t *testing.T) {
	ex := newFakeExchange(50000)
	ex.prices = map[string]float64{
		"spot:BTCUSDT":   50000,
		"linear:BTCUSDT": 49600, // -0.8% basis
	}
	bot := testBot(domain.ModeArbitrage, domain.StrategySettings{
		BaseQty:         0.1,
		SpreadThreshold: 0.005,
	})
	cycle := testCycle(bot, ex, &domain.Position{BotID: bot.ID})

	require.NoError(t, (&Arbitrage{}).RunCycle(context.Background(), cycle))

	require.Len(t, ex.created, 2)
	assert.Equal(t, domain.SideSell, ex.created[0].Side)
	assert.Equal(t, domain.CategorySpot, ex.created[0].Category)
	assert.Equal(t, domain.SideBuy, ex.created[1].Side)
	assert.Equal(t, domain.CategoryLinear, ex.created[1].Category)
}

func TestArbitrageInsideThreshold(t *testing.T) {
	ex := newFakeExchange(50000)
	ex.prices = map[string]float64{
		"spot:BTCUSDT":   50000,
		"linear:BTCUSDT": 50100, // +0.2%, under the 0.5% threshold
	}
	bot := testBot(domain.ModeArbitrage, domain.StrategySettings{
		BaseQty:         0.1,
		SpreadThreshold: 0.005,
	})
	cycle := testCycle(bot, ex, &domain.Position{BotID: bot.ID})

	require.NoError(t, (&Arbitrage{}).RunCycle(context.Background(), cycle))
	assert.Empty(t, ex.created)
	assert.Zero(t, cycle.Result.DealsDelta)
}

// --------------------------------------------------------------------------
// Custom dispatcher
// --------------------------------------------------------------------------

type noopStrategy struct{ ran bool }

func (n *noopStrategy) Name() domain.TradeMode { return "noop" }
func (n *noopStrategy) RunCycle(context.Context, *Cycle) error {
	n.ran = true
	return nil
}

func TestCustomDispatch(t *testing.T) {
	custom := NewCustom()
	ex := newFakeExchange(50000)
	bot := testBot(domain.ModeCustom, domain.StrategySettings{CustomName: "mine"})
	cycle := testCycle(bot, ex, &domain.Position{BotID: bot.ID})

	err := custom.RunCycle(context.Background(), cycle)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConfig)
	assert.Contains(t, err.Error(), "not implemented")

	plugin := &noopStrategy{}
	custom.RegisterPlugin("mine", plugin)
	require.NoError(t, custom.RunCycle(context.Background(), cycle))
	assert.True(t, plugin.ran)
}

// --------------------------------------------------------------------------
// Registry
// --------------------------------------------------------------------------

func TestRegistryDefaultModes(t *testing.T) {
	r := DefaultRegistry()
	for _, mode := range []domain.TradeMode{
		domain.ModeGrid, domain.ModeMartingale, domain.ModeDCA,
		domain.ModeTrailingStop, domain.ModeArbitrage, domain.ModeCustom,
	} {
		s, err := r.Get(mode)
		require.NoError(t, err, string(mode))
		assert.Equal(t, mode, s.Name())
	}

	_, err := r.Get("unknown")
	assert.ErrorIs(t, err, domain.ErrConfig)
}

// --------------------------------------------------------------------------
// Executor
// --------------------------------------------------------------------------

func newTestExecutor(ex *fakeExchange) *Executor {
	factory := func(*domain.Bot) (Exchange, error) { return ex, nil }
	return NewExecutor(factory, DefaultRegistry(), &fakeSignals{ok: true}, &fakeGuard{}, slog.Default())
}

func TestExecutorReconcilesFilledBuy(t *testing.T) {
	ex := newFakeExchange(50000)
	ex.history = []domain.Order{{
		ID:        "o1",
		Side:      domain.SideBuy,
		Status:    domain.OrderStatusFilled,
		Qty:       0.1,
		FilledQty: 0.1,
		Price:     49000,
	}}
	bot := testBot(domain.ModeGrid, domain.StrategySettings{
		BaseQty:     0.1,
		GridLevels:  0, // nothing new this cycle
		GridSpacing: 0.01,
	})
	pos := domain.Position{BotID: bot.ID, BuyOrderIDs: []string{"o1"}}

	result, err := newTestExecutor(ex).Execute(context.Background(), bot, pos)
	require.NoError(t, err)

	assert.Equal(t, 1, result.DealsDelta)
	assert.InDelta(t, 0.1, result.Position.Quantity, 1e-9)
	assert.InDelta(t, 49000, result.Position.AvgPrice, 1e-9)
	assert.Empty(t, result.Position.BuyOrderIDs)
}

func TestExecutorFilledSellClosesPosition(t *testing.T) {
	ex := newFakeExchange(50000)
	ex.history = []domain.Order{{
		ID:     "s1",
		Side:   domain.SideSell,
		Status: domain.OrderStatusFilled,
		Qty:    0.1,
		Price:  50000,
	}}
	bot := testBot(domain.ModeGrid, domain.StrategySettings{
		BaseQty:     0.1,
		GridSpacing: 0.01,
	})
	pos := domain.Position{
		BotID:       bot.ID,
		Quantity:    0.1,
		AvgPrice:    49000,
		SellOrderID: "s1",
	}

	result, err := newTestExecutor(ex).Execute(context.Background(), bot, pos)
	require.NoError(t, err)

	assert.False(t, result.Position.Open())
	assert.Empty(t, result.Position.SellOrderID)
	assert.InDelta(t, 100, result.RealizedPnL, 1e-6) // (50000-49000)*0.1
}

func TestExecutorUnfilledSellIsReplaced(t *testing.T) {
	ex := newFakeExchange(50000)
	ex.history = []domain.Order{{
		ID:     "s1",
		Side:   domain.SideSell,
		Status: domain.OrderStatusCancelled,
		Qty:    0.1,
	}}
	bot := testBot(domain.ModeGrid, domain.StrategySettings{
		BaseQty:     0.1,
		GridSpacing: 0.01,
		TakeProfit:  0.02,
	})
	pos := domain.Position{
		BotID:       bot.ID,
		Quantity:    0.1,
		AvgPrice:    49000,
		SellOrderID: "s1",
	}

	result, err := newTestExecutor(ex).Execute(context.Background(), bot, pos)
	require.NoError(t, err)

	// Position survives and a fresh take-profit is resting.
	assert.True(t, result.Position.Open())
	assert.NotEmpty(t, result.Position.SellOrderID)
	assert.NotEqual(t, "s1", result.Position.SellOrderID)
	require.Len(t, ex.created, 1)
	assert.InDelta(t, 49000*1.02, ex.created[0].Price, 1e-6)
}

func TestExecutorStopLoss(t *testing.T) {
	ex := newFakeExchange(47000)
	bot := testBot(domain.ModeGrid, domain.StrategySettings{
		BaseQty:     0.1,
		GridSpacing: 0.01,
		StopLoss:    0.05, // exits at or below 47500
	})
	pos := domain.Position{BotID: bot.ID, Quantity: 0.1, AvgPrice: 50000}

	result, err := newTestExecutor(ex).Execute(context.Background(), bot, pos)
	require.NoError(t, err)

	assert.False(t, result.Position.Open())
	assert.InDelta(t, -300, result.RealizedPnL, 1e-6) // (47000-50000)*0.1
	require.NotEmpty(t, ex.created)
	exit := ex.created[len(ex.created)-1]
	assert.Equal(t, domain.SideSell, exit.Side)
	assert.Equal(t, domain.OrderTypeMarket, exit.Type)
}

func TestExecutorMarginExhaustedStopsBot(t *testing.T) {
	ex := newFakeExchange(50000)
	ex.balance = domain.Balance{Available: 0, MarginRatio: 0.95}
	ex.open = []domain.Order{{ID: "stale-1"}, {ID: "stale-2"}}
	bot := testBot(domain.ModeGrid, domain.StrategySettings{
		BaseQty:     0.1,
		GridSpacing: 0.01,
	})
	bot.Category = domain.CategoryLinear
	bot.Leverage = 5
	pos := domain.Position{BotID: bot.ID, Quantity: 0.1, AvgPrice: 50000}

	result, err := newTestExecutor(ex).Execute(context.Background(), bot, pos)
	require.NoError(t, err)

	assert.True(t, result.Stop)
	assert.Equal(t, "margin_exhausted", result.StopReason)
	assert.ElementsMatch(t, []string{"stale-1", "stale-2"}, ex.cancelled)
	assert.False(t, result.Position.Open())
	// Leverage must not have been touched on the way out.
	assert.Zero(t, ex.leverage)
}

func TestExecutorDealLimitStopsBot(t *testing.T) {
	ex := newFakeExchange(50000)
	ex.history = []domain.Order{{
		ID:        "o1",
		Side:      domain.SideBuy,
		Status:    domain.OrderStatusFilled,
		Qty:       0.1,
		FilledQty: 0.1,
		Price:     49000,
	}}
	bot := testBot(domain.ModeGrid, domain.StrategySettings{
		BaseQty:     0.1,
		GridSpacing: 0.01,
	})
	bot.StopAfterDeals = 1
	pos := domain.Position{BotID: bot.ID, BuyOrderIDs: []string{"o1"}}

	result, err := newTestExecutor(ex).Execute(context.Background(), bot, pos)
	require.NoError(t, err)

	assert.True(t, result.Stop)
	assert.Equal(t, "deal_limit", result.StopReason)
	assert.Equal(t, 1, result.DealsDelta)
}

func TestExecutorRunsCombinedModes(t *testing.T) {
	ex := newFakeExchange(50000)
	bot := testBot(domain.ModeGrid, domain.StrategySettings{
		BaseQty:     0.1,
		GridLevels:  2,
		GridSpacing: 0.01,
		DCAInterval: time.Hour,
	})
	bot.Modes = []domain.TradeMode{domain.ModeGrid, domain.ModeDCA}
	pos := domain.Position{BotID: bot.ID}

	result, err := newTestExecutor(ex).Execute(context.Background(), bot, pos)
	require.NoError(t, err)

	// Grid laid its ladder while flat, then DCA bought at market: both
	// modes ran over the same cycle.
	require.Len(t, ex.created, 3)
	assert.Equal(t, domain.OrderTypeLimit, ex.created[0].Type)
	assert.Equal(t, domain.OrderTypeLimit, ex.created[1].Type)
	assert.Equal(t, domain.OrderTypeMarket, ex.created[2].Type)
	assert.Len(t, result.Position.BuyOrderIDs, 2)
	assert.InDelta(t, 0.1, result.Position.Quantity, 1e-9)
	assert.Equal(t, 1, result.DealsDelta)
}

func TestExecutorCombinedModeUnknownFails(t *testing.T) {
	ex := newFakeExchange(50000)
	bot := testBot(domain.ModeGrid, domain.StrategySettings{BaseQty: 0.1, GridSpacing: 0.01})
	bot.Modes = []domain.TradeMode{domain.ModeGrid, "bogus"}
	pos := domain.Position{BotID: bot.ID}

	_, err := newTestExecutor(ex).Execute(context.Background(), bot, pos)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConfig)
	assert.Contains(t, err.Error(), "bogus")
}

func TestExecutorFactoryErrorSurfaces(t *testing.T) {
	wantErr := errors.New("no creds")
	factory := func(*domain.Bot) (Exchange, error) { return nil, wantErr }
	e := NewExecutor(factory, DefaultRegistry(), &fakeSignals{ok: true}, &fakeGuard{}, slog.Default())

	bot := testBot(domain.ModeGrid, domain.StrategySettings{BaseQty: 0.1, GridSpacing: 0.01})
	pos := domain.Position{BotID: bot.ID, Quantity: 0.5}

	result, err := e.Execute(context.Background(), bot, pos)
	require.ErrorIs(t, err, wantErr)
	// Even a failed cycle carries the position back for the commit.
	assert.InDelta(t, 0.5, result.Position.Quantity, 1e-12)
}
