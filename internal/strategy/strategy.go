// Package strategy implements the per-mode trading strategies and the
// executor that runs one bot cycle as a single explicit state transition.
package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/alanyoungcy/cexbot/internal/domain"
	"github.com/alanyoungcy/cexbot/internal/signal"
)

// Exchange is the slice of the exchange adapter the strategies use. The
// concrete implementation is exchange.Adapter; tests substitute a fake.
type Exchange interface {
	Venue() domain.Venue
	Instrument(ctx context.Context, symbol string, category domain.Category) (domain.Instrument, error)
	LastPrice(ctx context.Context, symbol string, category domain.Category) (float64, error)
	Balance(ctx context.Context, category domain.Category) (domain.Balance, error)
	CreateOrder(ctx context.Context, req domain.OrderRequest) (domain.Order, error)
	CancelOrder(ctx context.Context, symbol string, category domain.Category, orderID string) error
	OpenOrders(ctx context.Context, symbol string, category domain.Category) ([]domain.Order, error)
	OrderHistory(ctx context.Context, symbol string, category domain.Category, limit int) ([]domain.Order, error)
	SetLeverage(ctx context.Context, symbol string, category domain.Category, leverage int) error
}

// SignalEvaluator gates strategy entries.
type SignalEvaluator interface {
	Evaluate(ctx context.Context, spec domain.SignalSpec, req signal.Request) (bool, error)
}

// Cycle is the working state one strategy invocation operates on. The
// executor loads it; strategies mutate Position and Result in memory and
// the scheduler commits the outcome exactly once.
type Cycle struct {
	Bot        *domain.Bot
	Position   *domain.Position
	Instrument domain.Instrument
	Price      float64 // last price at cycle start

	Exchange Exchange
	Signals  SignalEvaluator
	Guard    domain.ExecutionGuard
	Logger   *slog.Logger

	Result *Result
}

// Result is the outcome of one cycle: the state delta the scheduler
// persists and the audit trail of what happened.
type Result struct {
	Position     domain.Position
	DealsDelta   int
	RealizedPnL  float64
	OrdersPlaced []domain.Order
	Stop         bool
	StopReason   string
	Actions      []string
}

// note appends a human-readable action to the cycle's audit trail.
func (r *Result) note(format string, args ...any) {
	r.Actions = append(r.Actions, fmt.Sprintf(format, args...))
}

// Strategy is one trading mode. RunCycle inspects the cycle state and
// places or cancels orders through cycle.Exchange; it must not persist
// anything itself.
type Strategy interface {
	Name() domain.TradeMode
	RunCycle(ctx context.Context, cycle *Cycle) error
}

// Registry maps trade modes to their strategies.
type Registry struct {
	mu         sync.RWMutex
	strategies map[domain.TradeMode]Strategy
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{strategies: make(map[domain.TradeMode]Strategy)}
}

// DefaultRegistry returns a Registry with every built-in mode registered.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(&Grid{})
	r.Register(&Martingale{})
	r.Register(&DCA{})
	r.Register(&TrailingStop{})
	r.Register(&Arbitrage{})
	r.Register(NewCustom())
	return r
}

// Register adds or replaces the strategy for its mode.
func (r *Registry) Register(s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[s.Name()] = s
}

// Get returns the strategy for mode.
func (r *Registry) Get(mode domain.TradeMode) (Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[mode]
	if !ok {
		return nil, domain.ConfigErrorf("strategy: no strategy registered for mode %q", string(mode))
	}
	return s, nil
}

// Modes returns the registered modes in stable order.
func (r *Registry) Modes() []domain.TradeMode {
	r.mu.RLock()
	defer r.mu.RUnlock()
	modes := make([]domain.TradeMode, 0, len(r.strategies))
	for m := range r.strategies {
		modes = append(modes, m)
	}
	sort.Slice(modes, func(i, j int) bool { return modes[i] < modes[j] })
	return modes
}

// --------------------------------------------------------------------------
// Shared helpers
// --------------------------------------------------------------------------

// entrySignal evaluates the bot's configured entry signal. A bot without a
// signal always enters.
func entrySignal(ctx context.Context, cycle *Cycle) (bool, error) {
	spec := cycle.Bot.Settings.Signal
	if spec == nil {
		return true, nil
	}
	return cycle.Signals.Evaluate(ctx, *spec, signal.Request{
		Venue:    cycle.Bot.Venue,
		Symbol:   cycle.Bot.Symbol,
		Category: cycle.Bot.Category,
		Interval: cycle.Bot.Settings.Interval,
	})
}

// placeTakeProfit puts the take-profit sell in place when a position is
// held and no sell order is resting.
func placeTakeProfit(ctx context.Context, cycle *Cycle) error {
	pos := cycle.Position
	tp := cycle.Bot.Settings.TakeProfit
	if !pos.Open() || pos.SellOrderID != "" || tp <= 0 {
		return nil
	}

	order, err := cycle.Exchange.CreateOrder(ctx, domain.OrderRequest{
		Symbol:   cycle.Bot.Symbol,
		Category: cycle.Bot.Category,
		Side:     domain.SideSell,
		Type:     domain.OrderTypeLimit,
		Qty:      pos.Quantity,
		Price:    pos.AvgPrice * (1 + tp),
	})
	if err != nil {
		return fmt.Errorf("strategy: place take-profit: %w", err)
	}

	pos.SellOrderID = order.ID
	cycle.Result.OrdersPlaced = append(cycle.Result.OrdersPlaced, order)
	cycle.Result.note("take-profit sell %s at %.8f", order.ID, order.Price)
	return nil
}

// raiseToMin lifts qty to the instrument's minimum order size. Used by the
// single-entry modes; grid levels skip instead.
func raiseToMin(qty float64, inst domain.Instrument) float64 {
	if qty < inst.MinOrderQty {
		return inst.MinOrderQty
	}
	return qty
}
