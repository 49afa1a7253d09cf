package strategy

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/cexbot/internal/domain"
)

// historyLookback bounds how many recent orders reconciliation inspects
// when a tracked order has left the open set.
const historyLookback = 50

// ExchangeFactory builds the exchange surface for one bot. Each bot
// carries its own credentials, so the adapter is constructed per cycle.
type ExchangeFactory func(bot *domain.Bot) (Exchange, error)

// Executor runs one full bot cycle: reconcile fills, enforce the account
// guards, dispatch the bot's strategy and apply the exit checks. It
// returns a Result describing the single state transition to commit; it
// never persists anything itself.
type Executor struct {
	factory  ExchangeFactory
	registry *Registry
	signals  SignalEvaluator
	guard    domain.ExecutionGuard
	logger   *slog.Logger
}

// NewExecutor wires an Executor.
func NewExecutor(factory ExchangeFactory, registry *Registry, signals SignalEvaluator, guard domain.ExecutionGuard, logger *slog.Logger) *Executor {
	return &Executor{
		factory:  factory,
		registry: registry,
		signals:  signals,
		guard:    guard,
		logger:   logger.With(slog.String("component", "executor")),
	}
}

// Execute runs one cycle for bot over the given position snapshot. The
// returned Result always carries the latest position state, including on
// error, so a partial cycle can still be committed.
func (e *Executor) Execute(ctx context.Context, bot *domain.Bot, pos domain.Position) (result Result, err error) {
	// Whatever happens below, the result reflects the final aggregate.
	defer func() { result.Position = pos }()

	ex, err := e.factory(bot)
	if err != nil {
		return result, fmt.Errorf("executor: build exchange: %w", err)
	}

	result = Result{Position: pos}
	cycle := &Cycle{
		Bot:      bot,
		Position: &pos,
		Exchange: ex,
		Signals:  e.signals,
		Guard:    e.guard,
		Logger:   e.logger.With(slog.String("bot_id", bot.ID)),
		Result:   &result,
	}

	// Margin guard runs before anything else on derivatives: an exhausted
	// account stops the bot without running its mode.
	if bot.Category.IsDerivative() {
		bal, err := ex.Balance(ctx, bot.Category)
		if err != nil {
			return result, fmt.Errorf("executor: margin check: %w", err)
		}
		if bal.MarginExhausted() {
			cycle.Logger.WarnContext(ctx, "margin exhausted, stopping bot",
				slog.Float64("margin_ratio", bal.MarginRatio),
				slog.Float64("available", bal.Available),
			)
			err := e.stopBot(ctx, cycle, "margin_exhausted")
			return result, err
		}

		if err := ex.SetLeverage(ctx, bot.Symbol, bot.Category, bot.Leverage); err != nil {
			return result, fmt.Errorf("executor: set leverage: %w", err)
		}
	}

	cycle.Price, err = ex.LastPrice(ctx, bot.Symbol, bot.Category)
	if err != nil {
		return result, fmt.Errorf("executor: load price: %w", err)
	}
	cycle.Instrument, err = ex.Instrument(ctx, bot.Symbol, bot.Category)
	if err != nil {
		return result, fmt.Errorf("executor: load instrument: %w", err)
	}

	if err := e.reconcile(ctx, cycle); err != nil {
		return result, fmt.Errorf("executor: reconcile: %w", err)
	}

	// The deal budget may have been spent by fills just reconciled.
	if dealLimitReached(bot, &result) {
		err := e.stopBot(ctx, cycle, "deal_limit")
		return result, err
	}

	// Combined bots run every configured mode once, in order, over the
	// same cycle state.
	for _, mode := range bot.ModeList() {
		strat, err := e.registry.Get(mode)
		if err != nil {
			return result, err
		}
		if err := strat.RunCycle(ctx, cycle); err != nil {
			return result, fmt.Errorf("executor: mode %s: %w", mode, err)
		}
	}

	if err := e.checkStopLoss(ctx, cycle); err != nil {
		return result, err
	}

	if dealLimitReached(bot, &result) {
		err := e.stopBot(ctx, cycle, "deal_limit")
		return result, err
	}

	cycle.Logger.InfoContext(ctx, "cycle complete",
		slog.Any("modes", bot.ModeList()),
		slog.Float64("price", cycle.Price),
		slog.Float64("position", pos.Quantity),
		slog.Float64("avg_price", pos.AvgPrice),
		slog.Int("deals_delta", result.DealsDelta),
		slog.Float64("realized_pnl", result.RealizedPnL),
	)
	return result, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// reconcile folds completed fills into the position. Tracked order ids no
// longer in the open set are confirmed against recent history: filled buys
// move the weighted average, a filled sell closes the position.
func (e *Executor) reconcile(ctx context.Context, cycle *Cycle) error {
	pos := cycle.Position
	bot := cycle.Bot

	if len(pos.BuyOrderIDs) == 0 && pos.SellOrderID == "" {
		return nil
	}

	open, err := cycle.Exchange.OpenOrders(ctx, bot.Symbol, bot.Category)
	if err != nil {
		return err
	}
	openSet := make(map[string]bool, len(open))
	for _, o := range open {
		openSet[o.ID] = true
	}

	var gone []string
	for _, id := range pos.BuyOrderIDs {
		if !openSet[id] {
			gone = append(gone, id)
		}
	}
	sellGone := pos.SellOrderID != "" && !openSet[pos.SellOrderID]

	if len(gone) == 0 && !sellGone {
		return nil
	}

	history, err := cycle.Exchange.OrderHistory(ctx, bot.Symbol, bot.Category, historyLookback)
	if err != nil {
		return err
	}
	byID := make(map[string]domain.Order, len(history))
	for _, o := range history {
		byID[o.ID] = o
	}

	for _, id := range gone {
		pos.RemoveBuyOrder(id)
		order, found := byID[id]
		if !found {
			cycle.Result.note("buy %s vanished without history, dropped", id)
			continue
		}
		if order.Filled() || order.FilledQty > 0 {
			qty := order.FilledQty
			if qty <= 0 {
				qty = order.Qty
			}
			pos.ApplyFill(qty, order.Price)
			cycle.Result.DealsDelta++
			cycle.Result.note("buy %s filled qty %.8f at %.8f", id, qty, order.Price)
		} else {
			cycle.Result.note("buy %s closed unfilled (%s)", id, order.Status)
		}
	}

	if sellGone {
		id := pos.SellOrderID
		order, found := byID[id]
		switch {
		case found && order.Filled():
			profit := pos.Close(order.Price)
			cycle.Result.RealizedPnL += profit
			cycle.Result.note("sell %s filled at %.8f pnl %.8f", id, order.Price, profit)
		default:
			pos.SellOrderID = ""
			cycle.Result.note("sell %s closed unfilled, will re-place", id)
		}
	}

	return nil
}

// checkStopLoss force-exits at market when the price has fallen the
// configured fraction below the average entry. Runs after every mode.
func (e *Executor) checkStopLoss(ctx context.Context, cycle *Cycle) error {
	pos := cycle.Position
	sl := cycle.Bot.Settings.StopLoss
	if sl <= 0 || !pos.Open() {
		return nil
	}
	if cycle.Price > pos.AvgPrice*(1-sl) {
		return nil
	}

	// Pull the resting take-profit first so the market sell is not
	// double-counted against the position.
	if pos.SellOrderID != "" {
		if err := cycle.Exchange.CancelOrder(ctx, cycle.Bot.Symbol, cycle.Bot.Category, pos.SellOrderID); err != nil {
			return fmt.Errorf("cancel take-profit before stop-loss: %w", err)
		}
		pos.SellOrderID = ""
	}

	qty := pos.Quantity
	order, err := cycle.Exchange.CreateOrder(ctx, domain.OrderRequest{
		Symbol:   cycle.Bot.Symbol,
		Category: cycle.Bot.Category,
		Side:     domain.SideSell,
		Type:     domain.OrderTypeMarket,
		Qty:      qty,
	})
	if err != nil {
		return fmt.Errorf("stop-loss sell: %w", err)
	}

	loss := pos.Close(cycle.Price)
	cycle.Result.RealizedPnL += loss
	cycle.Result.OrdersPlaced = append(cycle.Result.OrdersPlaced, order)
	cycle.Result.note("stop-loss exit %s qty %.8f at %.8f pnl %.8f", order.ID, qty, cycle.Price, loss)

	cycle.Logger.WarnContext(ctx, "stop loss triggered",
		slog.Float64("price", cycle.Price),
		slog.Float64("loss", loss),
	)
	return nil
}

// stopBot runs the fixed stop sequence: cancel every outstanding order,
// zero the position aggregate, flag the result so the scheduler marks the
// bot inactive. A crash between the steps leaves cancelled orders and a
// to-be-zeroed position, never live orders on a stopped bot.
func (e *Executor) stopBot(ctx context.Context, cycle *Cycle, reason string) error {
	pos := cycle.Position
	bot := cycle.Bot

	open, err := cycle.Exchange.OpenOrders(ctx, bot.Symbol, bot.Category)
	if err != nil {
		return fmt.Errorf("executor: stop: list open orders: %w", err)
	}
	for _, o := range open {
		if err := cycle.Exchange.CancelOrder(ctx, bot.Symbol, bot.Category, o.ID); err != nil {
			return fmt.Errorf("executor: stop: cancel %s: %w", o.ID, err)
		}
	}

	pos.Close(cycle.Price)
	cycle.Result.Stop = true
	cycle.Result.StopReason = reason
	cycle.Result.note("bot stopped: %s", reason)

	cycle.Logger.InfoContext(ctx, "bot stopped",
		slog.String("reason", reason),
		slog.Int("orders_cancelled", len(open)),
	)
	return nil
}

// dealLimitReached applies the cycle's deal delta on top of the persisted
// counter.
func dealLimitReached(bot *domain.Bot, result *Result) bool {
	return bot.StopAfterDeals > 0 && bot.DealsCompleted+result.DealsDelta >= bot.StopAfterDeals
}
