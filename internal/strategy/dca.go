package strategy

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/cexbot/internal/domain"
)

// DCA buys a fixed base quantity at market, at most once per configured
// interval. The interval bookkeeping lives in the execution guard so a
// restart cannot double-buy inside one window.
type DCA struct{}

var _ Strategy = (*DCA)(nil)

// Name implements Strategy.
func (d *DCA) Name() domain.TradeMode { return domain.ModeDCA }

// RunCycle implements Strategy.
func (d *DCA) RunCycle(ctx context.Context, cycle *Cycle) error {
	settings := cycle.Bot.Settings

	if err := placeTakeProfit(ctx, cycle); err != nil {
		return err
	}

	guardKey := "dca_last:" + cycle.Bot.ID
	held, err := cycle.Guard.Held(ctx, guardKey)
	if err != nil {
		return fmt.Errorf("strategy: dca guard check: %w", err)
	}
	if held {
		cycle.Result.note("dca interval not elapsed")
		return nil
	}

	ok, err := entrySignal(ctx, cycle)
	if err != nil {
		return fmt.Errorf("strategy: dca entry signal: %w", err)
	}
	if !ok {
		cycle.Result.note("entry signal not triggered")
		return nil
	}

	qty := raiseToMin(settings.BaseQty, cycle.Instrument)
	order, err := cycle.Exchange.CreateOrder(ctx, domain.OrderRequest{
		Symbol:   cycle.Bot.Symbol,
		Category: cycle.Bot.Category,
		Side:     domain.SideBuy,
		Type:     domain.OrderTypeMarket,
		Qty:      qty,
	})
	if err != nil {
		return fmt.Errorf("strategy: dca buy: %w", err)
	}

	// Market buys fill immediately; fold into the position now.
	cycle.Position.ApplyFill(qty, cycle.Price)
	cycle.Result.DealsDelta++
	cycle.Result.OrdersPlaced = append(cycle.Result.OrdersPlaced, order)
	cycle.Result.note("dca buy %s qty %.8f at %.8f", order.ID, qty, cycle.Price)

	if err := cycle.Guard.Mark(ctx, guardKey, settings.DCAInterval); err != nil {
		return fmt.Errorf("strategy: dca guard mark: %w", err)
	}
	return nil
}
