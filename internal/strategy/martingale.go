package strategy

import (
	"context"
	"fmt"
	"math"

	"github.com/alanyoungcy/cexbot/internal/domain"
)

// Martingale adds one scaled buy at the current price whenever the entry
// signal triggers, doubling down by the configured factor on each add.
type Martingale struct{}

var _ Strategy = (*Martingale)(nil)

// Name implements Strategy.
func (m *Martingale) Name() domain.TradeMode { return domain.ModeMartingale }

// RunCycle implements Strategy.
func (m *Martingale) RunCycle(ctx context.Context, cycle *Cycle) error {
	pos := cycle.Position
	settings := cycle.Bot.Settings

	if err := placeTakeProfit(ctx, cycle); err != nil {
		return err
	}

	ok, err := entrySignal(ctx, cycle)
	if err != nil {
		return fmt.Errorf("strategy: martingale entry signal: %w", err)
	}
	if !ok {
		cycle.Result.note("entry signal not triggered")
		return nil
	}

	// Scale by how many adds are already resting.
	qty := settings.BaseQty * math.Pow(1+settings.MartingaleFactor, float64(len(pos.BuyOrderIDs)))
	qty = raiseToMin(qty, cycle.Instrument)

	order, err := cycle.Exchange.CreateOrder(ctx, domain.OrderRequest{
		Symbol:   cycle.Bot.Symbol,
		Category: cycle.Bot.Category,
		Side:     domain.SideBuy,
		Type:     domain.OrderTypeLimit,
		Qty:      qty,
		Price:    cycle.Price,
	})
	if err != nil {
		return fmt.Errorf("strategy: martingale buy: %w", err)
	}

	pos.BuyOrderIDs = append(pos.BuyOrderIDs, order.ID)
	cycle.Result.OrdersPlaced = append(cycle.Result.OrdersPlaced, order)
	cycle.Result.note("martingale buy %s qty %.8f at %.8f", order.ID, qty, order.Price)
	return nil
}
