package strategy

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/cexbot/internal/domain"
)

// defaultTrailingPct is used when the settings leave the distance unset.
const defaultTrailingPct = 0.01

// TrailingStop opens a position on the entry signal, ratchets a high-water
// mark while the price rises, and exits at market once the price falls the
// configured fraction below the mark.
type TrailingStop struct{}

var _ Strategy = (*TrailingStop)(nil)

// Name implements Strategy.
func (t *TrailingStop) Name() domain.TradeMode { return domain.ModeTrailingStop }

// RunCycle implements Strategy.
func (t *TrailingStop) RunCycle(ctx context.Context, cycle *Cycle) error {
	pos := cycle.Position
	settings := cycle.Bot.Settings

	trailing := settings.TrailingPct
	if trailing <= 0 {
		trailing = defaultTrailingPct
	}

	if !pos.PositionOpened {
		ok, err := entrySignal(ctx, cycle)
		if err != nil {
			return fmt.Errorf("strategy: trailing entry signal: %w", err)
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
			return fmt.Errorf("strategy: trailing open: %w", err)
		}

		pos.ApplyFill(qty, cycle.Price)
		pos.PositionOpened = true
		pos.HighestPrice = cycle.Price
		cycle.Result.OrdersPlaced = append(cycle.Result.OrdersPlaced, order)
		cycle.Result.note("trailing open %s qty %.8f at %.8f", order.ID, qty, cycle.Price)
		return nil
	}

	// Ratchet the mark; it never moves down.
	if cycle.Price > pos.HighestPrice {
		pos.HighestPrice = cycle.Price
	}

	if cycle.Price <= pos.HighestPrice*(1-trailing) && pos.Open() {
		qty := pos.Quantity
		order, err := cycle.Exchange.CreateOrder(ctx, domain.OrderRequest{
			Symbol:   cycle.Bot.Symbol,
			Category: cycle.Bot.Category,
			Side:     domain.SideSell,
			Type:     domain.OrderTypeMarket,
			Qty:      qty,
		})
		if err != nil {
			return fmt.Errorf("strategy: trailing exit: %w", err)
		}

		profit := pos.Close(cycle.Price)
		cycle.Result.RealizedPnL += profit
		cycle.Result.DealsDelta++
		cycle.Result.OrdersPlaced = append(cycle.Result.OrdersPlaced, order)
		cycle.Result.note("trailing exit %s qty %.8f at %.8f pnl %.8f", order.ID, qty, cycle.Price, profit)
	}

	return nil
}
