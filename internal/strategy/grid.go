package strategy

import (
	"context"
	"fmt"
	"math"

	"github.com/alanyoungcy/cexbot/internal/domain"
	"github.com/alanyoungcy/cexbot/internal/exchange"
)

// Grid places a ladder of scaled limit buys below the current price and a
// single take-profit sell above the average entry. Each cycle tops the
// ladder back up to the configured number of levels.
type Grid struct{}

var _ Strategy = (*Grid)(nil)

// Name implements Strategy.
func (g *Grid) Name() domain.TradeMode { return domain.ModeGrid }

// RunCycle implements Strategy.
func (g *Grid) RunCycle(ctx context.Context, cycle *Cycle) error {
	pos := cycle.Position
	settings := cycle.Bot.Settings

	// The entry signal gates the whole grid routine, every cycle: while it
	// is off, no orders move.
	ok, err := entrySignal(ctx, cycle)
	if err != nil {
		return fmt.Errorf("strategy: grid entry signal: %w", err)
	}
	if !ok {
		cycle.Result.note("entry signal not triggered")
		return nil
	}

	if err := placeTakeProfit(ctx, cycle); err != nil {
		return err
	}

	// Follow mode: pull the resting ladder and rebuild it around the
	// current price each cycle so the levels track the market.
	target := 0
	if settings.GridFollow && len(pos.BuyOrderIDs) > 0 {
		for _, id := range pos.BuyOrderIDs {
			if err := cycle.Exchange.CancelOrder(ctx, cycle.Bot.Symbol, cycle.Bot.Category, id); err != nil {
				return fmt.Errorf("strategy: grid follow cancel %s: %w", id, err)
			}
		}
		cycle.Result.note("grid follow: rebuilding %d levels around %.8f", len(pos.BuyOrderIDs), cycle.Price)
		target = len(pos.BuyOrderIDs)
		pos.BuyOrderIDs = nil
	}

	// New exposure only opens while the position is flat; an open position
	// keeps its existing ladder (follow mode re-places, never deepens).
	if !pos.Open() {
		target = settings.GridLevels
	}

	for i := len(pos.BuyOrderIDs); i < target; i++ {
		levelPrice := GridLevelPrice(cycle.Price, settings, i)
		if levelPrice <= 0 {
			cycle.Result.note("grid level %d priced out, skipped", i)
			continue
		}

		qty := exchange.FloorToStep(GridLevelQty(settings, i), cycle.Instrument.QtyStep)
		if qty < cycle.Instrument.MinOrderQty {
			cycle.Result.note("grid level %d qty below minimum, skipped", i)
			continue
		}

		order, err := cycle.Exchange.CreateOrder(ctx, domain.OrderRequest{
			Symbol:   cycle.Bot.Symbol,
			Category: cycle.Bot.Category,
			Side:     domain.SideBuy,
			Type:     domain.OrderTypeLimit,
			Qty:      qty,
			Price:    levelPrice,
		})
		if err != nil {
			return fmt.Errorf("strategy: grid place level %d: %w", i, err)
		}

		pos.BuyOrderIDs = append(pos.BuyOrderIDs, order.ID)
		cycle.Result.OrdersPlaced = append(cycle.Result.OrdersPlaced, order)
		cycle.Result.note("grid buy level %d: %s qty %.8f at %.8f", i, order.ID, qty, order.Price)
	}

	return nil
}

// GridLevelPrice returns the price of buy level i (0-based) below price.
// Linear grids space levels by price*spacing*(1+overlap); logarithmic
// grids widen the gaps as the ladder deepens.
func GridLevelPrice(price float64, s domain.StrategySettings, i int) float64 {
	if s.GridLogarithmic {
		return price * (1 - s.GridSpacing*math.Pow(float64(i+1), 1.2))
	}
	step := price * s.GridSpacing * (1 + s.GridOverlap)
	return price - step*float64(i+1)
}

// GridLevelQty returns the quantity of buy level i, scaled by the
// martingale factor so deeper levels average harder.
func GridLevelQty(s domain.StrategySettings, i int) float64 {
	return s.BaseQty * math.Pow(1+s.MartingaleFactor, float64(i))
}
