package strategy

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/cexbot/internal/domain"
)

// defaultSpreadThreshold is used when the settings leave it unset.
const defaultSpreadThreshold = 0.005

// Arbitrage trades the basis between a spot symbol and its perpetual
// future on the same venue. A positive spread beyond the threshold buys
// spot and sells the future; a negative one does the reverse.
type Arbitrage struct{}

var _ Strategy = (*Arbitrage)(nil)

// Name implements Strategy.
func (a *Arbitrage) Name() domain.TradeMode { return domain.ModeArbitrage }

// RunCycle implements Strategy.
func (a *Arbitrage) RunCycle(ctx context.Context, cycle *Cycle) error {
	settings := cycle.Bot.Settings

	threshold := settings.SpreadThreshold
	if threshold <= 0 {
		threshold = defaultSpreadThreshold
	}
	futSymbol := settings.FuturesSymbol
	if futSymbol == "" {
		futSymbol = cycle.Bot.Symbol
	}

	spot, err := cycle.Exchange.LastPrice(ctx, cycle.Bot.Symbol, domain.CategorySpot)
	if err != nil {
		return fmt.Errorf("strategy: arbitrage spot price: %w", err)
	}
	futures, err := cycle.Exchange.LastPrice(ctx, futSymbol, domain.CategoryLinear)
	if err != nil {
		return fmt.Errorf("strategy: arbitrage futures price: %w", err)
	}
	if spot <= 0 {
		return domain.BusinessErrorf("strategy: arbitrage: invalid spot price %.8f", spot)
	}

	spread := (futures - spot) / spot
	cycle.Result.note("arbitrage spread %.6f (threshold %.6f)", spread, threshold)

	switch {
	case spread > threshold:
		return a.trade(ctx, cycle, futSymbol, domain.SideBuy, domain.SideSell)
	case spread < -threshold:
		return a.trade(ctx, cycle, futSymbol, domain.SideSell, domain.SideBuy)
	default:
		return nil
	}
}

// trade places the two market legs: spotSide on the spot symbol, futSide
// on the future. The spot leg goes first so a failed futures leg leaves
// inventory rather than a naked short.
func (a *Arbitrage) trade(ctx context.Context, cycle *Cycle, futSymbol string, spotSide, futSide domain.OrderSide) error {
	qty := raiseToMin(cycle.Bot.Settings.BaseQty, cycle.Instrument)

	spotOrder, err := cycle.Exchange.CreateOrder(ctx, domain.OrderRequest{
		Symbol:   cycle.Bot.Symbol,
		Category: domain.CategorySpot,
		Side:     spotSide,
		Type:     domain.OrderTypeMarket,
		Qty:      qty,
	})
	if err != nil {
		return fmt.Errorf("strategy: arbitrage spot leg: %w", err)
	}
	cycle.Result.OrdersPlaced = append(cycle.Result.OrdersPlaced, spotOrder)

	futOrder, err := cycle.Exchange.CreateOrder(ctx, domain.OrderRequest{
		Symbol:   futSymbol,
		Category: domain.CategoryLinear,
		Side:     futSide,
		Type:     domain.OrderTypeMarket,
		Qty:      qty,
	})
	if err != nil {
		return fmt.Errorf("strategy: arbitrage futures leg: %w", err)
	}
	cycle.Result.OrdersPlaced = append(cycle.Result.OrdersPlaced, futOrder)

	cycle.Result.DealsDelta++
	cycle.Result.note("arbitrage legs: spot %s %s / futures %s %s qty %.8f",
		spotSide, spotOrder.ID, futSide, futOrder.ID, qty)
	return nil
}
