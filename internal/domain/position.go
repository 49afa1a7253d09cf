package domain

import "time"

// Position is the per-bot position aggregate: accumulated base quantity,
// weighted average entry price, the outstanding order ids and the trailing
// high-water mark. It is loaded at cycle start and committed once per cycle.
type Position struct {
	BotID          string
	Quantity       float64 // accumulated base quantity, 0 when flat
	AvgPrice       float64 // weighted average entry, 0 when flat
	SellOrderID    string  // outstanding take-profit order, "" when none
	BuyOrderIDs    []string
	PositionOpened bool    // trailing-stop entry latch
	HighestPrice   float64 // trailing-stop high-water mark
	UpdatedAt      time.Time
}

// Open reports whether any base quantity is held.
func (p *Position) Open() bool {
	return p.Quantity > 0
}

// ApplyFill folds a filled buy into the aggregate, moving the average
// entry price to the quantity-weighted mean.
func (p *Position) ApplyFill(qty, price float64) {
	if qty <= 0 {
		return
	}
	total := p.Quantity + qty
	p.AvgPrice = (p.AvgPrice*p.Quantity + price*qty) / total
	p.Quantity = total
}

// Close zeroes the aggregate and returns the realized profit of selling
// the whole position at exitPrice. Every tracked field is reset so the
// next cycle starts from a flat state.
func (p *Position) Close(exitPrice float64) float64 {
	profit := (exitPrice - p.AvgPrice) * p.Quantity
	p.Quantity = 0
	p.AvgPrice = 0
	p.SellOrderID = ""
	p.BuyOrderIDs = nil
	p.PositionOpened = false
	p.HighestPrice = 0
	return profit
}

// RemoveBuyOrder drops an order id from the tracked set. Unknown ids are
// ignored so reconciliation stays idempotent.
func (p *Position) RemoveBuyOrder(orderID string) {
	for i, id := range p.BuyOrderIDs {
		if id == orderID {
			p.BuyOrderIDs = append(p.BuyOrderIDs[:i], p.BuyOrderIDs[i+1:]...)
			return
		}
	}
}
