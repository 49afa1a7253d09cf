package domain

// Default precision values substituted when a venue returns zero or
// invalid instrument metadata.
const (
	DefaultTickSize    = 0.0001
	DefaultQtyStep     = 0.001
	DefaultMinOrderQty = 0.001
)

// Instrument carries the trading precision rules of one symbol on one
// venue: the price tick, the quantity step and the minimum order size.
type Instrument struct {
	Venue       Venue
	Symbol      string
	Category    Category
	TickSize    float64
	QtyStep     float64
	MinOrderQty float64
}

// Sanitize replaces non-positive fields with the documented defaults and
// reports whether any substitution happened.
func (i *Instrument) Sanitize() bool {
	substituted := false
	if i.TickSize <= 0 {
		i.TickSize = DefaultTickSize
		substituted = true
	}
	if i.QtyStep <= 0 {
		i.QtyStep = DefaultQtyStep
		substituted = true
	}
	if i.MinOrderQty <= 0 {
		i.MinOrderQty = DefaultMinOrderQty
		substituted = true
	}
	return substituted
}

// Balance is a venue-agnostic account snapshot. Margin fields are zero
// for spot accounts.
type Balance struct {
	TotalEquity   float64
	Available     float64
	MarginBalance float64
	UnrealizedPnL float64
	MarginRatio   float64
}

// MarginExhausted reports whether derivatives trading must stop: the
// margin ratio is critical or no funds remain available.
func (b Balance) MarginExhausted() bool {
	return b.MarginRatio > 0.9 || b.Available <= 0
}

// KeyPermissions is the venue's view of what an API key may do.
type KeyPermissions struct {
	CanTrade    bool
	CanWithdraw bool
	ReadOnly    bool
}

// Acceptable reports whether the key is safe to trade with: trading must
// be allowed and withdrawals must not be.
func (p KeyPermissions) Acceptable() bool {
	return p.CanTrade && !p.CanWithdraw
}
