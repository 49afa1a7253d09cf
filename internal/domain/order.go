package domain

import "time"

// OrderSide is the direction of an order.
type OrderSide string

const (
	SideBuy  OrderSide = "Buy"
	SideSell OrderSide = "Sell"
)

// OrderType distinguishes resting limit orders from immediate market orders.
type OrderType string

const (
	OrderTypeLimit  OrderType = "Limit"
	OrderTypeMarket OrderType = "Market"
)

// OrderStatus is the venue-reported lifecycle state, normalized across
// venues by each client.
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "New"
	OrderStatusPartiallyFilled OrderStatus = "PartiallyFilled"
	OrderStatusFilled          OrderStatus = "Filled"
	OrderStatusCancelled       OrderStatus = "Cancelled"
	OrderStatusRejected        OrderStatus = "Rejected"
)

// OrderRequest is a venue-agnostic order submission. Quantity and price
// are rounded to the instrument's step and tick by the adapter before any
// network call.
type OrderRequest struct {
	Symbol   string
	Category Category
	Side     OrderSide
	Type     OrderType
	Qty      float64
	Price    float64 // ignored for market orders
}

// Order is a venue-agnostic view of a placed or historical order.
type Order struct {
	ID        string
	Symbol    string
	Side      OrderSide
	Type      OrderType
	Status    OrderStatus
	Qty       float64
	FilledQty float64
	Price     float64 // limit price, or average fill price for history rows
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Filled reports whether the order completed in full.
func (o Order) Filled() bool {
	return o.Status == OrderStatusFilled
}
