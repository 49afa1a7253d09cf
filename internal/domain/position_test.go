package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPositionApplyFillWeightedAverage(t *testing.T) {
	var p Position

	p.ApplyFill(0.1, 50000)
	assert.InDelta(t, 0.1, p.Quantity, 1e-12)
	assert.InDelta(t, 50000, p.AvgPrice, 1e-9)

	p.ApplyFill(0.1, 49000)
	assert.InDelta(t, 0.2, p.Quantity, 1e-12)
	assert.InDelta(t, 49500, p.AvgPrice, 1e-9)

	// Non-positive fills are ignored.
	p.ApplyFill(0, 48000)
	p.ApplyFill(-1, 48000)
	assert.InDelta(t, 0.2, p.Quantity, 1e-12)
	assert.InDelta(t, 49500, p.AvgPrice, 1e-9)
}

func TestPositionCloseResetsEverything(t *testing.T) {
	p := Position{
		BotID:          "b1",
		Quantity:       0.2,
		AvgPrice:       49500,
		SellOrderID:    "s1",
		BuyOrderIDs:    []string{"o1", "o2"},
		PositionOpened: true,
		HighestPrice:   51000,
	}

	profit := p.Close(50000)
	assert.InDelta(t, (50000-49500)*0.2, profit, 1e-9)

	assert.False(t, p.Open())
	assert.Zero(t, p.Quantity)
	assert.Zero(t, p.AvgPrice)
	assert.Empty(t, p.SellOrderID)
	assert.Nil(t, p.BuyOrderIDs)
	assert.False(t, p.PositionOpened)
	assert.Zero(t, p.HighestPrice)
}

func TestPositionRemoveBuyOrder(t *testing.T) {
	p := Position{BuyOrderIDs: []string{"a", "b", "c"}}

	p.RemoveBuyOrder("b")
	assert.Equal(t, []string{"a", "c"}, p.BuyOrderIDs)

	// Unknown ids are a no-op.
	p.RemoveBuyOrder("zzz")
	assert.Equal(t, []string{"a", "c"}, p.BuyOrderIDs)
}

func TestBotModeList(t *testing.T) {
	b := Bot{Mode: ModeGrid}
	assert.Equal(t, []TradeMode{ModeGrid}, b.ModeList())

	b.Modes = []TradeMode{ModeGrid, ModeDCA}
	assert.Equal(t, []TradeMode{ModeGrid, ModeDCA}, b.ModeList())
}

func TestBalanceMarginExhausted(t *testing.T) {
	assert.True(t, Balance{MarginRatio: 0.95, Available: 100}.MarginExhausted())
	assert.True(t, Balance{MarginRatio: 0.1, Available: 0}.MarginExhausted())
	assert.False(t, Balance{MarginRatio: 0.5, Available: 100}.MarginExhausted())
}

func TestInstrumentSanitize(t *testing.T) {
	inst := Instrument{TickSize: 0.5, QtyStep: 0.001, MinOrderQty: 0.001}
	assert.False(t, inst.Sanitize())

	inst = Instrument{TickSize: 0, QtyStep: -1, MinOrderQty: 0}
	assert.True(t, inst.Sanitize())
	assert.Equal(t, DefaultTickSize, inst.TickSize)
	assert.Equal(t, DefaultQtyStep, inst.QtyStep)
	assert.Equal(t, DefaultMinOrderQty, inst.MinOrderQty)
}

func TestSignalSpecValidate(t *testing.T) {
	assert.NoError(t, SignalSpec{Kind: SignalRSI}.Validate())
	assert.Error(t, SignalSpec{Kind: "nope"}.Validate())

	// Combined requires members and does not nest.
	assert.Error(t, SignalSpec{Kind: SignalCombined}.Validate())
	assert.Error(t, SignalSpec{
		Kind:    SignalCombined,
		Members: []SignalSpec{{Kind: SignalCombined, Members: []SignalSpec{{Kind: SignalRSI}}}},
	}.Validate())
	assert.NoError(t, SignalSpec{
		Kind:    SignalCombined,
		Members: []SignalSpec{{Kind: SignalRSI}, {Kind: SignalMACD}},
	}.Validate())
}
