package signal

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/cexbot/internal/domain"
)

// fakeMarketData serves canned prices and windows.
type fakeMarketData struct {
	price     float64
	priceErr  error
	window    domain.Window
	windowErr error
}

func (f *fakeMarketData) LastPrice(context.Context, domain.Venue, string, domain.Category) (float64, error) {
	return f.price, f.priceErr
}

func (f *fakeMarketData) Klines(context.Context, domain.Venue, string, string, int, domain.Category) (domain.Window, error) {
	return f.window, f.windowErr
}

var _ MarketData = (*fakeMarketData)(nil)

// syntheticWindow builds n candles walking from start by step per bar.
// Volume is constant except where a test overrides it.
func syntheticWindow(n int, start, step float64) domain.Window {
	w := make(domain.Window, n)
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range w {
		close := start + step*float64(i)
		w[i] = domain.Candle{
			OpenTime: ts.Add(time.Duration(i) * time.Hour),
			Open:     close - step/2,
			High:     close * 1.005,
			Low:      close * 0.995,
			Close:    close,
			Volume:   100,
		}
	}
	return w
}

func testRequest() Request {
	return Request{
		Venue:    domain.VenueBybit,
		Symbol:   "BTCUSDT",
		Category: domain.CategorySpot,
		Interval: "1h",
	}
}

// --------------------------------------------------------------------------
// Price signal
// --------------------------------------------------------------------------

func TestEvaluatePriceSignal(t *testing.T) {
	data := &fakeMarketData{price: 48000}
	e := NewEvaluator(data, slog.Default())

	below := domain.SignalSpec{
		Kind:   domain.SignalPrice,
		Params: map[string]any{"target_price": 49000.0},
	}
	ok, err := e.Evaluate(context.Background(), below, testRequest())
	require.NoError(t, err)
	assert.True(t, ok, "48000 is below the 49000 target")

	above := domain.SignalSpec{
		Kind:   domain.SignalPrice,
		Params: map[string]any{"target_price": 49000.0, "condition": "above"},
	}
	ok, err = e.Evaluate(context.Background(), above, testRequest())
	require.NoError(t, err)
	assert.False(t, ok)

	missing := domain.SignalSpec{Kind: domain.SignalPrice}
	_, err = e.Evaluate(context.Background(), missing, testRequest())
	assert.ErrorIs(t, err, domain.ErrConfig)
}

// --------------------------------------------------------------------------
// Indicator kinds over synthetic windows
// --------------------------------------------------------------------------

func TestRSITriggersOnDecline(t *testing.T) {
	// A steady decline drives RSI toward zero.
	falling := syntheticWindow(100, 60000, -100)
	ok, err := evalIndicator(domain.SignalSpec{Kind: domain.SignalRSI}, falling)
	require.NoError(t, err)
	assert.True(t, ok)

	// A steady rally keeps RSI far above the 30 default.
	rising := syntheticWindow(100, 40000, 100)
	ok, err = evalIndicator(domain.SignalSpec{Kind: domain.SignalRSI}, rising)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIndicatorInsufficientHistoryIsFalseNotError(t *testing.T) {
	short := syntheticWindow(5, 50000, -100)
	for _, kind := range []domain.SignalKind{
		domain.SignalRSI, domain.SignalCCI, domain.SignalMFI, domain.SignalMACD,
		domain.SignalBollinger, domain.SignalStochastic, domain.SignalVolumeSpike,
		domain.SignalMACrossover, domain.SignalPivotPoints, domain.SignalADX,
		domain.SignalATR, domain.SignalIchimoku,
	} {
		ok, err := evalIndicator(domain.SignalSpec{Kind: kind}, short)
		require.NoError(t, err, string(kind))
		assert.False(t, ok, string(kind))
	}
}

func TestVolumeSpike(t *testing.T) {
	w := syntheticWindow(30, 50000, 10)
	w[len(w)-1].Volume = 500 // 5x the flat 100 average

	ok, err := evalIndicator(domain.SignalSpec{Kind: domain.SignalVolumeSpike}, w)
	require.NoError(t, err)
	assert.True(t, ok)

	w[len(w)-1].Volume = 150 // below the 2x default threshold
	ok, err = evalIndicator(domain.SignalSpec{Kind: domain.SignalVolumeSpike}, w)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPivotPointsBreakout(t *testing.T) {
	// Flat range, then the last close breaks far above the resistance.
	w := syntheticWindow(40, 50000, 0)
	w[len(w)-1].Close = 52000
	w[len(w)-1].High = 52100

	ok, err := evalIndicator(domain.SignalSpec{Kind: domain.SignalPivotPoints}, w)
	require.NoError(t, err)
	assert.True(t, ok)

	below := domain.SignalSpec{
		Kind:   domain.SignalPivotPoints,
		Params: map[string]any{"condition": "below_support"},
	}
	w[len(w)-1].Close = 48000
	w[len(w)-1].Low = 47900
	ok, err = evalIndicator(below, w)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestUnknownKindIsConfigError(t *testing.T) {
	_, err := evalIndicator(domain.SignalSpec{Kind: "wat"}, syntheticWindow(100, 50000, 0))
	assert.ErrorIs(t, err, domain.ErrConfig)
}

// --------------------------------------------------------------------------
// Combined signals
// --------------------------------------------------------------------------

func TestCombinedIsConjunction(t *testing.T) {
	data := &fakeMarketData{price: 48000}
	e := NewEvaluator(data, slog.Default())

	bothTrue := domain.SignalSpec{
		Kind: domain.SignalCombined,
		Members: []domain.SignalSpec{
			{Kind: domain.SignalPrice, Params: map[string]any{"target_price": 49000.0}},
			{Kind: domain.SignalPrice, Params: map[string]any{"target_price": 50000.0}},
		},
	}
	ok, err := e.Evaluate(context.Background(), bothTrue, testRequest())
	require.NoError(t, err)
	assert.True(t, ok)

	oneFalse := domain.SignalSpec{
		Kind: domain.SignalCombined,
		Members: []domain.SignalSpec{
			{Kind: domain.SignalPrice, Params: map[string]any{"target_price": 49000.0}},
			{Kind: domain.SignalPrice, Params: map[string]any{"target_price": 47000.0}},
		},
	}
	ok, err = e.Evaluate(context.Background(), oneFalse, testRequest())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCombinedFailsClosed(t *testing.T) {
	// A member that cannot be evaluated vetoes the combination without
	// surfacing an error.
	data := &fakeMarketData{price: 48000, windowErr: errors.New("venue down")}
	e := NewEvaluator(data, slog.Default())

	spec := domain.SignalSpec{
		Kind: domain.SignalCombined,
		Members: []domain.SignalSpec{
			{Kind: domain.SignalPrice, Params: map[string]any{"target_price": 49000.0}},
			{Kind: domain.SignalRSI},
		},
	}
	ok, err := e.Evaluate(context.Background(), spec, testRequest())
	require.NoError(t, err)
	assert.False(t, ok)
}

// --------------------------------------------------------------------------
// Spec validation
// --------------------------------------------------------------------------

func TestValidateSpec(t *testing.T) {
	assert.NoError(t, ValidateSpec(domain.SignalSpec{
		Kind:   domain.SignalPrice,
		Params: map[string]any{"target_price": 100.0},
	}))
	assert.Error(t, ValidateSpec(domain.SignalSpec{Kind: domain.SignalPrice}))
	assert.Error(t, ValidateSpec(domain.SignalSpec{
		Kind:   domain.SignalMACD,
		Params: map[string]any{"condition": "sideways"},
	}))
	assert.Error(t, ValidateSpec(domain.SignalSpec{
		Kind:   domain.SignalMACrossover,
		Params: map[string]any{"ma_type": "vwap"},
	}))
	assert.NoError(t, ValidateSpec(domain.SignalSpec{
		Kind: domain.SignalCombined,
		Members: []domain.SignalSpec{
			{Kind: domain.SignalRSI, Params: map[string]any{"period": 7, "threshold": 25.0}},
			{Kind: domain.SignalVolumeSpike},
		},
	}))
}
