// Package signal evaluates entry signals over candle windows. Indicator
// math is delegated to go-talib; this package owns parameter decoding,
// data-sufficiency guards and the combination semantics.
package signal

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/markcheno/go-talib"

	"github.com/alanyoungcy/cexbot/internal/domain"
)

// klineLimit is how many candles are fetched per evaluation. Generous
// enough for the slowest indicator (ichimoku span B at 52) plus warmup.
const klineLimit = 200

// MarketData serves venue-keyed public market data. The app implements it
// as a router over credential-less exchange adapters, one per venue.
type MarketData interface {
	LastPrice(ctx context.Context, venue domain.Venue, symbol string, category domain.Category) (float64, error)
	Klines(ctx context.Context, venue domain.Venue, symbol, interval string, limit int, category domain.Category) (domain.Window, error)
}

// Request identifies what to evaluate a signal against.
type Request struct {
	Venue    domain.Venue
	Symbol   string
	Category domain.Category
	Interval string // normalized, defaults to "1h" when empty
}

// Evaluator turns SignalSpecs into boolean entry decisions.
type Evaluator struct {
	data   MarketData
	logger *slog.Logger
}

// NewEvaluator creates an Evaluator reading market data from data.
func NewEvaluator(data MarketData, logger *slog.Logger) *Evaluator {
	return &Evaluator{
		data:   data,
		logger: logger.With(slog.String("component", "signal")),
	}
}

// Evaluate returns whether the signal currently triggers. Insufficient
// history is never an error: the signal is simply false. Combined signals
// are the conjunction of their members, and a member that cannot be
// evaluated makes the whole combination false.
func (e *Evaluator) Evaluate(ctx context.Context, spec domain.SignalSpec, req Request) (bool, error) {
	if req.Interval == "" {
		req.Interval = "1h"
	}

	if spec.Kind == domain.SignalCombined {
		for _, member := range spec.Members {
			ok, err := e.evaluateOne(ctx, member, req)
			if err != nil {
				// Fail closed: one broken member vetoes the combination.
				e.logger.WarnContext(ctx, "combined member failed, vetoing",
					slog.String("kind", string(member.Kind)),
					slog.String("error", err.Error()),
				)
				return false, nil
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	}

	return e.evaluateOne(ctx, spec, req)
}

// ValidateSpec decodes the spec's parameters and checks enum values,
// returning a configuration error for anything the evaluator would not
// understand at run time.
func ValidateSpec(spec domain.SignalSpec) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	if spec.Kind == domain.SignalCombined {
		for _, m := range spec.Members {
			if err := ValidateSpec(m); err != nil {
				return err
			}
		}
		return nil
	}
	return validateParams(spec)
}

// --------------------------------------------------------------------------
// Per-kind evaluation
// --------------------------------------------------------------------------

func (e *Evaluator) evaluateOne(ctx context.Context, spec domain.SignalSpec, req Request) (bool, error) {
	if spec.Kind == domain.SignalPrice {
		return e.evalPrice(ctx, spec, req)
	}

	window, err := e.data.Klines(ctx, req.Venue, req.Symbol, req.Interval, klineLimit, req.Category)
	if err != nil {
		return false, fmt.Errorf("signal: fetch klines: %w", err)
	}

	triggered, err := evalIndicator(spec, window)
	if err != nil {
		return false, err
	}

	e.logger.DebugContext(ctx, "signal evaluated",
		slog.String("kind", string(spec.Kind)),
		slog.String("symbol", req.Symbol),
		slog.Bool("triggered", triggered),
	)
	return triggered, nil
}

func (e *Evaluator) evalPrice(ctx context.Context, spec domain.SignalSpec, req Request) (bool, error) {
	var p priceParams
	p.Condition = "below"
	if err := decode(spec.Params, &p); err != nil {
		return false, err
	}
	if p.TargetPrice <= 0 {
		return false, domain.ConfigErrorf("signal: price signal requires target_price")
	}

	price, err := e.data.LastPrice(ctx, req.Venue, req.Symbol, req.Category)
	if err != nil {
		return false, fmt.Errorf("signal: fetch price: %w", err)
	}

	if p.Condition == "above" {
		return price >= p.TargetPrice, nil
	}
	return price <= p.TargetPrice, nil
}

// evalIndicator dispatches the candle-based kinds. It is a free function
// so tests can drive it with synthetic windows.
func evalIndicator(spec domain.SignalSpec, w domain.Window) (bool, error) {
	switch spec.Kind {
	case domain.SignalRSI:
		p := rsiParams{Period: 14, Threshold: 30}
		if err := decode(spec.Params, &p); err != nil {
			return false, err
		}
		if len(w) < p.Period+1 {
			return false, nil
		}
		values := talib.Rsi(w.Closes(), p.Period)
		return last(values) < p.Threshold, nil

	case domain.SignalCCI:
		p := cciParams{Period: 20, Threshold: -100}
		if err := decode(spec.Params, &p); err != nil {
			return false, err
		}
		if len(w) < p.Period+1 {
			return false, nil
		}
		values := talib.Cci(w.Highs(), w.Lows(), w.Closes(), p.Period)
		return last(values) < p.Threshold, nil

	case domain.SignalMFI:
		p := mfiParams{Period: 14, Threshold: 20}
		if err := decode(spec.Params, &p); err != nil {
			return false, err
		}
		if len(w) < p.Period+1 {
			return false, nil
		}
		values := talib.Mfi(w.Highs(), w.Lows(), w.Closes(), w.Volumes(), p.Period)
		return last(values) < p.Threshold, nil

	case domain.SignalMACD:
		p := macdParams{FastPeriod: 12, SlowPeriod: 26, SignalPeriod: 9, Condition: "crossover"}
		if err := decode(spec.Params, &p); err != nil {
			return false, err
		}
		if len(w) < p.SlowPeriod+p.SignalPeriod+1 {
			return false, nil
		}
		macd, sig, _ := talib.Macd(w.Closes(), p.FastPeriod, p.SlowPeriod, p.SignalPeriod)
		cur, prev := last(macd)-last(sig), prevLast(macd)-prevLast(sig)
		if p.Condition == "crossunder" {
			return cur < 0 && prev >= 0, nil
		}
		return cur > 0 && prev <= 0, nil

	case domain.SignalBollinger:
		p := bollingerParams{Period: 20, StdDev: 2}
		if err := decode(spec.Params, &p); err != nil {
			return false, err
		}
		if len(w) < p.Period+1 {
			return false, nil
		}
		_, _, lower := talib.BBands(w.Closes(), p.Period, p.StdDev, p.StdDev, talib.SMA)
		return w.LastClose() < last(lower), nil

	case domain.SignalStochastic:
		p := stochasticParams{KPeriod: 14, DPeriod: 3, Threshold: 20}
		if err := decode(spec.Params, &p); err != nil {
			return false, err
		}
		if len(w) < p.KPeriod+p.DPeriod+1 {
			return false, nil
		}
		k, _ := talib.Stoch(w.Highs(), w.Lows(), w.Closes(), p.KPeriod, p.DPeriod, talib.SMA, p.DPeriod, talib.SMA)
		return last(k) < p.Threshold, nil

	case domain.SignalVolumeSpike:
		p := volumeSpikeParams{Lookback: 10, Threshold: 2}
		if err := decode(spec.Params, &p); err != nil {
			return false, err
		}
		if len(w) < p.Lookback+1 {
			return false, nil
		}
		vols := w.Volumes()
		current := vols[len(vols)-1]
		var sum float64
		for _, v := range vols[len(vols)-1-p.Lookback : len(vols)-1] {
			sum += v
		}
		avg := sum / float64(p.Lookback)
		return avg > 0 && current > avg*p.Threshold, nil

	case domain.SignalMACrossover:
		p := maCrossoverParams{FastPeriod: 10, SlowPeriod: 20, MAType: "sma"}
		if err := decode(spec.Params, &p); err != nil {
			return false, err
		}
		if len(w) < p.SlowPeriod+2 {
			return false, nil
		}
		ma := talib.Sma
		if p.MAType == "ema" {
			ma = talib.Ema
		}
		fast := ma(w.Closes(), p.FastPeriod)
		slow := ma(w.Closes(), p.SlowPeriod)
		return last(fast) > last(slow) && prevLast(fast) <= prevLast(slow), nil

	case domain.SignalPivotPoints:
		p := pivotPointsParams{Period: 20, Condition: "above_resistance"}
		if err := decode(spec.Params, &p); err != nil {
			return false, err
		}
		if len(w) < p.Period+1 {
			return false, nil
		}
		// Classic pivots over the period preceding the current candle.
		ref := w[len(w)-1-p.Period : len(w)-1]
		high, low := ref[0].High, ref[0].Low
		for _, c := range ref {
			if c.High > high {
				high = c.High
			}
			if c.Low < low {
				low = c.Low
			}
		}
		pivot := (high + low + ref[len(ref)-1].Close) / 3
		r1 := 2*pivot - low
		s1 := 2*pivot - high
		if p.Condition == "below_support" {
			return w.LastClose() < s1, nil
		}
		return w.LastClose() > r1, nil

	case domain.SignalADX:
		p := adxParams{Period: 14, Threshold: 25}
		if err := decode(spec.Params, &p); err != nil {
			return false, err
		}
		if len(w) < 2*p.Period+1 {
			return false, nil
		}
		values := talib.Adx(w.Highs(), w.Lows(), w.Closes(), p.Period)
		return last(values) > p.Threshold, nil

	case domain.SignalATR:
		p := atrParams{Period: 14, Threshold: 1}
		if err := decode(spec.Params, &p); err != nil {
			return false, err
		}
		if len(w) < p.Period+1 {
			return false, nil
		}
		values := talib.Atr(w.Highs(), w.Lows(), w.Closes(), p.Period)
		return last(values) > p.Threshold, nil

	case domain.SignalIchimoku:
		p := ichimokuParams{ConversionPeriod: 9, BasePeriod: 26, SpanBPeriod: 52, Condition: "above_cloud"}
		if err := decode(spec.Params, &p); err != nil {
			return false, err
		}
		// The cloud at the current candle was projected BasePeriod bars ago.
		need := p.SpanBPeriod + p.BasePeriod
		if len(w) < need {
			return false, nil
		}
		at := len(w) - 1 - p.BasePeriod
		spanA := (midpoint(w, at, p.ConversionPeriod) + midpoint(w, at, p.BasePeriod)) / 2
		spanB := midpoint(w, at, p.SpanBPeriod)
		top, bottom := spanA, spanB
		if spanB > spanA {
			top, bottom = spanB, spanA
		}
		if p.Condition == "below_cloud" {
			return w.LastClose() < bottom, nil
		}
		return w.LastClose() > top, nil

	default:
		return false, domain.ConfigErrorf("signal: unknown kind %q", string(spec.Kind))
	}
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// validateParams decodes each kind's params and rejects bad enum values.
func validateParams(spec domain.SignalSpec) error {
	switch spec.Kind {
	case domain.SignalPrice:
		var p priceParams
		if err := decode(spec.Params, &p); err != nil {
			return err
		}
		if p.TargetPrice <= 0 {
			return domain.ConfigErrorf("signal: price signal requires target_price")
		}
		if p.Condition != "" && p.Condition != "above" && p.Condition != "below" {
			return domain.ConfigErrorf("signal: price condition must be above or below, got %q", p.Condition)
		}
	case domain.SignalMACD:
		var p macdParams
		if err := decode(spec.Params, &p); err != nil {
			return err
		}
		if p.Condition != "" && p.Condition != "crossover" && p.Condition != "crossunder" {
			return domain.ConfigErrorf("signal: macd condition must be crossover or crossunder, got %q", p.Condition)
		}
	case domain.SignalMACrossover:
		var p maCrossoverParams
		if err := decode(spec.Params, &p); err != nil {
			return err
		}
		if p.MAType != "" && p.MAType != "sma" && p.MAType != "ema" {
			return domain.ConfigErrorf("signal: ma_type must be sma or ema, got %q", p.MAType)
		}
	case domain.SignalPivotPoints:
		var p pivotPointsParams
		if err := decode(spec.Params, &p); err != nil {
			return err
		}
		if p.Condition != "" && p.Condition != "above_resistance" && p.Condition != "below_support" {
			return domain.ConfigErrorf("signal: pivot condition must be above_resistance or below_support, got %q", p.Condition)
		}
	case domain.SignalIchimoku:
		var p ichimokuParams
		if err := decode(spec.Params, &p); err != nil {
			return err
		}
		if p.Condition != "" && p.Condition != "above_cloud" && p.Condition != "below_cloud" {
			return domain.ConfigErrorf("signal: ichimoku condition must be above_cloud or below_cloud, got %q", p.Condition)
		}
	case domain.SignalRSI:
		var p rsiParams
		return decode(spec.Params, &p)
	case domain.SignalCCI:
		var p cciParams
		return decode(spec.Params, &p)
	case domain.SignalMFI:
		var p mfiParams
		return decode(spec.Params, &p)
	case domain.SignalBollinger:
		var p bollingerParams
		return decode(spec.Params, &p)
	case domain.SignalStochastic:
		var p stochasticParams
		return decode(spec.Params, &p)
	case domain.SignalVolumeSpike:
		var p volumeSpikeParams
		return decode(spec.Params, &p)
	case domain.SignalADX:
		var p adxParams
		return decode(spec.Params, &p)
	case domain.SignalATR:
		var p atrParams
		return decode(spec.Params, &p)
	}
	return nil
}

// midpoint is the ichimoku line value at index at: the mean of the highest
// high and lowest low over the preceding period candles.
func midpoint(w domain.Window, at, period int) float64 {
	start := at - period + 1
	if start < 0 {
		start = 0
	}
	high, low := w[start].High, w[start].Low
	for _, c := range w[start : at+1] {
		if c.High > high {
			high = c.High
		}
		if c.Low < low {
			low = c.Low
		}
	}
	return (high + low) / 2
}

func last(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return values[len(values)-1]
}

func prevLast(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	return values[len(values)-2]
}
