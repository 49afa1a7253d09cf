package domain

import (
	"fmt"
	"strings"
	"time"
)

// SignalKind names one technical trigger the evaluator understands.
type SignalKind string

const (
	SignalPrice       SignalKind = "price"
	SignalRSI         SignalKind = "rsi"
	SignalCCI         SignalKind = "cci"
	SignalMFI         SignalKind = "mfi"
	SignalMACD        SignalKind = "macd"
	SignalBollinger   SignalKind = "bollinger"
	SignalStochastic  SignalKind = "stochastic"
	SignalVolumeSpike SignalKind = "volume_spike"
	SignalMACrossover SignalKind = "ma_crossover"
	SignalPivotPoints SignalKind = "pivot_points"
	SignalADX         SignalKind = "adx"
	SignalATR         SignalKind = "atr"
	SignalIchimoku    SignalKind = "ichimoku"
	SignalCombined    SignalKind = "combined"
)

// knownSignalKinds is the validation whitelist. Combined is listed so a
// combined spec can be the top-level entry signal.
var knownSignalKinds = map[SignalKind]bool{
	SignalPrice: true, SignalRSI: true, SignalCCI: true, SignalMFI: true,
	SignalMACD: true, SignalBollinger: true, SignalStochastic: true,
	SignalVolumeSpike: true, SignalMACrossover: true, SignalPivotPoints: true,
	SignalADX: true, SignalATR: true, SignalIchimoku: true, SignalCombined: true,
}

// SignalSpec describes one signal to evaluate: a kind plus free-form
// parameters. Params are decoded into typed structs by the evaluator;
// unknown keys are ignored, missing keys take documented defaults.
type SignalSpec struct {
	Kind    SignalKind     `toml:"kind" json:"kind"`
	Params  map[string]any `toml:"params" json:"params"`
	Members []SignalSpec   `toml:"members" json:"members"` // combined only
}

// Validate checks kind and structural shape. Parameter semantics are
// validated by the evaluator when it decodes Params.
func (s SignalSpec) Validate() error {
	if !knownSignalKinds[s.Kind] {
		return ConfigErrorf("domain: unknown signal kind %q", string(s.Kind))
	}
	if s.Kind == SignalCombined {
		if len(s.Members) == 0 {
			return ConfigErrorf("domain: combined signal requires members")
		}
		for i, m := range s.Members {
			if m.Kind == SignalCombined {
				return ConfigErrorf("domain: combined signals do not nest (member %d)", i)
			}
		}
	}
	return nil
}

// StrategySettings carries the per-mode tuning knobs. A single struct is
// used for all modes; each strategy reads only the fields it documents.
type StrategySettings struct {
	// Entry gate. Nil means "always enter" for modes that poll a signal.
	Signal *SignalSpec `toml:"signal" json:"signal,omitempty"`

	// Candle interval fed to the evaluator, venue-agnostic ("1m", "1h", "1d").
	Interval string `toml:"interval" json:"interval,omitempty"`

	// Base order quantity in base currency.
	BaseQty float64 `toml:"base_qty" json:"base_qty,omitempty"`

	// Grid.
	GridLevels      int     `toml:"grid_levels" json:"grid_levels,omitempty"`
	GridSpacing     float64 `toml:"grid_spacing" json:"grid_spacing,omitempty"` // fraction per level, e.g. 0.01
	GridOverlap     float64 `toml:"grid_overlap" json:"grid_overlap,omitempty"` // widens the step, e.g. 0.2
	GridLogarithmic bool    `toml:"grid_logarithmic" json:"grid_logarithmic,omitempty"`
	GridFollow      bool    `toml:"grid_follow" json:"grid_follow,omitempty"` // cancel and re-place levels when price moves

	// Martingale scaling, shared by grid level sizing.
	MartingaleFactor float64 `toml:"martingale_factor" json:"martingale_factor,omitempty"`

	// DCA.
	DCAInterval time.Duration `toml:"dca_interval" json:"dca_interval,omitempty"`

	// Exits.
	TakeProfit  float64 `toml:"take_profit" json:"take_profit,omitempty"`   // fraction above average entry
	StopLoss    float64 `toml:"stop_loss" json:"stop_loss,omitempty"`       // fraction below average entry, 0 disables
	TrailingPct float64 `toml:"trailing_pct" json:"trailing_pct,omitempty"` // trailing stop distance, default 0.01

	// Arbitrage.
	SpreadThreshold float64 `toml:"spread_threshold" json:"spread_threshold,omitempty"` // default 0.005
	FuturesSymbol   string  `toml:"futures_symbol" json:"futures_symbol,omitempty"`     // defaults to Symbol

	// Custom mode plugin name and its raw parameters.
	CustomName   string         `toml:"custom_name" json:"custom_name,omitempty"`
	CustomParams map[string]any `toml:"custom_params" json:"custom_params,omitempty"`
}

// normalizedIntervals lists the venue-agnostic intervals the engine accepts.
var normalizedIntervals = map[string]bool{
	"1m": true, "3m": true, "5m": true, "15m": true, "30m": true,
	"1h": true, "2h": true, "4h": true, "6h": true, "12h": true,
	"1d": true, "1w": true,
}

// Validate checks the settings for the given mode, collecting every
// problem rather than stopping at the first.
func (s StrategySettings) Validate(mode TradeMode) error {
	var problems []string

	if s.Interval != "" && !normalizedIntervals[s.Interval] {
		problems = append(problems, fmt.Sprintf("unsupported interval %q", s.Interval))
	}
	if s.BaseQty <= 0 && mode != ModeArbitrage && mode != ModeCustom {
		problems = append(problems, "base quantity must be positive")
	}
	if s.Signal != nil {
		if err := s.Signal.Validate(); err != nil {
			problems = append(problems, err.Error())
		}
	}

	switch mode {
	case ModeGrid:
		if s.GridLevels <= 0 {
			problems = append(problems, "grid requires at least one level")
		}
		if s.GridSpacing <= 0 {
			problems = append(problems, "grid spacing must be positive")
		}
		if s.GridOverlap < 0 {
			problems = append(problems, "grid overlap cannot be negative")
		}
	case ModeMartingale:
		if s.MartingaleFactor < 0 {
			problems = append(problems, "martingale factor cannot be negative")
		}
	case ModeDCA:
		if s.DCAInterval <= 0 {
			problems = append(problems, "dca interval must be positive")
		}
	case ModeTrailingStop:
		if s.TrailingPct < 0 {
			problems = append(problems, "trailing percentage cannot be negative")
		}
	case ModeArbitrage:
		if s.SpreadThreshold < 0 {
			problems = append(problems, "spread threshold cannot be negative")
		}
	case ModeCustom:
		if s.CustomName == "" {
			problems = append(problems, "custom mode requires a strategy name")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown trade mode %q", string(mode)))
	}

	if s.TakeProfit < 0 {
		problems = append(problems, "take profit cannot be negative")
	}
	if s.StopLoss < 0 {
		problems = append(problems, "stop loss cannot be negative")
	}

	if len(problems) > 0 {
		return ConfigErrorf("domain: invalid settings: %s", strings.Join(problems, "; "))
	}
	return nil
}
