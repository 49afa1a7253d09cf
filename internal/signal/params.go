package signal

import (
	"github.com/go-viper/mapstructure/v2"

	"github.com/alanyoungcy/cexbot/internal/domain"
)

// Parameter structs for each signal kind. Fields absent from the params map
// keep the defaults applied in decode().

type priceParams struct {
	TargetPrice float64 `mapstructure:"target_price"`
	Condition   string  `mapstructure:"condition"` // "below" (default) or "above"
}

type rsiParams struct {
	Period    int     `mapstructure:"period"`
	Threshold float64 `mapstructure:"threshold"`
}

type cciParams struct {
	Period    int     `mapstructure:"period"`
	Threshold float64 `mapstructure:"threshold"`
}

type mfiParams struct {
	Period    int     `mapstructure:"period"`
	Threshold float64 `mapstructure:"threshold"`
}

type macdParams struct {
	FastPeriod   int    `mapstructure:"fast_period"`
	SlowPeriod   int    `mapstructure:"slow_period"`
	SignalPeriod int    `mapstructure:"signal_period"`
	Condition    string `mapstructure:"condition"` // "crossover" or "crossunder"
}

type bollingerParams struct {
	Period int     `mapstructure:"period"`
	StdDev float64 `mapstructure:"std_dev"`
}

type stochasticParams struct {
	KPeriod   int     `mapstructure:"k_period"`
	DPeriod   int     `mapstructure:"d_period"`
	Threshold float64 `mapstructure:"threshold"`
}

type volumeSpikeParams struct {
	Lookback  int     `mapstructure:"lookback"`
	Threshold float64 `mapstructure:"threshold"` // multiple of the trailing average
}

type maCrossoverParams struct {
	FastPeriod int    `mapstructure:"fast_period"`
	SlowPeriod int    `mapstructure:"slow_period"`
	MAType     string `mapstructure:"ma_type"` // "sma" (default) or "ema"
}

type pivotPointsParams struct {
	Period    int    `mapstructure:"period"`
	Condition string `mapstructure:"condition"` // "above_resistance" or "below_support"
}

type adxParams struct {
	Period    int     `mapstructure:"period"`
	Threshold float64 `mapstructure:"threshold"`
}

type atrParams struct {
	Period    int     `mapstructure:"period"`
	Threshold float64 `mapstructure:"threshold"`
}

type ichimokuParams struct {
	ConversionPeriod int    `mapstructure:"conversion_period"`
	BasePeriod       int    `mapstructure:"base_period"`
	SpanBPeriod      int    `mapstructure:"span_b_period"`
	Condition        string `mapstructure:"condition"` // "above_cloud" or "below_cloud"
}

// decode fills out from the free-form params map. Unknown keys are
// ignored; type mismatches are configuration errors.
func decode(params map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return domain.ConfigErrorf("signal: build params decoder: %v", err)
	}
	if err := dec.Decode(params); err != nil {
		return domain.ConfigErrorf("signal: decode params: %v", err)
	}
	return nil
}
