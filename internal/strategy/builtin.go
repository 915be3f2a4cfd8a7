package strategy

// Builtins returns the descriptors of every strategy shipped with the engine.
func Builtins() []Descriptor {
	return []Descriptor{
		{
			Key:  "donchian_breakout",
			Name: "Donchian Breakout",
			Doc:  "Long when close above channel midpoint.",
			Params: []ParamSpec{
				{Name: "window", Type: TypeInt, Default: 20, Min: bound(2), Doc: "channel lookback in bars"},
			},
			Factory: NewDonchianBreakout,
		},
		{
			Key:  "mean_reversion",
			Name: "Mean Reversion",
			Doc:  "Long when fast SMA < slow SMA.",
			Params: []ParamSpec{
				{Name: "w_fast", Type: TypeInt, Default: 20, Min: bound(1)},
				{Name: "w_slow", Type: TypeInt, Default: 50, Min: bound(2)},
			},
			Factory: NewMeanReversion,
		},
		{
			Key:  "ma_cross",
			Name: "MA Cross",
			Doc:  "Long while the fast SMA is above the slow SMA; short below it when allowed.",
			Params: []ParamSpec{
				{Name: "fast", Type: TypeInt, Default: 10, Min: bound(1)},
				{Name: "slow", Type: TypeInt, Default: 30, Min: bound(2)},
				{Name: "allow_short", Type: TypeBool, Default: false},
			},
			Factory: NewMACross,
		},
		{
			Key:  "rsi",
			Name: "RSI Reversal",
			Doc:  "Long below the oversold level, flat above the overbought level.",
			Params: []ParamSpec{
				{Name: "period", Type: TypeInt, Default: 14, Min: bound(2)},
				{Name: "oversold", Type: TypeFloat, Default: 30.0, Min: bound(0), Max: bound(100)},
				{Name: "overbought", Type: TypeFloat, Default: 70.0, Min: bound(0), Max: bound(100)},
			},
			Factory: NewRSIReversal,
		},
		{
			Key:  "bollinger",
			Name: "Bollinger Bands",
			Doc:  "Long on a close below the lower band, flat at the middle band.",
			Params: []ParamSpec{
				{Name: "period", Type: TypeInt, Default: 20, Min: bound(2)},
				{Name: "std_dev", Type: TypeFloat, Default: 2.0, Min: bound(0.1)},
			},
			Factory: NewBollinger,
		},
		{
			Key:  "breakout_momentum",
			Name: "Breakout Momentum",
			Doc:  "Donchian breakout with trend and momentum confirmation, ATR stops and targets.",
			Params: []ParamSpec{
				{Name: "lookback", Type: TypeInt, Default: 20, Min: bound(5), Doc: "Donchian channel lookback period"},
				{Name: "trend_ema", Type: TypeInt, Default: 50, Min: bound(10), Doc: "Trend filter EMA period"},
				{Name: "atr_period", Type: TypeInt, Default: 14, Min: bound(5)},
				{Name: "stop_atr_mult", Type: TypeFloat, Default: 2.0, Min: bound(0.5)},
				{Name: "target_atr_mult", Type: TypeFloat, Default: 4.0, Min: bound(1)},
				{Name: "base_position", Type: TypeFloat, Default: 1.0, Min: bound(0.1), Max: bound(3)},
				{Name: "scale_by_volatility", Type: TypeBool, Default: true},
				{Name: "require_trend", Type: TypeBool, Default: true},
				{Name: "use_momentum_filter", Type: TypeBool, Default: true},
				{Name: "momentum_bars", Type: TypeInt, Default: 3, Min: bound(1)},
			},
			Factory: NewBreakoutMomentum,
		},
		{
			Key:  "grid",
			Name: "Grid",
			Doc:  "Buy at the lower bound, exit or short at the upper bound; bounds default to the lookback channel.",
			Params: []ParamSpec{
				{Name: "lookback", Type: TypeInt, Default: 50, Min: bound(2)},
				{Name: "lower", Type: TypeFloat, Default: 0.0, Min: bound(0), Doc: "fixed lower bound, 0 for channel"},
				{Name: "upper", Type: TypeFloat, Default: 0.0, Min: bound(0), Doc: "fixed upper bound, 0 for channel"},
				{Name: "step", Type: TypeFloat, Default: 0.002, Min: bound(0), Doc: "re-arm distance as a fraction of the bound"},
				{Name: "allow_short", Type: TypeBool, Default: false},
			},
			Factory: NewGrid,
		},
		{
			Key:  "volume_profile",
			Name: "Volume Profile",
			Doc:  "Follows the direction of bars whose volume spikes above the recent average.",
			Params: []ParamSpec{
				{Name: "period", Type: TypeInt, Default: 20, Min: bound(2)},
				{Name: "multiplier", Type: TypeFloat, Default: 2.0, Min: bound(1)},
				{Name: "allow_short", Type: TypeBool, Default: false},
			},
			Factory: NewVolumeProfile,
		},
	}
}

// DefaultRegistry returns a registry holding the builtins.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(Builtins()...)
	if err != nil {
		panic(err)
	}
	return r
}
