package strategy

import (
	"math"

	"session-core/internal/indicators"
	exchange "session-core/pkg/exchanges/common"
)

// BreakoutMomentum trades Donchian channel breaks in the direction of an EMA trend,
// with ATR-based stop and target levels and a breakeven trail after 1 ATR of profit.
type BreakoutMomentum struct {
	lookback        int
	stopMult        float64
	targetMult      float64
	basePosition    float64
	scaleByVol      bool
	requireTrend    bool
	useMomentum     bool
	warmup          int
	trend           *indicators.EMA
	atr             *indicators.ATR
	highs, lows     *indicators.Window
	closes          *indicators.Window
	bars            int
	entry           float64
	stop, target    float64
	prevUpper       float64
	prevLower       float64
	havePrevChannel bool
}

func NewBreakoutMomentum(p Params) (Strategy, error) {
	lookback := p.Int("lookback")
	trend := p.Int("trend_ema")
	atr := p.Int("atr_period")
	return &BreakoutMomentum{
		lookback:     lookback,
		stopMult:     p.Float("stop_atr_mult"),
		targetMult:   p.Float("target_atr_mult"),
		basePosition: p.Float("base_position"),
		scaleByVol:   p.Bool("scale_by_volatility"),
		requireTrend: p.Bool("require_trend"),
		useMomentum:  p.Bool("use_momentum_filter"),
		warmup:       max(trend, lookback, atr),
		trend:        indicators.NewEMA(trend),
		atr:          indicators.NewATR(atr),
		highs:        indicators.NewWindow(lookback),
		lows:         indicators.NewWindow(lookback),
		closes:       indicators.NewWindow(p.Int("momentum_bars") + 1),
	}, nil
}

func (s *BreakoutMomentum) OnStart(ctx *Context) {
	ctx.Position = 0
	s.bars = 0
	s.clearTrade()
}

func (s *BreakoutMomentum) OnStop(*Context) {}

func (s *BreakoutMomentum) clearTrade() {
	s.entry, s.stop, s.target = 0, 0, 0
}

// momentum reports whether at least 60% of recent bars moved the same way.
func (s *BreakoutMomentum) momentum() bool {
	if !s.useMomentum || !s.closes.Full() {
		return true
	}
	closes := s.closes.Values()
	var up, down int
	for i := 1; i < len(closes); i++ {
		switch {
		case closes[i] > closes[i-1]:
			up++
		case closes[i] < closes[i-1]:
			down++
		}
	}
	need := float64(len(closes)-1) * 0.6
	return float64(up) >= need || float64(down) >= need
}

func (s *BreakoutMomentum) size(atr, price float64) float64 {
	size := s.basePosition
	if s.scaleByVol && price > 0 {
		scale := 0.001 / math.Max(atr/price, 0.0001)
		size *= math.Min(scale, 2)
	}
	return size
}

func (s *BreakoutMomentum) OnBar(bar exchange.Bar, ctx *Context) {
	s.bars++
	price := bar.Close
	trend := s.trend.Update(price)
	atr, atrReady := s.atr.Update(bar.High, bar.Low, bar.Close)
	s.highs.Push(bar.High)
	s.lows.Push(bar.Low)
	s.closes.Push(price)

	if s.bars < s.warmup || !atrReady {
		ctx.Position = 0
		return
	}
	upper, lower := s.highs.Highest(), s.lows.Lowest()
	defer func() {
		s.prevUpper, s.prevLower, s.havePrevChannel = upper, lower, true
	}()

	switch {
	case ctx.Position > 0:
		if (s.stop != 0 && price <= s.stop) || (s.target != 0 && price >= s.target) {
			ctx.Position = 0
			s.clearTrade()
		} else if s.entry != 0 && price >= s.entry+atr && s.entry > s.stop {
			s.stop = s.entry
		}
	case ctx.Position < 0:
		if (s.stop != 0 && price >= s.stop) || (s.target != 0 && price <= s.target) {
			ctx.Position = 0
			s.clearTrade()
		} else if s.entry != 0 && price <= s.entry-atr && s.entry < s.stop {
			s.stop = s.entry
		}
	default:
		if !s.havePrevChannel {
			return
		}
		bullish := price > s.prevUpper && bar.High > s.prevUpper
		bearish := price < s.prevLower && bar.Low < s.prevLower
		switch {
		case bullish && !(s.requireTrend && price < trend) && s.momentum():
			ctx.Position = s.size(atr, price)
			s.entry, s.stop, s.target = price, price-s.stopMult*atr, price+s.targetMult*atr
		case bearish && !(s.requireTrend && price > trend) && s.momentum():
			ctx.Position = -s.size(atr, price)
			s.entry, s.stop, s.target = price, price+s.stopMult*atr, price-s.targetMult*atr
		}
	}
}
