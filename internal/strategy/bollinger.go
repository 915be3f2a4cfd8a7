package strategy

import (
	"session-core/internal/indicators"
	exchange "session-core/pkg/exchanges/common"
)

// Bollinger buys a close under the lower band and exits when price reaches the middle band.
type Bollinger struct {
	Base
	period int
	stdDev float64
	prices *indicators.Window
}

func NewBollinger(p Params) (Strategy, error) {
	period := p.Int("period")
	return &Bollinger{period: period, stdDev: p.Float("std_dev"), prices: indicators.NewWindow(period)}, nil
}

func (s *Bollinger) OnBar(bar exchange.Bar, ctx *Context) {
	s.prices.Push(bar.Close)
	if !s.prices.Full() {
		return
	}
	values := s.prices.Values()
	middle := indicators.SMA(values, s.period)
	band := s.stdDev * indicators.StdDev(values, s.period)
	lower, upper := middle-band, middle+band
	ctx.Meta["upper_band"] = upper
	ctx.Meta["lower_band"] = lower

	switch {
	case bar.Close < lower:
		ctx.Position = 1
	case bar.Close >= middle:
		ctx.Position = 0
	}
}
