package strategy

import (
	"fmt"

	"session-core/internal/indicators"
	exchange "session-core/pkg/exchanges/common"
)

// RSIReversal enters long when RSI drops below oversold and exits once it rises
// above overbought.
type RSIReversal struct {
	Base
	period     int
	oversold   float64
	overbought float64
	prices     *indicators.Window
}

func NewRSIReversal(p Params) (Strategy, error) {
	oversold, overbought := p.Float("oversold"), p.Float("overbought")
	if oversold >= overbought {
		return nil, fmt.Errorf("oversold %.1f must be below overbought %.1f", oversold, overbought)
	}
	period := p.Int("period")
	return &RSIReversal{
		period:     period,
		oversold:   oversold,
		overbought: overbought,
		prices:     indicators.NewWindow(period + 1),
	}, nil
}

func (s *RSIReversal) OnBar(bar exchange.Bar, ctx *Context) {
	s.prices.Push(bar.Close)
	if !s.prices.Full() {
		return
	}
	rsi := indicators.RSI(s.prices.Values(), s.period)
	ctx.Meta["rsi"] = rsi
	if rsi < s.oversold {
		ctx.Position = 1
	} else if rsi > s.overbought {
		ctx.Position = 0
	}
}
