package strategy

import (
	"session-core/internal/indicators"
	exchange "session-core/pkg/exchanges/common"
)

// MeanReversion goes long while the fast SMA is below the slow SMA.
type MeanReversion struct {
	fast *indicators.Window
	slow *indicators.Window
}

func NewMeanReversion(p Params) (Strategy, error) {
	return &MeanReversion{
		fast: indicators.NewWindow(p.Int("w_fast")),
		slow: indicators.NewWindow(p.Int("w_slow")),
	}, nil
}

func (s *MeanReversion) OnStart(ctx *Context) {
	ctx.Meta["ready"] = false
}

func (s *MeanReversion) OnBar(bar exchange.Bar, ctx *Context) {
	s.fast.Push(bar.Close)
	s.slow.Push(bar.Close)
	if !s.slow.Full() {
		ctx.Meta["ready"] = false
		return
	}
	ctx.Meta["ready"] = true
	if s.fast.Mean() < s.slow.Mean() {
		ctx.Position = 1
	} else {
		ctx.Position = 0
	}
}

func (s *MeanReversion) OnStop(*Context) {}
