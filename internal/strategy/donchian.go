package strategy

import (
	"session-core/internal/indicators"
	exchange "session-core/pkg/exchanges/common"
)

// DonchianBreakout is long while the close sits at or above the channel midpoint.
type DonchianBreakout struct {
	Base
	highs *indicators.Window
	lows  *indicators.Window
}

func NewDonchianBreakout(p Params) (Strategy, error) {
	w := p.Int("window")
	return &DonchianBreakout{highs: indicators.NewWindow(w), lows: indicators.NewWindow(w)}, nil
}

func (s *DonchianBreakout) OnBar(bar exchange.Bar, ctx *Context) {
	s.highs.Push(bar.High)
	s.lows.Push(bar.Low)
	if !s.highs.Full() {
		return
	}
	mid := (s.highs.Highest() + s.lows.Lowest()) / 2
	if bar.Close >= mid {
		ctx.Position = 1
	} else {
		ctx.Position = 0
	}
}
