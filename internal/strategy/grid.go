package strategy

import (
	"errors"

	"session-core/internal/indicators"
	exchange "session-core/pkg/exchanges/common"
)

// Grid goes long when price reaches the lower bound and exits, or flips short,
// at the upper bound. Fixed bounds come from params; without them the bounds
// are the channel of the previous lookback bars. A side re-arms only after price
// has moved step away from its bound, so a hovering price does not churn.
type Grid struct {
	Base
	lower, upper float64
	step         float64
	allowShort   bool
	highs, lows  *indicators.Window
	lastAction   string
}

func NewGrid(p Params) (Strategy, error) {
	lower, upper := p.Float("lower"), p.Float("upper")
	if (lower > 0) != (upper > 0) {
		return nil, errors.New("lower and upper must be set together")
	}
	if upper > 0 && lower >= upper {
		return nil, errors.New("lower bound must be below upper bound")
	}
	n := p.Int("lookback")
	return &Grid{
		lower:      lower,
		upper:      upper,
		step:       p.Float("step"),
		allowShort: p.Bool("allow_short"),
		highs:      indicators.NewWindow(n),
		lows:       indicators.NewWindow(n),
	}, nil
}

func (g *Grid) bounds() (float64, float64, bool) {
	if g.upper > 0 {
		return g.lower, g.upper, true
	}
	if !g.highs.Full() {
		return 0, 0, false
	}
	return g.lows.Lowest(), g.highs.Highest(), true
}

func (g *Grid) OnBar(bar exchange.Bar, ctx *Context) {
	lower, upper, ok := g.bounds()
	g.highs.Push(bar.High)
	g.lows.Push(bar.Low)
	if !ok {
		return
	}
	price := bar.Close
	ctx.Meta["lower"] = lower
	ctx.Meta["upper"] = upper

	if g.lastAction == "BUY" && price > lower*(1+g.step) {
		g.lastAction = ""
	}
	if g.lastAction == "SELL" && price < upper*(1-g.step) {
		g.lastAction = ""
	}

	switch {
	case price <= lower && g.lastAction != "BUY":
		g.lastAction = "BUY"
		ctx.Position = 1
	case price >= upper && g.lastAction != "SELL":
		g.lastAction = "SELL"
		if g.allowShort {
			ctx.Position = -1
		} else {
			ctx.Position = 0
		}
	}
}
