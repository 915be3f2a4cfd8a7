package strategy

import (
	"fmt"

	"session-core/internal/indicators"
	exchange "session-core/pkg/exchanges/common"
)

// MACross is long while the fast SMA is above the slow SMA. Below it the strategy
// goes short when allow_short is set, flat otherwise.
type MACross struct {
	Base
	fastPeriod int
	slowPeriod int
	allowShort bool
	prices     *indicators.Window
}

func NewMACross(p Params) (Strategy, error) {
	fast, slow := p.Int("fast"), p.Int("slow")
	if fast >= slow {
		return nil, fmt.Errorf("fast period %d must be below slow period %d", fast, slow)
	}
	return &MACross{
		fastPeriod: fast,
		slowPeriod: slow,
		allowShort: p.Bool("allow_short"),
		prices:     indicators.NewWindow(slow),
	}, nil
}

func (s *MACross) OnBar(bar exchange.Bar, ctx *Context) {
	s.prices.Push(bar.Close)
	if !s.prices.Full() {
		return
	}
	fastMA := indicators.SMA(s.prices.Values(), s.fastPeriod)
	slowMA := indicators.SMA(s.prices.Values(), s.slowPeriod)
	ctx.Meta["fast_ma"] = fastMA
	ctx.Meta["slow_ma"] = slowMA

	switch {
	case fastMA > slowMA:
		ctx.Position = 1
	case fastMA < slowMA && s.allowShort:
		ctx.Position = -1
	case fastMA < slowMA:
		ctx.Position = 0
	}
}
