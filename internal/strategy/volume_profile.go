package strategy

import (
	"session-core/internal/indicators"
	exchange "session-core/pkg/exchanges/common"
)

// VolumeProfile trades bars whose volume is at least multiplier times the
// average of the previous period bars: long on an up close, flat (or short) on a
// down close. Quiet bars leave the position unchanged. OANDA candles carry tick
// volume, which is what this reads.
type VolumeProfile struct {
	Base
	multiplier float64
	allowShort bool
	volumes    *indicators.Window
	prevClose  float64
}

func NewVolumeProfile(p Params) (Strategy, error) {
	return &VolumeProfile{
		multiplier: p.Float("multiplier"),
		allowShort: p.Bool("allow_short"),
		volumes:    indicators.NewWindow(p.Int("period")),
	}, nil
}

func (s *VolumeProfile) OnBar(bar exchange.Bar, ctx *Context) {
	prev := s.prevClose
	s.prevClose = bar.Close
	if !s.volumes.Full() || prev == 0 {
		s.volumes.Push(bar.Volume)
		return
	}
	avg := s.volumes.Mean()
	s.volumes.Push(bar.Volume)
	ctx.Meta["avg_volume"] = avg
	if avg <= 0 || bar.Volume < avg*s.multiplier {
		return
	}
	switch {
	case bar.Close > prev:
		ctx.Position = 1
	case bar.Close < prev:
		if s.allowShort {
			ctx.Position = -1
		} else {
			ctx.Position = 0
		}
	}
}
