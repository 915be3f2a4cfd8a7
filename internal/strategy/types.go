// Package strategy defines the bar-driven strategy contract, the declarative
// parameter schema strategies advertise, and the static registry the engine and
// backtester build strategies from.
package strategy

import (
	exchange "session-core/pkg/exchanges/common"
)

// Strategy consumes completed bars and expresses its target exposure by setting
// ctx.Position, a multiplier of the session's maximum position size.
type Strategy interface {
	OnStart(ctx *Context)
	OnBar(bar exchange.Bar, ctx *Context)
	OnStop(ctx *Context)
}

// Base provides no-op lifecycle hooks for strategies that only need OnBar.
type Base struct{}

func (Base) OnStart(*Context) {}
func (Base) OnStop(*Context)  {}

// Context is the per-session execution state handed to every hook. It is owned by
// one trading loop or backtest run and never shared.
type Context struct {
	Position float64
	Cash     float64
	Meta     map[string]any
	Params   Params
}

// NewContext returns an empty context carrying the validated params.
func NewContext(params Params) *Context {
	return &Context{Meta: make(map[string]any), Params: params}
}
