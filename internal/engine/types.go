package engine

import (
	"time"

	"session-core/internal/backtest"
	"session-core/internal/session"
	"session-core/internal/strategy"
)

// CreateRequest describes a new session. Zero limits fall back to the risk
// defaults, or to PositionSizePercent of the account balance when given.
type CreateRequest struct {
	SessionID           string         `json:"session_id"`
	AccountID           string         `json:"account_id"`
	StrategyName        string         `json:"strategy_name" binding:"required"`
	StrategyParams      map[string]any `json:"strategy_params"`
	Instrument          string         `json:"instrument" binding:"required"`
	Granularity         string         `json:"granularity"`
	MaxPositionSize     float64        `json:"max_position_size"`
	MaxDailyLoss        float64        `json:"max_daily_loss"`
	PositionSizePercent float64        `json:"position_size_percent"`
}

// UpdateRequest patches a session. Nil fields are left unchanged. Status drives
// the matching lifecycle operation.
type UpdateRequest struct {
	MaxPositionSize *float64       `json:"max_position_size"`
	MaxDailyLoss    *float64       `json:"max_daily_loss"`
	StrategyParams  map[string]any `json:"strategy_params"`
	Status          *string        `json:"status"`
}

// TradesView is the open and closed trade history of one session.
type TradesView struct {
	SessionID string          `json:"session_id"`
	Open      []session.Trade `json:"open_trades"`
	Closed    []session.Trade `json:"closed_trades"`
}

// BacktestRequest selects bars either by Count (most recent) or by From/To.
type BacktestRequest struct {
	Strategy    string           `json:"strategy" binding:"required"`
	Params      map[string]any   `json:"params"`
	Instrument  string           `json:"instrument" binding:"required"`
	Granularity string           `json:"granularity"`
	Count       int              `json:"count"`
	From        time.Time        `json:"from"`
	To          time.Time        `json:"to"`
	Options     backtest.Options `json:"options"`
}

// BacktestResponse is a finished run.
type BacktestResponse struct {
	ID          string           `json:"id"`
	Strategy    string           `json:"strategy"`
	Instrument  string           `json:"instrument"`
	Granularity string           `json:"granularity"`
	Bars        int              `json:"bars"`
	Params      strategy.Params  `json:"params"`
	Result      *backtest.Result `json:"result"`
}

// StrategyInfo is one registry entry as listed to clients.
type StrategyInfo struct {
	Key    string               `json:"key"`
	Name   string               `json:"name"`
	Doc    string               `json:"doc"`
	Params []strategy.ParamSpec `json:"params"`
}

// ClosePositionResult reports a manual close.
type ClosePositionResult struct {
	SessionID   string  `json:"session_id,omitempty"`
	AccountID   string  `json:"account_id"`
	Instrument  string  `json:"instrument"`
	UnitsClosed float64 `json:"units_closed"`
	Skipped     string  `json:"skipped,omitempty"`
}
