// Package session holds the per-session bookkeeping shared by the lifecycle
// controller, the trading loop and the reconciler.
package session

import "time"

// Status is a lifecycle state.
type Status string

const (
	StatusStopped  Status = "STOPPED"
	StatusStarting Status = "STARTING"
	StatusRunning  Status = "RUNNING"
	StatusPaused   Status = "PAUSED"
	StatusStopping Status = "STOPPING"
	StatusError    Status = "ERROR"
)

// Active reports whether a trading loop may own a session in this state.
func (s Status) Active() bool {
	return s == StatusStarting || s == StatusRunning || s == StatusPaused
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusStopped, StatusStarting, StatusRunning, StatusPaused, StatusStopping, StatusError:
		return true
	}
	return false
}

// Position is one instrument's broker-side exposure, rebuilt every reconciliation.
type Position struct {
	Instrument   string  `json:"instrument"`
	Units        float64 `json:"units"`
	AvgPrice     float64 `json:"avg_price"`
	UnrealizedPL float64 `json:"unrealized_pl"`
}

// Trade is a broker trade attributed to a session. While open, RealizedPL carries
// the unrealized P&L for display; CloseTime marks which meaning applies.
type Trade struct {
	ID         string     `json:"id"`
	Instrument string     `json:"instrument"`
	OpenTime   time.Time  `json:"open_time"`
	CloseTime  *time.Time `json:"close_time"`
	OpenPrice  float64    `json:"open_price"`
	ClosePrice *float64   `json:"close_price"`
	Units      float64    `json:"units"`
	RealizedPL float64    `json:"realized_pl"`
}

// IsClosed reports whether the trade has been promoted to closed.
func (t Trade) IsClosed() bool { return t.CloseTime != nil }

// Definition is the user-supplied configuration of a session.
type Definition struct {
	ID              string         `json:"session_id" yaml:"session_id"`
	AccountID       string         `json:"account_id" yaml:"account_id"`
	StrategyName    string         `json:"strategy_name" yaml:"strategy_name"`
	StrategyParams  map[string]any `json:"strategy_params" yaml:"strategy_params"`
	Instrument      string         `json:"instrument" yaml:"instrument"`
	Granularity     string         `json:"granularity" yaml:"granularity"`
	MaxPositionSize float64        `json:"max_position_size" yaml:"max_position_size"`
	MaxDailyLoss    float64        `json:"max_daily_loss" yaml:"max_daily_loss"`
}

// Account is the broker account snapshot mirrored onto a session.
type Account struct {
	InitialBalance  float64 `json:"initial_balance"`
	CurrentBalance  float64 `json:"current_balance"`
	Equity          float64 `json:"equity"`
	UnrealizedPL    float64 `json:"unrealized_pl"`
	RealizedPL      float64 `json:"realized_pl"`
	MarginUsed      float64 `json:"margin_used"`
	MarginAvailable float64 `json:"margin_available"`
}

// Cursors are the next-due times of the loop's three cadences.
type Cursors struct {
	NextMetrics time.Time `json:"next_metrics_refresh"`
	NextBarPoll time.Time `json:"next_bar_poll"`
	NextTxSync  time.Time `json:"next_tx_sync"`
}

// Snapshot is a consistent, JSON-ready copy of a session.
type Snapshot struct {
	Definition
	Status               Status              `json:"status"`
	Account
	TotalTrades          int                 `json:"total_trades"`
	WinningTrades        int                 `json:"winning_trades"`
	LosingTrades         int                 `json:"losing_trades"`
	Positions            map[string]Position `json:"positions"`
	OpenTrades           []Trade             `json:"open_trades"`
	ClosedTradeCount     int                 `json:"closed_trade_count"`
	DailyLoss            float64             `json:"daily_loss"`
	SessionPositionUnits float64             `json:"session_position_units"`
	AttributedTrades     int                 `json:"attributed_trades"`
	Cursors              Cursors             `json:"cursors"`
	StartTime            *time.Time          `json:"start_time"`
	LastUpdate           *time.Time          `json:"last_update"`
	LastBarTime          *time.Time          `json:"last_bar_time"`
	ErrorMessage         string              `json:"error_message"`
}
