package events

import "time"

// Event enumerates high-level topics inside the session core.
type Event string

const (
	EventSessionSnapshot Event = "session.snapshot"
	EventSessionStatus   Event = "session.status"
	EventOrderExecuted   Event = "order.executed"
	EventRiskBreach      Event = "risk.breach"
	EventPriceTick       Event = "price_tick"
	EventTradeClosed     Event = "trade.closed"
)

// StatusChange is published on EventSessionStatus.
type StatusChange struct {
	SessionID string    `json:"session_id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Reason    string    `json:"reason,omitempty"`
	Time      time.Time `json:"time"`
}

// OrderExecuted is published on EventOrderExecuted for every order attempt.
type OrderExecuted struct {
	SessionID  string    `json:"session_id"`
	Instrument string    `json:"instrument"`
	Units      float64   `json:"units"`
	Price      float64   `json:"price"`
	TradeIDs   []string  `json:"trade_ids,omitempty"`
	Error      string    `json:"error,omitempty"`
	Time       time.Time `json:"time"`
}

// RiskBreach is published on EventRiskBreach when a session is paused by the loss limit.
type RiskBreach struct {
	SessionID    string    `json:"session_id"`
	DailyLoss    float64   `json:"daily_loss"`
	MaxDailyLoss float64   `json:"max_daily_loss"`
	Time         time.Time `json:"time"`
}

// TradeClosed is published on EventTradeClosed when reconciliation records a closure.
type TradeClosed struct {
	SessionID  string    `json:"session_id"`
	TradeID    string    `json:"trade_id"`
	Instrument string    `json:"instrument"`
	RealizedPL float64   `json:"realized_pl"`
	Time       time.Time `json:"time"`
}
