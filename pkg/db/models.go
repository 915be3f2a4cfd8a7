package db

import "time"

// SessionRecord is the durable part of a session: its definition, risk limits,
// last status and the attribution state needed to resume ownership tracking.
type SessionRecord struct {
	ID              string
	AccountID       string
	StrategyName    string
	StrategyParams  map[string]any
	Instrument      string
	Granularity     string
	MaxPositionSize float64
	MaxDailyLoss    float64
	Status          string
	PositionUnits   float64
	TradeIDs        []string
	InitialBalance  float64
	ErrorMessage    string
	StartTime       time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ClosedTrade is one closed broker trade attributed to a session.
type ClosedTrade struct {
	SessionID  string
	TradeID    string
	Instrument string
	Units      float64
	OpenPrice  float64
	ClosePrice float64
	OpenTime   time.Time
	CloseTime  time.Time
	RealizedPL float64
}

// BacktestRun is a stored backtest summary. Metrics is the JSON-encoded result metrics.
type BacktestRun struct {
	ID          string
	Strategy    string
	Instrument  string
	Granularity string
	Params      map[string]any
	Bars        int
	Metrics     []byte
	CreatedAt   time.Time
}
