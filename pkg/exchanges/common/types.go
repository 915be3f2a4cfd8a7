package common

import (
	"math"
	"time"
)

// Bar is a completed OHLC sample for one granularity.
type Bar struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume,omitempty"`
}

// AccountRef identifies an account visible to the API token.
type AccountRef struct {
	ID   string   `json:"id"`
	Tags []string `json:"tags,omitempty"`
}

// AccountSummary mirrors the venue account summary fields the engine reads.
type AccountSummary struct {
	ID                string  `json:"id"`
	Alias             string  `json:"alias"`
	Currency          string  `json:"currency"`
	Balance           float64 `json:"balance"`
	NAV               float64 `json:"nav"`
	UnrealizedPL      float64 `json:"unrealized_pl"`
	MarginUsed        float64 `json:"margin_used"`
	MarginAvailable   float64 `json:"margin_available"`
	PositionValue     float64 `json:"position_value"`
	OpenTradeCount    int     `json:"open_trade_count"`
	OpenPositionCount int     `json:"open_position_count"`
}

// Position is the broker view of one instrument. ShortUnits is negative or zero.
type Position struct {
	Instrument    string  `json:"instrument"`
	LongUnits     float64 `json:"long_units"`
	LongAvgPrice  float64 `json:"long_avg_price"`
	ShortUnits    float64 `json:"short_units"`
	ShortAvgPrice float64 `json:"short_avg_price"`
	UnrealizedPL  float64 `json:"unrealized_pl"`
}

// NetUnits returns long + short units (short units are negative).
func (p Position) NetUnits() float64 {
	return p.LongUnits + p.ShortUnits
}

// AvgPrice returns the average price of the side that carries units, long first.
func (p Position) AvgPrice() float64 {
	if p.LongUnits != 0 {
		return p.LongAvgPrice
	}
	return p.ShortAvgPrice
}

// Trade is an open broker trade.
type Trade struct {
	ID           string    `json:"id"`
	Instrument   string    `json:"instrument"`
	OpenTime     time.Time `json:"open_time"`
	Price        float64   `json:"price"`
	CurrentUnits float64   `json:"current_units"`
	UnrealizedPL float64   `json:"unrealized_pl"`
	RealizedPL   float64   `json:"realized_pl"`
}

// Transaction types after normalization.
const (
	TxOrderFill  = "ORDER_FILL"
	TxTradeClose = "TRADE_CLOSE"
)

// Transaction is a normalized account transaction. An ORDER_FILL entry describes
// the trade a fill opened; each trade closed by a fill is its own TRADE_CLOSE entry.
type Transaction struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Time       time.Time `json:"time"`
	Instrument string    `json:"instrument"`
	TradeID    string    `json:"trade_id"`
	Units      float64   `json:"units"`
	Price      float64   `json:"price"`
	PL         float64   `json:"pl"`
	Reason     string    `json:"reason,omitempty"`
}

// TransactionQuery bounds a transaction history request.
type TransactionQuery struct {
	From     time.Time
	To       time.Time
	PageSize int
}

// MarketOrderRequest is a signed-units market order.
type MarketOrderRequest struct {
	Instrument           string
	Units                float64 // positive buys, negative sells
	StopLoss             float64
	TakeProfit           float64
	TrailingStopDistance float64
	ClientTag            string
}

// OrderResult is the fill confirmation of a market order.
type OrderResult struct {
	OrderID       string    `json:"order_id"`
	TransactionID string    `json:"transaction_id"`
	Instrument    string    `json:"instrument"`
	Units         float64   `json:"units"`
	Price         float64   `json:"price"`
	TradeOpened   string    `json:"trade_opened,omitempty"`
	TradesClosed  []string  `json:"trades_closed,omitempty"`
	TradeReduced  string    `json:"trade_reduced,omitempty"`
	Time          time.Time `json:"time"`
}

// TradeIDs returns every trade ID surfaced by the fill.
func (r OrderResult) TradeIDs() []string {
	ids := make([]string, 0, 2+len(r.TradesClosed))
	if r.TradeOpened != "" {
		ids = append(ids, r.TradeOpened)
	}
	if r.TradeReduced != "" {
		ids = append(ids, r.TradeReduced)
	}
	return append(ids, r.TradesClosed...)
}

// CloseAll is the unit token closing a whole side.
const CloseAll = "ALL"

// CloseRequest selects how much of each side to close. Empty leaves the side alone.
type CloseRequest struct {
	LongUnits  string
	ShortUnits string
}

// CloseUnits formats a positive unit count for a CloseRequest side.
func CloseUnits(units float64) string {
	return formatUnits(math.Abs(units))
}

// CloseResult summarizes the fills a position close produced.
type CloseResult struct {
	Instrument  string   `json:"instrument"`
	LongClosed  float64  `json:"long_closed"`
	ShortClosed float64  `json:"short_closed"`
	TradeIDs    []string `json:"trade_ids,omitempty"`
	RealizedPL  float64  `json:"realized_pl"`
}

// PendingOrder is a resting order.
type PendingOrder struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Instrument string    `json:"instrument"`
	Units      float64   `json:"units"`
	Price      float64   `json:"price"`
	CreateTime time.Time `json:"create_time"`
}

// Quote is a top-of-book price.
type Quote struct {
	Instrument string    `json:"instrument"`
	Bid        float64   `json:"bid"`
	Ask        float64   `json:"ask"`
	Time       time.Time `json:"time"`
}

// Mid returns the bid/ask midpoint, or whichever side is present.
func (q Quote) Mid() float64 {
	switch {
	case q.Bid > 0 && q.Ask > 0:
		return (q.Bid + q.Ask) / 2
	case q.Bid > 0:
		return q.Bid
	default:
		return q.Ask
	}
}
