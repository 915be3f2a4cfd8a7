package common

import (
	"context"
	"strconv"
	"time"
)

// Broker abstracts a trading venue account API. Every call is fallible and may be slow.
type Broker interface {
	Accounts(ctx context.Context) ([]AccountRef, error)
	AccountSummary(ctx context.Context, accountID string) (AccountSummary, error)

	OpenPositions(ctx context.Context, accountID string) ([]Position, error)
	Position(ctx context.Context, accountID, instrument string) (Position, error)
	OpenTrades(ctx context.Context, accountID string) ([]Trade, error)
	Transactions(ctx context.Context, accountID string, q TransactionQuery) ([]Transaction, error)

	MarketOrder(ctx context.Context, accountID string, req MarketOrderRequest) (OrderResult, error)
	ClosePosition(ctx context.Context, accountID, instrument string, req CloseRequest) (CloseResult, error)
	PendingOrders(ctx context.Context, accountID string) ([]PendingOrder, error)
	CancelOrder(ctx context.Context, accountID, orderID string) error

	Pricing(ctx context.Context, accountID string, instruments []string) ([]Quote, error)
}

// PriceStreamer pushes quotes until ctx is done or the stream fails.
type PriceStreamer interface {
	StreamPricing(ctx context.Context, accountID string, instruments []string, fn func(Quote)) error
}

// CandleSource returns completed bars, oldest first.
type CandleSource interface {
	Candles(ctx context.Context, instrument, granularity string, count int) ([]Bar, error)
	CandlesRange(ctx context.Context, instrument, granularity string, from, to time.Time) ([]Bar, error)
}

func formatUnits(units float64) string {
	return strconv.FormatFloat(units, 'f', -1, 64)
}
