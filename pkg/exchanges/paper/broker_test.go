package paper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	exchange "session-core/pkg/exchanges/common"
)

func fixedClock(start time.Time) func() time.Time {
	now := start
	return func() time.Time {
		now = now.Add(time.Second)
		return now
	}
}

func newBroker() *Broker {
	b := New(Config{InitialBalance: 10000, Now: fixedClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))})
	b.SetPrice("EUR_USD", 1.0999, 1.1001)
	return b
}

func TestMarketOrder_OpensAtAsk(t *testing.T) {
	b := newBroker()
	ctx := context.Background()

	res, err := b.MarketOrder(ctx, "A", exchange.MarketOrderRequest{Instrument: "EUR_USD", Units: 10000})
	require.NoError(t, err)
	assert.Equal(t, 1.1001, res.Price)
	assert.NotEmpty(t, res.TradeOpened)
	assert.NotEmpty(t, res.OrderID)

	trades, err := b.OpenTrades(ctx, "A")
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, res.TradeOpened, trades[0].ID)
	assert.Equal(t, float64(10000), trades[0].CurrentUnits)
}

func TestMarketOrder_ReducesFIFO(t *testing.T) {
	b := newBroker()
	ctx := context.Background()

	first, err := b.MarketOrder(ctx, "A", exchange.MarketOrderRequest{Instrument: "EUR_USD", Units: 10000})
	require.NoError(t, err)
	second, err := b.MarketOrder(ctx, "A", exchange.MarketOrderRequest{Instrument: "EUR_USD", Units: 10000})
	require.NoError(t, err)

	b.SetPrice("EUR_USD", 1.1099, 1.1101)
	sell, err := b.MarketOrder(ctx, "A", exchange.MarketOrderRequest{Instrument: "EUR_USD", Units: -15000})
	require.NoError(t, err)
	assert.Equal(t, []string{first.TradeOpened}, sell.TradesClosed)
	assert.Equal(t, second.TradeOpened, sell.TradeReduced)
	assert.Empty(t, sell.TradeOpened)

	pos, err := b.Position(ctx, "A", "EUR_USD")
	require.NoError(t, err)
	assert.Equal(t, float64(5000), pos.NetUnits())

	summary, err := b.AccountSummary(ctx, "A")
	require.NoError(t, err)
	// (1.1099 - 1.1001) * 15000
	assert.InDelta(t, 10000+147, summary.Balance, 1e-6)

	txs, err := b.Transactions(ctx, "A", exchange.TransactionQuery{})
	require.NoError(t, err)
	var closes []exchange.Transaction
	for _, tx := range txs {
		if tx.Type == exchange.TxTradeClose {
			closes = append(closes, tx)
		}
	}
	require.Len(t, closes, 1)
	assert.Equal(t, first.TradeOpened, closes[0].TradeID)
	assert.InDelta(t, 98, closes[0].PL, 1e-6)
}

func TestClosePosition(t *testing.T) {
	ctx := context.Background()

	t.Run("partial long close", func(t *testing.T) {
		b := newBroker()
		for i := 0; i < 2; i++ {
			_, err := b.MarketOrder(ctx, "A", exchange.MarketOrderRequest{Instrument: "EUR_USD", Units: 10000})
			require.NoError(t, err)
		}
		res, err := b.ClosePosition(ctx, "A", "EUR_USD", exchange.CloseRequest{LongUnits: exchange.CloseUnits(10000)})
		require.NoError(t, err)
		assert.Equal(t, float64(10000), res.LongClosed)
		assert.Len(t, res.TradeIDs, 1)

		pos, err := b.Position(ctx, "A", "EUR_USD")
		require.NoError(t, err)
		assert.Equal(t, float64(10000), pos.LongUnits)
	})

	t.Run("close all sides", func(t *testing.T) {
		b := newBroker()
		_, err := b.MarketOrder(ctx, "A", exchange.MarketOrderRequest{Instrument: "EUR_USD", Units: -3000})
		require.NoError(t, err)
		res, err := b.ClosePosition(ctx, "A", "EUR_USD", exchange.CloseRequest{LongUnits: exchange.CloseAll, ShortUnits: exchange.CloseAll})
		require.NoError(t, err)
		assert.Equal(t, float64(3000), res.ShortClosed)
		assert.Zero(t, res.LongClosed)

		positions, err := b.OpenPositions(ctx, "A")
		require.NoError(t, err)
		assert.Empty(t, positions)
	})

	t.Run("nothing to close", func(t *testing.T) {
		b := newBroker()
		_, err := b.ClosePosition(ctx, "A", "EUR_USD", exchange.CloseRequest{LongUnits: exchange.CloseAll})
		assert.ErrorIs(t, err, exchange.ErrNoPosition)
	})
}

func TestAccountsAreIndependent(t *testing.T) {
	b := newBroker()
	ctx := context.Background()
	_, err := b.MarketOrder(ctx, "A", exchange.MarketOrderRequest{Instrument: "EUR_USD", Units: 1000})
	require.NoError(t, err)

	trades, err := b.OpenTrades(ctx, "B")
	require.NoError(t, err)
	assert.Empty(t, trades)

	accounts, err := b.Accounts(ctx)
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Equal(t, "A", accounts[0].ID)
}

func TestFailureInjection(t *testing.T) {
	b := newBroker()
	ctx := context.Background()
	boom := errors.New("boom")

	b.Fail("AccountSummary", boom)
	_, err := b.AccountSummary(ctx, "A")
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, b.Calls("AccountSummary"))

	b.Fail("AccountSummary", nil)
	_, err = b.AccountSummary(ctx, "A")
	assert.NoError(t, err)
}

func TestMarketOrder_NoPrice(t *testing.T) {
	b := newBroker()
	_, err := b.MarketOrder(context.Background(), "A", exchange.MarketOrderRequest{Instrument: "GBP_USD", Units: 1})
	assert.ErrorIs(t, err, ErrNoPrice)
}

func TestStreamPricing(t *testing.T) {
	b := newBroker()
	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan exchange.Quote, 4)
	done := make(chan error, 1)
	go func() {
		done <- b.StreamPricing(ctx, "A", []string{"EUR_USD"}, func(q exchange.Quote) {
			select {
			case got <- q:
			default:
			}
		})
	}()

	require.Eventually(t, func() bool {
		b.SetPrice("GBP_USD", 1.25, 1.26)
		b.SetPrice("EUR_USD", 1.2, 1.3)
		return len(got) > 0
	}, time.Second, 10*time.Millisecond)

	q := <-got
	assert.Equal(t, "EUR_USD", q.Instrument)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
