package reconciliation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"session-core/internal/session"
	exchange "session-core/pkg/exchanges/common"
	"session-core/pkg/exchanges/paper"
)

type claimSet map[string]string

func (c claimSet) ClaimedElsewhere(accountID, tradeID, sessionID string) bool {
	owner, ok := c[tradeID]
	return ok && owner != sessionID
}

type sinkRecorder struct {
	trades []session.Trade
	losses []float64
}

func (r *sinkRecorder) RecordClosed(sessionID string, t session.Trade) {
	r.trades = append(r.trades, t)
}

func (r *sinkRecorder) RecordClose(sessionID string, pnl float64, at time.Time) {
	r.losses = append(r.losses, pnl)
}

func setup(t *testing.T) (*paper.Broker, *session.Session) {
	t.Helper()
	b := paper.New(paper.Config{InitialBalance: 100000})
	b.SetPrice("EUR_USD", 1.0999, 1.1001)
	s := session.New(session.Definition{
		ID: "s1", AccountID: "A", StrategyName: "ma_cross", Instrument: "EUR_USD",
		Granularity: "M1", MaxPositionSize: 10000, MaxDailyLoss: 100,
	}, 10)
	s.MarkStarted(time.Now().Add(-time.Minute))
	s.SeedBalance(100000)
	return b, s
}

func order(t *testing.T, b *paper.Broker, units float64) exchange.OrderResult {
	t.Helper()
	res, err := b.MarketOrder(context.Background(), "A", exchange.MarketOrderRequest{Instrument: "EUR_USD", Units: units})
	require.NoError(t, err)
	return res
}

func TestReconcile_TracksOwnedTrades(t *testing.T) {
	b, s := setup(t)
	rec := &sinkRecorder{}
	r := New(Config{}, nil, rec, rec)
	ctx := context.Background()

	res := order(t, b, 10000)
	s.AttributeTrades(res.TradeIDs()...)

	report, err := r.Reconcile(ctx, b, s)
	require.NoError(t, err)
	assert.Equal(t, 1, report.OpenTrades)
	assert.True(t, report.FetchedTransaction, "first pass is due")

	snap := s.Snapshot()
	assert.Equal(t, 1, snap.TotalTrades)
	require.Contains(t, snap.Positions, "EUR_USD")
	assert.Equal(t, float64(10000), snap.Positions["EUR_USD"].Units)
	assert.Equal(t, 100000.0, snap.InitialBalance)

	b.SetPrice("EUR_USD", 1.1049, 1.1051)
	_, err = b.ClosePosition(ctx, "A", "EUR_USD", exchange.CloseRequest{LongUnits: exchange.CloseAll})
	require.NoError(t, err)

	report, err = r.Reconcile(ctx, b, s)
	require.NoError(t, err)
	assert.Equal(t, []string{res.TradeOpened}, report.Disappeared)
	require.Len(t, report.Closures, 1)
	closed := report.Closures[0]
	assert.Equal(t, 1.1001, closed.OpenPrice)
	assert.Equal(t, float64(10000), closed.Units)
	assert.InDelta(t, 48, closed.RealizedPL, 1e-6)
	require.NotNil(t, closed.ClosePrice)
	assert.Equal(t, 1.1049, *closed.ClosePrice)

	snap = s.Snapshot()
	assert.Equal(t, 1, snap.TotalTrades)
	assert.Equal(t, 1, snap.WinningTrades)
	assert.Empty(t, snap.OpenTrades)
	assert.InDelta(t, 48, snap.RealizedPL, 1e-6)
	assert.Len(t, rec.trades, 1)
	assert.Equal(t, []float64{closed.RealizedPL}, rec.losses)

	// a later pass must not record the closure again
	report, err = r.Reconcile(ctx, b, s)
	require.NoError(t, err)
	assert.Empty(t, report.Closures)
	assert.Len(t, rec.trades, 1)
}

func TestReconcile_FallbackAttribution(t *testing.T) {
	b, s := setup(t)
	ctx := context.Background()

	other := order(t, b, 5000)
	mine := order(t, b, 2000)
	b.SetPrice("GBP_USD", 1.25, 1.2502)
	_, err := b.MarketOrder(ctx, "A", exchange.MarketOrderRequest{Instrument: "GBP_USD", Units: 100})
	require.NoError(t, err)

	r := New(Config{}, claimSet{other.TradeOpened: "s2"}, nil, nil)
	report, err := r.Reconcile(ctx, b, s)
	require.NoError(t, err)
	assert.Equal(t, []string{mine.TradeOpened}, report.Attributed)
	assert.True(t, s.Owns(mine.TradeOpened))
	assert.False(t, s.Owns(other.TradeOpened))
	assert.Equal(t, 1, report.OpenTrades)
}

func TestReconcile_IgnoresTradesBeforeStart(t *testing.T) {
	b, s := setup(t)
	order(t, b, 1000)
	s.MarkStarted(time.Now().Add(time.Hour))

	r := New(Config{}, nil, nil, nil)
	report, err := r.Reconcile(context.Background(), b, s)
	require.NoError(t, err)
	assert.Zero(t, report.OpenTrades)
	assert.Empty(t, report.Attributed)
}

func TestReconcile_TransactionCadence(t *testing.T) {
	b, s := setup(t)
	r := New(Config{TxSyncInterval: time.Hour}, nil, nil, nil)
	ctx := context.Background()

	report, err := r.Reconcile(ctx, b, s)
	require.NoError(t, err)
	assert.True(t, report.FetchedTransaction)

	report, err = r.Reconcile(ctx, b, s)
	require.NoError(t, err)
	assert.False(t, report.FetchedTransaction, "sync not due and nothing closed")
	assert.Equal(t, 2, b.Calls("OpenTrades"))
	assert.Equal(t, 1, b.Calls("Transactions"))
}

func TestReconcile_TransactionFailureRetries(t *testing.T) {
	b, s := setup(t)
	r := New(Config{TxSyncInterval: time.Hour}, nil, nil, nil)
	ctx := context.Background()
	res := order(t, b, 1000)
	s.AttributeTrades(res.TradeIDs()...)

	_, err := r.Reconcile(ctx, b, s)
	require.NoError(t, err)

	_, err = b.ClosePosition(ctx, "A", "EUR_USD", exchange.CloseRequest{LongUnits: exchange.CloseAll})
	require.NoError(t, err)

	boom := exchange.Unavailable("transactions", errors.New("reset"))
	b.Fail("Transactions", boom)
	_, err = r.Reconcile(ctx, b, s)
	assert.ErrorIs(t, err, exchange.ErrUpstreamUnavailable)
	assert.Empty(t, s.ClosedTrades())

	b.Fail("Transactions", nil)
	report, err := r.Reconcile(ctx, b, s)
	require.NoError(t, err)
	assert.True(t, report.FetchedTransaction, "cursor stays due after a failed fetch")
	assert.Len(t, report.Closures, 1)
}

func TestReconcile_EvictedClosesNotRecordedAgain(t *testing.T) {
	b, _ := setup(t)
	s := session.New(session.Definition{
		ID: "s1", AccountID: "A", StrategyName: "ma_cross", Instrument: "EUR_USD",
		Granularity: "M1", MaxPositionSize: 10000, MaxDailyLoss: 100,
	}, 1)
	s.MarkStarted(time.Now().Add(-time.Minute))
	rec := &sinkRecorder{}
	r := New(Config{}, nil, rec, rec)
	ctx := context.Background()

	s.AttributeTrades(order(t, b, 1000).TradeIDs()...)
	s.AttributeTrades(order(t, b, 2000).TradeIDs()...)
	_, err := b.ClosePosition(ctx, "A", "EUR_USD", exchange.CloseRequest{LongUnits: exchange.CloseAll})
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		s.ExpireTxSync()
		report, err := r.Reconcile(ctx, b, s)
		require.NoError(t, err)
		require.True(t, report.FetchedTransaction)
	}
	assert.Len(t, rec.trades, 2)
	assert.Len(t, rec.losses, 2)
	assert.Len(t, s.ClosedTrades(), 1)
}

func TestReconcile_RecountInvariant(t *testing.T) {
	b, s := setup(t)
	r := New(Config{}, nil, nil, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res := order(t, b, 1000)
		s.AttributeTrades(res.TradeIDs()...)
	}
	b.SetPrice("EUR_USD", 1.0899, 1.0901)
	res := order(t, b, -1000)
	s.AttributeTrades(res.TradeIDs()...)

	_, err := r.Reconcile(ctx, b, s)
	require.NoError(t, err)
	snap := s.Snapshot()
	assert.Equal(t, len(snap.OpenTrades)+snap.ClosedTradeCount, snap.TotalTrades)
	assert.Equal(t, 1, snap.ClosedTradeCount)
	assert.Equal(t, 1, snap.LosingTrades)
	assert.LessOrEqual(t, snap.WinningTrades+snap.LosingTrades, snap.ClosedTradeCount)
}

func TestReconcile_OutOfBand(t *testing.T) {
	b, s := setup(t)
	ctx := context.Background()
	order(t, b, 1000)
	b.SetPrice("EUR_USD", 1.2, 1.2002)
	_, err := b.ClosePosition(ctx, "A", "EUR_USD", exchange.CloseRequest{LongUnits: exchange.CloseAll})
	require.NoError(t, err)

	s.MarkStarted(time.Now().Add(time.Hour))
	r := New(Config{}, nil, nil, nil)
	report, err := r.Reconcile(ctx, b, s)
	require.NoError(t, err)
	assert.True(t, report.OutOfBand)
}

func TestReconcile_SummaryFailure(t *testing.T) {
	b, s := setup(t)
	b.Fail("AccountSummary", exchange.Unavailable("summary", errors.New("down")))
	r := New(Config{}, nil, nil, nil)
	_, err := r.Reconcile(context.Background(), b, s)
	assert.ErrorIs(t, err, exchange.ErrUpstreamUnavailable)
	assert.Zero(t, b.Calls("OpenTrades"))
}
