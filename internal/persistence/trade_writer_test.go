package persistence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"session-core/internal/session"
	"session-core/pkg/db"
)

type memStore struct {
	mu     sync.Mutex
	trades []db.ClosedTrade
	fail   error
}

func (m *memStore) InsertClosedTrades(ctx context.Context, trades []db.ClosedTrade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.trades = append(m.trades, trades...)
	return nil
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.trades)
}

func closedTrade(id string) session.Trade {
	at := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	px := 1.2
	return session.Trade{ID: id, Instrument: "EUR_USD", Units: 1000, OpenPrice: 1.1, ClosePrice: &px, CloseTime: &at, RealizedPL: 100}
}

func TestTradeWriter_FlushBySize(t *testing.T) {
	store := &memStore{}
	w := NewTradeWriter(store, 2, time.Hour)
	defer w.Close()

	w.RecordClosed("s1", closedTrade("1"))
	assert.Equal(t, 1, w.Pending())
	w.RecordClosed("s1", closedTrade("2"))

	assert.Equal(t, 0, w.Pending())
	require.Equal(t, 2, store.count())
	assert.Equal(t, 1.2, store.trades[0].ClosePrice)
	assert.Equal(t, "s1", store.trades[1].SessionID)
	assert.Equal(t, uint64(2), w.GetMetrics().TotalWrites)
}

func TestTradeWriter_FlushByInterval(t *testing.T) {
	store := &memStore{}
	w := NewTradeWriter(store, 100, 10*time.Millisecond)
	defer w.Close()

	w.RecordClosed("s1", closedTrade("1"))
	require.Eventually(t, func() bool { return store.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestTradeWriter_RetainsFailedBatch(t *testing.T) {
	store := &memStore{fail: errors.New("disk full")}
	w := NewTradeWriter(store, 100, time.Hour)

	w.RecordClosed("s1", closedTrade("1"))
	assert.Error(t, w.Flush())
	assert.Equal(t, 1, w.Pending())
	assert.Equal(t, uint64(1), w.GetMetrics().TotalErrors)

	store.mu.Lock()
	store.fail = nil
	store.mu.Unlock()
	require.NoError(t, w.Close())
	assert.Equal(t, 1, store.count(), "close flushes the retained batch")
}
