package market

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"session-core/internal/events"
	"session-core/pkg/cache"
	exchange "session-core/pkg/exchanges/common"
	"session-core/pkg/exchanges/paper"
)

func TestRandomWalk_Deterministic(t *testing.T) {
	now := time.Date(2024, 1, 2, 10, 30, 15, 0, time.UTC)
	clock := func() time.Time { return now }
	a := &RandomWalk{Seed: 7, History: 50, Now: clock}
	b := &RandomWalk{Seed: 7, History: 50, Now: clock}
	ctx := context.Background()

	barsA, err := a.Candles(ctx, "EUR_USD", "M1", 10)
	require.NoError(t, err)
	barsB, err := b.Candles(ctx, "EUR_USD", "M1", 10)
	require.NoError(t, err)
	assert.Equal(t, barsA, barsB)
	require.Len(t, barsA, 10)
	assert.Equal(t, time.Date(2024, 1, 2, 10, 29, 0, 0, time.UTC), barsA[9].Time, "last completed bar")
	for i := 1; i < len(barsA); i++ {
		assert.Equal(t, barsA[i-1].Close, barsA[i].Open)
		assert.True(t, barsA[i].High >= barsA[i].Low)
	}

	other, err := a.Candles(ctx, "USD_JPY", "M1", 10)
	require.NoError(t, err)
	assert.NotEqual(t, barsA[9].Close, other[9].Close)
}

func TestRandomWalk_AdvancesAndFeedsSink(t *testing.T) {
	now := time.Date(2024, 1, 2, 10, 0, 30, 0, time.UTC)
	broker := paper.New(paper.Config{})
	rw := &RandomWalk{Seed: 1, History: 5, Now: func() time.Time { return now }, Sink: broker.SetPrice}
	ctx := context.Background()

	first, err := rw.Candles(ctx, "EUR_USD", "M1", 1)
	require.NoError(t, err)
	now = now.Add(3 * time.Minute)
	bars, err := rw.Candles(ctx, "EUR_USD", "M1", 100)
	require.NoError(t, err)
	assert.Len(t, bars, 8)
	assert.True(t, bars[len(bars)-1].Time.After(first[0].Time))

	quotes, err := broker.Pricing(ctx, "A", []string{"EUR_USD"})
	require.NoError(t, err)
	require.Len(t, quotes, 1)
	assert.InDelta(t, bars[len(bars)-1].Close, quotes[0].Mid(), 1e-9)

	ranged, err := rw.CandlesRange(ctx, "EUR_USD", "M1", bars[2].Time, bars[4].Time)
	require.NoError(t, err)
	assert.Len(t, ranged, 3)

	_, err = rw.Candles(ctx, "EUR_USD", "X9", 1)
	assert.Error(t, err)
}

type fakeStreamer struct {
	mu    sync.Mutex
	calls [][]string
	fail  error
}

func (f *fakeStreamer) StreamPricing(ctx context.Context, accountID string, instruments []string, fn func(exchange.Quote)) error {
	f.mu.Lock()
	f.calls = append(f.calls, instruments)
	fail := f.fail
	f.mu.Unlock()
	if fail != nil {
		return fail
	}
	for _, in := range instruments {
		fn(exchange.Quote{Instrument: in, Bid: 1, Ask: 1.0002})
	}
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeStreamer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func TestFeed_RestartsOnInstrumentChange(t *testing.T) {
	streamer := &fakeStreamer{}
	qc := cache.NewQuoteCache()
	var mu sync.Mutex
	instruments := []string{"EUR_USD"}

	feed := &Feed{
		Streamer:  streamer,
		AccountID: "A",
		Bus:       events.NewBus(),
		Cache:     qc,
		Refresh:   10 * time.Millisecond,
		Instruments: func() []string {
			mu.Lock()
			defer mu.Unlock()
			return append([]string(nil), instruments...)
		},
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	feed.Start(ctx)

	require.Eventually(t, func() bool { _, ok := qc.Get("EUR_USD"); return ok }, time.Second, 5*time.Millisecond)

	mu.Lock()
	instruments = []string{"USD_JPY", "EUR_USD", "EUR_USD"}
	mu.Unlock()
	require.Eventually(t, func() bool { _, ok := qc.Get("USD_JPY"); return ok }, time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, streamer.callCount(), 2)
}

func TestFeed_BacksOffOnError(t *testing.T) {
	streamer := &fakeStreamer{fail: exchange.Unavailable("stream", errors.New("reset"))}
	feed := &Feed{
		Streamer:    streamer,
		AccountID:   "A",
		Bus:         events.NewBus(),
		Instruments: func() []string { return []string{"EUR_USD"} },
		Backoff:     5 * time.Millisecond,
		MaxBackoff:  10 * time.Millisecond,
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	feed.Start(ctx)
	require.Eventually(t, func() bool { return streamer.callCount() >= 3 }, time.Second, 5*time.Millisecond)
}
