// Package market streams live quotes into the quote cache and supplies synthetic
// candles for dry runs.
package market

import (
	"context"
	"errors"
	"log"
	"sort"
	"strings"
	"time"

	"session-core/internal/events"
	"session-core/pkg/cache"
	exchange "session-core/pkg/exchanges/common"
)

// Feed streams prices for the instruments of active sessions and publishes them.
type Feed struct {
	Streamer    exchange.PriceStreamer
	AccountID   string
	Bus         *events.Bus
	Cache       *cache.QuoteCache
	Instruments func() []string // current instrument set, polled every Refresh
	Refresh     time.Duration
	Backoff     time.Duration
	MaxBackoff  time.Duration
}

// Start runs the stream in the background until ctx is done. The stream is
// restarted when the instrument set changes or the connection drops.
func (f *Feed) Start(ctx context.Context) {
	if f.Streamer == nil || f.Instruments == nil || f.AccountID == "" {
		log.Println("market feed not fully configured; skipping start")
		return
	}
	if f.Refresh <= 0 {
		f.Refresh = 10 * time.Second
	}
	if f.Backoff <= 0 {
		f.Backoff = time.Second
	}
	if f.MaxBackoff <= 0 {
		f.MaxBackoff = time.Minute
	}
	go f.run(ctx)
}

func normalize(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

func (f *Feed) run(ctx context.Context) {
	backoff := f.Backoff
	for {
		instruments := normalize(f.Instruments())
		if len(instruments) == 0 {
			if !sleep(ctx, f.Refresh) {
				return
			}
			continue
		}

		err := f.stream(ctx, instruments)
		switch {
		case ctx.Err() != nil:
			return
		case errors.Is(err, errInstrumentsChanged):
			backoff = f.Backoff
			continue
		case err != nil:
			log.Printf("⚠️ price stream %s error: %v (retry in %v)", strings.Join(instruments, ","), err, backoff)
			if !sleep(ctx, backoff) {
				return
			}
			backoff *= 2
			if backoff > f.MaxBackoff {
				backoff = f.MaxBackoff
			}
		}
	}
}

var errInstrumentsChanged = errors.New("instrument set changed")

// stream runs one connection until it fails or the instrument set changes.
func (f *Feed) stream(ctx context.Context, instruments []string) error {
	sctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	go func() {
		ticker := time.NewTicker(f.Refresh)
		defer ticker.Stop()
		want := strings.Join(instruments, ",")
		for {
			select {
			case <-sctx.Done():
				return
			case <-ticker.C:
				if strings.Join(normalize(f.Instruments()), ",") != want {
					cancel(errInstrumentsChanged)
					return
				}
			}
		}
	}()

	log.Printf("✓ Price stream started for %s", strings.Join(instruments, ","))
	err := f.Streamer.StreamPricing(sctx, f.AccountID, instruments, func(q exchange.Quote) {
		if f.Cache != nil {
			f.Cache.Set(q)
		}
		f.Bus.Publish(events.EventPriceTick, q)
	})
	if cause := context.Cause(sctx); errors.Is(cause, errInstrumentsChanged) {
		return errInstrumentsChanged
	}
	return err
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
