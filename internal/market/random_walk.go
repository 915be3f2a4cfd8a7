package market

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
	"sync"
	"time"

	exchange "session-core/pkg/exchanges/common"
)

// PriceSink receives the latest synthetic price, e.g. paper.Broker.SetPrice.
type PriceSink func(instrument string, bid, ask float64)

// RandomWalk is a deterministic synthetic CandleSource. Each instrument and
// granularity gets its own seeded series anchored History bars before first use
// and extended forward as time passes.
type RandomWalk struct {
	Seed       int64
	StartPrice float64
	Volatility float64 // per-bar relative standard deviation
	Spread     float64 // absolute bid/ask spread passed to Sink
	History    int
	Sink       PriceSink
	Now        func() time.Time

	mu     sync.Mutex
	series map[string]*walk
}

type walk struct {
	rng  *rand.Rand
	step time.Duration
	bars []exchange.Bar
}

var _ exchange.CandleSource = (*RandomWalk)(nil)

func (r *RandomWalk) defaults() {
	if r.StartPrice <= 0 {
		r.StartPrice = 1.1
	}
	if r.Volatility <= 0 {
		r.Volatility = 0.0005
	}
	if r.Spread <= 0 {
		r.Spread = 0.0002
	}
	if r.History <= 0 {
		r.History = 5000
	}
	if r.Now == nil {
		r.Now = time.Now
	}
	if r.series == nil {
		r.series = make(map[string]*walk)
	}
}

func seedFor(base int64, key string) int64 {
	h := fnv.New64a()
	h.Write([]byte(key))
	return base ^ int64(h.Sum64())
}

// advance extends the series up to the last bar completed before now. Caller holds mu.
func (r *RandomWalk) advance(instrument, granularity string) (*walk, error) {
	r.defaults()
	key := instrument + "/" + granularity
	w, ok := r.series[key]
	if !ok {
		step := exchange.BarDuration(granularity)
		if step <= 0 {
			return nil, fmt.Errorf("random walk: unknown granularity %q", granularity)
		}
		w = &walk{rng: rand.New(rand.NewSource(seedFor(r.Seed, key))), step: step}
		r.series[key] = w
	}

	now := r.Now().UTC()
	lastComplete := now.Truncate(w.step).Add(-w.step)
	if len(w.bars) == 0 {
		start := lastComplete.Add(-time.Duration(r.History-1) * w.step)
		w.bars = append(w.bars, r.next(w, start, r.StartPrice))
	}
	grew := false
	for {
		last := w.bars[len(w.bars)-1]
		t := last.Time.Add(w.step)
		if t.After(lastComplete) {
			break
		}
		w.bars = append(w.bars, r.next(w, t, last.Close))
		grew = true
	}
	if grew && r.Sink != nil {
		c := w.bars[len(w.bars)-1].Close
		r.Sink(instrument, c-r.Spread/2, c+r.Spread/2)
	}
	return w, nil
}

func (r *RandomWalk) next(w *walk, t time.Time, open float64) exchange.Bar {
	closePx := open * math.Exp(w.rng.NormFloat64()*r.Volatility)
	hi := math.Max(open, closePx) * (1 + math.Abs(w.rng.NormFloat64())*r.Volatility/2)
	lo := math.Min(open, closePx) * (1 - math.Abs(w.rng.NormFloat64())*r.Volatility/2)
	return exchange.Bar{Time: t, Open: open, High: hi, Low: lo, Close: closePx, Volume: float64(100 + w.rng.Intn(900))}
}

// Candles returns the last count completed bars.
func (r *RandomWalk) Candles(ctx context.Context, instrument, granularity string, count int) ([]exchange.Bar, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, err := r.advance(instrument, granularity)
	if err != nil {
		return nil, err
	}
	if count <= 0 {
		count = 1
	}
	if count > len(w.bars) {
		count = len(w.bars)
	}
	return append([]exchange.Bar(nil), w.bars[len(w.bars)-count:]...), nil
}

// CandlesRange returns completed bars within [from, to]. Bars before the series
// anchor do not exist.
func (r *RandomWalk) CandlesRange(ctx context.Context, instrument, granularity string, from, to time.Time) ([]exchange.Bar, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, err := r.advance(instrument, granularity)
	if err != nil {
		return nil, err
	}
	var out []exchange.Bar
	for _, b := range w.bars {
		if b.Time.Before(from) || b.Time.After(to) {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}
