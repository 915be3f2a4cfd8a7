package common

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Throttle paces outbound venue requests and tracks how often callers had to wait.
type Throttle struct {
	limiter *rate.Limiter
	name    string

	mu       sync.Mutex
	requests int
	delayed  int
	waited   time.Duration
}

// NewThrottle allows perSecond requests with the given burst. perSecond <= 0 disables pacing.
func NewThrottle(name string, perSecond float64, burst int) *Throttle {
	lim := rate.NewLimiter(rate.Inf, 0)
	if perSecond > 0 {
		if burst <= 0 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
	return &Throttle{limiter: lim, name: name}
}

// Wait blocks until a request slot is free or ctx is done.
func (t *Throttle) Wait(ctx context.Context) error {
	if t == nil {
		return nil
	}
	start := time.Now()
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	d := time.Since(start)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.requests++
	if d > time.Millisecond {
		t.delayed++
		t.waited += d
		if d > time.Second {
			log.Printf("rate limit warning: %s waited %v for a request slot", t.name, d)
		}
	}
	return nil
}

// Usage returns total requests, how many were delayed, and the cumulative wait.
func (t *Throttle) Usage() (requests, delayed int, waited time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.requests, t.delayed, t.waited
}
