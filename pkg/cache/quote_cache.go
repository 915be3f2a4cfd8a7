// Package cache holds the latest streamed quote per instrument.
package cache

import (
	"hash/fnv"
	"sync"
	"time"

	exchange "session-core/pkg/exchanges/common"
)

const numShards = 16

// QuoteCache is a sharded instrument -> latest quote map.
type QuoteCache struct {
	shards [numShards]*quoteShard
	now    func() time.Time
}

type quoteShard struct {
	mu    sync.RWMutex
	items map[string]quoteEntry
}

type quoteEntry struct {
	quote     exchange.Quote
	updatedAt time.Time
}

// NewQuoteCache creates an empty cache.
func NewQuoteCache() *QuoteCache {
	c := &QuoteCache{now: time.Now}
	for i := 0; i < numShards; i++ {
		c.shards[i] = &quoteShard{
			items: make(map[string]quoteEntry),
		}
	}
	return c
}

func (c *QuoteCache) getShard(key string) *quoteShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return c.shards[h.Sum32()%numShards]
}

// Set stores the latest quote for its instrument.
func (c *QuoteCache) Set(q exchange.Quote) {
	shard := c.getShard(q.Instrument)
	shard.mu.Lock()
	shard.items[q.Instrument] = quoteEntry{quote: q, updatedAt: c.now()}
	shard.mu.Unlock()
}

// Get retrieves the latest quote for an instrument.
func (c *QuoteCache) Get(instrument string) (exchange.Quote, bool) {
	shard := c.getShard(instrument)
	shard.mu.RLock()
	entry, ok := shard.items[instrument]
	shard.mu.RUnlock()
	return entry.quote, ok
}

// Fresh returns the quote only if it was stored within maxAge.
func (c *QuoteCache) Fresh(instrument string, maxAge time.Duration) (exchange.Quote, bool) {
	shard := c.getShard(instrument)
	shard.mu.RLock()
	entry, ok := shard.items[instrument]
	shard.mu.RUnlock()
	if !ok || c.now().Sub(entry.updatedAt) > maxAge {
		return exchange.Quote{}, false
	}
	return entry.quote, true
}

// Delete removes an instrument.
func (c *QuoteCache) Delete(instrument string) {
	shard := c.getShard(instrument)
	shard.mu.Lock()
	delete(shard.items, instrument)
	shard.mu.Unlock()
}

// Len returns total items across all shards.
func (c *QuoteCache) Len() int {
	total := 0
	for _, shard := range c.shards {
		shard.mu.RLock()
		total += len(shard.items)
		shard.mu.RUnlock()
	}
	return total
}

// Cleanup removes entries older than maxAge.
func (c *QuoteCache) Cleanup(maxAge time.Duration) int {
	removed := 0
	cutoff := c.now().Add(-maxAge)

	for _, shard := range c.shards {
		shard.mu.Lock()
		for key, entry := range shard.items {
			if entry.updatedAt.Before(cutoff) {
				delete(shard.items, key)
				removed++
			}
		}
		shard.mu.Unlock()
	}
	return removed
}

// All returns every cached quote.
func (c *QuoteCache) All() map[string]exchange.Quote {
	result := make(map[string]exchange.Quote)
	for _, shard := range c.shards {
		shard.mu.RLock()
		for key, entry := range shard.items {
			result[key] = entry.quote
		}
		shard.mu.RUnlock()
	}
	return result
}
