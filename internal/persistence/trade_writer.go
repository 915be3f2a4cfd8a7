// Package persistence writes closed trades to storage off the trading path.
package persistence

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"session-core/internal/session"
	"session-core/pkg/db"
)

// TradeStore is the storage the writer flushes into.
type TradeStore interface {
	InsertClosedTrades(ctx context.Context, trades []db.ClosedTrade) error
}

// TradeWriter batches closed trades and flushes them by size or interval.
type TradeWriter struct {
	store       TradeStore
	buffer      []db.ClosedTrade
	mu          sync.Mutex
	maxSize     int
	flushIntval time.Duration
	done        chan struct{}
	closeOnce   sync.Once
	wg          sync.WaitGroup
	metrics     WriterMetrics
}

// WriterMetrics provides statistics about batch operations.
type WriterMetrics struct {
	TotalWrites   uint64    `json:"total_writes"`
	TotalBatches  uint64    `json:"total_batches"`
	TotalErrors   uint64    `json:"total_errors"`
	LastBatchSize int       `json:"last_batch_size"`
	LastFlushTime time.Time `json:"last_flush_time"`
}

// NewTradeWriter creates a writer and starts its background flush.
// maxSize: max trades before auto-flush
// interval: time-based flush interval
func NewTradeWriter(store TradeStore, maxSize int, interval time.Duration) *TradeWriter {
	if maxSize <= 0 {
		maxSize = 50
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}

	w := &TradeWriter{
		store:       store,
		buffer:      make([]db.ClosedTrade, 0, maxSize),
		maxSize:     maxSize,
		flushIntval: interval,
		done:        make(chan struct{}),
	}

	w.wg.Add(1)
	go w.backgroundFlush()

	return w
}

// RecordClosed queues one closed trade.
func (w *TradeWriter) RecordClosed(sessionID string, t session.Trade) {
	rec := db.ClosedTrade{
		SessionID:  sessionID,
		TradeID:    t.ID,
		Instrument: t.Instrument,
		Units:      t.Units,
		OpenPrice:  t.OpenPrice,
		OpenTime:   t.OpenTime,
		RealizedPL: t.RealizedPL,
	}
	if t.ClosePrice != nil {
		rec.ClosePrice = *t.ClosePrice
	}
	if t.CloseTime != nil {
		rec.CloseTime = *t.CloseTime
	}

	w.mu.Lock()
	w.buffer = append(w.buffer, rec)
	shouldFlush := len(w.buffer) >= w.maxSize
	w.mu.Unlock()

	if shouldFlush {
		w.Flush()
	}
}

// Flush immediately writes all buffered trades. A failed batch is put back at
// the front of the buffer for the next attempt.
func (w *TradeWriter) Flush() error {
	w.mu.Lock()
	if len(w.buffer) == 0 {
		w.mu.Unlock()
		return nil
	}

	batch := w.buffer
	w.buffer = make([]db.ClosedTrade, 0, w.maxSize)
	w.mu.Unlock()

	atomic.AddUint64(&w.metrics.TotalBatches, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := w.store.InsertClosedTrades(ctx, batch); err != nil {
		atomic.AddUint64(&w.metrics.TotalErrors, 1)
		log.Printf("❌ TradeWriter: flush of %d trades failed: %v", len(batch), err)
		w.mu.Lock()
		w.buffer = append(batch, w.buffer...)
		w.mu.Unlock()
		return err
	}

	atomic.AddUint64(&w.metrics.TotalWrites, uint64(len(batch)))
	w.mu.Lock()
	w.metrics.LastBatchSize = len(batch)
	w.metrics.LastFlushTime = time.Now()
	w.mu.Unlock()
	log.Printf("💾 TradeWriter: flushed %d closed trades", len(batch))
	return nil
}

// backgroundFlush periodically flushes the buffer.
func (w *TradeWriter) backgroundFlush() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.flushIntval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := w.Flush(); err != nil {
				log.Printf("⚠️ TradeWriter: background flush error: %v", err)
			}
		case <-w.done:
			// Final flush before shutdown
			if err := w.Flush(); err != nil {
				log.Printf("⚠️ TradeWriter: final flush error: %v", err)
			}
			return
		}
	}
}

// Pending returns the number of queued trades.
func (w *TradeWriter) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.buffer)
}

// GetMetrics returns the current metrics for the writer.
func (w *TradeWriter) GetMetrics() WriterMetrics {
	w.mu.Lock()
	lastSize, lastFlush := w.metrics.LastBatchSize, w.metrics.LastFlushTime
	w.mu.Unlock()
	return WriterMetrics{
		TotalWrites:   atomic.LoadUint64(&w.metrics.TotalWrites),
		TotalBatches:  atomic.LoadUint64(&w.metrics.TotalBatches),
		TotalErrors:   atomic.LoadUint64(&w.metrics.TotalErrors),
		LastBatchSize: lastSize,
		LastFlushTime: lastFlush,
	}
}

// Close flushes what is left and stops the background goroutine.
func (w *TradeWriter) Close() error {
	w.closeOnce.Do(func() { close(w.done) })
	w.wg.Wait()
	return nil
}
