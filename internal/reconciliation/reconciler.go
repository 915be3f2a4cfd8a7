// Package reconciliation re-derives session bookkeeping from the broker's
// authoritative account state and detects orphaned broker positions.
package reconciliation

import (
	"context"
	"fmt"
	"log"
	"time"

	"session-core/internal/session"
	exchange "session-core/pkg/exchanges/common"
)

// Claims reports trade IDs already attributed to another session on the same
// account, so fallback attribution does not steal them.
type Claims interface {
	ClaimedElsewhere(accountID, tradeID, sessionID string) bool
}

// ClosedTradeSink receives every newly recorded closed trade.
type ClosedTradeSink interface {
	RecordClosed(sessionID string, t session.Trade)
}

// LossRecorder folds a closed trade's P&L into the daily risk figures.
type LossRecorder interface {
	RecordClose(sessionID string, pnl float64, at time.Time)
}

// Config tunes transaction syncing.
type Config struct {
	TxSyncInterval time.Duration
	TxOverlap      time.Duration
	PageSize       int
	Now            func() time.Time
}

// Reconciler refreshes one session at a time. It holds no per-session state.
type Reconciler struct {
	cfg    Config
	claims Claims
	sink   ClosedTradeSink
	risk   LossRecorder
}

// Report summarizes one reconciliation pass.
type Report struct {
	SessionID          string          `json:"session_id"`
	Timestamp          time.Time       `json:"timestamp"`
	OpenTrades         int             `json:"open_trades"`
	ClosedTrades       int             `json:"closed_trades"`
	Disappeared        []string        `json:"disappeared,omitempty"`
	Closures           []session.Trade `json:"closures,omitempty"`
	Attributed         []string        `json:"attributed,omitempty"`
	FetchedTransaction bool            `json:"fetched_transactions"`
	OutOfBand          bool            `json:"out_of_band"`
}

// New creates a reconciler. claims, sink and risk may be nil.
func New(cfg Config, claims Claims, sink ClosedTradeSink, risk LossRecorder) *Reconciler {
	if cfg.TxSyncInterval <= 0 {
		cfg.TxSyncInterval = 5 * time.Minute
	}
	if cfg.TxOverlap <= 0 {
		cfg.TxOverlap = time.Minute
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Reconciler{cfg: cfg, claims: claims, sink: sink, risk: risk}
}

// Reconcile refreshes balances, positions, open and closed trades of s from b.
// A failed transaction fetch expires the sync cursor so the next pass retries
// the same window.
func (r *Reconciler) Reconcile(ctx context.Context, b exchange.Broker, s *session.Session) (*Report, error) {
	now := r.cfg.Now().UTC()
	report := &Report{SessionID: s.ID(), Timestamp: now}
	accountID := s.AccountID()

	summary, err := b.AccountSummary(ctx, accountID)
	if err != nil {
		return report, fmt.Errorf("account summary: %w", err)
	}
	s.ApplyAccount(summary.Balance, summary.NAV, summary.UnrealizedPL, summary.MarginUsed, summary.MarginAvailable)

	positions, err := b.OpenPositions(ctx, accountID)
	if err != nil {
		return report, fmt.Errorf("open positions: %w", err)
	}
	rebuilt := make(map[string]session.Position, len(positions))
	for _, p := range positions {
		units := p.NetUnits()
		if units == 0 {
			continue
		}
		rebuilt[p.Instrument] = session.Position{
			Instrument:   p.Instrument,
			Units:        units,
			AvgPrice:     p.AvgPrice(),
			UnrealizedPL: p.UnrealizedPL,
		}
	}
	s.ReplacePositions(rebuilt)

	trades, err := b.OpenTrades(ctx, accountID)
	if err != nil {
		return report, fmt.Errorf("open trades: %w", err)
	}
	previous := s.OpenTrades()
	current := make(map[string]session.Trade, len(trades))
	for _, t := range trades {
		if !r.attribute(s, t) {
			continue
		}
		if !s.Owns(t.ID) {
			s.AttributeTrades(t.ID)
			report.Attributed = append(report.Attributed, t.ID)
		}
		current[t.ID] = session.Trade{
			ID:         t.ID,
			Instrument: t.Instrument,
			OpenTime:   t.OpenTime,
			OpenPrice:  t.Price,
			Units:      t.CurrentUnits,
			RealizedPL: t.UnrealizedPL,
		}
	}
	for id := range previous {
		if _, ok := current[id]; !ok {
			report.Disappeared = append(report.Disappeared, id)
		}
	}
	s.ReplaceOpenTrades(current)

	var txErr error
	if len(report.Disappeared) > 0 || s.TxSyncDue(now) {
		report.FetchedTransaction = true
		txErr = r.syncTransactions(ctx, b, s, previous, now, report)
	}

	s.Recount()
	snap := s.Snapshot()
	report.OpenTrades = len(snap.OpenTrades)
	report.ClosedTrades = snap.ClosedTradeCount
	if snap.RealizedPL != 0 && snap.TotalTrades == 0 {
		report.OutOfBand = true
		log.Printf("[%s] ⚠️ realized P&L %.2f with no tracked trades; trades closed out of band", s.ID(), snap.RealizedPL)
	}
	if txErr != nil {
		return report, fmt.Errorf("transactions: %w", txErr)
	}
	return report, nil
}

// attribute reports whether an open broker trade belongs to s: a known ID, or a
// trade on the session's instrument opened since it started that no other
// session has claimed.
func (r *Reconciler) attribute(s *session.Session, t exchange.Trade) bool {
	if s.Owns(t.ID) {
		return true
	}
	if t.Instrument != s.Instrument() {
		return false
	}
	start := s.StartTime()
	if start.IsZero() || t.OpenTime.Before(start) {
		return false
	}
	if r.claims != nil && r.claims.ClaimedElsewhere(s.AccountID(), t.ID, s.ID()) {
		return false
	}
	return true
}

func (r *Reconciler) syncTransactions(ctx context.Context, b exchange.Broker, s *session.Session, previous map[string]session.Trade, now time.Time, report *Report) error {
	from := s.StartTime()
	if last := s.LastTxSync(); !last.IsZero() {
		if w := last.Add(-r.cfg.TxOverlap); w.After(from) {
			from = w
		}
	}
	if from.IsZero() {
		from = now.Add(-24 * time.Hour)
	}

	txs, err := b.Transactions(ctx, s.AccountID(), exchange.TransactionQuery{From: from, To: now, PageSize: r.cfg.PageSize})
	if err != nil {
		s.ExpireTxSync()
		return err
	}

	fills := make(map[string]exchange.Transaction)
	for _, tx := range txs {
		if tx.Type == exchange.TxOrderFill && tx.TradeID != "" {
			fills[tx.TradeID] = tx
		}
	}

	for _, tx := range txs {
		if tx.Type != exchange.TxTradeClose || !s.Owns(tx.TradeID) || s.IsClosed(tx.TradeID) {
			continue
		}
		closeTime := tx.Time
		closePrice := tx.Price
		t := session.Trade{
			ID:         tx.TradeID,
			Instrument: tx.Instrument,
			CloseTime:  &closeTime,
			ClosePrice: &closePrice,
			Units:      -tx.Units,
			RealizedPL: tx.PL,
		}
		if fill, ok := fills[tx.TradeID]; ok {
			t.OpenTime = fill.Time
			t.OpenPrice = fill.Price
			t.Units = fill.Units
		} else if prev, ok := previous[tx.TradeID]; ok {
			t.OpenTime = prev.OpenTime
			t.OpenPrice = prev.OpenPrice
			t.Units = prev.Units
		}
		if !s.AddClosed(t) {
			continue
		}
		report.Closures = append(report.Closures, t)
		log.Printf("[%s] trade %s closed: %.0f %s @ %.5f pl=%.2f", s.ID(), t.ID, t.Units, t.Instrument, closePrice, t.RealizedPL)
		if r.risk != nil {
			r.risk.RecordClose(s.ID(), t.RealizedPL, closeTime)
		}
		if r.sink != nil {
			r.sink.RecordClosed(s.ID(), t)
		}
	}

	s.MarkTxSynced(now, now.Add(r.cfg.TxSyncInterval))
	return nil
}
