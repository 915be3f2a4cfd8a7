package engine

import (
	"context"
	"log"
	"time"

	"session-core/internal/session"
	"session-core/pkg/db"
)

func record(s *session.Session) db.SessionRecord {
	snap := s.Snapshot()
	rec := db.SessionRecord{
		ID:              snap.ID,
		AccountID:       snap.AccountID,
		StrategyName:    snap.StrategyName,
		StrategyParams:  snap.StrategyParams,
		Instrument:      snap.Instrument,
		Granularity:     snap.Granularity,
		MaxPositionSize: snap.MaxPositionSize,
		MaxDailyLoss:    snap.MaxDailyLoss,
		Status:          string(snap.Status),
		PositionUnits:   snap.SessionPositionUnits,
		TradeIDs:        s.TradeIDs(),
		InitialBalance:  snap.InitialBalance,
		ErrorMessage:    snap.ErrorMessage,
	}
	if snap.StartTime != nil {
		rec.StartTime = *snap.StartTime
	}
	return rec
}

// persist saves s when a store is configured. Failures are logged only.
func (e *Engine) persist(ctx context.Context, s *session.Session) {
	if e.cfg.Store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := e.cfg.Store.SaveSession(ctx, record(s)); err != nil {
		log.Printf("[%s] ⚠️ persist session: %v", s.ID(), err)
	}
}

// Restore registers every stored session as STOPPED with its attribution state
// and closed-trade history. Sessions already registered are skipped.
func (e *Engine) Restore(ctx context.Context) (int, error) {
	if e.cfg.Store == nil {
		return 0, nil
	}
	recs, err := e.cfg.Store.LoadSessions(ctx)
	if err != nil {
		return 0, err
	}
	restored := 0
	for _, rec := range recs {
		if _, err := e.lookup(rec.ID); err == nil {
			continue
		}
		b, err := e.cfg.Pool.Acquire(rec.AccountID)
		if err != nil {
			log.Printf("[%s] ⚠️ restore skipped, no broker client: %v", rec.ID, err)
			continue
		}

		s := session.New(session.Definition{
			ID:              rec.ID,
			AccountID:       rec.AccountID,
			StrategyName:    rec.StrategyName,
			StrategyParams:  rec.StrategyParams,
			Instrument:      rec.Instrument,
			Granularity:     rec.Granularity,
			MaxPositionSize: rec.MaxPositionSize,
			MaxDailyLoss:    rec.MaxDailyLoss,
		}, e.cfg.MaxClosedTrades)
		s.SetPositionUnits(rec.PositionUnits)
		s.AttributeTrades(rec.TradeIDs...)
		s.RestoreStartTime(rec.StartTime)
		s.RestoreInitialBalance(rec.InitialBalance)
		s.SetError(rec.ErrorMessage)

		limit := e.cfg.MaxClosedTrades
		if limit <= 0 {
			limit = session.DefaultMaxClosedTrades
		}
		closed, err := e.cfg.Store.ListClosedTrades(ctx, rec.ID, limit)
		if err != nil {
			log.Printf("[%s] ⚠️ closed trade history unavailable: %v", rec.ID, err)
		}
		s.RestoreClosed(toTrades(closed))

		e.mu.Lock()
		e.sessions[rec.ID] = &entry{sess: s, broker: b}
		e.mu.Unlock()
		restored++

		if session.Status(rec.Status).Active() {
			log.Printf("[%s] 🔄 Was %s before restart; restored as STOPPED", rec.ID, rec.Status)
		}
	}
	return restored, nil
}

func toTrades(rows []db.ClosedTrade) []session.Trade {
	out := make([]session.Trade, 0, len(rows))
	for _, r := range rows {
		closeTime, closePrice := r.CloseTime, r.ClosePrice
		out = append(out, session.Trade{
			ID:         r.TradeID,
			Instrument: r.Instrument,
			OpenTime:   r.OpenTime,
			CloseTime:  &closeTime,
			OpenPrice:  r.OpenPrice,
			ClosePrice: &closePrice,
			Units:      r.Units,
			RealizedPL: r.RealizedPL,
		})
	}
	return out
}
