package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"session-core/internal/events"
	"session-core/internal/risk"
	"session-core/internal/session"
	"session-core/internal/strategy"
	exchange "session-core/pkg/exchanges/common"
)

// run is the trading loop of one session. It exits when ctx is canceled or the
// status leaves RUNNING and PAUSED.
func (e *Engine) run(ctx context.Context, en *entry, strat strategy.Strategy, params strategy.Params) {
	s := en.sess
	sctx := strategy.NewContext(params)
	defer close(en.done)

	if err := startStrategy(strat, sctx); err != nil {
		from := s.Status()
		s.Fail(err.Error())
		e.publishStatus(s, from, "strategy start failed")
		e.persist(ctx, s)
		e.cfg.Metrics.SetRunning(e.activeCount(""))
		log.Printf("[%s] ❌ Strategy start failed, loop not started: %v", s.ID(), err)
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[%s] ❌ strategy OnStop panic: %v", s.ID(), r)
		}
	}()
	defer strat.OnStop(sctx)

	e.warmup(ctx, en, strat, sctx)

	var backoff time.Duration
	for {
		if ctx.Err() != nil {
			return
		}
		if st := s.Status(); st != session.StatusRunning && st != session.StatusPaused {
			return
		}

		wait, err := e.step(ctx, en, strat, sctx)
		switch {
		case err == nil:
			if backoff > 0 {
				e.cfg.Pool.ReportSuccess(s.AccountID())
			}
			backoff = 0
		case errors.Is(err, context.Canceled) && ctx.Err() != nil:
			return
		default:
			backoff = e.nextBackoff(backoff, err)
			wait = backoff
			s.SetError(err.Error())
			e.reportUpstream(s.AccountID(), err)
			e.cfg.Metrics.LoopError(errorKind(err))
			log.Printf("[%s] ❌ Trading loop error (retry in %s): %v", s.ID(), wait, err)
		}
		if !sleep(ctx, wait) {
			return
		}
	}
}

func startStrategy(strat strategy.Strategy, sctx *strategy.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("strategy OnStart panic: %v", r)
		}
	}()
	strat.OnStart(sctx)
	return nil
}

// step runs one loop iteration and returns how long to wait before the next.
// Panics are returned as errors.
func (e *Engine) step(ctx context.Context, en *entry, strat strategy.Strategy, sctx *strategy.Context) (wait time.Duration, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in trading loop: %v", r)
		}
	}()
	s := en.sess
	now := e.cfg.Now().UTC()

	if !now.Before(s.Cursors().NextMetrics) {
		e.refresh(ctx, en)
		s.SetNextMetrics(now.Add(e.cfg.MetricsInterval))
	}

	if s.Status() == session.StatusPaused {
		return e.cfg.PausedTick, nil
	}

	maxPos, maxLoss := s.Limits()
	if e.breached(s, maxLoss) {
		if s.CompareAndSetStatus(session.StatusPaused, session.StatusRunning) {
			loss := s.DailyLoss()
			e.publishStatus(s, session.StatusRunning, "daily loss limit")
			e.cfg.Bus.Publish(events.EventRiskBreach, events.RiskBreach{
				SessionID:    s.ID(),
				DailyLoss:    loss,
				MaxDailyLoss: maxLoss,
				Time:         now,
			})
			e.persist(ctx, s)
			log.Printf("[%s] ⚠️ Daily loss limit reached (%.2f >= %.2f), session paused", s.ID(), loss, maxLoss)
		}
		return 0, nil
	}

	if next := s.Cursors().NextBarPoll; now.Before(next) {
		return min(next.Sub(now), e.cfg.IdleTick), nil
	}

	def := s.Definition()
	s.SetNextBarPoll(now.Add(e.pollInterval(def.Granularity)))
	bars, err := e.cfg.Candles.Candles(ctx, def.Instrument, def.Granularity, 1)
	if err != nil {
		return 0, fmt.Errorf("fetch bar: %w", err)
	}
	if len(bars) == 0 {
		return e.cfg.IdleTick, nil
	}
	bar := bars[len(bars)-1]
	if !bar.Time.After(s.LastBarTime()) {
		return e.cfg.IdleTick, nil
	}
	s.SetLastBarTime(bar.Time)

	en.exec.Lock()
	defer en.exec.Unlock()
	if en.resync {
		en.resync = false
		if maxPos > 0 {
			sctx.Position = s.PositionUnits() / maxPos
		}
	}

	prev := sctx.Position
	strat.OnBar(bar, sctx)
	target := sctx.Position

	if target != prev {
		price := e.quote(ctx, en, bar.Close)
		if err := e.execute(ctx, en, prev, target, maxPos, price); err != nil {
			// retry the same change on the next bar
			sctx.Position = prev
			return 0, err
		}
	}
	s.Touch(now)
	return 0, nil
}

// warmup replays history through the strategy without letting it move the live
// position, after seeding the position from the units this session may claim.
func (e *Engine) warmup(ctx context.Context, en *entry, strat strategy.Strategy, sctx *strategy.Context) {
	s := en.sess
	def := s.Definition()

	units := s.PositionUnits()
	if !e.coResident(s) {
		pos, err := en.broker.Position(ctx, def.AccountID, def.Instrument)
		if err != nil {
			log.Printf("[%s] ⚠️ warmup position sync failed, using tracked units: %v", s.ID(), err)
		} else {
			units = pos.NetUnits()
			s.SetPositionUnits(units)
		}
	}
	if def.MaxPositionSize > 0 {
		sctx.Position = units / def.MaxPositionSize
	}

	bars, err := e.cfg.Candles.Candles(ctx, def.Instrument, def.Granularity, e.cfg.WarmupBars)
	if err != nil {
		if ctx.Err() == nil {
			s.SetError(fmt.Sprintf("warmup failed: %v", err))
			log.Printf("[%s] ⚠️ Warmup skipped: %v", s.ID(), err)
		}
		return
	}
	live := sctx.Position
	defer func() {
		if r := recover(); r != nil {
			sctx.Position = live
			s.SetError(fmt.Sprintf("warmup panic: %v", r))
			log.Printf("[%s] ❌ Warmup aborted by strategy panic: %v", s.ID(), r)
		}
	}()
	for _, bar := range bars {
		strat.OnBar(bar, sctx)
		sctx.Position = live
	}
	if len(bars) > 0 {
		s.SetLastBarTime(bars[len(bars)-1].Time)
	}
	log.Printf("[%s] Warmup complete (%d bars, position %.2f)", s.ID(), len(bars), live)
}

// refresh runs a reconciliation pass and mirrors the result into metrics.
func (e *Engine) refresh(ctx context.Context, en *entry) {
	s := en.sess
	_, err := e.rec.Reconcile(ctx, en.broker, s)
	e.cfg.Metrics.Reconciled(err)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.SetError(fmt.Sprintf("metrics refresh failed: %v", err))
		e.reportUpstream(s.AccountID(), err)
		log.Printf("[%s] ⚠️ Reconciliation failed: %v", s.ID(), err)
		return
	}
	e.cfg.Metrics.SetEquity(s.ID(), s.Account().Equity)
}

// breached mirrors today's loss onto s and reports whether it hits maxLoss.
func (e *Engine) breached(s *session.Session, maxLoss float64) bool {
	loss := e.cfg.Risk.DailyLoss(s.ID())
	s.SetDailyLoss(loss)
	return risk.Breached(loss, maxLoss)
}

// pollInterval is the granularity's bar duration clamped to [BarPollMin, BarPollMax].
func (e *Engine) pollInterval(granularity string) time.Duration {
	d := exchange.BarDuration(granularity)
	if d < e.cfg.BarPollMin {
		return e.cfg.BarPollMin
	}
	if d > e.cfg.BarPollMax {
		return e.cfg.BarPollMax
	}
	return d
}

// nextBackoff doubles upstream failures up to ErrorBackoffMax; other errors use
// the flat ErrorBackoff.
func (e *Engine) nextBackoff(prev time.Duration, err error) time.Duration {
	if !exchange.Retryable(err) {
		return e.cfg.ErrorBackoff
	}
	if prev <= 0 {
		return e.cfg.ErrorBackoff
	}
	return time.Duration(math.Min(float64(prev*2), float64(e.cfg.ErrorBackoffMax)))
}

func (e *Engine) reportUpstream(accountID string, err error) {
	if exchange.Retryable(err) {
		e.cfg.Pool.ReportFailure(accountID)
	}
}

func errorKind(err error) string {
	switch {
	case exchange.Retryable(err):
		return "upstream"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "other"
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
