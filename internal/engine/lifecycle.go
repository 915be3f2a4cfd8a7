package engine

import (
	"context"
	"fmt"
	"log"

	"session-core/internal/session"
)

// Start launches the session's trading loop. It is a no-op while a loop task
// already exists.
func (e *Engine) Start(ctx context.Context, id string) error {
	en, err := e.lookup(id)
	if err != nil {
		return err
	}
	en.ctl.Lock()
	defer en.ctl.Unlock()

	s := en.sess
	if en.running() {
		return nil
	}
	if n := e.activeCount(id); n >= e.cfg.MaxRunning {
		return fmt.Errorf("%w: %d of %d", ErrCapacityExceeded, n, e.cfg.MaxRunning)
	}

	def := s.Definition()
	strat, params, err := e.cfg.Strategies.Build(def.StrategyName, def.StrategyParams)
	if err != nil {
		from := s.Status()
		s.Fail(err.Error())
		e.publishStatus(s, from, "strategy construction failed")
		e.persist(ctx, s)
		log.Printf("[%s] ❌ Strategy construction failed: %v", id, err)
		return err
	}

	from := s.SetStatus(session.StatusStarting)
	now := e.cfg.Now().UTC()
	s.MarkStarted(now)
	e.publishStatus(s, from, "start requested")

	sctx, cancel := context.WithTimeout(ctx, e.cfg.ControlTimeout)
	summary, err := en.broker.AccountSummary(sctx, s.AccountID())
	cancel()
	if err != nil {
		s.Fail(fmt.Sprintf("balance fetch failed: %v", err))
		e.reportUpstream(s.AccountID(), err)
		log.Printf("[%s] ⚠️ Could not seed balance, loop will retry: %v", id, err)
	} else {
		s.SeedBalance(summary.Balance)
		s.ApplyAccount(summary.Balance, summary.NAV, summary.UnrealizedPL, summary.MarginUsed, summary.MarginAvailable)
	}

	loopCtx, stop := context.WithCancel(e.bg)
	en.cancel = stop
	en.done = make(chan struct{})
	prev := s.SetStatus(session.StatusRunning)
	e.publishStatus(s, prev, "loop started")
	go e.run(loopCtx, en, strat, params)

	e.persist(ctx, s)
	e.cfg.Metrics.SetRunning(e.activeCount(""))
	log.Printf("[%s] ✓ Session started: %s on %s %s", id, def.StrategyName, def.Instrument, def.Granularity)
	return nil
}

// Stop cancels the trading loop, waits for it to exit, then flattens the units
// this session owns.
func (e *Engine) Stop(ctx context.Context, id string) error {
	en, err := e.lookup(id)
	if err != nil {
		return err
	}
	en.ctl.Lock()
	defer en.ctl.Unlock()

	s := en.sess
	if !en.running() && s.Status() == session.StatusStopped {
		return nil
	}

	from := s.SetStatus(session.StatusStopping)
	e.publishStatus(s, from, "stop requested")
	if en.running() {
		en.cancel()
		<-en.done
	}

	fctx, cancel := context.WithTimeout(ctx, e.cfg.ControlTimeout)
	closed, ferr := e.flatten(fctx, en)
	if ferr == nil && closed != 0 {
		if _, rerr := e.rec.Reconcile(fctx, en.broker, s); rerr != nil {
			log.Printf("[%s] ⚠️ post-stop reconciliation: %v", id, rerr)
		}
	}
	cancel()
	if ferr != nil {
		s.SetError(fmt.Sprintf("close position failed: %v", ferr))
		log.Printf("[%s] ❌ Failed to close position on stop: %v", id, ferr)
	}

	prev := s.SetStatus(session.StatusStopped)
	e.publishStatus(s, prev, "stopped")
	e.persist(ctx, s)
	e.cfg.Metrics.SetRunning(e.activeCount(""))
	log.Printf("[%s] Session stopped", id)
	return nil
}

// Pause halts new entries while keeping positions and reconciliation alive.
func (e *Engine) Pause(ctx context.Context, id string) error {
	en, err := e.lookup(id)
	if err != nil {
		return err
	}
	en.ctl.Lock()
	defer en.ctl.Unlock()

	s := en.sess
	if !s.CompareAndSetStatus(session.StatusPaused, session.StatusRunning) {
		return nil
	}
	e.publishStatus(s, session.StatusRunning, "pause requested")
	e.persist(ctx, s)
	log.Printf("[%s] Session paused", id)
	return nil
}

// Resume returns a paused session to RUNNING with every cadence due now. A
// pause caused by the loss limit is acknowledged by clearing today's losses.
func (e *Engine) Resume(ctx context.Context, id string) error {
	en, err := e.lookup(id)
	if err != nil {
		return err
	}
	en.ctl.Lock()
	defer en.ctl.Unlock()

	s := en.sess
	if s.Status() != session.StatusPaused {
		return nil
	}
	if _, maxLoss := s.Limits(); e.breached(s, maxLoss) {
		e.cfg.Risk.ResetDailyMetrics(id)
		s.SetDailyLoss(0)
		log.Printf("[%s] Loss limit acknowledged on resume", id)
	}
	s.ResetCursors(e.cfg.Now().UTC())
	if !s.CompareAndSetStatus(session.StatusRunning, session.StatusPaused) {
		return nil
	}
	e.publishStatus(s, session.StatusPaused, "resume requested")
	e.persist(ctx, s)
	log.Printf("[%s] Session resumed", id)
	return nil
}
