package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"

	exchange "session-core/pkg/exchanges/common"
)

// ClosePosition flattens the session's own exposure on its instrument, then
// runs a bounded reconciliation so the closure is reflected immediately.
func (e *Engine) ClosePosition(ctx context.Context, id, instrument string) (ClosePositionResult, error) {
	en, err := e.lookup(id)
	if err != nil {
		return ClosePositionResult{}, err
	}
	s := en.sess
	if instrument != "" && !strings.EqualFold(instrument, s.Instrument()) {
		return ClosePositionResult{}, fmt.Errorf("%w: session %s trades %s, not %s", ErrInvalidParams, id, s.Instrument(), instrument)
	}

	cctx, cancel := context.WithTimeout(ctx, e.cfg.ControlTimeout)
	defer cancel()

	en.exec.Lock()
	closed, err := e.flatten(cctx, en)
	en.resync = true
	en.exec.Unlock()
	if err != nil {
		e.reportUpstream(s.AccountID(), err)
		return ClosePositionResult{}, err
	}
	out := ClosePositionResult{SessionID: id, AccountID: s.AccountID(), Instrument: s.Instrument(), UnitsClosed: closed}
	if closed == 0 {
		out.Skipped = "nothing attributable to close"
		return out, nil
	}
	e.persist(ctx, s)
	if _, err := e.rec.Reconcile(cctx, en.broker, s); err != nil {
		log.Printf("[%s] ⚠️ reconciliation after manual close: %v", id, err)
	}
	return out, nil
}

func (e *Engine) accountID(accountID string) (string, error) {
	if accountID == "" {
		accountID = e.cfg.DefaultAccountID
	}
	if accountID == "" {
		return "", fmt.Errorf("%w: account_id is required", ErrInvalidParams)
	}
	return accountID, nil
}

func (e *Engine) brokerFor(accountID string) (exchange.Broker, error) {
	b, err := e.cfg.Pool.Peek(accountID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	return b, nil
}

// Accounts lists the accounts visible to the default credentials.
func (e *Engine) Accounts(ctx context.Context) ([]exchange.AccountRef, error) {
	b, err := e.brokerFor(e.cfg.DefaultAccountID)
	if err != nil {
		return nil, err
	}
	return b.Accounts(ctx)
}

// AccountSummary returns the broker's summary of an account.
func (e *Engine) AccountSummary(ctx context.Context, accountID string) (exchange.AccountSummary, error) {
	accountID, err := e.accountID(accountID)
	if err != nil {
		return exchange.AccountSummary{}, err
	}
	b, err := e.brokerFor(accountID)
	if err != nil {
		return exchange.AccountSummary{}, err
	}
	return b.AccountSummary(ctx, accountID)
}

// AccountPositions returns every open broker position of an account.
func (e *Engine) AccountPositions(ctx context.Context, accountID string) ([]exchange.Position, error) {
	accountID, err := e.accountID(accountID)
	if err != nil {
		return nil, err
	}
	b, err := e.brokerFor(accountID)
	if err != nil {
		return nil, err
	}
	return b.OpenPositions(ctx, accountID)
}

// CloseAccountPosition closes both sides of an instrument on the account
// regardless of session ownership, then refreshes the sessions trading it.
func (e *Engine) CloseAccountPosition(ctx context.Context, accountID, instrument string) (ClosePositionResult, error) {
	accountID, err := e.accountID(accountID)
	if err != nil {
		return ClosePositionResult{}, err
	}
	instrument = strings.ToUpper(instrument)
	b, err := e.brokerFor(accountID)
	if err != nil {
		return ClosePositionResult{}, err
	}

	cctx, cancel := context.WithTimeout(ctx, e.cfg.ControlTimeout)
	defer cancel()

	// hold every affected loop between decisions while the broker position goes
	sessions := e.sessionsOn(accountID, instrument)
	for _, en := range sessions {
		en.exec.Lock()
	}
	release := func() {
		for _, en := range sessions {
			en.exec.Unlock()
		}
	}

	out := ClosePositionResult{AccountID: accountID, Instrument: instrument}
	res, err := b.ClosePosition(cctx, accountID, instrument, exchange.CloseRequest{
		LongUnits:  exchange.CloseAll,
		ShortUnits: exchange.CloseAll,
	})
	if errors.Is(err, exchange.ErrNoPosition) {
		release()
		out.Skipped = "no open position"
		return out, nil
	}
	if err != nil {
		release()
		return out, fmt.Errorf("close %s on %s: %w", instrument, accountID, err)
	}
	out.UnitsClosed = res.LongClosed + res.ShortClosed
	log.Printf("✓ Closed %s on account %s (%.0f units, P&L %.2f)", instrument, accountID, out.UnitsClosed, res.RealizedPL)
	for _, en := range sessions {
		en.sess.SetPositionUnits(0)
		en.resync = true
	}
	release()

	for _, en := range sessions {
		if _, err := e.rec.Reconcile(cctx, en.broker, en.sess); err != nil {
			log.Printf("[%s] ⚠️ reconciliation after account close: %v", en.sess.ID(), err)
		}
		e.persist(ctx, en.sess)
	}
	return out, nil
}

func (e *Engine) sessionsOn(accountID, instrument string) []*entry {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []*entry
	for _, en := range e.sessions {
		if en.sess.AccountID() == accountID && en.sess.Instrument() == instrument {
			out = append(out, en)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].sess.ID() < out[j].sess.ID() })
	return out
}

// claimedInstruments returns the instruments of every registered session on the account.
func (e *Engine) claimedInstruments(accountID string) map[string]bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]bool)
	for _, en := range e.sessions {
		if en.sess.AccountID() == accountID {
			out[en.sess.Instrument()] = true
		}
	}
	return out
}
