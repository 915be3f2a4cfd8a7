package engine

import (
	"context"
	"fmt"
	"log"

	"session-core/internal/events"
	exchange "session-core/pkg/exchanges/common"
)

// quote returns the current mid price: the streamed quote when fresh, then a
// pricing call, then fallback.
func (e *Engine) quote(ctx context.Context, en *entry, fallback float64) float64 {
	s := en.sess
	if e.cfg.Quotes != nil {
		if q, ok := e.cfg.Quotes.Fresh(s.Instrument(), e.cfg.QuoteMaxAge); ok {
			if mid := q.Mid(); mid > 0 {
				return mid
			}
		}
	}
	quotes, err := en.broker.Pricing(ctx, s.AccountID(), []string{s.Instrument()})
	if err != nil {
		log.Printf("[%s] ⚠️ pricing failed, using bar close %.5f: %v", s.ID(), fallback, err)
		return fallback
	}
	for _, q := range quotes {
		if q.Instrument == s.Instrument() {
			if mid := q.Mid(); mid > 0 {
				if e.cfg.Quotes != nil {
					e.cfg.Quotes.Set(q)
				}
				return mid
			}
		}
	}
	return fallback
}

// execute sends the market order moving the session from prev to target in
// strategy space. Deltas under the minimum order size are skipped.
func (e *Engine) execute(ctx context.Context, en *entry, prev, target, maxPos, price float64) error {
	s := en.sess
	d := e.cfg.Risk.Size(target, prev, maxPos)
	if d.Skip {
		e.cfg.Metrics.Order(s.ID(), "skipped")
		return nil
	}

	res, err := en.broker.MarketOrder(ctx, s.AccountID(), exchange.MarketOrderRequest{
		Instrument: s.Instrument(),
		Units:      d.Delta,
		ClientTag:  e.cfg.ClientTag,
	})
	now := e.cfg.Now().UTC()
	if err != nil {
		e.cfg.Metrics.Order(s.ID(), "failed")
		e.cfg.Bus.Publish(events.EventOrderExecuted, events.OrderExecuted{
			SessionID:  s.ID(),
			Instrument: s.Instrument(),
			Units:      d.Delta,
			Price:      price,
			Error:      err.Error(),
			Time:       now,
		})
		return fmt.Errorf("order execution failed: %w", err)
	}

	s.AddPositionUnits(d.Delta)
	ids := res.TradeIDs()
	e.claimFills(ctx, s, ids)
	// reconcile on the next iteration
	s.SetNextMetrics(now)

	fill := res.Price
	if fill == 0 {
		fill = price
	}
	e.cfg.Metrics.Order(s.ID(), "filled")
	e.cfg.Bus.Publish(events.EventOrderExecuted, events.OrderExecuted{
		SessionID:  s.ID(),
		Instrument: s.Instrument(),
		Units:      d.Delta,
		Price:      fill,
		TradeIDs:   ids,
		Time:       now,
	})
	e.persist(ctx, s)
	log.Printf("[%s] ✓ Order filled: %+.0f %s @ %.5f (target %.0f, session units %.0f)",
		s.ID(), d.Delta, s.Instrument(), fill, d.TargetUnits, s.PositionUnits())
	return nil
}
