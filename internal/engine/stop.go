package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"

	"session-core/internal/risk"
	exchange "session-core/pkg/exchanges/common"
)

// flatten closes the exposure s may claim on its instrument and returns the
// units closed. Alone on the account/instrument it closes the whole broker
// position; next to other active sessions it closes at most its own units.
func (e *Engine) flatten(ctx context.Context, en *entry) (float64, error) {
	s := en.sess
	accountID, instrument := s.AccountID(), s.Instrument()

	pos, err := en.broker.Position(ctx, accountID, instrument)
	if err != nil {
		return 0, fmt.Errorf("position: %w", err)
	}

	if !e.coResident(s) {
		var req exchange.CloseRequest
		if pos.LongUnits != 0 {
			req.LongUnits = exchange.CloseAll
		}
		if pos.ShortUnits != 0 {
			req.ShortUnits = exchange.CloseAll
		}
		if req.LongUnits == "" && req.ShortUnits == "" {
			s.SetPositionUnits(0)
			return 0, nil
		}
		res, err := en.broker.ClosePosition(ctx, accountID, instrument, req)
		if err != nil && !errors.Is(err, exchange.ErrNoPosition) {
			return 0, fmt.Errorf("close position: %w", err)
		}
		s.SetPositionUnits(0)
		closed := res.LongClosed + res.ShortClosed
		log.Printf("[%s] ✓ Closed entire %s position (%.0f units)", s.ID(), instrument, closed)
		return closed, nil
	}

	own := s.PositionUnits()
	if math.Abs(own) < risk.MinOrderUnits {
		log.Printf("[%s] No session-owned units on %s, leaving shared position open", s.ID(), instrument)
		return 0, nil
	}
	net := pos.NetUnits()
	if net == 0 || math.Signbit(net) != math.Signbit(own) {
		log.Printf("[%s] ⚠️ Session owns %.0f %s units but broker net is %.0f; not closing", s.ID(), own, instrument, net)
		return 0, nil
	}

	units := math.Min(math.Abs(own), math.Abs(net))
	var req exchange.CloseRequest
	if own > 0 {
		req.LongUnits = exchange.CloseUnits(units)
	} else {
		req.ShortUnits = exchange.CloseUnits(units)
	}
	res, err := en.broker.ClosePosition(ctx, accountID, instrument, req)
	if err != nil {
		return 0, fmt.Errorf("close session units: %w", err)
	}
	closed := res.LongClosed + res.ShortClosed
	if own > 0 {
		s.AddPositionUnits(-closed)
	} else {
		s.AddPositionUnits(closed)
	}
	log.Printf("[%s] ✓ Closed %.0f of %.0f shared %s units", s.ID(), closed, net, instrument)
	return closed, nil
}
