package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"

	"session-core/internal/backtest"
	"session-core/pkg/db"
	exchange "session-core/pkg/exchanges/common"
)

const defaultBacktestBars = 500

// Backtest replays historical bars through a freshly built strategy. Runs are
// stored when a store is configured.
func (e *Engine) Backtest(ctx context.Context, req BacktestRequest) (*BacktestResponse, error) {
	req.Instrument = strings.ToUpper(strings.TrimSpace(req.Instrument))
	if req.Granularity == "" {
		req.Granularity = e.cfg.DefaultGranularity
	}
	if _, ok := exchange.LookupGranularity(req.Granularity); !ok {
		return nil, fmt.Errorf("%w: unknown granularity %q", ErrInvalidParams, req.Granularity)
	}
	key, raw := e.resolveStrategy(req.Strategy, req.Params)
	strat, params, err := e.cfg.Strategies.Build(key, raw)
	if err != nil {
		return nil, err
	}

	var bars []exchange.Bar
	switch {
	case !req.From.IsZero():
		to := req.To
		if to.IsZero() {
			to = e.cfg.Now().UTC()
		}
		bars, err = e.cfg.Candles.CandlesRange(ctx, req.Instrument, req.Granularity, req.From.UTC(), to.UTC())
	default:
		count := req.Count
		if count <= 0 {
			count = defaultBacktestBars
		}
		bars, err = e.cfg.Candles.Candles(ctx, req.Instrument, req.Granularity, count)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch bars: %w", err)
	}

	res, err := backtest.Run(bars, strat, params, req.Options)
	if errors.Is(err, backtest.ErrNoBars) {
		return nil, fmt.Errorf("%w: no bars for %s %s", ErrInvalidParams, req.Instrument, req.Granularity)
	}
	if err != nil {
		return nil, err
	}

	out := &BacktestResponse{
		ID:          uuid.NewString(),
		Strategy:    key,
		Instrument:  req.Instrument,
		Granularity: req.Granularity,
		Bars:        len(bars),
		Params:      params,
		Result:      res,
	}
	if e.cfg.Store != nil {
		metrics, _ := json.Marshal(res.Metrics)
		run := db.BacktestRun{
			ID:          out.ID,
			Strategy:    key,
			Instrument:  req.Instrument,
			Granularity: req.Granularity,
			Params:      params,
			Bars:        len(bars),
			Metrics:     metrics,
			CreatedAt:   e.cfg.Now().UTC(),
		}
		if err := e.cfg.Store.InsertBacktestRun(ctx, run); err != nil {
			log.Printf("⚠️ store backtest run %s: %v", out.ID, err)
		}
	}
	return out, nil
}
