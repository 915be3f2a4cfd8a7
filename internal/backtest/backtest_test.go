package backtest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"session-core/internal/strategy"
	exchange "session-core/pkg/exchanges/common"
)

type fixedPosition struct {
	strategy.Base
	pos float64
}

func (s *fixedPosition) OnBar(_ exchange.Bar, ctx *strategy.Context) { ctx.Position = s.pos }

type alternating struct {
	strategy.Base
	n int
}

func (s *alternating) OnBar(_ exchange.Bar, ctx *strategy.Context) {
	if s.n%2 == 0 {
		ctx.Position = 1
	} else {
		ctx.Position = 0
	}
	s.n++
}

func makeBars(closes ...float64) []exchange.Bar {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	out := make([]exchange.Bar, len(closes))
	for i, c := range closes {
		out[i] = exchange.Bar{Time: start.Add(time.Duration(i) * time.Hour), Open: c, High: c, Low: c, Close: c}
	}
	return out
}

func TestAlwaysLongOnFlatPrices(t *testing.T) {
	res, err := Run(makeBars(100, 100, 100), &fixedPosition{pos: 1}, nil, Options{})
	require.NoError(t, err)

	assert.Empty(t, res.Trades)
	require.NotNil(t, res.OpenPosition)
	assert.Equal(t, 1.0, res.OpenPosition.Position)
	assert.Equal(t, 100.0, res.OpenPosition.EntryPrice)
	for _, p := range res.Equity {
		assert.Equal(t, 10000.0, p.Equity)
	}
	assert.Equal(t, 0.0, res.Metrics.TotalReturn)
}

func TestAlternatingPosition(t *testing.T) {
	bs := makeBars(100, 101, 99)
	res, err := Run(bs, &alternating{}, nil, Options{NotionalPerUnit: 1})
	require.NoError(t, err)

	require.Len(t, res.Trades, 1)
	assert.Equal(t, 1.0, res.Trades[0].PnL)
	assert.Equal(t, bs[0].Time, res.Trades[0].EntryTime)
	assert.Equal(t, bs[1].Time, res.Trades[0].ExitTime)

	require.NotNil(t, res.OpenPosition)
	assert.Equal(t, 99.0, res.OpenPosition.EntryPrice)
	assert.Equal(t, []float64{10000, 10001, 10001}, equities(res))
	assert.Equal(t, 1, res.Metrics.NumTrades)
	assert.Equal(t, 1.0, res.Metrics.WinRate)
	assert.Equal(t, 1.0, res.Metrics.AvgWin)
}

func TestDeterministic(t *testing.T) {
	bs := makeBars(100, 102, 101, 98, 103, 104, 99, 97, 100, 105)
	opts := Options{Slippage: 0.001, FeeBps: 2}

	build := func() strategy.Strategy {
		s, _, err := strategy.DefaultRegistry().Build("donchian_breakout", map[string]any{"window": 3})
		require.NoError(t, err)
		return s
	}
	a, err := Run(bs, build(), nil, opts)
	require.NoError(t, err)
	b, err := Run(bs, build(), nil, opts)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestEquityRoundTrip(t *testing.T) {
	bs := makeBars(100, 103, 99, 104, 101, 106, 102)
	res, err := Run(bs, &alternating{}, nil, Options{Slippage: 0.0005, FeeBps: 1.5, NotionalPerUnit: 10})
	require.NoError(t, err)

	expected := res.Metrics.InitialEquity
	for _, tr := range res.Trades {
		expected += tr.PnL
	}
	if op := res.OpenPosition; op != nil {
		expected += (bs[len(bs)-1].Close - op.EntryPrice) * op.Position * 10
	}
	assert.InDelta(t, expected, res.Equity[len(res.Equity)-1].Equity, 1e-9)
}

func TestDrawdownAndLosses(t *testing.T) {
	res, err := Run(makeBars(100, 90, 80), &fixedPosition{pos: 1}, nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, -20.0, res.Metrics.MaxDrawdown)
	assert.InDelta(t, -20.0/10000, res.Metrics.MaxDrawdownPct, 1e-12)
	assert.Less(t, res.Metrics.Sharpe, 0.0)
}

func TestEmptyBars(t *testing.T) {
	_, err := Run(nil, &fixedPosition{}, nil, Options{})
	assert.ErrorIs(t, err, ErrNoBars)
}

func equities(res *Result) []float64 {
	out := make([]float64, len(res.Equity))
	for i, p := range res.Equity {
		out[i] = p.Equity
	}
	return out
}
