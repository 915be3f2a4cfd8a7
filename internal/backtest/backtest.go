// Package backtest replays bars through a strategy without a broker, producing an
// equity curve, the simulated trades and summary statistics.
package backtest

import (
	"errors"
	"math"
	"time"

	"session-core/internal/strategy"
	exchange "session-core/pkg/exchanges/common"
)

// Options tunes the simulated fills. Zero values select the defaults.
type Options struct {
	NotionalPerUnit float64 `json:"notional_per_unit"`
	Slippage        float64 `json:"slippage"` // fraction of price
	FeeBps          float64 `json:"fee_bps"`
	InitialEquity   float64 `json:"initial_equity"`
	BarsPerYear     float64 `json:"bars_per_year"`
}

func (o Options) withDefaults() Options {
	if o.NotionalPerUnit == 0 {
		o.NotionalPerUnit = 1
	}
	if o.InitialEquity == 0 {
		o.InitialEquity = 10000
	}
	if o.BarsPerYear <= 0 {
		o.BarsPerYear = 252
	}
	return o
}

// Point is one equity curve sample.
type Point struct {
	Time   time.Time `json:"time"`
	Equity float64   `json:"equity"`
}

// Trade is a completed simulated round trip. PnL is net of the exit fee.
type Trade struct {
	EntryTime  time.Time `json:"entry_time"`
	ExitTime   time.Time `json:"exit_time"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price"`
	Position   float64   `json:"position"`
	PnL        float64   `json:"pnl"`
}

// OpenPosition is the exposure still held after the last bar.
type OpenPosition struct {
	Position   float64   `json:"position"`
	EntryPrice float64   `json:"entry_price"`
	EntryTime  time.Time `json:"entry_time"`
}

// Metrics summarizes a run.
type Metrics struct {
	TotalReturn    float64 `json:"total_return"`
	MaxDrawdown    float64 `json:"max_drawdown"`
	MaxDrawdownPct float64 `json:"max_drawdown_pct"`
	Sharpe         float64 `json:"sharpe"`
	NumTrades      int     `json:"num_trades"`
	WinRate        float64 `json:"win_rate"`
	AvgWin         float64 `json:"avg_win"`
	AvgLoss        float64 `json:"avg_loss"`
	InitialEquity  float64 `json:"initial_equity"`
	FinalEquity    float64 `json:"final_equity"`
}

// Result is the output of Run.
type Result struct {
	Equity       []Point       `json:"equity"`
	Trades       []Trade       `json:"trades"`
	Metrics      Metrics       `json:"metrics"`
	OpenPosition *OpenPosition `json:"open_position,omitempty"`
}

// ErrNoBars is returned for an empty bar sequence.
var ErrNoBars = errors.New("backtest: no bars")

// Run simulates strat over bars, oldest first. Fills happen at the bar close moved
// by slippage against the trader; the fee is charged on exits. Run is
// deterministic for identical inputs.
func Run(bars []exchange.Bar, strat strategy.Strategy, params strategy.Params, opts Options) (*Result, error) {
	if len(bars) == 0 {
		return nil, ErrNoBars
	}
	opts = opts.withDefaults()
	ctx := strategy.NewContext(params)
	ctx.Cash = opts.InitialEquity
	strat.OnStart(ctx)

	var (
		equity    = opts.InitialEquity
		pos       float64
		entryPx   float64
		entryTime time.Time
		inTrade   bool
		res       = &Result{Equity: make([]Point, 0, len(bars))}
		returns   []float64
		peak      = opts.InitialEquity
		maxDD     float64
	)

	for _, bar := range bars {
		strat.OnBar(bar, ctx)
		target := ctx.Position

		if target != pos {
			dir := -1.0
			if target > pos {
				dir = 1
			}
			px := bar.Close * (1 + opts.Slippage*dir)

			if pos != 0 && inTrade {
				pnl := (px - entryPx) * pos * opts.NotionalPerUnit
				fee := math.Abs(pos) * opts.NotionalPerUnit * opts.FeeBps * 1e-4 * px
				equity += pnl - fee
				res.Trades = append(res.Trades, Trade{
					EntryTime: entryTime, ExitTime: bar.Time,
					EntryPrice: entryPx, ExitPrice: px,
					Position: pos, PnL: pnl - fee,
				})
				inTrade = false
			}
			if target != 0 {
				entryPx, entryTime, inTrade = px, bar.Time, true
			}
			pos = target
		}

		mtm := 0.0
		if pos != 0 && inTrade {
			mtm = (bar.Close - entryPx) * pos * opts.NotionalPerUnit
		}
		point := Point{Time: bar.Time, Equity: equity + mtm}
		if n := len(res.Equity); n > 0 {
			if prev := res.Equity[n-1].Equity; prev != 0 {
				returns = append(returns, (point.Equity-prev)/math.Abs(prev))
			}
		}
		res.Equity = append(res.Equity, point)
		ctx.Cash = equity

		peak = math.Max(peak, point.Equity)
		maxDD = math.Min(maxDD, point.Equity-peak)
	}
	strat.OnStop(ctx)

	if inTrade && pos != 0 {
		res.OpenPosition = &OpenPosition{Position: pos, EntryPrice: entryPx, EntryTime: entryTime}
	}
	res.Metrics = summarize(res, returns, opts, peak, maxDD)
	return res, nil
}

func summarize(res *Result, returns []float64, opts Options, peak, maxDD float64) Metrics {
	final := res.Equity[len(res.Equity)-1].Equity
	m := Metrics{
		TotalReturn:   final - opts.InitialEquity,
		MaxDrawdown:   maxDD,
		NumTrades:     len(res.Trades),
		InitialEquity: opts.InitialEquity,
		FinalEquity:   final,
	}
	if peak > 0 {
		m.MaxDrawdownPct = maxDD / peak
	}
	if len(returns) > 0 {
		mean, sd := meanStdDev(returns)
		m.Sharpe = mean / (sd + 1e-12) * math.Sqrt(opts.BarsPerYear)
	}

	var wins, losses int
	var winSum, lossSum float64
	for _, t := range res.Trades {
		if t.PnL > 0 {
			wins++
			winSum += t.PnL
		} else {
			losses++
			lossSum += t.PnL
		}
	}
	if len(res.Trades) > 0 {
		m.WinRate = float64(wins) / float64(len(res.Trades))
	}
	if wins > 0 {
		m.AvgWin = winSum / float64(wins)
	}
	if losses > 0 {
		m.AvgLoss = lossSum / float64(losses)
	}
	return m
}

// meanStdDev returns the mean and population standard deviation.
func meanStdDev(xs []float64) (float64, float64) {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))
	var sq float64
	for _, x := range xs {
		d := x - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / float64(len(xs)))
}
