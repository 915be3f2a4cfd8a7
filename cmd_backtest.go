package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"session-core/internal/backtest"
	"session-core/internal/engine"
)

var backtestFlags struct {
	strategy    string
	instrument  string
	granularity string
	count       int
	params      []string
	feeBps      float64
	slippage    float64
}

var backtestCmd = &cobra.Command{
	Use:   "backtest",
	Short: "Replay recent candles through a strategy and print the metrics",
	RunE:  runBacktest,
}

func init() {
	f := backtestCmd.Flags()
	f.StringVar(&backtestFlags.strategy, "strategy", "", "strategy key or preset name")
	f.StringVar(&backtestFlags.instrument, "instrument", "EUR_USD", "instrument, e.g. EUR_USD")
	f.StringVar(&backtestFlags.granularity, "granularity", "M5", "candle granularity")
	f.IntVar(&backtestFlags.count, "count", 500, "number of most recent bars")
	f.StringArrayVar(&backtestFlags.params, "params", nil, "strategy parameter as key=value, repeatable")
	f.Float64Var(&backtestFlags.feeBps, "fee-bps", 0, "fee charged on exits in basis points")
	f.Float64Var(&backtestFlags.slippage, "slippage", 0, "fill slippage as a fraction of price")
	_ = backtestCmd.MarkFlagRequired("strategy")
}

func runBacktest(cmd *cobra.Command, _ []string) error {
	params, err := parseParams(backtestFlags.params)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	st, err := buildStack(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.close(context.Background())

	res, err := st.engine.Backtest(ctx, engine.BacktestRequest{
		Strategy:    backtestFlags.strategy,
		Params:      params,
		Instrument:  strings.ToUpper(backtestFlags.instrument),
		Granularity: backtestFlags.granularity,
		Count:       backtestFlags.count,
		Options:     backtest.Options{FeeBps: backtestFlags.feeBps, Slippage: backtestFlags.slippage},
	})
	if err != nil {
		return err
	}
	printBacktest(res)
	return nil
}

// parseParams turns key=value pairs into typed values: ints, then floats, then
// bools, else strings.
func parseParams(pairs []string) (map[string]any, error) {
	out := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --params %q, want key=value", p)
		}
		v = strings.TrimSpace(v)
		if i, err := strconv.Atoi(v); err == nil {
			out[k] = i
		} else if f, err := strconv.ParseFloat(v, 64); err == nil {
			out[k] = f
		} else if b, err := strconv.ParseBool(v); err == nil {
			out[k] = b
		} else {
			out[k] = v
		}
	}
	return out, nil
}

func printBacktest(res *engine.BacktestResponse) {
	m := res.Result.Metrics
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "run\t%s\n", res.ID)
	fmt.Fprintf(w, "strategy\t%s %v\n", res.Strategy, res.Params)
	fmt.Fprintf(w, "market\t%s %s (%d bars)\n", res.Instrument, res.Granularity, res.Bars)
	fmt.Fprintf(w, "total return\t%.4f\n", m.TotalReturn)
	fmt.Fprintf(w, "max drawdown\t%.2f (%.2f%%)\n", m.MaxDrawdown, m.MaxDrawdownPct*100)
	fmt.Fprintf(w, "sharpe\t%.3f\n", m.Sharpe)
	fmt.Fprintf(w, "trades\t%d\n", m.NumTrades)
	fmt.Fprintf(w, "win rate\t%.1f%%\n", m.WinRate*100)
	fmt.Fprintf(w, "avg win / loss\t%.2f / %.2f\n", m.AvgWin, m.AvgLoss)
	fmt.Fprintf(w, "equity\t%.2f -> %.2f\n", m.InitialEquity, m.FinalEquity)
	w.Flush()
}
