package risk

import (
	"testing"
	"time"
)

func TestRecordCloseUsesNetPnL(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name              string
		pnl               float64
		wantDailyLosses   float64
		wantMaxDrawdown   float64
		wantMaxProfitGain float64
		wantWins          int
	}{
		{name: "profit", pnl: 120.5, wantMaxProfitGain: 120.5, wantWins: 1},
		{name: "loss", pnl: -42.75, wantDailyLosses: 42.75, wantMaxDrawdown: 42.75},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mgr := NewInMemory(DefaultConfig())
			mgr.now = func() time.Time { return at }

			metrics := mgr.RecordClose("s1", tt.pnl, at)
			if metrics.PnL != tt.pnl {
				t.Fatalf("PnL=%v, expected %v", metrics.PnL, tt.pnl)
			}
			if metrics.TotalRealizedPnL != tt.pnl {
				t.Fatalf("TotalRealizedPnL=%v, expected %v", metrics.TotalRealizedPnL, tt.pnl)
			}
			if metrics.Losses != tt.wantDailyLosses {
				t.Fatalf("Losses=%v, expected %v", metrics.Losses, tt.wantDailyLosses)
			}
			if metrics.MaxDrawdown != tt.wantMaxDrawdown {
				t.Fatalf("MaxDrawdown=%v, expected %v", metrics.MaxDrawdown, tt.wantMaxDrawdown)
			}
			if metrics.MaxProfit != tt.wantMaxProfitGain {
				t.Fatalf("MaxProfit=%v, expected %v", metrics.MaxProfit, tt.wantMaxProfitGain)
			}
			if metrics.Wins != tt.wantWins {
				t.Fatalf("Wins=%v, expected %v", metrics.Wins, tt.wantWins)
			}
			if got := mgr.DailyLoss("s1"); got != tt.wantDailyLosses {
				t.Fatalf("DailyLoss=%v, expected %v", got, tt.wantDailyLosses)
			}
		})
	}
}

func TestDailyLossRollsOver(t *testing.T) {
	mgr := NewInMemory(DefaultConfig())
	day1 := time.Date(2024, 5, 1, 23, 0, 0, 0, time.UTC)
	mgr.now = func() time.Time { return day1 }

	mgr.RecordClose("s1", -60, day1)
	mgr.RecordClose("s2", -5, day1)
	if got := mgr.DailyLoss("s1"); got != 60 {
		t.Fatalf("DailyLoss=%v, expected 60", got)
	}

	mgr.now = func() time.Time { return day1.Add(2 * time.Hour) }
	if got := mgr.DailyLoss("s1"); got != 0 {
		t.Fatalf("DailyLoss after rollover=%v, expected 0", got)
	}
	if got := mgr.GetMetrics("s1").TotalRealizedPnL; got != -60 {
		t.Fatalf("TotalRealizedPnL=%v, expected -60 to survive rollover", got)
	}
}

func TestBreached(t *testing.T) {
	tests := []struct {
		loss, max float64
		want      bool
	}{
		{100, 100, true},
		{99.99, 100, false},
		{500, 0, false},
	}
	for _, tt := range tests {
		if got := Breached(tt.loss, tt.max); got != tt.want {
			t.Fatalf("Breached(%v, %v)=%v, expected %v", tt.loss, tt.max, got, tt.want)
		}
	}
}

func TestSize(t *testing.T) {
	mgr := NewInMemory(DefaultConfig())
	tests := []struct {
		name        string
		target      float64
		prev        float64
		max         float64
		wantDelta   float64
		wantSkip    bool
		wantTargetU float64
	}{
		{name: "enter long", target: 1, prev: 0, max: 10000, wantDelta: 10000, wantTargetU: 10000},
		{name: "clamped above max", target: 2.5, prev: 0, max: 10000, wantDelta: 10000, wantTargetU: 10000},
		{name: "reverse", target: -1, prev: 1, max: 500, wantDelta: -1000, wantTargetU: -500},
		{name: "fractional noise", target: 0.50004, prev: 0.5, max: 1000, wantDelta: 0, wantSkip: true, wantTargetU: 500.04},
		{name: "truncated", target: 0.33333, prev: 0, max: 1000, wantDelta: 333, wantTargetU: 333.33},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := mgr.Size(tt.target, tt.prev, tt.max)
			if d.Delta != tt.wantDelta {
				t.Fatalf("Delta=%v, expected %v", d.Delta, tt.wantDelta)
			}
			if d.Skip != tt.wantSkip {
				t.Fatalf("Skip=%v, expected %v", d.Skip, tt.wantSkip)
			}
			if diff := d.TargetUnits - tt.wantTargetU; diff > 1e-6 || diff < -1e-6 {
				t.Fatalf("TargetUnits=%v, expected %v", d.TargetUnits, tt.wantTargetU)
			}
		})
	}
}
