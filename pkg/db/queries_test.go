package db

import (
	"context"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *Queries {
	t.Helper()
	database, err := New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	if err := ApplyMigrations(database); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}
	return database.Queries()
}

func TestSessionRoundTrip(t *testing.T) {
	q := openTestDB(t)
	ctx := context.Background()
	start := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

	rec := SessionRecord{
		ID:              "s1",
		AccountID:       "101-001",
		StrategyName:    "ma_cross",
		StrategyParams:  map[string]any{"fast": 10.0},
		Instrument:      "EUR_USD",
		Granularity:     "M5",
		MaxPositionSize: 10000,
		MaxDailyLoss:    250,
		Status:          "RUNNING",
		PositionUnits:   10000,
		TradeIDs:        []string{"41", "42"},
		InitialBalance:  100000,
		StartTime:       start,
	}
	if err := q.SaveSession(ctx, rec); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	rec.Status = "STOPPED"
	rec.PositionUnits = 0
	if err := q.SaveSession(ctx, rec); err != nil {
		t.Fatalf("SaveSession upsert: %v", err)
	}

	got, err := q.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Status != "STOPPED" || got.PositionUnits != 0 {
		t.Errorf("upsert not applied: status=%s units=%v", got.Status, got.PositionUnits)
	}
	if len(got.TradeIDs) != 2 || got.TradeIDs[1] != "42" {
		t.Errorf("TradeIDs=%v", got.TradeIDs)
	}
	if !got.StartTime.Equal(start) {
		t.Errorf("StartTime=%v, expected %v", got.StartTime, start)
	}
	if got.StrategyParams["fast"] != 10.0 {
		t.Errorf("StrategyParams=%v", got.StrategyParams)
	}

	all, err := q.LoadSessions(ctx)
	if err != nil {
		t.Fatalf("LoadSessions: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("LoadSessions returned %d records", len(all))
	}
}

func TestDeleteSession(t *testing.T) {
	q := openTestDB(t)
	ctx := context.Background()

	if err := q.DeleteSession(ctx, "missing"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := q.SaveSession(ctx, SessionRecord{ID: "s1", AccountID: "A", StrategyName: "rsi", Instrument: "EUR_USD", Granularity: "M1"}); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	if err := q.InsertClosedTrades(ctx, []ClosedTrade{{SessionID: "s1", TradeID: "1", CloseTime: time.Now()}}); err != nil {
		t.Fatalf("InsertClosedTrades: %v", err)
	}
	if err := q.DeleteSession(ctx, "s1"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if _, err := q.GetSession(ctx, "s1"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	trades, err := q.ListClosedTrades(ctx, "s1", 10)
	if err != nil {
		t.Fatalf("ListClosedTrades: %v", err)
	}
	if len(trades) != 0 {
		t.Errorf("closed trades survived delete: %d", len(trades))
	}
}

func TestClosedTrades(t *testing.T) {
	q := openTestDB(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	var batch []ClosedTrade
	for i, id := range []string{"10", "11", "12"} {
		batch = append(batch, ClosedTrade{
			SessionID:  "s1",
			TradeID:    id,
			Instrument: "EUR_USD",
			Units:      1000,
			OpenPrice:  1.1,
			ClosePrice: 1.2,
			OpenTime:   base,
			CloseTime:  base.Add(time.Duration(i+1) * time.Hour),
			RealizedPL: float64(i),
		})
	}
	if err := q.InsertClosedTrades(ctx, batch); err != nil {
		t.Fatalf("InsertClosedTrades: %v", err)
	}
	// duplicates are ignored
	if err := q.InsertClosedTrades(ctx, batch[:1]); err != nil {
		t.Fatalf("InsertClosedTrades duplicate: %v", err)
	}

	tests := []struct {
		name  string
		limit int
		want  []string
	}{
		{"all", 10, []string{"10", "11", "12"}},
		{"newest two", 2, []string{"11", "12"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := q.ListClosedTrades(ctx, "s1", tt.limit)
			if err != nil {
				t.Fatalf("ListClosedTrades: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d trades, expected %d", len(got), len(tt.want))
			}
			for i, id := range tt.want {
				if got[i].TradeID != id {
					t.Errorf("trade[%d]=%s, expected %s", i, got[i].TradeID, id)
				}
			}
		})
	}
}

func TestBacktestRuns(t *testing.T) {
	q := openTestDB(t)
	ctx := context.Background()

	run := BacktestRun{
		ID:          "bt-1",
		Strategy:    "donchian_breakout",
		Instrument:  "EUR_USD",
		Granularity: "H1",
		Params:      map[string]any{"window": 20.0},
		Bars:        500,
		Metrics:     []byte(`{"trades":3}`),
	}
	if err := q.InsertBacktestRun(ctx, run); err != nil {
		t.Fatalf("InsertBacktestRun: %v", err)
	}
	runs, err := q.ListBacktestRuns(ctx, 10)
	if err != nil {
		t.Fatalf("ListBacktestRuns: %v", err)
	}
	if len(runs) != 1 || string(runs[0].Metrics) != `{"trades":3}` || runs[0].Bars != 500 {
		t.Errorf("unexpected runs: %+v", runs)
	}
}
