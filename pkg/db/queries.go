package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var ErrNotFound = errors.New("record not found")

const timeLayout = time.RFC3339Nano

// Queries groups the session-core statements.
type Queries struct {
	db *sql.DB
}

// NewQueries creates a Queries instance.
func NewQueries(db *sql.DB) *Queries {
	return &Queries{db: db}
}

func formatTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(timeLayout), Valid: true}
}

func parseTime(ns sql.NullString) time.Time {
	if !ns.Valid || ns.String == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, ns.String)
	if err != nil {
		return time.Time{}
	}
	return t
}

// ----------------------------------------
// Session Queries
// ----------------------------------------

// SaveSession inserts or replaces a session record.
func (q *Queries) SaveSession(ctx context.Context, r SessionRecord) error {
	if r.ID == "" {
		return errors.New("session id is required")
	}
	params, err := json.Marshal(r.StrategyParams)
	if err != nil {
		return fmt.Errorf("encode strategy params: %w", err)
	}
	if r.TradeIDs == nil {
		r.TradeIDs = []string{}
	}
	ids, err := json.Marshal(r.TradeIDs)
	if err != nil {
		return fmt.Errorf("encode trade ids: %w", err)
	}
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}

	_, err = q.db.ExecContext(ctx, `
		INSERT INTO sessions (
			id, account_id, strategy_name, strategy_params, instrument, granularity,
			max_position_size, max_daily_loss, status, position_units, trade_ids,
			initial_balance, error_message, start_time, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			strategy_params = excluded.strategy_params,
			max_position_size = excluded.max_position_size,
			max_daily_loss = excluded.max_daily_loss,
			status = excluded.status,
			position_units = excluded.position_units,
			trade_ids = excluded.trade_ids,
			initial_balance = excluded.initial_balance,
			error_message = excluded.error_message,
			start_time = excluded.start_time,
			updated_at = excluded.updated_at
	`, r.ID, r.AccountID, r.StrategyName, string(params), r.Instrument, r.Granularity,
		r.MaxPositionSize, r.MaxDailyLoss, r.Status, r.PositionUnits, string(ids),
		r.InitialBalance, r.ErrorMessage, formatTime(r.StartTime),
		r.CreatedAt.UTC().Format(timeLayout), now.Format(timeLayout))
	if err != nil {
		return fmt.Errorf("save session %s: %w", r.ID, err)
	}
	return nil
}

const sessionColumns = `id, account_id, strategy_name, strategy_params, instrument, granularity,
	max_position_size, max_daily_loss, status, position_units, trade_ids,
	initial_balance, error_message, start_time, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (SessionRecord, error) {
	var (
		r                SessionRecord
		params, ids      string
		start            sql.NullString
		created, updated sql.NullString
	)
	if err := row.Scan(&r.ID, &r.AccountID, &r.StrategyName, &params, &r.Instrument, &r.Granularity,
		&r.MaxPositionSize, &r.MaxDailyLoss, &r.Status, &r.PositionUnits, &ids,
		&r.InitialBalance, &r.ErrorMessage, &start, &created, &updated); err != nil {
		return r, err
	}
	if err := json.Unmarshal([]byte(params), &r.StrategyParams); err != nil {
		return r, fmt.Errorf("decode strategy params of %s: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(ids), &r.TradeIDs); err != nil {
		return r, fmt.Errorf("decode trade ids of %s: %w", r.ID, err)
	}
	r.StartTime = parseTime(start)
	r.CreatedAt = parseTime(created)
	r.UpdatedAt = parseTime(updated)
	return r, nil
}

// GetSession returns one session record.
func (q *Queries) GetSession(ctx context.Context, id string) (*SessionRecord, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	r, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	return &r, nil
}

// LoadSessions returns every stored session, oldest first.
func (q *Queries) LoadSessions(ctx context.Context) ([]SessionRecord, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM sessions ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		r, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteSession removes a session and its closed trades.
func (q *Queries) DeleteSession(ctx context.Context, id string) error {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM closed_trades WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("delete closed trades of %s: %w", id, err)
	}
	return tx.Commit()
}

// ----------------------------------------
// Closed Trade Queries
// ----------------------------------------

// InsertClosedTrades stores trades in one transaction. Trades already stored for
// the same session are skipped.
func (q *Queries) InsertClosedTrades(ctx context.Context, trades []ClosedTrade) error {
	if len(trades) == 0 {
		return nil
	}
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO closed_trades (
			session_id, trade_id, instrument, units, open_price, close_price,
			open_time, close_time, realized_pl
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare closed trade insert: %w", err)
	}
	defer stmt.Close()

	for _, t := range trades {
		if _, err := stmt.ExecContext(ctx, t.SessionID, t.TradeID, t.Instrument, t.Units,
			t.OpenPrice, t.ClosePrice, formatTime(t.OpenTime), t.CloseTime.UTC().Format(timeLayout), t.RealizedPL); err != nil {
			return fmt.Errorf("insert closed trade %s: %w", t.TradeID, err)
		}
	}
	return tx.Commit()
}

// ListClosedTrades returns the newest limit closed trades of a session, oldest first.
func (q *Queries) ListClosedTrades(ctx context.Context, sessionID string, limit int) ([]ClosedTrade, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := q.db.QueryContext(ctx, `
		SELECT session_id, trade_id, instrument, units, open_price, close_price, open_time, close_time, realized_pl
		FROM (
			SELECT * FROM closed_trades WHERE session_id = ? ORDER BY close_time DESC, id DESC LIMIT ?
		) ORDER BY close_time, id
	`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query closed trades: %w", err)
	}
	defer rows.Close()

	var out []ClosedTrade
	for rows.Next() {
		var (
			t              ClosedTrade
			opened, closed sql.NullString
		)
		if err := rows.Scan(&t.SessionID, &t.TradeID, &t.Instrument, &t.Units, &t.OpenPrice,
			&t.ClosePrice, &opened, &closed, &t.RealizedPL); err != nil {
			return nil, fmt.Errorf("scan closed trade: %w", err)
		}
		t.OpenTime = parseTime(opened)
		t.CloseTime = parseTime(closed)
		out = append(out, t)
	}
	return out, rows.Err()
}

// ----------------------------------------
// Backtest Queries
// ----------------------------------------

// InsertBacktestRun stores a backtest summary.
func (q *Queries) InsertBacktestRun(ctx context.Context, r BacktestRun) error {
	params, err := json.Marshal(r.Params)
	if err != nil {
		return fmt.Errorf("encode backtest params: %w", err)
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO backtest_runs (id, strategy, instrument, granularity, params, bars, metrics, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.Strategy, r.Instrument, r.Granularity, string(params), r.Bars, string(r.Metrics),
		r.CreatedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("insert backtest run: %w", err)
	}
	return nil
}

// ListBacktestRuns returns the newest limit runs, newest first.
func (q *Queries) ListBacktestRuns(ctx context.Context, limit int) ([]BacktestRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, strategy, instrument, granularity, params, bars, metrics, created_at
		FROM backtest_runs ORDER BY created_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query backtest runs: %w", err)
	}
	defer rows.Close()

	var out []BacktestRun
	for rows.Next() {
		var (
			r               BacktestRun
			params, metrics string
			created         sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Strategy, &r.Instrument, &r.Granularity, &params, &r.Bars, &metrics, &created); err != nil {
			return nil, fmt.Errorf("scan backtest run: %w", err)
		}
		if err := json.Unmarshal([]byte(params), &r.Params); err != nil {
			return nil, fmt.Errorf("decode backtest params: %w", err)
		}
		r.Metrics = []byte(metrics)
		r.CreatedAt = parseTime(created)
		out = append(out, r)
	}
	return out, rows.Err()
}
