package db

import (
	"database/sql"
	"fmt"
)

const schema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    account_id TEXT NOT NULL,
    strategy_name TEXT NOT NULL,
    strategy_params TEXT NOT NULL DEFAULT '{}',
    instrument TEXT NOT NULL,
    granularity TEXT NOT NULL,
    max_position_size REAL NOT NULL,
    max_daily_loss REAL NOT NULL,
    status TEXT NOT NULL DEFAULT 'STOPPED',
    position_units REAL NOT NULL DEFAULT 0,
    trade_ids TEXT NOT NULL DEFAULT '[]',
    start_time TEXT,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sessions_account ON sessions(account_id, instrument);

CREATE TABLE IF NOT EXISTS closed_trades (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    trade_id TEXT NOT NULL,
    instrument TEXT NOT NULL,
    units REAL NOT NULL,
    open_price REAL NOT NULL,
    close_price REAL NOT NULL,
    open_time TEXT,
    close_time TEXT NOT NULL,
    realized_pl REAL NOT NULL,
    UNIQUE(session_id, trade_id)
);

CREATE INDEX IF NOT EXISTS idx_closed_trades_session ON closed_trades(session_id, close_time);

CREATE TABLE IF NOT EXISTS backtest_runs (
    id TEXT PRIMARY KEY,
    strategy TEXT NOT NULL,
    instrument TEXT NOT NULL,
    granularity TEXT NOT NULL,
    params TEXT NOT NULL DEFAULT '{}',
    bars INTEGER NOT NULL,
    metrics TEXT NOT NULL,
    created_at TEXT NOT NULL
);
`

// ApplyMigrations creates tables if they do not exist and adds columns introduced later.
func ApplyMigrations(d *Database) error {
	if d == nil || d.DB == nil {
		return fmt.Errorf("database not initialized")
	}
	if _, err := d.DB.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	if err := ensureColumn(d.DB, "sessions", "initial_balance", "REAL NOT NULL DEFAULT 0"); err != nil {
		return err
	}
	if err := ensureColumn(d.DB, "sessions", "error_message", "TEXT NOT NULL DEFAULT ''"); err != nil {
		return err
	}
	return nil
}

// ensureColumn adds a column if it does not already exist.
func ensureColumn(db *sql.DB, table, column, definition string) error {
	exists, err := columnExists(db, table, column)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	alter := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, definition)
	if _, err := db.Exec(alter); err != nil {
		return fmt.Errorf("alter table %s add column %s: %w", table, column, err)
	}
	return nil
}

func columnExists(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		return false, fmt.Errorf("pragma table_info(%s): %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid        int
			name       string
			colType    string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultVal, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
