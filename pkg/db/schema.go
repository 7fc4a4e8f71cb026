package db

import (
	"database/sql"
	"fmt"
)

const schema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS bots (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    pair TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'stopped',
    config TEXT NOT NULL,
    current_combined_score REAL DEFAULT 0,
    temperature TEXT DEFAULT 'frozen',
    position_status TEXT DEFAULT 'closed',
    pending_action TEXT DEFAULT 'hold',
    confirmation_start_ts DATETIME,
    last_trade_ts DATETIME,
    last_trade_price REAL DEFAULT 0,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS tranches (
    id TEXT PRIMARY KEY,
    bot_id TEXT NOT NULL,
    entry_trade_id TEXT NOT NULL,
    size_usd REAL NOT NULL,
    entry_price REAL NOT NULL,
    entry_ts DATETIME NOT NULL,
    status TEXT NOT NULL DEFAULT 'open',
    FOREIGN KEY(bot_id) REFERENCES bots(id)
);
CREATE INDEX IF NOT EXISTS idx_tranches_bot_status ON tranches(bot_id, status);

CREATE TABLE IF NOT EXISTS trades (
    id TEXT PRIMARY KEY,
    bot_id TEXT NOT NULL,
    pair TEXT NOT NULL,
    side TEXT NOT NULL,
    size REAL NOT NULL,
    price REAL DEFAULT 0,
    fee REAL DEFAULT 0,
    exchange_order_id TEXT,
    status TEXT NOT NULL DEFAULT 'pending',
    composite_score_at_decision REAL DEFAULT 0,
    created_ts DATETIME DEFAULT CURRENT_TIMESTAMP,
    filled_ts DATETIME,
    FOREIGN KEY(bot_id) REFERENCES bots(id)
);
CREATE INDEX IF NOT EXISTS idx_trades_bot_created ON trades(bot_id, created_ts);

CREATE TABLE IF NOT EXISTS decision_history (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    bot_id TEXT NOT NULL,
    action TEXT NOT NULL,
    composite REAL NOT NULL,
    signal_breakdown TEXT,
    temperature TEXT,
    promoted INTEGER DEFAULT 0,
    stale_data INTEGER DEFAULT 0,
    reject_reason TEXT,
    snapshot_ts DATETIME NOT NULL,
    FOREIGN KEY(bot_id) REFERENCES bots(id)
);
CREATE INDEX IF NOT EXISTS idx_decision_history_bot_ts ON decision_history(bot_id, snapshot_ts);
`

// ApplyMigrations bootstraps the schema; keep lightweight for fast startup.
func ApplyMigrations(d *Database) error {
	if d == nil || d.DB == nil {
		return fmt.Errorf("database is not initialized")
	}
	if _, err := d.DB.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	if err := ensureColumn(d.DB, "bots", "tranche_close_order", "TEXT DEFAULT 'fifo'"); err != nil {
		return err
	}
	if err := ensureColumn(d.DB, "bots", "temperature_floor", "TEXT DEFAULT 'frozen'"); err != nil {
		return err
	}
	if err := ensureColumn(d.DB, "trades", "exchange_order_id", "TEXT"); err != nil {
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
