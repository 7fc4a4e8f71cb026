// Package db is the persistence layer for bots, tranches, trades, and
// the decision-history audit trail (spec §3, §6 Persisted state layout),
// generalized from the teacher's orders/trades/positions query shape in
// pkg/db/queries.go (same ON CONFLICT upsert and COALESCE-timestamp
// idioms), dropping the teacher's per-user isolation since this module
// runs one global fleet rather than multi-tenant accounts.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var ErrNotFound = errors.New("record not found")

// UpsertBot inserts or updates a bot row.
func (d *Database) UpsertBot(ctx context.Context, b BotRow) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO bots (
			id, name, pair, status, config, current_combined_score, temperature,
			position_status, pending_action, confirmation_start_ts, last_trade_ts,
			last_trade_price, tranche_close_order, temperature_floor, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP), CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			pair = excluded.pair,
			status = excluded.status,
			config = excluded.config,
			current_combined_score = excluded.current_combined_score,
			temperature = excluded.temperature,
			position_status = excluded.position_status,
			pending_action = excluded.pending_action,
			confirmation_start_ts = excluded.confirmation_start_ts,
			last_trade_ts = excluded.last_trade_ts,
			last_trade_price = excluded.last_trade_price,
			tranche_close_order = excluded.tranche_close_order,
			temperature_floor = excluded.temperature_floor,
			updated_at = CURRENT_TIMESTAMP
	`,
		b.ID, b.Name, b.Pair, b.Status, b.ConfigJSON, b.CurrentCombinedScore, b.Temperature,
		b.PositionStatus, b.PendingAction, b.ConfirmationStartTs, b.LastTradeTs,
		b.LastTradePrice, b.TrancheCloseOrder, b.TemperatureFloor, b.CreatedAt,
	)
	return err
}

func scanBotRow(row interface{ Scan(...any) error }) (BotRow, error) {
	var b BotRow
	err := row.Scan(
		&b.ID, &b.Name, &b.Pair, &b.Status, &b.ConfigJSON, &b.CurrentCombinedScore, &b.Temperature,
		&b.PositionStatus, &b.PendingAction, &b.ConfirmationStartTs, &b.LastTradeTs,
		&b.LastTradePrice, &b.TrancheCloseOrder, &b.TemperatureFloor, &b.CreatedAt, &b.UpdatedAt,
	)
	return b, err
}

const botColumns = `id, name, pair, status, config, current_combined_score, temperature,
	position_status, pending_action, confirmation_start_ts, last_trade_ts,
	last_trade_price, tranche_close_order, temperature_floor, created_at, updated_at`

// GetBot returns a bot by ID, or ErrNotFound.
func (d *Database) GetBot(ctx context.Context, id string) (BotRow, error) {
	row := d.DB.QueryRowContext(ctx, `SELECT `+botColumns+` FROM bots WHERE id = ?`, id)
	b, err := scanBotRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return BotRow{}, ErrNotFound
	}
	if err != nil {
		return BotRow{}, fmt.Errorf("get bot: %w", err)
	}
	return b, nil
}

// ListBots returns every bot, used at startup and by the control API.
func (d *Database) ListBots(ctx context.Context) ([]BotRow, error) {
	rows, err := d.DB.QueryContext(ctx, `SELECT `+botColumns+` FROM bots ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list bots: %w", err)
	}
	defer rows.Close()

	var res []BotRow
	for rows.Next() {
		b, err := scanBotRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan bot: %w", err)
		}
		res = append(res, b)
	}
	return res, rows.Err()
}

// ListRunningBots returns bots with status = 'running', the Scheduler's
// per-tick enumeration (spec §4.8).
func (d *Database) ListRunningBots(ctx context.Context) ([]BotRow, error) {
	rows, err := d.DB.QueryContext(ctx, `SELECT `+botColumns+` FROM bots WHERE status = 'running'`)
	if err != nil {
		return nil, fmt.Errorf("list running bots: %w", err)
	}
	defer rows.Close()

	var res []BotRow
	for rows.Next() {
		b, err := scanBotRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan bot: %w", err)
		}
		res = append(res, b)
	}
	return res, rows.Err()
}

// SetBotStatus updates only a bot's lifecycle status (start/stop, spec §6).
func (d *Database) SetBotStatus(ctx context.Context, id, status string) error {
	res, err := d.DB.ExecContext(ctx, `UPDATE bots SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("set bot status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteBot removes a bot and its tranches (control API delete, spec §6).
func (d *Database) DeleteBot(ctx context.Context, id string) error {
	res, err := d.DB.ExecContext(ctx, `DELETE FROM bots WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete bot: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	if _, err := d.DB.ExecContext(ctx, `DELETE FROM tranches WHERE bot_id = ?`, id); err != nil {
		return fmt.Errorf("delete tranches for bot %s: %w", id, err)
	}
	return nil
}

// UpsertTranche inserts or updates a tranche row.
func (d *Database) UpsertTranche(ctx context.Context, t TrancheRow) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO tranches (id, bot_id, entry_trade_id, size_usd, entry_price, entry_ts, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			size_usd = excluded.size_usd,
			status = excluded.status
	`, t.ID, t.BotID, t.EntryTradeID, t.SizeUSD, t.EntryPrice, t.EntryTs, t.Status)
	return err
}

// ListTranchesByBot returns every tranche (open and closed) for a bot,
// ordered oldest-first for FIFO close-order resolution (spec §4.7).
func (d *Database) ListTranchesByBot(ctx context.Context, botID string) ([]TrancheRow, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, bot_id, entry_trade_id, size_usd, entry_price, entry_ts, status
		FROM tranches WHERE bot_id = ? ORDER BY entry_ts ASC
	`, botID)
	if err != nil {
		return nil, fmt.Errorf("list tranches: %w", err)
	}
	defer rows.Close()

	var res []TrancheRow
	for rows.Next() {
		var t TrancheRow
		if err := rows.Scan(&t.ID, &t.BotID, &t.EntryTradeID, &t.SizeUSD, &t.EntryPrice, &t.EntryTs, &t.Status); err != nil {
			return nil, fmt.Errorf("scan tranche: %w", err)
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// CreateTrade inserts a pending trade row (spec §4.7 step "persist a
// pending Trade").
func (d *Database) CreateTrade(ctx context.Context, t TradeRow) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO trades (
			id, bot_id, pair, side, size, price, fee, exchange_order_id,
			status, composite_score_at_decision, created_ts, filled_ts
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP), ?)
	`, t.ID, t.BotID, t.Pair, t.Side, t.Size, t.Price, t.Fee, t.ExchangeOrderID,
		t.Status, t.CompositeScoreAtDecision, t.CreatedTs, t.FilledTs)
	return err
}

// UpdateTradeStatus transitions a trade to filled (with fill price/fee)
// or failed (spec §4.7).
func (d *Database) UpdateTradeStatus(ctx context.Context, id, status string, price, fee float64, exchangeOrderID string, filledTs *sql.NullTime) error {
	_, err := d.DB.ExecContext(ctx, `
		UPDATE trades
		SET status = ?, price = ?, fee = ?, exchange_order_id = ?, filled_ts = ?
		WHERE id = ?
	`, status, price, fee, exchangeOrderID, filledTs, id)
	return err
}

// ListTradesByBot returns a bot's recent trades, newest first (spec §6
// trade-history endpoint).
func (d *Database) ListTradesByBot(ctx context.Context, botID string, limit int) ([]TradeRow, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, bot_id, pair, side, size, price, fee, COALESCE(exchange_order_id, ''),
			status, composite_score_at_decision, created_ts, filled_ts
		FROM trades WHERE bot_id = ? ORDER BY created_ts DESC LIMIT ?
	`, botID, limit)
	if err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}
	defer rows.Close()

	var res []TradeRow
	for rows.Next() {
		var t TradeRow
		if err := rows.Scan(&t.ID, &t.BotID, &t.Pair, &t.Side, &t.Size, &t.Price, &t.Fee,
			&t.ExchangeOrderID, &t.Status, &t.CompositeScoreAtDecision, &t.CreatedTs, &t.FilledTs); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// CountTradesSince counts trades with status filled whose created_ts is
// at or after since.
func (d *Database) CountTradesSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := d.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM trades WHERE status = 'filled' AND created_ts >= ?`, since).Scan(&n)
	return n, err
}

// InsertDecisionHistory records one evaluator output for audit (spec
// §4.5 step 7, the teacher's decision_history generalization).
func (d *Database) InsertDecisionHistory(ctx context.Context, h DecisionHistoryRow) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO decision_history (
			bot_id, action, composite, signal_breakdown, temperature,
			promoted, stale_data, reject_reason, snapshot_ts
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, h.BotID, h.Action, h.Composite, h.SignalBreakdown, h.Temperature,
		h.Promoted, h.StaleData, h.RejectReason, h.SnapshotTs)
	return err
}

// ListDecisionHistoryByBot returns a bot's recent decision records,
// newest first (spec §6 decision-history endpoint).
func (d *Database) ListDecisionHistoryByBot(ctx context.Context, botID string, limit int) ([]DecisionHistoryRow, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, bot_id, action, composite, COALESCE(signal_breakdown, ''), temperature,
			promoted, stale_data, COALESCE(reject_reason, ''), snapshot_ts
		FROM decision_history WHERE bot_id = ? ORDER BY snapshot_ts DESC LIMIT ?
	`, botID, limit)
	if err != nil {
		return nil, fmt.Errorf("list decision history: %w", err)
	}
	defer rows.Close()

	var res []DecisionHistoryRow
	for rows.Next() {
		var h DecisionHistoryRow
		if err := rows.Scan(&h.ID, &h.BotID, &h.Action, &h.Composite, &h.SignalBreakdown, &h.Temperature,
			&h.Promoted, &h.StaleData, &h.RejectReason, &h.SnapshotTs); err != nil {
			return nil, fmt.Errorf("scan decision history: %w", err)
		}
		res = append(res, h)
	}
	return res, rows.Err()
}
