// Store persistence for the Bot aggregate, bridging domain types to
// pkg/db's row shapes. Grounded on the teacher's pattern of a thin
// marshal/unmarshal layer around *db.Database (internal/strategy's use
// of config_loader.go's JSON parameter blob alongside typed columns).
package bot

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"tradecore/pkg/db"
)

// Store persists and retrieves Bot aggregates.
type Store struct {
	db *db.Database
}

// NewStore wraps a *db.Database as a bot Store.
func NewStore(d *db.Database) *Store {
	return &Store{db: d}
}

// configBlob is the JSON-serialized portion of a Bot that doesn't
// warrant its own SQL column.
type configBlob struct {
	PositionSizeUSD  float64      `json:"position_size_usd"`
	MaxPositions     int          `json:"max_positions"`
	StopLossPct      float64      `json:"stop_loss_pct"`
	TakeProfitPct    float64      `json:"take_profit_pct"`
	CooldownMinutes  float64      `json:"cooldown_minutes"`
	TradeStepPct     float64      `json:"trade_step_pct"`
	PositionCeiling  float64      `json:"position_ceiling_usd"`
	SignalConfig     SignalConfig `json:"signal_config"`
}

func toRow(b *Bot) (db.BotRow, error) {
	blob, err := json.Marshal(configBlob{
		PositionSizeUSD: b.PositionSizeUSD,
		MaxPositions:    b.MaxPositions,
		StopLossPct:     b.StopLossPct,
		TakeProfitPct:   b.TakeProfitPct,
		CooldownMinutes: b.CooldownMinutes,
		TradeStepPct:    b.TradeStepPct,
		PositionCeiling: b.PositionCeilingUSD,
		SignalConfig:    b.SignalConfig,
	})
	if err != nil {
		return db.BotRow{}, fmt.Errorf("marshal bot config: %w", err)
	}

	var confirmTs *time.Time
	if !b.ConfirmationStart.IsZero() {
		t := b.ConfirmationStart
		confirmTs = &t
	}
	var lastTradeTs *time.Time
	if !b.LastTradeTs.IsZero() {
		t := b.LastTradeTs
		lastTradeTs = &t
	}

	return db.BotRow{
		ID:                   b.ID,
		Name:                 b.Name,
		Pair:                 b.Pair,
		Status:               string(b.Status),
		ConfigJSON:           string(blob),
		CurrentCombinedScore: b.CurrentCombinedScore,
		Temperature:          string(b.Temperature),
		PositionStatus:       string(b.PositionStatus),
		PendingAction:        string(b.PendingAction),
		ConfirmationStartTs:  confirmTs,
		LastTradeTs:          lastTradeTs,
		LastTradePrice:       b.LastTradePrice,
		TrancheCloseOrder:    string(b.TrancheCloseOrder),
		TemperatureFloor:     string(b.TemperatureFloor),
		CreatedAt:            b.CreatedAt,
		UpdatedAt:            b.UpdatedAt,
	}, nil
}

func fromRow(row db.BotRow, tranches []Tranche) (*Bot, error) {
	var blob configBlob
	if err := json.Unmarshal([]byte(row.ConfigJSON), &blob); err != nil {
		return nil, fmt.Errorf("unmarshal bot config: %w", err)
	}

	b := &Bot{
		ID:                   row.ID,
		Name:                 row.Name,
		Pair:                 row.Pair,
		Status:               Status(row.Status),
		PositionSizeUSD:      blob.PositionSizeUSD,
		MaxPositions:         blob.MaxPositions,
		StopLossPct:          blob.StopLossPct,
		TakeProfitPct:        blob.TakeProfitPct,
		CooldownMinutes:      blob.CooldownMinutes,
		TradeStepPct:         blob.TradeStepPct,
		PositionCeilingUSD:   blob.PositionCeiling,
		TrancheCloseOrder:    TrancheCloseOrder(row.TrancheCloseOrder),
		TemperatureFloor:     Temperature(row.TemperatureFloor),
		SignalConfig:         blob.SignalConfig,
		CurrentCombinedScore: row.CurrentCombinedScore,
		Temperature:          Temperature(row.Temperature),
		PositionTranches:     tranches,
		PositionStatus:       PositionStatus(row.PositionStatus),
		PendingAction:        Action(row.PendingAction),
		LastTradePrice:       row.LastTradePrice,
		CreatedAt:            row.CreatedAt,
		UpdatedAt:            row.UpdatedAt,
	}
	if row.ConfirmationStartTs != nil {
		b.ConfirmationStart = *row.ConfirmationStartTs
	}
	if row.LastTradeTs != nil {
		b.LastTradeTs = *row.LastTradeTs
	}
	return b, nil
}

// Save upserts a Bot and its tranche list.
func (s *Store) Save(ctx context.Context, b *Bot) error {
	row, err := toRow(b)
	if err != nil {
		return err
	}
	if err := s.db.UpsertBot(ctx, row); err != nil {
		return fmt.Errorf("save bot: %w", err)
	}
	for _, tr := range b.PositionTranches {
		if err := s.db.UpsertTranche(ctx, db.TrancheRow{
			ID: tr.ID, BotID: b.ID, EntryTradeID: tr.EntryTradeID,
			SizeUSD: tr.SizeUSD, EntryPrice: tr.EntryPrice, EntryTs: tr.EntryTs,
			Status: string(tr.Status),
		}); err != nil {
			return fmt.Errorf("save tranche %s: %w", tr.ID, err)
		}
	}
	return nil
}

// Get loads a Bot and its tranches by ID.
func (s *Store) Get(ctx context.Context, id string) (*Bot, error) {
	row, err := s.db.GetBot(ctx, id)
	if err != nil {
		if err == db.ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, err
	}
	tranches, err := s.loadTranches(ctx, id)
	if err != nil {
		return nil, err
	}
	return fromRow(row, tranches)
}

// List loads every bot and its tranches.
func (s *Store) List(ctx context.Context) ([]*Bot, error) {
	rows, err := s.db.ListBots(ctx)
	if err != nil {
		return nil, err
	}
	bots := make([]*Bot, 0, len(rows))
	for _, row := range rows {
		tranches, err := s.loadTranches(ctx, row.ID)
		if err != nil {
			return nil, err
		}
		b, err := fromRow(row, tranches)
		if err != nil {
			return nil, err
		}
		bots = append(bots, b)
	}
	return bots, nil
}

// ListRunning loads every bot with status == running, for the Scheduler.
func (s *Store) ListRunning(ctx context.Context) ([]*Bot, error) {
	rows, err := s.db.ListRunningBots(ctx)
	if err != nil {
		return nil, err
	}
	bots := make([]*Bot, 0, len(rows))
	for _, row := range rows {
		tranches, err := s.loadTranches(ctx, row.ID)
		if err != nil {
			return nil, err
		}
		b, err := fromRow(row, tranches)
		if err != nil {
			return nil, err
		}
		bots = append(bots, b)
	}
	return bots, nil
}

// SetStatus starts or stops a bot (spec §6).
func (s *Store) SetStatus(ctx context.Context, id string, status Status) error {
	if err := s.db.SetBotStatus(ctx, id, string(status)); err != nil {
		if err == db.ErrNotFound {
			return ErrNotFound
		}
		return err
	}
	return nil
}

// Delete removes a bot and its tranches (control API delete, spec §6).
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.db.DeleteBot(ctx, id); err != nil {
		if err == db.ErrNotFound {
			return ErrNotFound
		}
		return err
	}
	return nil
}

func (s *Store) loadTranches(ctx context.Context, botID string) ([]Tranche, error) {
	rows, err := s.db.ListTranchesByBot(ctx, botID)
	if err != nil {
		return nil, err
	}
	out := make([]Tranche, 0, len(rows))
	for _, r := range rows {
		out = append(out, Tranche{
			ID: r.ID, EntryTradeID: r.EntryTradeID, SizeUSD: r.SizeUSD,
			EntryPrice: r.EntryPrice, EntryTs: r.EntryTs, Status: TrancheStatus(r.Status),
		})
	}
	return out, nil
}

// RecordTrade persists a Trade row.
func (s *Store) RecordTrade(ctx context.Context, t Trade) error {
	return s.db.CreateTrade(ctx, db.TradeRow{
		ID: t.ID, BotID: t.BotID, Pair: t.Pair, Side: string(t.Side), Size: t.Size,
		Price: t.Price, Fee: t.Fee, ExchangeOrderID: t.ExchangeOrderID, Status: string(t.Status),
		CompositeScoreAtDecision: t.CompositeScoreAtDecision, CreatedTs: t.CreatedTs,
	})
}

// UpdateTradeFill marks a trade filled or failed.
func (s *Store) UpdateTradeFill(ctx context.Context, tradeID, status string, price, fee float64, exchangeOrderID string, filledTs time.Time) error {
	var nt *sql.NullTime
	if !filledTs.IsZero() {
		nt = &sql.NullTime{Time: filledTs, Valid: true}
	}
	return s.db.UpdateTradeStatus(ctx, tradeID, status, price, fee, exchangeOrderID, nt)
}

// RecordDecision persists a decision record for audit (spec §4.5 step 7).
func (s *Store) RecordDecision(ctx context.Context, d DecisionRecord) error {
	breakdown, err := json.Marshal(d.SignalBreakdown)
	if err != nil {
		return fmt.Errorf("marshal signal breakdown: %w", err)
	}
	return s.db.InsertDecisionHistory(ctx, db.DecisionHistoryRow{
		BotID: d.BotID, Action: string(d.Action), Composite: d.Composite,
		SignalBreakdown: string(breakdown), Temperature: string(d.Temperature),
		Promoted: d.Promoted, StaleData: d.StaleData, RejectReason: d.RejectReason,
		SnapshotTs: d.SnapshotTs,
	})
}

// DecisionHistory returns a bot's recent decision records, newest first.
func (s *Store) DecisionHistory(ctx context.Context, botID string, limit int) ([]DecisionRecord, error) {
	rows, err := s.db.ListDecisionHistoryByBot(ctx, botID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]DecisionRecord, 0, len(rows))
	for _, r := range rows {
		var breakdown []SignalBreakdown
		_ = json.Unmarshal([]byte(r.SignalBreakdown), &breakdown)
		out = append(out, DecisionRecord{
			BotID: r.BotID, Action: Action(r.Action), Composite: r.Composite,
			SignalBreakdown: breakdown, Temperature: Temperature(r.Temperature),
			SnapshotTs: r.SnapshotTs, Promoted: r.Promoted, StaleData: r.StaleData,
			RejectReason: r.RejectReason,
		})
	}
	return out, nil
}

// TradeHistory returns a bot's recent trades, newest first.
func (s *Store) TradeHistory(ctx context.Context, botID string, limit int) ([]Trade, error) {
	rows, err := s.db.ListTradesByBot(ctx, botID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]Trade, 0, len(rows))
	for _, r := range rows {
		t := Trade{
			ID: r.ID, BotID: r.BotID, Pair: r.Pair, Side: TradeSide(r.Side), Size: r.Size,
			Price: r.Price, Fee: r.Fee, ExchangeOrderID: r.ExchangeOrderID,
			Status: TradeStatus(r.Status), CompositeScoreAtDecision: r.CompositeScoreAtDecision,
			CreatedTs: r.CreatedTs,
		}
		if r.FilledTs != nil {
			t.FilledTs = *r.FilledTs
		}
		out = append(out, t)
	}
	return out, nil
}

// DailyTradeCount returns how many filled trades were created since
// midnight UTC of now's calendar date. The Scheduler's daily-cap check
// uses its own in-memory counters, not this count.
func (s *Store) DailyTradeCount(ctx context.Context, now time.Time) (int, error) {
	since := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return s.db.CountTradesSince(ctx, since)
}
