package db

import "time"

// BotRow is a bot's persisted row: identity/config columns plus the live
// fields mutated every tick (spec §3). ConfigJSON holds the marshaled
// bot.SignalConfig plus the static risk-cap fields that don't warrant
// their own columns.
type BotRow struct {
	ID                   string
	Name                 string
	Pair                 string
	Status               string
	ConfigJSON           string
	CurrentCombinedScore float64
	Temperature          string
	PositionStatus       string
	PendingAction        string
	ConfirmationStartTs  *time.Time
	LastTradeTs          *time.Time
	LastTradePrice       float64
	TrancheCloseOrder    string
	TemperatureFloor     string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// TrancheRow is a tranche's persisted row (spec §3).
type TrancheRow struct {
	ID           string
	BotID        string
	EntryTradeID string
	SizeUSD      float64
	EntryPrice   float64
	EntryTs      time.Time
	Status       string
}

// TradeRow is a trade's persisted row (spec §3).
type TradeRow struct {
	ID                       string
	BotID                    string
	Pair                     string
	Side                     string
	Size                     float64
	Price                    float64
	Fee                      float64
	ExchangeOrderID          string
	Status                   string
	CompositeScoreAtDecision float64
	CreatedTs                time.Time
	FilledTs                 *time.Time
}

// DecisionHistoryRow is one audited evaluator output (spec §4.5 step 7,
// the teacher's decision_history generalization — see SPEC_FULL.md).
type DecisionHistoryRow struct {
	ID              int64
	BotID           string
	Action          string
	Composite       float64
	SignalBreakdown string
	Temperature     string
	Promoted        bool
	StaleData       bool
	RejectReason    string
	SnapshotTs      time.Time
}
