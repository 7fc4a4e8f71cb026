// Package bot defines the domain model of spec §3: Bot, Tranche, Trade,
// and the position-status lifecycle, generalized from the teacher's
// internal/risk/types.go (RiskConfig/Position shapes) and
// internal/strategy/types.go (per-strategy config) into one bot-centric
// aggregate per spec's data model.
package bot

import "time"

// Status is a bot's run/stop lifecycle (spec §3).
type Status string

const (
	StatusStopped Status = "stopped"
	StatusRunning Status = "running"
)

// PositionStatus is the tranche-accounting state machine (spec §4.8).
type PositionStatus string

const (
	PositionClosed   PositionStatus = "closed"
	PositionBuilding PositionStatus = "building"
	PositionOpen     PositionStatus = "open"
	PositionReducing PositionStatus = "reducing"
	PositionClosing  PositionStatus = "closing"
)

// Action is an evaluator/trade intent.
type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
	ActionHold Action = "hold"
)

// TrancheCloseOrder resolves spec §9's Open Question: FIFO vs
// lowest-entry-first, made explicit per-bot configuration.
type TrancheCloseOrder string

const (
	CloseFIFO             TrancheCloseOrder = "fifo"
	CloseLowestEntryFirst TrancheCloseOrder = "lowest_entry_first"
)

// SignalWeight configures one enabled signal's weight and parameters
// within a bot's composite score (spec §3 signal_config, §4.5).
type SignalWeight struct {
	Name    string         `json:"name" yaml:"name"` // "rsi", "ma_cross", "macd"
	Weight  float64        `json:"weight" yaml:"weight"`
	Enabled bool           `json:"enabled" yaml:"enabled"`
	Params  map[string]int `json:"params" yaml:"params"` // indicator periods
}

// SignalConfig is a bot's full signal-combination configuration.
type SignalConfig struct {
	Signals        []SignalWeight `json:"signals" yaml:"signals"`
	BuyThreshold   float64        `json:"buy_threshold" yaml:"buy_threshold"`   // <= 0
	SellThreshold  float64        `json:"sell_threshold" yaml:"sell_threshold"` // >= 0
	ConfirmationMinutes float64   `json:"confirmation_minutes" yaml:"confirmation_minutes"`
}

// Bot is one configured trading agent (spec §3).
type Bot struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
	Pair string `json:"pair" yaml:"pair"`

	Status Status `json:"status" yaml:"status"`

	PositionSizeUSD  float64 `json:"position_size_usd" yaml:"position_size_usd"`
	MaxPositions     int     `json:"max_positions" yaml:"max_positions"` // == max_position_tranches
	StopLossPct      float64 `json:"stop_loss_pct" yaml:"stop_loss_pct"`
	TakeProfitPct    float64 `json:"take_profit_pct" yaml:"take_profit_pct"`
	CooldownMinutes  float64 `json:"cooldown_minutes" yaml:"cooldown_minutes"`
	TradeStepPct     float64 `json:"trade_step_pct" yaml:"trade_step_pct"`
	PositionCeilingUSD float64 `json:"position_ceiling_usd" yaml:"position_ceiling_usd"`
	TrancheCloseOrder TrancheCloseOrder `json:"tranche_close_order" yaml:"tranche_close_order"`
	TemperatureFloor  Temperature `json:"temperature_floor" yaml:"temperature_floor"`

	SignalConfig SignalConfig `json:"signal_config" yaml:"signal_config"`

	// Live fields (spec §3), mutated only by the evaluator/trade pipeline
	// for this bot, serialized by the Scheduler's per-bot mutex (spec §5).
	CurrentCombinedScore float64        `json:"current_combined_score"`
	Temperature          Temperature    `json:"temperature"`
	PositionTranches     []Tranche      `json:"position_tranches"`
	PositionStatus       PositionStatus `json:"position_status"`

	// Confirmation window state (spec §4.5 step 5).
	PendingAction      Action    `json:"pending_action"`
	ConfirmationStart  time.Time `json:"confirmation_start_ts"`

	LastTradeTs    time.Time `json:"last_trade_ts"`
	LastTradePrice float64   `json:"last_trade_price"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// OpenTranches returns the subset of tranches still open.
func (b *Bot) OpenTranches() []Tranche {
	out := make([]Tranche, 0, len(b.PositionTranches))
	for _, tr := range b.PositionTranches {
		if tr.Status == TrancheOpen {
			out = append(out, tr)
		}
	}
	return out
}

// OpenNotionalUSD sums size_usd across open tranches (spec §3 invariant).
func (b *Bot) OpenNotionalUSD() float64 {
	total := 0.0
	for _, tr := range b.OpenTranches() {
		total += tr.SizeUSD
	}
	return total
}

// Validate checks the invariants of spec §3.
func (b *Bot) Validate() error {
	sum := 0.0
	for _, s := range b.SignalConfig.Signals {
		if s.Enabled {
			sum += s.Weight
		}
	}
	if sum > 1.0+1e-9 {
		return ErrWeightsExceedOne
	}
	if b.StopLossPct <= 0 {
		return ErrStopLossNotPositive
	}
	if b.TakeProfitPct <= 0 {
		return ErrTakeProfitNotPositive
	}
	if b.SignalConfig.BuyThreshold > 0 || b.SignalConfig.SellThreshold < 0 {
		return ErrThresholdsInverted
	}
	return nil
}

// TrancheStatus is the lifecycle of a single tranche.
type TrancheStatus string

const (
	TrancheOpen   TrancheStatus = "open"
	TrancheClosed TrancheStatus = "closed"
)

// Tranche is one buy fill contributing to a bot's aggregate position
// (spec §3).
type Tranche struct {
	ID           string        `json:"id"`
	EntryTradeID string        `json:"entry_trade_id"`
	SizeUSD      float64       `json:"size_usd"`
	EntryPrice   float64       `json:"entry_price"`
	EntryTs      time.Time     `json:"entry_ts"`
	Status       TrancheStatus `json:"status"`
}

// Quantity is the base-currency amount a tranche represents.
func (t Tranche) Quantity() float64 {
	if t.EntryPrice == 0 {
		return 0
	}
	return t.SizeUSD / t.EntryPrice
}

// TradeSide mirrors market.Side to avoid an import-cycle-prone dependency
// from bot -> market for this one enum; keep in sync with market.Side.
type TradeSide string

const (
	TradeBuy  TradeSide = "buy"
	TradeSell TradeSide = "sell"
)

// TradeStatus is a Trade's lifecycle (spec §3).
type TradeStatus string

const (
	TradePending TradeStatus = "pending"
	TradeFilled  TradeStatus = "filled"
	TradeFailed  TradeStatus = "failed"
)

// Trade is a single order submission and its outcome (spec §3).
type Trade struct {
	ID                       string      `json:"id"`
	BotID                    string      `json:"bot_id"`
	Pair                     string      `json:"pair"`
	Side                     TradeSide   `json:"side"`
	Size                     float64     `json:"size"`
	Price                    float64     `json:"price"`
	Fee                      float64     `json:"fee"`
	ExchangeOrderID          string      `json:"exchange_order_id"`
	Status                   TradeStatus `json:"status"`
	CompositeScoreAtDecision float64     `json:"composite_score_at_decision"`
	CreatedTs                time.Time   `json:"created_ts"`
	FilledTs                 time.Time   `json:"filled_ts"`
}

// Temperature is the coarse categorical projection of composite score
// used for dashboards and safety gating (spec §4.5 step 6, canonical
// table resolved in SPEC_FULL.md §4).
type Temperature string

const (
	TempHot    Temperature = "hot"
	TempWarm   Temperature = "warm"
	TempCool   Temperature = "cool"
	TempFrozen Temperature = "frozen"
)

// TemperatureRank orders temperatures from coldest to hottest, so a floor
// check ("reject cool/frozen") can compare ranks (spec §4.6).
func TemperatureRank(t Temperature) int {
	switch t {
	case TempFrozen:
		return 0
	case TempCool:
		return 1
	case TempWarm:
		return 2
	case TempHot:
		return 3
	default:
		return 0
	}
}

// DecisionRecord is the evaluator's per-tick output (spec §4.5 step 7).
type DecisionRecord struct {
	BotID            string             `json:"bot_id"`
	Action           Action             `json:"action"`
	Composite        float64            `json:"composite"`
	SignalBreakdown  []SignalBreakdown  `json:"signal_breakdown"`
	Temperature      Temperature        `json:"temperature"`
	SnapshotTs       time.Time          `json:"snapshot_ts"`
	Promoted         bool               `json:"promoted"`
	StaleData        bool               `json:"stale_data"`
	RejectReason     string             `json:"reject_reason,omitempty"`
}

// SignalBreakdown is one signal's contribution to the composite, kept for
// audit (spec §3 SignalScore metadata).
type SignalBreakdown struct {
	Name     string         `json:"name"`
	Score    float64        `json:"score"`
	Weight   float64        `json:"weight"`
	Metadata map[string]any `json:"metadata,omitempty"`
}
