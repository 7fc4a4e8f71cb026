// Package risk implements the SafetyGate of spec §4.6: a stateless
// function over a decision record plus bot/global state that rejects a
// promoted action unless every check passes, each rejection carrying a
// typed reason for observability.
//
// Grounded on the teacher's internal/risk/manager.go check-list idiom
// (sequential named checks accumulating a RiskDecision with a reason and
// a monitoring counter) — generalized from the teacher's
// leverage/exposure/order-size checks onto this spec's cooldown,
// trade-step, tranche-cap, daily-cap, and balance checks.
package risk

import (
	"time"

	"tradecore/internal/bot"
)

// Reason is a typed rejection cause (spec §4.6, §7).
type Reason string

const (
	ReasonNone               Reason = ""
	ReasonCooldown           Reason = "cooldown"
	ReasonTradeStep          Reason = "trade_step"
	ReasonPositionCap        Reason = "position_cap"
	ReasonPositionCeiling    Reason = "position_ceiling"
	ReasonNoOpenTranche      Reason = "no_open_tranche"
	ReasonDailyTradeCap      Reason = "daily_trade_cap"
	ReasonDailyLossCap       Reason = "daily_loss_cap"
	ReasonActivePositionsCap Reason = "active_positions_cap"
	ReasonInsufficientBalance Reason = "insufficient_balance"
	ReasonTemperatureFloor   Reason = "temperature_floor"
)

// Decision is the SafetyGate's verdict on one promoted action.
type Decision struct {
	Allowed bool
	Reason  Reason
}

// GlobalState is the fleet-wide counters the SafetyGate checks against,
// refreshed once per tick by the Scheduler (spec §4.6 daily caps,
// concurrent-positions cap).
type GlobalState struct {
	DailyTrades       int
	DailyLossUSD      float64
	ActivePositions   int
	MaxDailyTrades    int
	MaxDailyLossUSD   float64
	MaxActivePositions int
}

// Intent is the candidate trade the SafetyGate evaluates, derived from a
// promoted bot.DecisionRecord plus current market/account state.
type Intent struct {
	Bot              *bot.Bot
	Action           bot.Action
	CurrentPrice     float64
	IntendedSizeUSD  float64
	QuoteBalance     float64 // available balance in quote currency (USD)
	BaseBalance      float64 // available balance in base currency, in USD terms
	Now              time.Time
}

// Gate evaluates trade intents against per-bot and fleet-wide limits
// (spec §4.6). Its only mutable state is the check/rejection counters
// behind Stats: every check reads from the bot and the GlobalState
// snapshot passed in.
type Gate struct {
	checksTotal     uint64
	rejectionsTotal uint64
}

// New builds a SafetyGate.
func New() *Gate {
	return &Gate{}
}

// Evaluate runs every check in spec §4.6 order, short-circuiting on the
// first failure — each rejection is typed and the decision is not
// retried within the same tick (the caller, the Scheduler, must not loop).
func (g *Gate) Evaluate(intent Intent, global GlobalState) Decision {
	g.checksTotal++

	b := intent.Bot

	if !b.LastTradeTs.IsZero() {
		elapsed := intent.Now.Sub(b.LastTradeTs)
		cooldown := time.Duration(b.CooldownMinutes * float64(time.Minute))
		if elapsed < cooldown {
			return g.reject(ReasonCooldown)
		}
	}

	if !b.LastTradeTs.IsZero() && b.LastTradePrice > 0 {
		moved := abs(intent.CurrentPrice-b.LastTradePrice) / b.LastTradePrice
		if moved < b.TradeStepPct {
			return g.reject(ReasonTradeStep)
		}
	}

	switch intent.Action {
	case bot.ActionBuy:
		open := b.OpenTranches()
		if len(open) >= b.MaxPositions {
			return g.reject(ReasonPositionCap)
		}
		if b.OpenNotionalUSD()+intent.IntendedSizeUSD > b.PositionCeilingUSD {
			return g.reject(ReasonPositionCeiling)
		}
	case bot.ActionSell:
		if len(b.OpenTranches()) == 0 {
			return g.reject(ReasonNoOpenTranche)
		}
	}

	if global.MaxDailyTrades > 0 && global.DailyTrades >= global.MaxDailyTrades {
		return g.reject(ReasonDailyTradeCap)
	}
	if global.MaxDailyLossUSD > 0 && global.DailyLossUSD >= global.MaxDailyLossUSD {
		return g.reject(ReasonDailyLossCap)
	}
	if global.MaxActivePositions > 0 && global.ActivePositions > global.MaxActivePositions {
		return g.reject(ReasonActivePositionsCap)
	}

	switch intent.Action {
	case bot.ActionBuy:
		if intent.QuoteBalance < intent.IntendedSizeUSD {
			return g.reject(ReasonInsufficientBalance)
		}
	case bot.ActionSell:
		if intent.BaseBalance < intent.IntendedSizeUSD {
			return g.reject(ReasonInsufficientBalance)
		}
	}

	if b.TemperatureFloor != "" && bot.TemperatureRank(b.Temperature) < bot.TemperatureRank(b.TemperatureFloor) {
		return g.reject(ReasonTemperatureFloor)
	}

	return Decision{Allowed: true, Reason: ReasonNone}
}

func (g *Gate) reject(reason Reason) Decision {
	g.rejectionsTotal++
	return Decision{Allowed: false, Reason: reason}
}

// Stats exposes rejection counters for the control API.
type Stats struct {
	ChecksTotal     uint64 `json:"checks_total"`
	RejectionsTotal uint64 `json:"rejections_total"`
}

// Stats returns a snapshot of the gate's counters.
func (g *Gate) Stats() Stats {
	return Stats{ChecksTotal: g.checksTotal, RejectionsTotal: g.rejectionsTotal}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
