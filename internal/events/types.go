package events

// Event enumerates high-level topics inside the trading core.
type Event string

const (
	// EventDecisionRecorded fires once per bot per tick, carrying the
	// evaluator's output (spec §4.5 step 7): composite score, action,
	// temperature, and per-signal breakdown.
	EventDecisionRecorded Event = "decision.recorded"

	// EventTradeSubmitted/Filled/Failed track a Trade's lifecycle
	// (spec §3 Trade.status transitions).
	EventTradeSubmitted Event = "trade.submitted"
	EventTradeFilled    Event = "trade.filled"
	EventTradeFailed    Event = "trade.failed"

	// EventSafetyRejected fires when SafetyGate rejects a promoted action.
	EventSafetyRejected Event = "safety.rejected"

	// EventBotStopped fires when an emergency stop has liquidated a bot's
	// open tranches.
	EventBotStopped Event = "bot.stopped"

	// EventRateGateBackoff names RateGate backoff transitions. The RateGate
	// holds no bus, and nothing in this module publishes it.
	EventRateGateBackoff Event = "rategate.backoff"
)
