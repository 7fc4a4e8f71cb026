// Package evaluator implements the Evaluator of spec §4.5: turns a
// candle snapshot plus a bot's signal_config into a decision record,
// owning all cross-tick state (confirmation window, current score) that
// the pure internal/signals scorers deliberately do not hold.
//
// Grounded on the teacher's internal/strategy/engine.go, which runs each
// registered strategy's OnTick and aggregates emitted signals — here
// generalized to a single weighted-composite score across one bot's
// enabled signals, per spec's re-normalization formula.
package evaluator

import (
	"math"
	"time"

	"tradecore/internal/bot"
	"tradecore/internal/signals"
)

// Evaluator computes decision records for bots from candle snapshots.
type Evaluator struct {
	registry map[string]signals.Signal
}

// New builds an Evaluator over the built-in signal registry.
func New() *Evaluator {
	return &Evaluator{registry: signals.Registry()}
}

// MaxRequiredPeriods returns the largest candle count any enabled signal
// in cfg needs, used by the Scheduler to size its candle fetch (spec
// §4.5 step 1: "max slow period determines candle limit").
func (e *Evaluator) MaxRequiredPeriods(cfg bot.SignalConfig) int {
	max := 0
	for _, sw := range cfg.Signals {
		if !sw.Enabled {
			continue
		}
		s, err := signals.Lookup(sw.Name)
		if err != nil {
			continue
		}
		if n := s.RequiredPeriods(sw.Params); n > max {
			max = n
		}
	}
	if max == 0 {
		max = 1
	}
	return max
}

// Evaluate runs one bot's full evaluation for the tick: scores each
// enabled signal against closes, computes the re-normalized composite,
// maps it to a candidate action, advances the confirmation window held
// on b, and derives temperature (spec §4.5 steps 2-7).
//
// b is mutated in place (PendingAction, ConfirmationStart,
// CurrentCombinedScore, Temperature) — callers must hold the bot's
// per-bot-id lock (spec §5) for the duration of this call.
func (e *Evaluator) Evaluate(b *bot.Bot, closes []float64, snapshotTs time.Time, staleData bool) bot.DecisionRecord {
	breakdown := make([]bot.SignalBreakdown, 0, len(b.SignalConfig.Signals))
	var weightedSum, weightTotal float64

	for _, sw := range b.SignalConfig.Signals {
		if !sw.Enabled {
			continue
		}
		sig, ok := e.registry[sw.Name]
		if !ok {
			continue
		}
		score, available := sig.Score(closes, sw.Params)
		if !available {
			continue
		}
		breakdown = append(breakdown, bot.SignalBreakdown{
			Name:   sw.Name,
			Score:  score,
			Weight: sw.Weight,
		})
		weightedSum += sw.Weight * score
		weightTotal += sw.Weight
	}

	composite := 0.0
	if weightTotal > 0 {
		composite = weightedSum / weightTotal
	}

	candidate := bot.ActionHold
	switch {
	case weightTotal == 0:
		candidate = bot.ActionHold
	case composite <= b.SignalConfig.BuyThreshold:
		candidate = bot.ActionBuy
	case composite >= b.SignalConfig.SellThreshold:
		candidate = bot.ActionSell
	}

	promoted := e.advanceConfirmation(b, candidate, snapshotTs)

	temp := deriveTemperature(composite, b.CurrentCombinedScore, b.SignalConfig.BuyThreshold, b.SignalConfig.SellThreshold)

	b.CurrentCombinedScore = composite
	b.Temperature = temp
	b.UpdatedAt = snapshotTs

	action := bot.ActionHold
	if promoted {
		action = candidate
	}

	return bot.DecisionRecord{
		BotID:           b.ID,
		Action:          action,
		Composite:       composite,
		SignalBreakdown: breakdown,
		Temperature:     temp,
		SnapshotTs:      snapshotTs,
		Promoted:        promoted,
		StaleData:       staleData,
	}
}

// advanceConfirmation implements spec §4.5 step 5: a candidate action
// must persist across consecutive ticks for confirmation_minutes before
// promotion; any disagreeing tick (including hold) resets the window.
func (e *Evaluator) advanceConfirmation(b *bot.Bot, candidate bot.Action, now time.Time) bool {
	if candidate == bot.ActionHold {
		b.PendingAction = bot.ActionHold
		b.ConfirmationStart = time.Time{}
		return false
	}

	if b.PendingAction != candidate || b.ConfirmationStart.IsZero() {
		b.PendingAction = candidate
		b.ConfirmationStart = now
		return false
	}

	elapsed := now.Sub(b.ConfirmationStart)
	threshold := time.Duration(b.SignalConfig.ConfirmationMinutes * float64(time.Minute))
	return elapsed >= threshold
}

// deriveTemperature implements the canonical table resolved for spec
// §9 Open Question #3: hot when |composite| >= 0.7, or when within 10%
// of the nearer configured threshold while the score is trending toward
// it (prevComposite was farther away); warm at >= 0.4; cool at >= 0.15;
// frozen otherwise (including when no signal was available, composite
// == 0 with no thresholds crossed).
func deriveTemperature(composite, prevComposite, buyThreshold, sellThreshold float64) bot.Temperature {
	abs := math.Abs(composite)

	target := buyThreshold
	if composite >= 0 {
		target = sellThreshold
	}
	nearest := math.Abs(target)

	nearThreshold := false
	if nearest > 0 && math.Abs(abs-nearest)/nearest <= 0.10 {
		trendingToward := math.Abs(composite-target) < math.Abs(prevComposite-target)
		nearThreshold = trendingToward
	}

	switch {
	case abs >= 0.7 || nearThreshold:
		return bot.TempHot
	case abs >= 0.4:
		return bot.TempWarm
	case abs >= 0.15:
		return bot.TempCool
	default:
		return bot.TempFrozen
	}
}
