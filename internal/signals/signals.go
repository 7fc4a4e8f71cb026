// Package signals implements the pure-function indicator scorers of spec
// §4.4: each signal consumes a closed candle series and produces a score
// in [-1, +1], with no side effects and no held state — a deliberate
// departure from the teacher's stateful per-strategy OnTick idiom
// (internal/strategy/rsi.go, ma_cross.go), which tracked prevSignal and
// rolling buffers inside the strategy struct. Here the Evaluator owns all
// state (spec §4.5); a signal is just math over a slice.
//
// The underlying indicator math (RSI, SMA) is grounded on the teacher's
// internal/indicators/{rsi,ma}.go.
package signals

import "fmt"

// Signal computes a bounded score from a candle series. Name identifies
// it in a bot's signal_config and in decision-record audit trails.
type Signal interface {
	Name() string
	// RequiredPeriods is the minimum candle count needed to produce a
	// non-zero-confidence score (spec §4.4 required_periods).
	RequiredPeriods(params map[string]int) int
	// Score returns a value in [-1, +1]: negative favors buy, positive
	// favors sell. closes is oldest-to-newest. Returns (0, false) if
	// insufficient history is available.
	Score(closes []float64, params map[string]int) (float64, bool)
}

// clamp bounds v to [-1, 1], guarding against floating point drift in the
// scoring formulas below (spec §4.4 invariant: scores ∈ [-1, +1]).
func clamp(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}

func intParam(params map[string]int, key string, def int) int {
	if params == nil {
		return def
	}
	if v, ok := params[key]; ok && v > 0 {
		return v
	}
	return def
}

// sma is the simple moving average of the last period values of values,
// grounded on indicators.SMA.
func sma(values []float64, period int) float64 {
	if period <= 0 || len(values) < period {
		return 0
	}
	sum := 0.0
	for i := len(values) - period; i < len(values); i++ {
		sum += values[i]
	}
	return sum / float64(period)
}

// rsiValue computes a Wilder-style RSI over the trailing period changes,
// grounded on indicators.RSI.
func rsiValue(values []float64, period int) float64 {
	if period <= 0 || len(values) < period+1 {
		return 50
	}
	gain, loss := 0.0, 0.0
	for i := len(values) - period; i < len(values); i++ {
		change := values[i] - values[i-1]
		if change > 0 {
			gain += change
		} else {
			loss -= change
		}
	}
	if loss == 0 {
		return 100
	}
	rs := gain / loss
	return 100 - (100 / (1 + rs))
}

// RSISignal scores overbought/oversold RSI readings. Score is linear
// between the oversold and overbought thresholds: fully oversold maps to
// -1 (buy pressure), fully overbought maps to +1 (spec §4.4).
type RSISignal struct{}

func (RSISignal) Name() string { return "rsi" }

func (RSISignal) RequiredPeriods(params map[string]int) int {
	return intParam(params, "period", 14) + 1
}

func (RSISignal) Score(closes []float64, params map[string]int) (float64, bool) {
	period := intParam(params, "period", 14)
	oversold := float64(intParam(params, "oversold", 30))
	overbought := float64(intParam(params, "overbought", 70))
	if len(closes) < period+1 {
		return 0, false
	}
	rsi := rsiValue(closes, period)

	mid := (oversold + overbought) / 2
	half := (overbought - oversold) / 2
	if half <= 0 {
		return 0, false
	}
	// rsi == oversold -> -1, rsi == overbought -> +1, linear between.
	score := (rsi - mid) / half
	return clamp(score), true
}

// MACrossSignal scores the normalized gap between a fast and slow moving
// average: positive when the fast MA is above the slow MA (golden-cross
// territory), negative when below (spec §4.4), replacing the teacher's
// discrete golden/death-cross event detection with a continuous score.
type MACrossSignal struct{}

func (MACrossSignal) Name() string { return "ma_cross" }

func (MACrossSignal) RequiredPeriods(params map[string]int) int {
	return intParam(params, "slow_period", 30)
}

func (MACrossSignal) Score(closes []float64, params map[string]int) (float64, bool) {
	fast := intParam(params, "fast_period", 10)
	slow := intParam(params, "slow_period", 30)
	if len(closes) < slow {
		return 0, false
	}
	fastMA := sma(closes, fast)
	slowMA := sma(closes, slow)
	if slowMA == 0 {
		return 0, false
	}
	// Normalize the gap as a fraction of the slow MA, scaled so a 2%
	// divergence already saturates the score — crossovers are decisive
	// events, not small drifts.
	gap := (fastMA - slowMA) / slowMA
	const scale = 50.0 // 1/0.02
	return clamp(gap * scale), true
}

// MACDSignal scores the MACD histogram (MACD line minus its signal-line
// EMA), normalized by price level (spec §4.4).
type MACDSignal struct{}

func (MACDSignal) Name() string { return "macd" }

func (MACDSignal) RequiredPeriods(params map[string]int) int {
	slow := intParam(params, "slow_period", 26)
	signalP := intParam(params, "signal_period", 9)
	return slow + signalP
}

func (MACDSignal) Score(closes []float64, params map[string]int) (float64, bool) {
	fast := intParam(params, "fast_period", 12)
	slow := intParam(params, "slow_period", 26)
	signalP := intParam(params, "signal_period", 9)
	if len(closes) < slow+signalP {
		return 0, false
	}

	macdLine := ema(closes, fast)
	slowEMA := ema(closes, slow)
	for i := range macdLine {
		macdLine[i] -= slowEMA[i]
	}
	signalLine := ema(macdLine, signalP)
	hist := macdLine[len(macdLine)-1] - signalLine[len(signalLine)-1]

	price := closes[len(closes)-1]
	if price == 0 {
		return 0, false
	}
	// Histogram as a fraction of price, saturating at 0.5% divergence.
	normalized := hist / price
	const scale = 200.0 // 1/0.005
	return clamp(normalized * scale), true
}

// ema computes the exponential moving average series for period over
// values, returned with the same length as values (the first entry is
// seeded with the SMA of the first period values).
func ema(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 || period <= 0 {
		return out
	}
	k := 2.0 / (float64(period) + 1.0)
	seed := sma(values[:min(period, len(values))], min(period, len(values)))
	out[0] = seed
	prev := seed
	for i := 1; i < len(values); i++ {
		prev = values[i]*k + prev*(1-k)
		out[i] = prev
	}
	return out
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// Registry returns every built-in signal keyed by name, used by the
// Evaluator to resolve a bot's signal_config entries (spec §3).
func Registry() map[string]Signal {
	return map[string]Signal{
		"rsi":      RSISignal{},
		"ma_cross": MACrossSignal{},
		"macd":     MACDSignal{},
	}
}

// Lookup resolves a signal by name or returns an error naming the unknown
// signal, so bot configuration errors are actionable.
func Lookup(name string) (Signal, error) {
	if s, ok := Registry()[name]; ok {
		return s, nil
	}
	return nil, fmt.Errorf("signals: unknown signal %q", name)
}
