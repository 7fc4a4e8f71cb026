package evaluator

import (
	"testing"
	"time"

	"tradecore/internal/bot"
)

func rampUp(n int, start, step float64) []float64 {
	out := make([]float64, n)
	v := start
	for i := range out {
		out[i] = v
		v += step
	}
	return out
}

func testBot() *bot.Bot {
	return &bot.Bot{
		ID: "bot-1",
		SignalConfig: bot.SignalConfig{
			Signals: []bot.SignalWeight{
				{Name: "rsi", Weight: 0.6, Enabled: true, Params: map[string]int{"period": 14}},
				{Name: "ma_cross", Weight: 0.4, Enabled: true, Params: map[string]int{"fast_period": 5, "slow_period": 20}},
			},
			BuyThreshold:        -0.5,
			SellThreshold:       0.5,
			ConfirmationMinutes: 10,
		},
	}
}

func TestEvaluateDeterministic(t *testing.T) {
	e := New()
	closes := rampUp(40, 100, 1)
	now := time.Now()

	b1 := testBot()
	b2 := testBot()
	r1 := e.Evaluate(b1, closes, now, false)
	r2 := e.Evaluate(b2, closes, now, false)

	if r1.Composite != r2.Composite {
		t.Fatalf("expected deterministic composite, got %v vs %v", r1.Composite, r2.Composite)
	}
	if r1.Action != r2.Action {
		t.Fatalf("expected deterministic action, got %v vs %v", r1.Action, r2.Action)
	}
}

func TestEvaluateEmptySignalsHolds(t *testing.T) {
	e := New()
	b := testBot()
	b.SignalConfig.Signals[0].Enabled = false
	b.SignalConfig.Signals[1].Enabled = false

	r := e.Evaluate(b, rampUp(40, 100, 1), time.Now(), false)
	if r.Action != bot.ActionHold {
		t.Fatalf("expected hold when E is empty, got %v", r.Action)
	}
	if r.Composite != 0 {
		t.Fatalf("expected composite 0 when no signals available, got %v", r.Composite)
	}
}

func TestConfirmationWindowRequiresPersistence(t *testing.T) {
	e := New()
	b := testBot()
	closes := rampUp(40, 200, -1) // falling prices -> buy-leaning composite

	now := time.Now()
	r1 := e.Evaluate(b, closes, now, false)
	if r1.Promoted {
		t.Fatalf("expected first agreeing tick to not promote yet")
	}

	// Second tick, 5 minutes later: still short of the 10-minute window.
	r2 := e.Evaluate(b, closes, now.Add(5*time.Minute), false)
	if r2.Promoted {
		t.Fatalf("expected no promotion before confirmation window elapses")
	}

	// Third tick, now 11 minutes after window start: should promote.
	r3 := e.Evaluate(b, closes, now.Add(11*time.Minute), false)
	if !r3.Promoted {
		t.Fatalf("expected promotion once confirmation window elapses")
	}
}

func TestConfirmationWindowResetsOnDisagreement(t *testing.T) {
	e := New()
	b := testBot()
	falling := rampUp(40, 200, -1)
	rising := rampUp(40, 100, 1)

	now := time.Now()
	e.Evaluate(b, falling, now, false)
	if b.PendingAction != bot.ActionBuy {
		t.Fatalf("expected pending buy after falling-price tick")
	}

	// A rising-price tick flips the candidate to sell, resetting the window.
	e.Evaluate(b, rising, now.Add(2*time.Minute), false)
	if b.ConfirmationStart.Equal(now) {
		t.Fatalf("expected confirmation window to reset on disagreement")
	}
}

func TestCompositeBoundedUnitInterval(t *testing.T) {
	e := New()
	b := testBot()
	r := e.Evaluate(b, rampUp(40, 100, 5), time.Now(), false)
	if r.Composite > 1 || r.Composite < -1 {
		t.Fatalf("composite out of bounds: %v", r.Composite)
	}
}

func TestMaxRequiredPeriods(t *testing.T) {
	e := New()
	b := testBot()
	n := e.MaxRequiredPeriods(b.SignalConfig)
	if n < 20 {
		t.Fatalf("expected max required periods to reflect ma_cross slow_period=20, got %d", n)
	}
}
