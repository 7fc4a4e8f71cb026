package signals

import "testing"

func rampUp(n int, start, step float64) []float64 {
	out := make([]float64, n)
	v := start
	for i := range out {
		out[i] = v
		v += step
	}
	return out
}

func TestRSISignalBounds(t *testing.T) {
	s := RSISignal{}
	closes := rampUp(30, 100, 1) // strictly rising: RSI saturates near 100
	score, ok := s.Score(closes, nil)
	if !ok {
		t.Fatalf("expected sufficient data")
	}
	if score > 1 || score < -1 {
		t.Fatalf("score out of bounds: %v", score)
	}
	if score <= 0 {
		t.Fatalf("expected strongly rising prices to score positive (overbought -> sell pressure), got %v", score)
	}
}

func TestRSISignalInsufficientData(t *testing.T) {
	s := RSISignal{}
	if _, ok := s.Score([]float64{1, 2, 3}, map[string]int{"period": 14}); ok {
		t.Fatalf("expected insufficient-data miss")
	}
}

func TestMACrossSignalSign(t *testing.T) {
	s := MACrossSignal{}
	closes := rampUp(40, 100, 1) // rising: fast MA above slow MA -> positive
	score, ok := s.Score(closes, map[string]int{"fast_period": 5, "slow_period": 20})
	if !ok {
		t.Fatalf("expected sufficient data")
	}
	if score <= 0 {
		t.Fatalf("expected positive score for uptrend, got %v", score)
	}
	if score > 1 {
		t.Fatalf("score exceeds upper bound: %v", score)
	}
}

func TestMACDSignalBounds(t *testing.T) {
	s := MACDSignal{}
	closes := rampUp(60, 100, 0.5)
	score, ok := s.Score(closes, nil)
	if !ok {
		t.Fatalf("expected sufficient data")
	}
	if score > 1 || score < -1 {
		t.Fatalf("score out of bounds: %v", score)
	}
}

func TestRegistryLookup(t *testing.T) {
	if _, err := Lookup("rsi"); err != nil {
		t.Fatalf("expected rsi to resolve: %v", err)
	}
	if _, err := Lookup("nonexistent"); err == nil {
		t.Fatalf("expected error for unknown signal")
	}
}

func TestRequiredPeriodsPositive(t *testing.T) {
	for name, s := range Registry() {
		if n := s.RequiredPeriods(nil); n <= 0 {
			t.Fatalf("%s: expected positive required periods, got %d", name, n)
		}
	}
}
