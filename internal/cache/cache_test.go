package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestGetSetRoundTrip(t *testing.T) {
	c := New()
	c.Set("ticker:BTC-USD", 100.5, time.Minute)
	v, ok := c.Get("ticker:BTC-USD")
	if !ok || v.(float64) != 100.5 {
		t.Fatalf("expected cached value 100.5, got %v ok=%v", v, ok)
	}
}

func TestGetExpired(t *testing.T) {
	c := New()
	c.Set("ticker:BTC-USD", 100.5, time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	if _, ok := c.Get("ticker:BTC-USD"); ok {
		t.Fatalf("expected expired entry to be a miss")
	}
}

func TestGetOrFetchSingleFlight(t *testing.T) {
	c := New()
	var calls int64

	fetch := func(ctx context.Context) (any, time.Duration, error) {
		atomic.AddInt64(&calls, 1)
		time.Sleep(20 * time.Millisecond)
		return 42, time.Minute, nil
	}

	var wg sync.WaitGroup
	results := make([]any, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.GetOrFetch(context.Background(), "candles:BTC-USD:60:50", fetch)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			results[i] = v
		}(i)
	}
	wg.Wait()

	if calls != 1 {
		t.Fatalf("expected exactly 1 upstream fetch, got %d", calls)
	}
	for _, r := range results {
		if r != 42 {
			t.Fatalf("expected all callers to see 42, got %v", r)
		}
	}
}

func TestGetOrFetchFailureDoesNotPoisonKey(t *testing.T) {
	c := New()
	attempt := 0

	fetch := func(ctx context.Context) (any, time.Duration, error) {
		attempt++
		if attempt == 1 {
			return nil, 0, errors.New("transient upstream failure")
		}
		return "ok", time.Minute, nil
	}

	_, err := c.GetOrFetch(context.Background(), "accounts", fetch)
	if err == nil {
		t.Fatalf("expected first fetch to fail")
	}

	v, err := c.GetOrFetch(context.Background(), "accounts", fetch)
	if err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if v != "ok" {
		t.Fatalf("expected ok, got %v", v)
	}
}

func TestInvalidatePrefix(t *testing.T) {
	c := New()
	c.Set("candles:BTC-USD:60:50", 1, time.Minute)
	c.Set("candles:ETH-USD:60:50", 2, time.Minute)
	c.Set("ticker:BTC-USD", 3, time.Minute)

	c.Invalidate("candles:")

	if _, ok := c.Get("candles:BTC-USD:60:50"); ok {
		t.Fatalf("expected candles:BTC-USD to be invalidated")
	}
	if _, ok := c.Get("candles:ETH-USD:60:50"); ok {
		t.Fatalf("expected candles:ETH-USD to be invalidated")
	}
	if _, ok := c.Get("ticker:BTC-USD"); !ok {
		t.Fatalf("expected ticker:BTC-USD to survive invalidation")
	}
}
