package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestAcquireServesHighestPriorityFirst(t *testing.T) {
	g := New(60, 1) // 1 token/sec, burst 1 so only one caller proceeds at a time

	// Drain the initial burst token.
	if err := g.Acquire(context.Background(), BACKGROUND); err != nil {
		t.Fatalf("initial acquire: %v", err)
	}

	var mu sync.Mutex
	var order []string
	var wg sync.WaitGroup

	// Queue a BACKGROUND and a TRADING waiter together; TRADING should be
	// served first whichever of the two enqueues first (spec §4.1
	// priority preemption).
	start := make(chan struct{})
	for _, p := range []struct {
		name string
		pr   Priority
	}{{"background", BACKGROUND}, {"trading", TRADING}} {
		wg.Add(1)
		go func(name string, pr Priority) {
			defer wg.Done()
			<-start
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			if err := g.Acquire(ctx, pr); err != nil {
				t.Errorf("acquire %s: %v", name, err)
				return
			}
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
		}(p.name, p.pr)
		time.Sleep(20 * time.Millisecond) // let the goroutine reach <-start; both are released together
	}
	close(start)
	wg.Wait()

	if len(order) != 2 || order[0] != "trading" {
		t.Fatalf("expected trading to be served first, got %v", order)
	}
}

func TestBackoffDoublesAndHalves(t *testing.T) {
	g := New(60, 60)
	base := g.baseInterval

	g.NotifyRateLimited()
	if g.currentInterval != base*2 {
		t.Fatalf("expected interval doubled to %v, got %v", base*2, g.currentInterval)
	}

	g.NotifySuccess()
	if g.currentInterval != base {
		t.Fatalf("expected interval back to base %v, got %v", base, g.currentInterval)
	}
}

func TestBackoffCeiling(t *testing.T) {
	g := New(60, 60)
	g.backoffCeiling = 4 * g.baseInterval

	for i := 0; i < 10; i++ {
		g.NotifyRateLimited()
	}
	if g.currentInterval != g.backoffCeiling {
		t.Fatalf("expected interval capped at ceiling %v, got %v", g.backoffCeiling, g.currentInterval)
	}
}

func TestStatsReflectsBackoff(t *testing.T) {
	g := New(60, 60)
	if g.Stats().InBackoff {
		t.Fatalf("expected not in backoff initially")
	}
	g.NotifyRateLimited()
	if !g.Stats().InBackoff {
		t.Fatalf("expected in backoff after NotifyRateLimited")
	}
}
