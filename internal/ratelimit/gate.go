// Package ratelimit implements the global RateGate (spec §4.1): a token
// bucket shared across the whole bot fleet, with priority preemption and
// exponential backoff on observed upstream rate-limit responses.
//
// Grounded on the teacher's two rate-limiting idioms: the hand-rolled
// weight tracker in pkg/exchanges/common/ratelimit.go, and the
// golang.org/x/time/rate per-IP limiter in internal/api/middleware.go. This
// gate uses x/time/rate for the token-bucket mechanics and layers a
// priority queue and backoff multiplier on top, since x/time/rate alone has
// no notion of caller priority or upstream-observed backoff.
package ratelimit

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Priority orders waiters; higher value wins ties go to earlier arrival.
type Priority int

const (
	BACKGROUND Priority = iota
	MARKET_DATA
	BOT_EVALUATION
	TRADING
)

// Stats exposes RateGate counters for the control API (spec §6).
type Stats struct {
	CallsServed      uint64
	CallsDenied      uint64
	CurrentIntervalMs int64
	BaseIntervalMs    int64
	InBackoff         bool
}

// Gate is the global token bucket described in spec §4.1.
type Gate struct {
	mu sync.Mutex

	limiter *rate.Limiter
	base    rate.Limit // tokens/sec at the configured base rate
	burst   int

	// backoff state: current minimum inter-token interval, doubled on a
	// rate-limited response and halved on each subsequent success, bounded
	// below by the base interval and above by backoffCeiling.
	baseInterval    time.Duration
	currentInterval time.Duration
	backoffCeiling  time.Duration

	served uint64
	denied uint64

	waiters waiterHeap
	seq     int64
}

// New builds a Gate allowing ratePerMinute calls/minute with the given
// burst capacity (spec default: burst == rate).
func New(ratePerMinute, burst int) *Gate {
	if ratePerMinute <= 0 {
		ratePerMinute = 9
	}
	if burst <= 0 {
		burst = ratePerMinute
	}
	perSec := rate.Limit(float64(ratePerMinute) / 60.0)
	baseInterval := time.Minute / time.Duration(ratePerMinute)

	g := &Gate{
		limiter:         rate.NewLimiter(perSec, burst),
		base:            perSec,
		burst:           burst,
		baseInterval:    baseInterval,
		currentInterval: baseInterval,
		backoffCeiling:  60 * time.Second,
	}
	heap.Init(&g.waiters)
	return g
}

// Acquire blocks until a token is available for the given priority, or ctx
// is cancelled. Higher-priority callers preempt lower-priority ones that
// arrived earlier; ties break by arrival order (spec §4.1).
func (g *Gate) Acquire(ctx context.Context, p Priority) error {
	g.mu.Lock()
	g.seq++
	w := &waiter{priority: p, seq: g.seq}
	heap.Push(&g.waiters, w)
	g.mu.Unlock()

	// Block until this waiter reaches the front of the priority queue AND
	// the underlying limiter yields a token, honoring the gate's current
	// backoff-adjusted rate.
	for {
		g.mu.Lock()
		// The token is taken with a non-blocking Allow while g.mu is held,
		// so a higher-priority waiter pushed meanwhile becomes the front
		// and is served first.
		if g.waiters.Len() > 0 && g.waiters[0] == w && g.effectiveLimiter().Allow() {
			g.removeWaiter(w)
			g.served++
			g.mu.Unlock()
			return nil
		}
		g.mu.Unlock()

		select {
		case <-ctx.Done():
			g.mu.Lock()
			g.removeWaiter(w)
			g.denied++
			g.mu.Unlock()
			return ctx.Err()
		case <-time.After(5 * time.Millisecond):
			// re-check queue position and token availability; the waiter
			// ahead of us may have been cancelled or served in the meantime
		}
	}
}

// effectiveLimiter returns a limiter whose rate reflects the current
// backoff interval; called with g.mu held.
func (g *Gate) effectiveLimiter() *rate.Limiter {
	if g.currentInterval <= g.baseInterval {
		return g.limiter
	}
	adjusted := rate.Every(g.currentInterval)
	g.limiter.SetLimit(adjusted)
	return g.limiter
}

func (g *Gate) removeWaiter(w *waiter) {
	for i, x := range g.waiters {
		if x == w {
			heap.Remove(&g.waiters, i)
			return
		}
	}
}

// NotifyRateLimited records an upstream rate-limit response (spec §4.1,
// §7 "rate_limited ... consumed by backoff"): doubles the minimum
// inter-token interval up to backoffCeiling.
func (g *Gate) NotifyRateLimited() {
	g.mu.Lock()
	defer g.mu.Unlock()
	next := g.currentInterval * 2
	if next > g.backoffCeiling {
		next = g.backoffCeiling
	}
	g.currentInterval = next
	g.limiter.SetLimit(rate.Every(g.currentInterval))
}

// NotifySuccess records a successful upstream call: halves the current
// backoff interval, bounded below by the base rate (spec S4).
func (g *Gate) NotifySuccess() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.currentInterval <= g.baseInterval {
		return
	}
	next := g.currentInterval / 2
	if next < g.baseInterval {
		next = g.baseInterval
	}
	g.currentInterval = next
	if g.currentInterval <= g.baseInterval {
		g.limiter.SetLimit(g.base)
	} else {
		g.limiter.SetLimit(rate.Every(g.currentInterval))
	}
}

// Stats returns a snapshot of the gate's counters.
func (g *Gate) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Stats{
		CallsServed:       g.served,
		CallsDenied:       g.denied,
		CurrentIntervalMs: g.currentInterval.Milliseconds(),
		BaseIntervalMs:    g.baseInterval.Milliseconds(),
		InBackoff:         g.currentInterval > g.baseInterval,
	}
}

// waiter is one pending Acquire call.
type waiter struct {
	priority Priority
	seq      int64
}

// waiterHeap is a max-heap on (priority, -seq): higher priority first,
// ties broken by earlier arrival (spec §4.1).
type waiterHeap []*waiter

func (h waiterHeap) Len() int { return len(h) }
func (h waiterHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h waiterHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *waiterHeap) Push(x any)   { *h = append(*h, x.(*waiter)) }
func (h *waiterHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
