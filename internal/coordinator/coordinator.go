// Package coordinator implements the Coordinator of spec §4.3: the
// single choke point every bot's market-data request passes through, so
// that N bots watching the same pair produce exactly one upstream call
// per cache miss rather than N.
//
// It composes the two primitives below it — cache.Cache for dedup/TTL
// and ratelimit.Gate for fleet-wide throttling — rather than
// implementing either itself, grounded on the teacher's gateway/manager
// layering (internal/gateway/manager.go composes a connection pool and a
// rate-limited dispatcher the same way).
package coordinator

import (
	"context"
	"fmt"
	"time"

	"tradecore/internal/cache"
	"tradecore/internal/market"
	"tradecore/internal/ratelimit"
)

// Coordinator is the cache-first, rate-gated market-data access point
// used by every bot evaluation (spec §4.3).
type Coordinator struct {
	client market.Client
	cache  *cache.Cache
	gate   *ratelimit.Gate

	tickerTTL   time.Duration
	candlesTTL  time.Duration
	accountsTTL time.Duration
	balanceTTL  time.Duration
}

// New builds a Coordinator over the given market client, cache, and rate
// gate, with the TTLs spec §4.2 assigns to each data kind.
func New(client market.Client, c *cache.Cache, gate *ratelimit.Gate, tickerTTL, candlesTTL, accountsTTL, balanceTTL time.Duration) *Coordinator {
	return &Coordinator{
		client:      client,
		cache:       c,
		gate:        gate,
		tickerTTL:   tickerTTL,
		candlesTTL:  candlesTTL,
		accountsTTL: accountsTTL,
		balanceTTL:  balanceTTL,
	}
}

func tickerKey(pair string) string { return fmt.Sprintf("ticker:%s", pair) }
func candlesKey(pair string, granularitySec, limit int) string {
	return fmt.Sprintf("candles:%s:%d:%d", pair, granularitySec, limit)
}

const accountsKey = "accounts"

func balanceKey(currency string) string { return fmt.Sprintf("balance:%s", currency) }

// Ticker returns the latest ticker for pair, cache-first, falling
// through to the market client via the rate gate on miss (spec §4.3).
func (co *Coordinator) Ticker(ctx context.Context, pair string, p ratelimit.Priority) (market.Ticker, error) {
	v, err := co.cache.GetOrFetch(ctx, tickerKey(pair), func(ctx context.Context) (any, time.Duration, error) {
		if err := co.gate.Acquire(ctx, p); err != nil {
			return nil, 0, err
		}
		t, err := co.client.GetTicker(ctx, pair)
		co.observe(err)
		if err != nil {
			return nil, 0, err
		}
		return t, co.tickerTTL, nil
	})
	if err != nil {
		return market.Ticker{}, err
	}
	return v.(market.Ticker), nil
}

// Candles returns the latest closed candle series for pair (spec §4.3).
func (co *Coordinator) Candles(ctx context.Context, pair string, granularitySec, limit int, p ratelimit.Priority) ([]market.Candle, error) {
	v, err := co.cache.GetOrFetch(ctx, candlesKey(pair, granularitySec, limit), func(ctx context.Context) (any, time.Duration, error) {
		if err := co.gate.Acquire(ctx, p); err != nil {
			return nil, 0, err
		}
		c, err := co.client.GetCandles(ctx, pair, granularitySec, limit)
		co.observe(err)
		if err != nil {
			return nil, 0, err
		}
		return c, co.candlesTTL, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]market.Candle), nil
}

// Accounts returns the full account snapshot (spec §4.3).
func (co *Coordinator) Accounts(ctx context.Context, p ratelimit.Priority) ([]market.AccountBalance, error) {
	v, err := co.cache.GetOrFetch(ctx, accountsKey, func(ctx context.Context) (any, time.Duration, error) {
		if err := co.gate.Acquire(ctx, p); err != nil {
			return nil, 0, err
		}
		a, err := co.client.GetAccounts(ctx)
		co.observe(err)
		if err != nil {
			return nil, 0, err
		}
		return a, co.accountsTTL, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]market.AccountBalance), nil
}

// Balance returns the available balance for currency (spec §4.3).
func (co *Coordinator) Balance(ctx context.Context, currency string, p ratelimit.Priority) (market.Balance, error) {
	v, err := co.cache.GetOrFetch(ctx, balanceKey(currency), func(ctx context.Context) (any, time.Duration, error) {
		if err := co.gate.Acquire(ctx, p); err != nil {
			return nil, 0, err
		}
		b, err := co.client.GetBalance(ctx, currency)
		co.observe(err)
		if err != nil {
			return nil, 0, err
		}
		return b, co.balanceTTL, nil
	})
	if err != nil {
		return market.Balance{}, err
	}
	return v.(market.Balance), nil
}

// observe feeds a call's outcome back into the rate gate's backoff
// state: a rate_limited classification doubles the gate's interval, any
// other success halves it back toward baseline (spec §4.1, §7).
func (co *Coordinator) observe(err error) {
	switch market.ClassifyErr(err) {
	case market.KindRateLimited:
		co.gate.NotifyRateLimited()
	case market.KindOK:
		co.gate.NotifySuccess()
	}
}

// JobKind distinguishes which market-data kind a Batch Job fetches.
type JobKind int

const (
	JobTicker JobKind = iota
	JobCandles
)

// Job requests one market-data key as part of a Batch call. GranularitySec
// and Limit are only meaningful for JobCandles.
type Job struct {
	Kind           JobKind
	Pair           string
	GranularitySec int
	Limit          int
}

// BatchResult is one job's outcome from a Batch call, echoing back the
// Job so the caller can route the Value without re-deriving a cache key.
type BatchResult struct {
	Job   Job
	Value any
	Err   error
}

// Batch fetches the union of requested ticker and candle keys in
// parallel, each one still going through the same
// cache/single-flight/rate-gate path as an individual call (spec §4.3,
// §4.8: "the scheduler builds the union of all keys needed across bots
// for the tick and issues one Coordinator.batch before fanning out").
// The Scheduler is the only intended caller.
func (co *Coordinator) Batch(ctx context.Context, jobs []Job, p ratelimit.Priority) []BatchResult {
	type indexed struct {
		i int
		r BatchResult
	}
	results := make([]BatchResult, len(jobs))
	done := make(chan indexed, len(jobs))
	for i, j := range jobs {
		go func(i int, j Job) {
			var v any
			var err error
			switch j.Kind {
			case JobCandles:
				v, err = co.Candles(ctx, j.Pair, j.GranularitySec, j.Limit, p)
			default:
				v, err = co.Ticker(ctx, j.Pair, p)
			}
			done <- indexed{i, BatchResult{Job: j, Value: v, Err: err}}
		}(i, j)
	}
	for range jobs {
		select {
		case d := <-done:
			results[d.i] = d.r
		case <-ctx.Done():
			// leave remaining slots as their zero BatchResult (nil Value);
			// only jobs that finished before this point carry a result,
			// possibly ctx.Err() — the scheduler treats any unfilled
			// slot as stale data for that tick.
			return results
		}
	}
	return results
}
