package coordinator

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"tradecore/internal/cache"
	"tradecore/internal/market"
	"tradecore/internal/ratelimit"
)

// countingClient wraps MockClient to count upstream ticker calls.
type countingClient struct {
	*market.MockClient
	calls atomic.Int64
}

func (c *countingClient) GetTicker(ctx context.Context, pair string) (market.Ticker, error) {
	c.calls.Add(1)
	return c.MockClient.GetTicker(ctx, pair)
}

func newTestCoordinator(client market.Client) *Coordinator {
	return New(client, cache.New(), ratelimit.New(600, 600), time.Second, time.Second, time.Second, time.Second)
}

func TestTickerDedupsConcurrentCallers(t *testing.T) {
	cc := &countingClient{MockClient: market.NewMockClient()}
	co := newTestCoordinator(cc)

	done := make(chan struct{}, 20)
	for i := 0; i < 20; i++ {
		go func() {
			if _, err := co.Ticker(context.Background(), "BTC-USD", ratelimit.BOT_EVALUATION); err != nil {
				t.Errorf("ticker: %v", err)
			}
			done <- struct{}{}
		}()
	}
	for i := 0; i < 20; i++ {
		<-done
	}

	if cc.calls.Load() != 1 {
		t.Fatalf("expected exactly 1 upstream call for 20 concurrent requests, got %d", cc.calls.Load())
	}
}

func TestTickerServesFromCacheWithinTTL(t *testing.T) {
	cc := &countingClient{MockClient: market.NewMockClient()}
	co := newTestCoordinator(cc)

	if _, err := co.Ticker(context.Background(), "BTC-USD", ratelimit.MARKET_DATA); err != nil {
		t.Fatalf("first ticker: %v", err)
	}
	if _, err := co.Ticker(context.Background(), "BTC-USD", ratelimit.MARKET_DATA); err != nil {
		t.Fatalf("second ticker: %v", err)
	}
	if cc.calls.Load() != 1 {
		t.Fatalf("expected second call to be served from cache, got %d upstream calls", cc.calls.Load())
	}
}

func TestBatchFetchesUnionOfPairs(t *testing.T) {
	cc := &countingClient{MockClient: market.NewMockClient()}
	co := newTestCoordinator(cc)

	jobs := []Job{{Kind: JobTicker, Pair: "BTC-USD"}, {Kind: JobTicker, Pair: "ETH-USD"}, {Kind: JobTicker, Pair: "BTC-USD"}}
	results := co.Batch(context.Background(), jobs, ratelimit.BOT_EVALUATION)

	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for _, r := range results {
		if r.Err != nil {
			t.Fatalf("unexpected error for %s: %v", r.Job.Pair, r.Err)
		}
	}
	if cc.calls.Load() != 2 {
		t.Fatalf("expected exactly 2 upstream calls (one per distinct pair), got %d", cc.calls.Load())
	}
}

func TestBatchFetchesCandlesToo(t *testing.T) {
	cc := &countingClient{MockClient: market.NewMockClient()}
	co := newTestCoordinator(cc)

	jobs := []Job{
		{Kind: JobTicker, Pair: "BTC-USD"},
		{Kind: JobCandles, Pair: "BTC-USD", GranularitySec: 300, Limit: 30},
	}
	results := co.Batch(context.Background(), jobs, ratelimit.BOT_EVALUATION)
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	for _, r := range results {
		if r.Err != nil {
			t.Fatalf("unexpected error for job %+v: %v", r.Job, r.Err)
		}
	}
	if _, ok := results[0].Value.(market.Ticker); !ok {
		t.Fatalf("expected ticker job to yield a market.Ticker, got %T", results[0].Value)
	}
	candles, ok := results[1].Value.([]market.Candle)
	if !ok {
		t.Fatalf("expected candles job to yield []market.Candle, got %T", results[1].Value)
	}
	if len(candles) != 30 {
		t.Fatalf("expected 30 candles, got %d", len(candles))
	}
}
