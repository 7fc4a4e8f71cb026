package trade

import (
	"context"
	"testing"
	"time"

	"tradecore/internal/bot"
	"tradecore/internal/events"
	"tradecore/internal/market"
	"tradecore/internal/ratelimit"
	"tradecore/pkg/db"
)

func newTestService(t *testing.T) (*Service, *bot.Store) {
	t.Helper()
	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("create db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	store := bot.NewStore(database)
	gate := ratelimit.New(600, 600)
	bus := events.NewBus()
	client := market.NewMockClient()
	return NewService(client, gate, store, bus, DefaultMinTrancheUSD), store
}

func testTradeBot() *bot.Bot {
	now := time.Now()
	return &bot.Bot{
		ID: "bot-1", Name: "Scalper", Pair: "BTC-USD", Status: bot.StatusRunning,
		PositionSizeUSD: 100, MaxPositions: 3, StopLossPct: 0.05, TakeProfitPct: 0.1,
		CooldownMinutes: 15, TradeStepPct: 0.02, PositionCeilingUSD: 500,
		TrancheCloseOrder: bot.CloseFIFO, TemperatureFloor: bot.TempFrozen,
		PositionStatus: bot.PositionClosed, PendingAction: bot.ActionHold,
		CreatedAt: now, UpdatedAt: now,
	}
}

func TestExecuteBuyOpensTranche(t *testing.T) {
	s, _ := newTestService(t)
	b := testTradeBot()
	ctx := context.Background()

	trd, err := s.Execute(ctx, b, bot.ActionBuy, 30000, -0.8)
	if err != nil {
		t.Fatalf("execute buy: %v", err)
	}
	if trd.Status != bot.TradeFilled {
		t.Fatalf("expected filled trade, got %s", trd.Status)
	}
	if len(b.OpenTranches()) != 1 {
		t.Fatalf("expected 1 open tranche, got %d", len(b.OpenTranches()))
	}
	if b.PositionStatus != bot.PositionBuilding {
		t.Fatalf("expected building status, got %s", b.PositionStatus)
	}
}

func TestExecuteSellRejectsWithNoPosition(t *testing.T) {
	s, _ := newTestService(t)
	b := testTradeBot()
	ctx := context.Background()

	_, err := s.Execute(ctx, b, bot.ActionSell, 30000, 0.8)
	if err != ErrNoOpenPosition {
		t.Fatalf("expected ErrNoOpenPosition, got %v", err)
	}
}

// TestExecuteSellClosesOldestTrancheFIFO covers scenario S6: a sell of
// one quarter of a 4-tranche position closes the oldest tranche.
func TestExecuteSellClosesOldestTrancheFIFO(t *testing.T) {
	s, _ := newTestService(t)
	b := testTradeBot()
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if _, err := s.Execute(ctx, b, bot.ActionBuy, 30000, -0.8); err != nil {
			t.Fatalf("buy %d: %v", i, err)
		}
	}
	if len(b.OpenTranches()) != 4 {
		t.Fatalf("expected 4 open tranches before sell, got %d", len(b.OpenTranches()))
	}
	oldest := b.PositionTranches[0].ID

	// Force sell size to exactly one tranche's worth.
	b.PositionSizeUSD = 100
	if _, err := s.Execute(ctx, b, bot.ActionSell, 30000, 0.8); err != nil {
		t.Fatalf("sell: %v", err)
	}

	open := b.OpenTranches()
	if len(open) != 3 {
		t.Fatalf("expected 3 open tranches after sell, got %d", len(open))
	}
	for _, tr := range open {
		if tr.ID == oldest {
			t.Fatalf("expected oldest tranche %s to be closed under FIFO", oldest)
		}
	}
}

func TestExecuteSellLowestEntryFirst(t *testing.T) {
	s, _ := newTestService(t)
	b := testTradeBot()
	b.TrancheCloseOrder = bot.CloseLowestEntryFirst
	ctx := context.Background()

	b.PositionTranches = []bot.Tranche{
		{ID: "tr-high", SizeUSD: 100, EntryPrice: 32000, EntryTs: time.Now().Add(-time.Hour), Status: bot.TrancheOpen},
		{ID: "tr-low", SizeUSD: 100, EntryPrice: 28000, EntryTs: time.Now(), Status: bot.TrancheOpen},
	}
	b.PositionStatus = bot.PositionOpen
	b.PositionSizeUSD = 100

	if _, err := s.Execute(ctx, b, bot.ActionSell, 30000, 0.8); err != nil {
		t.Fatalf("sell: %v", err)
	}

	open := b.OpenTranches()
	if len(open) != 1 || open[0].ID != "tr-high" {
		t.Fatalf("expected lowest-entry tranche closed first, got %+v", open)
	}
}

// TestExecuteSellClosesDustTrancheOutright verifies a partial sell that
// would leave a tranche below minTrancheUSD closes it in full instead
// of leaving a dust remainder open (spec §3 size_usd >= MIN_TRANCHE_USD).
func TestExecuteSellClosesDustTrancheOutright(t *testing.T) {
	s, _ := newTestService(t)
	b := testTradeBot()
	ctx := context.Background()

	b.PositionTranches = []bot.Tranche{
		{ID: "tr-1", SizeUSD: 100, EntryPrice: 30000, EntryTs: time.Now(), Status: bot.TrancheOpen},
	}
	b.PositionStatus = bot.PositionOpen
	// Selling 95 of a 100 tranche leaves 5, below the default 10 floor.
	b.PositionSizeUSD = 95

	if _, err := s.Execute(ctx, b, bot.ActionSell, 30000, 0.8); err != nil {
		t.Fatalf("sell: %v", err)
	}

	if len(b.OpenTranches()) != 0 {
		t.Fatalf("expected the dust tranche to close outright, got %d still open", len(b.OpenTranches()))
	}
	if b.PositionStatus != bot.PositionClosed {
		t.Fatalf("expected closed status, got %s", b.PositionStatus)
	}
}

func TestAverageEntryPriceAndPnL(t *testing.T) {
	b := testTradeBot()
	b.PositionTranches = []bot.Tranche{
		{ID: "a", SizeUSD: 100, EntryPrice: 25000, Status: bot.TrancheOpen},
		{ID: "b", SizeUSD: 100, EntryPrice: 30000, Status: bot.TrancheOpen},
	}

	avg := AverageEntryPrice(b)
	// qty_a = 100/25000 = 0.004, qty_b = 100/30000 = 0.003333...
	// avg = 200 / (0.004+0.003333...) = 27272.7...
	if avg < 27000 || avg > 27600 {
		t.Fatalf("unexpected average entry price: %v", avg)
	}

	pnl := UnrealizedPnL(b, 28000)
	if pnl <= 0 {
		t.Fatalf("expected positive unrealized pnl at price above blended average, got %v", pnl)
	}
}

func TestRealizedPnLFullExit(t *testing.T) {
	tr := bot.Tranche{EntryPrice: 20000, SizeUSD: 100}
	pnl := RealizedPnL(tr, 100, 24000)
	// qty = 100/20000 = 0.005; pnl = (24000-20000)*0.005 = 20
	if pnl < 19.9 || pnl > 20.1 {
		t.Fatalf("expected realized pnl ~20, got %v", pnl)
	}
}
