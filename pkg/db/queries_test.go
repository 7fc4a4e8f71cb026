package db

import (
	"context"
	"testing"
	"time"
)

func newTestDB(t *testing.T) *Database {
	t.Helper()
	database, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := ApplyMigrations(database); err != nil {
		t.Fatalf("failed to apply migrations: %v", err)
	}
	return database
}

func TestUpsertAndGetBot(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	b := BotRow{
		ID: "bot-1", Name: "Scalper", Pair: "BTC-USD", Status: "stopped",
		ConfigJSON: `{}`, Temperature: "frozen", PositionStatus: "closed",
		PendingAction: "hold", TrancheCloseOrder: "fifo", TemperatureFloor: "frozen",
	}
	if err := database.UpsertBot(ctx, b); err != nil {
		t.Fatalf("upsert bot: %v", err)
	}

	got, err := database.GetBot(ctx, "bot-1")
	if err != nil {
		t.Fatalf("get bot: %v", err)
	}
	if got.Name != "Scalper" || got.Pair != "BTC-USD" {
		t.Fatalf("unexpected bot row: %+v", got)
	}

	b.Status = "running"
	if err := database.UpsertBot(ctx, b); err != nil {
		t.Fatalf("upsert bot update: %v", err)
	}
	got, err = database.GetBot(ctx, "bot-1")
	if err != nil {
		t.Fatalf("get bot after update: %v", err)
	}
	if got.Status != "running" {
		t.Fatalf("expected updated status running, got %s", got.Status)
	}
}

func TestGetBotNotFound(t *testing.T) {
	database := newTestDB(t)
	if _, err := database.GetBot(context.Background(), "nonexistent"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListRunningBots(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	database.UpsertBot(ctx, BotRow{ID: "b1", Name: "a", Pair: "BTC-USD", Status: "running", ConfigJSON: "{}"})
	database.UpsertBot(ctx, BotRow{ID: "b2", Name: "b", Pair: "ETH-USD", Status: "stopped", ConfigJSON: "{}"})

	running, err := database.ListRunningBots(ctx)
	if err != nil {
		t.Fatalf("list running bots: %v", err)
	}
	if len(running) != 1 || running[0].ID != "b1" {
		t.Fatalf("expected only b1 running, got %+v", running)
	}
}

func TestSetBotStatusNotFound(t *testing.T) {
	database := newTestDB(t)
	if err := database.SetBotStatus(context.Background(), "missing", "running"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTrancheLifecycle(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()
	database.UpsertBot(ctx, BotRow{ID: "bot-1", Name: "a", Pair: "BTC-USD", Status: "running", ConfigJSON: "{}"})

	tr := TrancheRow{
		ID: "tr-1", BotID: "bot-1", EntryTradeID: "trade-1",
		SizeUSD: 100, EntryPrice: 50000, EntryTs: time.Now(), Status: "open",
	}
	if err := database.UpsertTranche(ctx, tr); err != nil {
		t.Fatalf("upsert tranche: %v", err)
	}

	tranches, err := database.ListTranchesByBot(ctx, "bot-1")
	if err != nil {
		t.Fatalf("list tranches: %v", err)
	}
	if len(tranches) != 1 || tranches[0].Status != "open" {
		t.Fatalf("unexpected tranches: %+v", tranches)
	}

	tr.Status = "closed"
	if err := database.UpsertTranche(ctx, tr); err != nil {
		t.Fatalf("close tranche: %v", err)
	}
	tranches, _ = database.ListTranchesByBot(ctx, "bot-1")
	if tranches[0].Status != "closed" {
		t.Fatalf("expected closed status, got %s", tranches[0].Status)
	}
}

func TestTradeLifecycleAndDecisionHistory(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()
	database.UpsertBot(ctx, BotRow{ID: "bot-1", Name: "a", Pair: "BTC-USD", Status: "running", ConfigJSON: "{}"})

	trade := TradeRow{
		ID: "trade-1", BotID: "bot-1", Pair: "BTC-USD", Side: "buy",
		Size: 100, Status: "pending", CreatedTs: time.Now(),
	}
	if err := database.CreateTrade(ctx, trade); err != nil {
		t.Fatalf("create trade: %v", err)
	}

	if err := database.UpdateTradeStatus(ctx, "trade-1", "filled", 50000, 0.5, "ex-1", nil); err != nil {
		t.Fatalf("update trade status: %v", err)
	}

	trades, err := database.ListTradesByBot(ctx, "bot-1", 10)
	if err != nil {
		t.Fatalf("list trades: %v", err)
	}
	if len(trades) != 1 || trades[0].Status != "filled" || trades[0].Price != 50000 {
		t.Fatalf("unexpected trades: %+v", trades)
	}

	n, err := database.CountTradesSince(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("count trades since: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 filled trade counted, got %d", n)
	}

	if err := database.InsertDecisionHistory(ctx, DecisionHistoryRow{
		BotID: "bot-1", Action: "buy", Composite: -0.8, Temperature: "hot",
		Promoted: true, SnapshotTs: time.Now(),
	}); err != nil {
		t.Fatalf("insert decision history: %v", err)
	}

	history, err := database.ListDecisionHistoryByBot(ctx, "bot-1", 10)
	if err != nil {
		t.Fatalf("list decision history: %v", err)
	}
	if len(history) != 1 || history[0].Action != "buy" {
		t.Fatalf("unexpected history: %+v", history)
	}
}
