// Command tradecore wires the market-data and signal-evaluation engine
// (spec §4, §6) and runs it until SIGINT/SIGTERM. Grounded on the
// teacher's root main.go: load config, open the DB, build the
// component graph bottom-up, launch the background scheduler, serve
// the control API, and wait on a signal channel for a clean shutdown.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tradecore/internal/api"
	"tradecore/internal/bot"
	"tradecore/internal/cache"
	"tradecore/internal/config"
	"tradecore/internal/coordinator"
	"tradecore/internal/evaluator"
	"tradecore/internal/events"
	"tradecore/internal/market"
	"tradecore/internal/ratelimit"
	"tradecore/internal/risk"
	"tradecore/internal/scheduler"
	"tradecore/internal/trade"
	"tradecore/pkg/db"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		log.Fatalf("apply migrations: %v", err)
	}

	bus := events.NewBus()
	gate := ratelimit.New(cfg.RateLimitPerMinute, cfg.RateLimitBurst)
	c := cache.New()

	var client market.Client
	switch cfg.MarketSource {
	case "rest":
		client = market.NewRESTClient(cfg.MarketBaseURL, os.Getenv("MARKET_API_KEY"), os.Getenv("MARKET_API_SECRET"))
		log.Printf("[MAIN] market source: rest (%s)", cfg.MarketBaseURL)
	default:
		client = market.NewMockClient()
		log.Printf("[MAIN] market source: mock")
	}

	co := coordinator.New(client, c, gate, cfg.TickerTTL, cfg.CandlesTTL, cfg.AccountsTTL, cfg.BalanceTTL)

	store := bot.NewStore(database)
	if cfg.BotsConfigPath != "" {
		configs, err := bot.LoadSeedFile(cfg.BotsConfigPath)
		if err != nil {
			log.Fatalf("load bot fleet seed file: %v", err)
		}
		if err := bot.Sync(context.Background(), store, configs); err != nil {
			log.Fatalf("sync bot fleet: %v", err)
		}
		log.Printf("[MAIN] synced %d bots from %s", len(configs), cfg.BotsConfigPath)
	}

	riskGate := risk.New()
	tradeSvc := trade.NewService(client, gate, store, bus, cfg.MinTrancheUSD)
	ev := evaluator.New()

	sched := scheduler.New(co, ev, riskGate, tradeSvc, store, bus, scheduler.Config{
		FastInterval:         time.Duration(cfg.FastTickMs) * time.Millisecond,
		SlowInterval:         time.Duration(cfg.SlowTickMs) * time.Millisecond,
		TickDeadline:         time.Duration(cfg.FastTickMs) * time.Millisecond,
		WorkerLimit:          cfg.EvaluatorParallelism,
		CandleGranularitySec: 300,
		MaxDailyTrades:       cfg.MaxDailyTrades,
		MaxDailyLossUSD:      cfg.MaxDailyLossUSD,
		MaxActivePositions:   cfg.MaxActivePositions,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched.Start(ctx)

	server := api.NewServer(bus, store, c, gate, riskGate, sched, api.SystemMeta{
		UseMockFeed: cfg.MarketSource != "rest",
		Version:     "tradecore-dev",
	})
	go func() {
		if err := server.Start(":" + cfg.Port); err != nil {
			log.Fatalf("control api server error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println("[MAIN] shutting down")

	cancel()
	sched.Stop()
}
