// Package scheduler implements the Scheduler of spec §4.8: a fast tick
// that runs the evaluation path for every running bot and a slow tick
// that proactively refreshes longer-TTL cache keys. Grounded on the
// teacher's internal/reconciliation/service.go (ticker-driven
// background loop, ctx.Done()-gated shutdown) and
// internal/persistence/batch_writer.go (Start/Close with a done
// channel and sync.WaitGroup for a clean goroutine shutdown).
package scheduler

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"tradecore/internal/bot"
	"tradecore/internal/coordinator"
	"tradecore/internal/evaluator"
	"tradecore/internal/events"
	"tradecore/internal/market"
	"tradecore/internal/ratelimit"
	"tradecore/internal/risk"
	"tradecore/internal/trade"
)

// Config holds the Scheduler's cadence and fleet-wide limits (spec
// §4.8, §4.6), sourced from internal/config at startup.
type Config struct {
	FastInterval    time.Duration
	SlowInterval    time.Duration
	TickDeadline    time.Duration
	WorkerLimit     int
	CandleGranularitySec int

	MaxDailyTrades     int
	MaxDailyLossUSD    float64
	MaxActivePositions int
}

// Scheduler drives the fleet's evaluation and trading loop.
type Scheduler struct {
	coordinator *coordinator.Coordinator
	evaluator   *evaluator.Evaluator
	gate        *risk.Gate
	tradeSvc    *trade.Service
	store       *bot.Store
	bus         *events.Bus

	cfg Config

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	daily dailyCounters

	done chan struct{}
	wg   sync.WaitGroup
}

// dailyCounters tracks the fleet-wide daily trade count and realized
// loss the SafetyGate's daily caps check against (spec §4.6), reset
// whenever the UTC day rolls over.
type dailyCounters struct {
	mu      sync.Mutex
	day     string
	trades  int
	lossUSD float64
}

func (d *dailyCounters) snapshot(now time.Time) (int, float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rollover(now)
	return d.trades, d.lossUSD
}

func (d *dailyCounters) recordTrade(now time.Time, realizedPnL float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rollover(now)
	d.trades++
	if realizedPnL < 0 {
		d.lossUSD += -realizedPnL
	}
}

func (d *dailyCounters) rollover(now time.Time) {
	day := now.UTC().Format("2006-01-02")
	if d.day != day {
		d.day = day
		d.trades = 0
		d.lossUSD = 0
	}
}

// New builds a Scheduler over the given components.
func New(co *coordinator.Coordinator, ev *evaluator.Evaluator, gate *risk.Gate, tradeSvc *trade.Service, store *bot.Store, bus *events.Bus, cfg Config) *Scheduler {
	if cfg.WorkerLimit <= 0 {
		cfg.WorkerLimit = 4
	}
	if cfg.CandleGranularitySec <= 0 {
		cfg.CandleGranularitySec = 300
	}
	return &Scheduler{
		coordinator: co,
		evaluator:   ev,
		gate:        gate,
		tradeSvc:    tradeSvc,
		store:       store,
		bus:         bus,
		cfg:         cfg,
		locks:       make(map[string]*sync.Mutex),
	}
}

// Start launches the fast and slow tick loops in the background,
// returning once both goroutines are running; Stop blocks until both
// have exited cleanly.
func (s *Scheduler) Start(ctx context.Context) {
	s.done = make(chan struct{})
	s.wg.Add(2)
	go s.runLoop(ctx, s.cfg.FastInterval, s.runFastTick)
	go s.runLoop(ctx, s.cfg.SlowInterval, s.runSlowTick)
	log.Printf("[SCHEDULER] started fast=%v slow=%v workers=%d", s.cfg.FastInterval, s.cfg.SlowInterval, s.cfg.WorkerLimit)
}

// Stop signals both tick loops to exit and waits for them.
func (s *Scheduler) Stop() {
	close(s.done)
	s.wg.Wait()
	log.Printf("[SCHEDULER] stopped")
}

func (s *Scheduler) runLoop(ctx context.Context, interval time.Duration, tick func(context.Context)) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			tick(ctx)
		case <-s.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// botLock returns the per-bot-id mutex serializing one bot's tick
// processing (spec §5 "per-bot-id mutex held for the duration of one
// bot's tick").
func (s *Scheduler) botLock(botID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[botID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[botID] = l
	}
	return l
}

func pairCurrencies(pair string) (base, quote string) {
	parts := strings.SplitN(pair, "-", 2)
	if len(parts) != 2 {
		return pair, ""
	}
	return parts[0], parts[1]
}

// runFastTick implements spec §4.8's fast tick: batch-fetch the union
// of ticker and candle keys needed across all running bots, then fan each bot out to
// a bounded worker pool for evaluation, safety gating, and trading.
func (s *Scheduler) runFastTick(ctx context.Context) {
	tickCtx, cancel := context.WithTimeout(ctx, s.cfg.TickDeadline)
	defer cancel()

	bots, err := s.store.ListRunning(ctx)
	if err != nil {
		log.Printf("[SCHEDULER] list running bots: %v", err)
		return
	}
	if len(bots) == 0 {
		return
	}

	// Union of keys needed across the tick: one ticker and one candle
	// fetch per distinct pair, sized to the widest signal requirement
	// among the bots sharing that pair (spec §4.8 "the scheduler builds
	// the union of all keys needed across bots for the tick and issues
	// one Coordinator.batch before fanning out").
	limitByPair := make(map[string]int, len(bots))
	for _, b := range bots {
		if limit := s.evaluator.MaxRequiredPeriods(b.SignalConfig); limit > limitByPair[b.Pair] {
			limitByPair[b.Pair] = limit
		}
	}
	jobs := make([]coordinator.Job, 0, len(limitByPair)*2)
	for pair, limit := range limitByPair {
		jobs = append(jobs, coordinator.Job{Kind: coordinator.JobTicker, Pair: pair})
		jobs = append(jobs, coordinator.Job{Kind: coordinator.JobCandles, Pair: pair, GranularitySec: s.cfg.CandleGranularitySec, Limit: limit})
	}
	results := s.coordinator.Batch(tickCtx, jobs, ratelimit.BOT_EVALUATION)

	tickerByPair := make(map[string]market.Ticker, len(limitByPair))
	candlesByPair := make(map[string][]market.Candle, len(limitByPair))
	for _, r := range results {
		if r.Err != nil || r.Value == nil {
			// failed, or left unfilled by a tick deadline: stale data
			continue
		}
		switch r.Job.Kind {
		case coordinator.JobTicker:
			tickerByPair[r.Job.Pair] = r.Value.(market.Ticker)
		case coordinator.JobCandles:
			candlesByPair[r.Job.Pair] = r.Value.([]market.Candle)
		}
	}

	global := s.globalState(bots, time.Now())

	sem := make(chan struct{}, s.cfg.WorkerLimit)
	var wg sync.WaitGroup
	for _, b := range bots {
		b := b
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			s.processBot(tickCtx, b, tickerByPair[b.Pair], candlesByPair[b.Pair], global)
		}()
	}
	wg.Wait()
}

// runSlowTick implements spec §4.8's slow tick: proactively refreshes
// longer-TTL keys (accounts, candles for every active pair) so the
// fast tick rarely has to block on a cache miss.
func (s *Scheduler) runSlowTick(ctx context.Context) {
	tickCtx, cancel := context.WithTimeout(ctx, s.cfg.TickDeadline)
	defer cancel()

	bots, err := s.store.ListRunning(ctx)
	if err != nil {
		log.Printf("[SCHEDULER] slow tick list running bots: %v", err)
		return
	}

	if _, err := s.coordinator.Accounts(tickCtx, ratelimit.BACKGROUND); err != nil {
		log.Printf("[SCHEDULER] slow tick refresh accounts: %v", err)
	}

	seen := make(map[string]bool, len(bots))
	for _, b := range bots {
		if seen[b.Pair] {
			continue
		}
		seen[b.Pair] = true
		limit := s.evaluator.MaxRequiredPeriods(b.SignalConfig)
		if _, err := s.coordinator.Candles(tickCtx, b.Pair, s.cfg.CandleGranularitySec, limit, ratelimit.BACKGROUND); err != nil {
			log.Printf("[SCHEDULER] slow tick refresh candles %s: %v", b.Pair, err)
		}
	}
}

// globalState snapshots the fleet-wide counters the SafetyGate checks
// against (spec §4.6): active positions across the given (running) bots plus
// the rolling daily trade/loss counters.
func (s *Scheduler) globalState(bots []*bot.Bot, now time.Time) risk.GlobalState {
	active := 0
	for _, b := range bots {
		if b.PositionStatus != bot.PositionClosed {
			active++
		}
	}
	trades, lossUSD := s.daily.snapshot(now)
	return risk.GlobalState{
		DailyTrades:        trades,
		DailyLossUSD:       lossUSD,
		ActivePositions:    active,
		MaxDailyTrades:     s.cfg.MaxDailyTrades,
		MaxDailyLossUSD:    s.cfg.MaxDailyLossUSD,
		MaxActivePositions: s.cfg.MaxActivePositions,
	}
}

// processBot runs one bot's full per-tick pipeline under its lock:
// evaluation against the tick's pre-batched ticker/candles (falling back
// to an individual fetch if the batch came up short for this bot), the
// autonomous stop-loss/take-profit check (SPEC_FULL.md supplement), and
// the normal promoted-action path through SafetyGate and TradeService.
func (s *Scheduler) processBot(ctx context.Context, b *bot.Bot, tk market.Ticker, candles []market.Candle, global risk.GlobalState) {
	lock := s.botLock(b.ID)
	lock.Lock()
	defer lock.Unlock()

	now := time.Now()
	staleData := ctx.Err() != nil || tk.Pair == ""

	limit := s.evaluator.MaxRequiredPeriods(b.SignalConfig)
	var closes []float64
	if !staleData {
		if len(candles) < limit {
			// The tick's batch either didn't cover this bot's pair or came
			// up short (e.g. a wider-period bot joined after the batch's
			// per-pair limit was computed); fetch individually through the
			// same cache/single-flight path rather than marking stale.
			var err error
			candles, err = s.coordinator.Candles(ctx, b.Pair, s.cfg.CandleGranularitySec, limit, ratelimit.BOT_EVALUATION)
			if err != nil {
				staleData = true
			}
		}
	}
	if !staleData {
		closes = make([]float64, len(candles))
		for i, c := range candles {
			closes[i] = c.Close
		}
	}

	currentPrice := tk.Price
	if currentPrice == 0 && len(closes) > 0 {
		currentPrice = closes[len(closes)-1]
	}

	decision := s.evaluator.Evaluate(b, closes, now, staleData)
	// The decision is recorded even when the tick's context is already
	// cancelled or past its deadline (a stale_data hold).
	if err := s.store.RecordDecision(context.WithoutCancel(ctx), decision); err != nil {
		log.Printf("[SCHEDULER] record decision for %s: %v", b.ID, err)
	}
	s.bus.Publish(events.EventDecisionRecorded, decision)

	// Evaluate mutates b's confirmation-window and score fields in
	// place; persist them even on a tick that ends in hold or a
	// rejected intent, since TradeService only saves b on a fill.
	if err := s.store.Save(ctx, b); err != nil {
		log.Printf("[SCHEDULER] persist bot %s after evaluation: %v", b.ID, err)
	}

	if staleData || currentPrice == 0 {
		return
	}

	if s.tryEmergencyExit(ctx, b, currentPrice, global) {
		return
	}

	if decision.Action == bot.ActionHold || !decision.Promoted {
		return
	}
	s.executeIntent(ctx, b, decision.Action, currentPrice, decision.Composite, global)
}

// tryEmergencyExit implements the SPEC_FULL.md supplement: if the
// current price has moved against the bot's average entry price by
// stop_loss_pct or in its favor by take_profit_pct, force a sell of
// the open tranches through the normal SafetyGate/TradeService path,
// bypassing only the confirmation window and signal thresholds.
func (s *Scheduler) tryEmergencyExit(ctx context.Context, b *bot.Bot, currentPrice float64, global risk.GlobalState) bool {
	if len(b.OpenTranches()) == 0 {
		return false
	}
	avgEntry := trade.AverageEntryPrice(b)
	if avgEntry <= 0 {
		return false
	}
	distance := (currentPrice - avgEntry) / avgEntry
	triggered := distance <= -b.StopLossPct || distance >= b.TakeProfitPct
	if !triggered {
		return false
	}
	log.Printf("[SCHEDULER] bot %s emergency exit triggered, distance=%.4f", b.ID, distance)
	s.executeIntent(ctx, b, bot.ActionSell, currentPrice, b.CurrentCombinedScore, global)
	return true
}

// executeIntent runs the SafetyGate check for a candidate action and,
// if allowed, submits it through the TradeService (spec §4.6, §4.7).
func (s *Scheduler) executeIntent(ctx context.Context, b *bot.Bot, action bot.Action, currentPrice, composite float64, global risk.GlobalState) {
	base, quote := pairCurrencies(b.Pair)
	var quoteBal, baseBal float64
	accounts, err := s.coordinator.Accounts(ctx, ratelimit.BOT_EVALUATION)
	if err != nil {
		log.Printf("[SCHEDULER] fetch accounts for %s: %v", b.ID, err)
		return
	}
	for _, a := range accounts {
		switch a.Currency {
		case quote:
			quoteBal = a.Available
		case base:
			baseBal = a.Available * currentPrice
		}
	}

	intendedSize := b.PositionSizeUSD
	if action == bot.ActionSell {
		if open := b.OpenNotionalUSD(); open < intendedSize {
			intendedSize = open
		}
	}

	intent := risk.Intent{
		Bot: b, Action: action, CurrentPrice: currentPrice,
		IntendedSizeUSD: intendedSize, QuoteBalance: quoteBal, BaseBalance: baseBal,
		Now: time.Now(),
	}
	result := s.gate.Evaluate(intent, global)
	if !result.Allowed {
		log.Printf("[SCHEDULER] bot %s %s rejected: %s", b.ID, action, result.Reason)
		s.bus.Publish(events.EventSafetyRejected, map[string]any{"bot_id": b.ID, "action": action, "reason": result.Reason})
		return
	}

	var preSellTranche bot.Tranche
	if action == bot.ActionSell {
		if open := b.OpenTranches(); len(open) > 0 {
			preSellTranche = open[0]
		}
	}

	t, err := s.tradeSvc.Execute(ctx, b, action, currentPrice, composite)
	if err != nil {
		log.Printf("[SCHEDULER] bot %s trade failed: %v", b.ID, err)
		return
	}

	realizedPnL := 0.0
	if action == bot.ActionSell && preSellTranche.EntryPrice > 0 {
		realizedPnL = trade.RealizedPnL(preSellTranche, t.Size, t.Price)
	}
	s.daily.recordTrade(t.FilledTs, realizedPnL)
}

// EmergencyStop implements spec §4.8's operator-triggered emergency stop
// (spec §8 Testable Property 8): force the bot's position_status
// `closing` and liquidate every open tranche through TradeService,
// bypassing SafetyGate, the confirmation window, and signal thresholds
// entirely so the bot is guaranteed to reach `closed` with zero open
// tranches — unlike tryEmergencyExit's price-triggered autonomous exit,
// which still routes through SafetyGate and so is not guaranteed to
// close. Intended caller: the control API's emergency-stop endpoint.
func (s *Scheduler) EmergencyStop(ctx context.Context, botID string) error {
	lock := s.botLock(botID)
	lock.Lock()
	defer lock.Unlock()

	b, err := s.store.Get(ctx, botID)
	if err != nil {
		return fmt.Errorf("scheduler: emergency stop: load bot %s: %w", botID, err)
	}

	if len(b.OpenTranches()) == 0 {
		b.PositionStatus = bot.PositionClosed
		if err := s.store.Save(ctx, b); err != nil {
			return fmt.Errorf("scheduler: emergency stop: persist bot %s: %w", botID, err)
		}
		return nil
	}

	b.PositionStatus = bot.PositionClosing
	if err := s.store.Save(ctx, b); err != nil {
		return fmt.Errorf("scheduler: emergency stop: persist closing status for %s: %w", botID, err)
	}
	log.Printf("[SCHEDULER] bot %s emergency stop: liquidating %d open tranches", botID, len(b.OpenTranches()))

	tk, err := s.coordinator.Ticker(ctx, b.Pair, ratelimit.TRADING)
	if err != nil {
		return fmt.Errorf("scheduler: emergency stop: fetch ticker for %s: %w", b.Pair, err)
	}

	// TradeService sizes each sell at position_size_usd, capped at the
	// bot's open notional, so liquidation can take several Execute calls;
	// the loop gives up after len(PositionTranches)+1 sells.
	for attempts := 0; len(b.OpenTranches()) > 0; attempts++ {
		if attempts >= len(b.PositionTranches)+1 {
			return fmt.Errorf("scheduler: emergency stop: bot %s still has open tranches after %d sells", botID, attempts)
		}
		var preSellTranche bot.Tranche
		if open := b.OpenTranches(); len(open) > 0 {
			preSellTranche = open[0]
		}
		t, err := s.tradeSvc.Execute(ctx, b, bot.ActionSell, tk.Price, b.CurrentCombinedScore)
		if err != nil {
			return fmt.Errorf("scheduler: emergency stop: sell for %s: %w", botID, err)
		}
		realizedPnL := 0.0
		if preSellTranche.EntryPrice > 0 {
			realizedPnL = trade.RealizedPnL(preSellTranche, t.Size, t.Price)
		}
		s.daily.recordTrade(t.FilledTs, realizedPnL)
	}

	s.bus.Publish(events.EventBotStopped, map[string]any{"bot_id": botID, "reason": "emergency_stop"})
	return nil
}
