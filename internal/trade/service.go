// Package trade implements the TradeService of spec §4.7: turns an
// accepted intent into a persisted order, waits for confirmation, and
// updates the bot's tranche accounting. Grounded on the teacher's
// internal/order/executor.go (persist-then-submit-then-record-fill
// shape, event-bus publication at each transition), generalized from
// the teacher's exchange.Gateway abstraction onto this module's
// market.Client boundary and from per-order DB rows onto the
// bot.Store aggregate.
package trade

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"tradecore/internal/bot"
	"tradecore/internal/events"
	"tradecore/internal/market"
	"tradecore/internal/ratelimit"
)

// ErrNoOpenPosition means a sell was attempted with no open tranches
// to close; callers should route this through SafetyGate instead, but
// the Service defends against it too since it mutates tranche state.
var ErrNoOpenPosition = errors.New("trade: no open position to sell")

// DefaultMinTrancheUSD is the tranche floor applied when a Service is
// built without an explicit one (spec §3's MIN_TRANCHE_USD default).
const DefaultMinTrancheUSD = 10.0

// Service executes accepted buy/sell intents (spec §4.7).
type Service struct {
	client        market.Client
	gate          *ratelimit.Gate
	store         *bot.Store
	bus           *events.Bus
	minTrancheUSD float64
}

// NewService builds a TradeService over the market client, the shared
// rate gate, and the bot store it persists trades/tranches into.
// minTrancheUSD is the floor below which applySell closes a tranche
// outright instead of leaving a dust remainder (spec §3
// MIN_TRANCHE_USD); a non-positive value falls back to
// DefaultMinTrancheUSD.
func NewService(client market.Client, gate *ratelimit.Gate, store *bot.Store, bus *events.Bus, minTrancheUSD float64) *Service {
	if minTrancheUSD <= 0 {
		minTrancheUSD = DefaultMinTrancheUSD
	}
	return &Service{client: client, gate: gate, store: store, bus: bus, minTrancheUSD: minTrancheUSD}
}

// intendedSizeUSD computes the order size for action against b, capped
// on sell by the bot's open notional so a sell never exceeds holdings.
func intendedSizeUSD(b *bot.Bot, action bot.Action) float64 {
	size := b.PositionSizeUSD
	if action == bot.ActionSell {
		if open := b.OpenNotionalUSD(); open < size {
			size = open
		}
	}
	return size
}

// Execute submits action for b at the current tick's composite score
// and price, persisting the trade and, on a filled confirmation,
// updating the bot's tranche list and live aggregates in place. A
// failed trade leaves tranches untouched, per spec §4.7.
func (s *Service) Execute(ctx context.Context, b *bot.Bot, action bot.Action, currentPrice, composite float64) (bot.Trade, error) {
	if action != bot.ActionBuy && action != bot.ActionSell {
		return bot.Trade{}, fmt.Errorf("trade: cannot execute action %q", action)
	}
	if action == bot.ActionSell && len(b.OpenTranches()) == 0 {
		return bot.Trade{}, ErrNoOpenPosition
	}

	sizeUSD := intendedSizeUSD(b, action)
	side := market.SideBuy
	if action == bot.ActionSell {
		side = market.SideSell
	}

	t := bot.Trade{
		ID:                       uuid.NewString(),
		BotID:                    b.ID,
		Pair:                     b.Pair,
		Side:                     bot.TradeSide(side),
		Size:                     sizeUSD,
		Status:                   bot.TradePending,
		CompositeScoreAtDecision: composite,
		CreatedTs:                time.Now(),
	}
	if err := s.store.RecordTrade(ctx, t); err != nil {
		return bot.Trade{}, fmt.Errorf("trade: persist pending trade: %w", err)
	}
	s.bus.Publish(events.EventTradeSubmitted, t)

	if err := s.gate.Acquire(ctx, ratelimit.TRADING); err != nil {
		return s.fail(ctx, t, fmt.Errorf("trade: acquire rate gate: %w", err))
	}

	ack, err := s.client.PlaceOrder(ctx, b.Pair, side, sizeUSD, t.ID)
	if err != nil {
		return s.fail(ctx, t, fmt.Errorf("trade: place order: %w", err))
	}
	if ack.Status == "REJECTED" {
		return s.fail(ctx, t, fmt.Errorf("trade: order %s rejected by exchange", ack.ExchangeOrderID))
	}

	status, err := s.client.GetOrder(ctx, ack.ExchangeOrderID)
	if err != nil {
		return s.fail(ctx, t, fmt.Errorf("trade: confirm order %s: %w", ack.ExchangeOrderID, err))
	}
	if status.Status != "FILLED" {
		return s.fail(ctx, t, fmt.Errorf("trade: order %s settled as %s, not filled", ack.ExchangeOrderID, status.Status))
	}

	fillPrice := status.AvgPrice
	if fillPrice == 0 {
		fillPrice = currentPrice
	}

	t.Status = bot.TradeFilled
	t.Price = fillPrice
	t.Fee = status.Fee
	t.ExchangeOrderID = ack.ExchangeOrderID
	t.FilledTs = time.Now()
	if err := s.store.UpdateTradeFill(ctx, t.ID, string(bot.TradeFilled), fillPrice, status.Fee, ack.ExchangeOrderID, t.FilledTs); err != nil {
		log.Printf("[TRADE] persist fill for %s: %v", t.ID, err)
	}

	switch action {
	case bot.ActionBuy:
		applyBuy(b, t)
	case bot.ActionSell:
		applySell(b, t, s.minTrancheUSD)
	}
	b.LastTradeTs = t.FilledTs
	b.LastTradePrice = fillPrice
	b.UpdatedAt = time.Now()

	if err := s.store.Save(ctx, b); err != nil {
		log.Printf("[TRADE] persist bot %s after fill: %v", b.ID, err)
	}

	s.bus.Publish(events.EventTradeFilled, t)
	return t, nil
}

func (s *Service) fail(ctx context.Context, t bot.Trade, cause error) (bot.Trade, error) {
	t.Status = bot.TradeFailed
	if err := s.store.UpdateTradeFill(ctx, t.ID, string(bot.TradeFailed), 0, 0, "", time.Time{}); err != nil {
		log.Printf("[TRADE] persist failure for %s: %v", t.ID, err)
	}
	s.bus.Publish(events.EventTradeFailed, t)
	return t, cause
}

// applyBuy opens a new tranche at the fill price (spec §4.7, §3
// average-entry-price formula accrues naturally from one tranche per
// buy fill).
func applyBuy(b *bot.Bot, t bot.Trade) {
	b.PositionTranches = append(b.PositionTranches, bot.Tranche{
		ID:           uuid.NewString(),
		EntryTradeID: t.ID,
		SizeUSD:      t.Size,
		EntryPrice:   t.Price,
		EntryTs:      t.FilledTs,
		Status:       bot.TrancheOpen,
	})
	if len(b.OpenTranches()) >= b.MaxPositions || b.OpenNotionalUSD() >= b.PositionCeilingUSD {
		b.PositionStatus = bot.PositionOpen
	} else {
		b.PositionStatus = bot.PositionBuilding
	}
}

// applySell consumes open tranches in the bot's configured close order
// until the sell size is covered, reducing the last partially-consumed
// tranche's size_usd and closing every tranche consumed in full (spec
// §3 tranche accounting, §4.7's FIFO/lowest-entry-first resolution). A
// tranche whose remaining size_usd would fall below minTrancheUSD is
// closed outright instead, so no tranche is ever left open below the
// floor (spec §3's size_usd >= MIN_TRANCHE_USD invariant).
func applySell(b *bot.Bot, t bot.Trade, minTrancheUSD float64) {
	order := orderedOpenIndexes(b)
	remaining := t.Size

	for _, idx := range order {
		if remaining <= 1e-9 {
			break
		}
		tr := &b.PositionTranches[idx]
		if tr.SizeUSD <= remaining+1e-9 {
			remaining -= tr.SizeUSD
			tr.SizeUSD = 0
			tr.Status = bot.TrancheClosed
		} else {
			leftover := tr.SizeUSD - remaining
			if leftover < minTrancheUSD {
				remaining -= tr.SizeUSD
				tr.SizeUSD = 0
				tr.Status = bot.TrancheClosed
			} else {
				tr.SizeUSD = leftover
				remaining = 0
			}
		}
	}

	if len(b.OpenTranches()) == 0 {
		b.PositionStatus = bot.PositionClosed
	} else {
		b.PositionStatus = bot.PositionReducing
	}
}

// orderedOpenIndexes returns the indexes of b.PositionTranches holding
// open tranches, ordered oldest-first (FIFO) or lowest-entry-price-first
// per the bot's configured tranche_close_order (spec §4 Open Question #2).
func orderedOpenIndexes(b *bot.Bot) []int {
	idxs := make([]int, 0, len(b.PositionTranches))
	for i, tr := range b.PositionTranches {
		if tr.Status == bot.TrancheOpen {
			idxs = append(idxs, i)
		}
	}
	if b.TrancheCloseOrder == bot.CloseLowestEntryFirst {
		for i := 1; i < len(idxs); i++ {
			for j := i; j > 0 && b.PositionTranches[idxs[j]].EntryPrice < b.PositionTranches[idxs[j-1]].EntryPrice; j-- {
				idxs[j], idxs[j-1] = idxs[j-1], idxs[j]
			}
		}
		return idxs
	}
	// FIFO: tranches are appended in entry order already, so the
	// natural index order is oldest-first.
	return idxs
}

// AverageEntryPrice computes Σ size_usd / Σ (size_usd/entry_price)
// across open tranches (spec §3).
func AverageEntryPrice(b *bot.Bot) float64 {
	var sizeSum, qtySum float64
	for _, tr := range b.OpenTranches() {
		sizeSum += tr.SizeUSD
		qtySum += tr.Quantity()
	}
	if qtySum == 0 {
		return 0
	}
	return sizeSum / qtySum
}

// UnrealizedPnL computes Σ(size_usd/entry_price)·currentPrice − Σ size_usd
// across open tranches (spec §3).
func UnrealizedPnL(b *bot.Bot, currentPrice float64) float64 {
	var sizeSum, qtySum float64
	for _, tr := range b.OpenTranches() {
		sizeSum += tr.SizeUSD
		qtySum += tr.Quantity()
	}
	return qtySum*currentPrice - sizeSum
}

// RealizedPnL computes (exitPrice − tr.EntryPrice) · (closedSizeUSD /
// tr.EntryPrice) for one tranche's full or partial exit (spec §3).
func RealizedPnL(tr bot.Tranche, closedSizeUSD, exitPrice float64) float64 {
	if tr.EntryPrice == 0 {
		return 0
	}
	qty := closedSizeUSD / tr.EntryPrice
	return (exitPrice - tr.EntryPrice) * qty
}
