package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"tradecore/internal/bot"
)

// botRequest is the create/update payload for a bot (spec §6 Control API),
// mirroring bot.SeedConfig's static fields.
type botRequest struct {
	Name               string                `json:"name"`
	Pair               string                `json:"pair"`
	PositionSizeUSD    float64               `json:"position_size_usd"`
	MaxPositions       int                   `json:"max_positions"`
	StopLossPct        float64               `json:"stop_loss_pct"`
	TakeProfitPct      float64               `json:"take_profit_pct"`
	CooldownMinutes    float64               `json:"cooldown_minutes"`
	TradeStepPct       float64               `json:"trade_step_pct"`
	PositionCeilingUSD float64               `json:"position_ceiling_usd"`
	TrancheCloseOrder  bot.TrancheCloseOrder `json:"tranche_close_order"`
	TemperatureFloor   bot.Temperature       `json:"temperature_floor"`
	SignalConfig       bot.SignalConfig      `json:"signal_config"`
}

func errJSON(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{"code": code, "error": msg})
}

func parseLimit(c *gin.Context, def int) int {
	raw := c.Query("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// listBots returns every bot with its live fields (spec §6).
func (s *Server) listBots(c *gin.Context) {
	bots, err := s.Store.List(c.Request.Context())
	if err != nil {
		errJSON(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"bots": bots})
}

// getBot returns one bot by ID.
func (s *Server) getBot(c *gin.Context) {
	b, err := s.Store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if err == bot.ErrNotFound {
			errJSON(c, http.StatusNotFound, "BOT_NOT_FOUND", "bot not found")
			return
		}
		errJSON(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, b)
}

// createBot creates a new stopped bot (spec §6 bot CRUD).
func (s *Server) createBot(c *gin.Context) {
	var req botRequest
	if err := c.BindJSON(&req); err != nil {
		errJSON(c, http.StatusBadRequest, "INVALID_PAYLOAD", "invalid request payload")
		return
	}
	if req.Name == "" || req.Pair == "" {
		errJSON(c, http.StatusBadRequest, "MISSING_FIELDS", "name and pair are required")
		return
	}

	now := time.Now()
	closeOrder := req.TrancheCloseOrder
	if closeOrder == "" {
		closeOrder = bot.CloseFIFO
	}
	floor := req.TemperatureFloor
	if floor == "" {
		floor = bot.TempFrozen
	}
	b := &bot.Bot{
		ID:                 uuid.NewString(),
		Name:               req.Name,
		Pair:               req.Pair,
		Status:             bot.StatusStopped,
		PositionSizeUSD:    req.PositionSizeUSD,
		MaxPositions:       req.MaxPositions,
		StopLossPct:        req.StopLossPct,
		TakeProfitPct:      req.TakeProfitPct,
		CooldownMinutes:    req.CooldownMinutes,
		TradeStepPct:       req.TradeStepPct,
		PositionCeilingUSD: req.PositionCeilingUSD,
		TrancheCloseOrder:  closeOrder,
		TemperatureFloor:   floor,
		SignalConfig:       req.SignalConfig,
		PositionStatus:     bot.PositionClosed,
		PendingAction:      bot.ActionHold,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := b.Validate(); err != nil {
		errJSON(c, http.StatusBadRequest, "INVALID_BOT", err.Error())
		return
	}
	if err := s.Store.Save(c.Request.Context(), b); err != nil {
		errJSON(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusCreated, b)
}

// updateBot refreshes a bot's static configuration, leaving its live
// fields (score, temperature, tranches, status) untouched, the same
// live-state-preserving update bot.Sync performs for the seed file.
func (s *Server) updateBot(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	existing, err := s.Store.Get(ctx, id)
	if err != nil {
		if err == bot.ErrNotFound {
			errJSON(c, http.StatusNotFound, "BOT_NOT_FOUND", "bot not found")
			return
		}
		errJSON(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}

	var req botRequest
	if err := c.BindJSON(&req); err != nil {
		errJSON(c, http.StatusBadRequest, "INVALID_PAYLOAD", "invalid request payload")
		return
	}

	existing.Name = req.Name
	existing.Pair = req.Pair
	existing.PositionSizeUSD = req.PositionSizeUSD
	existing.MaxPositions = req.MaxPositions
	existing.StopLossPct = req.StopLossPct
	existing.TakeProfitPct = req.TakeProfitPct
	existing.CooldownMinutes = req.CooldownMinutes
	existing.TradeStepPct = req.TradeStepPct
	existing.PositionCeilingUSD = req.PositionCeilingUSD
	if req.TrancheCloseOrder != "" {
		existing.TrancheCloseOrder = req.TrancheCloseOrder
	}
	if req.TemperatureFloor != "" {
		existing.TemperatureFloor = req.TemperatureFloor
	}
	existing.SignalConfig = req.SignalConfig
	existing.UpdatedAt = time.Now()

	if err := existing.Validate(); err != nil {
		errJSON(c, http.StatusBadRequest, "INVALID_BOT", err.Error())
		return
	}
	if err := s.Store.Save(ctx, existing); err != nil {
		errJSON(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, existing)
}

// deleteBot removes a bot and its tranches.
func (s *Server) deleteBot(c *gin.Context) {
	if err := s.Store.Delete(c.Request.Context(), c.Param("id")); err != nil {
		if err == bot.ErrNotFound {
			errJSON(c, http.StatusNotFound, "BOT_NOT_FOUND", "bot not found")
			return
		}
		errJSON(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	c.Status(http.StatusNoContent)
}

// startBot and stopBot flip a bot's run lifecycle (spec §6).
func (s *Server) startBot(c *gin.Context) { s.setBotStatus(c, bot.StatusRunning) }
func (s *Server) stopBot(c *gin.Context)  { s.setBotStatus(c, bot.StatusStopped) }

func (s *Server) setBotStatus(c *gin.Context, status bot.Status) {
	id := c.Param("id")
	if err := s.Store.SetStatus(c.Request.Context(), id, status); err != nil {
		if err == bot.ErrNotFound {
			errJSON(c, http.StatusNotFound, "BOT_NOT_FOUND", "bot not found")
			return
		}
		errJSON(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "status": status})
}

// emergencyStopBot forces a bot's full tranche liquidation through
// closing -> closed, bypassing SafetyGate and signal state entirely
// (spec §4.8, §8 Testable Property 8).
func (s *Server) emergencyStopBot(c *gin.Context) {
	id := c.Param("id")
	if s.Scheduler == nil {
		errJSON(c, http.StatusServiceUnavailable, "SCHEDULER_UNAVAILABLE", "scheduler not wired")
		return
	}
	if err := s.Scheduler.EmergencyStop(c.Request.Context(), id); err != nil {
		if errors.Is(err, bot.ErrNotFound) {
			errJSON(c, http.StatusNotFound, "BOT_NOT_FOUND", "bot not found")
			return
		}
		errJSON(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "position_status": bot.PositionClosed})
}

// getBotDecisions returns a bot's recent decision history (spec §6).
func (s *Server) getBotDecisions(c *gin.Context) {
	id := c.Param("id")
	history, err := s.Store.DecisionHistory(c.Request.Context(), id, parseLimit(c, 100))
	if err != nil {
		errJSON(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"decisions": history})
}

// getBotTrades returns a bot's recent trades (spec §6).
func (s *Server) getBotTrades(c *gin.Context) {
	id := c.Param("id")
	trades, err := s.Store.TradeHistory(c.Request.Context(), id, parseLimit(c, 100))
	if err != nil {
		errJSON(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

// getCacheStats exposes cache occupancy (spec §6 cache/rate-gate stats).
func (s *Server) getCacheStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.Cache.Stats())
}

// getRateLimitStats exposes the shared RateGate's counters and backoff
// state (spec §6).
func (s *Server) getRateLimitStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.Gate.Stats())
}

// getRiskStats exposes the SafetyGate's check/rejection counters (spec §6).
func (s *Server) getRiskStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.Risk.Stats())
}
