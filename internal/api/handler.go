package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"tradecore/internal/bot"
	"tradecore/internal/cache"
	"tradecore/internal/events"
	"tradecore/internal/ratelimit"
	"tradecore/internal/risk"
)

// emergencyStopper is the Scheduler's emergency-stop seam (spec §4.8,
// §8 Testable Property 8), narrowed to the one method this package
// calls so api doesn't need to import scheduler.
type emergencyStopper interface {
	EmergencyStop(ctx context.Context, botID string) error
}

// Server wires the control API of spec §6 (bot CRUD, start/stop, decision
// history, trades, cache/rate-gate stats) around the event bus and the
// fleet's shared components.
type Server struct {
	Router    *gin.Engine
	Bus       *events.Bus
	Store     *bot.Store
	Cache     *cache.Cache
	Gate      *ratelimit.Gate
	Risk      *risk.Gate
	Scheduler emergencyStopper

	Meta SystemMeta
}

// SystemMeta describes runtime status exposed to the UI (spec §6).
type SystemMeta struct {
	UseMockFeed bool
	Version     string
}

// NewServer builds the control API over the fleet's shared components.
func NewServer(bus *events.Bus, store *bot.Store, c *cache.Cache, gate *ratelimit.Gate, riskGate *risk.Gate, sched emergencyStopper, meta SystemMeta) *Server {
	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())                      // panic recovery, first
	r.Use(RequestIDMiddleware())               // request ID tracking
	r.Use(RequestLogger())                      // request logging, after ID is set
	r.Use(RateLimitMiddleware())                // per-IP abuse throttling
	r.Use(TimeoutMiddleware(30 * time.Second))  // request timeout
	r.Use(CORSMiddleware())                     // CORS, last before routes

	s := &Server{
		Router:    r,
		Bus:       bus,
		Store:     store,
		Cache:     c,
		Gate:      gate,
		Risk:      riskGate,
		Scheduler: sched,
		Meta:      meta,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.liveFeed)

	api := s.Router.Group("/api/v1")
	{
		api.GET("/system/status", s.getSystemStatus)
		api.GET("/stats/cache", s.getCacheStats)
		api.GET("/stats/ratelimit", s.getRateLimitStats)
		api.GET("/stats/risk", s.getRiskStats)

		bots := api.Group("/bots")
		{
			bots.GET("", s.listBots)
			bots.POST("", s.createBot)
			bots.GET("/:id", s.getBot)
			bots.PUT("/:id", s.updateBot)
			bots.DELETE("/:id", s.deleteBot)
			bots.POST("/:id/start", s.startBot)
			bots.POST("/:id/stop", s.stopBot)
			bots.POST("/:id/emergency-stop", s.emergencyStopBot)
			bots.GET("/:id/decisions", s.getBotDecisions)
			bots.GET("/:id/trades", s.getBotTrades)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) getSystemStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"use_mock_feed": s.Meta.UseMockFeed,
		"version":       s.Meta.Version,
	})
}

// Start runs the control API's HTTP listener.
func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}
