// Package config loads process-wide settings for the trading core from the
// environment, with an optional .env file for local development.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the market-data and
// signal-evaluation engine.
type Config struct {
	Port string

	// Upstream rate budget (spec §4.1, §6).
	RateLimitPerMinute int
	RateLimitBurst     int

	// Cache TTLs (spec §4.2).
	TickerTTL  time.Duration
	CandlesTTL time.Duration
	AccountsTTL time.Duration
	BalanceTTL time.Duration

	// Scheduler cadence (spec §4.8).
	FastTickMs int
	SlowTickMs int

	// Safety gate global caps (spec §4.6).
	MaxActivePositions int
	MaxDailyTrades     int
	MaxDailyLossUSD    float64

	// Tranche accounting defaults (spec §3).
	MinTrancheUSD       float64
	MaxPositionTranches int
	TrancheCooldownMin  int

	// Evaluator worker pool size (spec §5).
	EvaluatorParallelism int

	// Market data source: "mock" or "rest".
	MarketSource string
	MarketBaseURL string

	// Database
	DBPath string

	// Bot fleet bootstrap file (YAML, optional).
	BotsConfigPath string
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	return &Config{
		Port: getEnv("PORT", "8080"),

		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 9),
		RateLimitBurst:     getEnvInt("RATE_LIMIT_BURST", 9),

		TickerTTL:   time.Duration(getEnvInt("CACHE_TTL_TICKER_MS", 30_000)) * time.Millisecond,
		CandlesTTL:  time.Duration(getEnvInt("CACHE_TTL_CANDLES_MS", 300_000)) * time.Millisecond,
		AccountsTTL: time.Duration(getEnvInt("CACHE_TTL_ACCOUNTS_MS", 120_000)) * time.Millisecond,
		BalanceTTL:  time.Duration(getEnvInt("CACHE_TTL_BALANCE_MS", 60_000)) * time.Millisecond,

		FastTickMs: getEnvInt("FAST_TICK_MS", 5_000),
		SlowTickMs: getEnvInt("SLOW_TICK_MS", 60_000),

		MaxActivePositions: getEnvInt("MAX_ACTIVE_POSITIONS", 25),
		MaxDailyTrades:     getEnvInt("MAX_DAILY_TRADES", 200),
		MaxDailyLossUSD:    getEnvFloat("MAX_DAILY_LOSS_USD", 2000.0),

		MinTrancheUSD:       getEnvFloat("MIN_TRANCHE_USD", 10.0),
		MaxPositionTranches: getEnvInt("MAX_POSITION_TRANCHES", 4),
		TrancheCooldownMin:  getEnvInt("TRANCHE_COOLDOWN_MIN", 5),

		EvaluatorParallelism: getEnvInt("EVALUATOR_PARALLELISM", 6),

		MarketSource:  strings.ToLower(getEnv("MARKET_SOURCE", "mock")),
		MarketBaseURL: getEnv("MARKET_BASE_URL", ""),

		DBPath: getEnv("DB_PATH", "./data/tradecore.db"),

		BotsConfigPath: getEnv("BOTS_CONFIG_PATH", ""),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}
