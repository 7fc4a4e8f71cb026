package bot

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// SeedConfig mirrors a Bot's static fields in YAML, the bootstrap
// fleet-definition format loaded at startup. Grounded on the teacher's
// internal/strategy/config_loader.go Config/ConfigFile shape, generalized
// from one strategy per entry to one full bot per entry.
type SeedConfig struct {
	ID                 string            `yaml:"id"`
	Name               string            `yaml:"name"`
	Pair               string            `yaml:"pair"`
	PositionSizeUSD    float64           `yaml:"position_size_usd"`
	MaxPositions       int               `yaml:"max_positions"`
	StopLossPct        float64           `yaml:"stop_loss_pct"`
	TakeProfitPct      float64           `yaml:"take_profit_pct"`
	CooldownMinutes    float64           `yaml:"cooldown_minutes"`
	TradeStepPct       float64           `yaml:"trade_step_pct"`
	PositionCeilingUSD float64           `yaml:"position_ceiling_usd"`
	TrancheCloseOrder  TrancheCloseOrder `yaml:"tranche_close_order"`
	TemperatureFloor   Temperature       `yaml:"temperature_floor"`
	SignalConfig       SignalConfig      `yaml:"signal_config"`
	AutoStart          bool              `yaml:"auto_start"`
}

// SeedFile is the top-level YAML structure, one fleet definition per file.
type SeedFile struct {
	Bots []SeedConfig `yaml:"bots"`
}

// LoadSeedFile reads bot definitions from a YAML file.
func LoadSeedFile(path string) ([]SeedConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}

	var file SeedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	return file.Bots, nil
}

// Sync upserts the seed fleet into the store. Existing bots keep their
// status and live fields (score, temperature, tranches) untouched, while
// their statically-configured fields are refreshed from the seed file; a
// bot absent from the store is created fresh.
func Sync(ctx context.Context, s *Store, configs []SeedConfig) error {
	for _, c := range configs {
		existing, err := s.Get(ctx, c.ID)
		if err != nil && err != ErrNotFound {
			return fmt.Errorf("load existing bot %s: %w", c.ID, err)
		}

		b := configToBot(c)
		if err == nil {
			// Bot already exists: keep its live state, only refresh
			// the statically-configured fields from the seed file.
			b.Status = existing.Status
			b.CurrentCombinedScore = existing.CurrentCombinedScore
			b.Temperature = existing.Temperature
			b.PositionTranches = existing.PositionTranches
			b.PositionStatus = existing.PositionStatus
			b.PendingAction = existing.PendingAction
			b.ConfirmationStart = existing.ConfirmationStart
			b.LastTradeTs = existing.LastTradeTs
			b.LastTradePrice = existing.LastTradePrice
			b.CreatedAt = existing.CreatedAt
		} else if c.AutoStart {
			b.Status = StatusRunning
		}

		if verr := b.Validate(); verr != nil {
			return fmt.Errorf("seed bot %s invalid: %w", c.ID, verr)
		}
		if err := s.Save(ctx, b); err != nil {
			return fmt.Errorf("sync bot %s: %w", c.ID, err)
		}
	}
	return nil
}

func configToBot(c SeedConfig) *Bot {
	now := time.Now()
	closeOrder := c.TrancheCloseOrder
	if closeOrder == "" {
		closeOrder = CloseFIFO
	}
	floor := c.TemperatureFloor
	if floor == "" {
		floor = TempFrozen
	}
	return &Bot{
		ID:                 c.ID,
		Name:               c.Name,
		Pair:               c.Pair,
		Status:             StatusStopped,
		PositionSizeUSD:    c.PositionSizeUSD,
		MaxPositions:       c.MaxPositions,
		StopLossPct:        c.StopLossPct,
		TakeProfitPct:      c.TakeProfitPct,
		CooldownMinutes:    c.CooldownMinutes,
		TradeStepPct:       c.TradeStepPct,
		PositionCeilingUSD: c.PositionCeilingUSD,
		TrancheCloseOrder:  closeOrder,
		TemperatureFloor:   floor,
		SignalConfig:       c.SignalConfig,
		PositionStatus:     PositionClosed,
		PendingAction:      ActionHold,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}
