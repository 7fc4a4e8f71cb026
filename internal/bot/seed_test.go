package bot

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

const testSeedYAML = `
bots:
  - id: bot-btc
    name: BTC Scalper
    pair: BTC-USD
    position_size_usd: 100
    max_positions: 3
    stop_loss_pct: 0.05
    take_profit_pct: 0.1
    cooldown_minutes: 15
    trade_step_pct: 0.02
    position_ceiling_usd: 500
    tranche_close_order: fifo
    temperature_floor: warm
    auto_start: true
    signal_config:
      buy_threshold: -0.5
      sell_threshold: 0.5
      confirmation_minutes: 10
      signals:
        - name: rsi
          weight: 0.6
          enabled: true
          params:
            period: 14
        - name: ma_cross
          weight: 0.4
          enabled: true
          params:
            fast_period: 10
            slow_period: 30
`

func writeSeedFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "bots.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write seed file: %v", err)
	}
	return path
}

func TestLoadSeedFileParsesBots(t *testing.T) {
	path := writeSeedFile(t, testSeedYAML)

	configs, err := LoadSeedFile(path)
	if err != nil {
		t.Fatalf("load seed file: %v", err)
	}
	if len(configs) != 1 {
		t.Fatalf("expected 1 bot config, got %d", len(configs))
	}
	c := configs[0]
	if c.ID != "bot-btc" || c.Pair != "BTC-USD" {
		t.Fatalf("unexpected config identity: %+v", c)
	}
	if len(c.SignalConfig.Signals) != 2 {
		t.Fatalf("expected 2 signals, got %d", len(c.SignalConfig.Signals))
	}
	if !c.AutoStart {
		t.Fatalf("expected auto_start true")
	}
}

func TestLoadSeedFileMissingFile(t *testing.T) {
	if _, err := LoadSeedFile("/nonexistent/bots.yaml"); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestSyncCreatesNewBotsAndAutoStarts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	path := writeSeedFile(t, testSeedYAML)

	configs, err := LoadSeedFile(path)
	if err != nil {
		t.Fatalf("load seed file: %v", err)
	}
	if err := Sync(ctx, s, configs); err != nil {
		t.Fatalf("sync: %v", err)
	}

	got, err := s.Get(ctx, "bot-btc")
	if err != nil {
		t.Fatalf("get synced bot: %v", err)
	}
	if got.Status != StatusRunning {
		t.Fatalf("expected auto_start to set status running, got %s", got.Status)
	}
	if got.TrancheCloseOrder != CloseFIFO || got.TemperatureFloor != TempWarm {
		t.Fatalf("unexpected risk-cap fields: %+v", got)
	}
}

func TestSyncPreservesLiveStateOnRerun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	path := writeSeedFile(t, testSeedYAML)
	configs, err := LoadSeedFile(path)
	if err != nil {
		t.Fatalf("load seed file: %v", err)
	}
	if err := Sync(ctx, s, configs); err != nil {
		t.Fatalf("sync: %v", err)
	}

	// Simulate the bot having traded and accrued live state.
	running, err := s.Get(ctx, "bot-btc")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	running.CurrentCombinedScore = -0.73
	running.Temperature = TempHot
	running.Status = StatusRunning
	if err := s.Save(ctx, running); err != nil {
		t.Fatalf("save live state: %v", err)
	}

	// Re-running the seed sync must not clobber the live fields.
	if err := Sync(ctx, s, configs); err != nil {
		t.Fatalf("re-sync: %v", err)
	}
	after, err := s.Get(ctx, "bot-btc")
	if err != nil {
		t.Fatalf("get after re-sync: %v", err)
	}
	if after.CurrentCombinedScore != -0.73 || after.Temperature != TempHot {
		t.Fatalf("re-sync clobbered live state: %+v", after)
	}
}

func TestSyncRejectsInvalidBot(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	invalid := `
bots:
  - id: bad-bot
    name: Bad
    pair: ETH-USD
    stop_loss_pct: 0
    take_profit_pct: 0.1
    signal_config:
      buy_threshold: -0.5
      sell_threshold: 0.5
`
	path := writeSeedFile(t, invalid)
	configs, err := LoadSeedFile(path)
	if err != nil {
		t.Fatalf("load seed file: %v", err)
	}
	if err := Sync(ctx, s, configs); err == nil {
		t.Fatalf("expected validation error for non-positive stop_loss_pct")
	}
}
