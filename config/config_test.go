package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFileDefaults(t *testing.T) {
	t.Setenv("PAPER_TRADING", "true")

	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}

	if cfg.TradingConfig.Market != "BTC-EUR" {
		t.Errorf("Market = %q, want BTC-EUR", cfg.TradingConfig.Market)
	}
	if cfg.RiskConfig.MaxRiskPerTrade != 0.02 {
		t.Errorf("MaxRiskPerTrade = %v, want 0.02", cfg.RiskConfig.MaxRiskPerTrade)
	}
	if cfg.StrategyConfig.RSI.Period != 14 || cfg.StrategyConfig.RSI.ConfirmationPeriod != 3 {
		t.Errorf("RSI defaults = %+v, want period 14 confirmation 3", cfg.StrategyConfig.RSI)
	}
}

func TestLoadFileWithoutCredentialsFails(t *testing.T) {
	// live mode is the default; without credentials Load must refuse
	t.Setenv("PAPER_TRADING", "")
	t.Setenv("BITVAVO_API_KEY", "")
	t.Setenv("BITVAVO_API_SECRET", "")
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("LoadFile() = nil error without credentials, want refusal")
	}
}

func TestLoadFileParsesJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	content := `{
		"bitvavo": {"paper_trading": true},
		"trading": {"market": "ETH-EUR", "max_daily_trades": 5},
		"risk": {"max_risk_per_trade": 0.01}
	}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if cfg.TradingConfig.Market != "ETH-EUR" {
		t.Errorf("Market = %q, want ETH-EUR", cfg.TradingConfig.Market)
	}
	if cfg.TradingConfig.MaxDailyTrades != 5 {
		t.Errorf("MaxDailyTrades = %d, want 5", cfg.TradingConfig.MaxDailyTrades)
	}
	if cfg.RiskConfig.MaxRiskPerTrade != 0.01 {
		t.Errorf("MaxRiskPerTrade = %v, want 0.01 from file", cfg.RiskConfig.MaxRiskPerTrade)
	}
	// untouched sections still get defaults
	if cfg.RiskConfig.MaxLeverage != 3 {
		t.Errorf("MaxLeverage = %v, want default 3", cfg.RiskConfig.MaxLeverage)
	}
}

func TestEnvOverridesWin(t *testing.T) {
	t.Setenv("PAPER_TRADING", "true")
	t.Setenv("TRADING_MARKET", "ADA-EUR")
	t.Setenv("RISK_MAX_LEVERAGE", "2")

	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if cfg.TradingConfig.Market != "ADA-EUR" {
		t.Errorf("Market = %q, want ADA-EUR from env", cfg.TradingConfig.Market)
	}
	if cfg.RiskConfig.MaxLeverage != 2 {
		t.Errorf("MaxLeverage = %v, want 2 from env", cfg.RiskConfig.MaxLeverage)
	}
}

func TestValidateRejectsBadRiskFractions(t *testing.T) {
	cfg := &Config{}
	applyDefaults(cfg)
	cfg.BitvavoConfig.PaperTrading = true

	cfg.RiskConfig.MaxDrawdown = 1.5
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() = nil with max_drawdown 1.5, want error")
	}

	cfg.RiskConfig.MaxDrawdown = 0.10
	cfg.RiskConfig.EmergencyStopLoss = 0.05 // below max_drawdown
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() = nil with emergency below drawdown limit, want error")
	}
}

func TestValidateRequiresCredentialsForLive(t *testing.T) {
	cfg := &Config{}
	applyDefaults(cfg)
	cfg.BitvavoConfig.PaperTrading = false

	if err := cfg.Validate(); err == nil {
		t.Error("Validate() = nil for live mode without credentials, want error")
	}

	cfg.BitvavoConfig.APIKey = "key"
	cfg.BitvavoConfig.APISecret = "secret"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v with credentials set", err)
	}
}

func TestValidateUnknownStrategy(t *testing.T) {
	cfg := &Config{}
	applyDefaults(cfg)
	cfg.BitvavoConfig.PaperTrading = true
	cfg.StrategyConfig.Active = "martingale"

	if err := cfg.Validate(); err == nil {
		t.Error("Validate() = nil for unknown strategy, want error")
	}
}
