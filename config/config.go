package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	BitvavoConfig  BitvavoConfig  `json:"bitvavo"`
	TradingConfig  TradingConfig  `json:"trading"`
	StrategyConfig StrategyConfig `json:"strategy"`
	RiskConfig     RiskConfig     `json:"risk"`
	BacktestConfig BacktestConfig `json:"backtest"`
	ServerConfig   ServerConfig   `json:"server"`
	AuthConfig     AuthConfig     `json:"auth"`
	VaultConfig    VaultConfig    `json:"vault"`
	RedisConfig    RedisConfig    `json:"redis"`
	DatabaseConfig DatabaseConfig `json:"database"`
	LoggingConfig  LoggingConfig  `json:"logging"`
}

type BitvavoConfig struct {
	APIKey       string `json:"api_key"`
	APISecret    string `json:"api_secret"`
	BaseURL      string `json:"base_url"`
	WebsocketURL string `json:"websocket_url"`
	PaperTrading bool   `json:"paper_trading"` // simulate fills instead of placing real orders
}

type TradingConfig struct {
	Market            string        `json:"market"`
	Interval          string        `json:"interval"`
	WindowSize        int           `json:"window_size"`
	OrderFraction     float64       `json:"order_fraction"`      // fraction of available balance per order
	MinOrderValue     float64       `json:"min_order_value"`     // quote currency
	CooldownPeriod    time.Duration `json:"cooldown_period"`     // between orders
	MaxDailyTrades    int           `json:"max_daily_trades"`
	StopLossPercent   float64       `json:"stop_loss_percent"`   // fraction
	TakeProfitPercent float64       `json:"take_profit_percent"` // fraction
	PollInterval      time.Duration `json:"poll_interval"`
	PaperBalance      float64       `json:"paper_balance"` // starting quote balance in paper mode
}

type StrategyConfig struct {
	Active   string         `json:"active"` // rsi, macd, volume_weighted, ensemble
	RSI      RSIConfig      `json:"rsi"`
	MACD     MACDConfig     `json:"macd"`
	Volume   VolumeConfig   `json:"volume"`
	Ensemble EnsembleConfig `json:"ensemble"`
}

type RSIConfig struct {
	Period             int     `json:"period"`
	Oversold           float64 `json:"oversold"`
	Overbought         float64 `json:"overbought"`
	ConfirmationPeriod int     `json:"confirmation_period"`
}

type MACDConfig struct {
	FastPeriod   int     `json:"fast_period"`
	SlowPeriod   int     `json:"slow_period"`
	SignalPeriod int     `json:"signal_period"`
	Threshold    float64 `json:"threshold"`
}

type VolumeConfig struct {
	VolumePeriod         int     `json:"volume_period"`
	VolumeThreshold      float64 `json:"volume_threshold"`
	PriceChangeThreshold float64 `json:"price_change_threshold"`
}

type EnsembleConfig struct {
	Threshold float64 `json:"threshold"`
}

// RiskConfig thresholds are fractions: 0.02 means 2%
type RiskConfig struct {
	MaxRiskPerTrade   float64 `json:"max_risk_per_trade"`
	MaxLeverage       float64 `json:"max_leverage"`
	MaxDailyRisk      float64 `json:"max_daily_risk"`
	MaxDrawdown       float64 `json:"max_drawdown"`
	EmergencyStopLoss float64 `json:"emergency_stop_loss"`
}

type BacktestConfig struct {
	InitialCapital float64 `json:"initial_capital"`
	FeeRate        float64 `json:"fee_rate"`
	Slippage       float64 `json:"slippage"`
	WarmupPeriod   int     `json:"warmup_period"`
}

type ServerConfig struct {
	Enabled         bool   `json:"enabled"`
	Host            string `json:"host"`
	Port            int    `json:"port"`
	AllowedOrigins  string `json:"allowed_origins"`
	ReadTimeout     int    `json:"read_timeout"`     // seconds
	WriteTimeout    int    `json:"write_timeout"`    // seconds
	ShutdownTimeout int    `json:"shutdown_timeout"` // seconds
}

type AuthConfig struct {
	Enabled             bool          `json:"enabled"`
	JWTSecret           string        `json:"jwt_secret"`
	AccessTokenDuration time.Duration `json:"access_token_duration"`
	AdminUsername       string        `json:"admin_username"`
	AdminPasswordHash   string        `json:"admin_password_hash"` // bcrypt
}

type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`
	SecretPath string `json:"secret_path"`
	TLSEnabled bool   `json:"tls_enabled"`
	CACert     string `json:"ca_cert"`
}

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

type DatabaseConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
	MaxConns int    `json:"max_conns"`
}

type LoggingConfig struct {
	Level      string `json:"level"`       // debug, info, warn, error
	JSONFormat bool   `json:"json_format"` // JSON output instead of console
}

// Load reads config.json if present and applies environment overrides on
// top. Environment variables always win.
func Load() (*Config, error) {
	return LoadFile("config.json")
}

// Default returns the built-in defaults without validation. Useful for
// tooling that needs no exchange credentials.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// LoadFile loads a specific config file with environment overrides
func LoadFile(filename string) (*Config, error) {
	cfg, err := loadFromFile(filename)
	if err != nil {
		cfg = &Config{}
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.BitvavoConfig.BaseURL == "" {
		cfg.BitvavoConfig.BaseURL = "https://api.bitvavo.com/v2"
	}
	if cfg.BitvavoConfig.WebsocketURL == "" {
		cfg.BitvavoConfig.WebsocketURL = "wss://ws.bitvavo.com/v2/"
	}

	if cfg.TradingConfig.Market == "" {
		cfg.TradingConfig.Market = "BTC-EUR"
	}
	if cfg.TradingConfig.Interval == "" {
		cfg.TradingConfig.Interval = "1m"
	}
	if cfg.TradingConfig.WindowSize == 0 {
		cfg.TradingConfig.WindowSize = 100
	}
	if cfg.TradingConfig.OrderFraction == 0 {
		cfg.TradingConfig.OrderFraction = 0.1
	}
	if cfg.TradingConfig.MinOrderValue == 0 {
		cfg.TradingConfig.MinOrderValue = 10
	}
	if cfg.TradingConfig.CooldownPeriod == 0 {
		cfg.TradingConfig.CooldownPeriod = 5 * time.Minute
	}
	if cfg.TradingConfig.MaxDailyTrades == 0 {
		cfg.TradingConfig.MaxDailyTrades = 10
	}
	if cfg.TradingConfig.StopLossPercent == 0 {
		cfg.TradingConfig.StopLossPercent = 0.02
	}
	if cfg.TradingConfig.TakeProfitPercent == 0 {
		cfg.TradingConfig.TakeProfitPercent = 0.03
	}
	if cfg.TradingConfig.PollInterval == 0 {
		cfg.TradingConfig.PollInterval = time.Minute
	}
	if cfg.TradingConfig.PaperBalance == 0 {
		cfg.TradingConfig.PaperBalance = 10000
	}

	if cfg.StrategyConfig.Active == "" {
		cfg.StrategyConfig.Active = "rsi"
	}
	if cfg.StrategyConfig.RSI.Period == 0 {
		cfg.StrategyConfig.RSI = RSIConfig{Period: 14, Oversold: 30, Overbought: 70, ConfirmationPeriod: 3}
	}
	if cfg.StrategyConfig.MACD.FastPeriod == 0 {
		cfg.StrategyConfig.MACD = MACDConfig{FastPeriod: 12, SlowPeriod: 26, SignalPeriod: 9, Threshold: 0.0002}
	}
	if cfg.StrategyConfig.Volume.VolumePeriod == 0 {
		cfg.StrategyConfig.Volume = VolumeConfig{VolumePeriod: 10, VolumeThreshold: 1.5, PriceChangeThreshold: 0.02}
	}
	if cfg.StrategyConfig.Ensemble.Threshold == 0 {
		cfg.StrategyConfig.Ensemble.Threshold = 0.6
	}

	if cfg.RiskConfig.MaxRiskPerTrade == 0 {
		cfg.RiskConfig.MaxRiskPerTrade = 0.02
	}
	if cfg.RiskConfig.MaxLeverage == 0 {
		cfg.RiskConfig.MaxLeverage = 3
	}
	if cfg.RiskConfig.MaxDailyRisk == 0 {
		cfg.RiskConfig.MaxDailyRisk = 0.05
	}
	if cfg.RiskConfig.MaxDrawdown == 0 {
		cfg.RiskConfig.MaxDrawdown = 0.10
	}
	if cfg.RiskConfig.EmergencyStopLoss == 0 {
		cfg.RiskConfig.EmergencyStopLoss = 0.15
	}

	if cfg.BacktestConfig.InitialCapital == 0 {
		cfg.BacktestConfig.InitialCapital = 10000
	}
	if cfg.BacktestConfig.FeeRate == 0 {
		cfg.BacktestConfig.FeeRate = 0.0025
	}
	if cfg.BacktestConfig.WarmupPeriod == 0 {
		cfg.BacktestConfig.WarmupPeriod = 50
	}

	if cfg.ServerConfig.Host == "" {
		cfg.ServerConfig.Host = "0.0.0.0"
	}
	if cfg.ServerConfig.Port == 0 {
		cfg.ServerConfig.Port = 8080
	}
	if cfg.ServerConfig.AllowedOrigins == "" {
		cfg.ServerConfig.AllowedOrigins = "*"
	}
	if cfg.ServerConfig.ReadTimeout == 0 {
		cfg.ServerConfig.ReadTimeout = 30
	}
	if cfg.ServerConfig.WriteTimeout == 0 {
		cfg.ServerConfig.WriteTimeout = 30
	}
	if cfg.ServerConfig.ShutdownTimeout == 0 {
		cfg.ServerConfig.ShutdownTimeout = 10
	}

	if cfg.AuthConfig.AccessTokenDuration == 0 {
		cfg.AuthConfig.AccessTokenDuration = 15 * time.Minute
	}

	if cfg.VaultConfig.Address == "" {
		cfg.VaultConfig.Address = "http://localhost:8200"
	}
	if cfg.VaultConfig.MountPath == "" {
		cfg.VaultConfig.MountPath = "secret"
	}
	if cfg.VaultConfig.SecretPath == "" {
		cfg.VaultConfig.SecretPath = "trading-bot/credentials"
	}

	if cfg.RedisConfig.Address == "" {
		cfg.RedisConfig.Address = "localhost:6379"
	}
	if cfg.RedisConfig.PoolSize == 0 {
		cfg.RedisConfig.PoolSize = 10
	}

	if cfg.DatabaseConfig.Host == "" {
		cfg.DatabaseConfig.Host = "localhost"
	}
	if cfg.DatabaseConfig.Port == 0 {
		cfg.DatabaseConfig.Port = 5432
	}
	if cfg.DatabaseConfig.SSLMode == "" {
		cfg.DatabaseConfig.SSLMode = "disable"
	}
	if cfg.DatabaseConfig.MaxConns == 0 {
		cfg.DatabaseConfig.MaxConns = 10
	}

	if cfg.LoggingConfig.Level == "" {
		cfg.LoggingConfig.Level = "info"
	}
}

func applyEnvOverrides(cfg *Config) {
	cfg.BitvavoConfig.APIKey = getEnvOrDefault("BITVAVO_API_KEY", cfg.BitvavoConfig.APIKey)
	cfg.BitvavoConfig.APISecret = getEnvOrDefault("BITVAVO_API_SECRET", cfg.BitvavoConfig.APISecret)
	cfg.BitvavoConfig.BaseURL = getEnvOrDefault("BITVAVO_BASE_URL", cfg.BitvavoConfig.BaseURL)
	cfg.BitvavoConfig.WebsocketURL = getEnvOrDefault("BITVAVO_WS_URL", cfg.BitvavoConfig.WebsocketURL)
	cfg.BitvavoConfig.PaperTrading = getEnvBoolOrDefault("PAPER_TRADING", cfg.BitvavoConfig.PaperTrading)

	cfg.TradingConfig.Market = getEnvOrDefault("TRADING_MARKET", cfg.TradingConfig.Market)
	cfg.TradingConfig.Interval = getEnvOrDefault("TRADING_INTERVAL", cfg.TradingConfig.Interval)
	cfg.TradingConfig.OrderFraction = getEnvFloatOrDefault("TRADING_ORDER_FRACTION", cfg.TradingConfig.OrderFraction)
	cfg.TradingConfig.MinOrderValue = getEnvFloatOrDefault("TRADING_MIN_ORDER_VALUE", cfg.TradingConfig.MinOrderValue)
	cfg.TradingConfig.CooldownPeriod = getEnvDurationOrDefault("TRADING_COOLDOWN", cfg.TradingConfig.CooldownPeriod)
	cfg.TradingConfig.MaxDailyTrades = getEnvIntOrDefault("TRADING_MAX_DAILY_TRADES", cfg.TradingConfig.MaxDailyTrades)
	cfg.TradingConfig.PollInterval = getEnvDurationOrDefault("TRADING_POLL_INTERVAL", cfg.TradingConfig.PollInterval)

	cfg.StrategyConfig.Active = getEnvOrDefault("STRATEGY_ACTIVE", cfg.StrategyConfig.Active)

	cfg.RiskConfig.MaxRiskPerTrade = getEnvFloatOrDefault("RISK_MAX_PER_TRADE", cfg.RiskConfig.MaxRiskPerTrade)
	cfg.RiskConfig.MaxLeverage = getEnvFloatOrDefault("RISK_MAX_LEVERAGE", cfg.RiskConfig.MaxLeverage)
	cfg.RiskConfig.MaxDailyRisk = getEnvFloatOrDefault("RISK_MAX_DAILY", cfg.RiskConfig.MaxDailyRisk)
	cfg.RiskConfig.MaxDrawdown = getEnvFloatOrDefault("RISK_MAX_DRAWDOWN", cfg.RiskConfig.MaxDrawdown)
	cfg.RiskConfig.EmergencyStopLoss = getEnvFloatOrDefault("RISK_EMERGENCY_STOP", cfg.RiskConfig.EmergencyStopLoss)

	cfg.ServerConfig.Enabled = getEnvBoolOrDefault("SERVER_ENABLED", cfg.ServerConfig.Enabled)
	cfg.ServerConfig.Host = getEnvOrDefault("SERVER_HOST", cfg.ServerConfig.Host)
	cfg.ServerConfig.Port = getEnvIntOrDefault("SERVER_PORT", cfg.ServerConfig.Port)
	cfg.ServerConfig.AllowedOrigins = getEnvOrDefault("SERVER_ALLOWED_ORIGINS", cfg.ServerConfig.AllowedOrigins)

	cfg.AuthConfig.Enabled = getEnvBoolOrDefault("AUTH_ENABLED", cfg.AuthConfig.Enabled)
	cfg.AuthConfig.JWTSecret = getEnvOrDefault("AUTH_JWT_SECRET", cfg.AuthConfig.JWTSecret)
	cfg.AuthConfig.AccessTokenDuration = getEnvDurationOrDefault("AUTH_ACCESS_TOKEN_DURATION", cfg.AuthConfig.AccessTokenDuration)
	cfg.AuthConfig.AdminUsername = getEnvOrDefault("AUTH_ADMIN_USERNAME", cfg.AuthConfig.AdminUsername)
	cfg.AuthConfig.AdminPasswordHash = getEnvOrDefault("AUTH_ADMIN_PASSWORD_HASH", cfg.AuthConfig.AdminPasswordHash)

	cfg.VaultConfig.Enabled = getEnvBoolOrDefault("VAULT_ENABLED", cfg.VaultConfig.Enabled)
	cfg.VaultConfig.Address = getEnvOrDefault("VAULT_ADDR", cfg.VaultConfig.Address)
	cfg.VaultConfig.Token = getEnvOrDefault("VAULT_TOKEN", cfg.VaultConfig.Token)
	cfg.VaultConfig.MountPath = getEnvOrDefault("VAULT_MOUNT_PATH", cfg.VaultConfig.MountPath)
	cfg.VaultConfig.SecretPath = getEnvOrDefault("VAULT_SECRET_PATH", cfg.VaultConfig.SecretPath)

	cfg.RedisConfig.Enabled = getEnvBoolOrDefault("REDIS_ENABLED", cfg.RedisConfig.Enabled)
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDRESS", cfg.RedisConfig.Address)
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", cfg.RedisConfig.DB)

	cfg.DatabaseConfig.Enabled = getEnvBoolOrDefault("DATABASE_ENABLED", cfg.DatabaseConfig.Enabled)
	cfg.DatabaseConfig.Host = getEnvOrDefault("DATABASE_HOST", cfg.DatabaseConfig.Host)
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DATABASE_PORT", cfg.DatabaseConfig.Port)
	cfg.DatabaseConfig.User = getEnvOrDefault("DATABASE_USER", cfg.DatabaseConfig.User)
	cfg.DatabaseConfig.Password = getEnvOrDefault("DATABASE_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Database = getEnvOrDefault("DATABASE_NAME", cfg.DatabaseConfig.Database)
	cfg.DatabaseConfig.SSLMode = getEnvOrDefault("DATABASE_SSLMODE", cfg.DatabaseConfig.SSLMode)

	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", cfg.LoggingConfig.Level)
	cfg.LoggingConfig.JSONFormat = getEnvBoolOrDefault("LOG_JSON", cfg.LoggingConfig.JSONFormat)
}

// Validate rejects configurations that would make the risk checks
// meaningless. Live trading without credentials is also refused.
func (c *Config) Validate() error {
	if !c.BitvavoConfig.PaperTrading && (c.BitvavoConfig.APIKey == "" || c.BitvavoConfig.APISecret == "") {
		return fmt.Errorf("live trading requires BITVAVO_API_KEY and BITVAVO_API_SECRET")
	}

	r := c.RiskConfig
	for name, v := range map[string]float64{
		"max_risk_per_trade":  r.MaxRiskPerTrade,
		"max_daily_risk":      r.MaxDailyRisk,
		"max_drawdown":        r.MaxDrawdown,
		"emergency_stop_loss": r.EmergencyStopLoss,
	} {
		if v <= 0 || v > 1 {
			return fmt.Errorf("risk.%s must be a fraction in (0,1], got %v", name, v)
		}
	}
	if r.MaxLeverage < 1 {
		return fmt.Errorf("risk.max_leverage must be at least 1, got %v", r.MaxLeverage)
	}
	if r.EmergencyStopLoss < r.MaxDrawdown {
		return fmt.Errorf("risk.emergency_stop_loss %v must not be below risk.max_drawdown %v", r.EmergencyStopLoss, r.MaxDrawdown)
	}

	t := c.TradingConfig
	if t.OrderFraction <= 0 || t.OrderFraction > 1 {
		return fmt.Errorf("trading.order_fraction must be a fraction in (0,1], got %v", t.OrderFraction)
	}
	if t.MaxDailyTrades < 1 {
		return fmt.Errorf("trading.max_daily_trades must be at least 1, got %d", t.MaxDailyTrades)
	}

	switch c.StrategyConfig.Active {
	case "rsi", "macd", "volume_weighted", "ensemble":
	default:
		return fmt.Errorf("strategy.active must be one of rsi, macd, volume_weighted, ensemble; got %q", c.StrategyConfig.Active)
	}

	if c.AuthConfig.Enabled && c.AuthConfig.JWTSecret == "" {
		return fmt.Errorf("auth is enabled but auth.jwt_secret is empty")
	}
	return nil
}

// DSN builds the PostgreSQL connection string
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Database, d.SSLMode)
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(file, &cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}
	return &cfg, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
