package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"bitvavo-trading-bot/config"
	"bitvavo-trading-bot/internal/api"
	"bitvavo-trading-bot/internal/backtest"
	"bitvavo-trading-bot/internal/bitvavo"
	"bitvavo-trading-bot/internal/cache"
	"bitvavo-trading-bot/internal/database"
	"bitvavo-trading-bot/internal/events"
	"bitvavo-trading-bot/internal/logging"
	"bitvavo-trading-bot/internal/performance"
	"bitvavo-trading-bot/internal/risk"
	"bitvavo-trading-bot/internal/strategy"
	"bitvavo-trading-bot/internal/trading"
	"bitvavo-trading-bot/internal/vault"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LoggingConfig)
	logger.Info().
		Str("market", cfg.TradingConfig.Market).
		Str("strategy", cfg.StrategyConfig.Active).
		Bool("paper", cfg.BitvavoConfig.PaperTrading).
		Msg("Starting trading bot")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	apiKey, apiSecret := loadCredentials(ctx, cfg, logger)
	liveClient := bitvavo.NewClient(apiKey, apiSecret, cfg.BitvavoConfig.BaseURL)

	var client bitvavo.ExchangeClient = liveClient
	var paperBroker *bitvavo.PaperClient
	if cfg.BitvavoConfig.PaperTrading {
		paperBroker = bitvavo.NewPaperClient(
			quoteOf(cfg.TradingConfig.Market),
			cfg.TradingConfig.PaperBalance,
			cfg.BacktestConfig.FeeRate,
			cfg.BacktestConfig.Slippage,
		)
		client = &paperSession{ExchangeClient: liveClient, broker: paperBroker}
		logger.Info().Float64("balance", cfg.TradingConfig.PaperBalance).Msg("Paper trading enabled, orders are simulated")
	}

	if cfg.RedisConfig.Enabled {
		candleCache, err := cache.NewCandleCache(cfg.RedisConfig, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to initialize Redis cache")
		}
		defer candleCache.Close()
		client = cache.NewCachedClient(client, candleCache)
	}

	var repo *database.Repository
	if cfg.DatabaseConfig.Enabled {
		db, err := database.NewDB(cfg.DatabaseConfig, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to connect to database")
		}
		defer db.Close()
		if err := db.RunMigrations(ctx); err != nil {
			logger.Fatal().Err(err).Msg("Failed to run migrations")
		}
		repo = database.NewRepository(db)
	}

	bus := events.NewBus()
	monitor := performance.NewMonitor(initialBalance(cfg), 0, logger)
	riskMgr := risk.NewManager(risk.Limits{
		MaxRiskPerTrade:   cfg.RiskConfig.MaxRiskPerTrade,
		MaxLeverage:       cfg.RiskConfig.MaxLeverage,
		MaxDailyRisk:      cfg.RiskConfig.MaxDailyRisk,
		MaxDrawdown:       cfg.RiskConfig.MaxDrawdown,
		EmergencyStopLoss: cfg.RiskConfig.EmergencyStopLoss,
	}, client, monitor, bus, quoteOf(cfg.TradingConfig.Market), logger)

	if repo != nil {
		subscribePersistence(bus, repo, logger)
	}

	strat, err := buildStrategy(cfg.StrategyConfig, cfg.StrategyConfig.Active)
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid strategy configuration")
	}

	trader := trading.NewManager(trading.Config{
		Market:            cfg.TradingConfig.Market,
		Interval:          cfg.TradingConfig.Interval,
		WindowSize:        cfg.TradingConfig.WindowSize,
		OrderFraction:     cfg.TradingConfig.OrderFraction,
		MinOrderValue:     cfg.TradingConfig.MinOrderValue,
		CooldownPeriod:    cfg.TradingConfig.CooldownPeriod,
		MaxDailyTrades:    cfg.TradingConfig.MaxDailyTrades,
		StopLossPercent:   cfg.TradingConfig.StopLossPercent,
		TakeProfitPercent: cfg.TradingConfig.TakeProfitPercent,
		PollInterval:      cfg.TradingConfig.PollInterval,
	}, client, strat, riskMgr, bus, logger)

	if err := trader.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start trading manager")
	}

	if cfg.BitvavoConfig.WebsocketURL != "" {
		stream := bitvavo.NewMarketStream(
			cfg.BitvavoConfig.WebsocketURL,
			[]string{cfg.TradingConfig.Market},
			cfg.TradingConfig.Interval,
			logger,
		)
		stream.OnCandle(func(market, interval string, candle bitvavo.Candle) {
			if market != cfg.TradingConfig.Market || interval != cfg.TradingConfig.Interval {
				return
			}
			if !trader.Status().Running {
				return
			}
			// evaluation does its own network round trips; keep the
			// websocket read loop clear of them
			go func() {
				if err := trader.Evaluate(ctx); err != nil && ctx.Err() == nil {
					logger.Error().Err(err).Msg("Candle-driven evaluation failed")
				}
			}()
		})
		stream.OnTicker(func(market string, price float64) {
			if paperBroker != nil {
				paperBroker.SetPrice(market, price)
			}
			bus.Publish(events.Event{Type: events.EventPriceUpdate, Data: map[string]interface{}{
				"market": market,
				"price":  price,
			}})
		})
		go func() {
			if err := stream.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error().Err(err).Msg("Market stream terminated")
			}
		}()
	}

	var server *api.Server
	if cfg.ServerConfig.Enabled {
		server = api.NewServer(cfg.ServerConfig, cfg.AuthConfig, api.Deps{
			Trader:   trader,
			RiskMgr:  riskMgr,
			Monitor:  monitor,
			Repo:     repo,
			Backtest: backtestRunner(cfg, client, logger),
		}, logger)
		go func() {
			if err := server.Start(); err != nil {
				logger.Error().Err(err).Msg("API server stopped")
				cancel()
			}
		}()
	}

	<-ctx.Done()
	logger.Info().Msg("Shutting down")

	trader.Stop()
	if server != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(),
			time.Duration(cfg.ServerConfig.ShutdownTimeout)*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("API server shutdown failed")
		}
	}
	logger.Info().Msg("Shutdown complete")
}

// loadCredentials prefers Vault when enabled, falling back to the static
// configuration values.
func loadCredentials(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (string, string) {
	apiKey, apiSecret := cfg.BitvavoConfig.APIKey, cfg.BitvavoConfig.APISecret
	if !cfg.VaultConfig.Enabled {
		return apiKey, apiSecret
	}

	vc, err := vault.NewClient(cfg.VaultConfig)
	if err != nil {
		logger.Warn().Err(err).Msg("Vault unavailable, using configured credentials")
		return apiKey, apiSecret
	}
	creds, err := vc.GetCredentials(ctx, "bitvavo")
	if err != nil {
		logger.Warn().Err(err).Msg("Vault lookup failed, using configured credentials")
		return apiKey, apiSecret
	}
	logger.Info().Msg("Loaded exchange credentials from Vault")
	return creds.APIKey, creds.APISecret
}

// buildStrategy maps a strategy name to a configured instance
func buildStrategy(cfg config.StrategyConfig, name string) (strategy.Strategy, error) {
	switch name {
	case "rsi":
		return strategy.NewRSIStrategy(cfg.RSI.Period, cfg.RSI.Oversold, cfg.RSI.Overbought, cfg.RSI.ConfirmationPeriod), nil
	case "macd":
		return strategy.NewMACDStrategy(cfg.MACD.FastPeriod, cfg.MACD.SlowPeriod, cfg.MACD.SignalPeriod, cfg.MACD.Threshold), nil
	case "volume_weighted":
		return strategy.NewVolumeWeightedStrategy(cfg.Volume.VolumePeriod, cfg.Volume.VolumeThreshold, cfg.Volume.PriceChangeThreshold), nil
	case "ensemble":
		rsi, _ := buildStrategy(cfg, "rsi")
		macd, _ := buildStrategy(cfg, "macd")
		volume, _ := buildStrategy(cfg, "volume_weighted")
		return strategy.NewEnsembleStrategy(cfg.Ensemble.Threshold, rsi, macd, volume), nil
	default:
		return nil, fmt.Errorf("unknown strategy: %s", name)
	}
}

// backtestRunner builds the API backtest callback: fetch history, run the
// engine against a paper fill simulator with the live risk limits.
func backtestRunner(cfg *config.Config, client bitvavo.ExchangeClient, logger zerolog.Logger) api.BacktestFunc {
	return func(ctx context.Context, req api.BacktestRequest) (*backtest.Result, error) {
		name := req.Strategy
		if name == "" {
			name = cfg.StrategyConfig.Active
		}
		strat, err := buildStrategy(cfg.StrategyConfig, name)
		if err != nil {
			return nil, err
		}

		candles, err := client.GetCandles(ctx, req.Market, req.Interval, req.Candles)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch candles: %w", err)
		}

		engine := backtest.NewEngine(backtest.Config{
			Market:            req.Market,
			InitialCapital:    cfg.BacktestConfig.InitialCapital,
			FeeRate:           cfg.BacktestConfig.FeeRate,
			Slippage:          cfg.BacktestConfig.Slippage,
			WarmupPeriod:      cfg.BacktestConfig.WarmupPeriod,
			OrderFraction:     cfg.TradingConfig.OrderFraction,
			MinOrderValue:     cfg.TradingConfig.MinOrderValue,
			StopLossPercent:   cfg.TradingConfig.StopLossPercent,
			TakeProfitPercent: cfg.TradingConfig.TakeProfitPercent,
			Limits: risk.Limits{
				MaxRiskPerTrade:   cfg.RiskConfig.MaxRiskPerTrade,
				MaxLeverage:       cfg.RiskConfig.MaxLeverage,
				MaxDailyRisk:      cfg.RiskConfig.MaxDailyRisk,
				MaxDrawdown:       cfg.RiskConfig.MaxDrawdown,
				EmergencyStopLoss: cfg.RiskConfig.EmergencyStopLoss,
			},
		}, strat, logger)

		return engine.Run(ctx, candles)
	}
}

// subscribePersistence mirrors realized trades and risk audit events into
// the database. Failures are logged, never fatal.
func subscribePersistence(bus *events.Bus, repo *database.Repository, logger zerolog.Logger) {
	log := logger.With().Str("component", "persistence").Logger()

	bus.Subscribe(events.EventTradeClosed, func(e events.Event) {
		trade, ok := e.Data["trade"].(performance.Trade)
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := repo.SaveTrade(ctx, trade); err != nil {
			log.Error().Err(err).Msg("Failed to persist trade")
		}
	})

	auditEvent := func(e events.Event) {
		market, _ := e.Data["market"].(string)
		reason, _ := e.Data["reason"].(string)
		operator, _ := e.Data["operator"].(string)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := repo.SaveRiskEvent(ctx, string(e.Type), market, reason, operator); err != nil {
			log.Error().Err(err).Msg("Failed to persist risk event")
		}
	}
	bus.Subscribe(events.EventTradeRejected, auditEvent)
	bus.Subscribe(events.EventEmergencyStop, auditEvent)
	bus.Subscribe(events.EventEmergencyReset, auditEvent)
}

// paperSession serves market data from the live public API and routes
// order flow to the paper fill simulator.
type paperSession struct {
	bitvavo.ExchangeClient
	broker *bitvavo.PaperClient
}

var _ bitvavo.ExchangeClient = (*paperSession)(nil)

func (p *paperSession) GetTicker(ctx context.Context, market string) (*bitvavo.Ticker, error) {
	ticker, err := p.ExchangeClient.GetTicker(ctx, market)
	if err != nil {
		return nil, err
	}
	p.broker.SetPrice(market, ticker.Last)
	return ticker, nil
}

func (p *paperSession) GetBalance(ctx context.Context, symbol string) ([]bitvavo.Balance, error) {
	return p.broker.GetBalance(ctx, symbol)
}

func (p *paperSession) PlaceOrder(ctx context.Context, market, side, orderType string, amount, price float64) (*bitvavo.Order, error) {
	return p.broker.PlaceOrder(ctx, market, side, orderType, amount, price)
}

func (p *paperSession) GetOrder(ctx context.Context, market, orderID string) (*bitvavo.Order, error) {
	return p.broker.GetOrder(ctx, market, orderID)
}

func (p *paperSession) GetOrderHistory(ctx context.Context, market string) ([]bitvavo.Order, error) {
	return p.broker.GetOrderHistory(ctx, market)
}

func (p *paperSession) CancelOrder(ctx context.Context, market, orderID string) error {
	return p.broker.CancelOrder(ctx, market, orderID)
}

func quoteOf(market string) string {
	if i := strings.Index(market, "-"); i >= 0 {
		return market[i+1:]
	}
	return "EUR"
}

func initialBalance(cfg *config.Config) float64 {
	if cfg.BitvavoConfig.PaperTrading {
		return cfg.TradingConfig.PaperBalance
	}
	return cfg.BacktestConfig.InitialCapital
}
