// Command backtest replays historical candles through a strategy and
// prints the resulting performance report.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"bitvavo-trading-bot/config"
	"bitvavo-trading-bot/internal/backtest"
	"bitvavo-trading-bot/internal/bitvavo"
	"bitvavo-trading-bot/internal/logging"
	"bitvavo-trading-bot/internal/risk"
	"bitvavo-trading-bot/internal/strategy"
)

func main() {
	var (
		configPath = flag.String("config", "config.json", "path to configuration file")
		market     = flag.String("market", "", "market to test, e.g. BTC-EUR (defaults to configured market)")
		interval   = flag.String("interval", "1h", "candle interval")
		candles    = flag.Int("candles", 1000, "number of candles to fetch")
		capital    = flag.Float64("capital", 0, "initial capital (defaults to configured value)")
		stratName  = flag.String("strategy", "", "strategy: rsi, macd, volume_weighted, ensemble (defaults to configured)")
		jsonOut    = flag.Bool("json", false, "print the full result as JSON")
	)
	flag.Parse()

	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		// Public market data needs no credentials, so a missing or
		// invalid config only blocks live trading, not backtests.
		cfg = config.Default()
	}

	if *market == "" {
		*market = cfg.TradingConfig.Market
	}
	if *market == "" {
		fmt.Fprintln(os.Stderr, "no market given: pass -market or configure trading.market")
		os.Exit(1)
	}
	if *capital > 0 {
		cfg.BacktestConfig.InitialCapital = *capital
	}
	if *stratName == "" {
		*stratName = cfg.StrategyConfig.Active
	}

	logger := logging.New(cfg.LoggingConfig)
	strat, err := buildStrategy(cfg.StrategyConfig, *stratName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	client := bitvavo.NewClient("", "", cfg.BitvavoConfig.BaseURL)
	ctx := context.Background()

	history, err := client.GetCandles(ctx, *market, *interval, *candles)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to fetch candles: %v\n", err)
		os.Exit(1)
	}

	engine := backtest.NewEngine(backtest.Config{
		Market:            *market,
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

	result, err := engine.Run(ctx, history)
	if err != nil {
		fmt.Fprintf(os.Stderr, "backtest failed: %v\n", err)
		os.Exit(1)
	}

	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			fmt.Fprintf(os.Stderr, "failed to encode result: %v\n", err)
			os.Exit(1)
		}
		return
	}

	printSummary(*stratName, result)
}

func printSummary(stratName string, r *backtest.Result) {
	m := r.Metrics
	fmt.Printf("Backtest %s (%s)\n", r.Market, stratName)
	fmt.Printf("  Candles tested:   %d\n", r.CandlesTested)
	fmt.Printf("  Initial capital:  %.2f\n", r.InitialCapital)
	fmt.Printf("  Final equity:     %.2f\n", r.FinalEquity)
	fmt.Printf("  ROI:              %.2f%%\n", m.ROI*100)
	fmt.Printf("  Trades:           %d (%d wins, %d losses)\n", m.TotalTrades, m.WinningTrades, m.LosingTrades)
	fmt.Printf("  Win rate:         %.1f%%\n", m.WinRate*100)
	fmt.Printf("  Profit factor:    %.2f\n", m.ProfitFactor)
	fmt.Printf("  Sharpe ratio:     %.3f\n", m.SharpeRatio)
	fmt.Printf("  Max drawdown:     %.2f%%\n", m.MaxDrawdown*100)
	fmt.Printf("  Risk rejections:  %d\n", r.Rejections)
}

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
