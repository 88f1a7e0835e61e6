// Package backtest replays historical candles through the same strategy,
// risk and performance components used in live trading, against a paper
// exchange. Results are numerically comparable to live reporting because
// the metric formulas are shared, not reimplemented.
package backtest

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"bitvavo-trading-bot/internal/bitvavo"
	"bitvavo-trading-bot/internal/performance"
	"bitvavo-trading-bot/internal/risk"
	"bitvavo-trading-bot/internal/strategy"
)

// Config parameterizes a backtest run
type Config struct {
	Market            string
	InitialCapital    float64
	FeeRate           float64 // per fill, fraction
	Slippage          float64 // per fill, fraction
	WarmupPeriod      int     // candles consumed before trading starts
	OrderFraction     float64 // fraction of available balance per buy
	MinOrderValue     float64
	StopLossPercent   float64
	TakeProfitPercent float64
	Limits            risk.Limits
}

// EquityPoint is one sample of the equity curve
type EquityPoint struct {
	Timestamp int64   `json:"timestamp"`
	Equity    float64 `json:"equity"`
}

// Result aggregates a completed backtest
type Result struct {
	Market         string              `json:"market"`
	InitialCapital float64             `json:"initialCapital"`
	FinalEquity    float64             `json:"finalEquity"`
	CandlesTested  int                 `json:"candlesTested"`
	Rejections     int                 `json:"rejections"`
	Metrics        performance.Metrics `json:"metrics"`
	Trades         []performance.Trade `json:"trades"`
	EquityCurve    []EquityPoint       `json:"equityCurve"`
}

// Engine replays candles one at a time through the trading pipeline
type Engine struct {
	cfg    Config
	strat  strategy.Strategy
	logger zerolog.Logger
}

// NewEngine creates a backtest engine for one strategy and market
func NewEngine(cfg Config, strat strategy.Strategy, logger zerolog.Logger) *Engine {
	if cfg.OrderFraction <= 0 {
		cfg.OrderFraction = 0.1
	}
	return &Engine{
		cfg:    cfg,
		strat:  strat,
		logger: logger.With().Str("component", "backtest").Str("market", cfg.Market).Logger(),
	}
}

// position mirrors the live position bookkeeping
type position struct {
	amount     float64
	entryPrice float64
	openedAt   time.Time
}

// Run executes the backtest. Candles must be in ascending time order and
// longer than the warm-up window.
func (e *Engine) Run(ctx context.Context, candles []bitvavo.Candle) (*Result, error) {
	if len(candles) <= e.cfg.WarmupPeriod {
		return nil, fmt.Errorf("need more than %d candles, got %d", e.cfg.WarmupPeriod, len(candles))
	}

	// the simulated clock follows candle timestamps so daily risk
	// resets happen at historical day boundaries, not wall-clock ones
	current := time.UnixMilli(candles[0].Timestamp).UTC()
	now := func() time.Time { return current }

	paper := bitvavo.NewPaperClient(quoteSymbol(e.cfg.Market), e.cfg.InitialCapital, e.cfg.FeeRate, e.cfg.Slippage)
	paper.SetNowFunc(now)

	monitor := performance.NewMonitor(e.cfg.InitialCapital, 0, e.logger)
	riskMgr := risk.NewManager(e.cfg.Limits, paper, monitor, nil, quoteSymbol(e.cfg.Market), e.logger)
	riskMgr.SetNowFunc(now)

	result := &Result{
		Market:         e.cfg.Market,
		InitialCapital: e.cfg.InitialCapital,
		CandlesTested:  len(candles) - e.cfg.WarmupPeriod,
	}

	var pos *position
	for i := e.cfg.WarmupPeriod; i < len(candles); i++ {
		candle := candles[i]
		current = time.UnixMilli(candle.Timestamp).UTC()
		price := candle.Close
		paper.SetPrice(e.cfg.Market, price)

		if pos != nil && e.exitTriggered(pos, price) {
			if err := e.closePosition(ctx, paper, riskMgr, &pos, "protective exit"); err != nil {
				return nil, err
			}
		} else {
			sig := e.strat.Analyze(candles[:i+1])
			switch sig.Action {
			case strategy.ActionBuy:
				if err := e.tryBuy(ctx, paper, riskMgr, &pos, price, result); err != nil {
					return nil, err
				}
			case strategy.ActionSell:
				if pos != nil {
					candidate := bitvavo.Order{
						Market: e.cfg.Market,
						Side:   bitvavo.SideSell,
						Amount: pos.amount,
						Price:  price,
						Status: bitvavo.OrderStatusNew,
					}
					if ok, _ := riskMgr.ValidateTrade(ctx, candidate); !ok {
						result.Rejections++
						break
					}
					if err := e.closePosition(ctx, paper, riskMgr, &pos, sig.Reason); err != nil {
						return nil, err
					}
				}
			}
		}

		equity, err := e.equity(ctx, paper, price)
		if err != nil {
			return nil, err
		}
		result.EquityCurve = append(result.EquityCurve, EquityPoint{Timestamp: candle.Timestamp, Equity: equity})
	}

	// liquidate at the final close so the result reflects realized P&L
	if pos != nil {
		if err := e.closePosition(ctx, paper, riskMgr, &pos, "backtest end"); err != nil {
			return nil, err
		}
	}

	finalEquity, err := e.equity(ctx, paper, candles[len(candles)-1].Close)
	if err != nil {
		return nil, err
	}

	result.FinalEquity = finalEquity
	result.Metrics = monitor.Metrics()
	result.Trades = monitor.Trades()

	e.logger.Info().
		Int("trades", result.Metrics.TotalTrades).
		Float64("finalEquity", finalEquity).
		Float64("roi", result.Metrics.ROI).
		Msg("Backtest complete")
	return result, nil
}

func (e *Engine) exitTriggered(pos *position, price float64) bool {
	if e.cfg.StopLossPercent > 0 && price <= pos.entryPrice*(1-e.cfg.StopLossPercent) {
		return true
	}
	if e.cfg.TakeProfitPercent > 0 && price >= pos.entryPrice*(1+e.cfg.TakeProfitPercent) {
		return true
	}
	return false
}

func (e *Engine) tryBuy(ctx context.Context, paper *bitvavo.PaperClient, riskMgr *risk.Manager, pos **position, price float64, result *Result) error {
	balances, err := paper.GetBalance(ctx, quoteSymbol(e.cfg.Market))
	if err != nil {
		return err
	}
	available := 0.0
	for _, b := range balances {
		if b.Symbol == quoteSymbol(e.cfg.Market) {
			available = b.Available
		}
	}

	notional := available * e.cfg.OrderFraction
	if notional < e.cfg.MinOrderValue {
		return nil
	}
	amount := notional / price

	candidate := bitvavo.Order{
		Market: e.cfg.Market,
		Side:   bitvavo.SideBuy,
		Amount: amount,
		Price:  price,
		Status: bitvavo.OrderStatusNew,
	}
	if ok, _ := riskMgr.ValidateTrade(ctx, candidate); !ok {
		result.Rejections++
		return nil
	}

	order, err := paper.PlaceOrder(ctx, e.cfg.Market, bitvavo.SideBuy, bitvavo.OrderTypeMarket, amount, 0)
	if err != nil {
		return fmt.Errorf("error simulating buy: %w", err)
	}

	if *pos == nil {
		*pos = &position{amount: order.FilledAmount, entryPrice: order.Price, openedAt: time.UnixMilli(order.Created)}
		return nil
	}
	p := *pos
	total := p.amount + order.FilledAmount
	p.entryPrice = (p.entryPrice*p.amount + order.Price*order.FilledAmount) / total
	p.amount = total
	return nil
}

func (e *Engine) closePosition(ctx context.Context, paper *bitvavo.PaperClient, riskMgr *risk.Manager, pos **position, reason string) error {
	p := *pos
	order, err := paper.PlaceOrder(ctx, e.cfg.Market, bitvavo.SideSell, bitvavo.OrderTypeMarket, p.amount, 0)
	if err != nil {
		return fmt.Errorf("error simulating sell: %w", err)
	}

	pnl := (order.Price - p.entryPrice) * order.FilledAmount
	riskMgr.UpdateRiskMetrics(performance.Trade{
		ID:         order.OrderID,
		Market:     e.cfg.Market,
		Side:       bitvavo.SideSell,
		Amount:     order.FilledAmount,
		EntryPrice: p.entryPrice,
		ExitPrice:  order.Price,
		PnL:        pnl,
		OpenedAt:   p.openedAt,
		ClosedAt:   time.UnixMilli(order.Updated),
	})
	e.logger.Debug().Float64("pnl", pnl).Str("reason", reason).Msg("Simulated position closed")

	*pos = nil
	return nil
}

// equity is quote balance plus base holdings marked at the given price
func (e *Engine) equity(ctx context.Context, paper *bitvavo.PaperClient, price float64) (float64, error) {
	balances, err := paper.GetBalance(ctx, "")
	if err != nil {
		return 0, err
	}
	quote := quoteSymbol(e.cfg.Market)
	equity := 0.0
	for _, b := range balances {
		if b.Symbol == quote {
			equity += b.Available + b.InOrder
		} else {
			equity += (b.Available + b.InOrder) * price
		}
	}
	return equity, nil
}

func quoteSymbol(market string) string {
	for i := 0; i < len(market); i++ {
		if market[i] == '-' {
			return market[i+1:]
		}
	}
	return "EUR"
}
