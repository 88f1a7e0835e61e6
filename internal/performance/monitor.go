// Package performance tracks realized trades and derives the aggregate
// metrics consumed by risk checks and reporting.
package performance

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"bitvavo-trading-bot/internal/indicator"
)

// Trade is a realized round trip. PnL is the net result after fees;
// once recorded a trade is never modified.
type Trade struct {
	ID         string    `json:"id"`
	Market     string    `json:"market"`
	Side       string    `json:"side"`
	Amount     float64   `json:"amount"`
	EntryPrice float64   `json:"entryPrice"`
	ExitPrice  float64   `json:"exitPrice"`
	PnL        float64   `json:"pnl"`
	Fees       float64   `json:"fees"`
	OpenedAt   time.Time `json:"openedAt"`
	ClosedAt   time.Time `json:"closedAt"`
}

// Metrics is an aggregate snapshot over the full trade history.
// TotalProfit and TotalLoss are both positive magnitudes.
type Metrics struct {
	TotalTrades     int     `json:"totalTrades"`
	WinningTrades   int     `json:"winningTrades"`
	LosingTrades    int     `json:"losingTrades"`
	TotalProfit     float64 `json:"totalProfit"`
	TotalLoss       float64 `json:"totalLoss"`
	NetPnL          float64 `json:"netPnl"`
	LargestWin      float64 `json:"largestWin"`
	LargestLoss     float64 `json:"largestLoss"`
	AverageWin      float64 `json:"averageWin"`
	AverageLoss     float64 `json:"averageLoss"`
	WinRate         float64 `json:"winRate"`
	ProfitFactor    float64 `json:"profitFactor"`
	SharpeRatio     float64 `json:"sharpeRatio"`
	MaxDrawdown     float64 `json:"maxDrawdown"`
	CurrentDrawdown float64 `json:"currentDrawdown"`
	ROI             float64 `json:"roi"`
	HighWaterMark   float64 `json:"highWaterMark"`
	Equity          float64 `json:"equity"`
}

// Monitor owns the trade history. The high-water mark never decreases
// for the lifetime of the instance.
type Monitor struct {
	mu             sync.RWMutex
	initialBalance float64
	riskFreeRate   float64
	trades         []Trade
	equity         float64
	equitySeries   []float64
	highWaterMark  float64
	metrics        Metrics
	logger         zerolog.Logger
}

// NewMonitor creates a monitor seeded with the starting account balance
func NewMonitor(initialBalance, riskFreeRate float64, logger zerolog.Logger) *Monitor {
	m := &Monitor{
		initialBalance: initialBalance,
		riskFreeRate:   riskFreeRate,
		equity:         initialBalance,
		equitySeries:   []float64{initialBalance},
		highWaterMark:  initialBalance,
		logger:         logger.With().Str("component", "performance").Logger(),
	}
	m.recompute()
	return m
}

// AddTrade records a realized trade and recomputes the metrics
func (m *Monitor) AddTrade(trade Trade) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.trades = append(m.trades, trade)
	m.equity += trade.PnL
	m.equitySeries = append(m.equitySeries, m.equity)
	if m.equity > m.highWaterMark {
		m.highWaterMark = m.equity
	}
	m.recompute()

	m.logger.Info().
		Str("market", trade.Market).
		Str("side", trade.Side).
		Float64("pnl", trade.PnL).
		Float64("equity", m.equity).
		Msg("Trade recorded")
}

// Metrics returns a snapshot; mutating it cannot affect the monitor
func (m *Monitor) Metrics() Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.metrics
}

// Trades returns a copy of the trade history
func (m *Monitor) Trades() []Trade {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Trade, len(m.trades))
	copy(out, m.trades)
	return out
}

// CurrentDrawdown returns the live drawdown fraction from the high-water mark
func (m *Monitor) CurrentDrawdown() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.metrics.CurrentDrawdown
}

// recompute rebuilds the metrics from the full history; callers hold the lock
func (m *Monitor) recompute() {
	metrics := Metrics{
		TotalTrades:   len(m.trades),
		HighWaterMark: m.highWaterMark,
		Equity:        m.equity,
	}

	returns := make([]float64, 0, len(m.trades))
	for _, t := range m.trades {
		if m.initialBalance > 0 {
			returns = append(returns, t.PnL/m.initialBalance)
		}
		switch {
		case t.PnL > 0:
			metrics.WinningTrades++
			metrics.TotalProfit += t.PnL
			if t.PnL > metrics.LargestWin {
				metrics.LargestWin = t.PnL
			}
		case t.PnL < 0:
			metrics.LosingTrades++
			metrics.TotalLoss += -t.PnL
			if -t.PnL > metrics.LargestLoss {
				metrics.LargestLoss = -t.PnL
			}
		}
	}

	metrics.NetPnL = metrics.TotalProfit - metrics.TotalLoss
	if metrics.WinningTrades > 0 {
		metrics.AverageWin = metrics.TotalProfit / float64(metrics.WinningTrades)
	}
	if metrics.LosingTrades > 0 {
		metrics.AverageLoss = metrics.TotalLoss / float64(metrics.LosingTrades)
	}
	if metrics.TotalTrades > 0 {
		metrics.WinRate = float64(metrics.WinningTrades) / float64(metrics.TotalTrades)
	}

	// zero loss would divide by zero; a denominator of 1 keeps the
	// factor meaningful for loss-free histories
	lossDenominator := metrics.TotalLoss
	if lossDenominator == 0 {
		lossDenominator = 1
	}
	metrics.ProfitFactor = metrics.TotalProfit / lossDenominator

	metrics.SharpeRatio = indicator.SharpeRatio(excessReturns(returns, m.riskFreeRate))
	metrics.MaxDrawdown = indicator.MaxDrawdown(m.equitySeries)
	if m.highWaterMark > 0 {
		metrics.CurrentDrawdown = (m.highWaterMark - m.equity) / m.highWaterMark
	}
	if m.initialBalance > 0 {
		metrics.ROI = (m.equity - m.initialBalance) / m.initialBalance
	}

	m.metrics = metrics
}

// excessReturns shifts every return by the risk-free rate. Subtracting
// a constant leaves the standard deviation unchanged, so feeding these
// into the Sharpe computation yields (mean - riskFree) / stddev.
func excessReturns(returns []float64, riskFreeRate float64) []float64 {
	if riskFreeRate == 0 {
		return returns
	}
	excess := make([]float64, len(returns))
	for i, r := range returns {
		excess[i] = r - riskFreeRate
	}
	return excess
}
