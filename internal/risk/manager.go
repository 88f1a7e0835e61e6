// Package risk gates every order against position size, leverage,
// daily-loss and drawdown limits, with a one-way emergency shutdown
// latch that only an explicit operator reset clears.
package risk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"bitvavo-trading-bot/internal/bitvavo"
	"bitvavo-trading-bot/internal/events"
	"bitvavo-trading-bot/internal/performance"
)

// Limits holds the configured risk thresholds. All percentage limits are
// fractions (0.02 = 2%) and are evaluated against live balance and equity
// at check time, never against cached values.
type Limits struct {
	MaxRiskPerTrade   float64 `json:"maxRiskPerTrade"`
	MaxLeverage       float64 `json:"maxLeverage"`
	MaxDailyRisk      float64 `json:"maxDailyRisk"`
	MaxDrawdown       float64 `json:"maxDrawdown"`
	EmergencyStopLoss float64 `json:"emergencyStopLoss"`
}

// Metrics is a live snapshot of account risk, recomputed per check
type Metrics struct {
	TotalBalance      float64 `json:"totalBalance"`
	Exposure          float64 `json:"exposure"`
	Margin            float64 `json:"margin"`
	LeverageUsed      float64 `json:"leverageUsed"`
	PositionLimit     float64 `json:"positionLimit"`
	DailyLoss         float64 `json:"dailyLoss"`
	Drawdown          float64 `json:"drawdown"`
	EmergencyShutdown bool    `json:"emergencyShutdown"`
}

// Manager owns the daily-loss counter and the emergency latch
type Manager struct {
	mu          sync.Mutex
	limits      Limits
	client      bitvavo.ExchangeClient
	monitor     *performance.Monitor
	bus         *events.Bus
	logger      zerolog.Logger
	quoteSymbol string

	dailyLoss         float64
	lastResetDate     time.Time
	emergencyShutdown bool
	now               func() time.Time
}

// NewManager creates a risk manager in the Armed state
func NewManager(limits Limits, client bitvavo.ExchangeClient, monitor *performance.Monitor, bus *events.Bus, quoteSymbol string, logger zerolog.Logger) *Manager {
	m := &Manager{
		limits:      limits,
		client:      client,
		monitor:     monitor,
		bus:         bus,
		quoteSymbol: quoteSymbol,
		logger:      logger.With().Str("component", "risk").Logger(),
		now:         time.Now,
	}
	m.lastResetDate = utcDate(m.now())
	return m
}

// SetNowFunc overrides the clock, for deterministic tests. The daily
// reset baseline is re-derived from the injected clock so day-boundary
// comparisons stay consistent with it.
func (m *Manager) SetNowFunc(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
	m.lastResetDate = utcDate(now())
}

// ValidateTrade checks an order against every configured limit. The
// returned reason is empty on approval. A drawdown at or past the
// emergency threshold engages the shutdown latch as a side effect.
func (m *Manager) ValidateTrade(ctx context.Context, order bitvavo.Order) (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.resetDailyIfNeeded()

	if m.emergencyShutdown {
		return m.reject(order.Market, "emergency shutdown active")
	}

	metrics, err := m.computeMetrics(ctx)
	if err != nil {
		// no live account data means no basis to approve
		return m.reject(order.Market, fmt.Sprintf("risk metrics unavailable: %v", err))
	}

	notional := order.Notional()
	if notional > metrics.PositionLimit {
		return m.reject(order.Market, fmt.Sprintf("order notional %.2f exceeds position limit %.2f", notional, metrics.PositionLimit))
	}

	if metrics.TotalBalance > 0 {
		leverage := (metrics.Exposure + notional) / metrics.TotalBalance
		if leverage > m.limits.MaxLeverage {
			return m.reject(order.Market, fmt.Sprintf("leverage %.2f exceeds maximum %.2f", leverage, m.limits.MaxLeverage))
		}
	}

	if m.dailyLoss >= m.limits.MaxDailyRisk*metrics.TotalBalance {
		return m.reject(order.Market, fmt.Sprintf("daily loss %.2f at limit", m.dailyLoss))
	}

	drawdown := m.monitor.CurrentDrawdown()
	if drawdown >= m.limits.EmergencyStopLoss {
		m.tripEmergency(drawdown)
		return m.reject(order.Market, fmt.Sprintf("drawdown %.2f%% triggered emergency shutdown", drawdown*100))
	}
	if drawdown >= m.limits.MaxDrawdown {
		return m.reject(order.Market, fmt.Sprintf("drawdown %.2f%% exceeds maximum", drawdown*100))
	}

	return true, ""
}

// UpdateRiskMetrics records a realized trade. Losses accumulate into the
// daily loss counter and the emergency threshold is re-checked.
func (m *Manager) UpdateRiskMetrics(trade performance.Trade) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.resetDailyIfNeeded()

	if trade.PnL < 0 {
		m.dailyLoss += -trade.PnL
	}
	m.monitor.AddTrade(trade)

	if drawdown := m.monitor.CurrentDrawdown(); !m.emergencyShutdown && drawdown >= m.limits.EmergencyStopLoss {
		m.tripEmergency(drawdown)
	}
}

// IsEmergencyShutdownActive reports whether the latch is engaged
func (m *Manager) IsEmergencyShutdownActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.emergencyShutdown
}

// ResetEmergencyShutdown clears the latch. This is an operator action and
// is always recorded as an audit event.
func (m *Manager) ResetEmergencyShutdown(operator string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.emergencyShutdown {
		return
	}
	m.emergencyShutdown = false

	m.logger.Warn().Str("operator", operator).Msg("Emergency shutdown reset")
	if m.bus != nil {
		m.bus.PublishEmergencyReset(operator)
	}
}

// DailyLoss returns the loss accumulated so far this UTC day
func (m *Manager) DailyLoss() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetDailyIfNeeded()
	return m.dailyLoss
}

// CurrentMetrics computes a live risk snapshot for reporting
func (m *Manager) CurrentMetrics(ctx context.Context) (Metrics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.resetDailyIfNeeded()
	metrics, err := m.computeMetrics(ctx)
	if err != nil {
		return Metrics{}, err
	}
	return metrics, nil
}

// computeMetrics rebuilds the risk snapshot from live balances and the
// filled order history; callers hold the lock
func (m *Manager) computeMetrics(ctx context.Context) (Metrics, error) {
	balances, err := m.client.GetBalance(ctx, m.quoteSymbol)
	if err != nil {
		return Metrics{}, fmt.Errorf("error fetching balance: %w", err)
	}
	totalBalance := 0.0
	for _, b := range balances {
		if b.Symbol == m.quoteSymbol {
			totalBalance = b.Available + b.InOrder
		}
	}

	orders, err := m.client.GetOrderHistory(ctx, "")
	if err != nil {
		return Metrics{}, fmt.Errorf("error fetching order history: %w", err)
	}
	exposure := 0.0
	for _, o := range orders {
		if o.Status == bitvavo.OrderStatusFilled {
			exposure += o.Notional()
		}
	}

	metrics := Metrics{
		TotalBalance:      totalBalance,
		Exposure:          exposure,
		PositionLimit:     totalBalance * m.limits.MaxRiskPerTrade,
		DailyLoss:         m.dailyLoss,
		Drawdown:          m.monitor.CurrentDrawdown(),
		EmergencyShutdown: m.emergencyShutdown,
	}
	if m.limits.MaxLeverage > 0 {
		metrics.Margin = exposure / m.limits.MaxLeverage
	}
	if totalBalance > 0 {
		metrics.LeverageUsed = exposure / totalBalance
	}
	return metrics, nil
}

// tripEmergency engages the one-way latch; callers hold the lock
func (m *Manager) tripEmergency(drawdown float64) {
	m.emergencyShutdown = true
	m.logger.Error().Float64("drawdown", drawdown).Msg("Emergency shutdown triggered")
	if m.bus != nil {
		m.bus.PublishEmergencyStop("drawdown past emergency threshold", drawdown)
	}
}

// resetDailyIfNeeded zeroes the daily loss on the first access after a
// UTC day boundary; callers hold the lock
func (m *Manager) resetDailyIfNeeded() {
	today := utcDate(m.now())
	if today.After(m.lastResetDate) {
		m.dailyLoss = 0
		m.lastResetDate = today
		m.logger.Info().Time("date", today).Msg("Daily risk counters reset")
	}
}

// reject records a validation rejection. Rejections are normal control
// flow, not faults, so they log at info level.
func (m *Manager) reject(market, reason string) (bool, string) {
	m.logger.Info().Str("market", market).Str("reason", reason).Msg("Trade rejected")
	if m.bus != nil {
		m.bus.PublishRejection(market, reason)
	}
	return false, reason
}

func utcDate(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}
