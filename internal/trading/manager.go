// Package trading orchestrates the live pipeline: market data in,
// strategy evaluation, risk validation, order placement, and realized
// trade bookkeeping.
package trading

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"bitvavo-trading-bot/internal/bitvavo"
	"bitvavo-trading-bot/internal/events"
	"bitvavo-trading-bot/internal/performance"
	"bitvavo-trading-bot/internal/risk"
	"bitvavo-trading-bot/internal/strategy"
)

// Config holds the execution parameters for a single market
type Config struct {
	Market            string
	Interval          string
	WindowSize        int
	OrderFraction     float64 // fraction of available balance per order
	MinOrderValue     float64
	CooldownPeriod    time.Duration
	MaxDailyTrades    int
	StopLossPercent   float64 // protective exit below entry, fraction
	TakeProfitPercent float64 // protective exit above entry, fraction
	PollInterval      time.Duration
}

// Position is the currently held base asset for the managed market
type Position struct {
	Market     string    `json:"market"`
	Amount     float64   `json:"amount"`
	EntryPrice float64   `json:"entryPrice"`
	Fees       float64   `json:"fees"`
	OpenedAt   time.Time `json:"openedAt"`
}

// Status is a snapshot of the manager for reporting
type Status struct {
	Running         bool      `json:"running"`
	Market          string    `json:"market"`
	DailyTradeCount int       `json:"dailyTradeCount"`
	LastTradeTime   time.Time `json:"lastTradeTime"`
	Position        *Position `json:"position,omitempty"`
}

// Manager runs the trading pipeline for one market. All evaluation for
// the market is serialized; a new market-data update waits for the
// previous evaluation to finish.
type Manager struct {
	mu      sync.Mutex
	evalMu  sync.Mutex // serializes whole Evaluate passes
	cfg     Config
	client  bitvavo.ExchangeClient
	strat   strategy.Strategy
	riskMgr *risk.Manager
	bus     *events.Bus
	logger  zerolog.Logger

	running         bool
	stop            chan struct{}
	done            chan struct{}
	lastTradeTime   time.Time
	dailyTradeCount int
	lastCountReset  time.Time
	position        *Position
	now             func() time.Time
}

// NewManager creates a trading manager for a single market
func NewManager(cfg Config, client bitvavo.ExchangeClient, strat strategy.Strategy, riskMgr *risk.Manager, bus *events.Bus, logger zerolog.Logger) *Manager {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 100
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Minute
	}
	m := &Manager{
		cfg:     cfg,
		client:  client,
		strat:   strat,
		riskMgr: riskMgr,
		bus:     bus,
		logger:  logger.With().Str("component", "trading").Str("market", cfg.Market).Logger(),
		now:     time.Now,
	}
	m.lastCountReset = utcDate(m.now())
	return m
}

// SetNowFunc overrides the clock, for deterministic tests. The daily
// counter baseline is re-derived from the injected clock so day-boundary
// comparisons stay consistent with it.
func (m *Manager) SetNowFunc(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
	m.lastCountReset = utcDate(now())
}

// Start launches the polling loop. Returns an error if already running.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("trading manager for %s already running", m.cfg.Market)
	}
	m.running = true
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	stop, done := m.stop, m.done
	m.mu.Unlock()

	m.bus.Publish(events.Event{Type: events.EventBotStarted, Data: map[string]interface{}{"market": m.cfg.Market}})
	m.logger.Info().Msg("Trading manager started")

	go m.run(ctx, stop, done)
	return nil
}

// Stop halts the polling loop and waits for any in-flight evaluation to
// finish, so a subsequent Start can never overlap with it.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stop)
	done := m.done
	m.mu.Unlock()

	<-done

	m.bus.Publish(events.Event{Type: events.EventBotStopped, Data: map[string]interface{}{"market": m.cfg.Market}})
	m.logger.Info().Msg("Trading manager stopped")
}

// Status returns a snapshot for the control API
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	status := Status{
		Running:         m.running,
		Market:          m.cfg.Market,
		DailyTradeCount: m.dailyTradeCount,
		LastTradeTime:   m.lastTradeTime,
	}
	if m.position != nil {
		pos := *m.position
		status.Position = &pos
	}
	return status
}

func (m *Manager) run(ctx context.Context, stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if err := m.Evaluate(ctx); err != nil {
				m.logger.Error().Err(err).Msg("Evaluation failed")
			}
		}
	}
}

// Evaluate runs one pipeline pass: fetch the candle window, analyze,
// check protective exits, and execute any buy/sell signal. The whole
// pass holds the evaluation lock; strategies keep per-call state and
// must never see two windows for the same market concurrently.
func (m *Manager) Evaluate(ctx context.Context) error {
	m.evalMu.Lock()
	defer m.evalMu.Unlock()

	candles, err := m.client.GetCandles(ctx, m.cfg.Market, m.cfg.Interval, m.cfg.WindowSize)
	if err != nil {
		return fmt.Errorf("error fetching candles: %w", err)
	}
	if len(candles) == 0 {
		return nil
	}

	price := candles[len(candles)-1].Close
	if exited, err := m.checkProtectiveExit(ctx, price); err != nil {
		return err
	} else if exited {
		return nil
	}

	sig := m.strat.Analyze(candles)
	m.bus.Publish(events.Event{Type: events.EventSignalGenerated, Data: map[string]interface{}{
		"market":     m.cfg.Market,
		"action":     string(sig.Action),
		"confidence": sig.Confidence,
		"reason":     sig.Reason,
	}})

	if sig.Action == strategy.ActionHold {
		return nil
	}
	return m.ExecuteSignal(ctx, sig)
}

// ExecuteSignal applies cooldown, daily-cap, sizing and risk checks, then
// places the order. Failed placements leave cooldown and daily-count
// state untouched so they do not consume trading capacity.
func (m *Manager) ExecuteSignal(ctx context.Context, sig strategy.Signal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.resetDailyCountIfNeeded()
	now := m.now()

	if !m.lastTradeTime.IsZero() && now.Sub(m.lastTradeTime) < m.cfg.CooldownPeriod {
		m.logger.Debug().Str("action", string(sig.Action)).Msg("Signal skipped during cooldown")
		return nil
	}
	if m.dailyTradeCount >= m.cfg.MaxDailyTrades {
		m.logger.Warn().Int("count", m.dailyTradeCount).Msg("Daily trade limit reached")
		return nil
	}

	ticker, err := m.client.GetTicker(ctx, m.cfg.Market)
	if err != nil {
		return fmt.Errorf("error fetching ticker: %w", err)
	}
	price := ticker.Last
	if price <= 0 {
		return fmt.Errorf("invalid ticker price %v for %s", price, m.cfg.Market)
	}

	var amount float64
	switch sig.Action {
	case strategy.ActionBuy:
		balances, err := m.client.GetBalance(ctx, quoteSymbol(m.cfg.Market))
		if err != nil {
			return fmt.Errorf("error fetching balance: %w", err)
		}
		available := 0.0
		for _, b := range balances {
			if b.Symbol == quoteSymbol(m.cfg.Market) {
				available = b.Available
			}
		}
		notional := available * m.cfg.OrderFraction
		if notional < m.cfg.MinOrderValue {
			m.logger.Debug().Float64("notional", notional).Msg("Order below minimum value")
			return nil
		}
		amount = notional / price
	case strategy.ActionSell:
		if m.position == nil {
			m.logger.Debug().Msg("Sell signal without open position")
			return nil
		}
		amount = m.position.Amount
		if amount*price < m.cfg.MinOrderValue {
			m.logger.Debug().Float64("notional", amount*price).Msg("Position below minimum value")
			return nil
		}
	default:
		return nil
	}

	candidate := bitvavo.Order{
		Market: m.cfg.Market,
		Side:   string(sig.Action),
		Amount: amount,
		Price:  price,
		Status: bitvavo.OrderStatusNew,
	}
	if ok, reason := m.riskMgr.ValidateTrade(ctx, candidate); !ok {
		m.logger.Warn().Str("reason", reason).Msg("Order blocked by risk checks")
		return nil
	}

	order, err := m.client.PlaceOrder(ctx, m.cfg.Market, string(sig.Action), bitvavo.OrderTypeMarket, amount, 0)
	if err != nil {
		// a cancelled or timed-out placement may still have reached the
		// exchange; only the order history can settle the outcome
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			order = m.resolveAmbiguousPlacement(string(sig.Action), amount, now)
		}
		if order == nil {
			// failed placements do not consume cooldown or daily capacity
			m.logger.Error().Err(err).Msg("Order placement failed")
			m.bus.Publish(events.Event{Type: events.EventOrderFailed, Data: map[string]interface{}{
				"market": m.cfg.Market,
				"error":  err.Error(),
			}})
			return fmt.Errorf("error placing order: %w", err)
		}
		m.logger.Warn().Str("orderId", order.OrderID).Msg("Placement timed out but the order was accepted")
	}

	m.lastTradeTime = now
	m.dailyTradeCount++
	m.applyFill(order, sig.Reason)
	return nil
}

// resolveAmbiguousPlacement re-queries the order history after a
// cancelled or timed-out placement. Returns the matching filled order
// when the exchange accepted it anyway, nil when it never arrived.
func (m *Manager) resolveAmbiguousPlacement(side string, amount float64, placedAt time.Time) *bitvavo.Order {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	orders, err := m.client.GetOrderHistory(ctx, m.cfg.Market)
	if err != nil {
		m.logger.Error().Err(err).Msg("Could not resolve ambiguous placement")
		return nil
	}

	// one second of clock skew between placement and exchange timestamps
	cutoff := placedAt.Add(-time.Second).UnixMilli()
	var match *bitvavo.Order
	for i := range orders {
		o := &orders[i]
		if o.Side != side || o.Status != bitvavo.OrderStatusFilled || o.Created < cutoff {
			continue
		}
		if math.Abs(o.Amount-amount) > amount*1e-6 {
			continue
		}
		if match == nil || o.Created > match.Created {
			match = o
		}
	}
	return match
}

// checkProtectiveExit closes the open position when price breaches the
// stop-loss or take-profit levels. Protective exits bypass cooldown and
// daily-cap limits; they reduce risk rather than add it.
func (m *Manager) checkProtectiveExit(ctx context.Context, price float64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.position == nil || price <= 0 {
		return false, nil
	}

	entry := m.position.EntryPrice
	var reason string
	switch {
	case m.cfg.StopLossPercent > 0 && price <= entry*(1-m.cfg.StopLossPercent):
		reason = "stop loss"
	case m.cfg.TakeProfitPercent > 0 && price >= entry*(1+m.cfg.TakeProfitPercent):
		reason = "take profit"
	default:
		return false, nil
	}

	m.logger.Info().Str("trigger", reason).Float64("price", price).Float64("entry", entry).Msg("Protective exit")

	order, err := m.client.PlaceOrder(ctx, m.cfg.Market, bitvavo.SideSell, bitvavo.OrderTypeMarket, m.position.Amount, 0)
	if err != nil {
		return false, fmt.Errorf("error placing protective exit: %w", err)
	}
	m.applyFill(order, reason)
	return true, nil
}

// applyFill updates the position from a filled order and records the
// realized trade on a close; callers hold the lock
func (m *Manager) applyFill(order *bitvavo.Order, reason string) {
	m.bus.Publish(events.Event{Type: events.EventOrderFilled, Data: map[string]interface{}{
		"market":  order.Market,
		"side":    order.Side,
		"amount":  order.FilledAmount,
		"price":   order.Price,
		"orderId": order.OrderID,
	}})

	switch order.Side {
	case bitvavo.SideBuy:
		if m.position == nil {
			m.position = &Position{
				Market:     order.Market,
				Amount:     order.FilledAmount,
				EntryPrice: order.Price,
				OpenedAt:   m.now(),
			}
			return
		}
		// average into the existing position
		total := m.position.Amount + order.FilledAmount
		m.position.EntryPrice = (m.position.EntryPrice*m.position.Amount + order.Price*order.FilledAmount) / total
		m.position.Amount = total

	case bitvavo.SideSell:
		if m.position == nil {
			return
		}
		pnl := (order.Price - m.position.EntryPrice) * order.FilledAmount
		trade := performance.Trade{
			ID:         order.OrderID,
			Market:     order.Market,
			Side:       order.Side,
			Amount:     order.FilledAmount,
			EntryPrice: m.position.EntryPrice,
			ExitPrice:  order.Price,
			PnL:        pnl,
			Fees:       m.position.Fees,
			OpenedAt:   m.position.OpenedAt,
			ClosedAt:   m.now(),
		}
		m.position = nil
		m.riskMgr.UpdateRiskMetrics(trade)

		m.bus.Publish(events.Event{Type: events.EventTradeClosed, Data: map[string]interface{}{
			"market": trade.Market,
			"pnl":    trade.PnL,
			"reason": reason,
			"trade":  trade,
		}})
		m.logger.Info().Float64("pnl", pnl).Str("reason", reason).Msg("Position closed")
	}
}

// resetDailyCountIfNeeded zeroes the trade counter after a UTC day
// boundary; callers hold the lock
func (m *Manager) resetDailyCountIfNeeded() {
	today := utcDate(m.now())
	if today.After(m.lastCountReset) {
		m.dailyTradeCount = 0
		m.lastCountReset = today
	}
}

func utcDate(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}

func quoteSymbol(market string) string {
	for i := 0; i < len(market); i++ {
		if market[i] == '-' {
			return market[i+1:]
		}
	}
	return "EUR"
}
