package trading

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"bitvavo-trading-bot/internal/bitvavo"
	"bitvavo-trading-bot/internal/events"
	"bitvavo-trading-bot/internal/performance"
	"bitvavo-trading-bot/internal/risk"
	"bitvavo-trading-bot/internal/strategy"
)

func testConfig() Config {
	return Config{
		Market:            "BTC-EUR",
		Interval:          bitvavo.Interval1m,
		WindowSize:        50,
		OrderFraction:     0.1,
		MinOrderValue:     10,
		CooldownPeriod:    5 * time.Minute,
		MaxDailyTrades:    10,
		StopLossPercent:   0.02,
		TakeProfitPercent: 0.03,
	}
}

func openLimits() risk.Limits {
	return risk.Limits{
		MaxRiskPerTrade:   0.5,
		MaxLeverage:       10,
		MaxDailyRisk:      1,
		MaxDrawdown:       1,
		EmergencyStopLoss: 1,
	}
}

type fixture struct {
	mgr     *Manager
	client  *bitvavo.PaperClient
	monitor *performance.Monitor
	current time.Time
}

func newFixture(t *testing.T, cfg Config, balance float64) *fixture {
	t.Helper()
	f := &fixture{
		client:  bitvavo.NewPaperClient("EUR", balance, 0, 0),
		current: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	f.client.SetPrice("BTC-EUR", 100)
	f.monitor = performance.NewMonitor(balance, 0, zerolog.Nop())
	riskMgr := risk.NewManager(openLimits(), f.client, f.monitor, events.NewBus(), "EUR", zerolog.Nop())
	f.mgr = NewManager(cfg, f.client, stubStrategy{}, riskMgr, events.NewBus(), zerolog.Nop())
	f.mgr.SetNowFunc(func() time.Time { return f.current })
	return f
}

func (f *fixture) advance(d time.Duration) {
	f.current = f.current.Add(d)
}

type stubStrategy struct{ sig strategy.Signal }

func (s stubStrategy) Name() string                             { return "stub" }
func (s stubStrategy) Description() string                      { return "stub" }
func (s stubStrategy) Analyze([]bitvavo.Candle) strategy.Signal { return s.sig }

func buySignal() strategy.Signal {
	return strategy.Signal{Action: strategy.ActionBuy, Confidence: 0.8, Reason: "test buy"}
}

func sellSignal() strategy.Signal {
	return strategy.Signal{Action: strategy.ActionSell, Confidence: 0.8, Reason: "test sell"}
}

func TestExecuteSignalBuyOpensPosition(t *testing.T) {
	f := newFixture(t, testConfig(), 1000)
	ctx := context.Background()

	if err := f.mgr.ExecuteSignal(ctx, buySignal()); err != nil {
		t.Fatalf("ExecuteSignal() error = %v", err)
	}

	status := f.mgr.Status()
	if status.Position == nil {
		t.Fatal("no position opened after buy")
	}
	// 10% of 1000 at price 100 buys one unit
	if status.Position.Amount != 1 {
		t.Errorf("position amount = %v, want 1", status.Position.Amount)
	}
	if status.DailyTradeCount != 1 {
		t.Errorf("DailyTradeCount = %d, want 1", status.DailyTradeCount)
	}
}

func TestExecuteSignalCooldown(t *testing.T) {
	f := newFixture(t, testConfig(), 1000)
	ctx := context.Background()

	if err := f.mgr.ExecuteSignal(ctx, buySignal()); err != nil {
		t.Fatalf("first signal error = %v", err)
	}

	f.advance(time.Minute) // inside the 5 minute cooldown
	if err := f.mgr.ExecuteSignal(ctx, sellSignal()); err != nil {
		t.Fatalf("cooldown signal error = %v", err)
	}
	if got := f.mgr.Status(); got.DailyTradeCount != 1 || got.Position == nil {
		t.Errorf("trade executed during cooldown: count=%d position=%v", got.DailyTradeCount, got.Position)
	}

	f.advance(5 * time.Minute)
	if err := f.mgr.ExecuteSignal(ctx, sellSignal()); err != nil {
		t.Fatalf("post-cooldown signal error = %v", err)
	}
	if got := f.mgr.Status(); got.Position != nil {
		t.Error("position still open after post-cooldown sell")
	}
}

func TestSellRealizesPnL(t *testing.T) {
	f := newFixture(t, testConfig(), 1000)
	ctx := context.Background()

	if err := f.mgr.ExecuteSignal(ctx, buySignal()); err != nil {
		t.Fatalf("buy error = %v", err)
	}

	f.client.SetPrice("BTC-EUR", 110)
	f.advance(10 * time.Minute)
	if err := f.mgr.ExecuteSignal(ctx, sellSignal()); err != nil {
		t.Fatalf("sell error = %v", err)
	}

	metrics := f.monitor.Metrics()
	if metrics.TotalTrades != 1 || metrics.WinningTrades != 1 {
		t.Fatalf("trade counts = %d/%d, want 1/1", metrics.TotalTrades, metrics.WinningTrades)
	}
	if metrics.TotalProfit != 10 {
		t.Errorf("TotalProfit = %v, want 10", metrics.TotalProfit)
	}
}

func TestDailyTradeLimit(t *testing.T) {
	cfg := testConfig()
	cfg.MaxDailyTrades = 1
	cfg.CooldownPeriod = 0
	f := newFixture(t, cfg, 1000)
	ctx := context.Background()

	if err := f.mgr.ExecuteSignal(ctx, buySignal()); err != nil {
		t.Fatalf("first signal error = %v", err)
	}
	if err := f.mgr.ExecuteSignal(ctx, buySignal()); err != nil {
		t.Fatalf("capped signal error = %v", err)
	}
	status := f.mgr.Status()
	if status.DailyTradeCount != 1 {
		t.Errorf("DailyTradeCount = %d, want 1 after cap", status.DailyTradeCount)
	}
	// the capped signal must not have bought anything
	if status.Position == nil || status.Position.Amount != 1 {
		t.Fatalf("position after cap = %+v, want amount 1", status.Position)
	}

	// the counter resets across the UTC day boundary
	f.advance(24 * time.Hour)
	if err := f.mgr.ExecuteSignal(ctx, buySignal()); err != nil {
		t.Fatalf("next-day signal error = %v", err)
	}
	status = f.mgr.Status()
	if status.DailyTradeCount != 1 {
		t.Errorf("DailyTradeCount after reset = %d, want 1", status.DailyTradeCount)
	}
	// 10% of the remaining 900 at price 100 adds 0.9 to the position,
	// proving the next-day signal actually executed
	if status.Position == nil || math.Abs(status.Position.Amount-1.9) > 1e-9 {
		t.Fatalf("position after reset = %+v, want amount 1.9", status.Position)
	}
}

func TestOrderBelowMinimumValueSkipped(t *testing.T) {
	f := newFixture(t, testConfig(), 50) // 10% of 50 is below the 10 minimum
	ctx := context.Background()

	if err := f.mgr.ExecuteSignal(ctx, buySignal()); err != nil {
		t.Fatalf("ExecuteSignal() error = %v", err)
	}
	if got := f.mgr.Status(); got.Position != nil || got.DailyTradeCount != 0 {
		t.Errorf("undersized order executed: %+v", got)
	}
}

// failingPlacement approves everything up to placement, then fails there
type failingPlacement struct {
	*bitvavo.PaperClient
}

func (f failingPlacement) PlaceOrder(ctx context.Context, market, side, orderType string, amount, price float64) (*bitvavo.Order, error) {
	return nil, errors.New("exchange unavailable")
}

func TestFailedPlacementDoesNotConsumeLimits(t *testing.T) {
	paper := bitvavo.NewPaperClient("EUR", 1000, 0, 0)
	paper.SetPrice("BTC-EUR", 100)
	monitor := performance.NewMonitor(1000, 0, zerolog.Nop())
	riskMgr := risk.NewManager(openLimits(), paper, monitor, events.NewBus(), "EUR", zerolog.Nop())
	mgr := NewManager(testConfig(), failingPlacement{paper}, stubStrategy{}, riskMgr, events.NewBus(), zerolog.Nop())

	if err := mgr.ExecuteSignal(context.Background(), buySignal()); err == nil {
		t.Fatal("ExecuteSignal() error = nil, want placement failure")
	}

	got := mgr.Status()
	if got.DailyTradeCount != 0 {
		t.Errorf("DailyTradeCount = %d, want 0 after failed placement", got.DailyTradeCount)
	}
	if !got.LastTradeTime.IsZero() {
		t.Error("cooldown started by failed placement")
	}
}

// ambiguousPlacement fills on the exchange but reports a timeout, the
// way a dropped connection after a delivered request looks to a caller
type ambiguousPlacement struct {
	*bitvavo.PaperClient
}

func (a ambiguousPlacement) PlaceOrder(ctx context.Context, market, side, orderType string, amount, price float64) (*bitvavo.Order, error) {
	if _, err := a.PaperClient.PlaceOrder(ctx, market, side, orderType, amount, price); err != nil {
		return nil, err
	}
	return nil, context.DeadlineExceeded
}

func TestTimedOutPlacementResolvedFromHistory(t *testing.T) {
	paper := bitvavo.NewPaperClient("EUR", 1000, 0, 0)
	paper.SetPrice("BTC-EUR", 100)
	monitor := performance.NewMonitor(1000, 0, zerolog.Nop())
	riskMgr := risk.NewManager(openLimits(), paper, monitor, events.NewBus(), "EUR", zerolog.Nop())
	mgr := NewManager(testConfig(), ambiguousPlacement{paper}, stubStrategy{}, riskMgr, events.NewBus(), zerolog.Nop())

	if err := mgr.ExecuteSignal(context.Background(), buySignal()); err != nil {
		t.Fatalf("ExecuteSignal() error = %v", err)
	}

	got := mgr.Status()
	if got.Position == nil {
		t.Fatal("accepted order was not recovered from the order history")
	}
	if got.Position.Amount != 1 {
		t.Errorf("position amount = %v, want 1", got.Position.Amount)
	}
	if got.DailyTradeCount != 1 {
		t.Errorf("DailyTradeCount = %d, want 1", got.DailyTradeCount)
	}
	if got.LastTradeTime.IsZero() {
		t.Error("cooldown not started by the recovered placement")
	}
}

func TestSellWithoutPositionSkipped(t *testing.T) {
	f := newFixture(t, testConfig(), 1000)

	if err := f.mgr.ExecuteSignal(context.Background(), sellSignal()); err != nil {
		t.Fatalf("ExecuteSignal() error = %v", err)
	}
	if got := f.mgr.Status().DailyTradeCount; got != 0 {
		t.Errorf("DailyTradeCount = %d, want 0", got)
	}
}

func TestProtectiveStopLoss(t *testing.T) {
	f := newFixture(t, testConfig(), 1000)
	ctx := context.Background()

	if err := f.mgr.ExecuteSignal(ctx, buySignal()); err != nil {
		t.Fatalf("buy error = %v", err)
	}

	// 2% stop loss on a 100 entry triggers at 98; exits bypass cooldown
	f.client.SetPrice("BTC-EUR", 97)
	exited, err := f.mgr.checkProtectiveExit(ctx, 97)
	if err != nil {
		t.Fatalf("checkProtectiveExit() error = %v", err)
	}
	if !exited {
		t.Fatal("stop loss did not trigger at 97")
	}
	if f.mgr.Status().Position != nil {
		t.Error("position still open after stop loss")
	}

	metrics := f.monitor.Metrics()
	if metrics.LosingTrades != 1 {
		t.Errorf("LosingTrades = %d, want 1", metrics.LosingTrades)
	}
}

func TestProtectiveTakeProfit(t *testing.T) {
	f := newFixture(t, testConfig(), 1000)
	ctx := context.Background()

	if err := f.mgr.ExecuteSignal(ctx, buySignal()); err != nil {
		t.Fatalf("buy error = %v", err)
	}

	f.client.SetPrice("BTC-EUR", 104)
	exited, err := f.mgr.checkProtectiveExit(ctx, 104)
	if err != nil {
		t.Fatalf("checkProtectiveExit() error = %v", err)
	}
	if !exited {
		t.Fatal("take profit did not trigger at 104")
	}
	if got := f.monitor.Metrics().WinningTrades; got != 1 {
		t.Errorf("WinningTrades = %d, want 1", got)
	}
}

func TestStartStop(t *testing.T) {
	f := newFixture(t, testConfig(), 1000)
	ctx := context.Background()

	if err := f.mgr.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := f.mgr.Start(ctx); err == nil {
		t.Error("second Start() error = nil, want already running")
	}
	if !f.mgr.Status().Running {
		t.Error("Status().Running = false after Start")
	}

	f.mgr.Stop()
	if f.mgr.Status().Running {
		t.Error("Status().Running = true after Stop")
	}
	f.mgr.Stop() // idempotent
}

// gatedCandles parks the caller inside GetCandles until released
type gatedCandles struct {
	*bitvavo.PaperClient
	entered chan struct{}
	release chan struct{}
}

func (g *gatedCandles) GetCandles(ctx context.Context, market, interval string, limit int) ([]bitvavo.Candle, error) {
	select {
	case g.entered <- struct{}{}:
	default:
	}
	<-g.release
	return nil, nil
}

func TestStopWaitsForInFlightEvaluation(t *testing.T) {
	cfg := testConfig()
	cfg.PollInterval = 5 * time.Millisecond

	paper := bitvavo.NewPaperClient("EUR", 1000, 0, 0)
	paper.SetPrice("BTC-EUR", 100)
	client := &gatedCandles{
		PaperClient: paper,
		entered:     make(chan struct{}, 1),
		release:     make(chan struct{}),
	}
	monitor := performance.NewMonitor(1000, 0, zerolog.Nop())
	riskMgr := risk.NewManager(openLimits(), paper, monitor, events.NewBus(), "EUR", zerolog.Nop())
	mgr := NewManager(cfg, client, stubStrategy{}, riskMgr, events.NewBus(), zerolog.Nop())

	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	<-client.entered // an evaluation is now parked inside GetCandles

	stopped := make(chan struct{})
	go func() {
		mgr.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while an evaluation was still in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(client.release)
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after the evaluation finished")
	}
}
