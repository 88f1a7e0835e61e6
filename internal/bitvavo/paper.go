package bitvavo

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// PaperClient is a simulated exchange used for dry-run trading, backtests
// and tests. Orders fill immediately at the current mark price adjusted for
// slippage, and the configured fee is deducted from the quote balance.
type PaperClient struct {
	mu       sync.Mutex
	balances map[string]float64 // symbol -> available
	prices   map[string]float64 // market -> last price
	candles  map[string][]Candle
	orders   []Order
	feeRate  float64
	slippage float64
	failErr  error
	now      func() time.Time
}

// NewPaperClient creates a paper exchange seeded with the given quote
// balance (e.g. "EUR").
func NewPaperClient(quoteSymbol string, initialBalance, feeRate, slippage float64) *PaperClient {
	return &PaperClient{
		balances: map[string]float64{quoteSymbol: initialBalance},
		prices:   make(map[string]float64),
		candles:  make(map[string][]Candle),
		feeRate:  feeRate,
		slippage: slippage,
		now:      time.Now,
	}
}

// SetNowFunc overrides the clock, for deterministic tests
func (p *PaperClient) SetNowFunc(now func() time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.now = now
}

// SetPrice sets the mark price for a market
func (p *PaperClient) SetPrice(market string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[market] = price
}

// SetCandles installs a candle fixture returned by GetCandles
func (p *PaperClient) SetCandles(market string, candles []Candle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.candles[market] = candles
	if len(candles) > 0 {
		p.prices[market] = candles[len(candles)-1].Close
	}
}

// FailNext makes the next API call return err, simulating an exchange outage
func (p *PaperClient) FailNext(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failErr = err
}

func (p *PaperClient) takeFailure() error {
	err := p.failErr
	p.failErr = nil
	return err
}

func (p *PaperClient) GetBalance(ctx context.Context, symbol string) ([]Balance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.takeFailure(); err != nil {
		return nil, err
	}

	var balances []Balance
	for sym, avail := range p.balances {
		if symbol != "" && sym != symbol {
			continue
		}
		balances = append(balances, Balance{Symbol: sym, Available: avail})
	}
	return balances, nil
}

func (p *PaperClient) GetTicker(ctx context.Context, market string) (*Ticker, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.takeFailure(); err != nil {
		return nil, err
	}

	price, ok := p.prices[market]
	if !ok {
		return nil, &APIError{Code: 205, Message: fmt.Sprintf("no price for market %s", market)}
	}
	return &Ticker{Market: market, Last: price}, nil
}

func (p *PaperClient) GetCandles(ctx context.Context, market, interval string, limit int) ([]Candle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.takeFailure(); err != nil {
		return nil, err
	}

	candles := p.candles[market]
	if limit > 0 && len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	out := make([]Candle, len(candles))
	copy(out, candles)
	return out, nil
}

// PlaceOrder simulates an immediate fill. Buys pay the slippage-adjusted
// price plus fee from the quote balance; sells credit the proceeds net of
// fee. The quote symbol is taken from the market suffix (e.g. BTC-EUR).
func (p *PaperClient) PlaceOrder(ctx context.Context, market, side, orderType string, amount, price float64) (*Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.takeFailure(); err != nil {
		return nil, err
	}

	mark, ok := p.prices[market]
	if !ok {
		return nil, &APIError{Code: 205, Message: fmt.Sprintf("no price for market %s", market)}
	}

	base, quote := splitMarket(market)

	fill := mark
	if orderType == OrderTypeLimit && price > 0 {
		fill = price
	}
	if side == SideBuy {
		fill *= 1 + p.slippage
	} else {
		fill *= 1 - p.slippage
	}

	cost := amount * fill
	fee := cost * p.feeRate

	switch side {
	case SideBuy:
		if p.balances[quote] < cost+fee {
			return nil, &APIError{Code: 216, Message: "insufficient balance"}
		}
		p.balances[quote] -= cost + fee
		p.balances[base] += amount
	case SideSell:
		if p.balances[base] < amount {
			return nil, &APIError{Code: 216, Message: "insufficient balance"}
		}
		p.balances[base] -= amount
		p.balances[quote] += cost - fee
	default:
		return nil, &APIError{Code: 205, Message: fmt.Sprintf("invalid side %q", side)}
	}

	ts := p.now().UnixMilli()
	order := Order{
		OrderID:      uuid.New().String(),
		Market:       market,
		Side:         side,
		OrderType:    orderType,
		Amount:       amount,
		Price:        fill,
		Status:       OrderStatusFilled,
		FilledAmount: amount,
		Created:      ts,
		Updated:      ts,
	}
	p.orders = append(p.orders, order)
	return &order, nil
}

func (p *PaperClient) GetOrder(ctx context.Context, market, orderID string) (*Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.takeFailure(); err != nil {
		return nil, err
	}

	for i := range p.orders {
		if p.orders[i].OrderID == orderID && p.orders[i].Market == market {
			order := p.orders[i]
			return &order, nil
		}
	}
	return nil, &APIError{Code: 240, Message: "order not found"}
}

func (p *PaperClient) GetOrderHistory(ctx context.Context, market string) ([]Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.takeFailure(); err != nil {
		return nil, err
	}

	var orders []Order
	for _, o := range p.orders {
		if market != "" && o.Market != market {
			continue
		}
		orders = append(orders, o)
	}
	return orders, nil
}

func (p *PaperClient) CancelOrder(ctx context.Context, market, orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.takeFailure(); err != nil {
		return err
	}
	// Paper orders fill instantly, so there is never anything to cancel
	return &APIError{Code: 240, Message: "order not found"}
}

func splitMarket(market string) (base, quote string) {
	for i := 0; i < len(market); i++ {
		if market[i] == '-' {
			return market[:i], market[i+1:]
		}
	}
	return market, "EUR"
}
