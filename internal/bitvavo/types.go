package bitvavo

import "fmt"

// Candle represents a single OHLCV bar. Timestamps are ms since epoch and
// strictly increasing within a series.
type Candle struct {
	Timestamp int64   `json:"timestamp"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

// Ticker represents the latest traded price for a market
type Ticker struct {
	Market string  `json:"market"`
	Last   float64 `json:"last"`
}

// Balance represents an asset balance snapshot
type Balance struct {
	Symbol    string  `json:"symbol"`
	Available float64 `json:"available"`
	InOrder   float64 `json:"inOrder"`
}

// OrderStatus represents the lifecycle state of an order
type OrderStatus string

const (
	OrderStatusNew       OrderStatus = "new"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusRejected  OrderStatus = "rejected"
)

// Order sides and types as used on the wire
const (
	SideBuy  = "buy"
	SideSell = "sell"

	OrderTypeLimit  = "limit"
	OrderTypeMarket = "market"
)

// Order represents an exchange order. Once an order has entered the trade
// history it is immutable; corrections are new orders.
type Order struct {
	OrderID      string      `json:"orderId"`
	Market       string      `json:"market"`
	Side         string      `json:"side"`
	OrderType    string      `json:"orderType"`
	Amount       float64     `json:"amount"`
	Price        float64     `json:"price"`
	Status       OrderStatus `json:"status"`
	FilledAmount float64     `json:"filledAmount"`
	Created      int64       `json:"created"`
	Updated      int64       `json:"updated"`
}

// Notional returns the cash value of the order (amount x price). For filled
// orders the filled amount takes precedence over the requested amount.
func (o Order) Notional() float64 {
	amount := o.Amount
	if o.Status == OrderStatusFilled && o.FilledAmount > 0 {
		amount = o.FilledAmount
	}
	return amount * o.Price
}

// APIError represents an error returned by the Bitvavo API
type APIError struct {
	Code    int    `json:"errorCode"`
	Message string `json:"error"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bitvavo API error %d: %s", e.Code, e.Message)
}

// Interval constants for candle requests
const (
	Interval1m  = "1m"
	Interval5m  = "5m"
	Interval15m = "15m"
	Interval1h  = "1h"
	Interval4h  = "4h"
	Interval1d  = "1d"
)
