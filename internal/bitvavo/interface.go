package bitvavo

import "context"

// ExchangeClient defines the interface for Bitvavo API operations.
// All calls may fail with an *APIError carrying the exchange error code.
type ExchangeClient interface {
	// GetBalance returns balances; symbol "" returns all assets
	GetBalance(ctx context.Context, symbol string) ([]Balance, error)
	GetTicker(ctx context.Context, market string) (*Ticker, error)
	GetCandles(ctx context.Context, market, interval string, limit int) ([]Candle, error)
	PlaceOrder(ctx context.Context, market, side, orderType string, amount, price float64) (*Order, error)
	GetOrder(ctx context.Context, market, orderID string) (*Order, error)
	GetOrderHistory(ctx context.Context, market string) ([]Order, error)
	CancelOrder(ctx context.Context, market, orderID string) error
}

// Ensure both implementations satisfy ExchangeClient
var _ ExchangeClient = (*Client)(nil)
var _ ExchangeClient = (*PaperClient)(nil)
