package bitvavo

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	defaultBaseURL      = "https://api.bitvavo.com/v2"
	defaultAccessWindow = 10000 // ms
	maxRetryAttempts    = 3
)

// Client is the REST client for the Bitvavo API
type Client struct {
	apiKey      string
	apiSecret   string
	baseURL     string
	httpClient  *http.Client
	rateLimiter *RateLimiter
}

// NewClient creates a new Bitvavo REST client. Requests against the same
// credential set are spaced by the rate limiter's minimum interval.
func NewClient(apiKey, apiSecret, baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		apiKey:      apiKey,
		apiSecret:   apiSecret,
		baseURL:     baseURL,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		rateLimiter: NewRateLimiter(250 * time.Millisecond),
	}
}

// GetBalance fetches asset balances; symbol "" returns all assets
func (c *Client) GetBalance(ctx context.Context, symbol string) ([]Balance, error) {
	endpoint := "/balance"
	if symbol != "" {
		endpoint += "?symbol=" + url.QueryEscape(symbol)
	}

	body, err := c.request(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	var raw []struct {
		Symbol    string `json:"symbol"`
		Available string `json:"available"`
		InOrder   string `json:"inOrder"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("error parsing balances: %w", err)
	}

	balances := make([]Balance, len(raw))
	for i, b := range raw {
		balances[i] = Balance{
			Symbol:    b.Symbol,
			Available: parseFloat(b.Available),
			InOrder:   parseFloat(b.InOrder),
		}
	}
	return balances, nil
}

// GetTicker fetches the last traded price for a market
func (c *Client) GetTicker(ctx context.Context, market string) (*Ticker, error) {
	endpoint := "/ticker/price?market=" + url.QueryEscape(market)

	body, err := c.request(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	var raw struct {
		Market string `json:"market"`
		Price  string `json:"price"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("error parsing ticker: %w", err)
	}

	return &Ticker{Market: raw.Market, Last: parseFloat(raw.Price)}, nil
}

// GetCandles fetches OHLCV candles for a market. Bitvavo returns candles
// newest-first; the result is reversed into ascending timestamp order.
func (c *Client) GetCandles(ctx context.Context, market, interval string, limit int) ([]Candle, error) {
	endpoint := fmt.Sprintf("/%s/candles?interval=%s&limit=%d",
		url.PathEscape(market), url.QueryEscape(interval), limit)

	body, err := c.request(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	// Wire format: [[timestamp, open, high, low, close, volume], ...]
	var raw [][]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("error parsing candles: %w", err)
	}

	candles := make([]Candle, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		row := raw[i]
		if len(row) < 6 {
			continue
		}
		ts, _ := row[0].(float64)
		candles = append(candles, Candle{
			Timestamp: int64(ts),
			Open:      parseField(row[1]),
			High:      parseField(row[2]),
			Low:       parseField(row[3]),
			Close:     parseField(row[4]),
			Volume:    parseField(row[5]),
		})
	}
	return candles, nil
}

// PlaceOrder submits a new order. Price is ignored for market orders.
func (c *Client) PlaceOrder(ctx context.Context, market, side, orderType string, amount, price float64) (*Order, error) {
	payload := map[string]string{
		"market":    market,
		"side":      side,
		"orderType": orderType,
		"amount":    strconv.FormatFloat(amount, 'f', 8, 64),
	}
	if orderType == OrderTypeLimit {
		payload["price"] = strconv.FormatFloat(price, 'f', 2, 64)
	}

	body, err := c.request(ctx, http.MethodPost, "/order", payload)
	if err != nil {
		return nil, err
	}
	return parseOrder(body)
}

// GetOrder re-queries a single order, used to resolve ambiguous outcomes
// after a cancelled or timed-out placement
func (c *Client) GetOrder(ctx context.Context, market, orderID string) (*Order, error) {
	endpoint := fmt.Sprintf("/order?market=%s&orderId=%s",
		url.QueryEscape(market), url.QueryEscape(orderID))

	body, err := c.request(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	return parseOrder(body)
}

// GetOrderHistory fetches orders; market "" returns all markets
func (c *Client) GetOrderHistory(ctx context.Context, market string) ([]Order, error) {
	endpoint := "/orders"
	if market != "" {
		endpoint += "?market=" + url.QueryEscape(market)
	}

	body, err := c.request(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	var raw []orderResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("error parsing order history: %w", err)
	}

	orders := make([]Order, len(raw))
	for i, r := range raw {
		orders[i] = r.toOrder()
	}
	return orders, nil
}

// CancelOrder cancels an open order
func (c *Client) CancelOrder(ctx context.Context, market, orderID string) error {
	endpoint := fmt.Sprintf("/order?market=%s&orderId=%s",
		url.QueryEscape(market), url.QueryEscape(orderID))

	_, err := c.request(ctx, http.MethodDelete, endpoint, nil)
	return err
}

// orderResponse mirrors the Bitvavo order wire format
type orderResponse struct {
	OrderID      string `json:"orderId"`
	Market       string `json:"market"`
	Side         string `json:"side"`
	OrderType    string `json:"orderType"`
	Amount       string `json:"amount"`
	Price        string `json:"price"`
	Status       string `json:"status"`
	FilledAmount string `json:"filledAmount"`
	Created      int64  `json:"created"`
	Updated      int64  `json:"updated"`
}

func (r orderResponse) toOrder() Order {
	return Order{
		OrderID:      r.OrderID,
		Market:       r.Market,
		Side:         r.Side,
		OrderType:    r.OrderType,
		Amount:       parseFloat(r.Amount),
		Price:        parseFloat(r.Price),
		Status:       OrderStatus(r.Status),
		FilledAmount: parseFloat(r.FilledAmount),
		Created:      r.Created,
		Updated:      r.Updated,
	}
}

func parseOrder(body []byte) (*Order, error) {
	var raw orderResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("error parsing order: %w", err)
	}
	order := raw.toOrder()
	return &order, nil
}

// request performs a signed HTTP request with rate limiting and bounded
// retries. Only transient failures (network errors, 5xx, 429) are retried;
// API errors with a 4xx status surface immediately.
func (c *Client) request(ctx context.Context, method, endpoint string, payload map[string]string) ([]byte, error) {
	var bodyBytes []byte
	if payload != nil {
		var err error
		bodyBytes, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("error encoding request body: %w", err)
		}
	}

	var result []byte
	operation := func() error {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, bytes.NewReader(bodyBytes))
		if err != nil {
			return backoff.Permanent(err)
		}

		c.signRequest(req, method, endpoint, bodyBytes)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("error reading response: %w", err)
		}

		if resp.StatusCode == http.StatusOK {
			result = body
			return nil
		}

		apiErr := &APIError{}
		if err := json.Unmarshal(body, apiErr); err != nil || apiErr.Message == "" {
			apiErr = &APIError{Code: resp.StatusCode, Message: string(body)}
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return apiErr
		}
		return backoff.Permanent(apiErr)
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxRetryAttempts), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return result, nil
}

// signRequest sets the Bitvavo authentication headers. The signature is
// HMAC-SHA256 over timestamp + method + "/v2" + endpoint + body.
func (c *Client) signRequest(req *http.Request, method, endpoint string, body []byte) {
	if c.apiKey == "" {
		return // public endpoint
	}

	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)

	mac := hmac.New(sha256.New, []byte(c.apiSecret))
	mac.Write([]byte(timestamp + method + "/v2" + endpoint))
	mac.Write(body)

	req.Header.Set("Bitvavo-Access-Key", c.apiKey)
	req.Header.Set("Bitvavo-Access-Signature", hex.EncodeToString(mac.Sum(nil)))
	req.Header.Set("Bitvavo-Access-Timestamp", timestamp)
	req.Header.Set("Bitvavo-Access-Window", strconv.Itoa(defaultAccessWindow))
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func parseField(v interface{}) float64 {
	switch val := v.(type) {
	case string:
		return parseFloat(val)
	case float64:
		return val
	default:
		return 0
	}
}
