package bitvavo

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const defaultWSURL = "wss://ws.bitvavo.com/v2/"

// CandleHandler receives closed candles from the stream
type CandleHandler func(market, interval string, candle Candle)

// TickerHandler receives price updates from the stream
type TickerHandler func(market string, price float64)

// MarketStream maintains a websocket subscription to Bitvavo candle and
// ticker channels. The connection is re-established with exponential
// backoff after any failure, and subscriptions are replayed on reconnect.
type MarketStream struct {
	mu         sync.Mutex
	url        string
	conn       *websocket.Conn
	markets    []string
	interval   string
	onCandle   CandleHandler
	onTicker   TickerHandler
	reconnects int
	logger     zerolog.Logger
}

// NewMarketStream creates a stream for the given markets and candle interval
func NewMarketStream(wsURL string, markets []string, interval string, logger zerolog.Logger) *MarketStream {
	if wsURL == "" {
		wsURL = defaultWSURL
	}
	return &MarketStream{
		url:      wsURL,
		markets:  markets,
		interval: interval,
		logger:   logger.With().Str("component", "market_stream").Logger(),
	}
}

// OnCandle registers the handler for closed candles
func (s *MarketStream) OnCandle(h CandleHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onCandle = h
}

// OnTicker registers the handler for price updates
func (s *MarketStream) OnTicker(h TickerHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onTicker = h
}

// Run connects and processes messages until the context is cancelled.
// Connection failures trigger reconnection with exponential backoff.
func (s *MarketStream) Run(ctx context.Context) error {
	for {
		if err := s.connect(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Error().Err(err).Msg("Websocket connection failed")
			continue
		}

		err := s.readLoop(ctx)
		s.closeConn()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Warn().Err(err).Msg("Websocket connection lost, reconnecting")
	}
}

// Reconnects returns how many times the stream has had to reconnect
func (s *MarketStream) Reconnects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reconnects
}

func (s *MarketStream) connect(ctx context.Context) error {
	operation := func() error {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
		if err != nil {
			s.mu.Lock()
			s.reconnects++
			s.mu.Unlock()
			return fmt.Errorf("error dialing %s: %w", s.url, err)
		}
		s.mu.Lock()
		s.conn = conn
		s.mu.Unlock()
		return nil
	}

	policy := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return err
	}
	return s.subscribe()
}

func (s *MarketStream) subscribe() error {
	msg := map[string]interface{}{
		"action": "subscribe",
		"channels": []map[string]interface{}{
			{
				"name":     "candles",
				"interval": []string{s.interval},
				"markets":  s.markets,
			},
			{
				"name":    "ticker",
				"markets": s.markets,
			},
		},
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("error subscribing: %w", err)
	}
	s.logger.Info().Strs("markets", s.markets).Str("interval", s.interval).Msg("Subscribed to market channels")
	return nil
}

func (s *MarketStream) readLoop(ctx context.Context) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	for {
		conn.SetReadDeadline(time.Now().Add(90 * time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.dispatch(data)
	}
}

// wire messages multiplex several event types on one connection
type streamEvent struct {
	Event     string          `json:"event"`
	Market    string          `json:"market"`
	Interval  string          `json:"interval"`
	Candle    [][]interface{} `json:"candle"`
	LastPrice string          `json:"lastPrice"`
}

func (s *MarketStream) dispatch(data []byte) {
	var ev streamEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		s.logger.Debug().Err(err).Msg("Dropping unparseable message")
		return
	}

	s.mu.Lock()
	onCandle := s.onCandle
	onTicker := s.onTicker
	s.mu.Unlock()

	switch ev.Event {
	case "candle":
		if onCandle == nil {
			return
		}
		for _, row := range ev.Candle {
			if len(row) < 6 {
				continue
			}
			ts, _ := row[0].(float64)
			onCandle(ev.Market, ev.Interval, Candle{
				Timestamp: int64(ts),
				Open:      parseField(row[1]),
				High:      parseField(row[2]),
				Low:       parseField(row[3]),
				Close:     parseField(row[4]),
				Volume:    parseField(row[5]),
			})
		}
	case "ticker":
		if onTicker != nil && ev.LastPrice != "" {
			onTicker(ev.Market, parseFloat(ev.LastPrice))
		}
	}
}

func (s *MarketStream) closeConn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
		s.reconnects++
	}
}
