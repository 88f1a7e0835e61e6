// Package strategy implements the trading signal generators. Every
// strategy consumes a window of candles in ascending time order and emits
// a Signal; stateful strategies (confirmation counters, previous values)
// key their state to consecutive Analyze calls on the same instance.
package strategy

import (
	"time"

	"bitvavo-trading-bot/internal/bitvavo"
)

// Action is the trading action recommended by a strategy
type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
	ActionHold Action = "hold"
)

// Signal is the output of a strategy evaluation. Confidence is in [0,1];
// hold signals carry zero confidence.
type Signal struct {
	Action     Action    `json:"action"`
	Confidence float64   `json:"confidence"`
	Reason     string    `json:"reason"`
	Timestamp  time.Time `json:"timestamp"`
}

// Strategy analyzes market data and produces trading signals
type Strategy interface {
	Name() string
	Description() string
	Analyze(candles []bitvavo.Candle) Signal
}

func hold(reason string) Signal {
	return Signal{Action: ActionHold, Confidence: 0, Reason: reason, Timestamp: time.Now()}
}

func closePrices(candles []bitvavo.Candle) []float64 {
	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}
	return closes
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
