package strategy

import (
	"fmt"
	"time"

	"bitvavo-trading-bot/internal/bitvavo"
	"bitvavo-trading-bot/internal/indicator"
)

// RSIStrategy signals on oversold/overbought RSI levels. A candidate
// signal must persist for confirmationPeriod consecutive evaluations
// before it is emitted; a neutral reading resets the counter.
type RSIStrategy struct {
	period             int
	oversold           float64
	overbought         float64
	confirmationPeriod int

	candidate    Action
	confirmCount int
}

// NewRSIStrategy creates an RSI strategy. Typical parameters are
// period 14, oversold 30, overbought 70, confirmation 3.
func NewRSIStrategy(period int, oversold, overbought float64, confirmationPeriod int) *RSIStrategy {
	if confirmationPeriod < 1 {
		confirmationPeriod = 1
	}
	return &RSIStrategy{
		period:             period,
		oversold:           oversold,
		overbought:         overbought,
		confirmationPeriod: confirmationPeriod,
		candidate:          ActionHold,
	}
}

func (s *RSIStrategy) Name() string { return "rsi" }

func (s *RSIStrategy) Description() string {
	return fmt.Sprintf("RSI(%d) mean reversion, oversold %.0f / overbought %.0f", s.period, s.oversold, s.overbought)
}

func (s *RSIStrategy) Analyze(candles []bitvavo.Candle) Signal {
	if len(candles) <= s.period {
		return hold("insufficient data for RSI")
	}

	rsi := indicator.RSI(closePrices(candles), s.period)

	var candidate Action
	var distance float64
	switch {
	case rsi <= s.oversold:
		candidate = ActionBuy
		distance = s.oversold - rsi
	case rsi >= s.overbought:
		candidate = ActionSell
		distance = rsi - s.overbought
	default:
		s.candidate = ActionHold
		s.confirmCount = 0
		return hold(fmt.Sprintf("RSI %.2f in neutral zone", rsi))
	}

	if candidate == s.candidate {
		s.confirmCount++
	} else {
		s.candidate = candidate
		s.confirmCount = 1
	}

	if s.confirmCount < s.confirmationPeriod {
		return hold(fmt.Sprintf("RSI %.2f awaiting confirmation (%d/%d)", rsi, s.confirmCount, s.confirmationPeriod))
	}

	confidence := clamp01(distance/10)*0.8 + 0.2
	return Signal{
		Action:     candidate,
		Confidence: confidence,
		Reason:     fmt.Sprintf("RSI %.2f confirmed over %d evaluations", rsi, s.confirmCount),
		Timestamp:  time.Now(),
	}
}
