package strategy

import (
	"fmt"
	"math"
	"time"

	"bitvavo-trading-bot/internal/bitvavo"
	"bitvavo-trading-bot/internal/indicator"
)

// MACDStrategy signals on histogram crossovers through a noise threshold,
// and on sustained momentum when the histogram keeps widening on the same
// side across consecutive evaluations.
type MACDStrategy struct {
	fastPeriod   int
	slowPeriod   int
	signalPeriod int
	threshold    float64

	prevHist float64
	hasPrev  bool
}

// NewMACDStrategy creates a MACD strategy. Typical parameters are
// 12/26/9 with a histogram threshold of 0.0002.
func NewMACDStrategy(fastPeriod, slowPeriod, signalPeriod int, threshold float64) *MACDStrategy {
	if threshold <= 0 {
		threshold = 0.0002
	}
	return &MACDStrategy{
		fastPeriod:   fastPeriod,
		slowPeriod:   slowPeriod,
		signalPeriod: signalPeriod,
		threshold:    threshold,
	}
}

func (s *MACDStrategy) Name() string { return "macd" }

func (s *MACDStrategy) Description() string {
	return fmt.Sprintf("MACD(%d,%d,%d) histogram crossover", s.fastPeriod, s.slowPeriod, s.signalPeriod)
}

func (s *MACDStrategy) minCandles() int {
	slowest := s.fastPeriod
	if s.slowPeriod > slowest {
		slowest = s.slowPeriod
	}
	return slowest + s.signalPeriod
}

func (s *MACDStrategy) Analyze(candles []bitvavo.Candle) Signal {
	if len(candles) < s.minCandles() {
		return hold("insufficient data for MACD")
	}

	res := indicator.MACD(closePrices(candles), s.fastPeriod, s.slowPeriod, s.signalPeriod)
	hist := res.Histogram[len(res.Histogram)-1]

	prev := s.prevHist
	hasPrev := s.hasPrev
	s.prevHist = hist
	s.hasPrev = true

	if !hasPrev {
		return hold("priming MACD history")
	}

	var action Action
	var reason string
	switch {
	case prev <= s.threshold && hist > s.threshold:
		action = ActionBuy
		reason = "MACD histogram crossed above threshold"
	case prev >= -s.threshold && hist < -s.threshold:
		action = ActionSell
		reason = "MACD histogram crossed below threshold"
	case hist > s.threshold && prev > s.threshold && hist > prev:
		action = ActionBuy
		reason = "sustained bullish MACD momentum"
	case hist < -s.threshold && prev < -s.threshold && hist < prev:
		action = ActionSell
		reason = "sustained bearish MACD momentum"
	default:
		return hold(fmt.Sprintf("MACD histogram %.6f inside noise band", hist))
	}

	confidence := 0.3 + 0.7*clamp01(math.Abs(hist-prev)/s.threshold)
	return Signal{
		Action:     action,
		Confidence: confidence,
		Reason:     reason,
		Timestamp:  time.Now(),
	}
}
