package strategy

import (
	"fmt"
	"strings"
	"time"

	"bitvavo-trading-bot/internal/bitvavo"
	"bitvavo-trading-bot/internal/indicator"
)

// EnsembleStrategy combines sub-strategies by confidence-weighted vote.
// Buy votes add their confidence, sell votes subtract it; the combined
// score is damped by recent volatility and must clear the emission
// threshold in either direction, otherwise the ensemble holds.
type EnsembleStrategy struct {
	strategies []Strategy
	threshold  float64
}

// NewEnsembleStrategy creates an ensemble over the given sub-strategies.
// A threshold of 0.6 requires solid agreement before emitting.
func NewEnsembleStrategy(threshold float64, strategies ...Strategy) *EnsembleStrategy {
	if threshold <= 0 {
		threshold = 0.6
	}
	return &EnsembleStrategy{strategies: strategies, threshold: threshold}
}

func (s *EnsembleStrategy) Name() string { return "ensemble" }

func (s *EnsembleStrategy) Description() string {
	names := make([]string, len(s.strategies))
	for i, sub := range s.strategies {
		names[i] = sub.Name()
	}
	return "confidence-weighted vote over " + strings.Join(names, ", ")
}

func (s *EnsembleStrategy) Analyze(candles []bitvavo.Candle) Signal {
	if len(s.strategies) == 0 {
		return hold("no sub-strategies configured")
	}

	score := 0.0
	var reasons []string
	for _, sub := range s.strategies {
		sig := sub.Analyze(candles)
		switch sig.Action {
		case ActionBuy:
			score += sig.Confidence
			reasons = append(reasons, sub.Name()+": "+sig.Reason)
		case ActionSell:
			score -= sig.Confidence
			reasons = append(reasons, sub.Name()+": "+sig.Reason)
		}
	}

	// high volatility damps the combined score
	score *= 1 - clamp01(volatility(candles))

	var action Action
	switch {
	case score > s.threshold:
		action = ActionBuy
	case score < -s.threshold:
		action = ActionSell
	default:
		return hold(fmt.Sprintf("ensemble score %.2f inside threshold", score))
	}

	confidence := clamp01(absFloat(score) / float64(len(s.strategies)))
	return Signal{
		Action:     action,
		Confidence: confidence,
		Reason:     strings.Join(reasons, "; "),
		Timestamp:  time.Now(),
	}
}

// volatility is the standard deviation of single-bar returns
func volatility(candles []bitvavo.Candle) float64 {
	if len(candles) < 2 {
		return 0
	}
	returns := make([]float64, 0, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		prev := candles[i-1].Close
		if prev == 0 {
			continue
		}
		returns = append(returns, (candles[i].Close-prev)/prev)
	}
	return indicator.StdDev(returns)
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
