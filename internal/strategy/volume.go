package strategy

import (
	"fmt"
	"math"
	"time"

	"bitvavo-trading-bot/internal/bitvavo"
	"bitvavo-trading-bot/internal/indicator"
)

// VolumeWeightedStrategy signals when a volume spike coincides with a
// meaningful price deviation from VWAP. Price above VWAP on heavy volume
// reads as breakout momentum (buy), below as distribution (sell).
type VolumeWeightedStrategy struct {
	volumePeriod         int
	volumeThreshold      float64
	priceChangeThreshold float64
}

// NewVolumeWeightedStrategy creates a VWAP/volume strategy. Typical
// parameters are a 10-period volume average, a 1.5x spike threshold and
// a 2% price deviation threshold.
func NewVolumeWeightedStrategy(volumePeriod int, volumeThreshold, priceChangeThreshold float64) *VolumeWeightedStrategy {
	return &VolumeWeightedStrategy{
		volumePeriod:         volumePeriod,
		volumeThreshold:      volumeThreshold,
		priceChangeThreshold: priceChangeThreshold,
	}
}

func (s *VolumeWeightedStrategy) Name() string { return "volume_weighted" }

func (s *VolumeWeightedStrategy) Description() string {
	return fmt.Sprintf("VWAP deviation with %.1fx volume confirmation", s.volumeThreshold)
}

func (s *VolumeWeightedStrategy) Analyze(candles []bitvavo.Candle) Signal {
	if len(candles) <= s.volumePeriod {
		return hold("insufficient data for volume analysis")
	}

	n := len(candles)
	highs := make([]float64, n)
	lows := make([]float64, n)
	closes := make([]float64, n)
	volumes := make([]float64, n)
	for i, c := range candles {
		highs[i] = c.High
		lows[i] = c.Low
		closes[i] = c.Close
		volumes[i] = c.Volume
	}

	vwap := indicator.VWAP(highs, lows, closes, volumes)
	if vwap == 0 {
		return hold("no volume in window")
	}

	// trailing average excludes the current candle
	avgVolume := indicator.SMA(volumes[:n-1], s.volumePeriod)
	if avgVolume == 0 {
		return hold("no volume in window")
	}
	volumeRatio := volumes[n-1] / avgVolume

	price := closes[n-1]
	deviation := (price - vwap) / vwap

	if volumeRatio <= s.volumeThreshold || math.Abs(deviation) <= s.priceChangeThreshold {
		return hold(fmt.Sprintf("volume ratio %.2f, VWAP deviation %.4f below thresholds", volumeRatio, deviation))
	}

	action := ActionBuy
	if deviation < 0 {
		action = ActionSell
	}

	return Signal{
		Action:     action,
		Confidence: clamp01(volumeRatio / s.volumeThreshold),
		Reason:     fmt.Sprintf("%.1fx volume spike with %.2f%% VWAP deviation", volumeRatio, deviation*100),
		Timestamp:  time.Now(),
	}
}
