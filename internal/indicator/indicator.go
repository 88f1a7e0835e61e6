// Package indicator implements the technical indicator math shared by the
// trading strategies and the backtest engine. All functions are pure and
// operate on float64 series in ascending time order.
package indicator

import "math"

// SMA returns the simple moving average of the last period values.
// Returns 0 when fewer than period values are available.
func SMA(values []float64, period int) float64 {
	if period <= 0 || len(values) < period {
		return 0
	}
	sum := 0.0
	for _, v := range values[len(values)-period:] {
		sum += v
	}
	return sum / float64(period)
}

// EMA returns the exponential moving average series for the input. The
// series is seeded with the first value and uses the standard smoothing
// factor k = 2/(period+1).
func EMA(values []float64, period int) []float64 {
	if len(values) == 0 || period <= 0 {
		return nil
	}
	k := 2.0 / float64(period+1)
	out := make([]float64, len(values))
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = values[i]*k + out[i-1]*(1-k)
	}
	return out
}

// RSI returns the relative strength index over the full series using
// Wilder smoothing. The first average is a simple mean of the first
// period gains/losses; subsequent averages use
// avg = (avg*(period-1) + current) / period.
//
// Returns 50 (neutral) when the series is too short, and 100 when there
// are no losses in the window.
func RSI(closes []float64, period int) float64 {
	if period <= 0 || len(closes) <= period {
		return 50
	}

	avgGain := 0.0
	avgLoss := 0.0
	for i := 1; i <= period; i++ {
		change := closes[i] - closes[i-1]
		if change > 0 {
			avgGain += change
		} else {
			avgLoss += -change
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	for i := period + 1; i < len(closes); i++ {
		change := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}

	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// MACDResult holds the aligned MACD, signal and histogram series
type MACDResult struct {
	MACD      []float64
	Signal    []float64
	Histogram []float64
}

// MACD computes the MACD line (fast EMA - slow EMA), its signal EMA and
// the histogram (MACD - signal) over the full series
func MACD(closes []float64, fastPeriod, slowPeriod, signalPeriod int) MACDResult {
	if len(closes) == 0 {
		return MACDResult{}
	}
	fast := EMA(closes, fastPeriod)
	slow := EMA(closes, slowPeriod)

	macd := make([]float64, len(closes))
	for i := range closes {
		macd[i] = fast[i] - slow[i]
	}
	signal := EMA(macd, signalPeriod)

	hist := make([]float64, len(closes))
	for i := range closes {
		hist[i] = macd[i] - signal[i]
	}
	return MACDResult{MACD: macd, Signal: signal, Histogram: hist}
}

// VWAP returns the volume-weighted average price over the window, with
// typical price (high+low+close)/3 per bar. Returns 0 when total volume
// is zero.
func VWAP(highs, lows, closes, volumes []float64) float64 {
	n := len(closes)
	if n == 0 || len(highs) != n || len(lows) != n || len(volumes) != n {
		return 0
	}
	var pvSum, vSum float64
	for i := 0; i < n; i++ {
		typical := (highs[i] + lows[i] + closes[i]) / 3
		pvSum += typical * volumes[i]
		vSum += volumes[i]
	}
	if vSum == 0 {
		return 0
	}
	return pvSum / vSum
}

// StdDev returns the population standard deviation of the series
func StdDev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	variance := 0.0
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(values))
	return math.Sqrt(variance)
}

// SharpeRatio returns mean(returns)/stddev(returns). Returns 0 for an
// empty series or zero volatility rather than dividing by zero.
func SharpeRatio(returns []float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	sd := StdDev(returns)
	if sd == 0 {
		return 0
	}
	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	return mean / sd
}

// MaxDrawdown returns the largest relative decline from a running peak,
// as a fraction in [0,1]
func MaxDrawdown(equity []float64) float64 {
	peak := math.Inf(-1)
	maxDD := 0.0
	for _, v := range equity {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			dd := (peak - v) / peak
			if dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}
