package strategy

import (
	"testing"
	"time"

	"bitvavo-trading-bot/internal/bitvavo"
)

func makeCandles(closes ...float64) []bitvavo.Candle {
	candles := make([]bitvavo.Candle, len(closes))
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	for i, c := range closes {
		candles[i] = bitvavo.Candle{
			Timestamp: base + int64(i)*60_000,
			Open:      c,
			High:      c,
			Low:       c,
			Close:     c,
			Volume:    100,
		}
	}
	return candles
}

func risingCandles(n int) []bitvavo.Candle {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	return makeCandles(closes...)
}

func flatCandles(n int) []bitvavo.Candle {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = 100
	}
	return makeCandles(closes...)
}

func TestRSIStrategyInsufficientData(t *testing.T) {
	s := NewRSIStrategy(14, 30, 70, 3)
	sig := s.Analyze(risingCandles(10))
	if sig.Action != ActionHold {
		t.Errorf("Analyze() with short window = %v, want hold", sig.Action)
	}
}

func TestRSIStrategyConfirmation(t *testing.T) {
	// 30 rising candles push RSI to overbought; the sell must only be
	// emitted after three consecutive overbought evaluations
	s := NewRSIStrategy(14, 30, 70, 3)
	candles := risingCandles(30)

	for i := 1; i <= 2; i++ {
		sig := s.Analyze(candles)
		if sig.Action != ActionHold {
			t.Fatalf("evaluation %d = %v, want hold while confirming", i, sig.Action)
		}
	}

	sig := s.Analyze(candles)
	if sig.Action != ActionSell {
		t.Fatalf("evaluation 3 = %v, want sell after confirmation", sig.Action)
	}
	if sig.Confidence < 0.2 || sig.Confidence > 1 {
		t.Errorf("Confidence = %v, want within [0.2,1]", sig.Confidence)
	}
}

func TestRSIStrategyNeutralResetsConfirmation(t *testing.T) {
	s := NewRSIStrategy(14, 30, 70, 2)
	overbought := risingCandles(30)

	if sig := s.Analyze(overbought); sig.Action != ActionHold {
		t.Fatalf("first evaluation = %v, want hold", sig.Action)
	}

	// a choppy window pulls RSI back to neutral and resets the counter
	closes := make([]float64, 30)
	for i := range closes {
		if i%2 == 0 {
			closes[i] = 100
		} else {
			closes[i] = 101
		}
	}
	if sig := s.Analyze(makeCandles(closes...)); sig.Action != ActionHold {
		t.Fatalf("neutral evaluation = %v, want hold", sig.Action)
	}

	// confirmation must start over
	if sig := s.Analyze(overbought); sig.Action != ActionHold {
		t.Errorf("evaluation after reset = %v, want hold", sig.Action)
	}
}

func TestMACDStrategyPrimingAndCrossover(t *testing.T) {
	s := NewMACDStrategy(12, 26, 9, 0.0002)

	if sig := s.Analyze(flatCandles(40)); sig.Action != ActionHold {
		t.Fatalf("priming evaluation = %v, want hold", sig.Action)
	}
	if sig := s.Analyze(flatCandles(40)); sig.Action != ActionHold {
		t.Fatalf("flat market = %v, want hold", sig.Action)
	}

	// switching to a strong uptrend drives the histogram through the
	// threshold from a flat baseline
	sig := s.Analyze(risingCandles(40))
	if sig.Action != ActionBuy {
		t.Fatalf("uptrend crossover = %v, want buy", sig.Action)
	}
	if sig.Confidence < 0.3 || sig.Confidence > 1 {
		t.Errorf("Confidence = %v, want within [0.3,1]", sig.Confidence)
	}
}

func TestMACDStrategyInsufficientData(t *testing.T) {
	s := NewMACDStrategy(12, 26, 9, 0.0002)
	if sig := s.Analyze(risingCandles(20)); sig.Action != ActionHold {
		t.Errorf("Analyze() with short window = %v, want hold", sig.Action)
	}
}

func TestVolumeWeightedStrategy(t *testing.T) {
	s := NewVolumeWeightedStrategy(10, 1.5, 0.02)

	spike := func(lastClose, lastVolume float64) []bitvavo.Candle {
		candles := flatCandles(15)
		last := &candles[len(candles)-1]
		last.Open = lastClose
		last.High = lastClose
		last.Low = lastClose
		last.Close = lastClose
		last.Volume = lastVolume
		return candles
	}

	if sig := s.Analyze(spike(110, 300)); sig.Action != ActionBuy {
		t.Errorf("volume spike above VWAP = %v, want buy", sig.Action)
	}
	if sig := s.Analyze(spike(90, 300)); sig.Action != ActionSell {
		t.Errorf("volume spike below VWAP = %v, want sell", sig.Action)
	}
	if sig := s.Analyze(spike(110, 120)); sig.Action != ActionHold {
		t.Errorf("price move without volume = %v, want hold", sig.Action)
	}
	if sig := s.Analyze(spike(100.5, 300)); sig.Action != ActionHold {
		t.Errorf("volume without price deviation = %v, want hold", sig.Action)
	}
	if sig := s.Analyze(flatCandles(5)); sig.Action != ActionHold {
		t.Errorf("short window = %v, want hold", sig.Action)
	}
}

type stubStrategy struct {
	name string
	sig  Signal
}

func (s stubStrategy) Name() string                    { return s.name }
func (s stubStrategy) Description() string             { return s.name }
func (s stubStrategy) Analyze([]bitvavo.Candle) Signal { return s.sig }

func TestEnsembleStrategy(t *testing.T) {
	buy := stubStrategy{name: "a", sig: Signal{Action: ActionBuy, Confidence: 0.5, Reason: "up"}}
	sell := stubStrategy{name: "b", sig: Signal{Action: ActionSell, Confidence: 0.5, Reason: "down"}}
	candles := flatCandles(20)

	t.Run("agreement emits", func(t *testing.T) {
		s := NewEnsembleStrategy(0.6, buy, buy)
		sig := s.Analyze(candles)
		if sig.Action != ActionBuy {
			t.Errorf("Analyze() = %v, want buy", sig.Action)
		}
		if sig.Confidence <= 0 || sig.Confidence > 1 {
			t.Errorf("Confidence = %v, want within (0,1]", sig.Confidence)
		}
	})

	t.Run("disagreement holds", func(t *testing.T) {
		s := NewEnsembleStrategy(0.6, buy, sell)
		if sig := s.Analyze(candles); sig.Action != ActionHold {
			t.Errorf("Analyze() = %v, want hold", sig.Action)
		}
	})

	t.Run("weak score holds", func(t *testing.T) {
		s := NewEnsembleStrategy(0.6, buy)
		if sig := s.Analyze(candles); sig.Action != ActionHold {
			t.Errorf("Analyze() = %v, want hold", sig.Action)
		}
	})

	t.Run("no sub-strategies", func(t *testing.T) {
		s := NewEnsembleStrategy(0.6)
		if sig := s.Analyze(candles); sig.Action != ActionHold {
			t.Errorf("Analyze() = %v, want hold", sig.Action)
		}
	})
}
