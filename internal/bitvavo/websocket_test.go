package bitvavo

import (
	"testing"

	"github.com/rs/zerolog"
)

func newTestStream() *MarketStream {
	return NewMarketStream("", []string{"BTC-EUR"}, Interval1m, zerolog.Nop())
}

func TestDispatchCandle(t *testing.T) {
	s := newTestStream()

	var gotMarket, gotInterval string
	var got []Candle
	s.OnCandle(func(market, interval string, candle Candle) {
		gotMarket, gotInterval = market, interval
		got = append(got, candle)
	})

	s.dispatch([]byte(`{"event":"candle","market":"BTC-EUR","interval":"1m",
		"candle":[[1718000000000,"100.5","101.0","99.5","100.8","12.34"]]}`))

	if gotMarket != "BTC-EUR" || gotInterval != "1m" {
		t.Errorf("handler got %s/%s, want BTC-EUR/1m", gotMarket, gotInterval)
	}
	if len(got) != 1 {
		t.Fatalf("len(candles) = %d, want 1", len(got))
	}
	want := Candle{Timestamp: 1718000000000, Open: 100.5, High: 101.0, Low: 99.5, Close: 100.8, Volume: 12.34}
	if got[0] != want {
		t.Errorf("candle = %+v, want %+v", got[0], want)
	}
}

func TestDispatchTicker(t *testing.T) {
	s := newTestStream()

	var gotMarket string
	var gotPrice float64
	s.OnTicker(func(market string, price float64) {
		gotMarket, gotPrice = market, price
	})

	s.dispatch([]byte(`{"event":"ticker","market":"BTC-EUR","lastPrice":"64123.5"}`))

	if gotMarket != "BTC-EUR" || gotPrice != 64123.5 {
		t.Errorf("handler got %s @ %v, want BTC-EUR @ 64123.5", gotMarket, gotPrice)
	}
}

func TestDispatchIgnoresMalformed(t *testing.T) {
	s := newTestStream()

	called := false
	s.OnCandle(func(string, string, Candle) { called = true })
	s.OnTicker(func(string, float64) { called = true })

	for _, data := range []string{
		`not json`,
		`{"event":"subscribed"}`,
		`{"event":"ticker","market":"BTC-EUR"}`,                         // no price
		`{"event":"candle","market":"BTC-EUR","candle":[[1,"2","3"]]}`,  // short row
	} {
		s.dispatch([]byte(data))
	}
	if called {
		t.Error("handler invoked for a malformed or irrelevant message")
	}
}

func TestDispatchWithoutHandlers(t *testing.T) {
	s := newTestStream()
	// must not panic when nothing is registered
	s.dispatch([]byte(`{"event":"candle","market":"BTC-EUR","interval":"1m",
		"candle":[[1718000000000,"1","1","1","1","1"]]}`))
	s.dispatch([]byte(`{"event":"ticker","market":"BTC-EUR","lastPrice":"1"}`))
}
