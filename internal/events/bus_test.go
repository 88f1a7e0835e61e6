package events

import (
	"sync"
	"testing"
	"time"
)

func TestSubscribeReceivesMatchingType(t *testing.T) {
	bus := NewBus()

	var wg sync.WaitGroup
	wg.Add(1)
	var got Event
	bus.Subscribe(EventTradeRejected, func(e Event) {
		got = e
		wg.Done()
	})

	bus.PublishRejection("BTC-EUR", "daily loss at limit")
	waitOrFail(t, &wg)

	if got.Type != EventTradeRejected {
		t.Errorf("Type = %v, want %v", got.Type, EventTradeRejected)
	}
	if got.Data["market"] != "BTC-EUR" {
		t.Errorf("market = %v, want BTC-EUR", got.Data["market"])
	}
	if got.Timestamp.IsZero() {
		t.Error("Timestamp not set on publish")
	}
}

func TestSubscriberIgnoresOtherTypes(t *testing.T) {
	bus := NewBus()

	received := make(chan Event, 1)
	bus.Subscribe(EventOrderFilled, func(e Event) { received <- e })

	bus.PublishEmergencyStop("drawdown past emergency threshold", 0.2)

	select {
	case e := <-received:
		t.Errorf("subscriber for %v received %v", EventOrderFilled, e.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribeAllReceivesEverything(t *testing.T) {
	bus := NewBus()

	var wg sync.WaitGroup
	wg.Add(2)
	var mu sync.Mutex
	var types []EventType
	bus.SubscribeAll(func(e Event) {
		mu.Lock()
		types = append(types, e.Type)
		mu.Unlock()
		wg.Done()
	})

	bus.PublishEmergencyReset("ops")
	bus.Publish(Event{Type: EventBotStarted})
	waitOrFail(t, &wg)

	mu.Lock()
	defer mu.Unlock()
	if len(types) != 2 {
		t.Fatalf("received %d events, want 2", len(types))
	}
}

func waitOrFail(t *testing.T, wg *sync.WaitGroup) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for subscribers")
	}
}
