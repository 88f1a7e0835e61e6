package events

import (
	"sync"
	"time"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventSignalGenerated EventType = "SIGNAL_GENERATED"
	EventOrderPlaced     EventType = "ORDER_PLACED"
	EventOrderFilled     EventType = "ORDER_FILLED"
	EventOrderFailed     EventType = "ORDER_FAILED"
	EventTradeRejected   EventType = "TRADE_REJECTED"
	EventTradeClosed     EventType = "TRADE_CLOSED"
	EventEmergencyStop   EventType = "EMERGENCY_STOP"
	EventEmergencyReset  EventType = "EMERGENCY_RESET"
	EventBotStarted      EventType = "BOT_STARTED"
	EventBotStopped      EventType = "BOT_STOPPED"
	EventPriceUpdate     EventType = "PRICE_UPDATE"
	EventError           EventType = "ERROR"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// Bus manages event publishing and subscriptions
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber
}

// NewBus creates a new event bus
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[EventType][]Subscriber),
	}
}

// Subscribe registers a subscriber for a specific event type
func (b *Bus) Subscribe(eventType EventType, subscriber Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for all events
func (b *Bus) SubscribeAll(subscriber Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.allSubs = append(b.allSubs, subscriber)
}

// Publish sends an event to all subscribers. Delivery is asynchronous so
// a slow subscriber cannot block the trading path.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	for _, sub := range b.subscribers[event.Type] {
		go sub(event)
	}
	for _, sub := range b.allSubs {
		go sub(event)
	}
}

// PublishRejection publishes a trade rejection with its reason
func (b *Bus) PublishRejection(market, reason string) {
	b.Publish(Event{
		Type: EventTradeRejected,
		Data: map[string]interface{}{
			"market": market,
			"reason": reason,
		},
	})
}

// PublishEmergencyStop publishes the emergency shutdown latch engaging
func (b *Bus) PublishEmergencyStop(reason string, drawdown float64) {
	b.Publish(Event{
		Type: EventEmergencyStop,
		Data: map[string]interface{}{
			"reason":   reason,
			"drawdown": drawdown,
		},
	})
}

// PublishEmergencyReset publishes the audit record of an operator reset
func (b *Bus) PublishEmergencyReset(operator string) {
	b.Publish(Event{
		Type: EventEmergencyReset,
		Data: map[string]interface{}{
			"operator": operator,
		},
	})
}
