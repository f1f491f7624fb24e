package events

import (
	"sync"
	"time"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventTradeOpened          EventType = "TRADE_OPENED"
	EventTradeClosed          EventType = "TRADE_CLOSED"
	EventOrderFailed          EventType = "ORDER_FAILED"
	EventSignalGenerated      EventType = "SIGNAL_GENERATED"
	EventCapitalDistributed   EventType = "CAPITAL_DISTRIBUTED"
	EventWatchlistChanged     EventType = "WATCHLIST_CHANGED"
	EventCircuitBreakerUpdate EventType = "CIRCUIT_BREAKER_UPDATE"
	EventRiskTierChanged      EventType = "RISK_TIER_CHANGED"
	EventBotStarted           EventType = "BOT_STARTED"
	EventBotStopped           EventType = "BOT_STOPPED"
	EventError                EventType = "ERROR"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// EventBus manages event publishing and subscriptions
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber
	sync        bool
}

// NewEventBus creates a new event bus. Subscribers run on their own goroutine.
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]Subscriber),
	}
}

// NewSyncEventBus creates a bus that calls subscribers inline, in
// subscription order
func NewSyncEventBus() *EventBus {
	eb := NewEventBus()
	eb.sync = true
	return eb
}

// Subscribe registers a subscriber for a specific event type
func (eb *EventBus) Subscribe(eventType EventType, subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for all events
func (eb *EventBus) SubscribeAll(subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.allSubs = append(eb.allSubs, subscriber)
}

// Publish sends an event to all subscribers. A nil bus drops the event.
func (eb *EventBus) Publish(event Event) {
	if eb == nil {
		return
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	eb.mu.RLock()
	subs := make([]Subscriber, 0, len(eb.subscribers[event.Type])+len(eb.allSubs))
	subs = append(subs, eb.subscribers[event.Type]...)
	subs = append(subs, eb.allSubs...)
	eb.mu.RUnlock()

	for _, sub := range subs {
		if eb.sync {
			sub(event)
		} else {
			go sub(event)
		}
	}
}

// PublishTradeOpened publishes a trade opened event
func (eb *EventBus) PublishTradeOpened(tradeID, symbol string, price, quantity float64, reason string) {
	eb.Publish(Event{
		Type: EventTradeOpened,
		Data: map[string]interface{}{
			"trade_id": tradeID,
			"symbol":   symbol,
			"price":    price,
			"quantity": quantity,
			"reason":   reason,
		},
	})
}

// PublishTradeClosed publishes a trade closed event
func (eb *EventBus) PublishTradeClosed(tradeID, symbol string, entryPrice, exitPrice, quantity, pnl float64, reason string) {
	pnlPercent := 0.0
	if entryPrice > 0 {
		pnlPercent = (exitPrice - entryPrice) / entryPrice * 100
	}
	eb.Publish(Event{
		Type: EventTradeClosed,
		Data: map[string]interface{}{
			"trade_id":    tradeID,
			"symbol":      symbol,
			"entry_price": entryPrice,
			"exit_price":  exitPrice,
			"quantity":    quantity,
			"pnl":         pnl,
			"pnl_percent": pnlPercent,
			"reason":      reason,
		},
	})
}

// PublishSignal publishes a signal generated event
func (eb *EventBus) PublishSignal(strategyName, symbol, action, reason string, confidence, price float64) {
	eb.Publish(Event{
		Type: EventSignalGenerated,
		Data: map[string]interface{}{
			"strategy":   strategyName,
			"symbol":     symbol,
			"action":     action,
			"reason":     reason,
			"confidence": confidence,
			"price":      price,
		},
	})
}

// PublishCircuitBreaker publishes a breaker state change
func (eb *EventBus) PublishCircuitBreaker(action, reason string, pauseUntil time.Time) {
	data := map[string]interface{}{
		"action": action,
		"reason": reason,
	}
	if !pauseUntil.IsZero() {
		data["pause_until"] = pauseUntil
	}
	eb.Publish(Event{Type: EventCircuitBreakerUpdate, Data: data})
}

// PublishError publishes an error event
func (eb *EventBus) PublishError(source, message string) {
	eb.Publish(Event{
		Type: EventError,
		Data: map[string]interface{}{
			"source":  source,
			"message": message,
		},
	})
}
