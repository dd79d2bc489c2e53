package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventEntrySignal    EventType = "ENTRY_SIGNAL"
	EventTrapSignal     EventType = "TRAP_SIGNAL"
	EventPositionOpened EventType = "POSITION_OPENED"
	EventPositionExit   EventType = "POSITION_EXIT"
	EventStopMoved      EventType = "STOP_MOVED"
	EventPositionClosed EventType = "POSITION_CLOSED"
	EventEntryRejected  EventType = "ENTRY_REJECTED"
	EventAnalysisUpdate EventType = "ANALYSIS_UPDATE"
	EventError          EventType = "ERROR"
)

// Event represents a system event
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Symbol    string                 `json:"symbol,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// EventBus manages event publishing and subscriptions
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber // Subscribers to all events
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]Subscriber),
		allSubs:     make([]Subscriber, 0),
	}
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

// Publish sends an event to all subscribers. Subscribers run on their own
// goroutines and must not assume delivery order.
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if subs, ok := eb.subscribers[event.Type]; ok {
		for _, sub := range subs {
			go sub(event)
		}
	}

	for _, sub := range eb.allSubs {
		go sub(event)
	}
}

// PublishError publishes an error event
func (eb *EventBus) PublishError(source, message string, err error) {
	data := map[string]interface{}{
		"source":  source,
		"message": message,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	eb.Publish(Event{
		Type: EventError,
		Data: data,
	})
}

// PublishPositionOpened publishes a position opened event
func (eb *EventBus) PublishPositionOpened(symbol, positionID, direction string, entryPrice, stopLoss, size float64) {
	eb.Publish(Event{
		Type:   EventPositionOpened,
		Symbol: symbol,
		Data: map[string]interface{}{
			"position_id": positionID,
			"direction":   direction,
			"entry_price": entryPrice,
			"stop_loss":   stopLoss,
			"size":        size,
		},
	})
}

// PublishExit publishes a partial or full exit
func (eb *EventBus) PublishExit(symbol, positionID, level string, fillPrice, size, pnl float64) {
	eb.Publish(Event{
		Type:   EventPositionExit,
		Symbol: symbol,
		Data: map[string]interface{}{
			"position_id": positionID,
			"level":       level,
			"fill_price":  fillPrice,
			"size":        size,
			"pnl":         pnl,
		},
	})
}

// PublishStopMoved publishes a trailing stop advance
func (eb *EventBus) PublishStopMoved(symbol, positionID string, oldStop, newStop float64) {
	eb.Publish(Event{
		Type:   EventStopMoved,
		Symbol: symbol,
		Data: map[string]interface{}{
			"position_id": positionID,
			"old_stop":    oldStop,
			"new_stop":    newStop,
		},
	})
}

// PublishPositionClosed publishes a terminal position state
func (eb *EventBus) PublishPositionClosed(symbol, positionID, status string, realizedPnL float64) {
	eb.Publish(Event{
		Type:   EventPositionClosed,
		Symbol: symbol,
		Data: map[string]interface{}{
			"position_id":  positionID,
			"status":       status,
			"realized_pnl": realizedPnL,
		},
	})
}

// PublishEntrySignal publishes a validated entry
func (eb *EventBus) PublishEntrySignal(symbol, direction string, entryPrice, stopLoss, confidence, riskReward float64) {
	eb.Publish(Event{
		Type:   EventEntrySignal,
		Symbol: symbol,
		Data: map[string]interface{}{
			"direction":   direction,
			"entry_price": entryPrice,
			"stop_loss":   stopLoss,
			"confidence":  confidence,
			"risk_reward": riskReward,
		},
	})
}

// PublishTrapSignal publishes a detected trap
func (eb *EventBus) PublishTrapSignal(symbol, trapType, direction string, entryPrice, stopLoss, confidence float64) {
	eb.Publish(Event{
		Type:   EventTrapSignal,
		Symbol: symbol,
		Data: map[string]interface{}{
			"trap_type":   trapType,
			"direction":   direction,
			"entry_price": entryPrice,
			"stop_loss":   stopLoss,
			"confidence":  confidence,
		},
	})
}

// PublishEntryRejected publishes the gate that stopped an entry
func (eb *EventBus) PublishEntryRejected(symbol, reason, detail string) {
	eb.Publish(Event{
		Type:   EventEntryRejected,
		Symbol: symbol,
		Data: map[string]interface{}{
			"reason": reason,
			"detail": detail,
		},
	})
}

// PublishAnalysisUpdate publishes a summary of one analysis cycle
func (eb *EventBus) PublishAnalysisUpdate(symbol, timeframe, trend string, zones, traps int, alignment float64) {
	eb.Publish(Event{
		Type:   EventAnalysisUpdate,
		Symbol: symbol,
		Data: map[string]interface{}{
			"timeframe": timeframe,
			"trend":     trend,
			"zones":     zones,
			"traps":     traps,
			"alignment": alignment,
		},
	})
}
