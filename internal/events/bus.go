package events

import (
	"sync"
	"time"
)

// EventSource represents the source of an event
type EventSource string

// EventSourceState marks events published by the state store
const EventSourceState EventSource = "state"

// State event types published for the presentation layer
const (
	EventMessageAdded       = "message.added"
	EventNetworkState       = "network.state"
	EventBufferAdded        = "buffer.added"
	EventBufferUpdated      = "buffer.updated"
	EventBufferRenamed      = "buffer.renamed"
	EventUsersChanged       = "users.changed"
	EventChannelListUpdated = "channel_list.updated"
)

// Data keys shared by publishers and subscribers
const (
	KeyNetworkID = "networkId"
	KeyNetwork   = "network"
	KeyBuffer    = "buffer"
	KeyBufferID  = "bufferId"
	KeyOldName   = "oldName"
	KeyMessage   = "message"
	KeyState     = "state"
	KeyError     = "error"
	KeyNick      = "nick"
	KeyCount     = "count"
)

// Event represents a generic event
type Event struct {
	Type      string
	Data      map[string]interface{}
	Timestamp time.Time
	Source    EventSource
}

// Subscriber is an interface for event subscribers
type Subscriber interface {
	OnEvent(event Event)
}

// SubscriberFunc adapts a plain function to the Subscriber interface
type SubscriberFunc func(event Event)

// OnEvent calls f(event)
func (f SubscriberFunc) OnEvent(event Event) {
	f(event)
}

// EventBus manages event routing
type EventBus struct {
	subscribers map[string][]Subscriber
	mu          sync.RWMutex
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[string][]Subscriber),
	}
}

// Subscribe subscribes a subscriber to a specific event type
func (eb *EventBus) Subscribe(eventType string, subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
}

// Unsubscribe removes a subscriber from an event type
func (eb *EventBus) Unsubscribe(eventType string, subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	subs := eb.subscribers[eventType]
	for i, sub := range subs {
		if sub == subscriber {
			eb.subscribers[eventType] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
}

func (eb *EventBus) snapshot(eventType string) []Subscriber {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	subs := make([]Subscriber, 0, len(eb.subscribers[eventType])+len(eb.subscribers["*"]))
	subs = append(subs, eb.subscribers[eventType]...)
	subs = append(subs, eb.subscribers["*"]...)
	return subs
}

// Emit emits an event to all subscribers, each on its own goroutine
func (eb *EventBus) Emit(event Event) {
	for _, sub := range eb.snapshot(event.Type) {
		go sub.OnEvent(event)
	}
}

// EmitSync emits an event synchronously (for testing or when order matters)
func (eb *EventBus) EmitSync(event Event) {
	for _, sub := range eb.snapshot(event.Type) {
		sub.OnEvent(event)
	}
}
