package core

import "sync"

// EventType identifies the kind of event fired on the bus.
type EventType int

const (
	EventEngineStateChanged EventType = iota
	EventEngineExited
	EventEngineUnhealthy
	EventLinksChanged
	EventConfigReloaded
)

// Event carries data about something that happened in the system.
type Event struct {
	Type    EventType
	Payload any
}

// EngineStatePayload is the payload for EventEngineStateChanged.
type EngineStatePayload struct {
	OldState string
	NewState string
	// ConfigPath is the engine config the process was started with.
	ConfigPath string
}

// EngineExitPayload is the payload for EventEngineExited. It is only
// published for exits the supervisor did not initiate.
type EngineExitPayload struct {
	PID        int
	ConfigPath string
	Err        error
}

// HealthPayload is the payload for EventEngineUnhealthy.
type HealthPayload struct {
	Failures int
	Err      error
}

// Handler is a callback for bus subscribers.
type Handler func(Event)

// EventBus provides pub/sub between system components.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
}

// NewEventBus creates a ready-to-use event bus.
func NewEventBus() *EventBus {
	return &EventBus{
		handlers: make(map[EventType][]Handler),
	}
}

// Subscribe registers a handler for a given event type.
func (eb *EventBus) Subscribe(t EventType, h Handler) {
	eb.mu.Lock()
	eb.handlers[t] = append(eb.handlers[t], h)
	eb.mu.Unlock()
}

// Publish fires an event to all subscribed handlers synchronously.
// A nil bus drops the event.
func (eb *EventBus) Publish(e Event) {
	if eb == nil {
		return
	}
	eb.mu.RLock()
	handlers := eb.handlers[e.Type]
	eb.mu.RUnlock()

	for _, h := range handlers {
		h(e)
	}
}
