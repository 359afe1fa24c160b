// Package events provides an in-process pub/sub bus for engine notifications.
// The transport layer subscribes here to forward health changes, executed
// actions, recovery progress, and provider switches to connected clients.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type identifies the kind of event.
type Type string

const (
	TypeHealthChanged    Type = "health_changed"
	TypeActionExecuted   Type = "action_executed"
	TypeRecoveryStarted  Type = "recovery_started"
	TypeRecoveryFinished Type = "recovery_finished"
	TypeRecoveryFailed   Type = "recovery_failed"
	TypeProviderSwitched Type = "provider_switched"
)

// Event is a single engine notification.
type Event struct {
	ID        string      // unique event id
	Type      Type        // event kind
	SessionID string      // originating session, empty for process-wide events
	Time      time.Time   // when the event was published
	Data      interface{} // type-specific payload
}

// HealthChange is the payload for TypeHealthChanged.
type HealthChange struct {
	Status        string `json:"status"`
	NetworkStatus string `json:"network_status"`
	LastError     string `json:"last_error,omitempty"`
}

// ActionExecuted is the payload for TypeActionExecuted.
type ActionExecuted struct {
	Action string `json:"action"`
	Kind   string `json:"kind"`
	Reason string `json:"reason,omitempty"`
}

// RecoveryUpdate is the payload for the recovery event types.
type RecoveryUpdate struct {
	Step            string `json:"step,omitempty"`
	RemovedSegments int    `json:"removed_segments,omitempty"`
	Error           string `json:"error,omitempty"`
}

// ProviderSwitch is the payload for TypeProviderSwitched.
type ProviderSwitch struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Reason string `json:"reason,omitempty"`
}

// Bus is an in-process event bus. Thread-safe for concurrent
// publish/subscribe. Publishing never blocks: a subscriber whose channel is
// full misses the event rather than stalling the engine.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]chan Event
	closed      bool
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[string]chan Event),
	}
}

// Subscribe registers a new subscriber and returns its channel plus an
// unsubscribe function. The channel is buffered so the bus never blocks on a
// slow consumer.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}

	id := uuid.NewString()
	ch := make(chan Event, 100)
	b.subscribers[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if ch, ok := b.subscribers[id]; ok {
			close(ch)
			delete(b.subscribers, id)
		}
	}
}

// Publish delivers an event to all subscribers. Missing ID and Time fields
// are filled in.
func (b *Bus) Publish(ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for _, ch := range b.subscribers {
		select {
		case ch <- ev:
		default:
			// Channel full; drop for this subscriber.
		}
	}
}

// Close shuts down the bus and closes all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, id)
	}
}
