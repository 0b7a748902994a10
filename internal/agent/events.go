// internal/agent/events.go
package agent

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
)

// EventKind discriminates what an Event carries.
type EventKind string

const (
	// EventMessage carries one projector message for a run.
	EventMessage EventKind = "run.message"
	// EventStateChange carries a run state transition.
	EventStateChange EventKind = "run.state"
)

// Event is the envelope broadcast to progress subscribers.
type Event struct {
	ID        string
	Timestamp time.Time
	Kind      EventKind
	RunID     string
	SessionID string
	Message   *schemas.Message
	State     RunState
}

// EventBus fans run progress out to subscribers using a pub/sub model.
// Publication never blocks the agent loop: a subscriber whose buffer is full
// misses the event.
type EventBus struct {
	logger *zap.Logger

	mu          sync.RWMutex
	subscribers map[EventKind][]chan Event
	bufferSize  int
	closed      bool
}

// NewEventBus creates a bus whose subscriber channels buffer up to
// bufferSize events.
func NewEventBus(logger *zap.Logger, bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &EventBus{
		logger:      logger.Named("event_bus"),
		subscribers: make(map[EventKind][]chan Event),
		bufferSize:  bufferSize,
	}
}

// Publish broadcasts the event to every subscriber of its kind. Events
// published after Shutdown, or into a full subscriber buffer, are dropped.
func (b *EventBus) Publish(event Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subscribers[event.Kind] {
		select {
		case ch <- event:
		default:
			b.logger.Warn("Dropping event for slow subscriber",
				zap.String("kind", string(event.Kind)),
				zap.String("run_id", event.RunID))
		}
	}
}

// Subscribe returns a channel receiving events of the given kinds (all kinds
// when none are named) and a function that cancels the subscription and
// closes the channel. The cancel function is idempotent.
func (b *EventBus) Subscribe(kinds ...EventKind) (<-chan Event, func()) {
	if len(kinds) == 0 {
		kinds = []EventKind{EventMessage, EventStateChange}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.bufferSize)
	for _, kind := range kinds {
		b.subscribers[kind] = append(b.subscribers[kind], ch)
	}

	var once sync.Once
	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.closed {
			return
		}
		for _, kind := range kinds {
			subs := b.subscribers[kind]
			for i, sub := range subs {
				if sub == ch {
					b.subscribers[kind] = append(subs[:i], subs[i+1:]...)
					break
				}
			}
		}
		once.Do(func() { close(ch) })
	}
	return ch, unsubscribe
}

// Shutdown closes every subscriber channel. Publishes after shutdown are
// silently dropped.
func (b *EventBus) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true

	unique := make(map[chan Event]struct{})
	for _, subs := range b.subscribers {
		for _, ch := range subs {
			unique[ch] = struct{}{}
		}
	}
	for ch := range unique {
		close(ch)
	}
	b.subscribers = make(map[EventKind][]chan Event)
}
