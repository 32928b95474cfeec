// Package eventbus implements the per-session Event Bus (C7): an ordered
// publish/subscribe channel carrying turn lifecycle events, grounded on the
// teacher's QueueDropPolicy concept (pkg/simpleruntime/queue_types.go)
// applied to event fan-out instead of message intake — a full subscriber
// buffer drops that subscriber rather than blocking the publisher or other
// subscribers.
package eventbus

import (
	"sync"

	"github.com/rs/zerolog"
)

// Kind enumerates the event types a session's bus carries.
type Kind string

const (
	KindMessageNew Kind = "message.new"
	KindAgentStart Kind = "agent.start"
	KindAgentChunk Kind = "agent.chunk"
	KindAgentEnd   Kind = "agent.end"
	KindAgentError Kind = "agent.error"
)

// Event is one JSON-framed element published on a session's bus.
type Event struct {
	Kind              Kind   `json:"kind"`
	SessionID         string `json:"session_id"`
	MessageID         string `json:"message_id,omitempty"`
	Sender            string `json:"sender,omitempty"`
	Content           string `json:"content,omitempty"`
	PersistedMessageID string `json:"persisted_message_id,omitempty"`
	Reason            string `json:"reason,omitempty"`
}

// Bus fans out events for one session to any number of subscribers.
// Subscribers that join late never receive events published before they
// joined; history is recovered through the conversation store instead.
type Bus struct {
	mu          sync.Mutex
	subscribers map[int]chan Event
	nextID      int
	bufferSize  int
	log         zerolog.Logger
}

// New builds a bus whose subscriber channels are each buffered to
// bufferSize (event_bus_per_subscriber_buffer).
func New(bufferSize int, log zerolog.Logger) *Bus {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Bus{
		subscribers: make(map[int]chan Event),
		bufferSize:  bufferSize,
		log:         log,
	}
}

// Subscription is a live handle returned by Subscribe. Callers must call
// Unsubscribe (typically via defer) when done listening.
type Subscription struct {
	id     int
	bus    *Bus
	Events <-chan Event
}

// Subscribe registers a new listener and returns a channel of future events.
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, b.bufferSize)
	b.subscribers[id] = ch
	return &Subscription{id: id, bus: b, Events: ch}
}

// Unsubscribe removes sub from the bus and closes its channel. Safe to call
// more than once.
func (s *Subscription) Unsubscribe() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if ch, ok := s.bus.subscribers[s.id]; ok {
		delete(s.bus.subscribers, s.id)
		close(ch)
	}
}

// Publish fans ev out to every live subscriber. A subscriber whose buffer is
// full is dropped (its channel closed and removed) rather than allowed to
// block the publisher or other subscribers.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subscribers {
		select {
		case ch <- ev:
		default:
			b.log.Warn().Int("subscriber_id", id).Str("session_id", ev.SessionID).Msg("dropping slow event-bus subscriber")
			delete(b.subscribers, id)
			close(ch)
		}
	}
}

// SubscriberCount reports the number of currently live subscribers, chiefly
// for tests and diagnostics.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

// CloseAll closes and removes every live subscriber channel, e.g. when the
// underlying session is deleted. Callers holding a *Bus directly (a
// connected WebSocket handler, not just the registry's map entry) observe
// their channel closing and return, instead of hanging open indefinitely.
func (b *Bus) CloseAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subscribers {
		delete(b.subscribers, id)
		close(ch)
	}
}

// Registry owns one Bus per session, created lazily on first use.
type Registry struct {
	mu         sync.Mutex
	buses      map[string]*Bus
	bufferSize int
	log        zerolog.Logger
}

// NewRegistry builds a registry whose buses use bufferSize per subscriber.
func NewRegistry(bufferSize int, log zerolog.Logger) *Registry {
	return &Registry{buses: make(map[string]*Bus), bufferSize: bufferSize, log: log}
}

// Bus returns (creating if needed) the event bus for sessionID.
func (r *Registry) Bus(sessionID string) *Bus {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.buses[sessionID]; ok {
		return b
	}
	b := New(r.bufferSize, r.log.With().Str("session_id", sessionID).Logger())
	r.buses[sessionID] = b
	return b
}

// Drop closes out sessionID's bus and removes it from the registry. Any
// handler holding a direct *Bus pointer (e.g. a live WebSocket subscriber)
// still observes its channel close, since CloseAll runs on the same *Bus
// instance before the map entry disappears.
func (r *Registry) Drop(sessionID string) {
	r.mu.Lock()
	b, ok := r.buses[sessionID]
	delete(r.buses, sessionID)
	r.mu.Unlock()
	if ok {
		b.CloseAll()
	}
}
