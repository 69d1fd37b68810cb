// Package bus is the in-process message bus: topic publication for audit
// and notification messages plus event broadcast to subscribed clients.
package bus

import (
	"log/slog"
	"sync"
)

// MessageBus is the concrete in-process bus. It implements both
// EventPublisher (gateway broadcast) and Publisher (audit/notify topics).
type MessageBus struct {
	mu       sync.RWMutex
	handlers map[string]EventHandler
}

// New creates an empty message bus.
func New() *MessageBus {
	return &MessageBus{
		handlers: make(map[string]EventHandler),
	}
}

// Subscribe registers a handler under an id, replacing any previous one.
func (b *MessageBus) Subscribe(id string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[id] = handler
}

// Unsubscribe removes the handler registered under id.
func (b *MessageBus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, id)
}

// Broadcast delivers an event to every subscriber. Handlers run on the
// caller's goroutine and must be fast; subscription clients buffer and
// drop on overflow rather than block here.
func (b *MessageBus) Broadcast(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, h := range b.handlers {
		h(event)
	}
}

// Send publishes a topic message best-effort. Topics ride the same
// broadcast fan-out; the topic name is the event name and the owner key
// scopes delivery.
func (b *MessageBus) Send(topic, owner string, payload interface{}) {
	slog.Debug("bus.send", "topic", topic, "owner", owner)
	b.Broadcast(Event{Name: topic, Owner: owner, Payload: payload})
}
