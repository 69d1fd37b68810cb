package agent

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// subscriptionBuffer bounds the per-subscription send queue. A client that
// cannot drain this many frames is dropped rather than allowed to stall the
// agent's writer.
const subscriptionBuffer = 64

// dedupWindow caps the per-session set of delivered stored-message IDs.
const dedupWindow = 512

// Subscription is one live client session attached to an agent. Frames are
// queued on a bounded channel; the transport layer drains it. Sends never
// block the agent.
type Subscription struct {
	ID string

	mu     sync.Mutex
	frames chan []byte
	closed bool

	// delivered stored-message IDs for this session, in arrival order so the
	// set can be trimmed.
	seen      map[string]struct{}
	seenOrder []string
}

// NewSubscription creates a subscription with the standard buffer.
func NewSubscription(id string) *Subscription {
	return &Subscription{
		ID:     id,
		frames: make(chan []byte, subscriptionBuffer),
		seen:   make(map[string]struct{}),
	}
}

// Frames is the outbound queue drained by the transport.
func (s *Subscription) Frames() <-chan []byte { return s.frames }

// Close closes the outbound queue. Idempotent.
func (s *Subscription) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.frames)
}

// Send queues an encoded frame. Returns false when the buffer is full or the
// subscription is closed; the caller then drops the subscription.
func (s *Subscription) Send(frame []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.frames <- frame:
		return true
	default:
		return false
	}
}

// sendJSON marshals and queues a frame.
func (s *Subscription) sendJSON(v interface{}) bool {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Warn("subscription.encode_failed", "id", s.ID, "error", err)
		return true
	}
	return s.Send(data)
}

// markDelivered records a stored-message ID, reporting whether it was
// already delivered in this session.
func (s *Subscription) markDelivered(msgID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.seen[msgID]; dup {
		return false
	}
	s.seen[msgID] = struct{}{}
	s.seenOrder = append(s.seenOrder, msgID)
	if len(s.seenOrder) > dedupWindow {
		old := s.seenOrder[0]
		s.seenOrder = s.seenOrder[1:]
		delete(s.seen, old)
	}
	return true
}
