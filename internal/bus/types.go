package bus

// Event represents a server-side event to broadcast to subscription clients.
// Owner scopes the event to one agent's subscribers; empty means
// process-wide.
type Event struct {
	Name    string      `json:"name"`
	Owner   string      `json:"owner,omitempty"`
	Payload interface{} `json:"payload,omitempty"`
}

// Topics published by agents. Everything on the bus is best-effort: a
// missing or slow consumer never fails the publishing operation.
const (
	TopicAuditInventory   = "audit.inventory"
	TopicAuditMessages    = "audit.messages"
	TopicNotifyAlerts     = "notify.alerts"
	TopicEmbeddingsUpdate = "embeddings.update"

	// Cache invalidation events (internal, not forwarded to WS clients).
	TopicCacheInvalidate = "cache.invalidate"
)

// CacheInvalidatePayload signals cache layers to evict stale entries.
type CacheInvalidatePayload struct {
	Kind string `json:"kind"` // "state" or "inventory"
	Key  string `json:"key"`  // owner key; empty = invalidate all
}

// Cache invalidation kind constants.
const (
	CacheKindState     = "state"
	CacheKindInventory = "inventory"
)

// EventHandler handles a broadcast event.
type EventHandler func(Event)

// EventPublisher abstracts event broadcast + subscription.
// Used by the gateway server and agents to decouple from the concrete
// MessageBus.
type EventPublisher interface {
	Subscribe(id string, handler EventHandler)
	Unsubscribe(id string)
	Broadcast(event Event)
}

// Publisher is the external-collaborator port for audit and notification
// messages. Send never blocks and never returns an error to the caller's
// operation; a nil Publisher is valid and drops everything. The owner key
// scopes delivery to that agent's subscribers.
type Publisher interface {
	Send(topic, owner string, payload interface{})
}
