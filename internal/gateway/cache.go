package gateway

import (
	"sync"
	"time"

	"github.com/nextlevelbuilder/stockfleet/internal/bus"
)

// ttlCache holds rendered responses for the read-only endpoints. Entries
// are evicted by TTL and by cache.invalidate bus events published on every
// write that affects them.
type ttlCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	data    []byte
	expires time.Time
}

func newTTLCache() *ttlCache {
	return &ttlCache{entries: make(map[string]cacheEntry)}
}

func cacheKey(kind, ownerKey string) string { return kind + "\x00" + ownerKey }

func (c *ttlCache) get(kind, ownerKey string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[cacheKey(kind, ownerKey)]
	if !ok || time.Now().After(e.expires) {
		return nil, false
	}
	return e.data, true
}

func (c *ttlCache) set(kind, ownerKey string, data []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey(kind, ownerKey)] = cacheEntry{data: data, expires: time.Now().Add(ttl)}
}

func (c *ttlCache) invalidate(kind, ownerKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ownerKey == "" {
		for k := range c.entries {
			delete(c.entries, k)
		}
		return
	}
	delete(c.entries, cacheKey(kind, ownerKey))
}

// onEvent handles cache.invalidate bus events.
func (c *ttlCache) onEvent(event bus.Event) {
	if event.Name != bus.TopicCacheInvalidate {
		return
	}
	if p, ok := event.Payload.(bus.CacheInvalidatePayload); ok {
		c.invalidate(p.Kind, p.Key)
	}
}
