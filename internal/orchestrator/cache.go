package orchestrator

import (
	"sync"
	"time"
)

// ttlCache is a read-through cache with a fixed TTL per instance.
// Layered per query shape (quick-status, by-id, list), each with its own
// TTL and invalidation. It is never a source of truth: entries are always
// safe to evict or bypass.
type ttlCache[V any] struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]cacheEntry[V]
	clock   func() time.Time
}

type cacheEntry[V any] struct {
	value     V
	expiresAt time.Time
}

func newTTLCache[V any](ttl time.Duration) *ttlCache[V] {
	return &ttlCache[V]{
		ttl:     ttl,
		entries: make(map[string]cacheEntry[V]),
		clock:   time.Now,
	}
}

// get returns the cached value if present and not expired.
func (c *ttlCache[V]) get(key string) (V, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || c.clock().After(entry.expiresAt) {
		var zero V
		return zero, false
	}
	return entry.value, true
}

// set stores the value under the cache TTL.
func (c *ttlCache[V]) set(key string, value V) {
	c.mu.Lock()
	c.entries[key] = cacheEntry[V]{value: value, expiresAt: c.clock().Add(c.ttl)}
	c.mu.Unlock()
}

// invalidate removes a single key.
func (c *ttlCache[V]) invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}
