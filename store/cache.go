package store

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

type cacheEntry struct {
	path     string
	data     json.RawMessage // nil means "known absent"
	storedAt time.Time
}

// readCache memoizes Read results per path with a TTL. Entries are keyed by
// an xxHash of the path and overwritten atomically under the lock, so it is
// safe for concurrent requests.
type readCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[uint64]cacheEntry
}

func newReadCache(ttl time.Duration) *readCache {
	return &readCache{ttl: ttl, entries: map[uint64]cacheEntry{}}
}

func cacheKey(path string) uint64 {
	return xxhash.Sum64String(path)
}

func (c *readCache) get(path string) (json.RawMessage, bool) {
	c.mu.RLock()
	entry, ok := c.entries[cacheKey(path)]
	c.mu.RUnlock()

	if !ok || entry.path != path {
		return nil, false
	}
	if time.Since(entry.storedAt) > c.ttl {
		return nil, false
	}
	return entry.data, true
}

func (c *readCache) put(path string, data json.RawMessage) {
	c.mu.Lock()
	c.entries[cacheKey(path)] = cacheEntry{path: path, data: data, storedAt: time.Now()}
	c.mu.Unlock()
}

// invalidate drops every entry whose path shares a prefix relationship with
// the mutated path, in either direction: mutating comments/p1/c2 invalidates a
// cached comments/p1, and mutating comments/p1 invalidates every cached node
// below it.
func (c *readCache) invalidate(path string) {
	mutated := strings.Trim(path, "/") + "/"

	c.mu.Lock()
	for key, entry := range c.entries {
		cached := entry.path + "/"
		if strings.HasPrefix(cached, mutated) || strings.HasPrefix(mutated, cached) {
			delete(c.entries, key)
		}
	}
	c.mu.Unlock()
}
