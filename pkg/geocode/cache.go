package geocode

import (
	"sync"
	"time"
)

// sweepThreshold is the cache size above which a write triggers a pass
// that drops expired entries.
const sweepThreshold = 1024

type cacheEntry struct {
	point    Point
	found    bool
	expireAt time.Time
}

// ttlCache memoizes geocoding answers in process. Entries expire lazily:
// reads drop expired keys, and large writes sweep the whole map.
type ttlCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
}

func newTTLCache() *ttlCache {
	return &ttlCache{entries: make(map[string]cacheEntry)}
}

func (c *ttlCache) get(key string, now time.Time) (Point, bool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return Point{}, false, false
	}
	if now.After(entry.expireAt) {
		delete(c.entries, key)
		return Point{}, false, false
	}
	return entry.point, entry.found, true
}

func (c *ttlCache) set(key string, p Point, found bool, ttl time.Duration, now time.Time) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= sweepThreshold {
		for k, e := range c.entries {
			if now.After(e.expireAt) {
				delete(c.entries, k)
			}
		}
	}
	c.entries[key] = cacheEntry{point: p, found: found, expireAt: now.Add(ttl)}
}
