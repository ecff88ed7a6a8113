package dashboard

import (
	"sync"
	"time"
)

type entry struct {
	data      Snapshot
	expiresAt time.Time
}

// Cache keeps snapshots per query until they expire or are cleared.
type Cache struct {
	mu    sync.RWMutex
	items map[Query]entry
	ttl   time.Duration
	now   func() time.Time
}

// NewCache returns a cache holding entries for ttl. A non-positive ttl
// disables caching.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{items: make(map[Query]entry), ttl: ttl, now: time.Now}
}

func (c *Cache) Get(key Query) (Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.items[key]
	if !ok || c.now().After(e.expiresAt) {
		return Snapshot{}, false
	}
	return e.data, true
}

// Set stores data under key and drops every expired entry.
func (c *Cache) Set(key Query, data Snapshot) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for k, e := range c.items {
		if now.After(e.expiresAt) {
			delete(c.items, k)
		}
	}
	c.items[key] = entry{data: data, expiresAt: now.Add(c.ttl)}
}

// Clear drops every entry and returns how many there were.
func (c *Cache) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.items)
	c.items = make(map[Query]entry)
	return n
}
