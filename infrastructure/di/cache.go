package di

import (
	"context"
	"sync"
	"time"
)

// janitorInterval bounds how long an abandoned entry can outlive its TTL
const janitorInterval = 30 * time.Second

// queryCache is the process-local TTL cache behind the read-side caching
// middleware. List views tolerate a few seconds of staleness, so entries
// are short-lived; the janitor evicts whatever the read path stops touching.
type queryCache struct {
	mu      sync.RWMutex
	entries map[string]queryCacheEntry
}

type queryCacheEntry struct {
	value   interface{}
	staleAt time.Time
}

func newQueryCache() *queryCache {
	c := &queryCache{entries: make(map[string]queryCacheEntry)}
	go c.janitor()
	return c
}

// Get returns a live entry; stale entries read as misses until the janitor
// collects them
func (c *queryCache) Get(_ context.Context, key string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok || time.Now().After(entry.staleAt) {
		return nil, false
	}
	return entry.value, true
}

// Set stores a value with a TTL in seconds
func (c *queryCache) Set(_ context.Context, key string, value interface{}, ttl int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = queryCacheEntry{
		value:   value,
		staleAt: time.Now().Add(time.Duration(ttl) * time.Second),
	}
	return nil
}

func (c *queryCache) janitor() {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()

	for range ticker.C {
		now := time.Now()
		c.mu.Lock()
		for key, entry := range c.entries {
			if now.After(entry.staleAt) {
				delete(c.entries, key)
			}
		}
		c.mu.Unlock()
	}
}
