package quotecache

import (
	"context"
	"sync"
	"time"
)

// MemoryCache is an in-process Cache for single-instance deployments and tests.
type MemoryCache struct {
	mu    sync.RWMutex
	items map[string]CachedQuote
	now   func() time.Time
}

var _ Cache = (*MemoryCache)(nil)

// NewMemoryCache creates an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		items: make(map[string]CachedQuote),
		now:   time.Now,
	}
}

// Get returns the quote stored under name, dropping it once it has expired.
func (c *MemoryCache) Get(_ context.Context, name string) (CachedQuote, bool, error) {
	key := Key(name)
	c.mu.RLock()
	quote, ok := c.items[key]
	c.mu.RUnlock()
	if !ok {
		return CachedQuote{}, false, nil
	}

	if !c.now().Before(quote.ExpiresAt()) {
		c.mu.Lock()
		// Only drop it if nobody replaced it in the meantime.
		if current, ok := c.items[key]; ok && current == quote {
			delete(c.items, key)
		}
		c.mu.Unlock()
		return CachedQuote{}, false, nil
	}
	return quote, true, nil
}

// Put overwrites the quote stored under name; it expires after ttl.
func (c *MemoryCache) Put(_ context.Context, name string, quote CachedQuote, ttl time.Duration) error {
	quote = stamp(quote, ttl, c.now().UTC())
	c.mu.Lock()
	c.items[Key(name)] = quote
	c.mu.Unlock()
	return nil
}

// Ping always succeeds.
func (c *MemoryCache) Ping(context.Context) error { return nil }
