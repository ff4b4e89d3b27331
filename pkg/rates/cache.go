package rates

import (
	"sync"
	"time"
)

const DefaultTTL = 5 * time.Minute

// Cache holds values for a fixed TTL. Safe for concurrent use, the last
// writer of a key wins.
type Cache struct {
	mu    sync.RWMutex
	ttl   time.Duration
	now   func() time.Time
	items map[string]cacheItem
}

type cacheItem struct {
	value    interface{}
	storedAt time.Time
}

type CacheOption func(*Cache)

// WithClock replaces time.Now, used by tests.
func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) {
		c.now = now
	}
}

func NewCache(ttl time.Duration, opts ...CacheOption) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache{
		ttl:   ttl,
		now:   time.Now,
		items: make(map[string]cacheItem),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Get returns a value younger than the TTL.
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.RLock()
	it, ok := c.items[key]
	c.mu.RUnlock()

	if !ok || c.now().Sub(it.storedAt) >= c.ttl {
		return nil, false
	}
	return it.value, true
}

func (c *Cache) Set(key string, v interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = cacheItem{value: v, storedAt: c.now()}
}

func (c *Cache) TTL() time.Duration {
	return c.ttl
}

func (c *Cache) Now() time.Time {
	return c.now()
}
