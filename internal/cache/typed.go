package cache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Typed is an in-memory cache of values of one type.
// Entries never expire unless a TTL is given at construction.
type Typed[T any] struct {
	cache *gocache.Cache
}

// NewTyped creates a typed cache. A zero ttl keeps entries for the cache lifetime.
func NewTyped[T any](ttl time.Duration) *Typed[T] {
	if ttl == 0 {
		ttl = gocache.NoExpiration
	}
	return &Typed[T]{cache: gocache.New(ttl, 10*time.Minute)}
}

// Get returns the value stored under key
func (c *Typed[T]) Get(key string) (T, bool) {
	if val, found := c.cache.Get(key); found {
		if v, ok := val.(T); ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}

// Set stores value under key with the default TTL
func (c *Typed[T]) Set(key string, value T) {
	c.cache.Set(key, value, gocache.DefaultExpiration)
}

// Add stores value only if key is absent, reporting whether it was stored
func (c *Typed[T]) Add(key string, value T) bool {
	return c.cache.Add(key, value, gocache.DefaultExpiration) == nil
}

// Len returns the number of cached entries
func (c *Typed[T]) Len() int {
	return c.cache.ItemCount()
}

// Flush removes every entry
func (c *Typed[T]) Flush() {
	c.cache.Flush()
}
