// Package cache provides route-decision caches: a TTL-bounded in-memory
// cache and a file-backed persistent variant.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// InMemoryCache provides a simple thread-safe in-memory cache with a TTL.
type InMemoryCache struct {
	store map[string]cacheItem
	mutex sync.RWMutex
	ttl   time.Duration
	done  chan struct{}
}

type cacheItem struct {
	value      any
	expiration int64
}

// NewInMemoryCache creates a new in-memory cache with a default TTL and
// starts its background cleanup loop.
func NewInMemoryCache(defaultTTL time.Duration) *InMemoryCache {
	c := &InMemoryCache{
		store: make(map[string]cacheItem),
		ttl:   defaultTTL,
		done:  make(chan struct{}),
	}
	go c.cleanupLoop(10 * time.Minute)
	return c
}

// Get retrieves an item from the cache. Expired items read as absent.
func (c *InMemoryCache) Get(ctx context.Context, key string) (any, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	item, found := c.store[key]
	if !found {
		return nil, false
	}
	if time.Now().UnixNano() > item.expiration {
		// Lazy expiry; the cleanup loop removes the entry later.
		return nil, false
	}
	return item.value, true
}

// Set adds or updates an item in the cache.
func (c *InMemoryCache) Set(ctx context.Context, key string, value any) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.store[key] = cacheItem{
		value:      value,
		expiration: time.Now().Add(c.ttl).UnixNano(),
	}
	log.Trace().Str("key", key).Msg("cache item set")
}

// Close stops the background cleanup loop.
func (c *InMemoryCache) Close() {
	close(c.done)
}

func (c *InMemoryCache) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mutex.Lock()
			now := time.Now().UnixNano()
			for key, item := range c.store {
				if now > item.expiration {
					delete(c.store, key)
				}
			}
			c.mutex.Unlock()
		}
	}
}
