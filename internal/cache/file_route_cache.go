package cache

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"

	edudoc "github.com/edudocai/edudoc"
)

// FileRouteCache is a file-backed cache for route decisions, so repeated
// queries skip classification across restarts. Entries are stored as typed
// JSON; arbitrary values would not survive a round trip through the file.
type FileRouteCache struct {
	store    map[string]persistedDecision
	mutex    sync.RWMutex
	ttl      time.Duration
	filePath string
	done     chan struct{}
}

type persistedDecision struct {
	Decision   *edudoc.RouteDecision `json:"decision"`
	Expiration int64                 `json:"expiration"`
}

// NewFileRouteCache creates a persistent route cache with a default TTL,
// loading any previously saved entries.
func NewFileRouteCache(defaultTTL time.Duration, filePath string) *FileRouteCache {
	c := &FileRouteCache{
		store:    make(map[string]persistedDecision),
		ttl:      defaultTTL,
		filePath: filePath,
		done:     make(chan struct{}),
	}
	if err := c.loadFromFile(); err != nil {
		log.Warn().Err(err).Str("path", filePath).Msg("starting with an empty route cache")
	}
	go c.cleanupLoop(10 * time.Minute)
	return c
}

// Get retrieves a cached route decision. Only *edudoc.RouteDecision values
// are stored, so non-decision lookups read as absent.
func (c *FileRouteCache) Get(ctx context.Context, key string) (any, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	item, found := c.store[key]
	if !found || item.Decision == nil {
		return nil, false
	}
	if time.Now().UnixNano() > item.Expiration {
		return nil, false
	}
	return item.Decision, true
}

// Set stores a route decision. Values of any other type are ignored.
func (c *FileRouteCache) Set(ctx context.Context, key string, value any) {
	decision, ok := value.(*edudoc.RouteDecision)
	if !ok {
		log.Warn().Str("key", key).Msgf("route cache ignoring value of type %T", value)
		return
	}

	c.mutex.Lock()
	c.store[key] = persistedDecision{
		Decision:   decision,
		Expiration: time.Now().Add(c.ttl).UnixNano(),
	}
	err := c.saveToFileLocked()
	c.mutex.Unlock()

	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("failed to persist route cache")
	}
}

// Close stops the background cleanup loop and flushes the file.
func (c *FileRouteCache) Close() error {
	close(c.done)
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.saveToFileLocked()
}

func (c *FileRouteCache) loadFromFile() error {
	data, err := os.ReadFile(c.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errbuilder.GenericErr("failed to read route cache file", err)
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()
	if err := json.Unmarshal(data, &c.store); err != nil {
		c.store = make(map[string]persistedDecision)
		return errbuilder.GenericErr("route cache file is corrupt", err)
	}
	return nil
}

// saveToFileLocked writes the store atomically. Callers hold the mutex.
func (c *FileRouteCache) saveToFileLocked() error {
	data, err := json.Marshal(c.store)
	if err != nil {
		return errbuilder.GenericErr("failed to encode route cache", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(c.filePath), ".routecache-*")
	if err != nil {
		return errbuilder.GenericErr("failed to create route cache temp file", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errbuilder.GenericErr("failed to write route cache", err)
	}
	if err := tmp.Close(); err != nil {
		return errbuilder.GenericErr("failed to close route cache temp file", err)
	}
	if err := os.Rename(tmp.Name(), c.filePath); err != nil {
		return errbuilder.GenericErr("failed to finalize route cache", err)
	}
	return nil
}

func (c *FileRouteCache) cleanupLoop(interval time.Duration) {
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
				if now > item.Expiration {
					delete(c.store, key)
				}
			}
			if err := c.saveToFileLocked(); err != nil {
				log.Warn().Err(err).Msg("failed to persist route cache during cleanup")
			}
			c.mutex.Unlock()
		}
	}
}
