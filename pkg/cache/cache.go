// Package cache provides a small in-memory key/value store with optional
// time-based expiry. It backs the secrets client so that repeated reads of
// the same path hit the network at most once per TTL window.
package cache

import (
	"sync"
	"time"

	"github.com/richxcame/konfig/pkg/logger"
	"go.uber.org/zap"
)

// entry holds a cached value together with its insertion time.
// insertedAt stays zero when the cache has no TTL configured, meaning the
// value never expires.
type entry struct {
	value      interface{}
	insertedAt time.Time
}

// Cache is a write-through in-memory cache with expiry-on-read.
// There is no capacity bound and no eviction beyond TTL.
type Cache struct {
	ttl     time.Duration
	mu      sync.RWMutex
	entries map[string]entry
}

// New creates a cache. A non-positive ttl disables expiry entirely:
// values stay cached until overwritten or cleared.
func New(ttl time.Duration) *Cache {
	return &Cache{
		ttl:     ttl,
		entries: make(map[string]entry),
	}
}

// TTL returns the configured time-to-live. Zero means entries never expire.
func (c *Cache) TTL() time.Duration {
	if c.ttl < 0 {
		return 0
	}
	return c.ttl
}

func (c *Cache) expired(e entry) bool {
	return c.ttl > 0 && e.insertedAt.Add(c.ttl).Before(time.Now())
}

// deleteExpired removes the entry if it has passed its TTL and reports
// whether it did. Removal of an entry that a concurrent reader already
// deleted is a no-op.
func (c *Cache) deleteExpired(key string, e entry) bool {
	if !c.expired(e) {
		return false
	}
	logger.Debug("deleting expired cache entry", zap.String("key", key))
	c.mu.Lock()
	// Re-check under the write lock: the entry may have been replaced
	// with a fresh one in the meantime.
	if current, ok := c.entries[key]; ok && c.expired(current) {
		delete(c.entries, key)
	}
	c.mu.Unlock()
	return true
}

// Get returns the cached value for key. The second return value reports
// whether a live entry was found; expired entries are deleted and reported
// as a miss.
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if c.deleteExpired(key, e) {
		return nil, false
	}
	return e.value, true
}

// Set stores value under key. With a TTL configured the expiry clock is
// reset to now, so overwriting a key never leaves it half-expired.
func (c *Cache) Set(key string, value interface{}) {
	var inserted time.Time
	if c.ttl > 0 {
		inserted = time.Now()
		logger.Debug("caching value", zap.String("key", key), zap.Duration("ttl", c.ttl))
	} else {
		logger.Debug("caching value forever", zap.String("key", key))
	}
	c.mu.Lock()
	c.entries[key] = entry{value: value, insertedAt: inserted}
	c.mu.Unlock()
}

// Contains reports whether a live entry exists for key, deleting it first
// if it has expired.
func (c *Cache) Contains(key string) bool {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return false
	}
	return !c.deleteExpired(key, e)
}

// Delete removes the entry for key. Deleting an absent key is a no-op.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]entry)
	c.mu.Unlock()
}

// Len returns the number of stored entries, including ones that expired
// but have not been touched by a read yet.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
