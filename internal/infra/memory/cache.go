package memory

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Cache is an in-process TTL cache implementing app.Cache. Values are stored
// JSON encoded so readers never share memory with writers.
type Cache struct {
	mu      sync.RWMutex
	clock   func() time.Time
	entries map[string]cacheEntry
}

type cacheEntry struct {
	data      []byte
	expiresAt time.Time
}

func (e cacheEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !e.expiresAt.After(now)
}

func NewCache() *Cache {
	return &Cache{clock: time.Now, entries: make(map[string]cacheEntry)}
}

func (c *Cache) Get(_ context.Context, key string, dst interface{}) (bool, error) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if entry.expired(c.clock()) {
		c.mu.Lock()
		// A Set may have replaced the entry since the read lock was released.
		if current, ok := c.entries[key]; ok && current.expired(c.clock()) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return false, nil
	}
	if err := json.Unmarshal(entry.data, dst); err != nil {
		return false, err
	}
	return true, nil
}

// Set stores value; ttl <= 0 keeps it until deleted.
func (c *Cache) Set(_ context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	entry := cacheEntry{data: data}
	if ttl > 0 {
		entry.expiresAt = c.clock().Add(ttl)
	}
	c.mu.Lock()
	c.entries[key] = entry
	c.mu.Unlock()
	return nil
}

func (c *Cache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range keys {
		delete(c.entries, key)
	}
	return nil
}

// Flush drops every entry, simulating cache loss.
func (c *Cache) Flush() {
	c.mu.Lock()
	c.entries = make(map[string]cacheEntry)
	c.mu.Unlock()
}
