// Package cache provides short-lived memoization for price lookups: a
// fixed-capacity in-memory TTL tier, optionally backed by Redis.
package cache

import (
	"container/list"
	"fmt"
	"sync"
	"time"

	"github.com/sawpanic/signalrun/internal/models"
)

// PriceKey keys current-price entries.
func PriceKey(chain models.Chain, address string) string {
	return fmt.Sprintf("price:%s:%s", chain, address)
}

// HistKey keys historical lookups by symbol and bucketed timestamp.
func HistKey(symbol string, bucket int64) string {
	return fmt.Sprintf("hist:%s:%d", symbol, bucket)
}

type entry struct {
	key        string
	snapshot   models.PriceSnapshot
	insertedAt time.Time
	expiresAt  time.Time // zero means no expiry
}

// TTLCache is a fixed-capacity map with per-entry TTL and
// least-recently-inserted eviction on overflow. Reads take a read lock;
// writes are serialized. A miss never blocks other keys.
type TTLCache struct {
	mu       sync.RWMutex
	capacity int
	ttl      time.Duration
	entries  map[string]*list.Element
	order    *list.List // front = oldest insertion

	hits   int64
	misses int64

	now func() time.Time
}

// NewTTLCache creates a cache with the given capacity and default TTL.
// A zero ttl makes entries immortal (historical prices are immutable).
func NewTTLCache(capacity int, ttl time.Duration) *TTLCache {
	if capacity < 1 {
		capacity = 1
	}
	return &TTLCache{
		capacity: capacity,
		ttl:      ttl,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
		now:      time.Now,
	}
}

// Get returns the cached snapshot if present and unexpired.
func (c *TTLCache) Get(key string) (models.PriceSnapshot, bool) {
	c.mu.RLock()
	el, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		c.mu.Lock()
		c.misses++
		c.mu.Unlock()
		return models.PriceSnapshot{}, false
	}

	e := el.Value.(*entry)
	if !e.expiresAt.IsZero() && c.now().After(e.expiresAt) {
		c.mu.Lock()
		// Re-check under the write lock; a writer may have refreshed it.
		if el2, ok := c.entries[key]; ok && el2 == el {
			c.order.Remove(el)
			delete(c.entries, key)
		}
		c.misses++
		c.mu.Unlock()
		return models.PriceSnapshot{}, false
	}

	c.mu.Lock()
	c.hits++
	c.mu.Unlock()
	return e.snapshot, true
}

// Set inserts a snapshot under the cache's default TTL.
func (c *TTLCache) Set(key string, snap models.PriceSnapshot) {
	c.SetTTL(key, snap, c.ttl)
}

// SetTTL inserts a snapshot with an explicit TTL; zero means no expiry.
func (c *TTLCache) SetTTL(key string, snap models.PriceSnapshot, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	var expires time.Time
	if ttl > 0 {
		expires = now.Add(ttl)
	}

	if el, ok := c.entries[key]; ok {
		// Refresh in place; insertion order moves to newest.
		c.order.Remove(el)
	}
	el := c.order.PushBack(&entry{key: key, snapshot: snap, insertedAt: now, expiresAt: expires})
	c.entries[key] = el

	for len(c.entries) > c.capacity {
		oldest := c.order.Front()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*entry).key)
	}
}

// Len returns the number of live entries, expired or not.
func (c *TTLCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats reports hit/miss counters.
func (c *TTLCache) Stats() (hits, misses int64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hits, c.misses
}
