package calculator

import (
	"strings"
	"sync"
	"time"

	"CampaignSentinel/internal/model"
)

// DefaultCacheTTL is used when a non-positive TTL is configured.
const DefaultCacheTTL = 4 * time.Hour

type cacheEntry struct {
	result  *model.CalculationResult
	expires time.Time
}

// Cache holds calculation results for a fixed TTL.
type Cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]cacheEntry
}

// NewCache creates an empty cache.
func NewCache(ttl time.Duration, now func() time.Time) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if now == nil {
		now = time.Now
	}
	return &Cache{ttl: ttl, now: now, entries: make(map[string]cacheEntry)}
}

// Get returns a live entry. Expired entries are dropped on access.
func (c *Cache) Get(key string) (*model.CalculationResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if !c.now().Before(e.expires) {
		delete(c.entries, key)
		return nil, false
	}
	return e.result, true
}

// Set stores a result under key.
func (c *Cache) Set(key string, res *model.CalculationResult) {
	c.mu.Lock()
	c.entries[key] = cacheEntry{result: res, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
}

// Invalidate removes every entry for a unit, whatever options it was computed with.
func (c *Cache) Invalidate(unitID string) int {
	prefix := unitID + "|"
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// Purge evicts expired entries and returns how many were removed.
func (c *Cache) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	n := 0
	for k, e := range c.entries {
		if !now.Before(e.expires) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// Len reports the number of stored entries, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
