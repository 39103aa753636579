// Package cache holds the read-optimized best-price index. It is a pure
// acceleration layer: losing it costs latency, never correctness, because
// every entry is rebuildable from the price store.
package cache

import (
	"sync"
	"time"

	"github.com/saddleworth/pricewatch/internal/pricing"
)

type entry struct {
	value     pricing.BestPrice
	expiresAt time.Time
}

// BestPriceCache is a TTL map keyed by product ID.
type BestPriceCache struct {
	mu      sync.RWMutex
	entries map[int64]entry
	ttl     time.Duration
	clock   pricing.Clock
}

// New constructs the cache.
func New(ttl time.Duration, clock pricing.Clock) *BestPriceCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &BestPriceCache{
		entries: make(map[int64]entry),
		ttl:     ttl,
		clock:   clock,
	}
}

// Get returns the cached best price when present and unexpired.
func (c *BestPriceCache) Get(productID int64) (pricing.BestPrice, bool) {
	c.mu.RLock()
	e, ok := c.entries[productID]
	c.mu.RUnlock()
	if !ok || c.clock.Now().After(e.expiresAt) {
		return pricing.BestPrice{}, false
	}
	return e.value, true
}

// Put stores a best price with a fresh TTL.
func (c *BestPriceCache) Put(bp pricing.BestPrice) {
	c.mu.Lock()
	c.entries[bp.ProductID] = entry{
		value:     bp,
		expiresAt: c.clock.Now().Add(c.ttl),
	}
	c.mu.Unlock()
}

// Len reports live plus expired entries; Sweep trims the expired ones.
func (c *BestPriceCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Sweep removes expired entries so the map does not grow without bound.
func (c *BestPriceCache) Sweep() {
	now := c.clock.Now()
	c.mu.Lock()
	for id, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, id)
		}
	}
	c.mu.Unlock()
}
