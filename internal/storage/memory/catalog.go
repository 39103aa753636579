package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/saddleworth/pricewatch/internal/pricing"
)

// Catalog serves pricing targets from a static product list and records
// best-price mirror updates.
type Catalog struct {
	mu         sync.RWMutex
	targets    []pricing.PricingTarget
	bestPrices map[int64]float64
}

// NewCatalog constructs a catalog over the given targets.
func NewCatalog(targets []pricing.PricingTarget) *Catalog {
	return &Catalog{
		targets:    append([]pricing.PricingTarget(nil), targets...),
		bestPrices: make(map[int64]float64),
	}
}

// ListProductsForPricing returns the targets, narrowed by the filter.
func (c *Catalog) ListProductsForPricing(_ context.Context, filter pricing.CatalogFilter) ([]pricing.PricingTarget, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []pricing.PricingTarget
	for _, t := range c.targets {
		if filter.PriorityOnly && !t.HighPriority {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

// UpdateBestPrice records the mirrored best price.
func (c *Catalog) UpdateBestPrice(_ context.Context, productID int64, price float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bestPrices[productID] = price
	return nil
}

// BestPrice reads back a mirrored price, for assertions in tests.
func (c *Catalog) BestPrice(productID int64) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.bestPrices[productID]
	return p, ok
}
