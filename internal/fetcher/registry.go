package fetcher

import (
	"fmt"
	"sort"

	"github.com/saddleworth/pricewatch/internal/config"
	"github.com/saddleworth/pricewatch/internal/pricing"
)

// Registry maps store names to their configured fetchers. Built once at
// startup from configuration; read-only afterwards.
type Registry struct {
	fetchers map[string]pricing.Fetcher
}

// NewRegistry wires each configured store to its strategy. Stores asking
// for headless when no headless fetcher was built are a config error.
func NewRegistry(
	stores map[string]config.StoreConfig,
	static PageFetcher,
	headless PageFetcher,
	anti *Antidetect,
) (*Registry, error) {
	fetchers := make(map[string]pricing.Fetcher, len(stores))
	for name, sc := range stores {
		var page PageFetcher
		switch sc.Strategy {
		case "static":
			page = static
		case "headless":
			if headless == nil {
				return nil, fmt.Errorf("store %s wants headless but none is configured", name)
			}
			page = headless
		default:
			return nil, fmt.Errorf("store %s has unknown strategy %q", name, sc.Strategy)
		}
		fetchers[name] = New(name, page, Selectors{
			Price:         sc.PriceSelector,
			OriginalPrice: sc.OriginalPriceSelector,
			Availability:  sc.AvailabilitySelector,
			Shipping:      sc.ShippingSelector,
		}, anti)
	}
	return &Registry{fetchers: fetchers}, nil
}

// Lookup returns the fetcher for a store.
func (r *Registry) Lookup(store string) (pricing.Fetcher, error) {
	f, ok := r.fetchers[store]
	if !ok {
		return nil, fmt.Errorf("store %s: %w", store, pricing.ErrNotFound)
	}
	return f, nil
}

// Stores lists the configured store names, sorted for stable logs.
func (r *Registry) Stores() []string {
	names := make([]string, 0, len(r.fetchers))
	for name := range r.fetchers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
