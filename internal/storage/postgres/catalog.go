package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/saddleworth/pricewatch/internal/pricing"
)

// Catalog reads pricing targets from the products table and mirrors best
// prices back onto it. The table is owned by the catalog service; this
// store only touches the pricing columns.
type Catalog struct {
	pool  dbPool
	clock pricing.Clock
}

// NewCatalogWithPool constructs a Catalog from an existing pool.
func NewCatalogWithPool(pool dbPool, clock pricing.Clock) (*Catalog, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Catalog{pool: pool, clock: clock}, nil
}

const listProductsQuery = `
SELECT id, high_priority, store_urls
FROM products
WHERE active AND store_urls <> '{}'::jsonb AND (high_priority OR NOT $1)
ORDER BY id`

// ListProductsForPricing returns active products with at least one store
// page. PriorityOnly narrows to the high-priority tier.
func (c *Catalog) ListProductsForPricing(ctx context.Context, filter pricing.CatalogFilter) ([]pricing.PricingTarget, error) {
	rows, err := c.pool.Query(ctx, listProductsQuery, filter.PriorityOnly)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	var targets []pricing.PricingTarget
	for rows.Next() {
		var (
			t        pricing.PricingTarget
			urlsJSON []byte
		)
		if err := rows.Scan(&t.ProductID, &t.HighPriority, &urlsJSON); err != nil {
			return nil, fmt.Errorf("scan product row: %w", err)
		}
		if err := json.Unmarshal(urlsJSON, &t.StoreURLs); err != nil {
			return nil, fmt.Errorf("decode store urls for product %d: %w", t.ProductID, err)
		}
		targets = append(targets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate product rows: %w", err)
	}
	return targets, nil
}

const updateBestPriceQuery = `
UPDATE products SET best_price = $2, best_price_updated_at = $3 WHERE id = $1`

// UpdateBestPrice mirrors the derived lowest price onto the product row.
func (c *Catalog) UpdateBestPrice(ctx context.Context, productID int64, price float64) error {
	if _, err := c.pool.Exec(ctx, updateBestPriceQuery, productID, price, c.clock.Now()); err != nil {
		return fmt.Errorf("update best price for product %d: %w", productID, err)
	}
	return nil
}
