// Package sales surfaces active discounts from scraped price records.
package sales

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/saddleworth/pricewatch/internal/pricing"
)

// Detector derives sale listings from the price store.
type Detector struct {
	store pricing.PriceStore
}

// NewDetector constructs a Detector.
func NewDetector(store pricing.PriceStore) *Detector {
	return &Detector{store: store}
}

// Detect returns active sales observed in the last N days, deepest
// discount first. Records without a real discount never make the list
// even if the store flagged them on sale.
func (d *Detector) Detect(ctx context.Context, daysLookback int) ([]pricing.Sale, error) {
	if daysLookback <= 0 {
		daysLookback = 7
	}
	records, err := d.store.RecentSales(ctx, daysLookback)
	if err != nil {
		return nil, fmt.Errorf("load recent sales: %w", err)
	}

	sales := make([]pricing.Sale, 0, len(records))
	for _, rec := range records {
		if rec.OriginalPrice == nil || *rec.OriginalPrice <= rec.Price {
			continue
		}
		sales = append(sales, pricing.Sale{
			ProductID:       rec.ProductID,
			Store:           rec.Store,
			SalePrice:       rec.Price,
			OriginalPrice:   *rec.OriginalPrice,
			DiscountPercent: DiscountPercent(*rec.OriginalPrice, rec.Price),
			ScrapedAt:       rec.ScrapedAt,
		})
	}

	sort.SliceStable(sales, func(i, j int) bool {
		return sales[i].DiscountPercent > sales[j].DiscountPercent
	})
	return sales, nil
}

// DiscountPercent computes the discount as a percentage of the original
// price, rounded to one decimal place.
func DiscountPercent(original, sale float64) float64 {
	if original <= 0 {
		return 0
	}
	return math.Round((original-sale)/original*1000) / 10
}
