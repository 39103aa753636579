package pricing

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Service answers price queries for external collaborators. Reads go to the
// price store; the best-price cache is consulted first for single-number
// lookups and repopulated on the way out.
type Service struct {
	store  PriceStore
	cache  BestPriceCache
	clock  Clock
	logger *zap.Logger
}

// NewService constructs a Service.
func NewService(store PriceStore, cache BestPriceCache, clock Clock, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:  store,
		cache:  cache,
		clock:  clock,
		logger: logger,
	}
}

// GetProductPrices returns every current price for a product along with the
// lowest and average. The lowest is always taken over in-stock records, even
// when out-of-stock records are included in the listing.
func (s *Service) GetProductPrices(
	ctx context.Context,
	productID int64,
	includeOutOfStock bool,
) (ProductPrices, error) {
	records, err := s.store.CurrentPrices(ctx, productID, includeOutOfStock)
	if err != nil {
		return ProductPrices{}, fmt.Errorf("current prices: %w", err)
	}

	out := ProductPrices{
		ProductID:   productID,
		Prices:      records,
		TotalStores: len(records),
	}

	var (
		sum  float64
		best *StorePriceRecord
	)
	for i := range records {
		sum += records[i].Price
		if !records[i].InStock {
			continue
		}
		out.StoresInStock++
		if best == nil || records[i].Price < best.Price {
			best = &records[i]
		}
	}
	if best != nil {
		price := best.Price
		out.LowestPrice = &price
		s.repopulateCache(*best)
	}
	if len(records) > 0 {
		avg := sum / float64(len(records))
		out.AveragePrice = &avg
	}
	return out, nil
}

// GetPriceHistory returns the last N days of observations, oldest first.
func (s *Service) GetPriceHistory(ctx context.Context, productID int64, days int) ([]HistoryPoint, error) {
	if days <= 0 {
		days = 30
	}
	points, err := s.store.History(ctx, productID, days)
	if err != nil {
		return nil, fmt.Errorf("price history: %w", err)
	}
	return points, nil
}

// GetBestPrice answers the O(1) lowest-price lookup. A cache miss falls back
// to a synchronous read through the price store and repopulates the cache.
func (s *Service) GetBestPrice(ctx context.Context, productID int64) (BestPrice, bool, error) {
	if bp, ok := s.cache.Get(productID); ok {
		return bp, true, nil
	}

	records, err := s.store.CurrentPrices(ctx, productID, false)
	if err != nil {
		return BestPrice{}, false, fmt.Errorf("best price fallback: %w", err)
	}
	var best *StorePriceRecord
	for i := range records {
		if best == nil || records[i].Price < best.Price {
			best = &records[i]
		}
	}
	if best == nil {
		return BestPrice{}, false, nil
	}
	bp := BestPrice{
		ProductID:  productID,
		Store:      best.Store,
		Price:      best.Price,
		ComputedAt: s.clock.Now(),
	}
	s.cache.Put(bp)
	return bp, true, nil
}

func (s *Service) repopulateCache(rec StorePriceRecord) {
	s.cache.Put(BestPrice{
		ProductID:  rec.ProductID,
		Store:      rec.Store,
		Price:      rec.Price,
		ComputedAt: s.clock.Now(),
	})
}
