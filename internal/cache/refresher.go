package cache

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/saddleworth/pricewatch/internal/pricing"
	"github.com/saddleworth/pricewatch/internal/telemetry"
)

// Refresher recomputes the best-price index from the price store and
// mirrors the results onto the catalog.
type Refresher struct {
	store   pricing.PriceStore
	cache   pricing.BestPriceCache
	catalog pricing.Catalog
	window  time.Duration
	logger  *zap.Logger
}

// NewRefresher constructs a Refresher. The window bounds which scrapes
// still count as current.
func NewRefresher(
	store pricing.PriceStore,
	cache pricing.BestPriceCache,
	catalog pricing.Catalog,
	window time.Duration,
	logger *zap.Logger,
) *Refresher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if window <= 0 {
		window = 24 * time.Hour
	}
	return &Refresher{
		store:   store,
		cache:   cache,
		catalog: catalog,
		window:  window,
		logger:  logger,
	}
}

// Refresh runs one full recompute pass. Catalog mirror failures are
// logged per product rather than aborting the pass; the cache entry is
// still correct and the next pass retries the mirror.
func (r *Refresher) Refresh(ctx context.Context) error {
	start := time.Now()
	best, err := r.store.BestPrices(ctx, r.window)
	if err != nil {
		return fmt.Errorf("compute best prices: %w", err)
	}

	var mirrorFailures int
	for _, bp := range best {
		r.cache.Put(bp)
		if r.catalog == nil {
			continue
		}
		if err := r.catalog.UpdateBestPrice(ctx, bp.ProductID, bp.Price); err != nil {
			mirrorFailures++
			r.logger.Warn("best price mirror failed",
				zap.Int64("product_id", bp.ProductID),
				zap.Error(err))
		}
	}

	if sweeper, ok := r.cache.(interface{ Sweep() }); ok {
		sweeper.Sweep()
	}

	telemetry.ObserveCacheRefresh(time.Since(start))
	r.logger.Info("best price cache refreshed",
		zap.Int("products", len(best)),
		zap.Int("mirror_failures", mirrorFailures),
		zap.Duration("took", time.Since(start)))
	return nil
}
