// Package scheduler drives the periodic work: price sweeps, cache
// refreshes and retention cleanup.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/saddleworth/pricewatch/internal/pricing"
	"github.com/saddleworth/pricewatch/internal/telemetry"
)

// CacheRefresher recomputes the best-price index.
type CacheRefresher interface {
	Refresh(ctx context.Context) error
}

// Config sets the cadences.
type Config struct {
	FullSweepEvery     time.Duration
	PrioritySweepEvery time.Duration
	CacheRefreshEvery  time.Duration
	RetentionEvery     time.Duration
	RetentionDays      int
}

// Scheduler enqueues fetch jobs on a cadence and runs the maintenance
// loops. It only produces work; the worker pool consumes it.
type Scheduler struct {
	catalog   pricing.Catalog
	queue     pricing.Queue
	store     pricing.PriceStore
	refresher CacheRefresher
	ids       pricing.IDGenerator
	clock     pricing.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Scheduler.
func New(
	catalog pricing.Catalog,
	queue pricing.Queue,
	store pricing.PriceStore,
	refresher CacheRefresher,
	ids pricing.IDGenerator,
	clock pricing.Clock,
	cfg Config,
	logger *zap.Logger,
) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.FullSweepEvery <= 0 {
		cfg.FullSweepEvery = 12 * time.Hour
	}
	if cfg.PrioritySweepEvery <= 0 {
		cfg.PrioritySweepEvery = 4 * time.Hour
	}
	if cfg.CacheRefreshEvery <= 0 {
		cfg.CacheRefreshEvery = 15 * time.Minute
	}
	if cfg.RetentionEvery <= 0 {
		cfg.RetentionEvery = 24 * time.Hour
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 90
	}
	return &Scheduler{
		catalog:   catalog,
		queue:     queue,
		store:     store,
		refresher: refresher,
		ids:       ids,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run blocks until the context ends. A full sweep and a cache refresh run
// immediately so a restarted service does not wait hours for data.
func (s *Scheduler) Run(ctx context.Context) {
	s.Sweep(ctx, false)
	s.RefreshCache(ctx)

	full := time.NewTicker(s.cfg.FullSweepEvery)
	priority := time.NewTicker(s.cfg.PrioritySweepEvery)
	refresh := time.NewTicker(s.cfg.CacheRefreshEvery)
	retention := time.NewTicker(s.cfg.RetentionEvery)
	defer full.Stop()
	defer priority.Stop()
	defer refresh.Stop()
	defer retention.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-full.C:
			s.Sweep(ctx, false)
		case <-priority.C:
			s.Sweep(ctx, true)
		case <-refresh.C:
			s.RefreshCache(ctx)
		case <-retention.C:
			s.RunRetention(ctx)
		}
	}
}

// Sweep enqueues one job per (product, store) page. Pairs already in
// flight are suppressed by the queue, which is what keeps overlapping
// sweeps from doubling the work.
func (s *Scheduler) Sweep(ctx context.Context, priorityOnly bool) {
	targets, err := s.catalog.ListProductsForPricing(ctx, pricing.CatalogFilter{PriorityOnly: priorityOnly})
	if err != nil {
		s.logger.Error("list products for sweep failed",
			zap.Bool("priority_only", priorityOnly), zap.Error(err))
		return
	}

	var enqueued, suppressed, failed int
	for _, target := range targets {
		prio := pricing.PriorityNormal
		if target.HighPriority {
			prio = pricing.PriorityHigh
		}
		for store, url := range target.StoreURLs {
			job, err := s.buildJob(target.ProductID, store, url, prio)
			if err != nil {
				failed++
				s.logger.Error("build job failed",
					zap.Int64("product_id", target.ProductID), zap.Error(err))
				continue
			}
			accepted, err := s.queue.Enqueue(ctx, job)
			switch {
			case err != nil:
				failed++
				s.logger.Warn("enqueue failed",
					zap.Int64("product_id", target.ProductID),
					zap.String("store", store), zap.Error(err))
			case accepted:
				enqueued++
				telemetry.ObserveJob(string(pricing.JobStatusQueued))
			default:
				suppressed++
			}
		}
	}

	telemetry.SetQueueDepth(s.queue.Depth())
	s.logger.Info("sweep complete",
		zap.Bool("priority_only", priorityOnly),
		zap.Int("products", len(targets)),
		zap.Int("enqueued", enqueued),
		zap.Int("suppressed", suppressed),
		zap.Int("failed", failed))
}

func (s *Scheduler) buildJob(productID int64, store, url string, prio pricing.Priority) (pricing.Job, error) {
	id, err := s.ids.NewID()
	if err != nil {
		return pricing.Job{}, fmt.Errorf("mint job id: %w", err)
	}
	return pricing.Job{
		ID:         id,
		ProductID:  productID,
		Store:      store,
		URL:        url,
		Priority:   prio,
		Attempt:    1,
		EnqueuedAt: s.clock.Now(),
	}, nil
}

// RefreshCache runs one best-price recompute pass.
func (s *Scheduler) RefreshCache(ctx context.Context) {
	if s.refresher == nil {
		return
	}
	if err := s.refresher.Refresh(ctx); err != nil {
		s.logger.Error("cache refresh failed", zap.Error(err))
	}
}

// RunRetention purges history beyond the retention window.
func (s *Scheduler) RunRetention(ctx context.Context) {
	purged, err := s.store.PurgeOlderThan(ctx, s.cfg.RetentionDays)
	if err != nil {
		s.logger.Error("retention purge failed", zap.Error(err))
		return
	}
	telemetry.ObservePurge(purged)
	s.logger.Info("retention purge complete",
		zap.Int64("purged", purged),
		zap.Int("retention_days", s.cfg.RetentionDays))
}
