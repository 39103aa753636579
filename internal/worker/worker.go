// Package worker implements the scrape pipeline execution loop.
package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/saddleworth/pricewatch/internal/policy/ratelimit"
	"github.com/saddleworth/pricewatch/internal/pricing"
	"github.com/saddleworth/pricewatch/internal/telemetry"
)

// Event types published to downstream consumers.
const (
	TopicPriceChanged = "price_changed"
	TopicSaleStarted  = "sale_started"
)

// FetcherResolver maps a store name to its fetcher.
type FetcherResolver interface {
	Lookup(store string) (pricing.Fetcher, error)
}

// StoreLimiter throttles per-store traffic and tracks cooldowns.
type StoreLimiter interface {
	Acquire(ctx context.Context, store string) (func(), error)
	Cooldown(store string, d time.Duration)
	CooldownRemaining(store string) time.Duration
}

// Config controls pool behavior.
type Config struct {
	Concurrency   int
	MaxAttempts   int
	BackoffBase   time.Duration
	FetchTimeout  time.Duration
	StoreCooldown time.Duration
	CapturePrefix string
}

// Pool runs N workers against the job queue. Each job is one
// (product, store) fetch; the outcome is written to the price store
// before the job is acked, which keeps execution at-least-once.
type Pool struct {
	queue     pricing.Queue
	fetchers  FetcherResolver
	limiter   StoreLimiter
	store     pricing.PriceStore
	publisher pricing.Publisher
	blobs     pricing.BlobStore
	hasher    pricing.Hasher
	clock     pricing.Clock
	cfg       Config
	logger    *zap.Logger
}

// NewPool constructs a Pool.
func NewPool(
	queue pricing.Queue,
	fetchers FetcherResolver,
	limiter StoreLimiter,
	store pricing.PriceStore,
	publisher pricing.Publisher,
	blobs pricing.BlobStore,
	hasher pricing.Hasher,
	clock pricing.Clock,
	cfg Config,
	logger *zap.Logger,
) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 2 * time.Second
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 15 * time.Second
	}
	if cfg.StoreCooldown <= 0 {
		cfg.StoreCooldown = 5 * time.Minute
	}
	if cfg.CapturePrefix == "" {
		cfg.CapturePrefix = "parse-failures"
	}
	return &Pool{
		queue:     queue,
		fetchers:  fetchers,
		limiter:   limiter,
		store:     store,
		publisher: publisher,
		blobs:     blobs,
		hasher:    hasher,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run blocks until the context ends or the queue closes, consuming jobs
// with the configured number of workers.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.loop(ctx)
		}()
	}
	wg.Wait()
}

func (p *Pool) loop(ctx context.Context) {
	for {
		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, pricing.ErrQueueClosed) {
				return
			}
			p.logger.Error("dequeue failed", zap.Error(err))
			continue
		}
		telemetry.SetQueueDepth(p.queue.Depth())
		p.process(ctx, job)
	}
}

func (p *Pool) process(ctx context.Context, job pricing.Job) {
	release, err := p.limiter.Acquire(ctx, job.Store)
	if err != nil {
		if errors.Is(err, ratelimit.ErrCoolingDown) {
			// The store is paused; push the job past the cooldown without
			// burning an attempt.
			delay := p.limiter.CooldownRemaining(job.Store)
			if retryErr := p.queue.Retry(ctx, job, delay); retryErr != nil {
				p.logger.Error("requeue during cooldown failed",
					zap.String("job_id", job.ID), zap.Error(retryErr))
			}
			return
		}
		if ctx.Err() == nil {
			p.logger.Error("limiter acquire failed",
				zap.String("job_id", job.ID), zap.String("store", job.Store), zap.Error(err))
		}
		return
	}
	defer release()

	telemetry.IncActiveWorkers()
	defer telemetry.DecActiveWorkers()

	fetcher, err := p.fetchers.Lookup(job.Store)
	if err != nil {
		p.fail(ctx, job, fmt.Errorf("no fetcher for store: %w", err))
		return
	}

	fetchCtx, cancel := context.WithTimeout(ctx, p.cfg.FetchTimeout)
	defer cancel()

	start := time.Now()
	snap, err := fetcher.Fetch(fetchCtx, pricing.FetchRequest{
		ProductID: job.ProductID,
		Store:     job.Store,
		URL:       job.URL,
	})
	duration := time.Since(start)

	if err != nil {
		p.handleFetchError(ctx, job, err, duration)
		return
	}
	telemetry.ObserveFetch(job.Store, "success", duration)
	p.persist(ctx, job, snap)
}

func (p *Pool) handleFetchError(ctx context.Context, job pricing.Job, err error, duration time.Duration) {
	fe, ok := pricing.AsFetchError(err)
	if !ok {
		telemetry.ObserveFetch(job.Store, "error", duration)
		p.retryOrFail(ctx, job, p.cfg.BackoffBase, err)
		return
	}

	telemetry.ObserveFetch(job.Store, string(fe.Kind), duration)

	switch {
	case fe.Kind == pricing.FetchParse:
		p.captureParseFailure(ctx, job, fe)
		p.fail(ctx, job, fe)
	case fe.Kind == pricing.FetchBlocked:
		// One blocked fetch means every request to this store will hit
		// the same wall. Pause the store, not just the job.
		p.limiter.Cooldown(job.Store, p.cfg.StoreCooldown)
		p.retryOrFail(ctx, job, p.cfg.StoreCooldown, fe)
	case fe.Transient():
		p.retryOrFail(ctx, job, p.backoff(job.Attempt), fe)
	default:
		p.fail(ctx, job, fe)
	}
}

// backoff doubles per attempt off the configured base.
func (p *Pool) backoff(attempt int) time.Duration {
	d := p.cfg.BackoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}

func (p *Pool) retryOrFail(ctx context.Context, job pricing.Job, delay time.Duration, cause error) {
	if job.Attempt >= p.cfg.MaxAttempts {
		p.fail(ctx, job, fmt.Errorf("attempts exhausted: %w", cause))
		return
	}
	job.Attempt++
	job.Status = pricing.JobStatusRetrying
	telemetry.ObserveJob(string(pricing.JobStatusRetrying))
	p.logger.Warn("fetch failed, retrying",
		zap.String("job_id", job.ID),
		zap.Int64("product_id", job.ProductID),
		zap.String("store", job.Store),
		zap.Int("attempt", job.Attempt),
		zap.Duration("delay", delay),
		zap.Error(cause))
	if err := p.queue.Retry(ctx, job, delay); err != nil {
		p.logger.Error("retry enqueue failed", zap.String("job_id", job.ID), zap.Error(err))
	}
}

func (p *Pool) fail(ctx context.Context, job pricing.Job, cause error) {
	telemetry.ObserveJob(string(pricing.JobStatusFailed))
	p.logger.Error("job failed",
		zap.String("job_id", job.ID),
		zap.Int64("product_id", job.ProductID),
		zap.String("store", job.Store),
		zap.Int("attempt", job.Attempt),
		zap.Error(cause))
	if err := p.queue.Ack(ctx, job.ID); err != nil {
		p.logger.Error("ack failed", zap.String("job_id", job.ID), zap.Error(err))
	}
}

// captureParseFailure stores the page that broke the selectors so an
// operator can update them. Best effort: a capture failure is logged and
// the job still fails.
func (p *Pool) captureParseFailure(ctx context.Context, job pricing.Job, fe *pricing.FetchError) {
	if p.blobs == nil || len(fe.HTML) == 0 {
		return
	}
	hash, err := p.hasher.Hash(fe.HTML)
	if err != nil {
		p.logger.Error("hash parse failure page", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	path := fmt.Sprintf("%s/%s/%s.html", strings.Trim(p.cfg.CapturePrefix, "/"), job.Store, hash)
	uri, err := p.blobs.PutObject(ctx, path, "text/html; charset=utf-8", bytes.NewReader(fe.HTML))
	if err != nil {
		p.logger.Error("capture parse failure page", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	p.logger.Warn("parse failure captured",
		zap.String("job_id", job.ID),
		zap.Int64("product_id", job.ProductID),
		zap.String("store", job.Store),
		zap.String("url", job.URL),
		zap.String("blob_uri", uri))
}

func (p *Pool) persist(ctx context.Context, job pricing.Job, snap pricing.PriceSnapshot) {
	now := p.clock.Now()
	rec := pricing.StorePriceRecord{
		ProductID:     job.ProductID,
		Store:         job.Store,
		URL:           job.URL,
		Price:         snap.Price,
		OriginalPrice: snap.OriginalPrice,
		OnSale:        snap.OnSale(),
		InStock:       snap.InStock,
		StockLevel:    snap.StockLevel,
		Shipping:      snap.Shipping,
		ScrapedAt:     now,
		LastVerified:  now,
	}

	applied, err := p.store.Upsert(ctx, rec)
	if err != nil {
		// The fetch worked; only persistence failed. Worth another try.
		p.retryOrFail(ctx, job, p.backoff(job.Attempt), fmt.Errorf("persist price: %w", err))
		return
	}

	if applied {
		p.publishEvents(ctx, rec)
	}

	telemetry.ObserveJob(string(pricing.JobStatusSucceeded))
	p.logger.Info("price recorded",
		zap.String("job_id", job.ID),
		zap.Int64("product_id", job.ProductID),
		zap.String("store", job.Store),
		zap.Float64("price", rec.Price),
		zap.Bool("in_stock", rec.InStock),
		zap.Bool("on_sale", rec.OnSale),
		zap.Bool("applied", applied))
	if err := p.queue.Ack(ctx, job.ID); err != nil {
		p.logger.Error("ack failed", zap.String("job_id", job.ID), zap.Error(err))
	}
}

// publishEvents is best effort; downstream notification never blocks the
// pricing pipeline.
func (p *Pool) publishEvents(ctx context.Context, rec pricing.StorePriceRecord) {
	if p.publisher == nil {
		return
	}
	payload := map[string]any{
		"product_id": rec.ProductID,
		"store":      rec.Store,
		"price":      rec.Price,
		"in_stock":   rec.InStock,
		"scraped_at": rec.ScrapedAt.Format(time.RFC3339),
	}
	if _, err := p.publisher.Publish(ctx, TopicPriceChanged, payload); err != nil {
		p.logger.Warn("publish price change failed",
			zap.Int64("product_id", rec.ProductID), zap.Error(err))
	}
	if !rec.OnSale || rec.OriginalPrice == nil {
		return
	}
	salePayload := map[string]any{
		"product_id":     rec.ProductID,
		"store":          rec.Store,
		"sale_price":     rec.Price,
		"original_price": *rec.OriginalPrice,
		"scraped_at":     rec.ScrapedAt.Format(time.RFC3339),
	}
	if _, err := p.publisher.Publish(ctx, TopicSaleStarted, salePayload); err != nil {
		p.logger.Warn("publish sale start failed",
			zap.Int64("product_id", rec.ProductID), zap.Error(err))
	}
}
