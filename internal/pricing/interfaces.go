package pricing

import (
	"context"
	"io"
	"time"
)

// Fetcher turns a store product page into a price snapshot or a typed
// *FetchError. Implementations must never panic into the worker.
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest) (PriceSnapshot, error)
}

// Queue holds pending fetch jobs. Enqueue dedups on (product, store) while a
// job for the same pair is queued or running; Dequeue leases a job to a
// worker, and the job becomes visible again if the lease expires before Ack.
type Queue interface {
	// Enqueue adds a job. The bool is false when a job for the same
	// (product, store) pair is already in flight and the enqueue was a no-op.
	Enqueue(ctx context.Context, job Job) (bool, error)
	// Dequeue blocks until a job is eligible or the context ends.
	Dequeue(ctx context.Context) (Job, error)
	// Ack removes a job after its outcome is durably recorded.
	Ack(ctx context.Context, jobID string) error
	// Retry re-queues a leased job to run no earlier than delay from now.
	Retry(ctx context.Context, job Job, delay time.Duration) error
	// Depth reports how many jobs are queued or leased.
	Depth() int
}

// PriceStore is the durable home of price facts.
type PriceStore interface {
	// Upsert writes a record unless the stored record for the same
	// (product, store) pair has a fresher ScrapedAt, in which case it is a
	// no-op and the bool is false. This is the only consistency guarantee
	// concurrent writers rely on.
	Upsert(ctx context.Context, rec StorePriceRecord) (bool, error)
	// CurrentPrices returns records scraped within the freshness window.
	CurrentPrices(ctx context.Context, productID int64, includeOutOfStock bool) ([]StorePriceRecord, error)
	// History returns observations for the last N days, oldest first.
	History(ctx context.Context, productID int64, days int) ([]HistoryPoint, error)
	// RecentSales returns in-stock, on-sale records from the last N days.
	RecentSales(ctx context.Context, daysLookback int) ([]StorePriceRecord, error)
	// BestPrices computes the lowest in-stock price per product across
	// records scraped within the window.
	BestPrices(ctx context.Context, window time.Duration) ([]BestPrice, error)
	// PurgeOlderThan deletes records older than the retention window and
	// reports how many rows went away.
	PurgeOlderThan(ctx context.Context, days int) (int64, error)
}

// Catalog is the external product catalog. Read-only here except for the
// denormalized best-price mirror.
type Catalog interface {
	ListProductsForPricing(ctx context.Context, filter CatalogFilter) ([]PricingTarget, error)
	UpdateBestPrice(ctx context.Context, productID int64, price float64) error
}

// Publisher notifies downstream collaborators of price events.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// BlobStore persists raw page bodies, used to capture parse failures.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Hasher produces a stable content hash, used to name captured HTML blobs.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// IDGenerator mints job IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// BestPriceCache is the read-optimized lowest-price index.
type BestPriceCache interface {
	Get(productID int64) (BestPrice, bool)
	Put(bp BestPrice)
}
