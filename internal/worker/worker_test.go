package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/saddleworth/pricewatch/internal/hash/sha256"
	"github.com/saddleworth/pricewatch/internal/policy/ratelimit"
	"github.com/saddleworth/pricewatch/internal/pricing"
	pubmemory "github.com/saddleworth/pricewatch/internal/publisher/memory"
	qmemory "github.com/saddleworth/pricewatch/internal/queue/memory"
	smemory "github.com/saddleworth/pricewatch/internal/storage/memory"
	"github.com/saddleworth/pricewatch/internal/telemetry"
)

type realClock struct{}

func (realClock) Now() time.Time {
	return time.Now()
}

type scriptedFetcher struct {
	mu      sync.Mutex
	results []func() (pricing.PriceSnapshot, error)
	calls   int
}

func (f *scriptedFetcher) Fetch(_ context.Context, _ pricing.FetchRequest) (pricing.PriceSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.calls
	f.calls++
	if idx >= len(f.results) {
		idx = len(f.results) - 1
	}
	return f.results[idx]()
}

func (f *scriptedFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type staticResolver struct {
	fetcher pricing.Fetcher
}

func (r staticResolver) Lookup(string) (pricing.Fetcher, error) {
	return r.fetcher, nil
}

type fakeLimiter struct {
	mu        sync.Mutex
	coolUntil time.Time
	cooldowns int
}

func (l *fakeLimiter) Acquire(_ context.Context, _ string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if time.Now().Before(l.coolUntil) {
		return nil, ratelimit.ErrCoolingDown
	}
	return func() {}, nil
}

func (l *fakeLimiter) Cooldown(_ string, d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.coolUntil = time.Now().Add(d)
	l.cooldowns++
}

func (l *fakeLimiter) CooldownRemaining(_ string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	if remaining := time.Until(l.coolUntil); remaining > 0 {
		return remaining
	}
	return 0
}

func (l *fakeLimiter) cooldownCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cooldowns
}

type harness struct {
	queue     *qmemory.Queue
	store     *smemory.PriceStore
	publisher *pubmemory.Publisher
	blobs     *smemory.BlobStore
	limiter   *fakeLimiter
	pool      *Pool
	cancel    context.CancelFunc
	done      chan struct{}
}

func newHarness(t *testing.T, fetcher pricing.Fetcher, cfg Config) *harness {
	t.Helper()
	telemetry.Init()

	clock := realClock{}
	h := &harness{
		queue:     qmemory.NewQueue(qmemory.Config{Capacity: 16, LeaseTimeout: time.Minute}, clock),
		store:     smemory.NewPriceStore(24*time.Hour, clock),
		publisher: pubmemory.New(),
		blobs:     smemory.NewBlobStore(),
		limiter:   &fakeLimiter{},
		done:      make(chan struct{}),
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = 1
	}
	if cfg.BackoffBase == 0 {
		cfg.BackoffBase = time.Millisecond
	}
	h.pool = NewPool(
		h.queue, staticResolver{fetcher: fetcher}, h.limiter,
		h.store, h.publisher, h.blobs, sha256.New(), clock, cfg, nil,
	)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() {
		h.pool.Run(ctx)
		close(h.done)
	}()
	t.Cleanup(func() {
		cancel()
		h.queue.Close()
		<-h.done
	})
	return h
}

func testJob() pricing.Job {
	return pricing.Job{
		ID:        "job-1",
		ProductID: 42,
		Store:     "bootbarn",
		URL:       "https://bootbarn.example/p/42",
		Priority:  pricing.PriorityNormal,
		Attempt:   1,
	}
}

func snapshot() pricing.PriceSnapshot {
	orig := 249.99
	return pricing.PriceSnapshot{
		Price:         189.99,
		OriginalPrice: &orig,
		InStock:       true,
		StockLevel:    "in_stock",
	}
}

func TestSuccessfulFetchPersistsAndPublishes(t *testing.T) {
	fetcher := &scriptedFetcher{results: []func() (pricing.PriceSnapshot, error){
		func() (pricing.PriceSnapshot, error) { return snapshot(), nil },
	}}
	h := newHarness(t, fetcher, Config{})

	_, err := h.queue.Enqueue(context.Background(), testJob())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return h.queue.Depth() == 0
	}, 5*time.Second, 10*time.Millisecond)

	current, err := h.store.CurrentPrices(context.Background(), 42, false)
	require.NoError(t, err)
	require.Len(t, current, 1)
	require.Equal(t, 189.99, current[0].Price)
	require.True(t, current[0].OnSale)

	require.Len(t, h.publisher.EventsOfType(TopicPriceChanged), 1)
	require.Len(t, h.publisher.EventsOfType(TopicSaleStarted), 1)
}

func TestTransientFailureRetriesUpToCeiling(t *testing.T) {
	fetcher := &scriptedFetcher{results: []func() (pricing.PriceSnapshot, error){
		func() (pricing.PriceSnapshot, error) {
			return pricing.PriceSnapshot{}, pricing.NewFetchError(
				pricing.FetchHTTP, "bootbarn", "https://bootbarn.example/p/42", 503,
				errors.New("maintenance"))
		},
	}}
	h := newHarness(t, fetcher, Config{MaxAttempts: 3})

	_, err := h.queue.Enqueue(context.Background(), testJob())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return h.queue.Depth() == 0
	}, 5*time.Second, 10*time.Millisecond)

	// Attempts 1, 2 and 3, then the job fails for good.
	require.Equal(t, 3, fetcher.callCount())

	current, err := h.store.CurrentPrices(context.Background(), 42, true)
	require.NoError(t, err)
	require.Empty(t, current)
}

func TestPermanentHTTPErrorFailsImmediately(t *testing.T) {
	fetcher := &scriptedFetcher{results: []func() (pricing.PriceSnapshot, error){
		func() (pricing.PriceSnapshot, error) {
			return pricing.PriceSnapshot{}, pricing.NewFetchError(
				pricing.FetchHTTP, "bootbarn", "https://bootbarn.example/p/42", 404,
				errors.New("gone"))
		},
	}}
	h := newHarness(t, fetcher, Config{MaxAttempts: 3})

	_, err := h.queue.Enqueue(context.Background(), testJob())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return h.queue.Depth() == 0
	}, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, 1, fetcher.callCount())
}

func TestParseFailureCapturesPageAndDoesNotRetry(t *testing.T) {
	page := []byte(`<html><body><span class="new-layout">$10</span></body></html>`)
	fetcher := &scriptedFetcher{results: []func() (pricing.PriceSnapshot, error){
		func() (pricing.PriceSnapshot, error) {
			fe := pricing.NewFetchError(pricing.FetchParse, "bootbarn",
				"https://bootbarn.example/p/42", 200, errors.New("price selector matched nothing"))
			fe.HTML = page
			return pricing.PriceSnapshot{}, fe
		},
	}}
	h := newHarness(t, fetcher, Config{MaxAttempts: 3})

	_, err := h.queue.Enqueue(context.Background(), testJob())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return h.queue.Depth() == 0
	}, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, 1, fetcher.callCount())

	hash, err := sha256.New().Hash(page)
	require.NoError(t, err)
	captured, ok := h.blobs.Object(fmt.Sprintf("parse-failures/bootbarn/%s.html", hash))
	require.True(t, ok)
	require.Equal(t, page, captured)
}

func TestBlockedFetchCoolsStoreThenRecovers(t *testing.T) {
	fetcher := &scriptedFetcher{results: []func() (pricing.PriceSnapshot, error){
		func() (pricing.PriceSnapshot, error) {
			return pricing.PriceSnapshot{}, pricing.NewFetchError(
				pricing.FetchBlocked, "bootbarn", "https://bootbarn.example/p/42", 403,
				errors.New("captcha wall"))
		},
		func() (pricing.PriceSnapshot, error) { return snapshot(), nil },
	}}
	h := newHarness(t, fetcher, Config{MaxAttempts: 3, StoreCooldown: 50 * time.Millisecond})

	_, err := h.queue.Enqueue(context.Background(), testJob())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return h.queue.Depth() == 0
	}, 5*time.Second, 10*time.Millisecond)

	require.Equal(t, 1, h.limiter.cooldownCount())
	require.Equal(t, 2, fetcher.callCount())

	current, err := h.store.CurrentPrices(context.Background(), 42, false)
	require.NoError(t, err)
	require.Len(t, current, 1)
}
