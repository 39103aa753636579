package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/saddleworth/pricewatch/internal/pricing"
	"github.com/saddleworth/pricewatch/internal/storage/memory"
	"github.com/saddleworth/pricewatch/internal/telemetry"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0).UTC()}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestGetExpiresAfterTTL(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	c := New(time.Hour, clock)

	bp := pricing.BestPrice{ProductID: 42, Store: "bootbarn", Price: 189.99, ComputedAt: clock.Now()}
	c.Put(bp)

	got, ok := c.Get(42)
	require.True(t, ok)
	require.Equal(t, bp, got)

	clock.Advance(61 * time.Minute)
	_, ok = c.Get(42)
	require.False(t, ok)
}

func TestPutRenewsTTL(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	c := New(time.Hour, clock)

	c.Put(pricing.BestPrice{ProductID: 42, Price: 189.99})
	clock.Advance(50 * time.Minute)
	c.Put(pricing.BestPrice{ProductID: 42, Price: 179.99})
	clock.Advance(50 * time.Minute)

	got, ok := c.Get(42)
	require.True(t, ok)
	require.Equal(t, 179.99, got.Price)
}

func TestSweepDropsExpiredEntries(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	c := New(time.Hour, clock)

	c.Put(pricing.BestPrice{ProductID: 1, Price: 10})
	clock.Advance(30 * time.Minute)
	c.Put(pricing.BestPrice{ProductID: 2, Price: 20})
	clock.Advance(45 * time.Minute)

	c.Sweep()
	require.Equal(t, 1, c.Len())
	_, ok := c.Get(2)
	require.True(t, ok)
}

func TestRefresherRebuildsCacheAndMirrorsCatalog(t *testing.T) {
	telemetry.Init()

	clock := newFakeClock()
	store := memory.NewPriceStore(24*time.Hour, clock)
	catalog := memory.NewCatalog(nil)
	c := New(time.Hour, clock)
	ctx := context.Background()

	_, err := store.Upsert(ctx, pricing.StorePriceRecord{
		ProductID: 42, Store: "bootbarn", Price: 189.99, InStock: true,
		ScrapedAt: clock.Now(), LastVerified: clock.Now(),
	})
	require.NoError(t, err)
	_, err = store.Upsert(ctx, pricing.StorePriceRecord{
		ProductID: 42, Store: "ariat", Price: 199.99, InStock: true,
		ScrapedAt: clock.Now(), LastVerified: clock.Now(),
	})
	require.NoError(t, err)

	r := NewRefresher(store, c, catalog, 24*time.Hour, nil)
	require.NoError(t, r.Refresh(ctx))

	got, ok := c.Get(42)
	require.True(t, ok)
	require.Equal(t, "bootbarn", got.Store)
	require.Equal(t, 189.99, got.Price)

	mirrored, ok := catalog.BestPrice(42)
	require.True(t, ok)
	require.Equal(t, 189.99, mirrored)
}
