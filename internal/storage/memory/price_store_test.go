package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/saddleworth/pricewatch/internal/pricing"
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

func rec(productID int64, store string, price float64, scrapedAt time.Time) pricing.StorePriceRecord {
	return pricing.StorePriceRecord{
		ProductID:    productID,
		Store:        store,
		URL:          "https://" + store + ".example/p",
		Price:        price,
		InStock:      true,
		ScrapedAt:    scrapedAt,
		LastVerified: scrapedAt,
	}
}

func TestUpsertFreshnessGuard(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	store := NewPriceStore(24*time.Hour, clock)
	ctx := context.Background()

	newer := rec(1, "bootbarn", 99.99, clock.Now())
	applied, err := store.Upsert(ctx, newer)
	require.NoError(t, err)
	require.True(t, applied)

	// An older scrape arriving late must not clobber the newer row.
	stale := rec(1, "bootbarn", 120.00, clock.Now().Add(-time.Hour))
	applied, err = store.Upsert(ctx, stale)
	require.NoError(t, err)
	require.False(t, applied)

	current, err := store.CurrentPrices(ctx, 1, false)
	require.NoError(t, err)
	require.Len(t, current, 1)
	require.Equal(t, 99.99, current[0].Price)
}

func TestCurrentPricesFreshnessWindowAndStockFilter(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	store := NewPriceStore(24*time.Hour, clock)
	ctx := context.Background()

	_, err := store.Upsert(ctx, rec(1, "bootbarn", 99.99, clock.Now().Add(-25*time.Hour)))
	require.NoError(t, err)
	fresh := rec(1, "ariat", 110.00, clock.Now())
	_, err = store.Upsert(ctx, fresh)
	require.NoError(t, err)
	oos := rec(1, "cavenders", 80.00, clock.Now())
	oos.InStock = false
	_, err = store.Upsert(ctx, oos)
	require.NoError(t, err)

	inStock, err := store.CurrentPrices(ctx, 1, false)
	require.NoError(t, err)
	require.Len(t, inStock, 1)
	require.Equal(t, "ariat", inStock[0].Store)

	all, err := store.CurrentPrices(ctx, 1, true)
	require.NoError(t, err)
	require.Len(t, all, 2)
	// Cheapest first.
	require.Equal(t, "cavenders", all[0].Store)
}

func TestBestPricesPicksLowestInStock(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	store := NewPriceStore(24*time.Hour, clock)
	ctx := context.Background()

	_, err := store.Upsert(ctx, rec(1, "bootbarn", 189.99, clock.Now()))
	require.NoError(t, err)
	_, err = store.Upsert(ctx, rec(1, "ariat", 199.99, clock.Now()))
	require.NoError(t, err)
	oos := rec(1, "cavenders", 150.00, clock.Now())
	oos.InStock = false
	_, err = store.Upsert(ctx, oos)
	require.NoError(t, err)

	best, err := store.BestPrices(ctx, 24*time.Hour)
	require.NoError(t, err)
	require.Len(t, best, 1)
	require.Equal(t, "bootbarn", best[0].Store)
	require.Equal(t, 189.99, best[0].Price)
}

func TestHistoryAndRetention(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	store := NewPriceStore(24*time.Hour, clock)
	ctx := context.Background()

	old := rec(1, "bootbarn", 210.00, clock.Now().AddDate(0, 0, -100))
	_, err := store.Upsert(ctx, old)
	require.NoError(t, err)
	newer := rec(1, "bootbarn", 189.99, clock.Now())
	_, err = store.Upsert(ctx, newer)
	require.NoError(t, err)

	points, err := store.History(ctx, 1, 365)
	require.NoError(t, err)
	require.Len(t, points, 2)
	require.Equal(t, 210.00, points[0].Price)

	purged, err := store.PurgeOlderThan(ctx, 90)
	require.NoError(t, err)
	require.Equal(t, int64(1), purged)

	points, err = store.History(ctx, 1, 365)
	require.NoError(t, err)
	require.Len(t, points, 1)
	require.Equal(t, 189.99, points[0].Price)
}

func TestRecentSales(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	store := NewPriceStore(24*time.Hour, clock)
	ctx := context.Background()

	orig := 249.99
	sale := rec(1, "bootbarn", 189.99, clock.Now())
	sale.OriginalPrice = &orig
	sale.OnSale = true
	_, err := store.Upsert(ctx, sale)
	require.NoError(t, err)
	_, err = store.Upsert(ctx, rec(2, "ariat", 99.99, clock.Now()))
	require.NoError(t, err)

	sales, err := store.RecentSales(ctx, 7)
	require.NoError(t, err)
	require.Len(t, sales, 1)
	require.Equal(t, int64(1), sales[0].ProductID)
}
