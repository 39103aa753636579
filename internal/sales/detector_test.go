package sales

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/saddleworth/pricewatch/internal/pricing"
	"github.com/saddleworth/pricewatch/internal/storage/memory"
)

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time {
	return c.now
}

func saleRecord(productID int64, store string, price, original float64, at time.Time) pricing.StorePriceRecord {
	return pricing.StorePriceRecord{
		ProductID:     productID,
		Store:         store,
		Price:         price,
		OriginalPrice: &original,
		OnSale:        true,
		InStock:       true,
		ScrapedAt:     at,
		LastVerified:  at,
	}
}

func TestDiscountPercentRounding(t *testing.T) {
	t.Parallel()

	require.Equal(t, 24.0, DiscountPercent(249.99, 189.99))
	require.Equal(t, 50.0, DiscountPercent(100, 50))
	require.Equal(t, 33.3, DiscountPercent(150, 100))
	require.Equal(t, 0.0, DiscountPercent(0, 10))
}

func TestDetectRanksByDiscountDepth(t *testing.T) {
	t.Parallel()

	clock := fixedClock{now: time.Unix(1700000000, 0).UTC()}
	store := memory.NewPriceStore(24*time.Hour, clock)
	ctx := context.Background()

	_, err := store.Upsert(ctx, saleRecord(1, "bootbarn", 189.99, 249.99, clock.Now()))
	require.NoError(t, err)
	_, err = store.Upsert(ctx, saleRecord(2, "ariat", 50.00, 100.00, clock.Now()))
	require.NoError(t, err)

	d := NewDetector(store)
	sales, err := d.Detect(ctx, 7)
	require.NoError(t, err)
	require.Len(t, sales, 2)
	require.Equal(t, int64(2), sales[0].ProductID)
	require.Equal(t, 50.0, sales[0].DiscountPercent)
	require.Equal(t, int64(1), sales[1].ProductID)
	require.Equal(t, 24.0, sales[1].DiscountPercent)
}

func TestDetectSkipsBogusDiscounts(t *testing.T) {
	t.Parallel()

	clock := fixedClock{now: time.Unix(1700000000, 0).UTC()}
	store := memory.NewPriceStore(24*time.Hour, clock)
	ctx := context.Background()

	// Flagged on sale but the "original" price is not higher.
	_, err := store.Upsert(ctx, saleRecord(1, "bootbarn", 99.99, 99.99, clock.Now()))
	require.NoError(t, err)

	d := NewDetector(store)
	sales, err := d.Detect(ctx, 7)
	require.NoError(t, err)
	require.Empty(t, sales)
}
