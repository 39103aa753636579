package fetcher

import (
	"testing"

	"github.com/stretchr/testify/require"
)

var bootPage = []byte(`<html><body>
<div class="product">
  <span class="price">$189.99</span>
  <span class="was-price">$249.99</span>
  <div class="availability">In Stock</div>
  <div class="shipping">Free shipping over $75</div>
</div>
</body></html>`)

func sel() Selectors {
	return Selectors{
		Price:         ".price",
		OriginalPrice: ".was-price",
		Availability:  ".availability",
		Shipping:      ".shipping",
	}
}

func TestParseSnapshotFullPage(t *testing.T) {
	t.Parallel()

	snap, err := ParseSnapshot(bootPage, sel())
	require.NoError(t, err)
	require.Equal(t, 189.99, snap.Price)
	require.NotNil(t, snap.OriginalPrice)
	require.Equal(t, 249.99, *snap.OriginalPrice)
	require.True(t, snap.InStock)
	require.Equal(t, "in_stock", snap.StockLevel)
	require.Equal(t, "Free shipping over $75", snap.Shipping)
	require.True(t, snap.OnSale())
}

func TestParseSnapshotThousandsSeparator(t *testing.T) {
	t.Parallel()

	page := []byte(`<span class="price">$1,299.00</span>`)
	snap, err := ParseSnapshot(page, Selectors{Price: ".price"})
	require.NoError(t, err)
	require.Equal(t, 1299.00, snap.Price)
	require.Nil(t, snap.OriginalPrice)
	require.True(t, snap.InStock)
}

func TestParseSnapshotOutOfStock(t *testing.T) {
	t.Parallel()

	page := []byte(`<span class="price">$89.50</span><div class="availability">Sold Out</div>`)
	snap, err := ParseSnapshot(page, Selectors{Price: ".price", Availability: ".availability"})
	require.NoError(t, err)
	require.False(t, snap.InStock)
	require.Equal(t, "out_of_stock", snap.StockLevel)
}

func TestParseSnapshotLowStock(t *testing.T) {
	t.Parallel()

	page := []byte(`<span class="price">$89.50</span><div class="availability">Only 2 left!</div>`)
	snap, err := ParseSnapshot(page, Selectors{Price: ".price", Availability: ".availability"})
	require.NoError(t, err)
	require.True(t, snap.InStock)
	require.Equal(t, "low_stock", snap.StockLevel)
}

func TestParseSnapshotIgnoresBogusOriginalPrice(t *testing.T) {
	t.Parallel()

	// An "original" price at or below the current price is not a sale.
	page := []byte(`<span class="price">$99.00</span><span class="was">$99.00</span>`)
	snap, err := ParseSnapshot(page, Selectors{Price: ".price", OriginalPrice: ".was"})
	require.NoError(t, err)
	require.Nil(t, snap.OriginalPrice)
	require.False(t, snap.OnSale())
}

func TestParseSnapshotMissingPrice(t *testing.T) {
	t.Parallel()

	page := []byte(`<html><body><div class="other">hello</div></body></html>`)
	_, err := ParseSnapshot(page, Selectors{Price: ".price"})
	require.Error(t, err)

	page = []byte(`<span class="price">Call for pricing</span>`)
	_, err = ParseSnapshot(page, Selectors{Price: ".price"})
	require.Error(t, err)
}

func TestLooksBlocked(t *testing.T) {
	t.Parallel()

	require.True(t, LooksBlocked(403, nil))
	require.True(t, LooksBlocked(429, nil))
	require.True(t, LooksBlocked(200, []byte(`<html>Please solve this CAPTCHA</html>`)))
	require.True(t, LooksBlocked(200, []byte(`We detected unusual traffic from your network`)))
	require.False(t, LooksBlocked(200, bootPage))
	require.False(t, LooksBlocked(500, []byte(`internal server error`)))
}
