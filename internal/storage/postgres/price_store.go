// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/saddleworth/pricewatch/internal/pricing"
)

// dbPool is the subset of pgxpool.Pool the stores use. pgxmock satisfies
// it, which is how the tests run without a database.
type dbPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PriceStoreConfig controls the Postgres connection pool.
type PriceStoreConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	FreshnessWindow time.Duration
}

// PriceStore persists price facts in two tables: product_prices holds the
// current row per (product, store) pair, price_history is append-only.
type PriceStore struct {
	pool      dbPool
	freshness time.Duration
	clock     pricing.Clock
}

// NewPriceStore connects a pool and returns the store.
func NewPriceStore(ctx context.Context, cfg PriceStoreConfig, clock pricing.Clock) (*PriceStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return newPriceStore(pool, cfg.FreshnessWindow, clock), nil
}

// NewPriceStoreWithPool constructs a store from an existing pool
// (primarily for testing).
func NewPriceStoreWithPool(pool dbPool, freshness time.Duration, clock pricing.Clock) (*PriceStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return newPriceStore(pool, freshness, clock), nil
}

func newPriceStore(pool dbPool, freshness time.Duration, clock pricing.Clock) *PriceStore {
	if freshness <= 0 {
		freshness = 24 * time.Hour
	}
	return &PriceStore{pool: pool, freshness: freshness, clock: clock}
}

// Close releases the underlying pool resources.
func (s *PriceStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

const upsertQuery = `
INSERT INTO product_prices (
	product_id, store, url, price, original_price, on_sale,
	in_stock, stock_level, shipping, scraped_at, last_verified
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
ON CONFLICT (product_id, store) DO UPDATE SET
	url = EXCLUDED.url,
	price = EXCLUDED.price,
	original_price = EXCLUDED.original_price,
	on_sale = EXCLUDED.on_sale,
	in_stock = EXCLUDED.in_stock,
	stock_level = EXCLUDED.stock_level,
	shipping = EXCLUDED.shipping,
	scraped_at = EXCLUDED.scraped_at,
	last_verified = EXCLUDED.last_verified
WHERE product_prices.scraped_at <= EXCLUDED.scraped_at`

const historyInsertQuery = `
INSERT INTO price_history (product_id, store, price, in_stock, observed_at)
VALUES ($1,$2,$3,$4,$5)`

// Upsert writes the record unless the stored row is fresher. The guard is
// in the conflict predicate, so two workers racing on the same pair cannot
// regress the row. A history observation is appended only when the write
// took effect.
func (s *PriceStore) Upsert(ctx context.Context, rec pricing.StorePriceRecord) (bool, error) {
	tag, err := s.pool.Exec(ctx, upsertQuery,
		rec.ProductID,
		rec.Store,
		rec.URL,
		rec.Price,
		rec.OriginalPrice,
		rec.OnSale,
		rec.InStock,
		rec.StockLevel,
		rec.Shipping,
		rec.ScrapedAt,
		rec.LastVerified,
	)
	if err != nil {
		return false, fmt.Errorf("upsert price: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	if _, err := s.pool.Exec(ctx, historyInsertQuery,
		rec.ProductID, rec.Store, rec.Price, rec.InStock, rec.ScrapedAt,
	); err != nil {
		return false, fmt.Errorf("append history: %w", err)
	}
	return true, nil
}

const currentPricesQuery = `
SELECT product_id, store, url, price, original_price, on_sale,
       in_stock, stock_level, shipping, scraped_at, last_verified
FROM product_prices
WHERE product_id = $1 AND scraped_at >= $2 AND (in_stock OR $3)
ORDER BY price ASC`

// CurrentPrices returns the product's rows inside the freshness window,
// cheapest first.
func (s *PriceStore) CurrentPrices(ctx context.Context, productID int64, includeOutOfStock bool) ([]pricing.StorePriceRecord, error) {
	cutoff := s.clock.Now().Add(-s.freshness)
	rows, err := s.pool.Query(ctx, currentPricesQuery, productID, cutoff, includeOutOfStock)
	if err != nil {
		return nil, fmt.Errorf("query current prices: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

const historyQuery = `
SELECT observed_at, store, price, in_stock
FROM price_history
WHERE product_id = $1 AND observed_at >= $2
ORDER BY observed_at ASC`

// History returns observations for the last N days, oldest first.
func (s *PriceStore) History(ctx context.Context, productID int64, days int) ([]pricing.HistoryPoint, error) {
	cutoff := s.clock.Now().AddDate(0, 0, -days)
	rows, err := s.pool.Query(ctx, historyQuery, productID, cutoff)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var points []pricing.HistoryPoint
	for rows.Next() {
		var p pricing.HistoryPoint
		if err := rows.Scan(&p.Date, &p.Store, &p.Price, &p.InStock); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history rows: %w", err)
	}
	return points, nil
}

const recentSalesQuery = `
SELECT product_id, store, url, price, original_price, on_sale,
       in_stock, stock_level, shipping, scraped_at, last_verified
FROM product_prices
WHERE on_sale AND in_stock AND scraped_at >= $1
ORDER BY scraped_at DESC`

// RecentSales returns in-stock, on-sale rows from the last N days.
func (s *PriceStore) RecentSales(ctx context.Context, daysLookback int) ([]pricing.StorePriceRecord, error) {
	cutoff := s.clock.Now().AddDate(0, 0, -daysLookback)
	rows, err := s.pool.Query(ctx, recentSalesQuery, cutoff)
	if err != nil {
		return nil, fmt.Errorf("query recent sales: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

const bestPricesQuery = `
SELECT DISTINCT ON (product_id) product_id, store, price
FROM product_prices
WHERE in_stock AND scraped_at >= $1
ORDER BY product_id, price ASC`

// BestPrices computes the lowest in-stock price per product across rows
// scraped within the window.
func (s *PriceStore) BestPrices(ctx context.Context, window time.Duration) ([]pricing.BestPrice, error) {
	now := s.clock.Now()
	rows, err := s.pool.Query(ctx, bestPricesQuery, now.Add(-window))
	if err != nil {
		return nil, fmt.Errorf("query best prices: %w", err)
	}
	defer rows.Close()

	var best []pricing.BestPrice
	for rows.Next() {
		bp := pricing.BestPrice{ComputedAt: now}
		if err := rows.Scan(&bp.ProductID, &bp.Store, &bp.Price); err != nil {
			return nil, fmt.Errorf("scan best price row: %w", err)
		}
		best = append(best, bp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate best price rows: %w", err)
	}
	return best, nil
}

const purgeQuery = `DELETE FROM price_history WHERE observed_at < $1`

// PurgeOlderThan deletes history older than the retention window.
func (s *PriceStore) PurgeOlderThan(ctx context.Context, days int) (int64, error) {
	cutoff := s.clock.Now().AddDate(0, 0, -days)
	tag, err := s.pool.Exec(ctx, purgeQuery, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge history: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanRecords(rows pgx.Rows) ([]pricing.StorePriceRecord, error) {
	var records []pricing.StorePriceRecord
	for rows.Next() {
		var rec pricing.StorePriceRecord
		if err := rows.Scan(
			&rec.ProductID, &rec.Store, &rec.URL, &rec.Price, &rec.OriginalPrice,
			&rec.OnSale, &rec.InStock, &rec.StockLevel, &rec.Shipping,
			&rec.ScrapedAt, &rec.LastVerified,
		); err != nil {
			return nil, fmt.Errorf("scan price row: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate price rows: %w", err)
	}
	return records, nil
}
