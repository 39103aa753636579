// Package memory holds in-memory storage implementations for development
// and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/saddleworth/pricewatch/internal/pricing"
)

type observation struct {
	productID int64
	store     string
	price     float64
	inStock   bool
	at        time.Time
}

// PriceStore keeps current rows and history in memory. Semantics mirror
// the Postgres store so the rest of the engine cannot tell them apart.
type PriceStore struct {
	mu        sync.RWMutex
	current   map[string]pricing.StorePriceRecord
	history   []observation
	freshness time.Duration
	clock     pricing.Clock
}

// NewPriceStore constructs the store.
func NewPriceStore(freshness time.Duration, clock pricing.Clock) *PriceStore {
	if freshness <= 0 {
		freshness = 24 * time.Hour
	}
	return &PriceStore{
		current:   make(map[string]pricing.StorePriceRecord),
		freshness: freshness,
		clock:     clock,
	}
}

func key(productID int64, store string) string {
	return fmt.Sprintf("%d|%s", productID, store)
}

// Upsert applies the record unless the stored row is fresher.
func (s *PriceStore) Upsert(_ context.Context, rec pricing.StorePriceRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(rec.ProductID, rec.Store)
	if existing, ok := s.current[k]; ok && existing.ScrapedAt.After(rec.ScrapedAt) {
		return false, nil
	}
	s.current[k] = rec
	s.history = append(s.history, observation{
		productID: rec.ProductID,
		store:     rec.Store,
		price:     rec.Price,
		inStock:   rec.InStock,
		at:        rec.ScrapedAt,
	})
	return true, nil
}

// CurrentPrices returns the product's fresh rows, cheapest first.
func (s *PriceStore) CurrentPrices(_ context.Context, productID int64, includeOutOfStock bool) ([]pricing.StorePriceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := s.clock.Now().Add(-s.freshness)
	var out []pricing.StorePriceRecord
	for _, rec := range s.current {
		if rec.ProductID != productID || rec.ScrapedAt.Before(cutoff) {
			continue
		}
		if !rec.InStock && !includeOutOfStock {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Price < out[j].Price })
	return out, nil
}

// History returns observations for the last N days, oldest first.
func (s *PriceStore) History(_ context.Context, productID int64, days int) ([]pricing.HistoryPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := s.clock.Now().AddDate(0, 0, -days)
	var points []pricing.HistoryPoint
	for _, obs := range s.history {
		if obs.productID != productID || obs.at.Before(cutoff) {
			continue
		}
		points = append(points, pricing.HistoryPoint{
			Date:    obs.at,
			Store:   obs.store,
			Price:   obs.price,
			InStock: obs.inStock,
		})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Date.Before(points[j].Date) })
	return points, nil
}

// RecentSales returns in-stock, on-sale rows from the last N days.
func (s *PriceStore) RecentSales(_ context.Context, daysLookback int) ([]pricing.StorePriceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := s.clock.Now().AddDate(0, 0, -daysLookback)
	var out []pricing.StorePriceRecord
	for _, rec := range s.current {
		if rec.OnSale && rec.InStock && !rec.ScrapedAt.Before(cutoff) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScrapedAt.After(out[j].ScrapedAt) })
	return out, nil
}

// BestPrices computes the lowest in-stock price per product in the window.
func (s *PriceStore) BestPrices(_ context.Context, window time.Duration) ([]pricing.BestPrice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.clock.Now()
	cutoff := now.Add(-window)
	best := make(map[int64]pricing.BestPrice)
	for _, rec := range s.current {
		if !rec.InStock || rec.ScrapedAt.Before(cutoff) {
			continue
		}
		if bp, ok := best[rec.ProductID]; !ok || rec.Price < bp.Price {
			best[rec.ProductID] = pricing.BestPrice{
				ProductID:  rec.ProductID,
				Store:      rec.Store,
				Price:      rec.Price,
				ComputedAt: now,
			}
		}
	}

	out := make([]pricing.BestPrice, 0, len(best))
	for _, bp := range best {
		out = append(out, bp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

// PurgeOlderThan drops history older than the retention window.
func (s *PriceStore) PurgeOlderThan(_ context.Context, days int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.clock.Now().AddDate(0, 0, -days)
	kept := s.history[:0]
	var purged int64
	for _, obs := range s.history {
		if obs.at.Before(cutoff) {
			purged++
			continue
		}
		kept = append(kept, obs)
	}
	s.history = kept
	return purged, nil
}
