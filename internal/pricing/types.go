// Package pricing defines core types shared across subsystems.
package pricing

import (
	"fmt"
	"time"
)

// JobStatus represents the lifecycle state of a fetch job.
type JobStatus string

// Job status values. Succeeded and Failed are terminal.
const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusRetrying  JobStatus = "retrying"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// Priority orders jobs within the queue. High-priority products are swept
// more often and jump ahead of normal work.
type Priority int

// Priority tiers.
const (
	PriorityNormal Priority = iota
	PriorityHigh
)

// Job is one scheduled (product, store) fetch. Jobs are ephemeral: they do
// not outlive their outcome being written to the price store.
type Job struct {
	ID         string    `json:"id"`
	ProductID  int64     `json:"product_id"`
	Store      string    `json:"store"`
	URL        string    `json:"url"`
	Priority   Priority  `json:"priority"`
	Attempt    int       `json:"attempt"`
	NotBefore  time.Time `json:"not_before"`
	Status     JobStatus `json:"status"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// DedupKey identifies the (product, store) pair a job targets. The queue
// suppresses a second enqueue for the same key while one is in flight.
func (j Job) DedupKey() string {
	return fmt.Sprintf("%d|%s", j.ProductID, j.Store)
}

// PriceSnapshot is the result of one successful fetch from a store page.
type PriceSnapshot struct {
	Price         float64  `json:"price"`
	OriginalPrice *float64 `json:"original_price,omitempty"`
	InStock       bool     `json:"in_stock"`
	StockLevel    string   `json:"stock_level,omitempty"`
	Shipping      string   `json:"shipping,omitempty"`
}

// OnSale reports whether the snapshot carries a genuine discount.
func (s PriceSnapshot) OnSale() bool {
	return s.OriginalPrice != nil && *s.OriginalPrice > s.Price
}

// StorePriceRecord is the persisted price fact for a (product, store) pair.
type StorePriceRecord struct {
	ProductID     int64     `json:"product_id"`
	Store         string    `json:"store"`
	URL           string    `json:"url"`
	Price         float64   `json:"price"`
	OriginalPrice *float64  `json:"original_price,omitempty"`
	OnSale        bool      `json:"on_sale"`
	InStock       bool      `json:"in_stock"`
	StockLevel    string    `json:"stock_level,omitempty"`
	Shipping      string    `json:"shipping,omitempty"`
	ScrapedAt     time.Time `json:"scraped_at"`
	LastVerified  time.Time `json:"last_verified"`
}

// PricingTarget is one catalog product together with the store pages it
// should be priced from.
type PricingTarget struct {
	ProductID    int64             `json:"product_id"`
	HighPriority bool              `json:"high_priority"`
	StoreURLs    map[string]string `json:"store_urls"`
}

// BestPrice is the derived lowest current in-stock price for a product.
// It is never the source of truth and is rebuildable from the price store.
type BestPrice struct {
	ProductID  int64     `json:"product_id"`
	Store      string    `json:"store"`
	Price      float64   `json:"price"`
	ComputedAt time.Time `json:"computed_at"`
}

// ProductPrices is the aggregate answer for one product's current prices.
type ProductPrices struct {
	ProductID     int64              `json:"product_id"`
	LowestPrice   *float64           `json:"lowest_price,omitempty"`
	AveragePrice  *float64           `json:"average_price,omitempty"`
	Prices        []StorePriceRecord `json:"prices"`
	TotalStores   int                `json:"total_stores"`
	StoresInStock int                `json:"stores_in_stock"`
}

// HistoryPoint is one price observation in a product's history.
type HistoryPoint struct {
	Date    time.Time `json:"date"`
	Store   string    `json:"store"`
	Price   float64   `json:"price"`
	InStock bool      `json:"in_stock"`
}

// Sale describes an active discount surfaced by the sale detector.
type Sale struct {
	ProductID       int64     `json:"product_id"`
	Store           string    `json:"store"`
	SalePrice       float64   `json:"sale_price"`
	OriginalPrice   float64   `json:"original_price"`
	DiscountPercent float64   `json:"discount_percent"`
	ScrapedAt       time.Time `json:"scraped_at"`
}

// FetchRequest captures everything a fetcher needs to price one store page.
type FetchRequest struct {
	ProductID int64
	Store     string
	URL       string
}

// CatalogFilter narrows a catalog listing.
type CatalogFilter struct {
	PriorityOnly bool
}
