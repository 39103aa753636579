// Package fetcher turns raw store pages into price snapshots. Strategy
// implementations (static HTTP, headless browser) live in subpackages and
// only retrieve pages; classification and parsing happen here so every
// store goes through the same error taxonomy.
package fetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/saddleworth/pricewatch/internal/pricing"
)

// PageResult is the raw outcome of retrieving one store page.
type PageResult struct {
	StatusCode int
	Body       []byte
	FinalURL   string
}

// PageFetcher retrieves a page without interpreting it.
type PageFetcher interface {
	FetchPage(ctx context.Context, url string) (PageResult, error)
}

// Fetcher binds one store's page strategy and selectors into the
// pricing.Fetcher contract.
type Fetcher struct {
	store     string
	page      PageFetcher
	selectors Selectors
	anti      *Antidetect
}

// New builds a store-bound fetcher.
func New(store string, page PageFetcher, selectors Selectors, anti *Antidetect) *Fetcher {
	return &Fetcher{store: store, page: page, selectors: selectors, anti: anti}
}

// Fetch retrieves and parses one product page. Failures always come back
// as a *pricing.FetchError so the worker can decide retry vs give up.
func (f *Fetcher) Fetch(ctx context.Context, req pricing.FetchRequest) (pricing.PriceSnapshot, error) {
	if f.anti != nil {
		if err := f.anti.Delay(ctx); err != nil {
			return pricing.PriceSnapshot{}, pricing.NewFetchError(
				pricing.FetchTimeout, f.store, req.URL, 0, err)
		}
	}

	res, err := f.page.FetchPage(ctx, req.URL)
	if err != nil {
		return pricing.PriceSnapshot{}, f.classifyTransport(req.URL, res, err)
	}

	if LooksBlocked(res.StatusCode, res.Body) {
		return pricing.PriceSnapshot{}, pricing.NewFetchError(
			pricing.FetchBlocked, f.store, req.URL, res.StatusCode,
			errors.New("captcha or rate-limit wall served"))
	}
	if res.StatusCode < http.StatusOK || res.StatusCode >= http.StatusMultipleChoices {
		return pricing.PriceSnapshot{}, pricing.NewFetchError(
			pricing.FetchHTTP, f.store, req.URL, res.StatusCode,
			fmt.Errorf("unexpected status %d", res.StatusCode))
	}

	snap, err := ParseSnapshot(res.Body, f.selectors)
	if err != nil {
		fe := pricing.NewFetchError(pricing.FetchParse, f.store, req.URL, res.StatusCode, err)
		fe.HTML = append([]byte(nil), res.Body...)
		return pricing.PriceSnapshot{}, fe
	}
	return snap, nil
}

// classifyTransport maps transport-level failures onto the error taxonomy.
// Deadline and connection failures are transient; a response that arrived
// with an error status is judged by its code.
func (f *Fetcher) classifyTransport(url string, res PageResult, err error) *pricing.FetchError {
	if res.StatusCode != 0 {
		if LooksBlocked(res.StatusCode, res.Body) {
			return pricing.NewFetchError(pricing.FetchBlocked, f.store, url, res.StatusCode, err)
		}
		return pricing.NewFetchError(pricing.FetchHTTP, f.store, url, res.StatusCode, err)
	}
	return pricing.NewFetchError(pricing.FetchTimeout, f.store, url, 0, err)
}

// blockMarkers are phrases stores serve instead of product pages when they
// have decided we are a bot.
var blockMarkers = [][]byte{
	[]byte("captcha"),
	[]byte("are you a robot"),
	[]byte("access denied"),
	[]byte("unusual traffic"),
	[]byte("verify you are human"),
	[]byte("cf-challenge"),
}

// LooksBlocked reports whether the response is a bot wall rather than a
// product page. 403 and 429 count regardless of body content.
func LooksBlocked(statusCode int, body []byte) bool {
	if statusCode == http.StatusForbidden || statusCode == http.StatusTooManyRequests {
		return true
	}
	lower := bytes.ToLower(body)
	for _, marker := range blockMarkers {
		if bytes.Contains(lower, marker) {
			return true
		}
	}
	return false
}
