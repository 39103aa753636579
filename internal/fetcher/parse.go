package fetcher

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/saddleworth/pricewatch/internal/pricing"
)

// Selectors locates price facts on one store's product pages. Only Price
// is mandatory; a store without a visible original price simply never
// reports sales.
type Selectors struct {
	Price         string
	OriginalPrice string
	Availability  string
	Shipping      string
}

// moneyPattern pulls the first money-looking number out of selector text,
// tolerating currency symbols and thousands separators ("$1,299.00").
var moneyPattern = regexp.MustCompile(`\d[\d,]*(?:\.\d+)?`)

// outOfStockMarkers flags availability text as out of stock.
var outOfStockMarkers = []string{
	"out of stock",
	"sold out",
	"unavailable",
	"notify me",
	"back-order",
	"backorder",
}

// lowStockMarkers flags availability text as running low.
var lowStockMarkers = []string{
	"only",
	"low stock",
	"last one",
	"few left",
	"hurry",
}

// ParseSnapshot extracts a price snapshot from a product page. A missing
// or unparseable price is an error: the page structure has drifted and the
// selectors need updating.
func ParseSnapshot(html []byte, sel Selectors) (pricing.PriceSnapshot, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return pricing.PriceSnapshot{}, fmt.Errorf("parse document: %w", err)
	}

	priceText := strings.TrimSpace(doc.Find(sel.Price).First().Text())
	if priceText == "" {
		return pricing.PriceSnapshot{}, fmt.Errorf("price selector %q matched nothing", sel.Price)
	}
	price, err := parseMoney(priceText)
	if err != nil {
		return pricing.PriceSnapshot{}, fmt.Errorf("price selector %q: %w", sel.Price, err)
	}

	snap := pricing.PriceSnapshot{Price: price, InStock: true}

	if sel.OriginalPrice != "" {
		if text := strings.TrimSpace(doc.Find(sel.OriginalPrice).First().Text()); text != "" {
			if orig, err := parseMoney(text); err == nil && orig > price {
				snap.OriginalPrice = &orig
			}
		}
	}

	if sel.Availability != "" {
		text := strings.ToLower(strings.TrimSpace(doc.Find(sel.Availability).First().Text()))
		snap.InStock, snap.StockLevel = classifyAvailability(text)
	}

	if sel.Shipping != "" {
		snap.Shipping = strings.TrimSpace(doc.Find(sel.Shipping).First().Text())
	}

	return snap, nil
}

// classifyAvailability turns freeform availability text into an in-stock
// flag and a normalized stock level. Empty text means the store shows no
// availability cue, which we read as in stock.
func classifyAvailability(text string) (bool, string) {
	if text == "" {
		return true, ""
	}
	for _, marker := range outOfStockMarkers {
		if strings.Contains(text, marker) {
			return false, "out_of_stock"
		}
	}
	for _, marker := range lowStockMarkers {
		if strings.Contains(text, marker) {
			return true, "low_stock"
		}
	}
	return true, "in_stock"
}

func parseMoney(text string) (float64, error) {
	match := moneyPattern.FindString(text)
	if match == "" {
		return 0, fmt.Errorf("no number in %q", text)
	}
	value, err := strconv.ParseFloat(strings.ReplaceAll(match, ",", ""), 64)
	if err != nil {
		return 0, fmt.Errorf("parse %q: %w", match, err)
	}
	if value <= 0 {
		return 0, fmt.Errorf("non-positive price %v", value)
	}
	return value, nil
}
