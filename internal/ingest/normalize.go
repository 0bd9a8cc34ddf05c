// Package ingest turns upstream deal candidates into canonical deals and
// merges them into the store.
package ingest

import (
	"math"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"dealscout/deal-service/internal/model"
)

const (
	DefaultTitle       = "Untitled Deal"
	DefaultMarketplace = "Amazon"
	DefaultCategory    = "General"
	DefaultProductURL  = "https://example.com/deal"
	DefaultImageURL    = "https://images.unsplash.com/photo-1556740738-b6a63e27c4df"

	MaxTitleLen       = 255
	MaxMarketplaceLen = 50
	MaxCategoryLen    = 100
	MaxURLLen         = 500

	MinPrice       = 0.5
	MaxDiscountPct = 95
)

// Normalize converts one raw candidate into canonical deal fields. It never
// fails: absent or unusable values take defaults and numbers are clamped so
// that MinPrice <= Price <= OriginalPrice and 0 <= DiscountPercent <= 95.
func Normalize(raw model.RawDeal) model.DealFields {
	price := floatOr(raw.Price, 0)

	original := floatOr(raw.OriginalPrice, math.Max(price, 1))
	if original <= 0 {
		original = math.Max(price, 1)
	}

	discount := intOr(raw.DiscountPercent, 0)
	if discount <= 0 {
		discount = derivedDiscount(price, original)
	}
	discount = min(max(discount, 0), MaxDiscountPct)

	finalPrice := math.Max(round2(price), MinPrice)

	return model.DealFields{
		Title:           truncate(stringOr(raw.Title, DefaultTitle), MaxTitleLen),
		Marketplace:     truncate(titleCase(stringOr(raw.Marketplace, DefaultMarketplace)), MaxMarketplaceLen),
		Category:        truncate(stringOr(raw.Category, DefaultCategory), MaxCategoryLen),
		Price:           finalPrice,
		OriginalPrice:   math.Max(round2(original), finalPrice),
		DiscountPercent: discount,
		ProductURL:      truncate(stringOr(raw.ProductURL, DefaultProductURL), MaxURLLen),
		ImageURL:        truncate(stringOr(raw.ImageURL, DefaultImageURL), MaxURLLen),
	}
}

// NormalizeAll normalizes at most limit candidates, keeping their order.
// A limit <= 0 means no bound.
func NormalizeAll(raws []model.RawDeal, limit int) []model.DealFields {
	if limit > 0 && len(raws) > limit {
		raws = raws[:limit]
	}
	out := make([]model.DealFields, 0, len(raws))
	for _, r := range raws {
		out = append(out, Normalize(r))
	}
	return out
}

// derivedDiscount is round((1 - price/original) * 100), floored at 0.
// original is always positive here. Halves round to even.
func derivedDiscount(price, original float64) int {
	pct := math.RoundToEven((1 - price/original) * 100)
	if pct <= 0 {
		return 0
	}
	if pct > MaxDiscountPct {
		return MaxDiscountPct
	}
	return int(pct)
}

func round2(f float64) float64 {
	v, _ := decimal.NewFromFloat(f).Round(2).Float64()
	return v
}

// stringOr drops NUL characters, which Postgres text columns reject.
func stringOr(v *model.RawValue, def string) string {
	if v == nil {
		return def
	}
	return strings.ReplaceAll(v.String(), "\x00", "")
}

func floatOr(v *model.RawValue, def float64) float64 {
	if v == nil {
		return def
	}
	f, ok := v.Float()
	if !ok {
		return def
	}
	return f
}

func intOr(v *model.RawValue, def int) int {
	if v == nil {
		return def
	}
	n, ok := v.Int()
	if !ok {
		return def
	}
	return n
}

// truncate cuts s to at most n characters.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}

// titleCase upper-cases the first letter of every run of letters and
// lower-cases the rest, so "walmart" and "WALMART" both become "Walmart".
func titleCase(s string) string {
	out := make([]rune, 0, len(s))
	prevLetter := false
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) && !prevLetter:
			out = append(out, unicode.ToTitle(r))
			prevLetter = true
		case unicode.IsLetter(r):
			out = append(out, unicode.ToLower(r))
		default:
			out = append(out, r)
			prevLetter = false
		}
	}
	return string(out)
}
