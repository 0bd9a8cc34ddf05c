package model

import (
	"bytes"
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// RawValue is one JSON value of unknown type taken from an upstream deal
// candidate. A JSON null leaves the owning *RawValue nil.
type RawValue struct {
	v any
}

// NewRawValue wraps a Go value. Used by the fallback catalog and tests.
func NewRawValue(v any) *RawValue { return &RawValue{v: v} }

func (r *RawValue) UnmarshalJSON(b []byte) error {
	var v any
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return err
	}
	r.v = v
	return nil
}

func (r *RawValue) MarshalJSON() ([]byte, error) {
	if r == nil {
		return []byte("null"), nil
	}
	return json.Marshal(r.v)
}

// String renders the value as text. Strings pass through; numbers and
// booleans are formatted; objects and arrays become compact JSON.
func (r *RawValue) String() string {
	switch v := r.v.(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case bool:
		if v {
			return "True"
		}
		return "False"
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// Float coerces the value to a finite float64. ok is false when the value
// is not numeric or not finite.
func (r *RawValue) Float() (f float64, ok bool) {
	switch v := r.v.(type) {
	case json.Number:
		f, ok = parseFloat(v.String())
	case string:
		f, ok = parseFloat(v)
	case float64:
		f, ok = v, true
	case int:
		f, ok = float64(v), true
	case bool:
		if v {
			f = 1
		}
		ok = true
	}
	if ok && (math.IsNaN(f) || math.IsInf(f, 0)) {
		return 0, false
	}
	return f, ok
}

// Int coerces the value to an integer, truncating toward zero. Magnitudes
// beyond the int32 range saturate at its bounds.
func (r *RawValue) Int() (int, bool) {
	if s, isStr := r.v.(string); isStr {
		n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil && !errors.Is(err, strconv.ErrRange) {
			return 0, false
		}
		return int(min(max(n, math.MinInt32), math.MaxInt32)), true
	}
	f, ok := r.Float()
	if !ok {
		return 0, false
	}
	return int(math.Max(math.Min(f, math.MaxInt32), math.MinInt32)), true
}

func parseFloat(s string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// RawDeal is an upstream deal candidate before normalization. Every field
// is optional and may carry any JSON type; only the normalizer reads it.
type RawDeal struct {
	Title           *RawValue `json:"title"`
	Marketplace     *RawValue `json:"marketplace"`
	Category        *RawValue `json:"category"`
	Price           *RawValue `json:"price"`
	OriginalPrice   *RawValue `json:"original_price"`
	DiscountPercent *RawValue `json:"discount_percent"`
	ProductURL      *RawValue `json:"product_url"`
	ImageURL        *RawValue `json:"image_url"`
}

// RawFromFields builds a fully populated RawDeal from canonical fields.
func RawFromFields(f DealFields) RawDeal {
	return RawDeal{
		Title:           NewRawValue(f.Title),
		Marketplace:     NewRawValue(f.Marketplace),
		Category:        NewRawValue(f.Category),
		Price:           NewRawValue(f.Price),
		OriginalPrice:   NewRawValue(f.OriginalPrice),
		DiscountPercent: NewRawValue(f.DiscountPercent),
		ProductURL:      NewRawValue(f.ProductURL),
		ImageURL:        NewRawValue(f.ImageURL),
	}
}
