package gateway

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/goccy/go-json"

	"dealscout/deal-service/internal/model"
)

// ErrUnexpectedShape is returned when completion text decodes but holds no
// list of deal objects.
var ErrUnexpectedShape = errors.New("completion is not a list of deal objects")

// Parse extracts deal candidates from completion text that should be JSON
// but may be wrapped in markdown code fences. It accepts a bare array of
// objects, or an object holding such an array under any key ("deals" is
// tried first). Anything else is an error.
func Parse(content string) ([]model.RawDeal, error) {
	v, err := decode(stripFences(content))
	if err != nil {
		return nil, err
	}

	switch t := v.(type) {
	case []any:
		return toRawDeals(t)
	case map[string]any:
		if arr, ok := nestedArray(t); ok {
			return toRawDeals(arr)
		}
	}
	return nil, ErrUnexpectedShape
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "```json", "")
	s = strings.ReplaceAll(s, "```", "")
	return strings.TrimSpace(s)
}

func decode(s string) (any, error) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, fmt.Errorf("decode completion: %w", err)
	}
	return v, nil
}

// nestedArray finds the first array-of-objects value in obj. Keys are
// checked in sorted order after "deals" so the choice is deterministic.
func nestedArray(obj map[string]any) ([]any, bool) {
	if arr, ok := obj["deals"].([]any); ok && allObjects(arr) {
		return arr, true
	}
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if arr, ok := obj[k].([]any); ok && allObjects(arr) {
			return arr, true
		}
	}
	return nil, false
}

func allObjects(arr []any) bool {
	if len(arr) == 0 {
		return false
	}
	for _, el := range arr {
		if _, ok := el.(map[string]any); !ok {
			return false
		}
	}
	return true
}

func toRawDeals(arr []any) ([]model.RawDeal, error) {
	if !allObjects(arr) {
		return nil, ErrUnexpectedShape
	}
	b, err := json.Marshal(arr)
	if err != nil {
		return nil, fmt.Errorf("re-encode deals: %w", err)
	}
	var deals []model.RawDeal
	if err := json.Unmarshal(b, &deals); err != nil {
		return nil, fmt.Errorf("decode deals: %w", err)
	}
	return deals, nil
}
