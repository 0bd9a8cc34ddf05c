// Package ranking scores active deals against a device's interests and
// favorites.
package ranking

import "strings"

// sameCategory reports whether two category names are equal ignoring case.
func sameCategory(a, b string) bool {
	return strings.ToLower(a) == strings.ToLower(b)
}

// titleHasKeyword reports whether keyword appears (case-insensitive)
// anywhere in title. An empty keyword matches every title.
func titleHasKeyword(title, keyword string) bool {
	return strings.Contains(strings.ToLower(title), strings.ToLower(keyword))
}
