package catalog_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"dealscout/deal-service/internal/catalog"
)

func TestFallback_SixFixedDeals(t *testing.T) {
	deals := catalog.Fallback()
	require.Len(t, deals, 6)
	require.Equal(t, 6, catalog.Len())

	wantTitles := []string{
		"Apple AirPods Pro (2nd Gen)",
		"Ninja 10-in-1 Air Fryer Oven",
		"Threshold 6-Cube Storage Organizer",
		"Instant Pot Duo 7-in-1 6Qt",
		"LEGO Creator 3-in-1 Space Shuttle",
		"Samsung 55-inch 4K UHD Smart TV",
	}
	for i, d := range deals {
		require.Equal(t, wantTitles[i], d.Title.String())
	}
}

func TestFallback_ReturnsCopy(t *testing.T) {
	first := catalog.Fallback()
	first[0].Title = nil

	second := catalog.Fallback()
	require.NotNil(t, second[0].Title)
	require.Equal(t, "Apple AirPods Pro (2nd Gen)", second[0].Title.String())
}

func TestFallback_ConsistentPricing(t *testing.T) {
	for _, d := range catalog.Fallback() {
		price, ok := d.Price.Float()
		require.True(t, ok)
		orig, ok := d.OriginalPrice.Float()
		require.True(t, ok)
		require.LessOrEqual(t, price, orig, d.Title.String())

		pct, ok := d.DiscountPercent.Int()
		require.True(t, ok)
		require.GreaterOrEqual(t, pct, 0)
		require.LessOrEqual(t, pct, 95)
	}
}
