// Package catalog holds the fixed set of deals served when the completion
// gateway cannot produce any.
package catalog

import "dealscout/deal-service/internal/model"

var fallback = []model.DealFields{
	{
		Title:           "Apple AirPods Pro (2nd Gen)",
		Marketplace:     "Amazon",
		Category:        "Electronics",
		Price:           189.99,
		OriginalPrice:   249.99,
		DiscountPercent: 24,
		ProductURL:      "https://amazon.com/deal/airpods-pro",
		ImageURL:        "https://images.unsplash.com/photo-1606220838315-056192d5e927",
	},
	{
		Title:           "Ninja 10-in-1 Air Fryer Oven",
		Marketplace:     "Walmart",
		Category:        "Home & Kitchen",
		Price:           139.0,
		OriginalPrice:   229.0,
		DiscountPercent: 39,
		ProductURL:      "https://walmart.com/deal/ninja-air-fryer",
		ImageURL:        "https://images.unsplash.com/photo-1614495039368-525273956716",
	},
	{
		Title:           "Threshold 6-Cube Storage Organizer",
		Marketplace:     "Target",
		Category:        "Home",
		Price:           64.0,
		OriginalPrice:   90.0,
		DiscountPercent: 29,
		ProductURL:      "https://target.com/deal/storage-organizer",
		ImageURL:        "https://images.unsplash.com/photo-1484101403633-562f891dc89a",
	},
	{
		Title:           "Instant Pot Duo 7-in-1 6Qt",
		Marketplace:     "Amazon",
		Category:        "Kitchen",
		Price:           69.95,
		OriginalPrice:   119.95,
		DiscountPercent: 42,
		ProductURL:      "https://amazon.com/deal/instant-pot",
		ImageURL:        "https://images.unsplash.com/photo-1585238342024-78d387f4a707",
	},
	{
		Title:           "LEGO Creator 3-in-1 Space Shuttle",
		Marketplace:     "Target",
		Category:        "Toys",
		Price:           31.49,
		OriginalPrice:   44.99,
		DiscountPercent: 30,
		ProductURL:      "https://target.com/deal/lego-space-shuttle",
		ImageURL:        "https://images.unsplash.com/photo-1587654780291-39c9404d746b",
	},
	{
		Title:           "Samsung 55-inch 4K UHD Smart TV",
		Marketplace:     "Walmart",
		Category:        "Electronics",
		Price:           348.0,
		OriginalPrice:   498.0,
		DiscountPercent: 30,
		ProductURL:      "https://walmart.com/deal/samsung-55-4k",
		ImageURL:        "https://images.unsplash.com/photo-1593784991095-a205069470b6",
	},
}

// Fallback returns a fresh copy of the fallback deals as raw candidates, in
// catalog order. Callers may modify the result.
func Fallback() []model.RawDeal {
	out := make([]model.RawDeal, 0, len(fallback))
	for _, f := range fallback {
		out = append(out, model.RawFromFields(f))
	}
	return out
}

// Len is the number of fallback deals.
func Len() int { return len(fallback) }
