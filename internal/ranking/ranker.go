package ranking

import (
	"sort"

	"dealscout/deal-service/internal/model"
)

// DefaultTopK is how many recommendations a device receives.
const DefaultTopK = 12

const (
	categoryWeight = 15
	keywordWeight  = 10
	favoriteBonus  = 18
)

// Score is the recommendation score of deal for one device: its discount,
// plus 15×priority per interest whose category matches, plus 10×priority
// per interest whose keyword is in the title, plus 18 when the deal's
// category is one the device has favorited.
func Score(deal model.Deal, interests []model.UserInterest, favoriteCategories map[string]struct{}) float64 {
	score := float64(deal.DiscountPercent)
	for _, in := range interests {
		if sameCategory(deal.Category, in.Category) {
			score += float64(categoryWeight * in.Priority)
		}
		if titleHasKeyword(deal.Title, in.Keyword) {
			score += float64(keywordWeight * in.Priority)
		}
	}
	if _, ok := favoriteCategories[deal.Category]; ok {
		score += favoriteBonus
	}
	return score
}

// Rank orders deals by Score, highest first, and keeps the first topK.
// Equal scores keep their input order. topK <= 0 means DefaultTopK. The
// inputs are not modified.
func Rank(interests []model.UserInterest, favoriteCategories map[string]struct{}, deals []model.Deal, topK int) []model.Deal {
	if topK <= 0 {
		topK = DefaultTopK
	}

	type scored struct {
		deal  model.Deal
		score float64
	}
	all := make([]scored, len(deals))
	for i, d := range deals {
		all[i] = scored{deal: d, score: Score(d, interests, favoriteCategories)}
	}

	sort.SliceStable(all, func(i, j int) bool { return all[i].score > all[j].score })

	if len(all) > topK {
		all = all[:topK]
	}
	out := make([]model.Deal, len(all))
	for i, s := range all {
		out[i] = s.deal
	}
	return out
}

// FavoriteSet builds the favorite-category set from a device's favorites.
func FavoriteSet(favorites []model.FavoriteDeal) map[string]struct{} {
	set := make(map[string]struct{}, len(favorites))
	for _, f := range favorites {
		set[f.Deal.Category] = struct{}{}
	}
	return set
}
