// Package filter implements listing matching against saved user filters.
package filter

import (
	"strings"

	"swagsearch/internal/model"
)

// Matches checks whether a listing satisfies a filter. Every dimension
// is permissive when unset; set dimensions must all pass.
func Matches(l model.Listing, f model.UserFilter) bool {
	return matchBrand(l, f.Brands) &&
		matchPrice(l.PriceJPY, f.PriceMin, f.PriceMax) &&
		matchMarket(l.Market, f.Markets) &&
		matchKeywords(l.Title, f.Keywords)
}

// MatchBatch matches every listing against every active filter and
// groups the hits by filter owner.
func MatchBatch(listings []model.Listing, filters []model.UserFilter) map[int64][]Match {
	out := make(map[int64][]Match)
	for _, l := range listings {
		for _, f := range filters {
			if !f.Active {
				continue
			}
			if Matches(l, f) {
				out[f.OwnerID] = append(out[f.OwnerID], Match{Listing: l, Filter: f})
			}
		}
	}
	return out
}

// Match pairs a listing with the filter it satisfied.
type Match struct {
	Listing model.Listing
	Filter  model.UserFilter
}

// matchBrand compares case-insensitively in both directions, so a saved
// "Rick Owens" matches a listing branded "Rick Owens DRKSHDW" and a
// saved "Rick Owens DRKSHDW" matches a listing branded "Rick Owens".
func matchBrand(l model.Listing, brands []string) bool {
	if len(brands) == 0 {
		return true
	}
	listingBrand := strings.ToLower(l.Brand)
	if listingBrand == "" {
		return false
	}
	for _, b := range brands {
		want := strings.ToLower(b)
		if strings.Contains(listingBrand, want) || strings.Contains(want, listingBrand) {
			return true
		}
	}
	return false
}

func matchPrice(price int64, min, max *int64) bool {
	if min != nil && price < *min {
		return false
	}
	if max != nil && price > *max {
		return false
	}
	return true
}

func matchMarket(market model.Market, markets []model.Market) bool {
	if len(markets) == 0 {
		return true
	}
	for _, m := range markets {
		if m == market {
			return true
		}
	}
	return false
}

// matchKeywords passes when any keyword appears in the title.
func matchKeywords(title string, keywords []string) bool {
	if len(keywords) == 0 {
		return true
	}
	lower := strings.ToLower(title)
	for _, kw := range keywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
