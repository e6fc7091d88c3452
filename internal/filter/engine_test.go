package filter

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"swagsearch/internal/model"
)

func ptr(v int64) *int64 { return &v }

func listing() model.Listing {
	return model.Listing{
		Market:     model.MarketYahoo,
		ExternalID: "u1",
		Title:      "Rick Owens DRKSHDW bomber jacket sz 48",
		PriceJPY:   35000,
		Brand:      "Rick Owens DRKSHDW",
	}
}

func TestMatches(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*model.Listing)
		filter model.UserFilter
		want   bool
	}{
		{
			name: "all dimensions set and satisfied",
			filter: model.UserFilter{
				Brands:   []string{"Rick Owens"},
				PriceMin: ptr(20000),
				PriceMax: ptr(50000),
				Markets:  []model.Market{model.MarketYahoo},
			},
			want: true,
		},
		{
			name:   "empty filter matches everything",
			filter: model.UserFilter{},
			want:   true,
		},
		{
			name: "wrong market",
			filter: model.UserFilter{
				Brands:  []string{"Rick Owens"},
				Markets: []model.Market{model.MarketMercari},
			},
			want: false,
		},
		{
			name:   "brand substring forward",
			filter: model.UserFilter{Brands: []string{"rick owens"}},
			want:   true,
		},
		{
			name: "brand substring reverse",
			mutate: func(l *model.Listing) {
				l.Brand = "Rick Owens"
			},
			filter: model.UserFilter{Brands: []string{"Rick Owens DRKSHDW"}},
			want:   true,
		},
		{
			name:   "brand mismatch",
			filter: model.UserFilter{Brands: []string{"Raf Simons"}},
			want:   false,
		},
		{
			name: "brandless listing fails a brand filter",
			mutate: func(l *model.Listing) {
				l.Brand = ""
			},
			filter: model.UserFilter{Brands: []string{"Rick Owens"}},
			want:   false,
		},
		{
			name:   "price below minimum",
			filter: model.UserFilter{PriceMin: ptr(40000)},
			want:   false,
		},
		{
			name:   "price above maximum",
			filter: model.UserFilter{PriceMax: ptr(30000)},
			want:   false,
		},
		{
			name:   "price at bound",
			filter: model.UserFilter{PriceMin: ptr(35000), PriceMax: ptr(35000)},
			want:   true,
		},
		{
			name:   "only min bound set",
			filter: model.UserFilter{PriceMin: ptr(10000)},
			want:   true,
		},
		{
			name:   "keyword hit is case-insensitive",
			filter: model.UserFilter{Keywords: []string{"BOMBER"}},
			want:   true,
		},
		{
			name:   "any keyword suffices",
			filter: model.UserFilter{Keywords: []string{"tabi", "bomber"}},
			want:   true,
		},
		{
			name:   "no keyword hit",
			filter: model.UserFilter{Keywords: []string{"tabi", "derby"}},
			want:   false,
		},
		{
			name: "one failing dimension fails the filter",
			filter: model.UserFilter{
				Brands:   []string{"Rick Owens"},
				Keywords: []string{"tabi"},
			},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := listing()
			if tt.mutate != nil {
				tt.mutate(&l)
			}
			if got := Matches(l, tt.filter); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMatchBatch(t *testing.T) {
	rick := listing()
	raf := model.Listing{
		Market:     model.MarketMercari,
		ExternalID: "m1",
		Title:      "Raf Simons parachute bag",
		PriceJPY:   48000,
		Brand:      "Raf Simons",
	}

	filters := []model.UserFilter{
		{ID: 1, OwnerID: 100, Brands: []string{"Rick Owens"}, Active: true},
		{ID: 2, OwnerID: 200, Brands: []string{"Raf Simons"}, Active: true},
		{ID: 3, OwnerID: 300, Brands: []string{"Rick Owens"}, Active: false},
		{ID: 4, OwnerID: 100, Markets: []model.Market{model.MarketMercari}, Active: true},
	}

	got := MatchBatch([]model.Listing{rick, raf}, filters)

	want := map[int64][]Match{
		100: {
			{Listing: rick, Filter: filters[0]},
			{Listing: raf, Filter: filters[3]},
		},
		200: {
			{Listing: raf, Filter: filters[1]},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("MatchBatch mismatch (-want +got):\n%s", diff)
	}
	if _, ok := got[300]; ok {
		t.Error("inactive filters must not match")
	}
}
