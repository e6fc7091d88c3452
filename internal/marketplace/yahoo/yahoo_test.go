package yahoo

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"swagsearch/internal/fetcher"
	"swagsearch/internal/marketplace"
	"swagsearch/internal/model"
)

const resultsHTML = `
<html><body><ul>
<li class="Product">
  <a class="Product__titleLink" href="https://auctions.yahoo.co.jp/auction/u1234567890">Rick Owens DRKSHDW bomber jacket</a>
  <span class="Product__priceValue">35,000円</span>
  <img src="https://img.example.jp/u1234567890.jpg">
  <a href="https://auctions.yahoo.co.jp/seller?sellerID=tokyovintage">seller</a>
</li>
<li class="Product">
  <a class="Product__titleLink" href="/auction/x555">Yohji Yamamoto coat 即決</a>
  <span class="Product__priceValue">12,800円</span>
</li>
<li class="Product">
  <span class="Product__priceValue">9,999円</span>
</li>
<li class="Product">
  <a class="Product__titleLink" href="/auction/n777">no price here</a>
</li>
</ul></body></html>`

type stubDoer struct {
	resp    *fetcher.Response
	err     error
	lastURL *url.URL
}

func (s *stubDoer) Do(_ context.Context, req *http.Request) (*fetcher.Response, error) {
	s.lastURL = req.URL
	return s.resp, s.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFetchPageParsesListings(t *testing.T) {
	doer := &stubDoer{resp: &fetcher.Response{Body: []byte(resultsHTML), StatusCode: 200}}
	c := New(doer, 50, testLogger())
	fixed := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return fixed }

	page, err := c.FetchPage(context.Background(), "Rick Owens", marketplace.PageState{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []model.Listing{
		{
			Market:     model.MarketYahoo,
			ExternalID: "u1234567890",
			Title:      "Rick Owens DRKSHDW bomber jacket",
			PriceJPY:   35000,
			Brand:      "Rick Owens",
			URL:        "https://auctions.yahoo.co.jp/auction/u1234567890",
			ImageURL:   "https://img.example.jp/u1234567890.jpg",
			Type:       model.TypeAuction,
			SellerID:   "tokyovintage",
			FirstSeen:  fixed,
			LastSeen:   fixed,
		},
		{
			Market:     model.MarketYahoo,
			ExternalID: "x555",
			Title:      "Yohji Yamamoto coat 即決",
			PriceJPY:   12800,
			Brand:      "Rick Owens",
			URL:        "https://auctions.yahoo.co.jp/auction/x555",
			Type:       model.TypeFixed,
			FirstSeen:  fixed,
			LastSeen:   fixed,
		},
	}
	if diff := cmp.Diff(want, page.Listings); diff != "" {
		t.Errorf("listings mismatch (-want +got):\n%s", diff)
	}
	if page.Next == nil || page.Next.Number != 2 {
		t.Errorf("expected next page state 2, got %+v", page.Next)
	}
}

func TestFetchPageEmptyResultsEndPagination(t *testing.T) {
	doer := &stubDoer{resp: &fetcher.Response{Body: []byte("<html><body></body></html>"), StatusCode: 200}}
	c := New(doer, 50, testLogger())

	page, err := c.FetchPage(context.Background(), "Rick Owens", marketplace.PageState{Number: 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(page.Listings) != 0 {
		t.Errorf("expected no listings, got %d", len(page.Listings))
	}
	if page.Next != nil {
		t.Errorf("expected terminal page, got next %+v", page.Next)
	}
}

func TestSearchURL(t *testing.T) {
	tests := []struct {
		name string
		page int
		want map[string]string
	}{
		{
			name: "first page",
			page: 1,
			want: map[string]string{
				"p": "Rick Owens", "va": "Rick Owens", "fixed": "3",
				"b": "1", "n": "50", "s1": "new", "o1": "d",
			},
		},
		{
			name: "second page offsets by page size",
			page: 2,
			want: map[string]string{"b": "51", "n": "50"},
		},
	}

	c := New(&stubDoer{}, 50, testLogger())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := url.Parse(c.searchURL("Rick Owens", tt.page))
			if err != nil {
				t.Fatalf("parse url: %v", err)
			}
			q := u.Query()
			for k, want := range tt.want {
				if got := q.Get(k); got != want {
					t.Errorf("param %s = %q, want %q", k, got, want)
				}
			}
		})
	}
}

func TestAuctionID(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want string
	}{
		{"auction path", "https://auctions.yahoo.co.jp/auction/x123456", "x123456"},
		{"auction path with query", "https://auctions.yahoo.co.jp/auction/u987654?from=search", "u987654"},
		{"aID parameter", "https://page.auctions.yahoo.co.jp/jp/show?aID=b4567890&x=1", "b4567890"},
		{"numeric gets u prefix", "https://auctions.yahoo.co.jp/auction/1234567890", "u1234567890"},
		{"no id", "https://auctions.yahoo.co.jp/", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := auctionID(tt.url); got != tt.want {
				t.Errorf("auctionID(%q) = %q, want %q", tt.url, got, tt.want)
			}
		})
	}
}

func TestListingType(t *testing.T) {
	tests := []struct {
		title string
		want  model.ListingType
	}{
		{"Rick Owens jacket 即決", model.TypeFixed},
		{"Margiela boots 定額", model.TypeFixed},
		{"Raf Simons parka", model.TypeAuction},
	}
	for _, tt := range tests {
		if got := listingType(tt.title); got != tt.want {
			t.Errorf("listingType(%q) = %v, want %v", tt.title, got, tt.want)
		}
	}
}

func TestFetchPagePropagatesFetchError(t *testing.T) {
	doer := &stubDoer{err: io.ErrUnexpectedEOF}
	c := New(doer, 50, testLogger())

	_, err := c.FetchPage(context.Background(), "Rick Owens", marketplace.PageState{})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}
