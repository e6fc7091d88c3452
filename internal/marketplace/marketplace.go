// Package marketplace defines the upstream surface shared by all
// marketplace adapters.
package marketplace

import (
	"context"
	"net/http"

	"swagsearch/internal/fetcher"
	"swagsearch/internal/model"
)

// Doer performs one resilient HTTP request. Satisfied by *fetcher.Fetcher.
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*fetcher.Response, error)
}

// PageState addresses one result page. The zero value means the first
// page. Number is 1-based; Token is an opaque continuation token for
// sources that paginate by cursor rather than offset.
type PageState struct {
	Number int
	Token  string
}

// Page is one fetched result page, newest listings first. Next is nil
// when the source reports no further pages.
type Page struct {
	Listings []model.Listing
	Next     *PageState
}

// PageFetcher fetches search result pages for one marketplace.
type PageFetcher interface {
	Market() model.Market
	// PageSize is the nominal number of items per full page.
	PageSize() int
	FetchPage(ctx context.Context, keyword string, state PageState) (Page, error)
}
