// Package paginate walks newest-first search result pages and decides
// when to stop fetching.
package paginate

import (
	"context"
	"fmt"
	"log/slog"

	"swagsearch/internal/marketplace"
	"swagsearch/internal/model"
)

// StopReason explains why a pagination run ended.
type StopReason string

const (
	// StopExhausted means the source ran out of results: a short page
	// or no continuation state.
	StopExhausted StopReason = "exhausted"
	// StopDuplicate means a listing already known to the store was
	// reached. Pages are newest first, so everything after it is known.
	StopDuplicate StopReason = "duplicate"
	// StopPageCap means the per-keyword page ceiling was hit.
	StopPageCap StopReason = "page_cap"
	// StopFailed means a page fetch failed; collected listings from
	// earlier pages are still returned.
	StopFailed StopReason = "failed"
)

// A page is treated as the last one when it holds less than 90% of the
// source's nominal page size.
const fullPagePct = 90

// Store is the seen-listing lookup the controller consults.
type Store interface {
	ListingExists(ctx context.Context, market model.Market, externalID string) (bool, error)
}

// Result is the outcome of one pagination run. Listings are in page
// order, newest first, and contain only items not yet known to the store.
type Result struct {
	Listings []model.Listing
	Pages    int
	Reason   StopReason
}

// Controller runs sequential pagination against one marketplace source.
type Controller struct {
	store    Store
	maxPages int
	log      *slog.Logger
}

// New creates a Controller with the given page ceiling.
func New(store Store, maxPages int, log *slog.Logger) *Controller {
	if maxPages < 1 {
		maxPages = 1
	}
	return &Controller{store: store, maxPages: maxPages, log: log}
}

// Run fetches pages for the keyword until the source is exhausted, a
// known listing appears, the page cap is reached, or a fetch fails.
// Pages are strictly sequential; page n+1 is never requested once a
// stop condition fires on page n.
func (c *Controller) Run(ctx context.Context, source marketplace.PageFetcher, keyword string) (Result, error) {
	var res Result
	state := marketplace.PageState{}

	for pageNum := 1; pageNum <= c.maxPages; pageNum++ {
		if err := ctx.Err(); err != nil {
			res.Reason = StopFailed
			return res, err
		}

		state.Number = pageNum
		page, err := source.FetchPage(ctx, keyword, state)
		if err != nil {
			res.Reason = StopFailed
			return res, fmt.Errorf("fetch page %d of %s for %q: %w", pageNum, source.Market(), keyword, err)
		}
		res.Pages++

		for _, l := range page.Listings {
			seen, err := c.store.ListingExists(ctx, l.Market, l.ExternalID)
			if err != nil {
				// A broken lookup must not silence new listings; the
				// save path dedupes anyway.
				c.log.Warn("seen lookup failed, treating as new",
					"market", l.Market, "external_id", l.ExternalID, "error", err)
				seen = false
			}
			if seen {
				c.log.Debug("stopping at known listing",
					"market", source.Market(), "keyword", keyword, "page", pageNum)
				res.Reason = StopDuplicate
				return res, nil
			}
			res.Listings = append(res.Listings, l)
		}

		if page.Next == nil || len(page.Listings)*100 < source.PageSize()*fullPagePct {
			res.Reason = StopExhausted
			return res, nil
		}
		state = *page.Next
	}

	res.Reason = StopPageCap
	return res, nil
}
