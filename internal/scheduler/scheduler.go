// Package scheduler drives the scan cycle: fetch new listings per brand
// and market, persist them, match filters, and dispatch alerts.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"swagsearch/internal/alert"
	"swagsearch/internal/filter"
	"swagsearch/internal/marketplace"
	"swagsearch/internal/model"
	"swagsearch/internal/paginate"
	"swagsearch/internal/storage"
)

// Router dispatches new listings to their recipients.
type Router interface {
	Dispatch(ctx context.Context, listings []model.Listing, matches map[int64][]filter.Match) alert.Stats
}

// Source pairs one marketplace with its pagination controller.
type Source struct {
	Fetcher marketplace.PageFetcher
	Pager   *paginate.Controller
}

// Scheduler runs scan cycles at a fixed interval until cancelled.
type Scheduler struct {
	store   storage.Storage
	sources []Source
	router  Router
	log     *slog.Logger

	interval time.Duration
	brands   []string
	perCycle int
	cursor   int
}

// New creates a Scheduler scanning the given brand list.
func New(store storage.Storage, sources []Source, router Router, brands []string, perCycle int, interval time.Duration, log *slog.Logger) *Scheduler {
	if perCycle <= 0 || perCycle > len(brands) {
		perCycle = len(brands)
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Scheduler{
		store:    store,
		sources:  sources,
		router:   router,
		brands:   brands,
		perCycle: perCycle,
		interval: interval,
		log:      log,
	}
}

// SetInterval overrides the default cycle interval.
func (s *Scheduler) SetInterval(d time.Duration) {
	s.interval = d
}

// Run starts the cycle loop, blocking until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.runCycle(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runCycle(ctx)
		}
	}
}

// runCycle scans the next brand window across all sources and
// dispatches alerts for the listings the scan inserted.
func (s *Scheduler) runCycle(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	start := time.Now()
	brands := s.nextBrands()
	if len(brands) == 0 {
		s.log.Warn("no brands configured, skipping cycle")
		return
	}
	s.log.Info("cycle start", "brands", brands)

	fresh, stats := s.collect(ctx, brands)

	filters, err := s.store.ListActiveFilters(ctx)
	if err != nil {
		s.log.Error("list active filters", "error", err)
		return
	}

	matches := filter.MatchBatch(fresh, filters)
	sent := s.router.Dispatch(ctx, fresh, matches)

	s.log.Info("cycle done",
		"duration", time.Since(start).Round(time.Millisecond),
		"saved", stats.Saved,
		"duplicates", stats.Duplicates,
		"alerts_sent", sent.Sent,
		"alerts_skipped", sent.Skipped,
		"alerts_refused", sent.Refused,
		"alerts_unreachable", sent.Unreachable,
	)
}

// collect paginates every brand on every source and persists each
// keyword's results as soon as its own pagination completes, so a
// cancellation or crash mid-cycle never discards finished keywords.
// Brand/market pairs run concurrently; pages within one pair stay
// sequential, and the shared rate limiters bound the cross-pair
// pressure per domain. A failed pair only costs its own listings.
// Returned are the listings this cycle inserted, ready for dispatch.
func (s *Scheduler) collect(ctx context.Context, brands []string) ([]model.Listing, model.BatchStats) {
	var mu sync.Mutex
	var fresh []model.Listing
	var stats model.BatchStats

	var g errgroup.Group
	for _, src := range s.sources {
		for _, brand := range brands {
			src, brand := src, brand
			g.Go(func() error {
				if ctx.Err() != nil {
					return nil
				}
				res, err := src.Pager.Run(ctx, src.Fetcher, brand)
				if err != nil {
					s.log.Error("pagination failed",
						"market", src.Fetcher.Market(), "brand", brand, "error", err)
				}
				s.log.Debug("brand scanned",
					"market", src.Fetcher.Market(), "brand", brand,
					"pages", res.Pages, "listings", len(res.Listings), "stop", res.Reason)

				inserted, batch, err := s.store.SaveListings(ctx, res.Listings)
				if err != nil {
					s.log.Error("save listings",
						"market", src.Fetcher.Market(), "brand", brand, "error", err)
					return nil
				}

				mu.Lock()
				fresh = append(fresh, inserted...)
				stats.Saved += batch.Saved
				stats.Duplicates += batch.Duplicates
				mu.Unlock()
				return nil
			})
		}
	}
	_ = g.Wait()
	return fresh, stats
}

// nextBrands returns the next rotating window over the brand list, so
// every brand gets scanned within len(brands)/perCycle cycles.
func (s *Scheduler) nextBrands() []string {
	if len(s.brands) == 0 {
		return nil
	}
	out := make([]string, 0, s.perCycle)
	for i := 0; i < s.perCycle; i++ {
		out = append(out, s.brands[(s.cursor+i)%len(s.brands)])
	}
	s.cursor = (s.cursor + s.perCycle) % len(s.brands)
	return out
}
