// Package alert routes new listings to their recipients with
// at-most-once delivery per (listing, recipient) pair.
package alert

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"swagsearch/internal/filter"
	"swagsearch/internal/model"
)

// ErrRefused marks a delivery the recipient actively refused, for
// example a user who blocked the bot. Senders wrap their platform
// error with it so the router can tell refusals from outages.
var ErrRefused = errors.New("recipient refused delivery")

// Sender delivers one listing alert to a chat.
type Sender interface {
	SendListing(ctx context.Context, chatID int64, l model.Listing, filterName string) error
}

// Ledger is the durable delivery record the router consults and writes.
type Ledger interface {
	WasAlertSent(ctx context.Context, listingID, recipientID int64) (bool, error)
	RecordAlert(ctx context.Context, rec *model.AlertRecord) (bool, error)
}

// Stats summarizes one dispatch run.
type Stats struct {
	Sent        int
	Skipped     int // already in the ledger
	Refused     int // recipient rejected the message
	Unreachable int // transport or platform failure
}

// Routes names the channel destinations for new listings. Broadcast
// receives every listing; ByBrand adds a brand-specific channel on top,
// keyed by lowercased brand name.
type Routes struct {
	Broadcast int64 // 0 disables the broadcast channel
	ByBrand   map[string]int64
}

// channelsFor resolves the channel destinations of one listing.
func (r Routes) channelsFor(l model.Listing) []int64 {
	var out []int64
	if r.Broadcast != 0 {
		out = append(out, r.Broadcast)
	}
	if chat, ok := r.ByBrand[strings.ToLower(l.Brand)]; ok && chat != 0 && chat != r.Broadcast {
		out = append(out, chat)
	}
	return out
}

// Router fans new listings out to the channel destinations and to
// matched recipients. Deliveries fail independently; one blocked user
// never stalls the rest of the run.
type Router struct {
	sender   Sender
	ledger   Ledger
	routes   Routes
	minDelay time.Duration
	log      *slog.Logger

	mu       sync.Mutex
	lastSend map[int64]time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Router. minDelay is the per-destination send spacing.
func New(sender Sender, ledger Ledger, routes Routes, minDelay time.Duration, log *slog.Logger) *Router {
	lowered := make(map[string]int64, len(routes.ByBrand))
	for brand, chat := range routes.ByBrand {
		lowered[strings.ToLower(brand)] = chat
	}
	routes.ByBrand = lowered

	return &Router{
		sender:   sender,
		ledger:   ledger,
		routes:   routes,
		minDelay: minDelay,
		log:      log,
		lastSend: make(map[int64]time.Time),
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

// Dispatch sends every listing to its channel destinations and every
// match to its filter owner. Each delivery is checked against the
// ledger before sending and recorded only after the platform confirmed it.
func (r *Router) Dispatch(ctx context.Context, listings []model.Listing, matches map[int64][]filter.Match) Stats {
	var stats Stats

	for _, l := range listings {
		for _, chat := range r.routes.channelsFor(l) {
			if err := ctx.Err(); err != nil {
				return stats
			}
			r.deliver(ctx, chat, l, nil, "", &stats)
		}
	}

	for ownerID, hits := range matches {
		for _, hit := range hits {
			if err := ctx.Err(); err != nil {
				return stats
			}
			filterID := hit.Filter.ID
			r.deliver(ctx, ownerID, hit.Listing, &filterID, hit.Filter.Name, &stats)
		}
	}
	return stats
}

func (r *Router) deliver(ctx context.Context, chatID int64, l model.Listing, filterID *int64, filterName string, stats *Stats) {
	sent, err := r.ledger.WasAlertSent(ctx, l.ID, chatID)
	if err != nil {
		// Without a readable ledger a duplicate is possible; hold the
		// message rather than risk double delivery.
		r.log.Error("ledger lookup failed, holding alert",
			"listing_id", l.ID, "recipient", chatID, "error", err)
		stats.Unreachable++
		return
	}
	if sent {
		stats.Skipped++
		return
	}

	if err := r.waitTurn(ctx, chatID); err != nil {
		return
	}

	if err := r.sender.SendListing(ctx, chatID, l, filterName); err != nil {
		if errors.Is(err, ErrRefused) {
			stats.Refused++
			r.log.Warn("recipient refused alert", "recipient", chatID, "listing_id", l.ID)
		} else {
			stats.Unreachable++
			r.log.Warn("alert delivery failed", "recipient", chatID, "listing_id", l.ID, "error", err)
		}
		return
	}

	inserted, err := r.ledger.RecordAlert(ctx, &model.AlertRecord{
		ListingID:   l.ID,
		RecipientID: chatID,
		FilterID:    filterID,
	})
	if err != nil {
		// Delivered but not recorded; the next cycle may resend. Log
		// loudly so the window is visible.
		r.log.Error("alert sent but not recorded",
			"listing_id", l.ID, "recipient", chatID, "error", err)
	}
	if !inserted && err == nil {
		r.log.Debug("lost record race after send", "listing_id", l.ID, "recipient", chatID)
	}
	stats.Sent++
}

// waitTurn enforces the per-destination minimum spacing. The reserved
// slot is taken before sleeping so another goroutine cannot claim the
// same window.
func (r *Router) waitTurn(ctx context.Context, chatID int64) error {
	if r.minDelay <= 0 {
		return nil
	}

	r.mu.Lock()
	now := r.now()
	next := r.lastSend[chatID].Add(r.minDelay)
	if next.Before(now) {
		next = now
	}
	r.lastSend[chatID] = next
	wait := next.Sub(now)
	r.mu.Unlock()

	if wait <= 0 {
		return nil
	}
	return r.sleep(ctx, wait)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
