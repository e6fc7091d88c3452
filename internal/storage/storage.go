// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"

	"swagsearch/internal/model"
)

// ListingQuery selects a page of stored listings for read-only views.
type ListingQuery struct {
	Market model.Market // empty matches all markets
	Brand  string       // empty matches all brands
	SortBy string       // "first_seen" (default) or "price"
	Desc   bool
	Limit  int
	Offset int
}

// Storage is the interface for all persistence operations.
type Storage interface {
	// SaveListings persists a batch and returns the subset it inserted,
	// with database IDs assigned. Already-stored listings only get their
	// last_seen refreshed.
	SaveListings(ctx context.Context, listings []model.Listing) ([]model.Listing, model.BatchStats, error)
	ListingExists(ctx context.Context, market model.Market, externalID string) (bool, error)
	QueryListings(ctx context.Context, q ListingQuery) ([]model.Listing, error)

	CreateFilter(ctx context.Context, f *model.UserFilter) error
	GetFilter(ctx context.Context, id int64) (*model.UserFilter, error)
	ListActiveFilters(ctx context.Context) ([]model.UserFilter, error)
	ListFiltersByOwner(ctx context.Context, ownerID int64) ([]model.UserFilter, error)
	UpdateFilter(ctx context.Context, f *model.UserFilter) error
	DeleteFilter(ctx context.Context, id int64) error

	WasAlertSent(ctx context.Context, listingID, recipientID int64) (bool, error)
	RecordAlert(ctx context.Context, rec *model.AlertRecord) (bool, error)

	Close() error
}
