// Package model defines the domain types used across the application.
package model

import "time"

// Market identifies an upstream marketplace.
type Market string

// Integrated marketplaces.
const (
	MarketYahoo   Market = "yahoo"
	MarketMercari Market = "mercari"
)

// ListingType distinguishes auction listings from fixed-price ones.
type ListingType string

// Supported listing types.
const (
	TypeAuction ListingType = "auction"
	TypeFixed   ListingType = "fixed"
)

// Listing represents one discovered marketplace item.
// Identity is (Market, ExternalID); everything else is a snapshot taken
// the first time the item was observed.
type Listing struct {
	ID         int64       `json:"id"`
	Market     Market      `json:"market"`
	ExternalID string      `json:"external_id"`
	Title      string      `json:"title"`
	PriceJPY   int64       `json:"price_jpy"`
	Brand      string      `json:"brand,omitempty"` // empty when no brand was detected
	URL        string      `json:"url"`
	ImageURL   string      `json:"image_url,omitempty"`
	Type       ListingType `json:"type"`
	SellerID   string      `json:"seller_id,omitempty"`
	FirstSeen  time.Time   `json:"first_seen"`
	LastSeen   time.Time   `json:"last_seen"`
}

// Key returns the dedup identity of the listing.
func (l Listing) Key() ListingKey {
	return ListingKey{Market: l.Market, ExternalID: l.ExternalID}
}

// ListingKey is the (market, external id) identity pair.
type ListingKey struct {
	Market     Market
	ExternalID string
}

// UserFilter is a saved search owned by one recipient. Unset dimensions
// (empty lists, nil price bounds) match anything.
type UserFilter struct {
	ID        int64     `json:"id"`
	OwnerID   int64     `json:"owner_id"` // Telegram user id of the recipient
	Name      string    `json:"name"`
	Brands    []string  `json:"brands,omitempty"`
	Keywords  []string  `json:"keywords,omitempty"`
	PriceMin  *int64    `json:"price_min,omitempty"`
	PriceMax  *int64    `json:"price_max,omitempty"`
	Markets   []Market  `json:"markets,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AlertRecord is durable proof that a listing was delivered to a recipient.
type AlertRecord struct {
	ListingID   int64
	RecipientID int64
	FilterID    *int64 // nil for broadcast deliveries
	SentAt      time.Time
}

// BatchStats reports the outcome of a batch save.
type BatchStats struct {
	Saved      int
	Duplicates int
}
