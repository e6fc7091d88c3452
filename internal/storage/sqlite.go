package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"swagsearch/internal/model"
	"swagsearch/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

// Pair-lookup queries stay well under SQLite's bound-variable ceiling
// with this chunk size.
const lookupChunk = 200

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=OFF"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("disable foreign keys: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// SaveListings stores a batch in one transaction: unseen listings are
// inserted in bulk, already-known ones get their last_seen refreshed in
// bulk. The inserted listings are returned with their database IDs set,
// so callers dispatch on what this call actually inserted and never
// depend on re-deriving "new" afterwards; a racing saver touching the
// same rows cannot make them disappear from the inserter's view.
func (s *SQLite) SaveListings(ctx context.Context, listings []model.Listing) ([]model.Listing, model.BatchStats, error) {
	var stats model.BatchStats
	if len(listings) == 0 {
		return nil, stats, nil
	}

	// Collapse within-batch duplicates first; two pages can overlap.
	unique := make([]model.Listing, 0, len(listings))
	byKey := make(map[model.ListingKey]struct{}, len(listings))
	for _, l := range listings {
		if _, ok := byKey[l.Key()]; ok {
			continue
		}
		byKey[l.Key()] = struct{}{}
		unique = append(unique, l)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, stats, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	seen, err := existingKeys(ctx, tx, unique)
	if err != nil {
		return nil, stats, err
	}

	var fresh, known []model.Listing
	for _, l := range unique {
		if _, ok := seen[l.Key()]; ok {
			known = append(known, l)
		} else {
			fresh = append(fresh, l)
		}
	}

	now := time.Now().UTC().Format(timeLayout)
	if err := touchListings(ctx, tx, known, now); err != nil {
		return nil, stats, err
	}
	inserted, err := insertListings(ctx, tx, fresh, now)
	if err != nil {
		return nil, stats, err
	}

	if err := tx.Commit(); err != nil {
		return nil, stats, fmt.Errorf("commit: %w", err)
	}

	stats.Saved = len(inserted)
	stats.Duplicates = len(known)
	return inserted, stats, nil
}

// touchListings refreshes last_seen for already-stored listings with one
// chunked bulk update.
func touchListings(ctx context.Context, tx *sql.Tx, listings []model.Listing, now string) error {
	for start := 0; start < len(listings); start += lookupChunk {
		end := start + lookupChunk
		if end > len(listings) {
			end = len(listings)
		}
		chunk := listings[start:end]

		placeholders := make([]string, 0, len(chunk))
		args := make([]any, 0, len(chunk)*2+1)
		args = append(args, now)
		for _, l := range chunk {
			placeholders = append(placeholders, "(?, ?)")
			args = append(args, string(l.Market), l.ExternalID)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE listings SET last_seen = ? WHERE (market, external_id) IN (VALUES `+
				strings.Join(placeholders, ", ")+`)`,
			args...,
		); err != nil {
			return fmt.Errorf("touch listings: %w", err)
		}
	}
	return nil
}

// insertListings writes unseen listings with chunked multi-row inserts
// and returns them with the IDs the database assigned.
func insertListings(ctx context.Context, tx *sql.Tx, listings []model.Listing, now string) ([]model.Listing, error) {
	if len(listings) == 0 {
		return nil, nil
	}
	nowT, _ := time.Parse(timeLayout, now)

	ids := make(map[model.ListingKey]int64, len(listings))
	for start := 0; start < len(listings); start += lookupChunk {
		end := start + lookupChunk
		if end > len(listings) {
			end = len(listings)
		}
		chunk := listings[start:end]

		placeholders := make([]string, 0, len(chunk))
		args := make([]any, 0, len(chunk)*11)
		for _, l := range chunk {
			placeholders = append(placeholders, "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
			args = append(args,
				string(l.Market), l.ExternalID, l.Title, l.PriceJPY, nullString(l.Brand),
				l.URL, nullString(l.ImageURL), string(l.Type), nullString(l.SellerID), now, now)
		}

		rows, err := tx.QueryContext(ctx,
			`INSERT INTO listings
			   (market, external_id, title, price_jpy, brand, url, image_url, listing_type, seller_id, first_seen, last_seen)
			 VALUES `+strings.Join(placeholders, ", ")+`
			 RETURNING id, market, external_id`,
			args...,
		)
		if err != nil {
			return nil, fmt.Errorf("insert listings: %w", err)
		}
		for rows.Next() {
			var id int64
			var market, externalID string
			if err := rows.Scan(&id, &market, &externalID); err != nil {
				_ = rows.Close()
				return nil, fmt.Errorf("scan inserted id: %w", err)
			}
			ids[model.ListingKey{Market: model.Market(market), ExternalID: externalID}] = id
		}
		if err := rows.Err(); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("iterate inserted ids: %w", err)
		}
		_ = rows.Close()
	}

	inserted := make([]model.Listing, 0, len(listings))
	for _, l := range listings {
		l.ID = ids[l.Key()]
		l.FirstSeen = nowT
		l.LastSeen = nowT
		inserted = append(inserted, l)
	}
	return inserted, nil
}

// existingKeys checks the whole batch against the store in chunked
// row-value lookups instead of one query per listing.
func existingKeys(ctx context.Context, tx *sql.Tx, listings []model.Listing) (map[model.ListingKey]struct{}, error) {
	seen := make(map[model.ListingKey]struct{})
	for start := 0; start < len(listings); start += lookupChunk {
		end := start + lookupChunk
		if end > len(listings) {
			end = len(listings)
		}
		chunk := listings[start:end]

		placeholders := make([]string, 0, len(chunk))
		args := make([]any, 0, len(chunk)*2)
		for _, l := range chunk {
			placeholders = append(placeholders, "(?, ?)")
			args = append(args, string(l.Market), l.ExternalID)
		}

		rows, err := tx.QueryContext(ctx,
			`SELECT market, external_id FROM listings WHERE (market, external_id) IN (VALUES `+
				strings.Join(placeholders, ", ")+`)`,
			args...,
		)
		if err != nil {
			return nil, fmt.Errorf("query existing listings: %w", err)
		}
		for rows.Next() {
			var market, externalID string
			if err := rows.Scan(&market, &externalID); err != nil {
				_ = rows.Close()
				return nil, fmt.Errorf("scan existing key: %w", err)
			}
			seen[model.ListingKey{Market: model.Market(market), ExternalID: externalID}] = struct{}{}
		}
		if err := rows.Err(); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("iterate existing keys: %w", err)
		}
		_ = rows.Close()
	}
	return seen, nil
}

// ListingExists checks whether a listing identity is already stored.
func (s *SQLite) ListingExists(ctx context.Context, market model.Market, externalID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM listings WHERE market = ? AND external_id = ?`,
		string(market), externalID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check listing: %w", err)
	}
	return count > 0, nil
}

// QueryListings returns a page of listings for read-only views.
func (s *SQLite) QueryListings(ctx context.Context, q ListingQuery) ([]model.Listing, error) {
	var conds []string
	var args []any
	if q.Market != "" {
		conds = append(conds, "market = ?")
		args = append(args, string(q.Market))
	}
	if q.Brand != "" {
		conds = append(conds, "brand = ?")
		args = append(args, q.Brand)
	}

	query := listingColumns + " FROM listings"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}

	col := "first_seen"
	if q.SortBy == "price" {
		col = "price_jpy"
	}
	dir := "ASC"
	if q.Desc {
		dir = "DESC"
	}
	query += fmt.Sprintf(" ORDER BY %s %s, id %s", col, dir, dir)

	limit := q.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, q.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query listings: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanListings(rows)
}

// CreateFilter inserts a new filter and populates its ID and timestamps.
func (s *SQLite) CreateFilter(ctx context.Context, f *model.UserFilter) error {
	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO user_filters (owner_id, name, brands, keywords, price_min, price_max, markets, is_active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.OwnerID, f.Name, marshalList(f.Brands), marshalList(f.Keywords),
		f.PriceMin, f.PriceMax, marshalMarkets(f.Markets), boolToInt(f.Active), now, now,
	)
	if err != nil {
		return fmt.Errorf("insert filter: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	f.ID = id
	f.CreatedAt, _ = time.Parse(timeLayout, now)
	f.UpdatedAt = f.CreatedAt
	return nil
}

// GetFilter returns a single filter by its ID.
func (s *SQLite) GetFilter(ctx context.Context, id int64) (*model.UserFilter, error) {
	row := s.db.QueryRowContext(ctx, filterColumns+` FROM user_filters WHERE id = ?`, id)
	f, err := scanFilter(row)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// ListActiveFilters returns every filter currently enabled for matching.
func (s *SQLite) ListActiveFilters(ctx context.Context) ([]model.UserFilter, error) {
	rows, err := s.db.QueryContext(ctx,
		filterColumns+` FROM user_filters WHERE is_active = 1 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query active filters: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanFilters(rows)
}

// ListFiltersByOwner returns all filters belonging to one recipient.
func (s *SQLite) ListFiltersByOwner(ctx context.Context, ownerID int64) ([]model.UserFilter, error) {
	rows, err := s.db.QueryContext(ctx,
		filterColumns+` FROM user_filters WHERE owner_id = ? ORDER BY id`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query filters: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanFilters(rows)
}

// UpdateFilter persists changes to an existing filter.
func (s *SQLite) UpdateFilter(ctx context.Context, f *model.UserFilter) error {
	now := time.Now().UTC().Format(timeLayout)
	_, err := s.db.ExecContext(ctx,
		`UPDATE user_filters
		 SET name = ?, brands = ?, keywords = ?, price_min = ?, price_max = ?, markets = ?, is_active = ?, updated_at = ?
		 WHERE id = ?`,
		f.Name, marshalList(f.Brands), marshalList(f.Keywords),
		f.PriceMin, f.PriceMax, marshalMarkets(f.Markets), boolToInt(f.Active), now, f.ID,
	)
	if err != nil {
		return fmt.Errorf("update filter: %w", err)
	}
	f.UpdatedAt, _ = time.Parse(timeLayout, now)
	return nil
}

// DeleteFilter removes a filter by its ID.
func (s *SQLite) DeleteFilter(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM user_filters WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete filter: %w", err)
	}
	return nil
}

// WasAlertSent checks the delivery ledger for a listing/recipient pair.
func (s *SQLite) WasAlertSent(ctx context.Context, listingID, recipientID int64) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM alerts_sent WHERE listing_id = ? AND recipient_id = ?`,
		listingID, recipientID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check alert: %w", err)
	}
	return count > 0, nil
}

// RecordAlert writes a ledger entry for a confirmed delivery. It reports
// false when the pair was already recorded, so racing writers resolve to
// exactly one winner.
func (s *SQLite) RecordAlert(ctx context.Context, rec *model.AlertRecord) (bool, error) {
	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO alerts_sent (listing_id, recipient_id, filter_id, sent_at)
		 VALUES (?, ?, ?, ?)`,
		rec.ListingID, rec.RecipientID, rec.FilterID, now,
	)
	if err != nil {
		return false, fmt.Errorf("record alert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		rec.SentAt, _ = time.Parse(timeLayout, now)
	}
	return n > 0, nil
}

const listingColumns = `SELECT id, market, external_id, title, price_jpy, brand, url, image_url, listing_type, seller_id, first_seen, last_seen`

const filterColumns = `SELECT id, owner_id, name, brands, keywords, price_min, price_max, markets, is_active, created_at, updated_at`

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// marshalList stores string slices as JSON arrays; nil and empty both
// become NULL so "unset" survives a round trip.
func marshalList(items []string) any {
	if len(items) == 0 {
		return nil
	}
	b, _ := json.Marshal(items)
	return string(b)
}

func marshalMarkets(markets []model.Market) any {
	if len(markets) == 0 {
		return nil
	}
	items := make([]string, len(markets))
	for i, m := range markets {
		items[i] = string(m)
	}
	return marshalList(items)
}

type scannable interface {
	Scan(dest ...any) error
}

func scanListing(row scannable) (model.Listing, error) {
	var l model.Listing
	var market, listingType string
	var brand, imageURL, sellerID sql.NullString
	var firstSeen, lastSeen string
	err := row.Scan(&l.ID, &market, &l.ExternalID, &l.Title, &l.PriceJPY,
		&brand, &l.URL, &imageURL, &listingType, &sellerID, &firstSeen, &lastSeen)
	if err != nil {
		return l, fmt.Errorf("scan listing: %w", err)
	}
	l.Market = model.Market(market)
	l.Type = model.ListingType(listingType)
	l.Brand = brand.String
	l.ImageURL = imageURL.String
	l.SellerID = sellerID.String
	l.FirstSeen, _ = time.Parse(timeLayout, firstSeen)
	l.LastSeen, _ = time.Parse(timeLayout, lastSeen)
	return l, nil
}

func scanListings(rows *sql.Rows) ([]model.Listing, error) {
	var listings []model.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		listings = append(listings, l)
	}
	return listings, rows.Err()
}

func scanFilter(row scannable) (model.UserFilter, error) {
	var f model.UserFilter
	var brands, keywords, markets sql.NullString
	var priceMin, priceMax sql.NullInt64
	var isActive int
	var created, updated string
	err := row.Scan(&f.ID, &f.OwnerID, &f.Name, &brands, &keywords,
		&priceMin, &priceMax, &markets, &isActive, &created, &updated)
	if err != nil {
		return f, fmt.Errorf("scan filter: %w", err)
	}
	f.Brands = unmarshalList(brands)
	f.Keywords = unmarshalList(keywords)
	if priceMin.Valid {
		v := priceMin.Int64
		f.PriceMin = &v
	}
	if priceMax.Valid {
		v := priceMax.Int64
		f.PriceMax = &v
	}
	for _, m := range unmarshalList(markets) {
		f.Markets = append(f.Markets, model.Market(m))
	}
	f.Active = isActive == 1
	f.CreatedAt, _ = time.Parse(timeLayout, created)
	f.UpdatedAt, _ = time.Parse(timeLayout, updated)
	return f, nil
}

func scanFilters(rows *sql.Rows) ([]model.UserFilter, error) {
	var filters []model.UserFilter
	for rows.Next() {
		f, err := scanFilter(rows)
		if err != nil {
			return nil, err
		}
		filters = append(filters, f)
	}
	return filters, rows.Err()
}

func unmarshalList(s sql.NullString) []string {
	if !s.Valid || s.String == "" {
		return nil
	}
	var items []string
	if err := json.Unmarshal([]byte(s.String), &items); err != nil {
		return nil
	}
	return items
}
