// Package mercari searches the Mercari JP catalog through its JSON API.
//
// Every request carries a DPoP proof token (RFC 9449) signed with an
// ES256 key generated at client construction. Mercari only checks that
// the proof is well formed and fresh, so a per-process key is enough.
package mercari

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"swagsearch/internal/marketplace"
	"swagsearch/internal/model"
)

const (
	endpoint = "https://api.mercari.jp/v2/entities:search"
	itemBase = "https://jp.mercari.com/item/"
)

// Client fetches newest-first search pages from the Mercari API.
type Client struct {
	httpc    marketplace.Doer
	pageSize int
	key      *ecdsa.PrivateKey
	jwk      map[string]string
	log      *slog.Logger
	now      func() time.Time
}

// New creates a Mercari client. It generates the P-256 signing key used
// for DPoP proofs over the lifetime of the client.
func New(httpc marketplace.Doer, pageSize int, log *slog.Logger) (*Client, error) {
	if pageSize <= 0 {
		pageSize = 120
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate dpop key: %w", err)
	}
	return &Client{
		httpc:    httpc,
		pageSize: pageSize,
		key:      key,
		jwk:      publicJWK(key),
		log:      log,
		now:      time.Now,
	}, nil
}

// Market implements marketplace.PageFetcher.
func (c *Client) Market() model.Market { return model.MarketMercari }

// PageSize implements marketplace.PageFetcher.
func (c *Client) PageSize() int { return c.pageSize }

// FetchPage retrieves one search page sorted by creation time descending.
// The continuation token from the previous page selects the next one.
func (c *Client) FetchPage(ctx context.Context, keyword string, state marketplace.PageState) (marketplace.Page, error) {
	deviceUUID := uuid.NewString()

	body, err := json.Marshal(c.searchPayload(keyword, state.Token, deviceUUID))
	if err != nil {
		return marketplace.Page{}, fmt.Errorf("marshal search payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return marketplace.Page{}, fmt.Errorf("build search request: %w", err)
	}

	proof, err := c.dpopProof(deviceUUID)
	if err != nil {
		return marketplace.Page{}, fmt.Errorf("sign dpop proof: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("X-Platform", "web")
	req.Header.Set("Origin", "https://jp.mercari.com")
	req.Header.Set("Referer", "https://jp.mercari.com/")
	req.Header.Set("Accept-Language", "ja")
	req.Header.Set("DPoP", proof)

	resp, err := c.httpc.Do(ctx, req)
	if err != nil {
		return marketplace.Page{}, fmt.Errorf("fetch mercari page for %q: %w", keyword, err)
	}

	var sr searchResponse
	if err := json.Unmarshal(resp.Body, &sr); err != nil {
		return marketplace.Page{}, fmt.Errorf("decode mercari response for %q: %w", keyword, err)
	}

	now := c.now().UTC()
	listings := make([]model.Listing, 0, len(sr.Items))
	for _, item := range sr.Items {
		l, ok := c.parseItem(item, keyword, now)
		if !ok {
			continue
		}
		listings = append(listings, l)
	}

	page := marketplace.Page{Listings: listings}
	if next := sr.Meta.NextPageToken; next != "" {
		num := state.Number
		if num < 1 {
			num = 1
		}
		page.Next = &marketplace.PageState{Number: num + 1, Token: next}
	}
	return page, nil
}

// searchCondition mirrors the API's SearchCondition message.
type searchCondition struct {
	Keyword        string   `json:"keyword"`
	ExcludeKeyword string   `json:"excludeKeyword"`
	Sort           string   `json:"sort"`
	Order          string   `json:"order"`
	Status         []string `json:"status"`
	CategoryID     []int    `json:"categoryId"`
	BrandID        []int    `json:"brandId"`
	PriceMin       int      `json:"priceMin"`
	PriceMax       int      `json:"priceMax"`
}

type searchRequest struct {
	UserID            string          `json:"userId"`
	PageSize          int             `json:"pageSize"`
	PageToken         string          `json:"pageToken"`
	SearchSessionID   string          `json:"searchSessionId"`
	Source            string          `json:"source"`
	IndexRouting      string          `json:"indexRouting"`
	SearchCondition   searchCondition `json:"searchCondition"`
	ServiceFrom       string          `json:"serviceFrom"`
	WithItemBrand     bool            `json:"withItemBrand"`
	WithItemPromotion bool            `json:"withItemPromotions"`
	WithAuction       bool            `json:"withAuction"`
	LaplaceDeviceUUID string          `json:"laplaceDeviceUuid"`
}

func (c *Client) searchPayload(keyword, pageToken, deviceUUID string) searchRequest {
	return searchRequest{
		PageSize:        c.pageSize,
		PageToken:       pageToken,
		SearchSessionID: strings.ReplaceAll(uuid.NewString(), "-", ""),
		Source:          "BaseSerp",
		IndexRouting:    "INDEX_ROUTING_UNSPECIFIED",
		SearchCondition: searchCondition{
			Keyword:    keyword,
			Sort:       "SORT_CREATED_TIME",
			Order:      "ORDER_DESC",
			Status:     []string{},
			CategoryID: []int{},
			BrandID:    []int{},
		},
		ServiceFrom:       "suruga",
		WithItemBrand:     true,
		WithItemPromotion: true,
		WithAuction:       true,
		LaplaceDeviceUUID: deviceUUID,
	}
}

type searchResponse struct {
	Meta struct {
		NextPageToken string `json:"nextPageToken"`
	} `json:"meta"`
	Items []apiItem `json:"items"`
}

type apiItem struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Price      string   `json:"price"`
	Thumbnails []string `json:"thumbnails"`
	ItemBrand  *struct {
		Name string `json:"name"`
	} `json:"itemBrand"`
	SellerID string `json:"sellerId"`
}

func (c *Client) parseItem(item apiItem, keyword string, now time.Time) (model.Listing, bool) {
	if item.ID == "" {
		return model.Listing{}, false
	}
	title := strings.TrimSpace(item.Name)
	if title == "" {
		return model.Listing{}, false
	}
	price, err := strconv.ParseInt(item.Price, 10, 64)
	if err != nil {
		c.log.Debug("skipping item with unparseable price", "id", item.ID, "price", item.Price)
		return model.Listing{}, false
	}

	brand := keyword
	if item.ItemBrand != nil && item.ItemBrand.Name != "" {
		brand = item.ItemBrand.Name
	}
	var imageURL string
	if len(item.Thumbnails) > 0 {
		imageURL = item.Thumbnails[0]
	}

	return model.Listing{
		Market:     model.MarketMercari,
		ExternalID: item.ID,
		Title:      title,
		PriceJPY:   price,
		Brand:      brand,
		URL:        itemBase + item.ID,
		ImageURL:   imageURL,
		Type:       model.TypeFixed, // Mercari sells at fixed price only
		SellerID:   item.SellerID,
		FirstSeen:  now,
		LastSeen:   now,
	}, true
}

// dpopProof builds the per-request proof JWT. The header carries the
// public key as a JWK so the server can verify without prior state.
func (c *Client) dpopProof(deviceUUID string) (string, error) {
	tok := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.MapClaims{
		"iat":  c.now().Unix(),
		"jti":  uuid.NewString(),
		"htu":  endpoint,
		"htm":  http.MethodPost,
		"uuid": deviceUUID,
	})
	tok.Header["typ"] = "dpop+jwt"
	tok.Header["jwk"] = c.jwk

	signed, err := tok.SignedString(c.key)
	if err != nil {
		return "", fmt.Errorf("sign jwt: %w", err)
	}
	return signed, nil
}

// publicJWK encodes the public key as an RFC 7517 EC JWK. P-256
// coordinates are fixed-width 32-byte big-endian values.
func publicJWK(key *ecdsa.PrivateKey) map[string]string {
	x := make([]byte, 32)
	y := make([]byte, 32)
	key.PublicKey.X.FillBytes(x)
	key.PublicKey.Y.FillBytes(y)
	return map[string]string{
		"crv": "P-256",
		"kty": "EC",
		"x":   base64.RawURLEncoding.EncodeToString(x),
		"y":   base64.RawURLEncoding.EncodeToString(y),
	}
}
