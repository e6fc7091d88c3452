package dashboard

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"swagsearch/internal/currency"
	"swagsearch/internal/model"
	"swagsearch/internal/storage"
)

func newTestServer(t *testing.T) (*gin.Engine, *storage.SQLite) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(store, currency.New(147), log).Router(), store
}

func seedListings(t *testing.T, store *storage.SQLite) {
	t.Helper()
	now := time.Now().UTC()
	listings := []model.Listing{
		{Market: model.MarketYahoo, ExternalID: "u1", Title: "Rick Owens bomber", PriceJPY: 35000,
			Brand: "Rick Owens", URL: "https://example.jp/u1", Type: model.TypeAuction, FirstSeen: now, LastSeen: now},
		{Market: model.MarketMercari, ExternalID: "m1", Title: "Raf Simons parka", PriceJPY: 80000,
			Brand: "Raf Simons", URL: "https://example.jp/m1", Type: model.TypeFixed, FirstSeen: now, LastSeen: now},
	}
	if _, _, err := store.SaveListings(context.Background(), listings); err != nil {
		t.Fatalf("seed listings: %v", err)
	}
}

func doRequest(t *testing.T, router *gin.Engine, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	router, _ := newTestServer(t)

	w := doRequest(t, router, http.MethodGet, "/healthz", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestListListings(t *testing.T) {
	router, store := newTestServer(t)
	seedListings(t, store)

	tests := []struct {
		name    string
		target  string
		wantIDs []string
	}{
		{"all by price desc", "/api/listings?sort=price", []string{"m1", "u1"}},
		{"all by price asc", "/api/listings?sort=price&order=asc", []string{"u1", "m1"}},
		{"market filter", "/api/listings?market=yahoo", []string{"u1"}},
		{"brand filter", "/api/listings?brand=Raf+Simons", []string{"m1"}},
		{"limit", "/api/listings?sort=price&limit=1", []string{"m1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(t, router, http.MethodGet, tt.target, "")
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200: %s", w.Code, w.Body)
			}
			var resp struct {
				Listings []struct {
					ExternalID string  `json:"external_id"`
					PriceUSD   float64 `json:"price_usd"`
				} `json:"listings"`
			}
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			var ids []string
			for _, l := range resp.Listings {
				ids = append(ids, l.ExternalID)
				if l.PriceUSD <= 0 {
					t.Errorf("listing %s missing converted price", l.ExternalID)
				}
			}
			if len(ids) != len(tt.wantIDs) {
				t.Fatalf("ids = %v, want %v", ids, tt.wantIDs)
			}
			for i := range ids {
				if ids[i] != tt.wantIDs[i] {
					t.Errorf("ids = %v, want %v", ids, tt.wantIDs)
					break
				}
			}
		})
	}
}

func TestListListingsRejectsBadParams(t *testing.T) {
	router, _ := newTestServer(t)

	for _, target := range []string{
		"/api/listings?market=ebay",
		"/api/listings?sort=seller",
	} {
		w := doRequest(t, router, http.MethodGet, target, "")
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", target, w.Code)
		}
	}
}

func TestCreateAndListFilters(t *testing.T) {
	router, _ := newTestServer(t)

	w := doRequest(t, router, http.MethodPost, "/api/filters",
		`{"owner_id":100,"name":"rick","brands":["Rick Owens"],"price_min":20000,"price_max":50000,"markets":["yahoo"]}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", w.Code, w.Body)
	}
	var created model.UserFilter
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.ID == 0 || !created.Active {
		t.Errorf("unexpected created filter: %+v", created)
	}

	w = doRequest(t, router, http.MethodGet, "/api/filters?owner=100", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Count != 1 {
		t.Errorf("count = %d, want 1", resp.Count)
	}

	w = doRequest(t, router, http.MethodGet, "/api/filters?owner=200", "")
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Count != 0 {
		t.Errorf("another owner's count = %d, want 0", resp.Count)
	}
}

func TestCreateFilterValidation(t *testing.T) {
	router, _ := newTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"missing name", `{"owner_id":100}`},
		{"missing owner", `{"name":"rick"}`},
		{"inverted price range", `{"owner_id":100,"name":"rick","price_min":500,"price_max":100}`},
		{"unknown market", `{"owner_id":100,"name":"rick","markets":["ebay"]}`},
		{"malformed json", `{"owner_id":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(t, router, http.MethodPost, "/api/filters", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400: %s", w.Code, w.Body)
			}
		})
	}
}

func TestDeleteFilter(t *testing.T) {
	router, store := newTestServer(t)

	f := &model.UserFilter{OwnerID: 100, Name: "rick", Active: true}
	if err := store.CreateFilter(context.Background(), f); err != nil {
		t.Fatalf("create: %v", err)
	}

	w := doRequest(t, router, http.MethodDelete, "/api/filters/1", "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", w.Code)
	}
	if _, err := store.GetFilter(context.Background(), f.ID); err == nil {
		t.Error("filter must be gone after delete")
	}

	w = doRequest(t, router, http.MethodDelete, "/api/filters/1", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", w.Code)
	}

	w = doRequest(t, router, http.MethodDelete, "/api/filters/abc", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad id status = %d, want 400", w.Code)
	}
}
