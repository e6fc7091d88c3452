// Package dashboard exposes a small HTTP API over stored listings and
// user filters.
package dashboard

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"swagsearch/internal/currency"
	"swagsearch/internal/model"
	"swagsearch/internal/storage"
)

// Server wires the HTTP routes to the store.
type Server struct {
	store storage.Storage
	conv  *currency.Converter
	log   *slog.Logger
}

// New creates a dashboard server.
func New(store storage.Storage, conv *currency.Converter, log *slog.Logger) *Server {
	return &Server{store: store, conv: conv, log: log}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(s.requestLogger())
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	api.GET("/listings", s.listListings)
	api.GET("/filters", s.listFilters)
	api.POST("/filters", s.createFilter)
	api.DELETE("/filters/:id", s.deleteFilter)

	return router
}

// Run serves the API until ctx is cancelled.
func (s *Server) Run(addr string) error {
	return s.Router().Run(addr)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Info("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start).Round(time.Microsecond),
		)
	}
}

// listingView adds the converted USD price to the stored listing.
type listingView struct {
	model.Listing
	PriceUSD float64 `json:"price_usd"`
}

func (s *Server) listListings(c *gin.Context) {
	q := storage.ListingQuery{
		Brand:  c.Query("brand"),
		SortBy: c.DefaultQuery("sort", "first_seen"),
		Desc:   c.DefaultQuery("order", "desc") != "asc",
		Limit:  intQuery(c, "limit", 0),
		Offset: intQuery(c, "offset", 0),
	}
	if m := c.Query("market"); m != "" {
		market := model.Market(m)
		if market != model.MarketYahoo && market != model.MarketMercari {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown market, use: yahoo, mercari"})
			return
		}
		q.Market = market
	}
	if q.SortBy != "first_seen" && q.SortBy != "price" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sort must be first_seen or price"})
		return
	}

	listings, err := s.store.QueryListings(c.Request.Context(), q)
	if err != nil {
		s.log.Error("query listings", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query listings"})
		return
	}

	views := make([]listingView, 0, len(listings))
	for _, l := range listings {
		views = append(views, listingView{Listing: l, PriceUSD: s.conv.ToUSD(l.PriceJPY)})
	}
	c.JSON(http.StatusOK, gin.H{"listings": views, "count": len(views)})
}

func (s *Server) listFilters(c *gin.Context) {
	owner, err := strconv.ParseInt(c.Query("owner"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "owner query parameter is required"})
		return
	}

	filters, err := s.store.ListFiltersByOwner(c.Request.Context(), owner)
	if err != nil {
		s.log.Error("list filters", "owner", owner, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list filters"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"filters": filters, "count": len(filters)})
}

func (s *Server) createFilter(c *gin.Context) {
	var f model.UserFilter
	if err := c.ShouldBindJSON(&f); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}
	if f.OwnerID == 0 || f.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "owner_id and name are required"})
		return
	}
	if f.PriceMin != nil && f.PriceMax != nil && *f.PriceMin > *f.PriceMax {
		c.JSON(http.StatusBadRequest, gin.H{"error": "price_min exceeds price_max"})
		return
	}
	for _, m := range f.Markets {
		if m != model.MarketYahoo && m != model.MarketMercari {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown market, use: yahoo, mercari"})
			return
		}
	}
	f.Active = true

	if err := s.store.CreateFilter(c.Request.Context(), &f); err != nil {
		s.log.Error("create filter", "owner", f.OwnerID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create filter"})
		return
	}

	s.log.Info("filter created", "id", f.ID, "owner", f.OwnerID, "name", f.Name)
	c.JSON(http.StatusCreated, f)
}

func (s *Server) deleteFilter(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid filter id"})
		return
	}

	if _, err := s.store.GetFilter(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "filter not found"})
		return
	}
	if err := s.store.DeleteFilter(c.Request.Context(), id); err != nil {
		s.log.Error("delete filter", "id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete filter"})
		return
	}

	s.log.Info("filter deleted", "id", id)
	c.Status(http.StatusNoContent)
}

func intQuery(c *gin.Context, key string, def int) int {
	v, err := strconv.Atoi(c.DefaultQuery(key, strconv.Itoa(def)))
	if err != nil || v < 0 {
		return def
	}
	return v
}
