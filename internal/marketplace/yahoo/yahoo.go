// Package yahoo scrapes Yahoo Auctions Japan search result pages.
package yahoo

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"swagsearch/internal/marketplace"
	"swagsearch/internal/model"
)

const (
	baseURL = "https://auctions.yahoo.co.jp"

	// Listing type filter accepted by the search endpoint:
	// 1 = fixed price only, 2 = auction only, 3 = both.
	fixedTypeBoth = 3
)

var (
	priceRe  = regexp.MustCompile(`[\d,]+`)
	sellerRe = regexp.MustCompile(`sellerID=([^&]+)`)
)

// Client fetches and parses newest-first search pages.
type Client struct {
	httpc    marketplace.Doer
	pageSize int
	log      *slog.Logger
	now      func() time.Time
}

// New creates a Yahoo Auctions client with the given nominal page size.
func New(httpc marketplace.Doer, pageSize int, log *slog.Logger) *Client {
	if pageSize <= 0 {
		pageSize = 50
	}
	return &Client{httpc: httpc, pageSize: pageSize, log: log, now: time.Now}
}

// Market implements marketplace.PageFetcher.
func (c *Client) Market() model.Market { return model.MarketYahoo }

// PageSize implements marketplace.PageFetcher.
func (c *Client) PageSize() int { return c.pageSize }

// FetchPage retrieves one search result page, newest listings first.
func (c *Client) FetchPage(ctx context.Context, keyword string, state marketplace.PageState) (marketplace.Page, error) {
	page := state.Number
	if page < 1 {
		page = 1
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.searchURL(keyword, page), nil)
	if err != nil {
		return marketplace.Page{}, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept-Language", "ja,en;q=0.5")

	resp, err := c.httpc.Do(ctx, req)
	if err != nil {
		return marketplace.Page{}, fmt.Errorf("fetch yahoo page %d for %q: %w", page, keyword, err)
	}

	listings, err := c.parse(resp.Body, keyword)
	if err != nil {
		return marketplace.Page{}, fmt.Errorf("parse yahoo page %d for %q: %w", page, keyword, err)
	}

	out := marketplace.Page{Listings: listings}
	if len(listings) > 0 {
		out.Next = &marketplace.PageState{Number: page + 1}
	}
	return out, nil
}

const userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// searchURL builds a search query sorted by listing creation time,
// newest first. Pagination uses the 1-based item offset parameter b.
func (c *Client) searchURL(keyword string, page int) string {
	params := url.Values{}
	params.Set("p", keyword)
	params.Set("va", keyword)
	params.Set("fixed", strconv.Itoa(fixedTypeBoth))
	params.Set("is_postage_mode", "1")
	params.Set("dest_pref_code", "13")
	params.Set("b", strconv.Itoa((page-1)*c.pageSize+1))
	params.Set("n", strconv.Itoa(c.pageSize))
	params.Set("s1", "new")
	params.Set("o1", "d")
	return baseURL + "/search/search?" + params.Encode()
}

// parse extracts listings from a server-rendered results page. Items
// that fail to parse are skipped, never fatal for the page.
func (c *Client) parse(body []byte, keyword string) ([]model.Listing, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	now := c.now().UTC()
	var listings []model.Listing
	doc.Find("li.Product").Each(func(_ int, item *goquery.Selection) {
		l, ok := c.parseItem(item, keyword, now)
		if !ok {
			return
		}
		listings = append(listings, l)
	})
	return listings, nil
}

func (c *Client) parseItem(item *goquery.Selection, keyword string, now time.Time) (model.Listing, bool) {
	link := item.Find("a.Product__titleLink").First()
	if link.Length() == 0 {
		return model.Listing{}, false
	}

	href, _ := link.Attr("href")
	if href == "" {
		return model.Listing{}, false
	}
	if !strings.HasPrefix(href, "http") {
		href = baseURL + href
	}

	id := auctionID(href)
	if id == "" {
		c.log.Debug("skipping item without auction id", "href", href)
		return model.Listing{}, false
	}

	title := strings.TrimSpace(link.Text())
	if title == "" {
		return model.Listing{}, false
	}

	price, ok := parsePrice(item.Find(".Product__priceValue").First().Text())
	if !ok {
		c.log.Debug("skipping item without price", "id", id)
		return model.Listing{}, false
	}

	imageURL, _ := item.Find("img").First().Attr("src")

	return model.Listing{
		Market:     model.MarketYahoo,
		ExternalID: id,
		Title:      title,
		PriceJPY:   price,
		Brand:      keyword,
		URL:        href,
		ImageURL:   imageURL,
		Type:       listingType(title),
		SellerID:   sellerID(item),
		FirstSeen:  now,
		LastSeen:   now,
	}, true
}

// auctionID extracts the auction id from a listing URL. Numeric ids get
// the u prefix the auction pages themselves use.
func auctionID(rawURL string) string {
	var id string
	switch {
	case strings.Contains(rawURL, "/auction/"):
		id = rawURL[strings.LastIndex(rawURL, "/auction/")+len("/auction/"):]
		id, _, _ = strings.Cut(id, "?")
	case strings.Contains(rawURL, "aID="):
		id = rawURL[strings.Index(rawURL, "aID=")+len("aID="):]
		id, _, _ = strings.Cut(id, "&")
	default:
		for _, part := range strings.Split(rawURL, "/") {
			part, _, _ = strings.Cut(part, "?")
			if len(part) > 5 && !strings.Contains(part, ".") {
				id = part
			}
		}
	}

	id = strings.TrimSpace(id)
	if id == "" {
		return ""
	}
	if !strings.HasPrefix(id, "u") && isDigits(id) {
		id = "u" + id
	}
	return id
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

func parsePrice(text string) (int64, bool) {
	m := priceRe.FindString(text)
	if m == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(strings.ReplaceAll(m, ",", ""), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// listingType classifies by the immediate-purchase markers sellers put
// in titles. The search page renders both kinds in the same markup.
func listingType(title string) model.ListingType {
	lower := strings.ToLower(title)
	for _, marker := range []string{"即決", "定額", "buy it now"} {
		if strings.Contains(lower, marker) {
			return model.TypeFixed
		}
	}
	return model.TypeAuction
}

func sellerID(item *goquery.Selection) string {
	href, _ := item.Find(`a[href*="sellerID"]`).First().Attr("href")
	if m := sellerRe.FindStringSubmatch(href); m != nil {
		return m[1]
	}
	return ""
}
