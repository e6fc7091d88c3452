package bot

import (
	"fmt"
	"strings"

	"swagsearch/internal/currency"
	"swagsearch/internal/model"
)

const (
	statusActive = "active"
	statusPaused = "paused"
)

// FormatListing formats one listing as an alert message. filterName is
// empty for broadcast deliveries.
func FormatListing(l model.Listing, filterName string, conv *currency.Converter) string {
	var b strings.Builder
	if filterName != "" {
		fmt.Fprintf(&b, "[%s]\n", filterName)
	}
	b.WriteString(l.Title)
	fmt.Fprintf(&b, "\n\n¥%s (~$%.2f)", groupDigits(l.PriceJPY), conv.ToUSD(l.PriceJPY))
	if l.Brand != "" {
		fmt.Fprintf(&b, "\nBrand: %s", l.Brand)
	}
	fmt.Fprintf(&b, "\n%s, %s", marketLabel(l.Market), typeLabel(l.Type))
	if l.URL != "" {
		b.WriteString("\n\n")
		b.WriteString(l.URL)
	}
	return b.String()
}

// FormatFilterList formats a user's saved filters for display.
func FormatFilterList(filters []model.UserFilter) string {
	if len(filters) == 0 {
		return "You have no filters yet. Use /addfilter to create one."
	}
	var b strings.Builder
	b.WriteString("Your filters:\n")
	for _, f := range filters {
		status := statusActive
		if !f.Active {
			status = statusPaused
		}
		fmt.Fprintf(&b, "\nF%d %q [%s]\n", f.ID, f.Name, status)
		b.WriteString(indent(FormatFilter(f)))
	}
	return b.String()
}

// FormatFilter renders the set dimensions of one filter, one per line.
func FormatFilter(f model.UserFilter) string {
	var lines []string
	if len(f.Brands) > 0 {
		lines = append(lines, "Brands: "+strings.Join(f.Brands, ", "))
	}
	if len(f.Keywords) > 0 {
		lines = append(lines, "Keywords: "+strings.Join(f.Keywords, ", "))
	}
	if f.PriceMin != nil || f.PriceMax != nil {
		lines = append(lines, "Price: "+formatPriceRange(f.PriceMin, f.PriceMax))
	}
	if len(f.Markets) > 0 {
		names := make([]string, len(f.Markets))
		for i, m := range f.Markets {
			names[i] = marketLabel(m)
		}
		lines = append(lines, "Markets: "+strings.Join(names, ", "))
	}
	if len(lines) == 0 {
		return "Matches every new listing."
	}
	return strings.Join(lines, "\n")
}

func formatPriceRange(min, max *int64) string {
	switch {
	case min != nil && max != nil:
		return fmt.Sprintf("¥%s - ¥%s", groupDigits(*min), groupDigits(*max))
	case min != nil:
		return fmt.Sprintf("from ¥%s", groupDigits(*min))
	default:
		return fmt.Sprintf("up to ¥%s", groupDigits(*max))
	}
}

func marketLabel(m model.Market) string {
	switch m {
	case model.MarketYahoo:
		return "Yahoo Auctions"
	case model.MarketMercari:
		return "Mercari"
	default:
		return string(m)
	}
}

func typeLabel(t model.ListingType) string {
	if t == model.TypeFixed {
		return "buy it now"
	}
	return "auction"
}

// groupDigits renders a non-negative amount with thousands separators.
func groupDigits(n int64) string {
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	lead := len(s) % 3
	if lead > 0 {
		b.WriteString(s[:lead])
	}
	for i := lead; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

func indent(s string) string {
	var b strings.Builder
	for _, line := range strings.Split(s, "\n") {
		b.WriteString("   ")
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}
