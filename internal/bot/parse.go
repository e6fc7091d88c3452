package bot

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"swagsearch/internal/model"
)

// ParseFilterSpec parses the key=value arguments of /addfilter.
// Format: name=<name> [brands=a,b] [keywords=x,y] [price=min-max] [markets=yahoo,mercari]
// Values may contain spaces; a new field starts at the next known key.
func ParseFilterSpec(args string) (*model.UserFilter, error) {
	fields, err := splitSpec(args)
	if err != nil {
		return nil, err
	}

	f := &model.UserFilter{}
	for key, value := range fields {
		switch key {
		case "name":
			f.Name = value
		case "brands":
			f.Brands = splitList(value)
		case "keywords":
			f.Keywords = splitList(value)
		case "price":
			min, max, err := parsePriceRange(value)
			if err != nil {
				return nil, err
			}
			f.PriceMin = min
			f.PriceMax = max
		case "markets":
			markets, err := parseMarkets(value)
			if err != nil {
				return nil, err
			}
			f.Markets = markets
		}
	}

	if f.Name == "" {
		return nil, fmt.Errorf("name is required")
	}
	return f, nil
}

var specKeys = []string{"name", "brands", "keywords", "price", "markets"}

// splitSpec cuts "name=rick grails brands=Rick Owens" into fields at
// each known key= marker.
func splitSpec(args string) (map[string]string, error) {
	args = strings.TrimSpace(args)
	if args == "" {
		return nil, fmt.Errorf("no arguments given")
	}

	type marker struct {
		key   string
		start int // index of the key
		value int // index just past "key="
	}
	var markers []marker
	for _, key := range specKeys {
		search := args
		offset := 0
		for {
			i := strings.Index(search, key+"=")
			if i < 0 {
				break
			}
			abs := offset + i
			// A key starts the string or follows whitespace.
			if abs == 0 || args[abs-1] == ' ' {
				markers = append(markers, marker{key: key, start: abs, value: abs + len(key) + 1})
			}
			offset = abs + len(key) + 1
			search = args[offset:]
		}
	}
	if len(markers) == 0 {
		return nil, fmt.Errorf("expected key=value arguments")
	}

	sort.Slice(markers, func(i, j int) bool { return markers[i].start < markers[j].start })

	fields := make(map[string]string, len(markers))
	for i, m := range markers {
		end := len(args)
		if i+1 < len(markers) {
			end = markers[i+1].start
		}
		value := strings.TrimSpace(args[m.value:end])
		if value == "" {
			return nil, fmt.Errorf("%s= needs a value", m.key)
		}
		if _, dup := fields[m.key]; dup {
			return nil, fmt.Errorf("duplicate field %s", m.key)
		}
		fields[m.key] = value
	}
	return fields, nil
}

func splitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

// parsePriceRange parses "min-max", "min-", or "-max" in JPY.
func parsePriceRange(value string) (*int64, *int64, error) {
	lo, hi, found := strings.Cut(value, "-")
	if !found {
		return nil, nil, fmt.Errorf("price must look like min-max, min-, or -max")
	}

	var min, max *int64
	if s := strings.TrimSpace(lo); s != "" {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil || v < 0 {
			return nil, nil, fmt.Errorf("invalid minimum price %q", s)
		}
		min = &v
	}
	if s := strings.TrimSpace(hi); s != "" {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil || v < 0 {
			return nil, nil, fmt.Errorf("invalid maximum price %q", s)
		}
		max = &v
	}
	if min == nil && max == nil {
		return nil, nil, fmt.Errorf("price range is empty")
	}
	if min != nil && max != nil && *min > *max {
		return nil, nil, fmt.Errorf("minimum price exceeds maximum")
	}
	return min, max, nil
}

func parseMarkets(value string) ([]model.Market, error) {
	var out []model.Market
	for _, item := range splitList(value) {
		switch m := model.Market(strings.ToLower(item)); m {
		case model.MarketYahoo, model.MarketMercari:
			out = append(out, m)
		default:
			return nil, fmt.Errorf("unknown market %q, use: yahoo, mercari", item)
		}
	}
	return out, nil
}

// ParseIDArg extracts a numeric ID from a command argument string.
func ParseIDArg(args string) (int64, error) {
	s := strings.TrimSpace(args)
	if s == "" {
		return 0, fmt.Errorf("filter ID is required")
	}
	id, err := strconv.ParseInt(strings.Fields(s)[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid filter ID %q", s)
	}
	return id, nil
}
