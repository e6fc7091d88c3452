// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// MarketConfig holds the request-shaping tunables for one marketplace.
type MarketConfig struct {
	RequestsPerMinute int
	MinRequestDelay   time.Duration
	MaxRetries        int
	BackoffBase       time.Duration
	PageSize          int
	MaxPages          int
}

// Config holds the application configuration.
type Config struct {
	TelegramBotToken   string
	BroadcastChannelID int64
	BrandChannels      map[string]int64
	DatabasePath       string
	LogLevel           string
	AllowedUsers       []int64

	Yahoo   MarketConfig
	Mercari MarketConfig

	CycleInterval  time.Duration
	BrandsPerCycle int
	Brands         []string

	AlertMinDelay time.Duration
	DashboardAddr string
	JPYPerUSD     float64
}

// Load reads configuration from the environment, consulting a .env file
// in the working directory when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	if token == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}

	cfg := &Config{
		TelegramBotToken: token,
		DatabasePath:     envOr("DATABASE_PATH", "./data/swagsearch.db"),
		LogLevel:         envOr("LOG_LEVEL", "info"),
		DashboardAddr:    envOr("DASHBOARD_ADDR", ":8080"),
	}

	var err error
	if cfg.BroadcastChannelID, err = envInt64("BROADCAST_CHANNEL_ID", 0); err != nil {
		return nil, err
	}
	if cfg.AllowedUsers, err = parseIDList(os.Getenv("ALLOWED_USERS")); err != nil {
		return nil, err
	}
	if cfg.BrandChannels, err = parseBrandChannels(os.Getenv("BRAND_CHANNELS")); err != nil {
		return nil, err
	}

	if cfg.Yahoo, err = loadMarketConfig("YAHOO", MarketConfig{
		RequestsPerMinute: 80,
		MinRequestDelay:   300 * time.Millisecond,
		MaxRetries:        3,
		BackoffBase:       2 * time.Second,
		PageSize:          50,
		MaxPages:          2,
	}); err != nil {
		return nil, err
	}
	if cfg.Mercari, err = loadMarketConfig("MERCARI", MarketConfig{
		RequestsPerMinute: 80,
		MinRequestDelay:   500 * time.Millisecond,
		MaxRetries:        3,
		BackoffBase:       2 * time.Second,
		PageSize:          120,
		MaxPages:          2,
	}); err != nil {
		return nil, err
	}

	if cfg.CycleInterval, err = envDuration("CYCLE_INTERVAL", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.BrandsPerCycle, err = envInt("BRANDS_PER_CYCLE", 3); err != nil {
		return nil, err
	}
	if cfg.AlertMinDelay, err = envDuration("ALERT_MIN_DELAY", time.Second); err != nil {
		return nil, err
	}
	if cfg.JPYPerUSD, err = envFloat("JPY_PER_USD", 147.0); err != nil {
		return nil, err
	}

	cfg.Brands = parseList(envOr("BRANDS", ""))
	if len(cfg.Brands) == 0 {
		cfg.Brands = defaultBrands()
	}

	return cfg, nil
}

// IsUserAllowed checks whether a user ID is in the allow list.
// Returns true if the allow list is empty (all users permitted).
func (c *Config) IsUserAllowed(userID int64) bool {
	if len(c.AllowedUsers) == 0 {
		return true
	}
	for _, id := range c.AllowedUsers {
		if id == userID {
			return true
		}
	}
	return false
}

func loadMarketConfig(prefix string, def MarketConfig) (MarketConfig, error) {
	var err error
	out := def
	if out.RequestsPerMinute, err = envInt(prefix+"_REQUESTS_PER_MINUTE", def.RequestsPerMinute); err != nil {
		return out, err
	}
	if out.MinRequestDelay, err = envDuration(prefix+"_MIN_REQUEST_DELAY", def.MinRequestDelay); err != nil {
		return out, err
	}
	if out.MaxRetries, err = envInt(prefix+"_MAX_RETRIES", def.MaxRetries); err != nil {
		return out, err
	}
	if out.BackoffBase, err = envDuration(prefix+"_BACKOFF_BASE", def.BackoffBase); err != nil {
		return out, err
	}
	if out.PageSize, err = envInt(prefix+"_PAGE_SIZE", def.PageSize); err != nil {
		return out, err
	}
	if out.MaxPages, err = envInt(prefix+"_MAX_PAGES", def.MaxPages); err != nil {
		return out, err
	}
	return out, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return n, nil
}

func envInt64(key string, def int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return n, nil
}

func envFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return f, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return d, nil
}

func parseList(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func parseIDList(raw string) ([]int64, error) {
	if raw == "" {
		return nil, nil
	}
	var out []int64
	for _, s := range strings.Split(raw, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid user ID %q in ALLOWED_USERS: %w", s, err)
		}
		out = append(out, id)
	}
	return out, nil
}

// parseBrandChannels reads BRAND_CHANNELS entries of the form
// "Brand Name=chatID", comma separated, for example
// "Rick Owens=-1001,Raf Simons=-1002".
func parseBrandChannels(raw string) (map[string]int64, error) {
	if raw == "" {
		return nil, nil
	}
	out := make(map[string]int64)
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		brand, id, ok := strings.Cut(entry, "=")
		brand = strings.TrimSpace(brand)
		if !ok || brand == "" {
			return nil, fmt.Errorf("invalid entry %q in BRAND_CHANNELS, want Brand=chatID", entry)
		}
		chat, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid chat ID in BRAND_CHANNELS entry %q: %w", entry, err)
		}
		out[brand] = chat
	}
	return out, nil
}

func defaultBrands() []string {
	return []string{
		"Balenciaga",
		"Bottega Veneta",
		"Chrome Hearts",
		"Comme Des Garcons",
		"Helmut Lang",
		"Issey Miyake",
		"Jean Paul Gaultier",
		"Junya Watanabe",
		"Maison Margiela",
		"Martine Rose",
		"Number Nine",
		"Prada",
		"Raf Simons",
		"Rick Owens",
		"Sacai",
		"Saint Laurent",
		"Thom Browne",
		"Undercover",
		"Vetements",
		"Yohji Yamamoto",
	}
}
