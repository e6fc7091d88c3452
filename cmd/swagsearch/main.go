package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"swagsearch/internal/alert"
	"swagsearch/internal/bot"
	"swagsearch/internal/config"
	"swagsearch/internal/currency"
	"swagsearch/internal/dashboard"
	"swagsearch/internal/fetcher"
	"swagsearch/internal/marketplace/mercari"
	"swagsearch/internal/marketplace/yahoo"
	"swagsearch/internal/paginate"
	"swagsearch/internal/ratelimit"
	"swagsearch/internal/scheduler"
	"swagsearch/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)

	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			log.Error("create data directory", "path", dir, "error", err)
			os.Exit(1)
		}
	}

	store, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		log.Error("open database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	conv := currency.New(cfg.JPYPerUSD)

	b, err := bot.New(cfg.TelegramBotToken, store, cfg, conv, log)
	if err != nil {
		log.Error("create bot", "error", err)
		os.Exit(1)
	}

	sources, err := buildSources(cfg, store, log)
	if err != nil {
		log.Error("build marketplace sources", "error", err)
		os.Exit(1)
	}

	routes := alert.Routes{Broadcast: cfg.BroadcastChannelID, ByBrand: cfg.BrandChannels}
	router := alert.New(b, store, routes, cfg.AlertMinDelay, log)
	sched := scheduler.New(store, sources, router, cfg.Brands, cfg.BrandsPerCycle, cfg.CycleInterval, log)
	dash := dashboard.New(store, conv, log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info("starting swagsearch",
		"brands", len(cfg.Brands),
		"cycle_interval", cfg.CycleInterval,
		"dashboard", cfg.DashboardAddr,
	)

	go sched.Run(ctx)
	go func() {
		if err := dash.Run(cfg.DashboardAddr); err != nil {
			log.Error("dashboard server stopped", "error", err)
		}
	}()

	b.Run(ctx)

	log.Info("swagsearch stopped")
}

// buildSources wires one rate-limited fetcher and pagination controller
// per marketplace. Both markets share the limiter manager so per-domain
// budgets hold across the process.
func buildSources(cfg *config.Config, store storage.Storage, log *slog.Logger) ([]scheduler.Source, error) {
	manager := ratelimit.NewManager(log)
	httpClient := &http.Client{Timeout: 30 * time.Second}

	yahooFetcher := fetcher.New(httpClient,
		manager.Limiter("auctions.yahoo.co.jp", cfg.Yahoo.RequestsPerMinute, cfg.Yahoo.BackoffBase),
		fetcher.Options{
			MaxRetries:  cfg.Yahoo.MaxRetries,
			BackoffBase: cfg.Yahoo.BackoffBase,
			MinDelay:    cfg.Yahoo.MinRequestDelay,
		}, log)
	yahooClient := yahoo.New(yahooFetcher, cfg.Yahoo.PageSize, log)

	mercariFetcher := fetcher.New(httpClient,
		manager.Limiter("api.mercari.jp", cfg.Mercari.RequestsPerMinute, cfg.Mercari.BackoffBase),
		fetcher.Options{
			MaxRetries:  cfg.Mercari.MaxRetries,
			BackoffBase: cfg.Mercari.BackoffBase,
			MinDelay:    cfg.Mercari.MinRequestDelay,
		}, log)
	mercariClient, err := mercari.New(mercariFetcher, cfg.Mercari.PageSize, log)
	if err != nil {
		return nil, err
	}

	return []scheduler.Source{
		{Fetcher: yahooClient, Pager: paginate.New(store, cfg.Yahoo.MaxPages, log)},
		{Fetcher: mercariClient, Pager: paginate.New(store, cfg.Mercari.MaxPages, log)},
	}, nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
