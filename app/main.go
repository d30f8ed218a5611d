package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lysyi3m/news-comb/app/aggregate"
	"github.com/lysyi3m/news-comb/app/api"
	"github.com/lysyi3m/news-comb/app/cache"
	"github.com/lysyi3m/news-comb/app/catalog"
	"github.com/lysyi3m/news-comb/app/cfg"
	"github.com/lysyi3m/news-comb/app/database"
	"github.com/lysyi3m/news-comb/app/feed"
	"github.com/lysyi3m/news-comb/app/fetch"
	"github.com/lysyi3m/news-comb/app/health"
	"github.com/lysyi3m/news-comb/app/prefs"
	"github.com/lysyi3m/news-comb/app/tasks"
)

func main() {
	appCfg, err := cfg.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if appCfg == nil {
		// Help was shown, exit gracefully
		return
	}

	logLevel := slog.LevelInfo
	if appCfg.Debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))

	slog.Info("Starting News Comb server", "version", appCfg.Version)

	db, err := database.NewConnection(appCfg.DBPath)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	version, dirty, err := database.RunMigrations(db)
	if err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("Database ready", "path", appCfg.DBPath, "migration_version", version, "dirty", dirty)

	feedCatalog, err := catalog.Load(appCfg.FeedsDir)
	if err != nil {
		slog.Error("Failed to load feed catalog", "dir", appCfg.FeedsDir, "error", err)
		os.Exit(1)
	}
	slog.Info("Feed catalog loaded", "dir", appCfg.FeedsDir, "feeds", feedCatalog.Count())

	itemRepo := database.NewItemRepository(db)
	healthRepo := database.NewHealthRepository(db)
	prefsRepo := database.NewPreferenceRepository(db)

	tracker := health.NewTracker(healthRepo)
	preferences := prefs.New(prefsRepo)

	var store cache.Store
	if appCfg.RedisAddr != "" {
		store, err = cache.NewRedisStore(appCfg.RedisAddr)
		if err != nil {
			slog.Error("Failed to connect to redis", "addr", appCfg.RedisAddr, "error", err)
			os.Exit(1)
		}
		slog.Info("Using redis freshness cache", "addr", appCfg.RedisAddr)
	} else {
		store = cache.NewMemoryStore()
		slog.Info("Using in-memory freshness cache")
	}
	defer store.Close()

	httpClient := fetch.NewHTTPClient()
	parser := feed.NewParser()
	normalizer := feed.NewNormalizer()
	extractor := feed.NewContentExtractor()
	guard := fetch.NewGuard()
	fetcher := fetch.NewFetcher(httpClient, parser, appCfg.UserAgent)

	aggregator := aggregate.New(feedCatalog, preferences, tracker, fetcher, normalizer, store)

	scheduler := tasks.NewScheduler(feedCatalog, preferences, tracker, fetcher,
		normalizer, extractor, httpClient, itemRepo)
	scheduler.Start()
	defer scheduler.Stop()
	slog.Info("Background scheduler started",
		"workers", appCfg.WorkerCount,
		"interval", time.Duration(appCfg.SchedulerInterval)*time.Second)

	handler := api.NewHandler(feedCatalog, preferences, tracker, itemRepo, guard,
		fetcher, extractor, aggregator, store, httpClient, appCfg.UserAgent)

	limiter := api.NewRateLimiter(appCfg.RateLimitRequests,
		time.Duration(appCfg.RateLimitWindow)*time.Second)

	baseURL := appCfg.BaseUrl
	if baseURL == "" {
		baseURL = "http://localhost:" + appCfg.Port
	}
	server := api.NewServer(handler, appCfg.APIAccessKey, baseURL, limiter)

	httpServer := &http.Server{
		Addr:         ":" + appCfg.Port,
		Handler:      server,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "port", appCfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		slog.Info("Received shutdown signal", "signal", sig.String())
	case err := <-serverErrChan:
		slog.Error("Server error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
