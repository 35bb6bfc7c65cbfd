package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/maltedev/price-tracker/internal/api"
	"github.com/maltedev/price-tracker/internal/browser"
	"github.com/maltedev/price-tracker/internal/config"
	"github.com/maltedev/price-tracker/internal/database"
	"github.com/maltedev/price-tracker/internal/fetch"
	"github.com/maltedev/price-tracker/internal/history"
	"github.com/maltedev/price-tracker/internal/ratelimit"
	"github.com/maltedev/price-tracker/internal/scraper"
	"github.com/maltedev/price-tracker/internal/storage"
	"github.com/maltedev/price-tracker/internal/tracker"
	"github.com/redis/go-redis/v9"
)

func main() {
	// a missing .env is fine, the environment may already be populated
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer st.close()

	if st.outbox != nil && cfg.Redis.Addr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, events stay queued in the outbox", "addr", cfg.Redis.Addr, "error", err)
		}

		relay := database.NewRelay(st.outbox, redisClient, logger, database.RelayConfig{
			PollInterval: cfg.Redis.PollInterval,
		})
		go func() {
			if err := relay.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("relay stopped with error", "error", err)
			}
		}()
	}

	if cfg.Proxy.APIKey == "" {
		logger.Warn("SCRAPER_API_KEY not set, Flipkart scraping will fail")
	}

	browserOpts := browser.DefaultOptions()
	browserOpts.Headless = cfg.Browser.Headless
	browserOpts.Timeout = cfg.Browser.Timeout
	browserOpts.Locale = cfg.Browser.Locale
	if cfg.Browser.UserAgent != "" {
		browserOpts.UserAgent = cfg.Browser.UserAgent
	}

	amazon := scraper.NewAmazonScraper(
		browser.NewPlaywrightLauncher(browserOpts, logger),
		ratelimit.NewSimpleRateLimiter(cfg.RateLimit.Min, cfg.RateLimit.Max),
		logger,
	)
	flipkart := scraper.NewFlipkartScraper(
		fetch.NewProxyClient(fetch.Options{
			APIKey:   cfg.Proxy.APIKey,
			Endpoint: cfg.Proxy.Endpoint,
			Timeout:  cfg.Proxy.Timeout,
		}, logger),
		ratelimit.NewSimpleRateLimiter(cfg.RateLimit.Min, cfg.RateLimit.Max),
		logger,
	)

	var stats api.OutboxStats
	if st.outbox != nil {
		stats = st.outbox
	}

	handlers := api.NewHandlers(
		tracker.NewService(st.products, logger, amazon, flipkart),
		history.NewService(st.products, logger),
		stats,
		logger,
	)
	if st.db != nil {
		handlers.WithDatabase(st.db)
	}

	server := &http.Server{
		Addr: cfg.Server.Addr(),
		Handler: api.NewRouter(handlers, api.RouterOptions{
			AllowedOrigins: cfg.CORS.AllowedOrigins,
			RequestTimeout: cfg.Server.RequestTimeout,
		}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutting down server...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}
	}()

	logger.Info("server starting", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

// openedStore holds what openStore built. db and outbox are nil for the file store.
type openedStore struct {
	products tracker.Store
	db       *database.DB
	outbox   *database.OutboxRepository
	close    func()
}

// openStore picks the repository by DATABASE_URL scheme.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*openedStore, error) {
	kind, err := config.StoreKind(cfg.Database.URL)
	if err != nil {
		return nil, err
	}

	if kind == config.StoreFile {
		path := config.FilePath(cfg.Database.URL)
		store, err := storage.NewProductStore(path)
		if err != nil {
			return nil, err
		}
		logger.Info("using file store", "path", path, "products", store.Count())
		return &openedStore{products: store, close: func() {}}, nil
	}

	db, err := database.New(ctx, database.Config{
		URL:         cfg.Database.URL,
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		MaxConnLife: cfg.Database.MaxConnLife,
		MaxConnIdle: cfg.Database.MaxConnIdle,
	})
	if err != nil {
		return nil, err
	}

	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	outbox := database.NewOutboxRepository(db)
	logger.Info("using postgres store", "max_conns", cfg.Database.MaxConns, "min_conns", cfg.Database.MinConns)
	return &openedStore{
		products: database.NewProductRepository(db, outbox, cfg.Redis.Stream),
		db:       db,
		outbox:   outbox,
		close:    db.Close,
	}, nil
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(cfg.Format) == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
