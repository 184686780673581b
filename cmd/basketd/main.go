// basketd serves the basket reconciliation API: carts per session, list to
// cart transfers gated by retailer inventory, and retailer exports.
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

	"basket-sync/internal/adapter"
	"basket-sync/internal/cart"
	"basket-sync/internal/config"
	"basket-sync/internal/handler"
	"basket-sync/internal/inventory"
	"basket-sync/internal/middleware"
	"basket-sync/internal/normalize"
	"basket-sync/internal/reconcile"
	"basket-sync/internal/storefront"
	"basket-sync/internal/transport"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Initialize structured logger
	logger := initLogger()

	// Load configuration
	ctx := context.Background()
	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger.Info("configuration loaded",
		slog.String("environment", cfg.Environment),
		slog.String("default_retailer", cfg.DefaultRetailer),
		slog.Int("configured_retailers", len(cfg.Retailers)),
		slog.Int("probe_concurrency", cfg.ProbeConcurrency),
		slog.Duration("probe_timeout", cfg.ProbeTimeout),
	)

	normalizer, err := createNormalizer(cfg)
	if err != nil {
		return fmt.Errorf("loading lexicon: %w", err)
	}

	retailers, err := createRetailers(cfg)
	if err != nil {
		return fmt.Errorf("creating retailers: %w", err)
	}

	cache, closeCache, err := createCache(cfg)
	if err != nil {
		return fmt.Errorf("creating availability cache: %w", err)
	}
	defer closeCache()

	store := cart.New(normalizer)
	engine := reconcile.New(store, reconcile.Options{
		Logger:           logger,
		ProbeConcurrency: cfg.ProbeConcurrency,
		ProbeTimeout:     cfg.ProbeTimeout,
	})

	h := handler.New(engine, store, retailers, logger,
		handler.WithAvailabilityCache(cache, cfg.CacheTTL))

	// Setup routes
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	// Apply middleware chain: request ID → logging → recovery → session → handler
	// Request ID is outermost so both logging and recovery can report it.
	// Session runs inside logging so the resolved session is logged.
	httpHandler := middleware.Chain(
		middleware.RequestID(),
		middleware.Logging(logger),
		middleware.Recovery(logger),
		middleware.Session(logger),
	)(mux)

	// Create HTTP server with timeouts
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      httpHandler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Channel for shutdown signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Channel for server errors
	serverErr := make(chan error, 1)

	go func() {
		logger.Info("server starting",
			slog.String("port", cfg.Port),
			slog.String("addr", server.Addr),
		)
		serverErr <- server.ListenAndServe()
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-serverErr:
		if err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-shutdown:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		// Give outstanding transfers time to finish
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			server.Close()
			return fmt.Errorf("shutdown error: %w", err)
		}
	}

	logger.Info("server stopped", slog.Int("sessions", store.Sessions()))
	return nil
}

// createNormalizer builds the item normalizer, extended by LEXICON_FILE
// when set.
func createNormalizer(cfg *config.Config) (*normalize.Normalizer, error) {
	if cfg.LexiconFile == "" {
		return normalize.Default(), nil
	}
	lex, err := normalize.LoadLexicon(cfg.LexiconFile)
	if err != nil {
		return nil, err
	}
	return normalize.New(lex), nil
}

// createRetailers merges configured retailers onto the built-in ones.
func createRetailers(cfg *config.Config) (*adapter.Registry, error) {
	configured := make([]storefront.Config, 0, len(cfg.Retailers))
	for _, r := range cfg.Retailers {
		configured = append(configured, storefront.Config{
			Name:         r.Name,
			DisplayName:  r.DisplayName,
			SearchURL:    r.SearchURL,
			CheckoutURL:  r.CheckoutURL,
			InventoryURL: r.InventoryURL,
			APIKey:       r.APIKey,
			TLSProfile:   transport.Profile(r.TLSProfile),
			Timeout:      cfg.ProbeTimeout,
		})
	}
	return storefront.NewRegistry(cfg.DefaultRetailer, storefront.Merge(storefront.Builtin(), configured))
}

// createCache returns the shared Redis cache when REDIS_URL is set and an
// in-process cache otherwise.
func createCache(cfg *config.Config) (inventory.Cache, func(), error) {
	if cfg.RedisURL == "" {
		return inventory.NewMemoryCache(inventory.MaxCacheEntries), func() {}, nil
	}
	rc, err := inventory.NewRedisCache(cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	return rc, func() { rc.Close() }, nil
}

// initLogger creates a structured logger configured for the environment.
// Production uses JSON format for GCP Cloud Logging compatibility.
// Development uses text format for readability.
func initLogger() *slog.Logger {
	level := slog.LevelInfo
	switch os.Getenv("LOG_LEVEL") {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level: level,
		// Add source location in debug mode
		AddSource: level == slog.LevelDebug,
	}

	// JSON for production (Cloud Logging compatible), text for development
	if os.Getenv("ENVIRONMENT") == "production" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
