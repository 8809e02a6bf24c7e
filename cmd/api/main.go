// Command api is the Tribe API server.
//
// Usage:
//
//	tribe-api
//	API_PORT=8080 tribe-api

// @title Tribe API
// @version 1.0.0
// @description Social fitness API: training sessions, participants, devices, and the time-windowed notification dispatch engine.
// @host localhost:8000
// @BasePath /api/v1
// @schemes http https
// @contact.name Tribe
// @license.name MIT
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"

	"github.com/tribeapp/tribe-api/internal/api"
	"github.com/tribeapp/tribe-api/internal/cache"
	"github.com/tribeapp/tribe-api/internal/config"
	"github.com/tribeapp/tribe-api/internal/db"
	"github.com/tribeapp/tribe-api/internal/delivery"
	"github.com/tribeapp/tribe-api/internal/dispatch"
	"github.com/tribeapp/tribe-api/internal/listener"
	"github.com/tribeapp/tribe-api/internal/maintenance"

	_ "github.com/tribeapp/tribe-api/docs" // swagger docs
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	// Load .env if present
	_ = godotenv.Load(".env")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Context with signal handling
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	// Connect to database
	logger.Info("Connecting to database...")
	pool, err := db.New(ctx, cfg)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("Database connected",
		"min_conns", cfg.DBPoolMinConns,
		"max_conns", cfg.DBPoolMaxConns)

	// Initialize cache (dispatch run lock + morning stats)
	appCache, err := cache.New(ctx, cfg.RedisURL)
	if err != nil {
		logger.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer appCache.Close()
	logger.Info("Cache initialized", "enabled", appCache.Enabled())

	// Delivery channels. Push is nil-safe when FCM is unconfigured; email
	// falls back to dev-mode logging when SMTP is unconfigured.
	pushSender := delivery.NewPushSender(cfg.FCMServerKey, logger)
	if pushSender == nil {
		logger.Info("Push delivery disabled (no FCM_SERVER_KEY)")
	}
	emailSender := delivery.NewEmailSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.SMTPFrom, logger)
	notifier := delivery.NewNotifier(pushSender, emailSender, pool.Pool, logger)

	// Dispatch engine
	local := dispatch.FixedOffsetLocal(cfg.LocalTZOffsetMinutes)
	store := dispatch.NewPGStore(pool.Pool, local, appCache, logger)
	engine := dispatch.NewEngine(store, notifier, dispatch.Evaluator{Local: local}, logger,
		dispatch.WithLock(appCache),
		dispatch.WithBaseURL(cfg.AppBaseURL),
	)

	// Start LISTEN/NOTIFY consumer for real-time session cancellations
	go listener.Start(ctx, cfg.DatabaseURL, pool.Pool, notifier, logger)

	// Start maintenance tickers (log purge, device pruning, session completion)
	go maintenance.Start(ctx, pool.Pool, maintenance.DefaultConfig(), logger)

	// Create router
	router := api.NewRouter(pool.Pool, appCache, engine, cfg)

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.APIHost, cfg.APIPort)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	go func() {
		logger.Info("Starting Tribe API",
			"addr", addr,
			"environment", cfg.Environment,
			"docs", fmt.Sprintf("http://localhost:%d/docs/", cfg.APIPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt
	<-ctx.Done()
	logger.Info("Shutting down...")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown error", "error", err)
	}
	logger.Info("Server stopped")
}
