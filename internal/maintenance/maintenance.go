// Package maintenance runs periodic background tasks as Go tickers.
// Replaces pg_cron — all scheduled work is driven from Go since the API is
// already a persistent, long-running service (required for LISTEN/NOTIFY).
package maintenance

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Config controls maintenance task intervals. Zero duration disables a task.
type Config struct {
	CleanupInterval  time.Duration // Old notification_log rows
	DevicesInterval  time.Duration // Deactivate repeatedly failing device tokens
	SessionsInterval time.Duration // Mark long-finished sessions completed
}

// DefaultConfig returns sensible production defaults.
func DefaultConfig() Config {
	return Config{
		CleanupInterval:  6 * time.Hour,
		DevicesInterval:  1 * time.Hour,
		SessionsInterval: 30 * time.Minute,
	}
}

// Start launches all configured maintenance tickers. Blocks until ctx is
// cancelled. Intended to be called with `go`.
func Start(ctx context.Context, pool *pgxpool.Pool, cfg Config, logger *slog.Logger) {
	logger.Info("Maintenance tickers started",
		"cleanup", cfg.CleanupInterval,
		"devices", cfg.DevicesInterval,
		"sessions", cfg.SessionsInterval)

	tickers := make([]*time.Ticker, 0, 3)
	defer func() {
		for _, t := range tickers {
			t.Stop()
		}
	}()

	if cfg.CleanupInterval > 0 {
		t := time.NewTicker(cfg.CleanupInterval)
		tickers = append(tickers, t)
		go runLoop(ctx, t.C, func() { purgeLog(ctx, pool, logger) })
	}

	if cfg.DevicesInterval > 0 {
		t := time.NewTicker(cfg.DevicesInterval)
		tickers = append(tickers, t)
		go runLoop(ctx, t.C, func() { pruneDevices(ctx, pool, logger) })
	}

	if cfg.SessionsInterval > 0 {
		t := time.NewTicker(cfg.SessionsInterval)
		tickers = append(tickers, t)
		go runLoop(ctx, t.C, func() { completeSessions(ctx, pool, logger) })
	}

	<-ctx.Done()
	logger.Info("Maintenance tickers stopped")
}

func runLoop(ctx context.Context, ch <-chan time.Time, fn func()) {
	for {
		select {
		case <-ch:
			fn()
		case <-ctx.Done():
			return
		}
	}
}

// --------------------------------------------------------------------------
// Task implementations
// --------------------------------------------------------------------------

// purgeLog removes notification_log rows older than 30 days. The log exists
// for delivery audits, not for dispatch decisions, so it can be trimmed
// freely.
func purgeLog(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) {
	tag, err := pool.Exec(ctx, `
		DELETE FROM notification_log
		WHERE created_at < NOW() - INTERVAL '30 days'`)
	if err != nil {
		logger.Warn("Cleanup: failed to purge notification log", "error", err)
	} else if tag.RowsAffected() > 0 {
		logger.Info("Cleanup: purged notification log rows", "count", tag.RowsAffected())
	}
}

// pruneDevices deactivates device tokens that have accumulated too many
// consecutive push failures. FCM invalidates tokens when the app is
// uninstalled; continuing to target them wastes the send budget.
func pruneDevices(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) {
	tag, err := pool.Exec(ctx, `
		UPDATE devices
		SET active = false
		WHERE active = true
		  AND failure_count >= 5`)
	if err != nil {
		logger.Warn("Devices: failed to deactivate stale tokens", "error", err)
	} else if tag.RowsAffected() > 0 {
		logger.Info("Devices: deactivated stale tokens", "count", tag.RowsAffected())
	}
}

// completeSessions flips sessions to completed once 24h have passed since
// their scheduled end. Keeps the followup selector's candidate set small.
func completeSessions(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) {
	tag, err := pool.Exec(ctx, `
		UPDATE sessions
		SET status = 'completed', updated_at = NOW()
		WHERE status = 'active'
		  AND scheduled_start + make_interval(mins => duration_minutes) < NOW() - INTERVAL '24 hours'`)
	if err != nil {
		logger.Warn("Sessions: failed to mark completed", "error", err)
	} else if tag.RowsAffected() > 0 {
		logger.Info("Sessions: marked completed", "count", tag.RowsAffected())
	}
}
