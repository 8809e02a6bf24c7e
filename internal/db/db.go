// Package db provides a pgxpool-based connection pool with prepared statement
// registration and health checking.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tribeapp/tribe-api/internal/config"
)

// Pool wraps pgxpool.Pool with application-specific helpers.
type Pool struct {
	*pgxpool.Pool
}

// New creates and validates a new connection pool.
func New(ctx context.Context, cfg *config.Config) (*Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	poolCfg.MinConns = int32(cfg.DBPoolMinConns)
	poolCfg.MaxConns = int32(cfg.DBPoolMaxConns)
	poolCfg.MaxConnLifetime = cfg.DBPoolMaxLife
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	// Register prepared statements on every new connection.
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return registerPreparedStatements(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	// Verify connectivity
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Pool{Pool: pool}, nil
}

// HealthCheck runs a trivial query to verify the database is reachable.
func (p *Pool) HealthCheck(ctx context.Context) error {
	var n int
	return p.QueryRow(ctx, "health_check").Scan(&n)
}

// registerPreparedStatements registers all statements the API and dispatch
// layers use. Prepared statements eliminate parse overhead on every request.
// Queries whose column names vary by dispatch rule (sent markers, last-sent
// timestamps) are built in internal/dispatch from the rule table instead.
func registerPreparedStatements(ctx context.Context, conn *pgx.Conn) error {
	stmts := map[string]string{
		// Health
		"health_check": "SELECT 1",

		// Dispatch: recipient expansion for a session — creator plus
		// confirmed participants, deduplicated, push-or-email reachable,
		// reminders not disabled.
		"session_recipients": `
			SELECT DISTINCT u.id, u.language, u.email,
			       COALESCE(array_agg(d.token) FILTER (WHERE d.token IS NOT NULL), '{}')
			FROM users u
			LEFT JOIN devices d ON d.user_id = u.id AND d.active = true
			WHERE u.notify_reminders = true
			  AND (u.id = (SELECT creator_id FROM sessions WHERE id = $1)
			       OR u.id IN (SELECT user_id FROM participants
			                   WHERE session_id = $1 AND status = 'confirmed'))
			GROUP BY u.id, u.language, u.email`,

		// Dispatch: morning motivation context
		"sessions_today_count": `
			SELECT COUNT(*) FROM sessions
			WHERE status = 'active' AND scheduled_start >= $1 AND scheduled_start < $2`,
		"sessions_today_coords": `
			SELECT lat, lon FROM sessions
			WHERE status = 'active' AND scheduled_start >= $1 AND scheduled_start < $2
			  AND lat IS NOT NULL AND lon IS NOT NULL`,
		"participants_today_count": `
			SELECT COUNT(DISTINCT p.user_id)
			FROM participants p
			JOIN sessions s ON s.id = p.session_id
			WHERE p.status = 'confirmed' AND s.status = 'active'
			  AND s.scheduled_start >= $1 AND s.scheduled_start < $2`,

		// Dispatch: weekly recap context
		"recap_week_stats": `
			SELECT COUNT(DISTINCT s.id),
			       COALESCE(SUM(s.duration_minutes), 0)
			FROM sessions s
			JOIN participants p ON p.session_id = s.id AND p.status = 'confirmed'
			WHERE p.user_id = $1 AND s.status = 'completed'
			  AND s.scheduled_start >= $2 AND s.scheduled_start < $3`,
		"recap_partners": `
			SELECT COUNT(DISTINCT p2.user_id)
			FROM participants p1
			JOIN participants p2 ON p2.session_id = p1.session_id
			 AND p2.user_id <> p1.user_id AND p2.status = 'confirmed'
			JOIN sessions s ON s.id = p1.session_id
			WHERE p1.user_id = $1 AND p1.status = 'confirmed'
			  AND s.scheduled_start >= $2 AND s.scheduled_start < $3`,
		"recap_new_connections": `
			SELECT COUNT(DISTINCT p2.user_id)
			FROM participants p1
			JOIN participants p2 ON p2.session_id = p1.session_id
			 AND p2.user_id <> p1.user_id AND p2.status = 'confirmed'
			JOIN sessions s ON s.id = p1.session_id
			WHERE p1.user_id = $1 AND p1.status = 'confirmed'
			  AND s.scheduled_start >= $2 AND s.scheduled_start < $3
			  AND NOT EXISTS (
				SELECT 1
				FROM participants q1
				JOIN participants q2 ON q2.session_id = q1.session_id
				 AND q2.user_id = p2.user_id AND q2.status = 'confirmed'
				JOIN sessions s2 ON s2.id = q1.session_id
				WHERE q1.user_id = $1 AND q1.status = 'confirmed'
				  AND s2.scheduled_start < $2)`,
		"recap_session_times": `
			SELECT s.scheduled_start
			FROM sessions s
			JOIN participants p ON p.session_id = s.id AND p.status = 'confirmed'
			WHERE p.user_id = $1 AND s.status = 'completed' AND s.scheduled_start >= $2`,

		// Dispatch: cancellation fan-out (LISTEN/NOTIFY consumer)
		"session_for_cancel": `
			SELECT sport, location_name FROM sessions WHERE id = $1`,

		// Dispatch: delivery log
		"insert_notification_log": `
			INSERT INTO notification_log (id, rule, user_id, session_id, ok, error, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, NOW())`,
		"record_device_failure": `
			UPDATE devices SET failure_count = failure_count + 1
			WHERE user_id = $1 AND token = ANY($2)`,
		"reset_device_failures": `
			UPDATE devices SET failure_count = 0, last_seen_at = NOW()
			WHERE user_id = $1 AND token = ANY($2)`,

		// Devices API
		"upsert_device": `
			INSERT INTO devices (user_id, token, active, failure_count, created_at, last_seen_at)
			VALUES ($1, $2, true, 0, NOW(), NOW())
			ON CONFLICT (user_id, token)
			DO UPDATE SET active = true, failure_count = 0, last_seen_at = NOW()`,
		"deactivate_device": `
			UPDATE devices SET active = false WHERE user_id = $1 AND token = $2`,

		// Sessions API
		"insert_session": `
			INSERT INTO sessions (id, sport, location_name, lat, lon, scheduled_start,
			                      duration_minutes, capacity, creator_id, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 'active', NOW(), NOW())`,
		"upcoming_sessions": `
			SELECT id, sport, location_name, lat, lon, scheduled_start,
			       duration_minutes, capacity, creator_id
			FROM sessions
			WHERE status = 'active' AND scheduled_start >= NOW()
			ORDER BY scheduled_start
			LIMIT $1`,
		"insert_participant": `
			INSERT INTO participants (session_id, user_id, status, created_at)
			VALUES ($1, $2, 'pending', NOW())
			ON CONFLICT (session_id, user_id) DO NOTHING`,
		"confirm_participant": `
			UPDATE participants SET status = 'confirmed'
			WHERE session_id = $1 AND user_id = $2`,
		"session_creator": `
			SELECT creator_id FROM sessions WHERE id = $1`,

		// Activity tracking — inactivity rules key off this.
		"touch_user_activity": `
			UPDATE users SET last_activity_at = NOW() WHERE id = $1`,
	}

	for name, sql := range stmts {
		if _, err := conn.Prepare(ctx, name, sql); err != nil {
			return fmt.Errorf("prepare %q: %w", name, err)
		}
	}
	return nil
}
