// Package listener provides a Postgres LISTEN/NOTIFY consumer for real-time
// session cancellation notices. It holds a dedicated pgx connection (not
// from the pool) listening on the `session_cancelled` channel.
//
// When a session flips to cancelled, the Postgres trigger fires pg_notify
// and this consumer receives the event, expands the confirmed participants,
// and dispatches an immediate cancellation notice. Cancellation is
// event-driven rather than windowed, so it bypasses the dispatch rule
// table; the notification_log row is its only marker.
package listener

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tribeapp/tribe-api/internal/dispatch"
)

const (
	channel          = "session_cancelled"
	reconnectBackoff = 5 * time.Second
	maxReconnect     = 30 * time.Second
)

// CancelEvent is the JSON payload from pg_notify('session_cancelled', ...).
type CancelEvent struct {
	SessionID uuid.UUID `json:"session_id"`
	Timestamp int64     `json:"ts"`
}

// Start opens a dedicated connection and listens on the session_cancelled
// channel. It reconnects automatically on connection loss. Blocks until ctx
// is cancelled. Intended to be called with `go`.
func Start(ctx context.Context, dbURL string, pool *pgxpool.Pool, sender dispatch.Sender, logger *slog.Logger) {
	backoff := reconnectBackoff

	for {
		err := listenLoop(ctx, dbURL, pool, sender, logger)
		if ctx.Err() != nil {
			logger.Info("Cancellation listener stopped (context cancelled)")
			return
		}

		logger.Error("Cancellation listener disconnected, reconnecting...",
			"error", err, "backoff", backoff)

		select {
		case <-time.After(backoff):
			backoff = min(backoff*2, maxReconnect)
		case <-ctx.Done():
			return
		}
	}
}

// listenLoop runs a single listen session. Returns when the connection
// drops or the context is cancelled.
func listenLoop(ctx context.Context, dbURL string, pool *pgxpool.Pool, sender dispatch.Sender, logger *slog.Logger) error {
	conn, err := pgx.Connect(ctx, dbURL)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close(context.Background())

	_, err = conn.Exec(ctx, "LISTEN "+channel)
	if err != nil {
		return fmt.Errorf("LISTEN %s: %w", channel, err)
	}
	logger.Info("Cancellation listener connected", "channel", channel)

	for {
		notification, err := conn.WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("wait for notification: %w", err)
		}

		var event CancelEvent
		if err := json.Unmarshal([]byte(notification.Payload), &event); err != nil {
			logger.Warn("Failed to parse cancellation event",
				"payload", notification.Payload, "error", err)
			continue
		}

		logger.Info("Session cancelled", "session_id", event.SessionID)

		// Process asynchronously to avoid blocking the listener
		go handleCancellation(ctx, pool, sender, event, logger)
	}
}

// handleCancellation expands the cancelled session's recipients and sends
// the notice. Per-recipient failures are logged, never fatal.
func handleCancellation(ctx context.Context, pool *pgxpool.Pool, sender dispatch.Sender, event CancelEvent, logger *slog.Logger) {
	var sport, location string
	if err := pool.QueryRow(ctx, "session_for_cancel", event.SessionID).Scan(&sport, &location); err != nil {
		logger.Warn("Cancelled session lookup failed", "session_id", event.SessionID, "error", err)
		return
	}

	recipients, err := sessionRecipients(ctx, pool, event.SessionID)
	if err != nil {
		logger.Warn("Recipient expansion failed", "session_id", event.SessionID, "error", err)
		return
	}

	notifyRecipients(ctx, sender, recipients, sport, location, func(userID uuid.UUID, ok bool, sendErr error) {
		errText := ""
		if sendErr != nil {
			errText = sendErr.Error()
		}
		_, _ = pool.Exec(ctx, "insert_notification_log",
			uuid.New(), dispatch.EventSessionCancelled, userID, event.SessionID, ok, errText)
	}, logger)
}

// notifyRecipients resolves and delivers the cancellation notice to each
// recipient. Per-recipient failures are logged and recorded, never fatal for
// the remaining recipients. record receives every send outcome.
func notifyRecipients(ctx context.Context, sender dispatch.Sender, recipients []dispatch.Recipient, sport, location string, record func(userID uuid.UUID, ok bool, sendErr error), logger *slog.Logger) {
	for _, rcpt := range recipients {
		msg, err := dispatch.CancellationMessage(rcpt.Language, sport, location)
		if err != nil {
			logger.Error("Cancellation message resolution failed", "user_id", rcpt.UserID, "error", err)
			continue
		}
		if err := sender.Send(ctx, rcpt, msg, ""); err != nil {
			logger.Warn("Cancellation notice failed", "user_id", rcpt.UserID, "error", err)
			record(rcpt.UserID, false, err)
			continue
		}
		record(rcpt.UserID, true, nil)
	}
}

func sessionRecipients(ctx context.Context, pool *pgxpool.Pool, sessionID uuid.UUID) ([]dispatch.Recipient, error) {
	rows, err := pool.Query(ctx, "session_recipients", sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recipients []dispatch.Recipient
	for rows.Next() {
		var r dispatch.Recipient
		if err := rows.Scan(&r.UserID, &r.Language, &r.Email, &r.DeviceTokens); err != nil {
			return nil, err
		}
		if len(r.DeviceTokens) == 0 && r.Email == "" {
			continue
		}
		recipients = append(recipients, r)
	}
	return recipients, rows.Err()
}
