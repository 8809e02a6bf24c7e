package delivery

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tribeapp/tribe-api/internal/dispatch"
)

// Notifier routes one notification to a recipient's best channel: every
// active device token first, email as fallback. Implements dispatch.Sender.
type Notifier struct {
	push   *PushSender
	email  *EmailSender
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewNotifier wires the channel router. push may be nil (disabled).
func NewNotifier(push *PushSender, email *EmailSender, pool *pgxpool.Pool, logger *slog.Logger) *Notifier {
	return &Notifier{push: push, email: email, pool: pool, logger: logger}
}

// Send delivers the message. Succeeds when at least one channel accepted
// it. Device token failure counts are tracked so maintenance can retire
// dead subscriptions.
func (n *Notifier) Send(ctx context.Context, to dispatch.Recipient, msg dispatch.Message, deepLink string) error {
	var okTokens, badTokens []string

	if n.push != nil {
		for _, token := range to.DeviceTokens {
			if err := n.push.Send(ctx, token, msg.Title, msg.Body, deepLink); err != nil {
				badTokens = append(badTokens, token)
				n.logger.Warn("push failed", "user_id", to.UserID, "error", err)
				continue
			}
			okTokens = append(okTokens, token)
		}
	}
	n.recordTokenResults(ctx, to, okTokens, badTokens)

	if len(okTokens) > 0 {
		return nil
	}

	if to.Email != "" {
		if err := n.email.SendNotification(to.Email, msg.Title, msg.Body, deepLink); err != nil {
			return fmt.Errorf("all channels failed: %w", err)
		}
		return nil
	}

	return fmt.Errorf("no deliverable channel for user %s", to.UserID)
}

func (n *Notifier) recordTokenResults(ctx context.Context, to dispatch.Recipient, okTokens, badTokens []string) {
	if len(badTokens) > 0 {
		if _, err := n.pool.Exec(ctx, "record_device_failure", to.UserID, badTokens); err != nil {
			n.logger.Warn("device failure record failed", "user_id", to.UserID, "error", err)
		}
	}
	if len(okTokens) > 0 {
		if _, err := n.pool.Exec(ctx, "reset_device_failures", to.UserID, okTokens); err != nil {
			n.logger.Warn("device failure reset failed", "user_id", to.UserID, "error", err)
		}
	}
}
