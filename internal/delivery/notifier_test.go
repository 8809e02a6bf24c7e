package delivery

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"

	"github.com/tribeapp/tribe-api/internal/dispatch"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPushSenderDisabledWithoutKey(t *testing.T) {
	if s := NewPushSender("", quietLogger()); s != nil {
		t.Fatalf("push sender should be nil when FCM is unconfigured")
	}
	if s := NewPushSender("key", quietLogger()); s == nil {
		t.Fatalf("push sender should be created with a server key")
	}
}

func TestEmailDevModeSucceedsWithoutSMTP(t *testing.T) {
	s := NewEmailSender("", "", "", "", "Tribe <no-reply@tribe.fit>", quietLogger())
	if err := s.SendNotification("user@example.com", "Title", "Body", "https://tribe.fit"); err != nil {
		t.Fatalf("dev-mode email should not error: %v", err)
	}
}

func TestNotifierFallsBackToEmail(t *testing.T) {
	// No push channel, no device tokens: the email fallback carries the send.
	email := NewEmailSender("", "", "", "", "Tribe <no-reply@tribe.fit>", quietLogger())
	n := NewNotifier(nil, email, nil, quietLogger())

	rcpt := dispatch.Recipient{UserID: uuid.New(), Language: "en", Email: "user@example.com"}
	msg := dispatch.Message{Title: "Starting soon!", Body: "Your session starts in 15 minutes."}

	if err := n.Send(context.Background(), rcpt, msg, "https://tribe.fit/sessions/x"); err != nil {
		t.Fatalf("send: %v", err)
	}
}

func TestNotifierErrorsWithoutChannel(t *testing.T) {
	email := NewEmailSender("", "", "", "", "Tribe <no-reply@tribe.fit>", quietLogger())
	n := NewNotifier(nil, email, nil, quietLogger())

	rcpt := dispatch.Recipient{UserID: uuid.New(), Language: "en"}
	err := n.Send(context.Background(), rcpt, dispatch.Message{Title: "t", Body: "b"}, "")
	if err == nil {
		t.Fatalf("recipient with no channel should error")
	}
}
