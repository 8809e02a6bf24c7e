package listener

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/tribeapp/tribe-api/internal/dispatch"
)

type fakeSender struct {
	sent    []dispatch.Recipient
	failFor map[uuid.UUID]bool
}

func (f *fakeSender) Send(_ context.Context, to dispatch.Recipient, _ dispatch.Message, _ string) error {
	if f.failFor[to.UserID] {
		return errors.New("channel down")
	}
	f.sent = append(f.sent, to)
	return nil
}

type outcome struct {
	userID uuid.UUID
	ok     bool
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifyRecipientsFailureDoesNotDropRest(t *testing.T) {
	broken := dispatch.Recipient{UserID: uuid.New(), Language: "en", Email: "a@example.com"}
	healthy := dispatch.Recipient{UserID: uuid.New(), Language: "es", Email: "b@example.com"}
	sender := &fakeSender{failFor: map[uuid.UUID]bool{broken.UserID: true}}

	var outcomes []outcome
	record := func(userID uuid.UUID, ok bool, _ error) {
		outcomes = append(outcomes, outcome{userID: userID, ok: ok})
	}

	notifyRecipients(context.Background(), sender, []dispatch.Recipient{broken, healthy},
		"padel", "Club Norte", record, quietLogger())

	if len(sender.sent) != 1 || sender.sent[0].UserID != healthy.UserID {
		t.Fatalf("a failed recipient must not drop the remaining ones")
	}
	if len(outcomes) != 2 {
		t.Fatalf("got %d log rows, want one per send attempt", len(outcomes))
	}
	if outcomes[0].userID != broken.UserID || outcomes[0].ok {
		t.Fatalf("failed send must be recorded as not ok, got %+v", outcomes[0])
	}
	if outcomes[1].userID != healthy.UserID || !outcomes[1].ok {
		t.Fatalf("successful send must be recorded as ok, got %+v", outcomes[1])
	}
}

func TestNotifyRecipientsFailedSendCarriesError(t *testing.T) {
	rcpt := dispatch.Recipient{UserID: uuid.New(), Language: "en", Email: "a@example.com"}
	sender := &fakeSender{failFor: map[uuid.UUID]bool{rcpt.UserID: true}}

	var gotErr error
	record := func(_ uuid.UUID, _ bool, sendErr error) { gotErr = sendErr }

	notifyRecipients(context.Background(), sender, []dispatch.Recipient{rcpt},
		"yoga", "Parque Central", record, quietLogger())

	if gotErr == nil || !strings.Contains(gotErr.Error(), "channel down") {
		t.Fatalf("recorded error = %v, want the send error", gotErr)
	}
}
