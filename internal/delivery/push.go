// Package delivery implements the notification send collaborators: FCM web
// push, SMTP email, and the channel-routing Notifier the dispatch engine
// talks to.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

const (
	fcmEndpoint = "https://fcm.googleapis.com/fcm/send"
	sendTimeout = 10 * time.Second
)

// PushSender sends push notifications through Firebase Cloud Messaging.
// Nil-safe: when not configured, sends report an error so the Notifier
// falls through to email.
type PushSender struct {
	serverKey string
	client    *http.Client
	logger    *slog.Logger
}

// NewPushSender creates an FCM sender. Returns nil if serverKey is empty
// (push disabled).
func NewPushSender(serverKey string, logger *slog.Logger) *PushSender {
	if serverKey == "" {
		return nil
	}
	return &PushSender{
		serverKey: serverKey,
		client:    &http.Client{Timeout: sendTimeout},
		logger:    logger,
	}
}

type fcmRequest struct {
	To           string            `json:"to"`
	Notification fcmNotification   `json:"notification"`
	Data         map[string]string `json:"data,omitempty"`
}

type fcmNotification struct {
	Title       string `json:"title"`
	Body        string `json:"body"`
	ClickAction string `json:"click_action,omitempty"`
}

type fcmResponse struct {
	Success int `json:"success"`
	Failure int `json:"failure"`
	Results []struct {
		Error string `json:"error"`
	} `json:"results"`
}

// Send delivers one notification to one device token.
func (s *PushSender) Send(ctx context.Context, token, title, body, link string) error {
	if s == nil {
		return fmt.Errorf("push sender not configured")
	}

	payload, err := json.Marshal(fcmRequest{
		To:           token,
		Notification: fcmNotification{Title: title, Body: body, ClickAction: link},
		Data:         map[string]string{"link": link},
	})
	if err != nil {
		return fmt.Errorf("marshal FCM request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fcmEndpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build FCM request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "key="+s.serverKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("FCM send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("FCM send: status %d", resp.StatusCode)
	}

	var out fcmResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("decode FCM response: %w", err)
	}
	if out.Failure > 0 {
		reason := "unknown"
		if len(out.Results) > 0 && out.Results[0].Error != "" {
			reason = out.Results[0].Error
		}
		return fmt.Errorf("FCM rejected send: %s", reason)
	}
	return nil
}
