package delivery

import (
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"
)

// EmailSender sends templated HTML notifications over SMTP. Runs in dev
// mode (logging instead of sending) when no host or user is configured.
type EmailSender struct {
	host    string
	port    string
	user    string
	pass    string
	from    string
	devMode bool
	logger  *slog.Logger
}

// NewEmailSender creates an SMTP sender.
func NewEmailSender(host, port, user, pass, from string, logger *slog.Logger) *EmailSender {
	devMode := host == "" || user == ""
	if devMode {
		logger.Info("Email sender running in dev mode (logging only)")
	}
	return &EmailSender{
		host:    host,
		port:    port,
		user:    user,
		pass:    pass,
		from:    from,
		devMode: devMode,
		logger:  logger,
	}
}

// SendNotification wraps a resolved notification in the branded HTML shell
// and sends it.
func (s *EmailSender) SendNotification(to, title, body, link string) error {
	html := fmt.Sprintf(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"></head>
<body style="font-family: 'Segoe UI', Arial, sans-serif; margin: 0; padding: 0; background-color: #f8fafc;">
  <div style="max-width: 480px; margin: 40px auto; background: white; border-radius: 12px; box-shadow: 0 4px 24px rgba(0,0,0,0.08); overflow: hidden;">
    <div style="background: linear-gradient(135deg, #f97316 0%%, #ea580c 100%%); padding: 32px; text-align: center;">
      <h1 style="color: white; margin: 0; font-size: 24px; font-weight: 700;">Tribe</h1>
      <p style="color: rgba(255,255,255,0.85); margin: 8px 0 0; font-size: 14px;">Train together</p>
    </div>
    <div style="padding: 32px;">
      <h2 style="margin: 0 0 16px; font-size: 20px; color: #1e293b;">%s</h2>
      <p style="color: #64748b; font-size: 14px; line-height: 1.6; margin: 0 0 24px;">%s</p>
      <a href="%s" style="display: inline-block; background: #f97316; color: white; text-decoration: none; padding: 12px 32px; border-radius: 8px; font-weight: 600; font-size: 14px;">
        Open Tribe
      </a>
    </div>
  </div>
</body>
</html>`, title, body, link)

	return s.sendHTML(to, title, html)
}

func (s *EmailSender) sendHTML(to, subject, htmlBody string) error {
	if s.devMode {
		s.logger.Info("email (dev mode)", "to", to, "subject", subject)
		return nil
	}

	headers := []string{
		"From: " + s.from,
		"To: " + to,
		"Subject: " + subject,
		"MIME-Version: 1.0",
		"Content-Type: text/html; charset=\"UTF-8\"",
	}
	msg := strings.Join(headers, "\r\n") + "\r\n\r\n" + htmlBody

	auth := smtp.PlainAuth("", s.user, s.pass, s.host)
	addr := s.host + ":" + s.port
	if err := smtp.SendMail(addr, auth, s.user, []string{to}, []byte(msg)); err != nil {
		return fmt.Errorf("smtp send to %s: %w", to, err)
	}
	return nil
}
