package provider

import (
	"context"
	"log/slog"
	"time"

	"healthydb/cmd/internal/auth/magiclink"
)

// LinkMessage is the payload for magic-link and confirmation mail.
type LinkMessage struct {
	UserID    string
	Email     string
	Purpose   magiclink.Purpose
	Link      string
	ExpiresAt time.Time
}

// Mailer delivers links. HealthyDB ships without an SMTP integration.
type Mailer interface {
	SendLink(ctx context.Context, msg LinkMessage) error
}

// NoopMailer drops every message.
type NoopMailer struct{}

// SendLink is a no-op.
func (NoopMailer) SendLink(_ context.Context, _ LinkMessage) error { return nil }

// LogMailer writes the link to the log. Development only: the link is a bearer credential.
type LogMailer struct {
	Log *slog.Logger
}

// SendLink logs the message at info level.
func (m LogMailer) SendLink(_ context.Context, msg LinkMessage) error {
	log := m.Log
	if log == nil {
		log = slog.Default()
	}
	log.Info("mail.link",
		"to", msg.Email,
		"purpose", string(msg.Purpose),
		"link", msg.Link,
		"expires_at", msg.ExpiresAt,
	)
	return nil
}
