// Package providertest builds an in-memory Provider for tests.
package providertest

import (
	"context"
	"io"
	"log/slog"
	"net/url"
	"sync"
	"testing"
	"time"

	"healthydb/cmd/identity"
	"healthydb/cmd/internal/auth/events"
	"healthydb/cmd/internal/auth/magiclink"
	"healthydb/cmd/internal/auth/provider"
	"healthydb/cmd/internal/auth/session"
	"healthydb/cmd/security/password"

	paseto "aidanwoods.dev/go-paseto"
)

// Outbox records every link the provider mails.
type Outbox struct {
	mu   sync.Mutex
	msgs []provider.LinkMessage
	Err  error
}

// SendLink records msg and returns o.Err.
func (o *Outbox) SendLink(_ context.Context, msg provider.LinkMessage) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.Err != nil {
		return o.Err
	}
	o.msgs = append(o.msgs, msg)
	return nil
}

// Messages returns a copy of the recorded messages.
func (o *Outbox) Messages() []provider.LinkMessage {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]provider.LinkMessage(nil), o.msgs...)
}

// LastToken returns the token query parameter of the most recent link.
func (o *Outbox) LastToken(t *testing.T) string {
	t.Helper()
	msgs := o.Messages()
	if len(msgs) == 0 {
		t.Fatalf("outbox is empty")
	}
	u, err := url.Parse(msgs[len(msgs)-1].Link)
	if err != nil {
		t.Fatalf("parse link: %v", err)
	}
	tok := u.Query().Get("token")
	if tok == "" {
		t.Fatalf("link without token: %s", msgs[len(msgs)-1].Link)
	}
	return tok
}

// Harness bundles a Provider with its in-memory collaborators.
type Harness struct {
	Provider *provider.Provider
	Users    *identity.MemoryStore
	Sessions *session.Service
	Broker   *events.MemoryBroker
	Outbox   *Outbox
	Logger   *slog.Logger

	mu     sync.Mutex
	offset time.Duration
}

// Now is the provider's clock: wall time shifted by every Advance so far.
func (h *Harness) Now() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return time.Now().UTC().Add(h.offset)
}

// Advance moves the provider's clock forward by d.
func (h *Harness) Advance(d time.Duration) {
	h.mu.Lock()
	h.offset += d
	h.mu.Unlock()
}

// Passwords returns argon2id parameters cheap enough for tests.
func Passwords() password.Config {
	cfg := password.DefaultConfig()
	cfg.Params.MemoryKiB = 1024
	cfg.Params.Iterations = 1
	cfg.Params.Parallelism = 1
	return cfg
}

// New returns a Harness. mutate, when non-nil, adjusts the provider config.
func New(t *testing.T, mutate func(*provider.Config)) *Harness {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	sessCfg := session.DefaultConfig()
	sessCfg.PasetoV4SecretKeyHex = paseto.NewV4AsymmetricSecretKey().ExportHex()
	tokens, err := session.NewPasetoV4PublicManager(sessCfg)
	if err != nil {
		t.Fatalf("paseto manager: %v", err)
	}

	h := &Harness{
		Users:    identity.NewMemoryStore(),
		Sessions: session.NewService(sessCfg, session.NewMemoryStore(), tokens),
		Broker:   events.NewMemoryBroker(log, 0),
		Outbox:   &Outbox{},
		Logger:   log,
	}

	cfg := provider.DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	p, err := provider.New(log, cfg, provider.Deps{
		Users:     h.Users,
		Sessions:  h.Sessions,
		Links:     magiclink.NewService(magiclink.DefaultConfig(), magiclink.NewMemoryStore()),
		Broker:    h.Broker,
		Mailer:    h.Outbox,
		Passwords: Passwords(),
	}, provider.WithClock(h.Now))
	if err != nil {
		t.Fatalf("provider.New: %v", err)
	}
	h.Provider = p
	return h
}

// SeedUser creates a confirmed user with a password.
func (h *Harness) SeedUser(t *testing.T, email, pw string) identity.User {
	t.Helper()
	hash, err := Passwords().Hash(pw)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	u, err := h.Users.CreateUser(context.Background(), identity.CreateUserInput{Email: email, PasswordHash: hash})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	u, err = h.Users.ConfirmEmail(context.Background(), u.ID, u.CreatedAt)
	if err != nil {
		t.Fatalf("ConfirmEmail: %v", err)
	}
	return u
}

// SignIn seeds (if needed) and signs a user in for deviceID, returning the session.
func (h *Harness) SignIn(t *testing.T, email, pw, deviceID string) *provider.Session {
	t.Helper()
	if _, err := h.Users.GetUserAuthByEmail(context.Background(), email); identity.IsNotFound(err) {
		h.SeedUser(t, email, pw)
	}
	s, err := h.Provider.SignInWithPassword(context.Background(), email, pw, provider.Device{ID: deviceID})
	if err != nil {
		t.Fatalf("SignInWithPassword: %v", err)
	}
	return s
}
