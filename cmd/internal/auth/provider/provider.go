package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"healthydb/cmd/identity"
	"healthydb/cmd/internal/auth/events"
	"healthydb/cmd/internal/auth/magiclink"
	"healthydb/cmd/internal/auth/session"
	"healthydb/cmd/security/password"
)

// User is the identity exposed to the web layer.
type User = events.User

// Session is an established session as seen by the web layer.
type Session struct {
	SessionID        string
	AccessToken      string
	RefreshToken     string
	ExpiresAt        time.Time
	RefreshExpiresAt time.Time
	User             User
}

// Credentials are the tokens a browser presents (the hdb_access and hdb_refresh cookies).
type Credentials struct {
	AccessToken  string
	RefreshToken string
}

// Device identifies the browser an operation is performed for.
// ID scopes published events; UserAgent and IP are recorded on the session row.
type Device struct {
	ID        string
	UserAgent string
	IP        net.IP
}

func (d Device) session() session.DeviceContext {
	return session.DeviceContext{UserAgent: d.UserAgent, IP: d.IP}
}

// Deps are the collaborators of a Provider. All are required except Mailer.
type Deps struct {
	Users     identity.Store
	Sessions  *session.Service
	Links     *magiclink.Service
	Broker    events.Broker
	Mailer    Mailer
	Passwords password.Config
}

// Option configures optional Provider behavior.
type Option func(*Provider)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) {
		if p == nil || now == nil {
			return
		}
		p.now = now
	}
}

// Provider implements the Session Store operations.
type Provider struct {
	log  *slog.Logger
	cfg  Config
	deps Deps
	now  func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

// New constructs a Provider.
func New(log *slog.Logger, cfg Config, deps Deps, opts ...Option) (*Provider, error) {
	if log == nil {
		log = slog.Default()
	}
	if deps.Users == nil || deps.Sessions == nil || deps.Links == nil || deps.Broker == nil {
		return nil, errors.New("provider: missing dependency")
	}
	if deps.Mailer == nil {
		deps.Mailer = NoopMailer{}
	}
	if cfg.CallbackPath == "" {
		cfg.CallbackPath = DefaultCallbackPath
	}

	p := &Provider{
		log:  log,
		cfg:  cfg,
		deps: deps,
		now:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(p)
	}
	return p, nil
}

// Config returns the provider configuration.
func (p *Provider) Config() Config { return p.cfg }

// ---- session reads ----

// GetSession resolves the access token to the current session.
// ErrNoSession covers missing, invalid, expired and revoked tokens. It never refreshes.
func (p *Provider) GetSession(ctx context.Context, creds Credentials) (*Session, error) {
	if strings.TrimSpace(creds.AccessToken) == "" {
		return nil, ErrNoSession
	}

	claims, err := p.deps.Sessions.ValidateAccessToken(ctx, creds.AccessToken, p.now())
	if err != nil {
		if session.NotActive(err) {
			return nil, fmt.Errorf("%w: %w", ErrNoSession, err)
		}
		return nil, err
	}

	u, err := p.deps.Users.GetUserByID(ctx, claims.UserID)
	if err != nil {
		if identity.IsNotFound(err) {
			return nil, ErrNoSession
		}
		return nil, err
	}

	return &Session{
		SessionID:    claims.SessionID,
		AccessToken:  creds.AccessToken,
		RefreshToken: creds.RefreshToken,
		ExpiresAt:    claims.ExpiresAt,
		User:         toUser(u),
	}, nil
}

// RefreshSession rotates the refresh token and publishes TOKEN_REFRESHED.
//
// A token rotated within the reuse interval yields the replacement session with an empty
// RefreshToken. Reuse after that revokes every session of the user and publishes SIGNED_OUT.
func (p *Provider) RefreshSession(ctx context.Context, creds Credentials, dev Device) (*Session, error) {
	if strings.TrimSpace(creds.RefreshToken) == "" {
		return nil, ErrNoSession
	}
	now := p.now()

	issued, err := p.deps.Sessions.RotateRefresh(ctx, now, creds.RefreshToken, dev.session())
	if err != nil {
		if errors.Is(err, session.ErrRefreshReuseDetected) {
			p.log.Warn("auth.refresh.reuse_detected", "device_id", dev.ID, "ip", ipString(dev.IP))
			p.publish(ctx, events.Event{Type: events.SignedOut, DeviceID: dev.ID, At: now})
		}
		if session.NotActive(err) {
			return nil, fmt.Errorf("%w: %w", ErrNoSession, err)
		}
		return nil, err
	}

	u, err := p.deps.Users.GetUserByID(ctx, issued.UserID)
	if err != nil {
		return nil, err
	}
	s := toSession(issued, u)
	if s.RefreshToken == "" {
		p.log.Debug("auth.refresh.replayed", "device_id", dev.ID, "session_id", s.SessionID)
	}
	p.publish(ctx, events.Event{Type: events.TokenRefreshed, DeviceID: dev.ID, User: &s.User, At: now})
	return s, nil
}

// OnAuthStateChange calls fn for every event of deviceID until the returned func is called.
// Events are delivered in publish order on a dedicated goroutine.
func (p *Provider) OnAuthStateChange(deviceID string, fn func(events.Event)) (unsubscribe func()) {
	sub := p.deps.Broker.Subscribe(deviceID)
	go func() {
		for {
			select {
			case <-sub.Done():
				return
			case ev := <-sub.C:
				select {
				case <-sub.Done():
					return
				default:
				}
				fn(ev)
			}
		}
	}()
	return sub.Close
}

// ---- sign-in / sign-up ----

// SignInWithPassword verifies the password and establishes a session.
func (p *Provider) SignInWithPassword(ctx context.Context, email, pw string, dev Device) (*Session, error) {
	ua, err := p.deps.Users.GetUserAuthByEmail(ctx, email)
	if err != nil {
		if identity.IsNotFound(err) || identity.IsInvalidInput(err) {
			p.equalizeTiming(pw)
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if ua.PasswordHash == "" {
		p.equalizeTiming(pw)
		return nil, ErrInvalidCredentials
	}

	ok, err := p.deps.Passwords.Verify(ua.PasswordHash, pw)
	if err != nil || !ok {
		return nil, ErrInvalidCredentials
	}
	if p.cfg.RequireEmailConfirmation && !ua.User.Confirmed() {
		return nil, ErrEmailNotConfirmed
	}

	now := p.now()
	s, err := p.establish(ctx, now, ua.User, dev)
	if err != nil {
		return nil, err
	}

	if p.deps.Passwords.NeedsRehash(ua.PasswordHash) {
		if hash, err := p.deps.Passwords.Hash(pw); err == nil {
			if err := p.deps.Users.SetPasswordHash(ctx, ua.User.ID, hash, now); err != nil {
				p.log.Warn("auth.signin.rehash.fail", "user_id", ua.User.ID, "err", err)
			}
		}
	}
	return s, nil
}

// SignUpResult describes what sign-up did.
// Session is set when confirmation is disabled; ConfirmationSent otherwise.
type SignUpResult struct {
	User             User
	Session          *Session
	ConfirmationSent bool
}

// SignUp creates a password account. With confirmation required it mails a signup link
// pointing at redirectTo; otherwise it signs the user in.
func (p *Provider) SignUp(ctx context.Context, email, pw, redirectTo string, dev Device) (SignUpResult, error) {
	if strings.TrimSpace(email) == "" {
		return SignUpResult{}, ErrInvalidEmail
	}
	if err := p.deps.Passwords.Validate(pw); err != nil {
		return SignUpResult{}, fmt.Errorf("%w: %w", ErrWeakPassword, err)
	}
	hash, err := p.deps.Passwords.Hash(pw)
	if err != nil {
		return SignUpResult{}, err
	}

	now := p.now()
	in := identity.CreateUserInput{Email: email, PasswordHash: hash, Now: now}
	if !p.cfg.RequireEmailConfirmation {
		in.ConfirmedAt = &now
	}
	u, err := p.deps.Users.CreateUser(ctx, in)
	if err != nil {
		if identity.IsConflict(err) {
			return SignUpResult{}, ErrUserExists
		}
		if identity.IsInvalidInput(err) {
			return SignUpResult{}, ErrInvalidEmail
		}
		return SignUpResult{}, err
	}

	if p.cfg.RequireEmailConfirmation {
		if err := p.sendLink(ctx, now, u, magiclink.PurposeSignUp, redirectTo); err != nil {
			return SignUpResult{}, err
		}
		return SignUpResult{User: toUser(u), ConfirmationSent: true}, nil
	}

	s, err := p.establish(ctx, now, u, dev)
	if err != nil {
		return SignUpResult{}, err
	}
	return SignUpResult{User: s.User, Session: s}, nil
}

// SignInWithOTP mails a one-time sign-in link. Unknown emails get a passwordless account.
func (p *Provider) SignInWithOTP(ctx context.Context, email, redirectTo string) error {
	if strings.TrimSpace(email) == "" {
		return ErrInvalidEmail
	}
	now := p.now()

	var u identity.User
	ua, err := p.deps.Users.GetUserAuthByEmail(ctx, email)
	switch {
	case err == nil:
		u = ua.User
	case identity.IsNotFound(err):
		u, err = p.deps.Users.CreateUser(ctx, identity.CreateUserInput{Email: email, Now: now})
		if identity.IsConflict(err) {
			// Lost a race with a concurrent request for the same email.
			ua, err = p.deps.Users.GetUserAuthByEmail(ctx, email)
			u = ua.User
		}
		if err != nil {
			return err
		}
		p.log.Info("auth.otp.user_created", "user_id", u.ID)
	case identity.IsInvalidInput(err):
		return ErrInvalidEmail
	default:
		return err
	}

	return p.sendLink(ctx, now, u, magiclink.PurposeSignIn, redirectTo)
}

// VerifyOTP redeems a link token, confirms the email and establishes a session.
func (p *Provider) VerifyOTP(ctx context.Context, plainToken string, dev Device) (*Session, magiclink.Purpose, error) {
	now := p.now()
	rec, err := p.deps.Links.Redeem(ctx, now, plainToken, "")
	if err != nil {
		if errors.Is(err, magiclink.ErrTokenNotFound) || errors.Is(err, magiclink.ErrPurposeMismatch) {
			return nil, "", ErrInvalidLink
		}
		return nil, "", err
	}

	u, err := p.deps.Users.ConfirmEmail(ctx, rec.UserID, now)
	if err != nil {
		if identity.IsNotFound(err) {
			return nil, "", ErrInvalidLink
		}
		return nil, "", err
	}

	s, err := p.establish(ctx, now, u, dev)
	if err != nil {
		return nil, "", err
	}
	return s, rec.Purpose, nil
}

// SignOut revokes the session behind creds (when it still resolves) and always publishes
// SIGNED_OUT for the device. Errors are returned after both steps ran.
func (p *Provider) SignOut(ctx context.Context, creds Credentials, dev Device) error {
	now := p.now()
	var errs []error

	if strings.TrimSpace(creds.AccessToken) != "" {
		claims, err := p.deps.Sessions.ValidateAccessToken(ctx, creds.AccessToken, now)
		switch {
		case err == nil:
			if err := p.deps.Sessions.RevokeSession(ctx, now, claims.SessionID); err != nil {
				errs = append(errs, fmt.Errorf("revoke session: %w", err))
			}
		case session.NotActive(err):
		default:
			errs = append(errs, err)
		}
	}

	if dev.ID != "" {
		if err := p.deps.Broker.Publish(ctx, events.Event{Type: events.SignedOut, DeviceID: dev.ID, At: now}); err != nil {
			errs = append(errs, fmt.Errorf("publish: %w", err))
		}
	}
	return errors.Join(errs...)
}

// ---- helpers ----

func (p *Provider) establish(ctx context.Context, now time.Time, u identity.User, dev Device) (*Session, error) {
	issued, err := p.deps.Sessions.IssueSession(ctx, now, u.ID, dev.session())
	if err != nil {
		return nil, err
	}
	s := toSession(issued, u)
	p.publish(ctx, events.Event{Type: events.SignedIn, DeviceID: dev.ID, User: &s.User, At: now})
	return s, nil
}

func (p *Provider) sendLink(ctx context.Context, now time.Time, u identity.User, purpose magiclink.Purpose, redirectTo string) error {
	plain, rec, err := p.deps.Links.Issue(ctx, now, magiclink.Record{
		UserID:     u.ID,
		Email:      u.Email,
		Purpose:    purpose,
		RedirectTo: redirectTo,
	})
	if err != nil {
		return err
	}
	return p.deps.Mailer.SendLink(ctx, LinkMessage{
		UserID:    u.ID,
		Email:     u.Email,
		Purpose:   purpose,
		Link:      p.cfg.linkURL(redirectTo, plain),
		ExpiresAt: rec.ExpiresAt,
	})
}

// publish is best-effort: a lost notification must not fail the operation that caused it.
func (p *Provider) publish(ctx context.Context, ev events.Event) {
	if ev.DeviceID == "" {
		return
	}
	if err := p.deps.Broker.Publish(ctx, ev); err != nil {
		p.log.Warn("auth.events.publish.fail", "type", string(ev.Type), "device_id", ev.DeviceID, "err", err)
	}
}

// equalizeTiming runs one verify against a fixed hash so unknown emails cost the same as wrong passwords.
func (p *Provider) equalizeTiming(pw string) {
	p.dummyOnce.Do(func() {
		if hash, err := p.deps.Passwords.Hash("dummy-password-for-timing-only"); err == nil {
			p.dummyHash = hash
		}
	})
	if p.dummyHash != "" {
		_, _ = p.deps.Passwords.Verify(p.dummyHash, pw)
	}
}

func toUser(u identity.User) User {
	return User{ID: u.ID, Email: u.Email}
}

func toSession(issued session.Issued, u identity.User) *Session {
	return &Session{
		SessionID:        issued.SessionID,
		AccessToken:      issued.AccessToken,
		RefreshToken:     issued.RefreshToken,
		ExpiresAt:        issued.AccessExp,
		RefreshExpiresAt: issued.RefreshExp,
		User:             toUser(u),
	}
}

func ipString(ip net.IP) string {
	if ip == nil {
		return ""
	}
	return ip.String()
}
