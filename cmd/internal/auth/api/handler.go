// Package api serves the auth form endpoints: sign-in, sign-up, magic link, the link
// callback and sign-out.
//
// Every outcome ends in a one-shot toast and a 303 to "/"; the Edge gate then decides where
// the browser lands. Validation failures re-render the entry page instead.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"healthydb/cmd/internal/auth/cookies"
	"healthydb/cmd/internal/auth/forms"
	"healthydb/cmd/internal/auth/magiclink"
	"healthydb/cmd/internal/auth/provider"
	"healthydb/cmd/internal/metrics"
	"healthydb/cmd/internal/ratelimit"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Toast texts.
const (
	MsgSignedIn       = "Successfully signed in!"
	MsgSignInFailed   = "Failed to sign in. Please check your credentials."
	MsgConfirmSent    = "Check your email to confirm your account!"
	MsgSignUpFailed   = "Failed to create account. Please try again."
	MsgLinkSent       = "Check your email for the login link!"
	MsgGenericFailure = "An error occurred. Please try again."
	MsgSignedOut      = "Signed out successfully"
	MsgSignOutFailed  = "Error signing out"
	MsgLinkSignedIn   = "Signed in with magic link!"
	MsgEmailConfirmed = "Your email is confirmed!"
	MsgLinkInvalid    = "That link is invalid or has expired."
	MsgThrottled      = "Too many attempts. Please wait and try again."
)

// AuthStore is the subset of the Session Store the handlers call.
type AuthStore interface {
	SignInWithPassword(ctx context.Context, email, pw string, dev provider.Device) (*provider.Session, error)
	SignUp(ctx context.Context, email, pw, redirectTo string, dev provider.Device) (provider.SignUpResult, error)
	SignInWithOTP(ctx context.Context, email, redirectTo string) error
	VerifyOTP(ctx context.Context, token string, dev provider.Device) (*provider.Session, magiclink.Purpose, error)
	SignOut(ctx context.Context, creds provider.Credentials, dev provider.Device) error
}

// EntryRenderer re-renders the entry page after a rejected submission.
type EntryRenderer interface {
	RenderEntry(w http.ResponseWriter, r *http.Request, status int, v forms.View)
}

// Handler wires the auth form endpoints to the Session Store.
type Handler struct {
	log *slog.Logger
	cfg Config

	store AuthStore
	jar   *cookies.Jar
	views EntryRenderer

	guard   *forms.Guard
	limiter *ratelimit.Keyed
	pool    *pgxpool.Pool
	metrics *metrics.Metrics
	now     func() time.Time
}

// HandlerOption configures optional auth handler dependencies.
type HandlerOption func(*Handler)

// WithAuditPool enables audit_log rows.
func WithAuditPool(pool *pgxpool.Pool) HandlerOption {
	return func(h *Handler) {
		if h == nil || pool == nil {
			return
		}
		h.pool = pool
	}
}

// WithMetrics records auth operation outcomes.
func WithMetrics(m *metrics.Metrics) HandlerOption {
	return func(h *Handler) {
		if h == nil {
			return
		}
		h.metrics = m
	}
}

// WithClock overrides the time source used for throttling.
func WithClock(now func() time.Time) HandlerOption {
	return func(h *Handler) {
		if h == nil || now == nil {
			return
		}
		h.now = now
	}
}

// NewHandler constructs an auth Handler.
func NewHandler(log *slog.Logger, cfg Config, store AuthStore, jar *cookies.Jar, views EntryRenderer, opts ...HandlerOption) (*Handler, error) {
	if log == nil {
		log = slog.Default()
	}
	if store == nil || jar == nil || views == nil {
		return nil, errors.New("api: missing dependency")
	}
	def := DefaultConfig()
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = def.MaxBodyBytes
	}
	if cfg.Schema == "" {
		cfg.Schema = def.Schema
	}

	h := &Handler{
		log:     log,
		cfg:     cfg,
		store:   store,
		jar:     jar,
		views:   views,
		guard:   forms.NewGuard(),
		limiter: ratelimit.NewKeyed(cfg.IPMax, cfg.IPWindow),
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(h)
	}
	return h, nil
}

// Register wires auth routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("POST /auth/signin", h.handleSignIn)
	mux.HandleFunc("POST /auth/signup", h.handleSignUp)
	mux.HandleFunc("POST /auth/magic-link", h.handleMagicLink)
	mux.HandleFunc("GET /auth/callback", h.handleCallback)
	mux.HandleFunc("POST /auth/signout", h.handleSignOut)
}

// ---- handlers ----

func (h *Handler) handleSignIn(w http.ResponseWriter, r *http.Request) {
	dev, release, ok := h.begin(w, r, forms.SignIn)
	if !ok {
		return
	}
	defer release()

	res := forms.NewCredentials(r.PostFormValue("email"), r.PostFormValue("password"))
	if !res.OK() {
		h.invalid(w, r, forms.ViewFor(forms.SignIn, res.Value.Email, res))
		return
	}

	ctx := r.Context()
	s, err := h.store.SignInWithPassword(ctx, res.Value.Email, res.Value.Password, dev)
	if err != nil {
		h.logFailure("auth.signin.fail", err)
		h.auditFailed(ctx, "auth.signin.failed", dev, res.Value.Email, reason(err))
		h.metrics.AuthOp(forms.SignIn, "fail")
		h.finish(w, r, cookies.Flash{Kind: "error", Message: MsgSignInFailed})
		return
	}

	h.jar.SetSession(w, s)
	h.auditSignIn(ctx, s, dev, res.Value.Email)
	h.metrics.AuthOp(forms.SignIn, "ok")
	h.finish(w, r, cookies.Flash{Kind: "success", Message: MsgSignedIn})
}

func (h *Handler) handleSignUp(w http.ResponseWriter, r *http.Request) {
	dev, release, ok := h.begin(w, r, forms.SignUp)
	if !ok {
		return
	}
	defer release()

	res := forms.NewCredentials(r.PostFormValue("email"), r.PostFormValue("password"))
	if !res.OK() {
		h.invalid(w, r, forms.ViewFor(forms.SignUp, res.Value.Email, res))
		return
	}

	ctx := r.Context()
	out, err := h.store.SignUp(ctx, res.Value.Email, res.Value.Password, provider.DefaultCallbackPath, dev)
	if err != nil {
		h.logFailure("auth.signup.fail", err)
		h.auditFailed(ctx, "auth.signup.failed", dev, res.Value.Email, reason(err))
		h.metrics.AuthOp(forms.SignUp, "fail")
		h.finish(w, r, cookies.Flash{Kind: "error", Message: MsgSignUpFailed})
		return
	}

	h.auditSignUp(ctx, out, dev)
	h.metrics.AuthOp(forms.SignUp, "ok")
	if out.Session != nil {
		h.jar.SetSession(w, out.Session)
		h.finish(w, r, cookies.Flash{Kind: "success", Message: MsgSignedIn})
		return
	}
	h.finish(w, r, cookies.Flash{Kind: "success", Message: MsgConfirmSent})
}

func (h *Handler) handleMagicLink(w http.ResponseWriter, r *http.Request) {
	dev, release, ok := h.begin(w, r, forms.MagicLink)
	if !ok {
		return
	}
	defer release()

	res := forms.NewMagicLinkRequest(r.PostFormValue("email"))
	if !res.OK() {
		h.invalid(w, r, forms.ViewFor(forms.MagicLink, res.Value.Email, res))
		return
	}

	ctx := r.Context()
	if err := h.store.SignInWithOTP(ctx, res.Value.Email, provider.DefaultCallbackPath); err != nil {
		h.logFailure("auth.magiclink.fail", err)
		h.auditFailed(ctx, "auth.magiclink.failed", dev, res.Value.Email, reason(err))
		h.metrics.AuthOp(forms.MagicLink, "fail")
		h.finish(w, r, cookies.Flash{Kind: "error", Message: MsgGenericFailure})
		return
	}

	h.auditMagicLink(ctx, dev, res.Value.Email)
	h.metrics.AuthOp(forms.MagicLink, "ok")
	h.finish(w, r, cookies.Flash{Kind: "success", Message: MsgLinkSent})
}

func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request) {
	dev := h.jar.Device(r)
	if h.throttled(w, r, "callback", dev) {
		return
	}

	ctx := r.Context()
	s, purpose, err := h.store.VerifyOTP(ctx, r.URL.Query().Get("token"), dev)
	if err != nil {
		msg := MsgGenericFailure
		if errors.Is(err, provider.ErrInvalidLink) {
			msg = MsgLinkInvalid
		}
		h.logFailure("auth.callback.fail", err)
		h.auditFailed(ctx, "auth.callback.failed", dev, "", reason(err))
		h.metrics.AuthOp("callback", "fail")
		h.finish(w, r, cookies.Flash{Kind: "error", Message: msg})
		return
	}

	h.jar.SetSession(w, s)
	h.auditCallback(ctx, s, dev, string(purpose))
	h.metrics.AuthOp("callback", "ok")
	msg := MsgLinkSignedIn
	if purpose == magiclink.PurposeSignUp {
		msg = MsgEmailConfirmed
	}
	h.finish(w, r, cookies.Flash{Kind: "success", Message: msg})
}

// handleSignOut always clears the session cookies and redirects to "/". A request that fails
// the form checks only clears this browser's cookies; the session is revoked for valid forms.
func (h *Handler) handleSignOut(w http.ResponseWriter, r *http.Request) {
	if h.checkForm(w, r, "signout") != 0 {
		h.jar.ClearSession(w)
		h.finish(w, r, cookies.Flash{Kind: "error", Message: MsgSignOutFailed})
		return
	}
	dev := h.jar.Device(r)
	ctx := r.Context()

	err := h.store.SignOut(ctx, h.jar.Credentials(r), dev)
	h.jar.ClearSession(w)
	h.auditSignOut(ctx, dev, err != nil)
	if err != nil {
		h.log.Warn("auth.signout.fail", "err", err)
		h.metrics.AuthOp("signout", "fail")
		h.finish(w, r, cookies.Flash{Kind: "error", Message: MsgSignOutFailed})
		return
	}
	h.metrics.AuthOp("signout", "ok")
	h.finish(w, r, cookies.Flash{Kind: "success", Message: MsgSignedOut})
}

// ---- helpers ----

// begin parses and checks a form submission: CSRF, per-IP throttle and the in-flight guard.
// When ok is false a response has been written.
func (h *Handler) begin(w http.ResponseWriter, r *http.Request, form string) (provider.Device, func(), bool) {
	if !h.parseForm(w, r, form) {
		return provider.Device{}, nil, false
	}
	dev := h.jar.Device(r)
	if h.throttled(w, r, form, dev) {
		return provider.Device{}, nil, false
	}
	release, ok := h.guard.Acquire(dev.ID, form)
	if !ok {
		h.log.Debug("auth.form.duplicate", "form", form)
		h.metrics.AuthOp(form, "duplicate")
		w.WriteHeader(http.StatusNoContent)
		return provider.Device{}, nil, false
	}
	return dev, release, true
}

func (h *Handler) parseForm(w http.ResponseWriter, r *http.Request, op string) bool {
	switch h.checkForm(w, r, op) {
	case http.StatusBadRequest:
		http.Error(w, "invalid form body", http.StatusBadRequest)
		return false
	case http.StatusForbidden:
		http.Error(w, "missing or invalid csrf token", http.StatusForbidden)
		return false
	}
	return true
}

// checkForm parses the bounded form body and verifies the CSRF double submit.
// It returns 0 when the form is usable, otherwise the status the failure maps to.
func (h *Handler) checkForm(w http.ResponseWriter, r *http.Request, op string) int {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxBodyBytes)
	if err := r.ParseForm(); err != nil {
		return http.StatusBadRequest
	}
	if !h.jar.CSRFValid(r) {
		h.log.Warn("auth.csrf.invalid", "op", op)
		h.metrics.AuthOp(op, "csrf")
		return http.StatusForbidden
	}
	return 0
}

func (h *Handler) throttled(w http.ResponseWriter, r *http.Request, op string, dev provider.Device) bool {
	key := "unknown"
	if dev.IP != nil {
		key = dev.IP.String()
	}
	ok, retryAfter := h.limiter.Allow(key, h.now())
	if ok {
		return false
	}

	h.log.Warn("auth.rate_limited", "op", op, "retry_after", retryAfter)
	h.auditThrottled(r.Context(), op, dev)
	h.metrics.AuthOp(op, "throttled")
	if retryAfter > 0 {
		w.Header().Set("Retry-After", strconv.FormatInt(int64(retryAfter.Seconds())+1, 10))
	}
	h.views.RenderEntry(w, r, http.StatusTooManyRequests, forms.View{
		Form:   op,
		Tab:    forms.TabFor(op),
		Email:  r.PostFormValue("email"),
		Notice: MsgThrottled,
	})
	return true
}

func (h *Handler) invalid(w http.ResponseWriter, r *http.Request, v forms.View) {
	h.metrics.AuthOp(v.Form, "invalid")
	h.views.RenderEntry(w, r, http.StatusUnprocessableEntity, v)
}

func (h *Handler) finish(w http.ResponseWriter, r *http.Request, f cookies.Flash) {
	h.jar.SetFlash(w, f)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// logFailure logs expected auth outcomes at warn and everything else at error.
func (h *Handler) logFailure(event string, err error) {
	if reason(err) == "internal" {
		h.log.Error(event, "err", err)
		return
	}
	h.log.Warn(event, "reason", reason(err))
}

func reason(err error) string {
	switch {
	case errors.Is(err, provider.ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, provider.ErrEmailNotConfirmed):
		return "email_not_confirmed"
	case errors.Is(err, provider.ErrUserExists):
		return "user_exists"
	case errors.Is(err, provider.ErrWeakPassword):
		return "weak_password"
	case errors.Is(err, provider.ErrInvalidEmail):
		return "invalid_email"
	case errors.Is(err, provider.ErrInvalidLink):
		return "invalid_link"
	default:
		return "internal"
	}
}
