package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"healthydb/cmd/internal/auth/cookies"
	"healthydb/cmd/internal/auth/forms"
	"healthydb/cmd/internal/auth/magiclink"
	"healthydb/cmd/internal/auth/provider"
	"healthydb/cmd/internal/auth/provider/providertest"
	"healthydb/cmd/internal/metrics"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

const (
	testCSRF   = "csrf-token-for-tests"
	testDevice = "3f0c2f4e-8c1a-4e57-9a59-0d1c7f9f2b11"
)

type recordingViews struct {
	mu    sync.Mutex
	views []forms.View
}

func (v *recordingViews) RenderEntry(w http.ResponseWriter, _ *http.Request, status int, view forms.View) {
	v.mu.Lock()
	v.views = append(v.views, view)
	v.mu.Unlock()
	w.WriteHeader(status)
}

func (v *recordingViews) last(t *testing.T) forms.View {
	t.Helper()
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.views) == 0 {
		t.Fatalf("entry page was not rendered")
	}
	return v.views[len(v.views)-1]
}

// fakeStore counts Session Store calls. block, when set, holds SignInWithPassword until closed.
type fakeStore struct {
	mu         sync.Mutex
	calls      int
	signOutErr error
	entered    chan struct{}
	block      chan struct{}
}

func (f *fakeStore) called() {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
}

func (f *fakeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeStore) SignInWithPassword(context.Context, string, string, provider.Device) (*provider.Session, error) {
	f.called()
	if f.block != nil {
		f.entered <- struct{}{}
		<-f.block
	}
	return nil, provider.ErrInvalidCredentials
}

func (f *fakeStore) SignUp(context.Context, string, string, string, provider.Device) (provider.SignUpResult, error) {
	f.called()
	return provider.SignUpResult{}, provider.ErrUserExists
}

func (f *fakeStore) SignInWithOTP(context.Context, string, string) error {
	f.called()
	return nil
}

func (f *fakeStore) VerifyOTP(context.Context, string, provider.Device) (*provider.Session, magiclink.Purpose, error) {
	f.called()
	return nil, "", provider.ErrInvalidLink
}

func (f *fakeStore) SignOut(context.Context, provider.Credentials, provider.Device) error {
	f.called()
	return f.signOutErr
}

type fixture struct {
	mux     *http.ServeMux
	jar     *cookies.Jar
	views   *recordingViews
	metrics *metrics.Metrics
}

func newFixture(t *testing.T, store AuthStore, mutate func(*Config)) *fixture {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	f := &fixture{
		mux:     http.NewServeMux(),
		jar:     cookies.NewJar(cookies.DefaultConfig()),
		views:   &recordingViews{},
		metrics: metrics.New(),
	}
	h, err := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), cfg, store, f.jar, f.views, WithMetrics(f.metrics))
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	h.Register(f.mux)
	return f
}

func (f *fixture) post(path string, form url.Values, extra ...*http.Cookie) *httptest.ResponseRecorder {
	if form.Get(cookies.CSRFField) == "" {
		form.Set(cookies.CSRFField, testCSRF)
	}
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(&http.Cookie{Name: cookies.CSRFName, Value: testCSRF})
	req.AddCookie(&http.Cookie{Name: cookies.DeviceName, Value: testDevice})
	for _, c := range extra {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) get(path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.AddCookie(&http.Cookie{Name: cookies.DeviceName, Value: testDevice})
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) flash(t *testing.T, rec *httptest.ResponseRecorder) cookies.Flash {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range rec.Result().Cookies() {
		req.AddCookie(c)
	}
	fl, ok := f.jar.PopFlash(httptest.NewRecorder(), req)
	if !ok {
		t.Fatalf("no flash set")
	}
	return fl
}

func responseCookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func assertRedirectHome(t *testing.T, rec *httptest.ResponseRecorder) {
	t.Helper()
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "/" {
		t.Fatalf("expected redirect to /, got %q", loc)
	}
}

func creds(email, pw string) url.Values {
	return url.Values{"email": {email}, "password": {pw}}
}

func TestSignIn_Success(t *testing.T) {
	h := providertest.New(t, nil)
	h.SeedUser(t, "ada@example.com", "abcdef")
	f := newFixture(t, h.Provider, nil)

	rec := f.post("/auth/signin", creds("ada@example.com", "abcdef"))
	assertRedirectHome(t, rec)
	if c := responseCookie(rec, cookies.AccessName); c == nil || c.Value == "" {
		t.Fatalf("access cookie not set")
	}
	if c := responseCookie(rec, cookies.RefreshName); c == nil || c.Value == "" {
		t.Fatalf("refresh cookie not set")
	}
	if fl := f.flash(t, rec); fl.Message != MsgSignedIn || fl.Kind != "success" {
		t.Fatalf("unexpected flash %+v", fl)
	}
	if got := testutil.ToFloat64(f.metrics.AuthOps().WithLabelValues(forms.SignIn, "ok")); got != 1 {
		t.Fatalf("signin ok counter = %v", got)
	}
}

func TestSignIn_WrongPassword(t *testing.T) {
	h := providertest.New(t, nil)
	h.SeedUser(t, "ada@example.com", "abcdef")
	f := newFixture(t, h.Provider, nil)

	rec := f.post("/auth/signin", creds("ada@example.com", "wrong-password"))
	assertRedirectHome(t, rec)
	if c := responseCookie(rec, cookies.AccessName); c != nil {
		t.Fatalf("no session cookie expected on failure")
	}
	if fl := f.flash(t, rec); fl.Message != MsgSignInFailed || fl.Kind != "error" {
		t.Fatalf("unexpected flash %+v", fl)
	}
}

func TestValidation_BlocksStoreCall(t *testing.T) {
	cases := []struct {
		name      string
		path      string
		form      url.Values
		wantForm  string
		wantTab   string
		wantField string
		wantMsg   string
	}{
		{"signin email", "/auth/signin", creds("not-an-email", "abcdef"), forms.SignIn, forms.SignIn, "email", forms.MsgInvalidEmail},
		{"signup email", "/auth/signup", creds("not-an-email", "abcdef"), forms.SignUp, forms.SignUp, "email", forms.MsgInvalidEmail},
		{"signin password", "/auth/signin", creds("ada@example.com", "abc"), forms.SignIn, forms.SignIn, "password", forms.MsgPasswordTooShort},
		{"signup password", "/auth/signup", creds("ada@example.com", "abc"), forms.SignUp, forms.SignUp, "password", forms.MsgPasswordTooShort},
		{"magic link email", "/auth/magic-link", url.Values{"email": {"not-an-email"}}, forms.MagicLink, forms.SignIn, "email", forms.MsgInvalidEmail},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := &fakeStore{}
			f := newFixture(t, store, nil)

			rec := f.post(tc.path, tc.form)
			if rec.Code != http.StatusUnprocessableEntity {
				t.Fatalf("expected 422, got %d", rec.Code)
			}
			if store.count() != 0 {
				t.Fatalf("store must not be called on invalid input")
			}
			v := f.views.last(t)
			if v.Form != tc.wantForm || v.Tab != tc.wantTab {
				t.Fatalf("view form/tab = %q/%q", v.Form, v.Tab)
			}
			if v.FieldErrors[tc.wantField] != tc.wantMsg {
				t.Fatalf("field %s error = %q", tc.wantField, v.FieldErrors[tc.wantField])
			}
			if v.Email != strings.TrimSpace(tc.form.Get("email")) {
				t.Fatalf("submitted email not preserved: %q", v.Email)
			}
		})
	}
}

func TestCSRFMismatch(t *testing.T) {
	store := &fakeStore{}
	f := newFixture(t, store, nil)

	form := creds("ada@example.com", "abcdef")
	form.Set(cookies.CSRFField, "something-else-entirely")
	rec := f.post("/auth/signin", form)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	if store.count() != 0 {
		t.Fatalf("store must not be called without a valid csrf token")
	}
}

func TestDuplicateSubmissionIsNoop(t *testing.T) {
	store := &fakeStore{entered: make(chan struct{}), block: make(chan struct{})}
	f := newFixture(t, store, nil)

	first := make(chan *httptest.ResponseRecorder, 1)
	go func() { first <- f.post("/auth/signin", creds("ada@example.com", "abcdef")) }()

	select {
	case <-store.entered:
	case <-time.After(2 * time.Second):
		t.Fatalf("first submission never reached the store")
	}

	dup := f.post("/auth/signin", creds("ada@example.com", "abcdef"))
	if dup.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for duplicate, got %d", dup.Code)
	}
	if store.count() != 1 {
		t.Fatalf("duplicate must not call the store, calls=%d", store.count())
	}

	// Another form on the same device is not blocked.
	if rec := f.post("/auth/magic-link", url.Values{"email": {"ada@example.com"}}); rec.Code != http.StatusSeeOther {
		t.Fatalf("magic link during sign-in: %d", rec.Code)
	}

	close(store.block)
	assertRedirectHome(t, <-first)

	store.block = nil
	if rec := f.post("/auth/signin", creds("ada@example.com", "abcdef")); rec.Code != http.StatusSeeOther {
		t.Fatalf("submission after release: %d", rec.Code)
	}
}

func TestSignOut_AlwaysRedirectsAndClears(t *testing.T) {
	for _, tc := range []struct {
		name    string
		err     error
		wantMsg string
	}{
		{"ok", nil, MsgSignedOut},
		{"store failure", errors.New("publish failed"), MsgSignOutFailed},
	} {
		t.Run(tc.name, func(t *testing.T) {
			store := &fakeStore{signOutErr: tc.err}
			f := newFixture(t, store, nil)

			rec := f.post("/auth/signout", url.Values{},
				&http.Cookie{Name: cookies.AccessName, Value: "a"},
				&http.Cookie{Name: cookies.RefreshName, Value: "r"})
			assertRedirectHome(t, rec)
			for _, name := range []string{cookies.AccessName, cookies.RefreshName} {
				c := responseCookie(rec, name)
				if c == nil || c.MaxAge >= 0 {
					t.Fatalf("%s must be expired, got %+v", name, c)
				}
			}
			if fl := f.flash(t, rec); fl.Message != tc.wantMsg {
				t.Fatalf("flash = %q", fl.Message)
			}
		})
	}
}

func TestSignOut_CSRFMismatchStillRedirects(t *testing.T) {
	store := &fakeStore{}
	f := newFixture(t, store, nil)

	rec := f.post("/auth/signout", url.Values{cookies.CSRFField: {"something-else-entirely"}},
		&http.Cookie{Name: cookies.AccessName, Value: "a"},
		&http.Cookie{Name: cookies.RefreshName, Value: "r"})
	assertRedirectHome(t, rec)
	for _, name := range []string{cookies.AccessName, cookies.RefreshName} {
		if c := responseCookie(rec, name); c == nil || c.MaxAge >= 0 {
			t.Fatalf("%s must be expired, got %+v", name, c)
		}
	}
	if fl := f.flash(t, rec); fl.Kind != "error" || fl.Message != MsgSignOutFailed {
		t.Fatalf("flash = %+v", fl)
	}
	if store.count() != 0 {
		t.Fatalf("store must not be called without a valid csrf token")
	}
	if got := testutil.ToFloat64(f.metrics.AuthOps().WithLabelValues("signout", "csrf")); got != 1 {
		t.Fatalf("csrf failure counted %v times", got)
	}
}

func TestMagicLink_RequestAndCallback(t *testing.T) {
	h := providertest.New(t, nil)
	f := newFixture(t, h.Provider, nil)

	rec := f.post("/auth/magic-link", url.Values{"email": {"new@example.com"}})
	assertRedirectHome(t, rec)
	if fl := f.flash(t, rec); fl.Message != MsgLinkSent {
		t.Fatalf("flash = %q", fl.Message)
	}

	tok := h.Outbox.LastToken(t)
	rec = f.get("/auth/callback?token=" + url.QueryEscape(tok))
	assertRedirectHome(t, rec)
	if c := responseCookie(rec, cookies.AccessName); c == nil || c.Value == "" {
		t.Fatalf("callback must set the session")
	}
	if fl := f.flash(t, rec); fl.Message != MsgLinkSignedIn {
		t.Fatalf("flash = %q", fl.Message)
	}

	rec = f.get("/auth/callback?token=" + url.QueryEscape(tok))
	assertRedirectHome(t, rec)
	if fl := f.flash(t, rec); fl.Message != MsgLinkInvalid {
		t.Fatalf("reused link flash = %q", fl.Message)
	}
}

func TestSignUp_ConfirmationThenCallback(t *testing.T) {
	h := providertest.New(t, nil)
	f := newFixture(t, h.Provider, nil)

	rec := f.post("/auth/signup", creds("grace@example.com", "abcdef"))
	assertRedirectHome(t, rec)
	if responseCookie(rec, cookies.AccessName) != nil {
		t.Fatalf("no session before confirmation")
	}
	if fl := f.flash(t, rec); fl.Message != MsgConfirmSent {
		t.Fatalf("flash = %q", fl.Message)
	}

	rec = f.get("/auth/callback?token=" + url.QueryEscape(h.Outbox.LastToken(t)))
	if fl := f.flash(t, rec); fl.Message != MsgEmailConfirmed {
		t.Fatalf("flash = %q", fl.Message)
	}

	rec = f.post("/auth/signup", creds("grace@example.com", "abcdef"))
	if fl := f.flash(t, rec); fl.Message != MsgSignUpFailed {
		t.Fatalf("duplicate sign-up flash = %q", fl.Message)
	}
}

func TestSignUp_WithoutConfirmationSetsSession(t *testing.T) {
	h := providertest.New(t, func(c *provider.Config) { c.RequireEmailConfirmation = false })
	f := newFixture(t, h.Provider, nil)

	rec := f.post("/auth/signup", creds("grace@example.com", "abcdef"))
	if c := responseCookie(rec, cookies.AccessName); c == nil || c.Value == "" {
		t.Fatalf("session expected")
	}
	if fl := f.flash(t, rec); fl.Message != MsgSignedIn {
		t.Fatalf("flash = %q", fl.Message)
	}
}

func TestThrottlePerIP(t *testing.T) {
	store := &fakeStore{}
	f := newFixture(t, store, func(c *Config) {
		c.IPMax = 2
		c.IPWindow = time.Minute
	})

	for i := 0; i < 2; i++ {
		if rec := f.post("/auth/magic-link", url.Values{"email": {"ada@example.com"}}); rec.Code != http.StatusSeeOther {
			t.Fatalf("attempt %d: %d", i, rec.Code)
		}
	}
	rec := f.post("/auth/magic-link", url.Values{"email": {"ada@example.com"}})
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatalf("Retry-After missing")
	}
	if v := f.views.last(t); v.Notice != MsgThrottled || v.Email != "ada@example.com" {
		t.Fatalf("unexpected view %+v", v)
	}
	if store.count() != 2 {
		t.Fatalf("throttled request must not reach the store, calls=%d", store.count())
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("HEALTHYDB_AUTH_IP_MAX", "7")
	t.Setenv("HEALTHYDB_AUTH_IP_WINDOW", "90s")
	t.Setenv("HEALTHYDB_AUTH_MAX_BODY_BYTES", "99999999")
	t.Setenv("HEALTHYDB_DB_SCHEMA", "")

	cfg := LoadConfigFromEnv()
	if cfg.IPMax != 7 || cfg.IPWindow != 90*time.Second {
		t.Fatalf("unexpected throttle config %+v", cfg)
	}
	if cfg.MaxBodyBytes != 1<<20 {
		t.Fatalf("body limit must be clamped, got %d", cfg.MaxBodyBytes)
	}
	if cfg.Schema != "healthydb" {
		t.Fatalf("schema default = %q", cfg.Schema)
	}

	t.Setenv("HEALTHYDB_AUTH_IP_MAX", "-1")
	if got := LoadConfigFromEnv().IPMax; got != DefaultConfig().IPMax {
		t.Fatalf("invalid value must fall back, got %d", got)
	}
}
