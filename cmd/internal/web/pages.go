package web

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"healthydb/cmd/identity"
	"healthydb/cmd/internal/auth/authctx"
	"healthydb/cmd/internal/auth/cookies"
	"healthydb/cmd/internal/auth/forms"
	"healthydb/cmd/internal/auth/gate"
)

// DefaultRenderWait bounds how long a page waits for the Auth Context to settle.
const DefaultRenderWait = 1500 * time.Millisecond

// Config controls page rendering.
type Config struct {
	RenderWait time.Duration
}

// LoadConfigFromEnv reads HEALTHYDB_RENDER_WAIT.
func LoadConfigFromEnv() Config {
	cfg := Config{RenderWait: DefaultRenderWait}
	if d, err := time.ParseDuration(strings.TrimSpace(os.Getenv("HEALTHYDB_RENDER_WAIT"))); err == nil && d > 0 {
		cfg.RenderWait = d
	}
	return cfg
}

// Pages serves the entry page and the Dashboard Shell pages.
type Pages struct {
	log    *slog.Logger
	cfg    Config
	views  *Views
	src    authctx.Source
	users  identity.Store
	client *gate.Client
	jar    *cookies.Jar
}

// NewPages builds the page handlers.
func NewPages(log *slog.Logger, cfg Config, views *Views, src authctx.Source, users identity.Store, client *gate.Client, jar *cookies.Jar) *Pages {
	if log == nil {
		log = slog.Default()
	}
	if cfg.RenderWait <= 0 {
		cfg.RenderWait = DefaultRenderWait
	}
	return &Pages{log: log, cfg: cfg, views: views, src: src, users: users, client: client, jar: jar}
}

// Register wires page routes onto mux.
func (p *Pages) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", p.handleEntry)
	mux.HandleFunc("GET /dashboard", p.handleDashboard)
	mux.HandleFunc("GET /dashboard/activity", p.handleActivity)
	mux.HandleFunc("GET /dashboard/settings", p.handleSettings)
}

// state mounts an Auth Context for the request and waits for it to settle. A context that is
// still loading when RenderWait elapses is returned as is.
func (p *Pages) state(r *http.Request) authctx.State {
	creds := p.jar.Credentials(r)
	if res, ok := gate.ResolvedFrom(r.Context()); ok {
		creds = res.Creds
	}

	ac := authctx.New(p.log)
	defer ac.Unmount()
	if err := ac.Mount(r.Context(), p.src, p.jar.Device(r).ID, creds); err != nil {
		p.log.Error("web.authctx.mount.fail", "err", err)
		return ac.State()
	}

	ctx, cancel := context.WithTimeout(r.Context(), p.cfg.RenderWait)
	defer cancel()
	st, err := ac.Settled(ctx)
	if err != nil {
		p.log.Debug("web.authctx.unsettled", "path", r.URL.Path, "err", err)
	}
	return st
}

// apply evaluates the Client gate. It returns the state to render with, or false when a
// response (redirect or waiting page) was already written.
func (p *Pages) apply(w http.ResponseWriter, r *http.Request) (authctx.State, bool) {
	st := p.state(r)
	d := p.client.Evaluate(r.URL.Path, st)
	switch d.Action {
	case gate.Wait:
		p.views.renderWaiting(w, r)
		return st, false
	case gate.Redirect:
		http.Redirect(w, r, d.Location, http.StatusTemporaryRedirect)
		return st, false
	default:
		return st, true
	}
}

func (p *Pages) handleEntry(w http.ResponseWriter, r *http.Request) {
	if _, ok := p.apply(w, r); !ok {
		return
	}
	tab := forms.SignIn
	if r.URL.Query().Get("tab") == forms.SignUp {
		tab = forms.SignUp
	}
	p.views.RenderEntry(w, r, http.StatusOK, forms.View{Tab: tab})
}

func (p *Pages) handleDashboard(w http.ResponseWriter, r *http.Request) {
	st, ok := p.apply(w, r)
	if !ok {
		return
	}
	p.views.renderShell(w, r, "dashboard", "Dashboard", st.User, map[string]any{
		"metrics":  DashboardMetrics,
		"activity": RecentActivity,
	})
}

func (p *Pages) handleActivity(w http.ResponseWriter, r *http.Request) {
	st, ok := p.apply(w, r)
	if !ok {
		return
	}
	p.views.renderShell(w, r, "activity", "Activity", st.User, map[string]any{
		"activity": RecentActivity,
	})
}

// account is the Settings page view of a user.
type account struct {
	ID        string
	Email     string
	Confirmed bool
	CreatedAt string
}

func (p *Pages) handleSettings(w http.ResponseWriter, r *http.Request) {
	st, ok := p.apply(w, r)
	if !ok {
		return
	}
	acct := account{ID: st.User.ID, Email: st.User.Email}
	if u, err := p.users.GetUserByID(r.Context(), st.User.ID); err == nil {
		acct.Confirmed = u.Confirmed()
		acct.CreatedAt = u.CreatedAt.UTC().Format("January 2, 2006")
	} else {
		p.log.Warn("web.settings.user.fail", "err", err)
	}
	p.views.renderShell(w, r, "settings", "Settings", st.User, map[string]any{
		"account": acct,
	})
}
