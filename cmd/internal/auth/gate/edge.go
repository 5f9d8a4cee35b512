package gate

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"healthydb/cmd/internal/auth/provider"
	"healthydb/cmd/internal/metrics"
)

// SessionSource is the part of the Session Store the Edge gate uses.
type SessionSource interface {
	GetSession(ctx context.Context, creds provider.Credentials) (*provider.Session, error)
	RefreshSession(ctx context.Context, creds provider.Credentials, dev provider.Device) (*provider.Session, error)
}

// Jar reads and writes the session cookies.
type Jar interface {
	Credentials(r *http.Request) provider.Credentials
	Device(r *http.Request) provider.Device
	SetSession(w http.ResponseWriter, s *provider.Session)
	ClearSession(w http.ResponseWriter)
}

// Resolved is what the Edge gate learned about a request.
// Creds reflect any refresh performed by the gate.
type Resolved struct {
	Creds   provider.Credentials
	Session *provider.Session
}

type resolvedKey struct{}

// WithResolved stores r in ctx.
func WithResolved(ctx context.Context, r Resolved) context.Context {
	return context.WithValue(ctx, resolvedKey{}, r)
}

// ResolvedFrom returns what the Edge gate stored, if it ran.
func ResolvedFrom(ctx context.Context) (Resolved, bool) {
	r, ok := ctx.Value(resolvedKey{}).(Resolved)
	return r, ok
}

// Edge is the request-time gate.
type Edge struct {
	log     *slog.Logger
	table   Table
	src     SessionSource
	jar     Jar
	metrics *metrics.Metrics
}

// NewEdge builds an Edge gate. m may be nil.
func NewEdge(log *slog.Logger, table Table, src SessionSource, jar Jar, m *metrics.Metrics) *Edge {
	if log == nil {
		log = slog.Default()
	}
	return &Edge{log: log, table: table, src: src, jar: jar, metrics: m}
}

// Middleware evaluates matched paths and passes everything else through untouched.
func (e *Edge) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !e.table.Matches(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		res := e.resolve(w, r)
		if loc := e.table.Decide(r.URL.Path, res.Session != nil); loc != "" {
			e.metrics.GateDecision("edge", "redirect")
			e.log.Debug("gate.edge.redirect", "path", r.URL.Path, "location", loc)
			http.Redirect(w, r, loc, redirectStatus(r.Method))
			return
		}

		e.metrics.GateDecision("edge", "allow")
		next.ServeHTTP(w, r.WithContext(WithResolved(r.Context(), res)))
	})
}

// resolve reads the session, refreshing it once when the access token no longer works.
func (e *Edge) resolve(w http.ResponseWriter, r *http.Request) Resolved {
	ctx := r.Context()
	creds := e.jar.Credentials(r)

	if creds.AccessToken != "" {
		s, err := e.src.GetSession(ctx, creds)
		if err == nil {
			return Resolved{Creds: creds, Session: s}
		}
		if !errors.Is(err, provider.ErrNoSession) {
			e.log.Error("gate.edge.session.fail", "err", err)
			return Resolved{Creds: creds}
		}
	}

	if creds.RefreshToken == "" {
		return Resolved{}
	}

	s, err := e.src.RefreshSession(ctx, creds, e.jar.Device(r))
	if err != nil {
		if !errors.Is(err, provider.ErrNoSession) {
			e.log.Error("gate.edge.refresh.fail", "err", err)
		}
		e.jar.ClearSession(w)
		return Resolved{}
	}

	e.jar.SetSession(w, s)
	e.log.Debug("gate.edge.refreshed", "session_id", s.SessionID)
	return Resolved{
		Creds:   provider.Credentials{AccessToken: s.AccessToken, RefreshToken: s.RefreshToken},
		Session: s,
	}
}

func redirectStatus(method string) int {
	if method == http.MethodGet || method == http.MethodHead {
		return http.StatusTemporaryRedirect
	}
	return http.StatusSeeOther
}
