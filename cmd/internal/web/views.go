// Package web renders the entry page and the Dashboard Shell.
package web

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"

	"healthydb/cmd/internal/auth/cookies"
	"healthydb/cmd/internal/auth/forms"

	"github.com/flosch/pongo2/v6"
	"github.com/gofiber/template/django/v3"
)

//go:embed templates/*.html
var templateFS embed.FS

const (
	layoutBase  = "base"
	layoutShell = "shell"
)

// Views owns the template engine.
type Views struct {
	log    *slog.Logger
	engine *django.Engine
	jar    *cookies.Jar
}

// NewViews parses the embedded templates.
func NewViews(log *slog.Logger, jar *cookies.Jar) (*Views, error) {
	if log == nil {
		log = slog.Default()
	}
	sub, err := fs.Sub(templateFS, "templates")
	if err != nil {
		return nil, err
	}
	engine := django.NewFileSystem(http.FS(sub), ".html")
	if err := engine.Load(); err != nil {
		return nil, fmt.Errorf("web: load templates: %w", err)
	}
	return &Views{log: log, engine: engine, jar: jar}, nil
}

// base returns the binding every page starts from: title, path, CSRF token and a pending toast.
func (v *Views) base(w http.ResponseWriter, r *http.Request, title string) map[string]any {
	bind := map[string]any{
		"title": title,
		"path":  r.URL.Path,
		"csrf":  v.jar.EnsureCSRF(w, r),
	}
	if f, ok := v.jar.PopFlash(w, r); ok {
		bind["flash"] = f
	}
	return bind
}

// RenderEntry renders the entry page with the forms in state fv.
func (v *Views) RenderEntry(w http.ResponseWriter, r *http.Request, status int, fv forms.View) {
	bind := v.base(w, r, "Sign in")
	if fv.Tab == "" {
		fv.Tab = forms.SignIn
	}
	bind["tab"] = fv.Tab
	if fv.Notice != "" {
		bind["notice"] = fv.Notice
	}
	switch fv.Form {
	case forms.SignUp:
		bind["signup_email"] = fv.Email
		bind["signup_errors"] = fv.FieldErrors
	case forms.MagicLink:
		bind["magic_email"] = fv.Email
		bind["magic_errors"] = fv.FieldErrors
	default:
		bind["signin_email"] = fv.Email
		bind["signin_errors"] = fv.FieldErrors
	}
	v.write(w, status, "entry", bind, layoutBase)
}

// renderWaiting renders the neutral loading page.
func (v *Views) renderWaiting(w http.ResponseWriter, r *http.Request) {
	bind := v.base(w, r, "Loading")
	bind["waiting"] = true
	v.write(w, http.StatusOK, "waiting", bind, layoutBase)
}

// renderShell renders page inside the Dashboard Shell.
func (v *Views) renderShell(w http.ResponseWriter, r *http.Request, page, title string, user any, data map[string]any) {
	bind := v.base(w, r, title)
	bind["user"] = user
	bind["nav"] = Navigation(r.URL.Path)
	for k, val := range data {
		bind[k] = val
	}

	var content bytes.Buffer
	if err := v.engine.Render(&content, page, bind); err != nil {
		v.fail(w, page, err)
		return
	}
	bind["content"] = pongo2.AsSafeValue(content.String())
	v.write(w, http.StatusOK, layoutShell, bind, layoutBase)
}

func (v *Views) write(w http.ResponseWriter, status int, name string, bind map[string]any, layout string) {
	var buf bytes.Buffer
	if err := v.engine.Render(&buf, name, bind, layout); err != nil {
		v.fail(w, name, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

func (v *Views) fail(w http.ResponseWriter, name string, err error) {
	v.log.Error("web.render.fail", "template", name, "err", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}
