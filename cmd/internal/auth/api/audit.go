package api

import (
	"context"
	"encoding/json"
	"net"
	"strings"

	"healthydb/cmd/internal/auth/provider"

	"github.com/jackc/pgx/v5"
)

func (h *Handler) auditSignIn(ctx context.Context, s *provider.Session, dev provider.Device, email string) {
	h.insertAudit(ctx, "auth.signin.success", &s.User.ID, &s.SessionID, dev.IP, dev.UserAgent, map[string]any{
		"email": email,
	})
}

func (h *Handler) auditFailed(ctx context.Context, action string, dev provider.Device, email string, reason string) {
	h.insertAudit(ctx, action, nil, nil, dev.IP, dev.UserAgent, map[string]any{
		"email":  email,
		"reason": reason,
	})
}

func (h *Handler) auditSignUp(ctx context.Context, res provider.SignUpResult, dev provider.Device) {
	var sessionID *string
	if res.Session != nil {
		sessionID = &res.Session.SessionID
	}
	h.insertAudit(ctx, "auth.signup.created", &res.User.ID, sessionID, dev.IP, dev.UserAgent, map[string]any{
		"email":             res.User.Email,
		"confirmation_sent": res.ConfirmationSent,
	})
}

func (h *Handler) auditMagicLink(ctx context.Context, dev provider.Device, email string) {
	h.insertAudit(ctx, "auth.magiclink.requested", nil, nil, dev.IP, dev.UserAgent, map[string]any{
		"email": email,
	})
}

func (h *Handler) auditCallback(ctx context.Context, s *provider.Session, dev provider.Device, purpose string) {
	h.insertAudit(ctx, "auth.callback.success", &s.User.ID, &s.SessionID, dev.IP, dev.UserAgent, map[string]any{
		"purpose": purpose,
	})
}

func (h *Handler) auditSignOut(ctx context.Context, dev provider.Device, failed bool) {
	var meta map[string]any
	if failed {
		meta = map[string]any{"failed": true}
	}
	h.insertAudit(ctx, "auth.signout", nil, nil, dev.IP, dev.UserAgent, meta)
}

func (h *Handler) auditThrottled(ctx context.Context, op string, dev provider.Device) {
	h.insertAudit(ctx, "auth.rate_limited", nil, nil, dev.IP, dev.UserAgent, map[string]any{
		"op": op,
	})
}

func (h *Handler) insertAudit(ctx context.Context, action string, userID *string, sessionID *string, ip net.IP, ua string, meta map[string]any) {
	if h == nil || h.pool == nil {
		return
	}

	action = strings.TrimSpace(action)
	if action == "" {
		return
	}

	var ipVal any
	if ip != nil {
		ipVal = ip.String()
	}

	var metaVal *string
	if len(meta) > 0 {
		if b, err := json.Marshal(meta); err == nil {
			s := string(b)
			metaVal = &s
		}
	}

	_, err := h.pool.Exec(ctx, `
		INSERT INTO `+pgx.Identifier{h.cfg.Schema, "audit_log"}.Sanitize()+` (
			user_id, session_id, action, created_at, ip, user_agent, meta
		) VALUES ($1, $2, $3, now(), $4, $5, $6::jsonb)
	`, userID, sessionID, action, ipVal, trimOrNil(ua), metaVal)
	if err != nil {
		h.log.Error("auth.audit.insert.fail", "err", err, "action", action)
	}
}

func trimOrNil(s string) any {
	v := strings.TrimSpace(s)
	if v == "" {
		return nil
	}
	return v
}
