package session

import (
	"context"
	"strings"
	"time"

	"healthydb/cmd/security/token"
)

// Service implements the high-level session operations for HealthyDB.
//
// It issues sessions (access + refresh), validates access tokens against the backing row,
// revokes sessions, and performs refresh rotation with reuse detection.
type Service struct {
	cfg    Config
	tokens AccessTokenManager
	store  Store
}

// Issued is the result of issuing or rotating a session.
type Issued struct {
	UserID       string
	SessionID    string
	AccessToken  string
	AccessExp    time.Time
	RefreshToken string // empty when a rotation was served from the reuse interval
	RefreshExp   time.Time
}

// NewService constructs a Service with the provided configuration, store, and token manager.
func NewService(cfg Config, store Store, tokens AccessTokenManager) *Service {
	if cfg.RefreshTokenBytes <= 0 {
		cfg.RefreshTokenBytes = token.DefaultBytes
	}
	return &Service{cfg: cfg, store: store, tokens: tokens}
}

// Config returns the configuration the service was built with.
func (s *Service) Config() Config { return s.cfg }

// IssueSession creates a new session row and returns fresh tokens.
//
// Only the hash of the refresh token is stored.
func (s *Service) IssueSession(ctx context.Context, now time.Time, userID string, dev DeviceContext) (Issued, error) {
	refreshPlain, refreshHash, err := token.NewOpaqueWithHash(s.cfg.RefreshTokenBytes)
	if err != nil {
		return Issued{}, err
	}
	refreshExp := now.Add(s.cfg.RefreshTTL)

	sessionID, err := s.store.Create(ctx, now, userID, dev, refreshHash, refreshExp)
	if err != nil {
		return Issued{}, err
	}

	accessToken, accessExp, err := s.tokens.Issue(userID, sessionID, now)
	if err != nil {
		return Issued{}, err
	}

	return Issued{
		UserID:       userID,
		SessionID:    sessionID,
		AccessToken:  accessToken,
		AccessExp:    accessExp,
		RefreshToken: refreshPlain,
		RefreshExp:   refreshExp,
	}, nil
}

// ValidateAccessToken verifies an access token and ensures the backing session is active.
func (s *Service) ValidateAccessToken(ctx context.Context, tok string, now time.Time) (AccessClaims, error) {
	tok = strings.TrimSpace(tok)
	if tok == "" {
		return AccessClaims{}, ErrInvalidToken
	}
	claims, err := s.tokens.Verify(tok, now)
	if err != nil {
		return AccessClaims{}, err
	}

	// Server-authoritative session check to honor revocations.
	row, err := s.store.GetByID(ctx, claims.SessionID)
	if err != nil {
		return AccessClaims{}, err
	}
	if row.UserID != claims.UserID {
		return AccessClaims{}, ErrInvalidToken
	}
	if row.RevokedAt != nil || row.ReplacedBySessionID != nil {
		return AccessClaims{}, ErrSessionRevoked
	}
	if !row.ExpiresAt.After(now) {
		return AccessClaims{}, ErrSessionExpired
	}

	return claims, nil
}

// RevokeSession revokes a single session by ID (sign-out from this browser).
func (s *Service) RevokeSession(ctx context.Context, now time.Time, sessionID string) error {
	return s.store.Revoke(ctx, now, sessionID, reasonSignOut)
}

// RevokeAll revokes all sessions for a user.
func (s *Service) RevokeAll(ctx context.Context, now time.Time, userID string) error {
	return s.store.RevokeAll(ctx, now, userID, reasonSignOut)
}

// TouchSession updates last_used_at for a session (best-effort).
func (s *Service) TouchSession(ctx context.Context, now time.Time, sessionID string) error {
	return s.store.Touch(ctx, now, sessionID)
}

// RotateRefresh exchanges a refresh token for a new session.
//
//   - Unknown token: ErrSessionNotFound.
//   - Expired session: ErrSessionExpired.
//   - Token rotated less than ReuseInterval ago: a new access token for the replacement session,
//     with RefreshToken left empty so the browser keeps the cookie set by the first rotation.
//   - Token of an already rotated session: every session of the user is revoked, ErrRefreshReuseDetected.
//   - Token of a signed-out session: ErrSessionRevoked.
func (s *Service) RotateRefresh(ctx context.Context, now time.Time, refreshTokenPlain string, dev DeviceContext) (Issued, error) {
	refreshTokenPlain = strings.TrimSpace(refreshTokenPlain)
	if refreshTokenPlain == "" || len(refreshTokenPlain) > 4096 {
		return Issued{}, ErrSessionNotFound
	}

	newPlain, newHash, err := token.NewOpaqueWithHash(s.cfg.RefreshTokenBytes)
	if err != nil {
		return Issued{}, err
	}
	newExp := now.Add(s.cfg.RefreshTTL)

	rot, err := s.store.Rotate(ctx, now, token.HashOpaqueHex(refreshTokenPlain), Replacement{
		RefreshHash:   newHash,
		ExpiresAt:     newExp,
		Device:        dev,
		ReuseInterval: s.cfg.ReuseInterval,
	})
	if err != nil {
		return Issued{}, err
	}

	accessToken, accessExp, err := s.tokens.Issue(rot.UserID, rot.NewID, now)
	if err != nil {
		return Issued{}, err
	}

	issued := Issued{
		UserID:       rot.UserID,
		SessionID:    rot.NewID,
		AccessToken:  accessToken,
		AccessExp:    accessExp,
		RefreshToken: newPlain,
		RefreshExp:   rot.ExpiresAt,
	}
	if rot.Reused {
		issued.RefreshToken = ""
	}
	return issued, nil
}
