package magiclink

import (
	"context"
	"strings"
	"time"

	"healthydb/cmd/security/token"
)

// Service issues and redeems links over a Store.
type Service struct {
	cfg   Config
	store Store
}

// NewService builds a Service. Zero config fields fall back to DefaultConfig.
func NewService(cfg Config, store Store) *Service {
	def := DefaultConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.TokenBytes <= 0 {
		cfg.TokenBytes = def.TokenBytes
	}
	return &Service{cfg: cfg, store: store}
}

// Issue stores a new record and returns the plaintext token to embed in the link.
// IssuedAt and ExpiresAt are set from now.
func (s *Service) Issue(ctx context.Context, now time.Time, rec Record) (string, Record, error) {
	if !rec.Purpose.Valid() || strings.TrimSpace(rec.UserID) == "" {
		return "", Record{}, ErrConfig
	}
	plain, hash, err := token.NewOpaqueWithHash(s.cfg.TokenBytes)
	if err != nil {
		return "", Record{}, err
	}
	rec.IssuedAt = now
	rec.ExpiresAt = now.Add(s.cfg.TTL)

	if err := s.store.Save(ctx, hash, rec, s.cfg.TTL); err != nil {
		return "", Record{}, err
	}
	return plain, rec, nil
}

// Redeem consumes the token. The record is gone afterwards whatever the outcome.
// An empty want accepts any purpose.
func (s *Service) Redeem(ctx context.Context, now time.Time, plain string, want Purpose) (Record, error) {
	plain = strings.TrimSpace(plain)
	if plain == "" || len(plain) > 512 {
		return Record{}, ErrTokenNotFound
	}
	rec, err := s.store.Consume(ctx, token.HashOpaqueHex(plain))
	if err != nil {
		return Record{}, err
	}
	if !rec.ExpiresAt.After(now) {
		return Record{}, ErrTokenNotFound
	}
	if want != "" && rec.Purpose != want {
		return Record{}, ErrPurposeMismatch
	}
	return rec, nil
}
