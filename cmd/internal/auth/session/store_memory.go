package session

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// sweepEvery bounds how often Create and Rotate scan for expired rows.
const sweepEvery = time.Minute

// MemoryStore is an in-process Store used by tests and by deployments
// without HEALTHYDB_DATABASE_URL. Rows past their expiry are swept when sessions are created.
type MemoryStore struct {
	mu        sync.Mutex
	byID      map[string]*Row
	byRefresh map[string]string
	lastSweep time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:      make(map[string]*Row),
		byRefresh: make(map[string]string),
	}
}

func (s *MemoryStore) Create(ctx context.Context, now time.Time, userID string, dev DeviceContext, refreshHash string, expiresAt time.Time) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createLocked(now, userID, refreshHash, expiresAt), nil
}

func (s *MemoryStore) createLocked(now time.Time, userID, refreshHash string, expiresAt time.Time) string {
	if now.Sub(s.lastSweep) >= sweepEvery {
		s.sweepLocked(now)
	}
	id := ulid.Make().String()
	used := now
	s.byID[id] = &Row{
		ID:               id,
		UserID:           userID,
		RefreshTokenHash: refreshHash,
		CreatedAt:        now,
		LastUsedAt:       &used,
		ExpiresAt:        expiresAt,
	}
	s.byRefresh[refreshHash] = id
	return id
}

func (s *MemoryStore) GetByID(ctx context.Context, sessionID string) (Row, error) {
	if err := ctx.Err(); err != nil {
		return Row{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byID[sessionID]
	if !ok {
		return Row{}, ErrSessionNotFound
	}
	return *r, nil
}

func (s *MemoryStore) Rotate(ctx context.Context, now time.Time, refreshHash string, next Replacement) (Rotated, error) {
	if err := ctx.Err(); err != nil {
		return Rotated{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byRefresh[refreshHash]
	if !ok {
		return Rotated{}, ErrSessionNotFound
	}
	old := s.byID[id]

	switch checkRotatable(*old, now, next.ReuseInterval) {
	case rotateExpired:
		return Rotated{}, ErrSessionExpired
	case rotateReuse:
		s.revokeAllLocked(now, old.UserID, reasonReuse)
		return Rotated{}, ErrRefreshReuseDetected
	case rotateRevoked:
		return Rotated{}, ErrSessionRevoked
	case rotateReplaced:
		repl, ok := s.byID[*old.ReplacedBySessionID]
		if !ok || !repl.Active(now) {
			return Rotated{}, ErrSessionRevoked
		}
		return Rotated{OldID: old.ID, NewID: repl.ID, UserID: old.UserID, ExpiresAt: repl.ExpiresAt, Reused: true}, nil
	}

	newID := s.createLocked(now, old.UserID, next.RefreshHash, next.ExpiresAt)
	revoked, used, reason := now, now, reasonRotation
	old.RevokedAt = &revoked
	old.LastUsedAt = &used
	old.ReplacedBySessionID = &newID
	old.RevocationReason = &reason

	return Rotated{OldID: old.ID, NewID: newID, UserID: old.UserID, ExpiresAt: next.ExpiresAt}, nil
}

func (s *MemoryStore) Touch(ctx context.Context, now time.Time, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.byID[sessionID]; ok {
		t := now
		r.LastUsedAt = &t
	}
	return nil
}

func (s *MemoryStore) Revoke(ctx context.Context, now time.Time, sessionID string, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.byID[sessionID]; ok {
		revokeRow(r, now, reason)
	}
	return nil
}

func (s *MemoryStore) RevokeAll(ctx context.Context, now time.Time, userID string, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revokeAllLocked(now, userID, reason)
	return nil
}

func (s *MemoryStore) revokeAllLocked(now time.Time, userID, reason string) {
	for _, r := range s.byID {
		if r.UserID == userID {
			revokeRow(r, now, reason)
		}
	}
}

// revokeRow mirrors the COALESCE semantics of the Postgres store.
func revokeRow(r *Row, now time.Time, reason string) {
	if r.RevokedAt == nil {
		t := now
		r.RevokedAt = &t
	}
	if r.RevocationReason == nil {
		rs := reason
		r.RevocationReason = &rs
	}
}

// sweepLocked drops rows that can no longer be validated or rotated.
func (s *MemoryStore) sweepLocked(now time.Time) {
	for id, r := range s.byID {
		if !r.ExpiresAt.After(now) {
			delete(s.byRefresh, r.RefreshTokenHash)
			delete(s.byID, id)
		}
	}
	s.lastSweep = now
}

// Len returns the number of stored rows.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}
