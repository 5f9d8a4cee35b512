package magiclink

import (
	"context"
	"sync"
	"time"
)

// sweepEvery bounds how often Save scans for expired records.
const sweepEvery = time.Minute

// MemoryStore keeps records in process. Expired records are swept on Save, at most once per
// sweepEvery, so links nobody redeems do not accumulate.
type MemoryStore struct {
	mu        sync.Mutex
	recs      map[string]Record
	now       func() time.Time
	lastSweep time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{recs: make(map[string]Record), now: time.Now}
}

func (s *MemoryStore) Save(ctx context.Context, tokenHash string, rec Record, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ttl <= 0 {
		return ErrConfig
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if now := s.now(); now.Sub(s.lastSweep) >= sweepEvery {
		for h, r := range s.recs {
			if !r.ExpiresAt.After(now) {
				delete(s.recs, h)
			}
		}
		s.lastSweep = now
	}
	s.recs[tokenHash] = rec
	return nil
}

// Len returns the number of stored records, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.recs)
}

func (s *MemoryStore) Consume(ctx context.Context, tokenHash string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[tokenHash]
	if !ok {
		return Record{}, ErrTokenNotFound
	}
	delete(s.recs, tokenHash)
	if !rec.ExpiresAt.After(s.now()) {
		return Record{}, ErrTokenNotFound
	}
	return rec, nil
}
