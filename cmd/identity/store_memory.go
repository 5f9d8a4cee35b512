package identity

import (
	"context"
	"strings"
	"sync"
	"time"

	"healthydb/cmd/identity/ids"
)

// MemoryStore is an in-process Store for development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]*memoryUser
	byEmail map[string]string
}

type memoryUser struct {
	user User
	hash string
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[string]*memoryUser),
		byEmail: make(map[string]string),
	}
}

// CreateUser implements Store.
func (s *MemoryStore) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "identity.CreateUser"

	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	email := strings.TrimSpace(in.Email)
	if email == "" {
		return User{}, invalid(op, "email is required")
	}
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := ids.NewULID(now)
	if err != nil {
		return User{}, err
	}
	norm := NormalizeEmail(email)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byEmail[norm]; exists {
		return User{}, ConflictError{Op: op, Field: "email"}
	}

	u := User{
		ID:               id,
		Email:            email,
		EmailNorm:        norm,
		EmailConfirmedAt: copyTime(in.ConfirmedAt),
		CreatedAt:        now,
	}
	s.byID[id] = &memoryUser{user: u, hash: in.PasswordHash}
	s.byEmail[norm] = id
	return u, nil
}

// GetUserByID implements Store.
func (s *MemoryStore) GetUserByID(ctx context.Context, id string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	mu, ok := s.byID[strings.TrimSpace(id)]
	if !ok {
		return User{}, NotFoundError{Op: "identity.GetUserByID", Resource: "user"}
	}
	return mu.user, nil
}

// GetUserAuthByEmail implements Store.
func (s *MemoryStore) GetUserAuthByEmail(ctx context.Context, email string) (UserAuth, error) {
	if err := ctx.Err(); err != nil {
		return UserAuth{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[NormalizeEmail(email)]
	if !ok {
		return UserAuth{}, NotFoundError{Op: "identity.GetUserAuthByEmail", Resource: "user"}
	}
	mu := s.byID[id]
	return UserAuth{User: mu.user, PasswordHash: mu.hash}, nil
}

// ConfirmEmail implements Store.
func (s *MemoryStore) ConfirmEmail(ctx context.Context, userID string, now time.Time) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	mu, ok := s.byID[userID]
	if !ok {
		return User{}, NotFoundError{Op: "identity.ConfirmEmail", Resource: "user"}
	}
	if mu.user.EmailConfirmedAt == nil {
		mu.user.EmailConfirmedAt = &now
	}
	return mu.user, nil
}

// SetPasswordHash implements Store.
func (s *MemoryStore) SetPasswordHash(ctx context.Context, userID string, hash string, _ time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(hash) == "" {
		return invalid("identity.SetPasswordHash", "empty hash")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	mu, ok := s.byID[userID]
	if !ok {
		return NotFoundError{Op: "identity.SetPasswordHash", Resource: "user"}
	}
	mu.hash = hash
	return nil
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
