package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"healthydb/cmd/identity/ids"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store over PostgreSQL.
//
// The pgx pool is owned by the caller; this store never closes it.
// Schema/table identifiers are quoted with pgx.Identifier.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema used by the store (default "healthydb").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("identity: empty schema")
		}
		if !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("identity: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{pool: pool, schema: "healthydb"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("identity: nil pool")
	}
	return st, nil
}

// CreateUser creates a user and, when a hash is given, its credential in one transaction.
func (s *PostgresStore) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "identity.CreateUser"

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

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return User{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`INSERT INTO `+s.ident("users")+` (id, email, email_norm, email_confirmed_at, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		id, email, norm, in.ConfirmedAt, now,
	)
	if err != nil {
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return User{}, ConflictError{Op: op, Field: field}
		}
		return User{}, err
	}

	if in.PasswordHash != "" {
		_, err = tx.Exec(ctx,
			`INSERT INTO `+s.ident("user_credentials")+` (user_id, password_hash, created_at, updated_at)
			 VALUES ($1, $2, $3, $3)`,
			id, in.PasswordHash, now,
		)
		if err != nil {
			return User{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return User{}, err
	}

	return User{
		ID:               id,
		Email:            email,
		EmailNorm:        norm,
		EmailConfirmedAt: copyTime(in.ConfirmedAt),
		CreatedAt:        now,
	}, nil
}

// GetUserByID implements Store.
func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (User, error) {
	var u User
	err := s.pool.QueryRow(ctx,
		`SELECT id, email, email_norm, email_confirmed_at, created_at
		   FROM `+s.ident("users")+`
		  WHERE id = $1`,
		strings.TrimSpace(id),
	).Scan(&u.ID, &u.Email, &u.EmailNorm, &u.EmailConfirmedAt, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, NotFoundError{Op: "identity.GetUserByID", Resource: "user"}
	}
	if err != nil {
		return User{}, err
	}
	return u, nil
}

// GetUserAuthByEmail implements Store.
func (s *PostgresStore) GetUserAuthByEmail(ctx context.Context, email string) (UserAuth, error) {
	var (
		out  UserAuth
		hash *string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT u.id, u.email, u.email_norm, u.email_confirmed_at, u.created_at, c.password_hash
		   FROM `+s.ident("users")+` u
		   LEFT JOIN `+s.ident("user_credentials")+` c ON c.user_id = u.id
		  WHERE u.email_norm = $1`,
		NormalizeEmail(email),
	).Scan(&out.User.ID, &out.User.Email, &out.User.EmailNorm, &out.User.EmailConfirmedAt, &out.User.CreatedAt, &hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return UserAuth{}, NotFoundError{Op: "identity.GetUserAuthByEmail", Resource: "user"}
	}
	if err != nil {
		return UserAuth{}, err
	}
	if hash != nil {
		out.PasswordHash = *hash
	}
	return out, nil
}

// ConfirmEmail implements Store.
func (s *PostgresStore) ConfirmEmail(ctx context.Context, userID string, now time.Time) (User, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	var u User
	err := s.pool.QueryRow(ctx,
		`UPDATE `+s.ident("users")+`
		    SET email_confirmed_at = COALESCE(email_confirmed_at, $2)
		  WHERE id = $1
		  RETURNING id, email, email_norm, email_confirmed_at, created_at`,
		userID, now,
	).Scan(&u.ID, &u.Email, &u.EmailNorm, &u.EmailConfirmedAt, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, NotFoundError{Op: "identity.ConfirmEmail", Resource: "user"}
	}
	if err != nil {
		return User{}, err
	}
	return u, nil
}

// SetPasswordHash implements Store.
func (s *PostgresStore) SetPasswordHash(ctx context.Context, userID string, hash string, now time.Time) error {
	const op = "identity.SetPasswordHash"

	if strings.TrimSpace(hash) == "" {
		return invalid(op, "empty hash")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.ident("user_credentials")+` (user_id, password_hash, created_at, updated_at)
		 VALUES ($1, $2, $3, $3)
		 ON CONFLICT (user_id) DO UPDATE SET password_hash = EXCLUDED.password_hash, updated_at = EXCLUDED.updated_at`,
		userID, hash, now,
	)
	if pgIsForeignKeyViolation(err) {
		return NotFoundError{Op: op, Resource: "user"}
	}
	return err
}

func (s *PostgresStore) ident(name string) string {
	return pgx.Identifier{s.schema, name}.Sanitize()
}

func pgIsForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23503" // foreign_key_violation
}

func pgClassifyUniqueViolation(err error) (field string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return "", false
	}
	if pgErr.Code != "23505" { // unique_violation
		return "", false
	}

	c := strings.ToLower(strings.TrimSpace(pgErr.ConstraintName))
	switch {
	case c == "uq_users_email_norm", strings.Contains(c, "email"):
		return "email", true
	default:
		return "unique", true
	}
}
