package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
)

// PostgresStore implements Store using PostgreSQL (<schema>.sessions).
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the schema holding the sessions table (default "healthydb").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("session: invalid schema identifier %q", schema)
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore creates a Postgres-backed session store.
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
		return nil, fmt.Errorf("session: nil pool")
	}
	return st, nil
}

func (s *PostgresStore) table() string {
	return pgx.Identifier{s.schema, "sessions"}.Sanitize()
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const rowColumns = `id, user_id, refresh_token_hash,
	created_at, last_used_at, expires_at, revoked_at,
	replaced_by_session_id, revocation_reason`

func scanRow(r pgx.Row) (Row, error) {
	var row Row
	err := r.Scan(
		&row.ID,
		&row.UserID,
		&row.RefreshTokenHash,
		&row.CreatedAt,
		&row.LastUsedAt,
		&row.ExpiresAt,
		&row.RevokedAt,
		&row.ReplacedBySessionID,
		&row.RevocationReason,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Row{}, ErrSessionNotFound
	}
	if err != nil {
		return Row{}, err
	}
	return row, nil
}

// Create inserts a new session row and returns its ULID.
func (s *PostgresStore) Create(ctx context.Context, now time.Time, userID string, dev DeviceContext, refreshHash string, expiresAt time.Time) (string, error) {
	return s.create(ctx, s.pool, now, userID, dev, refreshHash, expiresAt)
}

func (s *PostgresStore) create(ctx context.Context, q querier, now time.Time, userID string, dev DeviceContext, refreshHash string, expiresAt time.Time) (string, error) {
	id := ulid.Make().String()

	var ip net.IP
	if dev.IP != nil {
		ip = dev.IP
	}

	var got string
	err := q.QueryRow(ctx, `
		INSERT INTO `+s.table()+` (
			id, user_id, refresh_token_hash,
			created_at, last_used_at, expires_at,
			user_agent, ip
		) VALUES ($1, $2, $3, $4, $4, $5, $6, $7)
		RETURNING id
	`, id, userID, refreshHash, now, expiresAt, nullIfEmpty(dev.UserAgent), ip).Scan(&got)
	if err != nil {
		return "", err
	}
	return got, nil
}

// GetByID loads a session row by ID.
func (s *PostgresStore) GetByID(ctx context.Context, sessionID string) (Row, error) {
	return scanRow(s.pool.QueryRow(ctx, `SELECT `+rowColumns+` FROM `+s.table()+` WHERE id = $1`, sessionID))
}

// Rotate locks the row by refresh hash (SELECT ... FOR UPDATE) and replaces it in one transaction.
// Reuse detection commits the revoke-all before returning ErrRefreshReuseDetected.
// A replay within next.ReuseInterval reads the replacement and changes nothing.
func (s *PostgresStore) Rotate(ctx context.Context, now time.Time, refreshHash string, next Replacement) (Rotated, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return Rotated{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row, err := scanRow(tx.QueryRow(ctx,
		`SELECT `+rowColumns+` FROM `+s.table()+` WHERE refresh_token_hash = $1 FOR UPDATE`,
		refreshHash,
	))
	if err != nil {
		return Rotated{}, err
	}

	switch checkRotatable(row, now, next.ReuseInterval) {
	case rotateExpired:
		return Rotated{}, ErrSessionExpired
	case rotateRevoked:
		return Rotated{}, ErrSessionRevoked
	case rotateReplaced:
		repl, err := scanRow(tx.QueryRow(ctx, `SELECT `+rowColumns+` FROM `+s.table()+` WHERE id = $1`, *row.ReplacedBySessionID))
		if errors.Is(err, ErrSessionNotFound) || (err == nil && !repl.Active(now)) {
			return Rotated{}, ErrSessionRevoked
		}
		if err != nil {
			return Rotated{}, err
		}
		return Rotated{OldID: row.ID, NewID: repl.ID, UserID: row.UserID, ExpiresAt: repl.ExpiresAt, Reused: true}, nil
	case rotateReuse:
		if _, err := tx.Exec(ctx, revokeAllSQL(s.table()), row.UserID, now, reasonReuse); err != nil {
			return Rotated{}, err
		}
		if err := tx.Commit(ctx); err != nil {
			return Rotated{}, err
		}
		return Rotated{}, ErrRefreshReuseDetected
	}

	newID, err := s.create(ctx, tx, now, row.UserID, next.Device, next.RefreshHash, next.ExpiresAt)
	if err != nil {
		return Rotated{}, err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE `+s.table()+`
		SET last_used_at = $2,
		    revoked_at = $2,
		    replaced_by_session_id = $3,
		    revocation_reason = $4
		WHERE id = $1
	`, row.ID, now, newID, reasonRotation); err != nil {
		return Rotated{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Rotated{}, err
	}
	return Rotated{OldID: row.ID, NewID: newID, UserID: row.UserID, ExpiresAt: next.ExpiresAt}, nil
}

// Touch updates last_used_at for a session.
func (s *PostgresStore) Touch(ctx context.Context, now time.Time, sessionID string) error {
	_, err := s.pool.Exec(ctx, `UPDATE `+s.table()+` SET last_used_at = $2 WHERE id = $1`, sessionID, now)
	return err
}

// Revoke revokes a single session (idempotent).
func (s *PostgresStore) Revoke(ctx context.Context, now time.Time, sessionID string, reason string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE `+s.table()+`
		SET revoked_at = COALESCE(revoked_at, $2),
		    revocation_reason = COALESCE(revocation_reason, $3)
		WHERE id = $1
	`, sessionID, now, reason)
	return err
}

// RevokeAll revokes all sessions for a user (idempotent).
func (s *PostgresStore) RevokeAll(ctx context.Context, now time.Time, userID string, reason string) error {
	_, err := s.pool.Exec(ctx, revokeAllSQL(s.table()), userID, now, reason)
	return err
}

func revokeAllSQL(table string) string {
	return `
		UPDATE ` + table + `
		SET revoked_at = COALESCE(revoked_at, $2),
		    revocation_reason = COALESCE(revocation_reason, $3)
		WHERE user_id = $1`
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
