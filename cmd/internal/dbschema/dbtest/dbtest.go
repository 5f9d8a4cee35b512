// Package dbtest opens Postgres for integration tests.
//
// Tests are opt-in: without HEALTHYDB_TEST_DATABASE_URL they are skipped, and an unreachable
// database skips outside CI (CI=true turns it into a failure).
package dbtest

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"healthydb/cmd/identity/ids"
	"healthydb/cmd/internal/dbschema"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// EnvURL names the variable holding the integration database URL.
const EnvURL = "HEALTHYDB_TEST_DATABASE_URL"

// Open returns a pool plus a fresh schema with the HealthyDB tables applied.
// Both are cleaned up when the test ends.
func Open(t *testing.T) (*pgxpool.Pool, string) {
	t.Helper()

	raw := strings.TrimSpace(os.Getenv(EnvURL))
	if raw == "" {
		t.Skipf("integration test skipped: %s is not set", EnvURL)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 12*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, raw)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer pingCancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		if os.Getenv("CI") != "true" {
			t.Skipf("integration test skipped: postgres unreachable: %v", err)
		}
		t.Fatalf("ping: %v", err)
	}

	id, err := ids.NewULID(time.Now().UTC())
	if err != nil {
		pool.Close()
		t.Fatalf("ulid: %v", err)
	}
	schema := "hdb_it_" + strings.ToLower(id)

	if err := dbschema.Apply(ctx, pool, schema); err != nil {
		pool.Close()
		t.Fatalf("apply schema: %v", err)
	}

	t.Cleanup(func() {
		dropCtx, dropCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer dropCancel()
		_, _ = pool.Exec(dropCtx, `DROP SCHEMA IF EXISTS `+pgx.Identifier{schema}.Sanitize()+` CASCADE`)
		pool.Close()
	})

	return pool, schema
}
