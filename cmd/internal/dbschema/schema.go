// Package dbschema carries the Postgres DDL for HealthyDB and applies it on demand.
//
// Production deployments manage the schema out of band; Apply is used by
// HEALTHYDB_DB_AUTO_MIGRATE=true and by the Postgres integration tests, which create a
// throwaway schema per test.
package dbschema

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultSchema is the schema used by the stores unless overridden.
const DefaultSchema = "healthydb"

//go:embed schema.sql
var schemaSQL string

// SQL returns the DDL for schema with identifiers quoted.
func SQL(schema string) string {
	return strings.ReplaceAll(schemaSQL, "{{schema}}", pgx.Identifier{schema}.Sanitize())
}

// Apply runs the DDL for schema. Statements are idempotent.
func Apply(ctx context.Context, pool *pgxpool.Pool, schema string) error {
	if pool == nil {
		return fmt.Errorf("dbschema: nil pool")
	}
	if strings.TrimSpace(schema) == "" {
		schema = DefaultSchema
	}
	if _, err := pool.Exec(ctx, SQL(schema)); err != nil {
		return fmt.Errorf("dbschema: apply %s: %w", schema, err)
	}
	return nil
}
