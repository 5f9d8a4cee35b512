package session

import (
	"context"
	"testing"
	"time"

	"healthydb/cmd/identity"
	"healthydb/cmd/internal/dbschema/dbtest"
)

func TestPostgresStore_ServiceContract(t *testing.T) {
	pool, schema := dbtest.Open(t)

	users, err := identity.NewPostgresStore(pool, identity.WithSchema(schema))
	if err != nil {
		t.Fatalf("identity store: %v", err)
	}
	u, err := users.CreateUser(context.Background(), identity.CreateUserInput{
		Email: "session-it@example.com",
		Now:   time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	store, err := NewPostgresStore(pool, WithSchema(schema))
	if err != nil {
		t.Fatalf("NewPostgresStore: %v", err)
	}
	serviceContract(t, store, u.ID)
}

func TestPostgresStore_WithSchemaRejectsInvalid(t *testing.T) {
	if _, err := NewPostgresStore(nil, WithSchema("bad-schema;")); err == nil {
		t.Fatalf("expected error for invalid schema")
	}
}
