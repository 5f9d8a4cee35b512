// Package identity owns HealthyDB accounts: users, their email confirmation state and their
// password credentials.
//
// Password hashing happens in the caller (see cmd/security/password); stores only ever see
// PHC hash strings. Users created through a magic link have no password credential.
//
// Two stores implement Store: PostgresStore (schema "healthydb") and MemoryStore (dev, tests).
package identity
