// Package password hashes and verifies account passwords.
//
// Hashes are Argon2id in the PHC string format:
//
//	$argon2id$v=19$m=<mem>,t=<iter>,p=<par>$<salt_b64>$<hash_b64>
//
// Config combines the Argon2id cost parameters with a length policy. Both can be tuned with
// HEALTHYDB_PASSWORD_* and HEALTHYDB_ARGON2_* variables (see FromEnv).
//
// Hash strings are treated as untrusted input during Verify: parameters far above the
// configured ones are refused.
package password
