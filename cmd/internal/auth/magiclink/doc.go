// Package magiclink issues and redeems one-time sign-in links.
//
// A link carries an opaque random token. Only its hash is stored, together with the user,
// email and purpose it was issued for. Redeeming consumes the record: a token works once and
// never after its TTL.
package magiclink
