// Package jwt is the access-token half of the token codec: it mints and
// verifies short-lived signed claims tokens (HS256 or Ed25519).
//
// Verification is stateless by design. Ending a session early is the
// rotation ledger's job, not this package's; a revoked family's unexpired
// access tokens stay signature-valid until their own TTL elapses.
package jwt
