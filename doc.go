// Package rotor is a refresh-token rotation and family-revocation engine with
// JWT access tokens, opaque single-use refresh tokens, and a Redis-backed
// token family ledger.
//
// The package is designed for concurrent server workloads: Engine methods are
// safe to call from multiple goroutines after initialization through
// [Builder.Build].
//
// # Architecture boundaries
//
// rotor is the public surface. It exposes [Engine], [Builder], [Config], and
// value types (TokenPair, TheftReport, DatabaseView, etc.). Token codecs,
// ledger rows, and ticket storage live in sub-packages and never leak Redis
// clients or encoding details through this API.
//
// # Trust model
//
// Access-token verification is pure cryptography: signature plus time claims,
// never a ledger lookup. A stolen access token therefore works until it
// expires; the exposure window is bounded by the access TTL. Refresh tokens
// are where revocation bites: every refresh consumes the presented token, and
// a replay of a consumed token revokes its whole family.
package rotor
