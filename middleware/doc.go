// Package middleware exposes the gin authentication guard built on top of
// rotor.Engine access-token verification.
//
// [Guard] reads the Authorization header, verifies the Bearer token through
// Engine.VerifyAccess, and injects the claims into the gin context for
// handlers to read via [ClaimsFromContext].
//
// The guard never touches the token family ledger: verification is pure
// signature and expiry checking, so the hot path costs no Redis round-trip.
package middleware
