// Package ledger is the durable record of refresh-token lineage. Every
// refresh token belongs to a family; rotating a token marks it used and
// inserts its successor in the same family, and presenting an already-used
// token revokes the entire family.
//
// Rows are compact binary blobs in Redis with a fixed-offset header, so the
// rotation Lua script can check and mutate state without a full decode. The
// check-used/mark-used/insert-successor sequence is a single script: two
// concurrent rotations of the same token produce exactly one successor.
//
// Expiry is lazy. Rows carry their logical expiry in the blob and live in
// Redis for expiry plus a retention window, during which Status still
// reports on expired and revoked tokens. Redis TTLs do the garbage
// collection; a sweep exists only to trim index sets that outlive rows.
package ledger
