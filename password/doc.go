// Package password provides argon2id hashing and verification for stored
// credentials. Hashes are encoded as PHC strings so cost parameters travel
// with each hash and can be raised without invalidating existing records.
package password
