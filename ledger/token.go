package ledger

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
)

const (
	tokenIDSize = 16
	secretSize  = 32
	wireRawSize = tokenIDSize + secretSize
)

// ErrWireMalformed is returned when a presented refresh token does not
// decode as id||secret.
var ErrWireMalformed = errors.New("malformed refresh token")

// NewTokenID returns a random 16-byte token identifier, base64url encoded.
func NewTokenID() (string, error) {
	var raw [tokenIDSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// NewSecret returns a fresh 32-byte refresh secret.
func NewSecret() ([secretSize]byte, error) {
	var secret [secretSize]byte
	_, err := rand.Read(secret[:])
	return secret, err
}

// HashSecret is the stored form of a refresh secret. Only the hash ever
// reaches Redis; the secret itself exists only in the wire token.
func HashSecret(secret [secretSize]byte) [32]byte {
	return sha256.Sum256(secret[:])
}

// EncodeWire packs a token id and secret into the opaque refresh token
// handed to clients: base64url(id[16] || secret[32]).
func EncodeWire(tokenID string, secret [secretSize]byte) (string, error) {
	idRaw, err := base64.RawURLEncoding.DecodeString(tokenID)
	if err != nil || len(idRaw) != tokenIDSize {
		return "", ErrWireMalformed
	}

	var raw [wireRawSize]byte
	copy(raw[:tokenIDSize], idRaw)
	copy(raw[tokenIDSize:], secret[:])
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// DecodeWire splits a presented refresh token into its id and secret.
func DecodeWire(token string) (string, [secretSize]byte, error) {
	var secret [secretSize]byte

	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", secret, ErrWireMalformed
	}
	if len(raw) != wireRawSize {
		return "", secret, ErrWireMalformed
	}

	copy(secret[:], raw[tokenIDSize:])
	return base64.RawURLEncoding.EncodeToString(raw[:tokenIDSize]), secret, nil
}
