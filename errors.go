package rotor

import "errors"

var (
	// ErrUnauthorized is returned for any access token that fails verification.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidCredentials is returned on login failure. Deliberately generic:
	// it never discloses whether the username or the password was wrong.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUserExists is returned when registration collides with an existing
	// username or email.
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound is returned when a user id resolves to nothing.
	ErrUserNotFound = errors.New("user not found")
	// ErrRefreshInvalid covers malformed, unknown, and wrong-secret refresh
	// tokens. Never a replay signal.
	ErrRefreshInvalid = errors.New("invalid refresh token")
	// ErrRefreshExpired is returned for a genuine token past its lifetime.
	ErrRefreshExpired = errors.New("refresh token expired")
	// ErrRefreshRevoked is returned when the presented token belongs to a
	// family that was already revoked.
	ErrRefreshRevoked = errors.New("token revoked for security reasons")
	// ErrRefreshReuse is the theft signal: an already-consumed refresh token
	// was presented again. The whole family is revoked before this error is
	// returned.
	ErrRefreshReuse = errors.New("refresh token reuse detected: family revoked for security reasons")
	// ErrTicketInvalid covers malformed QR payloads and unknown ticket ids.
	ErrTicketInvalid = errors.New("invalid qr ticket")
	// ErrTicketExpired is returned when a QR ticket outlived its window.
	ErrTicketExpired = errors.New("qr ticket expired")
	// ErrTicketUsed is returned when a QR ticket is validated a second time.
	ErrTicketUsed = errors.New("qr ticket already used")
	// ErrStoreUnavailable wraps backend failures in the ledger, ticket, or
	// credential stores.
	ErrStoreUnavailable = errors.New("backend store unavailable")
	// ErrEngineNotReady is returned when an Engine is used before Build.
	ErrEngineNotReady = errors.New("engine not initialized")
)
