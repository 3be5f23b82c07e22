package rotor

import (
	"context"

	"github.com/fieldcipher/rotor/ledger"
	"github.com/fieldcipher/rotor/qrlogin"
)

// UserRecord is the stored credential row for one user. PasswordHash is an
// argon2id PHC string; the plaintext password never leaves the login path.
type UserRecord struct {
	UserID       string `json:"user_id"`
	Username     string `json:"username"`
	Email        string `json:"email"`
	PasswordHash string `json:"-"`
	CreatedAt    int64  `json:"created_at"`
	LastLogin    int64  `json:"last_login,omitempty"`
}

// CredentialStore is the persistence boundary for user credentials. The
// engine owns hashing and verification; implementations own uniqueness and
// lookup. CreateUser must return [ErrUserExists] when the username or email
// is already taken, and lookups must return [ErrUserNotFound] on a miss.
type CredentialStore interface {
	CreateUser(ctx context.Context, user *UserRecord) error
	GetByUsername(ctx context.Context, username string) (*UserRecord, error)
	GetByID(ctx context.Context, userID string) (*UserRecord, error)
	UpdateLastLogin(ctx context.Context, userID string, lastLogin int64) error
	ListUsers(ctx context.Context) ([]*UserRecord, error)
}

// TokenPair is the result of every successful authentication path: login,
// refresh, and QR validation all return one.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresAt    int64  `json:"expires_at"`
}

// Profile is the public view of a user, safe to return to the user themself.
type Profile struct {
	UserID    string `json:"user_id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	CreatedAt int64  `json:"created_at"`
	LastLogin int64  `json:"last_login,omitempty"`
}

// AccessTokenInfo is the introspection view of an access token.
type AccessTokenInfo struct {
	Valid     bool   `json:"valid"`
	UserID    string `json:"user_id,omitempty"`
	Username  string `json:"username,omitempty"`
	Email     string `json:"email,omitempty"`
	IssuedAt  int64  `json:"issued_at,omitempty"`
	ExpiresAt int64  `json:"expires_at,omitempty"`
}

// TokenInfo is the combined debug view of an access/refresh token pair.
type TokenInfo struct {
	Access  *AccessTokenInfo `json:"access_token,omitempty"`
	Refresh *ledger.Status   `json:"refresh_token,omitempty"`
}

// TheftReport describes the outcome of a simulated token theft: the attacker
// rotates first with the stolen token, the victim's replay trips detection,
// and the whole family dies.
type TheftReport struct {
	FamilyID        string `json:"token_family"`
	AttackerRotated bool   `json:"attacker_rotated"`
	ReuseDetected   bool   `json:"reuse_detected"`
	TokensRevoked   int    `json:"tokens_revoked"`
}

// QRGrant is a freshly issued QR login ticket plus its scannable payload.
// The wire shape is what the scanning client renders: the ticket id, the
// opaque payload, and the deadline as unix seconds.
type QRGrant struct {
	ID        string          `json:"id"`
	Payload   string          `json:"qr_data"`
	ExpiresAt int64           `json:"expires_at"`
	Ticket    *qrlogin.Ticket `json:"-"`
}

// DatabaseStats are derived counts for the operator view.
type DatabaseStats struct {
	TotalUsers    int `json:"total_users"`
	TotalTokens   int `json:"total_tokens"`
	ActiveTokens  int `json:"active_tokens"`
	UsedTokens    int `json:"used_tokens"`
	RevokedTokens int `json:"revoked_tokens"`
	ExpiredTokens int `json:"expired_tokens"`
	TotalTickets  int `json:"total_tickets"`
}

// DatabaseView is the full operator snapshot: every user, every surviving
// ledger row, every surviving QR ticket, and the derived stats.
type DatabaseView struct {
	Users   []*UserRecord     `json:"users"`
	Tokens  []*ledger.Status  `json:"refresh_tokens"`
	Tickets []*qrlogin.Ticket `json:"qr_tickets"`
	Stats   DatabaseStats     `json:"stats"`
}
