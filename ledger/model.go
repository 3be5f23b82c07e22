package ledger

import "time"

// Token is one refresh-token row. Rows are append-only apart from the
// used/revoked flags and used_at: rotation never rewrites identity fields.
type Token struct {
	TokenID       string
	UserID        string
	FamilyID      string
	PredecessorID string // empty for the family root
	SecretHash    [32]byte
	CreatedAt     int64 // unix seconds
	ExpiresAt     int64
	UsedAt        int64 // 0 = never used
	Revoked       bool
}

// Used reports whether the token has been consumed by a rotation.
func (t *Token) Used() bool {
	return t.UsedAt != 0
}

// Expired reports whether the token's logical expiry has passed.
func (t *Token) Expired(now time.Time) bool {
	return now.Unix() >= t.ExpiresAt
}

// Active reports whether the token is the family's current rotation head:
// not revoked, not used, not expired. At most one row per family is active
// at any time.
func (t *Token) Active(now time.Time) bool {
	return !t.Revoked && !t.Used() && !t.Expired(now)
}

// Status is the read-only introspection view of a token row.
type Status struct {
	TokenID   string `json:"token_id"`
	UserID    string `json:"user_id"`
	FamilyID  string `json:"token_family"`
	Valid     bool   `json:"valid"`
	Revoked   bool   `json:"revoked"`
	Expired   bool   `json:"expired"`
	Used      bool   `json:"used"`
	CreatedAt int64  `json:"created_at"`
	ExpiresAt int64  `json:"expires_at"`
	UsedAt    int64  `json:"used_at,omitempty"`
}

// RevokeOutcome reports the effect of a family revocation.
type RevokeOutcome struct {
	Total        int // rows present in the family
	NewlyRevoked int // rows whose revoked flag was flipped by this call
}
