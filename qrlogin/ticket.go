package qrlogin

import (
	"time"

	"github.com/google/uuid"
)

// Ticket is one QR login grant. ID doubles as the Redis key suffix and the
// qr_id carried in the scannable payload.
type Ticket struct {
	ID        string `json:"qr_id"`
	UserID    string `json:"user_id"`
	CreatedAt int64  `json:"created_at"`
	ExpiresAt int64  `json:"expires_at"`
	Used      bool   `json:"used"`
	UsedAt    int64  `json:"used_at,omitempty"`
	IssuingIP string `json:"issuing_ip,omitempty"`
}

// Expired reports whether the ticket's logical lifetime has passed.
func (t *Ticket) Expired(now time.Time) bool {
	return now.Unix() >= t.ExpiresAt
}

// Pending reports whether the ticket can still be consumed.
func (t *Ticket) Pending(now time.Time) bool {
	return !t.Used && !t.Expired(now)
}

// NewTicket creates an unconsumed ticket for a user with the given lifetime.
func NewTicket(userID, issuingIP string, ttl time.Duration) *Ticket {
	now := time.Now()
	return &Ticket{
		ID:        uuid.New().String(),
		UserID:    userID,
		CreatedAt: now.Unix(),
		ExpiresAt: now.Add(ttl).Unix(),
		IssuingIP: issuingIP,
	}
}
