package qrlogin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrTicketNotFound is returned when no record exists for a ticket id.
	ErrTicketNotFound = errors.New("qr ticket not found")
	// ErrTicketExpired is returned when the ticket's lifetime passed before
	// it was consumed.
	ErrTicketExpired = errors.New("qr ticket expired")
	// ErrTicketUsed is returned when the ticket has already been consumed.
	ErrTicketUsed = errors.New("qr ticket already used")
	// ErrRedisUnavailable wraps transport-level Redis failures.
	ErrRedisUnavailable = errors.New("qr redis unavailable")
)

// Store holds QR login tickets in Redis. Records outlive their logical
// expiry by a retention window so consumed and stale tickets remain
// inspectable.
type Store struct {
	redis     redis.UniversalClient
	prefix    string
	retention time.Duration
}

// NewStore creates a ticket [Store] under the given key prefix.
func NewStore(client redis.UniversalClient, prefix string, retention time.Duration) *Store {
	if prefix == "" {
		prefix = "qr"
	}
	if retention <= 0 {
		retention = time.Hour
	}
	return &Store{redis: client, prefix: prefix, retention: retention}
}

func (s *Store) key(ticketID string) string { return s.prefix + ":" + ticketID }

// Save writes a fresh ticket. The Redis TTL covers the ticket lifetime plus
// the retention window.
func (s *Store) Save(ctx context.Context, t *Ticket) error {
	encoded, err := encodeTicket(t)
	if err != nil {
		return err
	}

	ttl := time.Until(time.Unix(t.ExpiresAt, 0)) + s.retention
	if err := s.redis.Set(ctx, s.key(t.ID), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Consume marks a pending ticket used and returns it. The read-check-write
// runs under WATCH: when two devices race on the same ticket exactly one
// Consume succeeds and the other observes ErrTicketUsed.
func (s *Store) Consume(ctx context.Context, ticketID string) (*Ticket, error) {
	const maxRetries = 4
	key := s.key(ticketID)

	for i := 0; i < maxRetries; i++ {
		var consumed *Ticket

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			ticket, err := decodeTicket(data)
			if err != nil {
				return err
			}
			ticket.ID = ticketID

			if ticket.Used {
				return ErrTicketUsed
			}
			now := time.Now()
			if ticket.Expired(now) {
				return ErrTicketExpired
			}

			ticket.Used = true
			ticket.UsedAt = now.Unix()

			updated, err := encodeTicket(ticket)
			if err != nil {
				return err
			}

			pttl, err := tx.PTTL(ctx, key).Result()
			if err != nil {
				return err
			}
			if pttl <= 0 {
				return ErrTicketExpired
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, pttl)
				return nil
			})
			if err != nil {
				return err
			}

			consumed = ticket
			return nil
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			switch {
			case errors.Is(err, redis.Nil):
				return nil, ErrTicketNotFound
			case errors.Is(err, ErrTicketUsed), errors.Is(err, ErrTicketExpired), errors.Is(err, ErrRecordCorrupt):
				return nil, err
			default:
				return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
			}
		}

		return consumed, nil
	}

	return nil, ErrTicketUsed
}

// Get reads a ticket without consuming it. Used and expired tickets return
// successfully while they remain within the retention window.
func (s *Store) Get(ctx context.Context, ticketID string) (*Ticket, error) {
	data, err := s.redis.Get(ctx, s.key(ticketID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrTicketNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	ticket, err := decodeTicket(data)
	if err != nil {
		return nil, err
	}
	ticket.ID = ticketID
	return ticket, nil
}

// All scans every surviving ticket. Operator/debug surface, O(n).
func (s *Store) All(ctx context.Context) ([]*Ticket, error) {
	pattern := s.prefix + ":*"
	var (
		cursor  uint64
		tickets []*Ticket
	)

	for {
		keys, next, err := s.redis.Scan(ctx, cursor, pattern, 1000).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		for _, key := range keys {
			ticket, err := s.Get(ctx, strings.TrimPrefix(key, s.prefix+":"))
			if err != nil {
				if errors.Is(err, ErrTicketNotFound) {
					continue
				}
				return nil, err
			}
			tickets = append(tickets, ticket)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return tickets, nil
}
