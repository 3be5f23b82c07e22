package rotor

import (
	"context"
	"errors"

	"github.com/fieldcipher/rotor/qrlogin"
)

// GenerateTicket issues a single-use QR login ticket for an authenticated
// user and returns it together with the scannable payload.
func (e *Engine) GenerateTicket(ctx context.Context, userID string) (*QRGrant, error) {
	if e == nil || e.tickets == nil {
		return nil, ErrEngineNotReady
	}

	user, err := e.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, wrapStoreErr(err)
	}

	ticket := qrlogin.NewTicket(user.UserID, clientIPFromContext(ctx), e.config.QR.TicketTTL)
	if err := e.tickets.Save(ctx, ticket); err != nil {
		return nil, wrapStoreErr(err)
	}

	payload, err := qrlogin.EncodePayload(ticket, user.Username)
	if err != nil {
		return nil, err
	}

	e.emitAudit(ctx, auditEventQRGenerated, true, user.UserID, "", nil, func() map[string]string {
		return map[string]string{"ticket_id": ticket.ID}
	})

	return &QRGrant{
		ID:        ticket.ID,
		Payload:   payload,
		ExpiresAt: ticket.ExpiresAt,
		Ticket:    ticket,
	}, nil
}

// ValidateTicket consumes a scanned QR payload and, on success, opens a
// fresh token family for the ticket's user — the same issuing path as a
// password login, so the resulting tokens rotate and revoke identically.
// A second validation of the same ticket fails with [ErrTicketUsed].
func (e *Engine) ValidateTicket(ctx context.Context, payload string) (*TokenPair, error) {
	if e == nil || e.tickets == nil {
		return nil, ErrEngineNotReady
	}

	ticketID, err := qrlogin.DecodePayload(payload)
	if err != nil {
		e.emitAudit(ctx, auditEventQRConsumeFailed, false, "", "", ErrTicketInvalid, func() map[string]string {
			return map[string]string{"reason": "payload_malformed"}
		})
		return nil, ErrTicketInvalid
	}

	ticket, err := e.tickets.Consume(ctx, ticketID)
	if err != nil {
		mapped := mapTicketError(err)
		e.emitAudit(ctx, auditEventQRConsumeFailed, false, "", "", mapped, func() map[string]string {
			return map[string]string{"ticket_id": ticketID}
		})
		return nil, mapped
	}

	user, err := e.users.GetByID(ctx, ticket.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrTicketInvalid
		}
		return nil, wrapStoreErr(err)
	}

	pair, tok, err := e.startFamily(ctx, user)
	if err != nil {
		return nil, err
	}

	e.recordLastLogin(ctx, user.UserID)
	e.emitAudit(ctx, auditEventQRConsumed, true, user.UserID, tok.FamilyID, nil, func() map[string]string {
		return map[string]string{"ticket_id": ticket.ID}
	})

	return pair, nil
}

func mapTicketError(err error) error {
	switch {
	case errors.Is(err, qrlogin.ErrTicketNotFound), errors.Is(err, qrlogin.ErrRecordCorrupt):
		return ErrTicketInvalid
	case errors.Is(err, qrlogin.ErrTicketExpired):
		return ErrTicketExpired
	case errors.Is(err, qrlogin.ErrTicketUsed):
		return ErrTicketUsed
	default:
		return wrapStoreErr(err)
	}
}
