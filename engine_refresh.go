package rotor

import (
	"context"
	"errors"

	"github.com/fieldcipher/rotor/ledger"
)

// Refresh consumes the presented refresh token and returns a fresh pair in
// the same family. The rotation itself is atomic in the ledger: under
// concurrent presentations of one token, exactly one caller wins.
//
// Error mapping:
//   - malformed, unknown, or wrong-secret tokens: [ErrRefreshInvalid]
//   - token past its lifetime: [ErrRefreshExpired]
//   - family already revoked: [ErrRefreshRevoked]
//   - replay of a consumed token: [ErrRefreshReuse] — by the time this is
//     returned the ledger has already revoked the entire family
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if e == nil || e.ledger == nil {
		return nil, ErrEngineNotReady
	}

	tokenID, providedSecret, err := ledger.DecodeWire(refreshToken)
	if err != nil {
		e.emitAudit(ctx, auditEventRefreshFailure, false, "", "", ErrRefreshInvalid, func() map[string]string {
			return map[string]string{"reason": "decode_failed"}
		})
		return nil, ErrRefreshInvalid
	}

	nextSecret, err := ledger.NewSecret()
	if err != nil {
		return nil, err
	}

	successor, err := e.ledger.Rotate(
		ctx,
		tokenID,
		ledger.HashSecret(providedSecret),
		ledger.HashSecret(nextSecret),
		e.config.JWT.RefreshTTL,
	)
	if err != nil {
		return nil, e.mapRotateError(ctx, tokenID, err)
	}

	user, err := e.users.GetByID(ctx, successor.UserID)
	if err != nil {
		// The rotation went through but the pair cannot be issued. Kill the
		// family; the successor must not remain a live credential the client
		// never received.
		_, _ = e.ledger.RevokeFamily(ctx, successor.FamilyID)
		e.emitAudit(ctx, auditEventRefreshFailure, false, successor.UserID, successor.FamilyID, err, func() map[string]string {
			return map[string]string{"reason": "user_lookup_failed"}
		})
		return nil, wrapStoreErr(err)
	}

	pair, err := e.issuePair(successor, nextSecret, user)
	if err != nil {
		_, _ = e.ledger.RevokeFamily(ctx, successor.FamilyID)
		e.emitAudit(ctx, auditEventRefreshFailure, false, user.UserID, successor.FamilyID, err, func() map[string]string {
			return map[string]string{"reason": "issue_pair_failed"}
		})
		return nil, err
	}

	e.emitAudit(ctx, auditEventRefreshSuccess, true, user.UserID, successor.FamilyID, nil, nil)

	return pair, nil
}

func (e *Engine) mapRotateError(ctx context.Context, tokenID string, err error) error {
	switch {
	case errors.Is(err, ledger.ErrTokenUsed):
		familyID := ""
		if tok, getErr := e.ledger.Get(ctx, tokenID); getErr == nil {
			familyID = tok.FamilyID
		}
		e.emitAudit(ctx, auditEventReuseDetected, false, "", familyID, ErrRefreshReuse, nil)
		e.emitAudit(ctx, auditEventFamilyRevoked, true, "", familyID, nil, func() map[string]string {
			return map[string]string{"trigger": "refresh_reuse"}
		})
		return ErrRefreshReuse
	case errors.Is(err, ledger.ErrTokenRevoked):
		e.emitAudit(ctx, auditEventRefreshFailure, false, "", "", ErrRefreshRevoked, func() map[string]string {
			return map[string]string{"reason": "family_revoked"}
		})
		return ErrRefreshRevoked
	case errors.Is(err, ledger.ErrTokenExpired):
		e.emitAudit(ctx, auditEventRefreshFailure, false, "", "", ErrRefreshExpired, func() map[string]string {
			return map[string]string{"reason": "expired"}
		})
		return ErrRefreshExpired
	case errors.Is(err, ledger.ErrTokenNotFound),
		errors.Is(err, ledger.ErrSecretMismatch),
		errors.Is(err, ledger.ErrRowCorrupt):
		e.emitAudit(ctx, auditEventRefreshFailure, false, "", "", ErrRefreshInvalid, func() map[string]string {
			return map[string]string{"reason": "invalid_token"}
		})
		return ErrRefreshInvalid
	default:
		return wrapStoreErr(err)
	}
}
