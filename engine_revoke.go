package rotor

import (
	"context"
	"errors"

	"github.com/fieldcipher/rotor/ledger"
)

// Logout revokes the family of the presented refresh token, ending that
// session chain on every device holding a token from it. Other families of
// the same user keep working. Accepts any token of the family, consumed or
// not; revoking an already-revoked family is a no-op success.
func (e *Engine) Logout(ctx context.Context, refreshToken string) error {
	if e == nil || e.ledger == nil {
		return ErrEngineNotReady
	}

	tokenID, _, err := ledger.DecodeWire(refreshToken)
	if err != nil {
		e.emitAudit(ctx, auditEventLogout, false, "", "", ErrRefreshInvalid, func() map[string]string {
			return map[string]string{"reason": "decode_failed"}
		})
		return ErrRefreshInvalid
	}

	familyID, outcome, err := e.ledger.RevokeFamilyByToken(ctx, tokenID)
	if err != nil {
		if errors.Is(err, ledger.ErrTokenNotFound) || errors.Is(err, ledger.ErrRowCorrupt) {
			e.emitAudit(ctx, auditEventLogout, false, "", "", ErrRefreshInvalid, func() map[string]string {
				return map[string]string{"reason": "token_not_found"}
			})
			return ErrRefreshInvalid
		}
		return wrapStoreErr(err)
	}

	e.emitAudit(ctx, auditEventLogout, true, "", familyID, nil, nil)
	if outcome.NewlyRevoked > 0 {
		e.emitAudit(ctx, auditEventFamilyRevoked, true, "", familyID, nil, func() map[string]string {
			return map[string]string{"trigger": "logout"}
		})
	}

	return nil
}

// RevokeAllForUser revokes every token family of a user. Admin surface; the
// per-session path is [Engine.Logout].
func (e *Engine) RevokeAllForUser(ctx context.Context, userID string) (int, error) {
	if e == nil || e.ledger == nil {
		return 0, ErrEngineNotReady
	}

	revoked, err := e.ledger.RevokeAllForUser(ctx, userID)
	if err != nil {
		return revoked, wrapStoreErr(err)
	}

	e.emitAudit(ctx, auditEventFamilyRevoked, true, userID, "", nil, func() map[string]string {
		return map[string]string{"trigger": "revoke_all"}
	})

	return revoked, nil
}

// SimulateTheft revokes the presented token's family and reports what
// happened, like [Engine.Logout] with a receipt. On a still-active token it
// stages the full detection sequence first: an "attacker" rotates with the
// stolen token and wins, then the legitimate holder replays it, which trips
// reuse detection and revokes the family — attacker's fresh token included.
// Tokens that can no longer rotate (used, expired, revoked, wrong secret)
// skip the staging and have their family revoked directly; any historical
// token still identifies its family.
func (e *Engine) SimulateTheft(ctx context.Context, refreshToken string) (*TheftReport, error) {
	if e == nil || e.ledger == nil {
		return nil, ErrEngineNotReady
	}

	tokenID, providedSecret, err := ledger.DecodeWire(refreshToken)
	if err != nil {
		return nil, ErrRefreshInvalid
	}

	report := &TheftReport{}

	attackerSecret, err := ledger.NewSecret()
	if err != nil {
		return nil, err
	}
	attacker, err := e.ledger.Rotate(
		ctx,
		tokenID,
		ledger.HashSecret(providedSecret),
		ledger.HashSecret(attackerSecret),
		e.config.JWT.RefreshTTL,
	)
	switch {
	case err == nil:
		report.AttackerRotated = true
		report.FamilyID = attacker.FamilyID

		// Victim presents the original token again.
		victimSecret, err := ledger.NewSecret()
		if err != nil {
			return nil, err
		}
		_, err = e.ledger.Rotate(
			ctx,
			tokenID,
			ledger.HashSecret(providedSecret),
			ledger.HashSecret(victimSecret),
			e.config.JWT.RefreshTTL,
		)
		if !errors.Is(err, ledger.ErrTokenUsed) {
			if err == nil {
				return nil, errors.New("theft simulation: replay unexpectedly succeeded")
			}
			return nil, wrapStoreErr(err)
		}
		report.ReuseDetected = true

	case errors.Is(err, ledger.ErrTokenUsed),
		errors.Is(err, ledger.ErrTokenRevoked),
		errors.Is(err, ledger.ErrTokenExpired),
		errors.Is(err, ledger.ErrSecretMismatch):
		familyID, _, rerr := e.ledger.RevokeFamilyByToken(ctx, tokenID)
		if rerr != nil {
			if errors.Is(rerr, ledger.ErrTokenNotFound) || errors.Is(rerr, ledger.ErrRowCorrupt) {
				return nil, ErrRefreshInvalid
			}
			return nil, wrapStoreErr(rerr)
		}
		report.FamilyID = familyID

	case errors.Is(err, ledger.ErrTokenNotFound), errors.Is(err, ledger.ErrRowCorrupt):
		return nil, ErrRefreshInvalid

	default:
		return nil, wrapStoreErr(err)
	}

	tokens, err := e.ledger.FamilyTokens(ctx, report.FamilyID)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	for _, tok := range tokens {
		if tok.Revoked {
			report.TokensRevoked++
		}
	}

	e.emitAudit(ctx, auditEventTheftSimulated, true, "", report.FamilyID, nil, func() map[string]string {
		return map[string]string{"trigger": "simulation"}
	})

	return report, nil
}
