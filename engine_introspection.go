package rotor

import (
	"context"
	"errors"
	"time"

	"github.com/fieldcipher/rotor/jwt"
	"github.com/fieldcipher/rotor/ledger"
)

// VerifyAccess validates an access token and returns its claims. This is
// pure codec work — signature plus time claims, no ledger lookup — so a
// token from a revoked family keeps verifying until it expires. That
// bounded exposure is the price of a stateless hot path; the middleware
// relies on it.
func (e *Engine) VerifyAccess(tokenStr string) (*jwt.Claims, error) {
	if e == nil || e.jwtManager == nil {
		return nil, ErrEngineNotReady
	}

	claims, err := e.jwtManager.Verify(tokenStr)
	if err != nil {
		return nil, ErrUnauthorized
	}
	return claims, nil
}

// TokenStatus is the read-only introspection view of a refresh token. It
// accepts either the opaque wire token or a bare token id, never mutates
// state, and reports on used, revoked, and expired rows while they remain
// within the retention window.
func (e *Engine) TokenStatus(ctx context.Context, refreshToken string) (*ledger.Status, error) {
	if e == nil || e.ledger == nil {
		return nil, ErrEngineNotReady
	}

	tokenID, _, err := ledger.DecodeWire(refreshToken)
	if err != nil {
		// Debug surfaces pass bare token ids.
		tokenID = refreshToken
	}

	status, err := e.ledger.Status(ctx, tokenID)
	if err != nil {
		if errors.Is(err, ledger.ErrTokenNotFound) || errors.Is(err, ledger.ErrRowCorrupt) {
			return nil, ErrRefreshInvalid
		}
		return nil, wrapStoreErr(err)
	}
	return status, nil
}

// TokenInfo builds the combined debug view of an access/refresh pair.
// Either token may be empty.
func (e *Engine) TokenInfo(ctx context.Context, accessToken, refreshToken string) (*TokenInfo, error) {
	if e == nil || e.jwtManager == nil {
		return nil, ErrEngineNotReady
	}

	info := &TokenInfo{}

	if accessToken != "" {
		claims, valid := e.jwtManager.Inspect(accessToken)
		access := &AccessTokenInfo{Valid: valid}
		if claims != nil {
			access.UserID = claims.UserID
			access.Username = claims.Username
			access.Email = claims.Email
			if claims.IssuedAt != nil {
				access.IssuedAt = claims.IssuedAt.Unix()
			}
			if claims.ExpiresAt != nil {
				access.ExpiresAt = claims.ExpiresAt.Unix()
			}
		}
		info.Access = access
	}

	if refreshToken != "" {
		status, err := e.TokenStatus(ctx, refreshToken)
		if err != nil && !errors.Is(err, ErrRefreshInvalid) {
			return nil, err
		}
		info.Refresh = status
	}

	return info, nil
}

// Profile returns the public view of a user.
func (e *Engine) Profile(ctx context.Context, userID string) (*Profile, error) {
	if e == nil || e.users == nil {
		return nil, ErrEngineNotReady
	}

	user, err := e.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, wrapStoreErr(err)
	}

	return &Profile{
		UserID:    user.UserID,
		Username:  user.Username,
		Email:     user.Email,
		CreatedAt: user.CreatedAt,
		LastLogin: user.LastLogin,
	}, nil
}

// DatabaseView assembles the operator snapshot: every user, every surviving
// ledger row, every surviving QR ticket, and derived counts. O(n) scans;
// never call this on a request hot path.
func (e *Engine) DatabaseView(ctx context.Context) (*DatabaseView, error) {
	if e == nil || e.ledger == nil {
		return nil, ErrEngineNotReady
	}

	users, err := e.users.ListUsers(ctx)
	if err != nil {
		return nil, wrapStoreErr(err)
	}

	tokens, err := e.ledger.AllTokens(ctx)
	if err != nil {
		return nil, wrapStoreErr(err)
	}

	tickets, err := e.tickets.All(ctx)
	if err != nil {
		return nil, wrapStoreErr(err)
	}

	now := time.Now()
	view := &DatabaseView{
		Users:   users,
		Tokens:  make([]*ledger.Status, 0, len(tokens)),
		Tickets: tickets,
		Stats: DatabaseStats{
			TotalUsers:   len(users),
			TotalTokens:  len(tokens),
			TotalTickets: len(tickets),
		},
	}

	for _, tok := range tokens {
		status, err := e.ledger.Status(ctx, tok.TokenID)
		if err != nil {
			if errors.Is(err, ledger.ErrTokenNotFound) {
				continue
			}
			return nil, wrapStoreErr(err)
		}
		view.Tokens = append(view.Tokens, status)

		switch {
		case tok.Revoked:
			view.Stats.RevokedTokens++
		case tok.Used():
			view.Stats.UsedTokens++
		case tok.Expired(now):
			view.Stats.ExpiredTokens++
		default:
			view.Stats.ActiveTokens++
		}
	}

	return view, nil
}

// Sweep removes index entries whose rows Redis already garbage-collected.
// Hygiene only; correctness never depends on it running.
func (e *Engine) Sweep(ctx context.Context) (int, error) {
	if e == nil || e.ledger == nil {
		return 0, ErrEngineNotReady
	}

	removed, err := e.ledger.SweepIndexes(ctx)
	if err != nil {
		return removed, wrapStoreErr(err)
	}
	return removed, nil
}
