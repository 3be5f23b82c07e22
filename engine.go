package rotor

import (
	"context"
	"errors"
	"time"

	"github.com/fieldcipher/rotor/jwt"
	"github.com/fieldcipher/rotor/ledger"
	"github.com/fieldcipher/rotor/password"
	"github.com/fieldcipher/rotor/qrlogin"
)

// Engine is the rotation engine. Immutable after [Builder.Build]; safe for
// concurrent use.
type Engine struct {
	config     Config
	jwtManager *jwt.Manager
	hasher     *password.Hasher
	ledger     *ledger.Store
	tickets    *qrlogin.Store
	users      CredentialStore
	audit      *auditDispatcher
	metrics    *Metrics
}

// Close flushes and stops the audit pipeline.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// Metrics exposes the engine's in-process counters.
func (e *Engine) Metrics() *Metrics {
	if e == nil {
		return nil
	}
	return e.metrics
}

// AuditDropped reports how many audit events were discarded because the
// pipeline buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// Ping reports backend availability and Redis round-trip latency.
func (e *Engine) Ping(ctx context.Context) (time.Duration, error) {
	if e == nil || e.ledger == nil {
		return 0, ErrEngineNotReady
	}
	latency, err := e.ledger.Ping(ctx)
	if err != nil {
		return latency, wrapStoreErr(err)
	}
	return latency, nil
}

func (e *Engine) emitAudit(ctx context.Context, eventType string, success bool, userID, familyID string, cause error, metadata func() map[string]string) {
	if e == nil {
		return
	}
	e.metrics.observeEvent(eventType, success)
	if e.audit == nil {
		return
	}

	event := AuditEvent{
		Timestamp: time.Now(),
		EventType: eventType,
		UserID:    userID,
		FamilyID:  familyID,
		IP:        clientIPFromContext(ctx),
		Success:   success,
	}
	if cause != nil {
		event.Error = cause.Error()
	}
	if metadata != nil {
		event.Metadata = metadata()
	}

	e.audit.Emit(ctx, event)
}

// issuePair mints an access token and wraps a ledger token into the opaque
// wire form. Every successful authentication path funnels through here.
func (e *Engine) issuePair(tok *ledger.Token, secret [32]byte, user *UserRecord) (*TokenPair, error) {
	access, expiresAt, err := e.jwtManager.Mint(user.UserID, user.Username, user.Email)
	if err != nil {
		return nil, err
	}

	refresh, err := ledger.EncodeWire(tok.TokenID, secret)
	if err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresAt:    expiresAt.Unix(),
	}, nil
}

// startFamily opens a fresh token family for the user and returns the full
// pair. Used by password login and QR validation.
func (e *Engine) startFamily(ctx context.Context, user *UserRecord) (*TokenPair, *ledger.Token, error) {
	secret, err := ledger.NewSecret()
	if err != nil {
		return nil, nil, err
	}

	tok, err := e.ledger.CreateFamily(ctx, user.UserID, ledger.HashSecret(secret), e.config.JWT.RefreshTTL)
	if err != nil {
		return nil, nil, wrapStoreErr(err)
	}

	pair, err := e.issuePair(tok, secret, user)
	if err != nil {
		// The family exists but the client never received its token. Revoke
		// rather than leave an orphaned active row.
		_, _ = e.ledger.RevokeFamily(ctx, tok.FamilyID)
		return nil, nil, err
	}

	return pair, tok, nil
}

// recordLastLogin is best-effort; a credential-store hiccup must not fail an
// otherwise successful authentication.
func (e *Engine) recordLastLogin(ctx context.Context, userID string) {
	_ = e.users.UpdateLastLogin(ctx, userID, time.Now().Unix())
}

func wrapStoreErr(err error) error {
	if errors.Is(err, ledger.ErrRedisUnavailable) || errors.Is(err, qrlogin.ErrRedisUnavailable) {
		return errors.Join(ErrStoreUnavailable, err)
	}
	return err
}
