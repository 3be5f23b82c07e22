package rotor

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	minUsernameLength = 3
	maxUsernameLength = 64
	minPasswordLength = 8
)

// Register creates a user with a freshly hashed password. Username and email
// collisions surface as [ErrUserExists] without revealing which identifier
// collided.
func (e *Engine) Register(ctx context.Context, username, email, plaintext string) (*UserRecord, error) {
	if e == nil || e.hasher == nil {
		return nil, ErrEngineNotReady
	}

	username = strings.TrimSpace(username)
	email = strings.TrimSpace(strings.ToLower(email))

	if err := validateRegistration(username, email, plaintext); err != nil {
		e.emitAudit(ctx, auditEventRegister, false, "", "", err, func() map[string]string {
			return map[string]string{"identifier": username}
		})
		return nil, err
	}

	hash, err := e.hasher.Hash(plaintext)
	if err != nil {
		return nil, err
	}

	user := &UserRecord{
		UserID:       uuid.New().String(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    time.Now().Unix(),
	}

	if err := e.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, ErrUserExists) {
			e.emitAudit(ctx, auditEventRegister, false, "", "", ErrUserExists, func() map[string]string {
				return map[string]string{"identifier": username}
			})
			return nil, ErrUserExists
		}
		return nil, wrapStoreErr(err)
	}

	e.emitAudit(ctx, auditEventRegister, true, user.UserID, "", nil, func() map[string]string {
		return map[string]string{"identifier": username}
	})

	return user, nil
}

// Login verifies credentials and opens a fresh token family. Every login is
// a new family; families from prior logins keep rotating independently.
func (e *Engine) Login(ctx context.Context, username, plaintext string) (*TokenPair, error) {
	if e == nil || e.hasher == nil {
		return nil, ErrEngineNotReady
	}
	if username == "" || plaintext == "" {
		e.emitAudit(ctx, auditEventLoginFailure, false, "", "", ErrInvalidCredentials, func() map[string]string {
			return map[string]string{"identifier": username, "reason": "empty_input"}
		})
		return nil, ErrInvalidCredentials
	}

	user, err := e.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			e.emitAudit(ctx, auditEventLoginFailure, false, "", "", ErrInvalidCredentials, func() map[string]string {
				return map[string]string{"identifier": username, "reason": "user_not_found"}
			})
			return nil, ErrInvalidCredentials
		}
		return nil, wrapStoreErr(err)
	}

	ok, err := e.hasher.Verify(plaintext, user.PasswordHash)
	if err != nil || !ok {
		e.emitAudit(ctx, auditEventLoginFailure, false, user.UserID, "", ErrInvalidCredentials, func() map[string]string {
			return map[string]string{"identifier": username, "reason": "password_mismatch"}
		})
		return nil, ErrInvalidCredentials
	}
	plaintext = ""

	pair, tok, err := e.startFamily(ctx, user)
	if err != nil {
		e.emitAudit(ctx, auditEventLoginFailure, false, user.UserID, "", err, func() map[string]string {
			return map[string]string{"identifier": username, "reason": "family_creation"}
		})
		return nil, err
	}

	e.recordLastLogin(ctx, user.UserID)
	e.emitAudit(ctx, auditEventLoginSuccess, true, user.UserID, tok.FamilyID, nil, func() map[string]string {
		return map[string]string{"identifier": username}
	})

	return pair, nil
}

func validateRegistration(username, email, plaintext string) error {
	if len(username) < minUsernameLength || len(username) > maxUsernameLength {
		return errors.New("username must be 3-64 characters")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return errors.New("invalid email address")
	}
	if len(plaintext) < minPasswordLength {
		return errors.New("password must be at least 8 characters")
	}
	return nil
}
