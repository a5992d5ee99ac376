// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 GateWarden Contributors

package identity

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// RefreshToken is a long-lived, store-backed opaque credential. The raw value
// is returned to the client once; only its hash is persisted. Rows are never
// deleted, only revoked, preserving the chain for anti-replay forensics.
type RefreshToken struct {
	ID        ulid.ULID
	SessionID ulid.ULID
	Principal PrincipalRef
	TokenHash string
	ExpiresAt time.Time
	RevokedAt *time.Time
	CreatedAt time.Time
}

// NewRefreshToken creates a validated RefreshToken row bound to a session.
func NewRefreshToken(principal PrincipalRef, sessionID ulid.ULID, tokenHash string, expiresAt time.Time) (*RefreshToken, error) {
	if principal.IsZero() {
		return nil, oops.Code("REFRESH_INVALID_PRINCIPAL").Errorf("principal ref cannot be zero")
	}
	if sessionID.Compare(ulid.ULID{}) == 0 {
		return nil, oops.Code("REFRESH_INVALID_SESSION").Errorf("session ID cannot be zero")
	}
	if tokenHash == "" {
		return nil, oops.Code("REFRESH_INVALID_HASH").Errorf("token hash cannot be empty")
	}
	if expiresAt.IsZero() {
		return nil, oops.Code("REFRESH_INVALID_EXPIRY").Errorf("expiry time cannot be zero")
	}

	return &RefreshToken{
		ID:        ulid.Make(),
		SessionID: sessionID,
		Principal: principal,
		TokenHash: tokenHash,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now(),
	}, nil
}

// IsExpired returns true if the token is past its stored expiry.
func (t *RefreshToken) IsExpired() bool {
	return time.Now().After(t.ExpiresAt)
}

// IsRevoked returns true if the token has been revoked.
func (t *RefreshToken) IsRevoked() bool {
	return t.RevokedAt != nil
}

// RefreshTokenRepository manages refresh token persistence.
type RefreshTokenRepository interface {
	// Create stores a new refresh token row.
	Create(ctx context.Context, token *RefreshToken) error

	// GetByHash retrieves a token row by its hash, revoked or not.
	GetByHash(ctx context.Context, tokenHash string) (*RefreshToken, error)

	// Rotate atomically consumes the row matching presentedHash and inserts
	// a replacement carrying replacementHash, bound to the same session and
	// principal, within one transaction that locks the presented row.
	// Failure modes, in precedence order:
	//   - ErrNotFound (wrapped): no row with that hash
	//   - ErrTokenRevoked (wrapped): row exists but was already consumed;
	//     under concurrent presentation of the same value exactly one caller
	//     commits, every other observes this
	//   - ErrTokenExpired (wrapped): row active but past expiry (row is not
	//     consumed)
	// On success returns the consumed row and the minted replacement.
	Rotate(ctx context.Context, presentedHash, replacementHash string, expiresAt time.Time) (consumed, minted *RefreshToken, err error)

	// RevokeBySession marks every active token for the session revoked.
	// Idempotent; returns the number of tokens revoked.
	RevokeBySession(ctx context.Context, sessionID ulid.ULID, at time.Time) (int64, error)

	// RevokeAllForPrincipal revokes every active token for a principal
	// across all sessions. Used by the password reset cascade.
	RevokeAllForPrincipal(ctx context.Context, principal PrincipalRef, at time.Time) (int64, error)
}
