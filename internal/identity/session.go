// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 GateWarden Contributors

package identity

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Session records one successful authentication. It belongs to exactly one
// principal of either kind and is the revocation unit for all refresh tokens
// issued under it. Sessions are never deleted, only revoked.
type Session struct {
	ID        ulid.ULID
	Principal PrincipalRef
	UserAgent string
	IPAddress string
	CreatedAt time.Time
	RevokedAt *time.Time
}

// NewSession creates a validated Session for the given principal.
// UserAgent and IPAddress are optional and may be empty.
func NewSession(principal PrincipalRef, userAgent, ipAddress string) (*Session, error) {
	if principal.IsZero() {
		return nil, oops.Code("SESSION_INVALID_PRINCIPAL").Errorf("principal ref cannot be zero")
	}
	if principal.Kind != KindExternal && principal.Kind != KindInternal {
		return nil, oops.Code("SESSION_INVALID_PRINCIPAL").
			With("kind", string(principal.Kind)).
			Errorf("unknown principal kind")
	}

	return &Session{
		ID:        ulid.Make(),
		Principal: principal,
		UserAgent: userAgent,
		IPAddress: ipAddress,
		CreatedAt: time.Now(),
	}, nil
}

// IsRevoked reports whether the session has been revoked.
func (s *Session) IsRevoked() bool {
	return s.RevokedAt != nil
}

// SessionRepository manages session persistence.
type SessionRepository interface {
	// Create stores a new session.
	Create(ctx context.Context, session *Session) error

	// GetByID retrieves a session by its ID.
	GetByID(ctx context.Context, id ulid.ULID) (*Session, error)

	// GetLatestActive retrieves the most recently created non-revoked
	// session for a principal.
	GetLatestActive(ctx context.Context, principal PrincipalRef) (*Session, error)

	// Revoke marks the session revoked. Idempotent: revoking an already
	// revoked session is not an error.
	Revoke(ctx context.Context, id ulid.ULID, at time.Time) error

	// RevokeAllForPrincipal revokes every active session for a principal
	// and returns the number of sessions revoked.
	RevokeAllForPrincipal(ctx context.Context, principal PrincipalRef, at time.Time) (int64, error)
}
