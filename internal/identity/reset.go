// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 GateWarden Contributors

package identity

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// ResetTokenTTL is the default validity window for password reset tokens.
const ResetTokenTTL = 30 * time.Minute

// PasswordResetToken is a single-use, time-boxed token keyed to an external
// principal. Once UsedAt is set the token is permanently dead regardless of
// expiry.
type PasswordResetToken struct {
	ID          ulid.ULID
	PrincipalID ulid.ULID
	TokenHash   string
	ExpiresAt   time.Time
	UsedAt      *time.Time
	CreatedAt   time.Time
}

// NewPasswordResetToken creates a validated reset token row.
func NewPasswordResetToken(principalID ulid.ULID, tokenHash string, expiresAt time.Time) (*PasswordResetToken, error) {
	if principalID.Compare(ulid.ULID{}) == 0 {
		return nil, oops.Code("RESET_INVALID_PRINCIPAL").Errorf("principal ID cannot be zero")
	}
	if tokenHash == "" {
		return nil, oops.Code("RESET_INVALID_HASH").Errorf("token hash cannot be empty")
	}
	if expiresAt.IsZero() {
		return nil, oops.Code("RESET_INVALID_EXPIRY").Errorf("expiry time cannot be zero")
	}

	return &PasswordResetToken{
		ID:          ulid.Make(),
		PrincipalID: principalID,
		TokenHash:   tokenHash,
		ExpiresAt:   expiresAt,
		CreatedAt:   time.Now(),
	}, nil
}

// IsExpired returns true if the reset token has expired.
func (t *PasswordResetToken) IsExpired() bool {
	return time.Now().After(t.ExpiresAt)
}

// IsUsed returns true if the token has already been consumed.
func (t *PasswordResetToken) IsUsed() bool {
	return t.UsedAt != nil
}

// PasswordResetTokenRepository manages reset token persistence.
type PasswordResetTokenRepository interface {
	// Create stores a new reset token row.
	Create(ctx context.Context, token *PasswordResetToken) error

	// GetByHash retrieves a reset token by its hash.
	GetByHash(ctx context.Context, tokenHash string) (*PasswordResetToken, error)

	// MarkUsed sets UsedAt, guarded by "used_at IS NULL" so that two
	// concurrent completions of the same token cannot both succeed.
	// Returns ErrTokenRevoked (wrapped) if the token was already consumed.
	MarkUsed(ctx context.Context, id ulid.ULID, at time.Time) error

	// DeleteExpired removes unused rows past expiry and returns the count.
	// Used rows are kept for the audit trail.
	DeleteExpired(ctx context.Context) (int64, error)
}
