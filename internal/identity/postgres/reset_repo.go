// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 GateWarden Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/gatewarden/gatewarden/internal/identity"
)

// PasswordResetTokenRepository implements identity.PasswordResetTokenRepository
// using PostgreSQL.
type PasswordResetTokenRepository struct {
	pool poolIface
}

// NewPasswordResetTokenRepository creates a new PasswordResetTokenRepository.
func NewPasswordResetTokenRepository(pool poolIface) *PasswordResetTokenRepository {
	return &PasswordResetTokenRepository{pool: pool}
}

// Create stores a new reset token row.
func (r *PasswordResetTokenRepository) Create(ctx context.Context, token *identity.PasswordResetToken) error {
	_, err := querierFrom(ctx, r.pool).Exec(ctx, `
		INSERT INTO password_reset_tokens (id, external_principal_id, token_hash, expires_at, used_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`,
		token.ID.String(),
		token.PrincipalID.String(),
		token.TokenHash,
		token.ExpiresAt,
		token.UsedAt,
		token.CreatedAt,
	)
	if err != nil {
		return oops.Code("RESET_CREATE_FAILED").
			With("operation", "insert reset token").
			With("principal_id", token.PrincipalID.String()).
			Wrap(storeErr(err))
	}
	return nil
}

// GetByHash retrieves a reset token by its hash.
func (r *PasswordResetTokenRepository) GetByHash(ctx context.Context, tokenHash string) (*identity.PasswordResetToken, error) {
	row := querierFrom(ctx, r.pool).QueryRow(ctx, `
		SELECT id, external_principal_id, token_hash, expires_at, used_at, created_at
		FROM password_reset_tokens
		WHERE token_hash = $1
	`, tokenHash)

	var (
		idStr       string
		principalID string
		hash        string
		expiresAt   time.Time
		usedAt      *time.Time
		createdAt   time.Time
	)
	err := row.Scan(&idStr, &principalID, &hash, &expiresAt, &usedAt, &createdAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("RESET_NOT_FOUND").Wrap(identity.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("RESET_GET_BY_HASH_FAILED").
			With("operation", "get reset token by hash").
			Wrap(storeErr(err))
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("RESET_INVALID_ID").With("id", idStr).Wrap(err)
	}
	pid, err := ulid.Parse(principalID)
	if err != nil {
		return nil, oops.Code("RESET_INVALID_PRINCIPAL_ID").With("principal_id", principalID).Wrap(err)
	}

	return &identity.PasswordResetToken{
		ID:          id,
		PrincipalID: pid,
		TokenHash:   hash,
		ExpiresAt:   expiresAt,
		UsedAt:      usedAt,
		CreatedAt:   createdAt,
	}, nil
}

// MarkUsed sets UsedAt, guarded so two concurrent completions of the same
// token cannot both succeed.
func (r *PasswordResetTokenRepository) MarkUsed(ctx context.Context, id ulid.ULID, at time.Time) error {
	q := querierFrom(ctx, r.pool)
	result, err := q.Exec(ctx, `
		UPDATE password_reset_tokens SET used_at = $2
		WHERE id = $1 AND used_at IS NULL
	`, id.String(), at)
	if err != nil {
		return oops.Code("RESET_MARK_USED_FAILED").
			With("operation", "mark reset token used").
			With("id", id.String()).
			Wrap(storeErr(err))
	}
	if result.RowsAffected() == 0 {
		var exists bool
		if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM password_reset_tokens WHERE id = $1)`, id.String()).Scan(&exists); err != nil {
			return oops.Code("RESET_MARK_USED_FAILED").
				With("operation", "check reset token exists").
				With("id", id.String()).
				Wrap(storeErr(err))
		}
		if !exists {
			return oops.Code("RESET_NOT_FOUND").
				With("id", id.String()).
				Wrap(identity.ErrNotFound)
		}
		return oops.Code("RESET_ALREADY_USED").
			With("id", id.String()).
			Wrap(identity.ErrTokenRevoked)
	}
	return nil
}

// DeleteExpired removes unused rows past expiry. Used rows stay for the
// audit trail.
func (r *PasswordResetTokenRepository) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := querierFrom(ctx, r.pool).Exec(ctx, `
		DELETE FROM password_reset_tokens
		WHERE used_at IS NULL AND expires_at < now()
	`)
	if err != nil {
		return 0, oops.Code("RESET_DELETE_EXPIRED_FAILED").
			With("operation", "delete expired reset tokens").
			Wrap(storeErr(err))
	}
	return result.RowsAffected(), nil
}

// Compile-time interface check.
var _ identity.PasswordResetTokenRepository = (*PasswordResetTokenRepository)(nil)
