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

// RefreshTokenRepository implements identity.RefreshTokenRepository using
// PostgreSQL. Rotation runs in its own transaction with a row lock so that
// concurrent presentations of the same token serialize: one wins, the rest
// observe the row as already consumed.
type RefreshTokenRepository struct {
	pool poolIface
}

// NewRefreshTokenRepository creates a new RefreshTokenRepository.
func NewRefreshTokenRepository(pool poolIface) *RefreshTokenRepository {
	return &RefreshTokenRepository{pool: pool}
}

// Create stores a new refresh token row.
func (r *RefreshTokenRepository) Create(ctx context.Context, token *identity.RefreshToken) error {
	extID, intID := refToColumns(token.Principal)
	_, err := querierFrom(ctx, r.pool).Exec(ctx, `
		INSERT INTO refresh_tokens (id, session_id, external_principal_id, internal_principal_id, token_hash, expires_at, revoked_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		token.ID.String(),
		token.SessionID.String(),
		extID,
		intID,
		token.TokenHash,
		token.ExpiresAt,
		token.RevokedAt,
		token.CreatedAt,
	)
	if err != nil {
		return oops.Code("REFRESH_CREATE_FAILED").
			With("operation", "insert refresh token").
			With("session_id", token.SessionID.String()).
			Wrap(storeErr(err))
	}
	return nil
}

// GetByHash retrieves a token row by its hash, revoked or not.
func (r *RefreshTokenRepository) GetByHash(ctx context.Context, tokenHash string) (*identity.RefreshToken, error) {
	row := querierFrom(ctx, r.pool).QueryRow(ctx, `
		SELECT id, session_id, external_principal_id, internal_principal_id, token_hash, expires_at, revoked_at, created_at
		FROM refresh_tokens
		WHERE token_hash = $1
	`, tokenHash)

	token, err := scanRefreshToken(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("REFRESH_NOT_FOUND").Wrap(identity.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("REFRESH_GET_BY_HASH_FAILED").
			With("operation", "get refresh token by hash").
			Wrap(storeErr(err))
	}
	return token, nil
}

// Rotate atomically consumes the presented token and mints its replacement.
// The SELECT ... FOR UPDATE serializes concurrent presentations of the same
// value; losers see revoked_at already set once the winner commits.
func (r *RefreshTokenRepository) Rotate(ctx context.Context, presentedHash, replacementHash string, expiresAt time.Time) (*identity.RefreshToken, *identity.RefreshToken, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, nil, oops.Code("REFRESH_ROTATE_FAILED").
			With("operation", "begin rotation transaction").
			Wrap(storeErr(err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // Rollback after commit is a no-op

	row := tx.QueryRow(ctx, `
		SELECT id, session_id, external_principal_id, internal_principal_id, token_hash, expires_at, revoked_at, created_at
		FROM refresh_tokens
		WHERE token_hash = $1
		FOR UPDATE
	`, presentedHash)

	consumed, err := scanRefreshToken(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, oops.Code("REFRESH_NOT_FOUND").Wrap(identity.ErrNotFound)
	}
	if err != nil {
		return nil, nil, oops.Code("REFRESH_ROTATE_FAILED").
			With("operation", "lock presented token").
			Wrap(storeErr(err))
	}

	if consumed.IsRevoked() {
		return nil, nil, oops.Code("REFRESH_ALREADY_CONSUMED").
			With("token_id", consumed.ID.String()).
			With("session_id", consumed.SessionID.String()).
			Wrap(identity.ErrTokenRevoked)
	}
	if consumed.IsExpired() {
		return nil, nil, oops.Code("REFRESH_EXPIRED").
			With("token_id", consumed.ID.String()).
			Wrap(identity.ErrTokenExpired)
	}

	now := time.Now()
	if _, err := tx.Exec(ctx, `
		UPDATE refresh_tokens SET revoked_at = $2 WHERE id = $1
	`, consumed.ID.String(), now); err != nil {
		return nil, nil, oops.Code("REFRESH_ROTATE_FAILED").
			With("operation", "consume presented token").
			With("token_id", consumed.ID.String()).
			Wrap(storeErr(err))
	}

	minted, err := identity.NewRefreshToken(consumed.Principal, consumed.SessionID, replacementHash, expiresAt)
	if err != nil {
		return nil, nil, err
	}

	extID, intID := refToColumns(minted.Principal)
	if _, err := tx.Exec(ctx, `
		INSERT INTO refresh_tokens (id, session_id, external_principal_id, internal_principal_id, token_hash, expires_at, revoked_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		minted.ID.String(),
		minted.SessionID.String(),
		extID,
		intID,
		minted.TokenHash,
		minted.ExpiresAt,
		minted.RevokedAt,
		minted.CreatedAt,
	); err != nil {
		return nil, nil, oops.Code("REFRESH_ROTATE_FAILED").
			With("operation", "insert replacement token").
			With("session_id", minted.SessionID.String()).
			Wrap(storeErr(err))
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, oops.Code("REFRESH_ROTATE_FAILED").
			With("operation", "commit rotation").
			Wrap(storeErr(err))
	}

	consumed.RevokedAt = &now
	return consumed, minted, nil
}

// RevokeBySession marks every active token for the session revoked.
func (r *RefreshTokenRepository) RevokeBySession(ctx context.Context, sessionID ulid.ULID, at time.Time) (int64, error) {
	result, err := querierFrom(ctx, r.pool).Exec(ctx, `
		UPDATE refresh_tokens SET revoked_at = $2
		WHERE session_id = $1 AND revoked_at IS NULL
	`, sessionID.String(), at)
	if err != nil {
		return 0, oops.Code("REFRESH_REVOKE_SESSION_FAILED").
			With("operation", "revoke tokens for session").
			With("session_id", sessionID.String()).
			Wrap(storeErr(err))
	}
	return result.RowsAffected(), nil
}

// RevokeAllForPrincipal revokes every active token for a principal.
func (r *RefreshTokenRepository) RevokeAllForPrincipal(ctx context.Context, principal identity.PrincipalRef, at time.Time) (int64, error) {
	extID, intID := refToColumns(principal)
	result, err := querierFrom(ctx, r.pool).Exec(ctx, `
		UPDATE refresh_tokens SET revoked_at = $3
		WHERE external_principal_id IS NOT DISTINCT FROM $1
		  AND internal_principal_id IS NOT DISTINCT FROM $2
		  AND revoked_at IS NULL
	`, extID, intID, at)
	if err != nil {
		return 0, oops.Code("REFRESH_REVOKE_ALL_FAILED").
			With("operation", "revoke tokens for principal").
			With("principal", principal.Subject()).
			Wrap(storeErr(err))
	}
	return result.RowsAffected(), nil
}

// scanRefreshToken scans a single row into a RefreshToken.
// Callers are responsible for handling pgx.ErrNoRows.
func scanRefreshToken(row pgx.Row) (*identity.RefreshToken, error) {
	var (
		idStr     string
		sessStr   string
		extID     *string
		intID     *string
		tokenHash string
		expiresAt time.Time
		revokedAt *time.Time
		createdAt time.Time
	)

	err := row.Scan(&idStr, &sessStr, &extID, &intID, &tokenHash, &expiresAt, &revokedAt, &createdAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // Callers wrap with context-specific info
		}
		return nil, oops.Code("REFRESH_SCAN_FAILED").
			With("operation", "scan refresh token").
			Wrap(storeErr(err))
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("REFRESH_INVALID_ID").With("id", idStr).Wrap(err)
	}
	sessionID, err := ulid.Parse(sessStr)
	if err != nil {
		return nil, oops.Code("REFRESH_INVALID_SESSION_ID").With("session_id", sessStr).Wrap(err)
	}

	principal, err := refFromColumns(extID, intID)
	if err != nil {
		return nil, err
	}

	return &identity.RefreshToken{
		ID:        id,
		SessionID: sessionID,
		Principal: principal,
		TokenHash: tokenHash,
		ExpiresAt: expiresAt,
		RevokedAt: revokedAt,
		CreatedAt: createdAt,
	}, nil
}

// Compile-time interface check.
var _ identity.RefreshTokenRepository = (*RefreshTokenRepository)(nil)
