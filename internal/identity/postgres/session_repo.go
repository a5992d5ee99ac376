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

// SessionRepository implements identity.SessionRepository using PostgreSQL.
// A CHECK constraint enforces that exactly one of the two principal columns
// is set per row.
type SessionRepository struct {
	pool poolIface
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(pool poolIface) *SessionRepository {
	return &SessionRepository{pool: pool}
}

// Create stores a new session.
func (r *SessionRepository) Create(ctx context.Context, session *identity.Session) error {
	extID, intID := refToColumns(session.Principal)
	_, err := querierFrom(ctx, r.pool).Exec(ctx, `
		INSERT INTO sessions (id, external_principal_id, internal_principal_id, user_agent, ip_address, created_at, revoked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		session.ID.String(),
		extID,
		intID,
		session.UserAgent,
		session.IPAddress,
		session.CreatedAt,
		session.RevokedAt,
	)
	if err != nil {
		return oops.Code("SESSION_CREATE_FAILED").
			With("operation", "insert session").
			With("principal", session.Principal.Subject()).
			Wrap(storeErr(err))
	}
	return nil
}

// GetByID retrieves a session by its ID.
func (r *SessionRepository) GetByID(ctx context.Context, id ulid.ULID) (*identity.Session, error) {
	row := querierFrom(ctx, r.pool).QueryRow(ctx, `
		SELECT id, external_principal_id, internal_principal_id, user_agent, ip_address, created_at, revoked_at
		FROM sessions
		WHERE id = $1
	`, id.String())

	session, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("SESSION_NOT_FOUND").
			With("id", id.String()).
			Wrap(identity.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("SESSION_GET_BY_ID_FAILED").
			With("operation", "get session by id").
			With("id", id.String()).
			Wrap(storeErr(err))
	}
	return session, nil
}

// GetLatestActive retrieves the most recently created non-revoked session
// for a principal.
func (r *SessionRepository) GetLatestActive(ctx context.Context, principal identity.PrincipalRef) (*identity.Session, error) {
	extID, intID := refToColumns(principal)
	row := querierFrom(ctx, r.pool).QueryRow(ctx, `
		SELECT id, external_principal_id, internal_principal_id, user_agent, ip_address, created_at, revoked_at
		FROM sessions
		WHERE external_principal_id IS NOT DISTINCT FROM $1
		  AND internal_principal_id IS NOT DISTINCT FROM $2
		  AND revoked_at IS NULL
		ORDER BY created_at DESC
		LIMIT 1
	`, extID, intID)

	session, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("SESSION_NOT_FOUND").
			With("principal", principal.Subject()).
			Wrap(identity.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("SESSION_GET_LATEST_FAILED").
			With("operation", "get latest active session").
			With("principal", principal.Subject()).
			Wrap(storeErr(err))
	}
	return session, nil
}

// Revoke marks the session revoked. Idempotent: already revoked rows are
// left untouched and missing rows are an error.
func (r *SessionRepository) Revoke(ctx context.Context, id ulid.ULID, at time.Time) error {
	q := querierFrom(ctx, r.pool)
	result, err := q.Exec(ctx, `
		UPDATE sessions SET revoked_at = $2
		WHERE id = $1 AND revoked_at IS NULL
	`, id.String(), at)
	if err != nil {
		return oops.Code("SESSION_REVOKE_FAILED").
			With("operation", "revoke session").
			With("id", id.String()).
			Wrap(storeErr(err))
	}
	if result.RowsAffected() == 0 {
		// Distinguish already-revoked (fine) from missing (error).
		var exists bool
		if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM sessions WHERE id = $1)`, id.String()).Scan(&exists); err != nil {
			return oops.Code("SESSION_REVOKE_FAILED").
				With("operation", "check session exists").
				With("id", id.String()).
				Wrap(storeErr(err))
		}
		if !exists {
			return oops.Code("SESSION_NOT_FOUND").
				With("id", id.String()).
				Wrap(identity.ErrNotFound)
		}
	}
	return nil
}

// RevokeAllForPrincipal revokes every active session for a principal.
func (r *SessionRepository) RevokeAllForPrincipal(ctx context.Context, principal identity.PrincipalRef, at time.Time) (int64, error) {
	extID, intID := refToColumns(principal)
	result, err := querierFrom(ctx, r.pool).Exec(ctx, `
		UPDATE sessions SET revoked_at = $3
		WHERE external_principal_id IS NOT DISTINCT FROM $1
		  AND internal_principal_id IS NOT DISTINCT FROM $2
		  AND revoked_at IS NULL
	`, extID, intID, at)
	if err != nil {
		return 0, oops.Code("SESSION_REVOKE_ALL_FAILED").
			With("operation", "revoke sessions for principal").
			With("principal", principal.Subject()).
			Wrap(storeErr(err))
	}
	return result.RowsAffected(), nil
}

// scanSession scans a single row into a Session.
// Callers are responsible for handling pgx.ErrNoRows.
func scanSession(row pgx.Row) (*identity.Session, error) {
	var (
		idStr     string
		extID     *string
		intID     *string
		userAgent string
		ipAddress string
		createdAt time.Time
		revokedAt *time.Time
	)

	err := row.Scan(&idStr, &extID, &intID, &userAgent, &ipAddress, &createdAt, &revokedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // Callers wrap with context-specific info
		}
		return nil, oops.Code("SESSION_SCAN_FAILED").
			With("operation", "scan session").
			Wrap(storeErr(err))
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("SESSION_INVALID_ID").
			With("id", idStr).
			Wrap(storeErr(err))
	}

	principal, err := refFromColumns(extID, intID)
	if err != nil {
		return nil, err
	}

	return &identity.Session{
		ID:        id,
		Principal: principal,
		UserAgent: userAgent,
		IPAddress: ipAddress,
		CreatedAt: createdAt,
		RevokedAt: revokedAt,
	}, nil
}

// Compile-time interface check.
var _ identity.SessionRepository = (*SessionRepository)(nil)
