// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 GateWarden Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/gatewarden/gatewarden/internal/identity"
)

// ExternalPrincipalRepository implements identity.ExternalPrincipalRepository
// using PostgreSQL. Email uniqueness among live rows is enforced by a partial
// unique index (WHERE deleted_at IS NULL).
type ExternalPrincipalRepository struct {
	pool poolIface
}

// NewExternalPrincipalRepository creates a new ExternalPrincipalRepository.
func NewExternalPrincipalRepository(pool poolIface) *ExternalPrincipalRepository {
	return &ExternalPrincipalRepository{pool: pool}
}

// Create stores a new external principal.
func (r *ExternalPrincipalRepository) Create(ctx context.Context, p *identity.ExternalPrincipal) error {
	_, err := querierFrom(ctx, r.pool).Exec(ctx, `
		INSERT INTO external_principals (id, email, password_hash, display_name, active, deleted_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		p.ID.String(),
		p.Email,
		p.PasswordHash,
		p.DisplayName,
		p.Active,
		p.DeletedAt,
		p.CreatedAt,
		p.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return oops.Code("PRINCIPAL_DUPLICATE_EMAIL").
				With("email", p.Email).
				Wrap(identity.ErrPrincipalExists)
		}
		return oops.Code("PRINCIPAL_CREATE_FAILED").
			With("operation", "insert external_principal").
			Wrap(storeErr(err))
	}
	return nil
}

// GetByID retrieves a principal by id, including soft-deleted rows.
func (r *ExternalPrincipalRepository) GetByID(ctx context.Context, id ulid.ULID) (*identity.ExternalPrincipal, error) {
	row := querierFrom(ctx, r.pool).QueryRow(ctx, `
		SELECT id, email, password_hash, display_name, active, deleted_at, created_at, updated_at
		FROM external_principals
		WHERE id = $1
	`, id.String())

	p, err := scanExternalPrincipal(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("PRINCIPAL_NOT_FOUND").
			With("id", id.String()).
			Wrap(identity.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("PRINCIPAL_GET_BY_ID_FAILED").
			With("operation", "get external principal by id").
			With("id", id.String()).
			Wrap(storeErr(err))
	}
	return p, nil
}

// GetByEmail retrieves the live principal with the email (exact match,
// case-sensitive as stored).
func (r *ExternalPrincipalRepository) GetByEmail(ctx context.Context, email string) (*identity.ExternalPrincipal, error) {
	row := querierFrom(ctx, r.pool).QueryRow(ctx, `
		SELECT id, email, password_hash, display_name, active, deleted_at, created_at, updated_at
		FROM external_principals
		WHERE email = $1 AND deleted_at IS NULL
	`, email)

	p, err := scanExternalPrincipal(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("PRINCIPAL_NOT_FOUND").Wrap(identity.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("PRINCIPAL_GET_BY_EMAIL_FAILED").
			With("operation", "get external principal by email").
			Wrap(storeErr(err))
	}
	return p, nil
}

// Update persists mutable principal fields.
func (r *ExternalPrincipalRepository) Update(ctx context.Context, p *identity.ExternalPrincipal) error {
	result, err := querierFrom(ctx, r.pool).Exec(ctx, `
		UPDATE external_principals
		SET email = $2, password_hash = $3, display_name = $4, active = $5, updated_at = $6
		WHERE id = $1
	`,
		p.ID.String(),
		p.Email,
		p.PasswordHash,
		p.DisplayName,
		p.Active,
		p.UpdatedAt,
	)
	if err != nil {
		return oops.Code("PRINCIPAL_UPDATE_FAILED").
			With("operation", "update external_principal").
			With("id", p.ID.String()).
			Wrap(storeErr(err))
	}
	if result.RowsAffected() == 0 {
		return oops.Code("PRINCIPAL_NOT_FOUND").
			With("id", p.ID.String()).
			Wrap(identity.ErrNotFound)
	}
	return nil
}

// UpdatePassword updates only the password hash.
func (r *ExternalPrincipalRepository) UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash string) error {
	result, err := querierFrom(ctx, r.pool).Exec(ctx, `
		UPDATE external_principals SET password_hash = $2, updated_at = $3
		WHERE id = $1
	`, id.String(), passwordHash, time.Now())
	if err != nil {
		return oops.Code("PRINCIPAL_UPDATE_PASSWORD_FAILED").
			With("operation", "update password hash").
			With("id", id.String()).
			Wrap(storeErr(err))
	}
	if result.RowsAffected() == 0 {
		return oops.Code("PRINCIPAL_NOT_FOUND").
			With("id", id.String()).
			Wrap(identity.ErrNotFound)
	}
	return nil
}

// SoftDelete marks the principal deleted, freeing its email for reuse.
// Idempotent: deleting an already deleted principal is not an error.
func (r *ExternalPrincipalRepository) SoftDelete(ctx context.Context, id ulid.ULID) error {
	now := time.Now()
	result, err := querierFrom(ctx, r.pool).Exec(ctx, `
		UPDATE external_principals SET deleted_at = $2, updated_at = $2
		WHERE id = $1 AND deleted_at IS NULL
	`, id.String(), now)
	if err != nil {
		return oops.Code("PRINCIPAL_SOFT_DELETE_FAILED").
			With("operation", "soft delete external_principal").
			With("id", id.String()).
			Wrap(storeErr(err))
	}
	if result.RowsAffected() == 0 {
		// Row may be missing or already deleted; only the former is an error.
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// scanExternalPrincipal scans a single row into an ExternalPrincipal.
// Callers are responsible for handling pgx.ErrNoRows.
func scanExternalPrincipal(row pgx.Row) (*identity.ExternalPrincipal, error) {
	var (
		idStr        string
		email        string
		passwordHash *string
		displayName  string
		active       bool
		deletedAt    *time.Time
		createdAt    time.Time
		updatedAt    time.Time
	)

	err := row.Scan(&idStr, &email, &passwordHash, &displayName, &active, &deletedAt, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // Callers wrap with context-specific info
		}
		return nil, oops.Code("PRINCIPAL_SCAN_FAILED").
			With("operation", "scan external_principal").
			Wrap(storeErr(err))
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("PRINCIPAL_INVALID_ID").
			With("id", idStr).
			Wrap(err)
	}

	return &identity.ExternalPrincipal{
		ID:           id,
		Email:        email,
		PasswordHash: passwordHash,
		DisplayName:  displayName,
		Active:       active,
		DeletedAt:    deletedAt,
		CreatedAt:    createdAt,
		UpdatedAt:    updatedAt,
	}, nil
}

// Compile-time interface check.
var _ identity.ExternalPrincipalRepository = (*ExternalPrincipalRepository)(nil)
