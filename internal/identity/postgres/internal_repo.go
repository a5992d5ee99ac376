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

// InternalPrincipalRepository implements identity.InternalPrincipalRepository
// using PostgreSQL. Staff emails are unique across all rows.
type InternalPrincipalRepository struct {
	pool poolIface
}

// NewInternalPrincipalRepository creates a new InternalPrincipalRepository.
func NewInternalPrincipalRepository(pool poolIface) *InternalPrincipalRepository {
	return &InternalPrincipalRepository{pool: pool}
}

// Create stores a new internal principal.
func (r *InternalPrincipalRepository) Create(ctx context.Context, p *identity.InternalPrincipal) error {
	_, err := querierFrom(ctx, r.pool).Exec(ctx, `
		INSERT INTO internal_principals (id, email, password_hash, display_name, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		p.ID.String(),
		p.Email,
		p.PasswordHash,
		p.DisplayName,
		p.Active,
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
			With("operation", "insert internal_principal").
			Wrap(storeErr(err))
	}
	return nil
}

// GetByID retrieves a principal by id.
func (r *InternalPrincipalRepository) GetByID(ctx context.Context, id ulid.ULID) (*identity.InternalPrincipal, error) {
	row := querierFrom(ctx, r.pool).QueryRow(ctx, `
		SELECT id, email, password_hash, display_name, active, created_at, updated_at
		FROM internal_principals
		WHERE id = $1
	`, id.String())

	p, err := scanInternalPrincipal(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("PRINCIPAL_NOT_FOUND").
			With("id", id.String()).
			Wrap(identity.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("PRINCIPAL_GET_BY_ID_FAILED").
			With("operation", "get internal principal by id").
			With("id", id.String()).
			Wrap(storeErr(err))
	}
	return p, nil
}

// GetByEmail retrieves a principal by email (exact match, case-sensitive
// as stored).
func (r *InternalPrincipalRepository) GetByEmail(ctx context.Context, email string) (*identity.InternalPrincipal, error) {
	row := querierFrom(ctx, r.pool).QueryRow(ctx, `
		SELECT id, email, password_hash, display_name, active, created_at, updated_at
		FROM internal_principals
		WHERE email = $1
	`, email)

	p, err := scanInternalPrincipal(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("PRINCIPAL_NOT_FOUND").Wrap(identity.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("PRINCIPAL_GET_BY_EMAIL_FAILED").
			With("operation", "get internal principal by email").
			Wrap(storeErr(err))
	}
	return p, nil
}

// Update persists mutable principal fields.
func (r *InternalPrincipalRepository) Update(ctx context.Context, p *identity.InternalPrincipal) error {
	result, err := querierFrom(ctx, r.pool).Exec(ctx, `
		UPDATE internal_principals
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
			With("operation", "update internal_principal").
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
func (r *InternalPrincipalRepository) UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash string) error {
	result, err := querierFrom(ctx, r.pool).Exec(ctx, `
		UPDATE internal_principals SET password_hash = $2, updated_at = $3
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

// scanInternalPrincipal scans a single row into an InternalPrincipal.
// Callers are responsible for handling pgx.ErrNoRows.
func scanInternalPrincipal(row pgx.Row) (*identity.InternalPrincipal, error) {
	var (
		idStr        string
		email        string
		passwordHash *string
		displayName  string
		active       bool
		createdAt    time.Time
		updatedAt    time.Time
	)

	err := row.Scan(&idStr, &email, &passwordHash, &displayName, &active, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // Callers wrap with context-specific info
		}
		return nil, oops.Code("PRINCIPAL_SCAN_FAILED").
			With("operation", "scan internal_principal").
			Wrap(storeErr(err))
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("PRINCIPAL_INVALID_ID").
			With("id", idStr).
			Wrap(err)
	}

	return &identity.InternalPrincipal{
		ID:           id,
		Email:        email,
		PasswordHash: passwordHash,
		DisplayName:  displayName,
		Active:       active,
		CreatedAt:    createdAt,
		UpdatedAt:    updatedAt,
	}, nil
}

// Compile-time interface check.
var _ identity.InternalPrincipalRepository = (*InternalPrincipalRepository)(nil)
