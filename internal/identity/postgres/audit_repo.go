// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 GateWarden Contributors

package postgres

import (
	"context"

	"github.com/samber/oops"

	"github.com/gatewarden/gatewarden/internal/identity"
)

// AuditLogRepository implements identity.AuditLogRepository using PostgreSQL.
// The table is append-only; no update or delete paths exist.
type AuditLogRepository struct {
	pool poolIface
}

// NewAuditLogRepository creates a new AuditLogRepository.
func NewAuditLogRepository(pool poolIface) *AuditLogRepository {
	return &AuditLogRepository{pool: pool}
}

// Append writes one audit record. A zero-valued actor stores NULL in both
// principal columns.
func (r *AuditLogRepository) Append(ctx context.Context, record *identity.AuditRecord) error {
	var extID, intID *string
	if !record.Actor.IsZero() {
		extID, intID = refToColumns(record.Actor)
	}

	var orgID *string
	if record.OrgID != nil {
		s := record.OrgID.String()
		orgID = &s
	}

	_, err := querierFrom(ctx, r.pool).Exec(ctx, `
		INSERT INTO audit_logs (id, action, external_principal_id, internal_principal_id, org_id, ip_address, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		record.ID.String(),
		string(record.Action),
		extID,
		intID,
		orgID,
		record.IPAddress,
		record.UserAgent,
		record.CreatedAt,
	)
	if err != nil {
		return oops.Code("AUDIT_APPEND_FAILED").
			With("operation", "insert audit record").
			With("action", string(record.Action)).
			Wrap(storeErr(err))
	}
	return nil
}

// Compile-time interface check.
var _ identity.AuditLogRepository = (*AuditLogRepository)(nil)
