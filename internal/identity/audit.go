// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 GateWarden Contributors

package identity

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
)

// AuditAction enumerates security-relevant state transitions. Every completed
// transition writes exactly one record under its dedicated action; actions are
// never overloaded.
type AuditAction string

// Audit actions.
const (
	ActionRegister      AuditAction = "REGISTER"
	ActionLogin         AuditAction = "LOGIN"
	ActionLogout        AuditAction = "LOGOUT"
	ActionTokenRefresh  AuditAction = "TOKEN_REFRESH"
	ActionEmailVerify   AuditAction = "EMAIL_VERIFY"
	ActionResetRequest  AuditAction = "PASSWORD_RESET_REQUEST"
	ActionResetComplete AuditAction = "PASSWORD_RESET_COMPLETE"
)

// AuditRecord is one append-only entry in the audit trail. Actor may be
// zero-valued when no principal is attributable. OrgID scopes the record to
// an organization when the acting principal carries one.
type AuditRecord struct {
	ID        ulid.ULID
	Action    AuditAction
	Actor     PrincipalRef
	OrgID     *ulid.ULID
	IPAddress string
	UserAgent string
	CreatedAt time.Time
}

// NewAuditRecord creates an audit record stamped with the current time.
func NewAuditRecord(action AuditAction, actor PrincipalRef, ip, userAgent string) *AuditRecord {
	return &AuditRecord{
		ID:        ulid.Make(),
		Action:    action,
		Actor:     actor,
		IPAddress: ip,
		UserAgent: userAgent,
		CreatedAt: time.Now(),
	}
}

// AuditLogRepository is the append-only audit sink. Records are never
// updated or deleted by the engine.
type AuditLogRepository interface {
	Append(ctx context.Context, record *AuditRecord) error
}
