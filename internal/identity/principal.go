// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 GateWarden Contributors

package identity

import (
	"context"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// PrincipalKind discriminates the two principal populations.
type PrincipalKind string

// Principal kinds. External principals are organization users; internal
// principals are staff users. An identity is never both.
const (
	KindExternal PrincipalKind = "external"
	KindInternal PrincipalKind = "internal"
)

// Subject prefixes used in access-token subjects.
const (
	subjectPrefixExternal = "ext:"
	subjectPrefixInternal = "int:"
)

// PrincipalRef identifies one principal of either kind.
type PrincipalRef struct {
	Kind PrincipalKind
	ID   ulid.ULID
}

// ExternalRef builds a PrincipalRef for an external principal.
func ExternalRef(id ulid.ULID) PrincipalRef {
	return PrincipalRef{Kind: KindExternal, ID: id}
}

// InternalRef builds a PrincipalRef for an internal principal.
func InternalRef(id ulid.ULID) PrincipalRef {
	return PrincipalRef{Kind: KindInternal, ID: id}
}

// IsZero reports whether the ref identifies no principal.
func (r PrincipalRef) IsZero() bool {
	return r.Kind == "" && r.ID.Compare(ulid.ULID{}) == 0
}

// Subject encodes the ref as a kind-prefixed access-token subject.
func (r PrincipalRef) Subject() string {
	if r.Kind == KindInternal {
		return subjectPrefixInternal + r.ID.String()
	}
	return subjectPrefixExternal + r.ID.String()
}

// ParseSubject decodes a kind-prefixed subject back into a PrincipalRef.
func ParseSubject(subject string) (PrincipalRef, error) {
	var kind PrincipalKind
	var rest string
	switch {
	case strings.HasPrefix(subject, subjectPrefixExternal):
		kind = KindExternal
		rest = strings.TrimPrefix(subject, subjectPrefixExternal)
	case strings.HasPrefix(subject, subjectPrefixInternal):
		kind = KindInternal
		rest = strings.TrimPrefix(subject, subjectPrefixInternal)
	default:
		return PrincipalRef{}, oops.Code("SUBJECT_MALFORMED").
			With("subject", subject).
			Wrap(ErrTokenInvalid)
	}

	id, err := ulid.Parse(rest)
	if err != nil {
		return PrincipalRef{}, oops.Code("SUBJECT_MALFORMED").
			With("subject", subject).
			Wrap(ErrTokenInvalid)
	}
	return PrincipalRef{Kind: kind, ID: id}, nil
}

// ExternalPrincipal is an organization user account.
// PasswordHash is nil for federated-only identities with no password login.
type ExternalPrincipal struct {
	ID           ulid.ULID
	Email        string
	PasswordHash *string
	DisplayName  string
	Active       bool
	DeletedAt    *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewExternalPrincipal creates a validated external principal.
// The principal starts inactive; email verification activates it.
func NewExternalPrincipal(email, passwordHash, displayName string) (*ExternalPrincipal, error) {
	if email == "" {
		return nil, oops.Code("PRINCIPAL_INVALID_EMAIL").Errorf("email cannot be empty")
	}
	now := time.Now()
	p := &ExternalPrincipal{
		ID:          ulid.Make(),
		Email:       email,
		DisplayName: displayName,
		Active:      false,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if passwordHash != "" {
		p.PasswordHash = &passwordHash
	}
	return p, nil
}

// IsDeleted reports whether the principal has been soft-deleted.
func (p *ExternalPrincipal) IsDeleted() bool {
	return p.DeletedAt != nil
}

// Ref returns the principal's tagged reference.
func (p *ExternalPrincipal) Ref() PrincipalRef {
	return ExternalRef(p.ID)
}

// InternalPrincipal is a staff user account. Staff accounts are provisioned
// out of band and are active from creation.
type InternalPrincipal struct {
	ID           ulid.ULID
	Email        string
	PasswordHash *string
	DisplayName  string
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Ref returns the principal's tagged reference.
func (p *InternalPrincipal) Ref() PrincipalRef {
	return InternalRef(p.ID)
}

// PrincipalSummary is the sanitized view returned to callers. It never
// carries the password hash.
type PrincipalSummary struct {
	ID          ulid.ULID
	Kind        PrincipalKind
	Email       string
	DisplayName string
	Active      bool
}

// Summary builds the sanitized view of an external principal.
func (p *ExternalPrincipal) Summary() *PrincipalSummary {
	return &PrincipalSummary{
		ID:          p.ID,
		Kind:        KindExternal,
		Email:       p.Email,
		DisplayName: p.DisplayName,
		Active:      p.Active,
	}
}

// Summary builds the sanitized view of an internal principal.
func (p *InternalPrincipal) Summary() *PrincipalSummary {
	return &PrincipalSummary{
		ID:          p.ID,
		Kind:        KindInternal,
		Email:       p.Email,
		DisplayName: p.DisplayName,
		Active:      p.Active,
	}
}

// ExternalPrincipalRepository manages organization user persistence.
// Email uniqueness is scoped to non-deleted rows; a soft-deleted email may
// be reused. Email matching is exact (case-sensitive as stored).
type ExternalPrincipalRepository interface {
	// Create stores a new external principal. Returns ErrPrincipalExists
	// (wrapped) if a live principal already holds the email.
	Create(ctx context.Context, p *ExternalPrincipal) error

	// GetByID retrieves a principal by id, including soft-deleted rows.
	GetByID(ctx context.Context, id ulid.ULID) (*ExternalPrincipal, error)

	// GetByEmail retrieves the live (non-deleted) principal with the email.
	GetByEmail(ctx context.Context, email string) (*ExternalPrincipal, error)

	// Update persists mutable fields (active flag, display name, password hash).
	Update(ctx context.Context, p *ExternalPrincipal) error

	// UpdatePassword updates only the password hash.
	UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash string) error

	// SoftDelete marks the principal deleted, freeing its email for reuse.
	SoftDelete(ctx context.Context, id ulid.ULID) error
}

// InternalPrincipalRepository manages staff user persistence.
// Emails are unique across all rows and matched exactly.
type InternalPrincipalRepository interface {
	Create(ctx context.Context, p *InternalPrincipal) error
	GetByID(ctx context.Context, id ulid.ULID) (*InternalPrincipal, error)
	GetByEmail(ctx context.Context, email string) (*InternalPrincipal, error)
	Update(ctx context.Context, p *InternalPrincipal) error
	UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash string) error
}
