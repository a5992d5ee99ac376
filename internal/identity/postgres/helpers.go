// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 GateWarden Contributors

// Package postgres provides PostgreSQL implementations of identity repositories.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/gatewarden/gatewarden/internal/identity"
)

// querier abstracts query execution for both a pool and pgx.Tx so repository
// methods participate in an active transaction when one is stored in the
// context.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// poolIface is the subset of *pgxpool.Pool the repositories need. Satisfied
// by pgxmock pools in tests.
type poolIface interface {
	querier
	Begin(ctx context.Context) (pgx.Tx, error)
}

// txKey is the context key under which Transactor stores the active pgx.Tx.
type txKey struct{}

// querierFrom returns the transaction stored in ctx, or the pool.
func querierFrom(ctx context.Context, pool poolIface) querier {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return pool
}

// storeErr tags driver failures caused by a context deadline or a server
// statement timeout with identity.ErrInfrastructureTimeout so callers can
// tell a slow database from a domain failure. Other errors pass through.
func storeErr(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		pgconn.Timeout(err),
		errors.As(err, &pgErr) && pgErr.Code == pgerrcode.QueryCanceled:
		return fmt.Errorf("%w: %w", identity.ErrInfrastructureTimeout, err)
	}
	return err
}

// refToColumns splits a PrincipalRef into the two nullable id columns.
// Exactly one of the returned pointers is non-nil.
func refToColumns(ref identity.PrincipalRef) (externalID, internalID *string) {
	s := ref.ID.String()
	if ref.Kind == identity.KindInternal {
		return nil, &s
	}
	return &s, nil
}

// refFromColumns rebuilds a PrincipalRef from the two nullable id columns,
// enforcing the exactly-one-set invariant.
func refFromColumns(externalID, internalID *string) (identity.PrincipalRef, error) {
	switch {
	case externalID != nil && internalID != nil:
		return identity.PrincipalRef{}, oops.Code("PRINCIPAL_REF_AMBIGUOUS").
			Errorf("both principal columns set")
	case externalID != nil:
		id, err := ulid.Parse(*externalID)
		if err != nil {
			return identity.PrincipalRef{}, oops.Code("PRINCIPAL_REF_INVALID").
				With("external_principal_id", *externalID).
				Wrap(err)
		}
		return identity.ExternalRef(id), nil
	case internalID != nil:
		id, err := ulid.Parse(*internalID)
		if err != nil {
			return identity.PrincipalRef{}, oops.Code("PRINCIPAL_REF_INVALID").
				With("internal_principal_id", *internalID).
				Wrap(err)
		}
		return identity.InternalRef(id), nil
	default:
		return identity.PrincipalRef{}, oops.Code("PRINCIPAL_REF_MISSING").
			Errorf("neither principal column set")
	}
}
