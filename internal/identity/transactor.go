// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 GateWarden Contributors

package identity

import "context"

// Transactor runs a function inside one storage transaction. Repository
// methods invoked with the context it provides participate in that
// transaction, so multi-aggregate writes (logout cascade, reset completion)
// commit together or not at all.
type Transactor interface {
	InTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
