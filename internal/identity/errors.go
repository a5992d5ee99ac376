// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 GateWarden Contributors

package identity

import "errors"

// Sentinel errors forming the engine's failure taxonomy. Services wrap these
// with oops codes and context; callers match with errors.Is.
var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInfrastructureTimeout is returned when a store call exceeds the
	// operator-configured time bound. The request was well formed; callers
	// may retry.
	ErrInfrastructureTimeout = errors.New("infrastructure timeout")

	// ErrInvalidCredentials is returned for unknown email or wrong password.
	// The two cases are intentionally indistinguishable.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrPrincipalExists is returned when registering an email that already
	// belongs to a live principal.
	ErrPrincipalExists = errors.New("principal already exists")

	// ErrPrincipalInactive is returned when an unverified or deactivated
	// principal attempts an operation requiring an active account.
	ErrPrincipalInactive = errors.New("principal inactive")

	// ErrTokenInvalid is returned for a token with a bad signature, an
	// unknown hash, or a malformed structure.
	ErrTokenInvalid = errors.New("token invalid")

	// ErrTokenExpired is returned for a structurally valid token past its expiry.
	ErrTokenExpired = errors.New("token expired")

	// ErrTokenRevoked is returned by stores that can tell a revoked row from
	// a missing one. The token service surfaces it as ErrTokenInvalid.
	ErrTokenRevoked = errors.New("token revoked")

	// ErrAlreadyVerified is returned when verifying an email that is already active.
	ErrAlreadyVerified = errors.New("already verified")
)
