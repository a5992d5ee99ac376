// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 GateWarden Contributors

// Package identity implements the credential and session lifecycle engine.
//
// # Principals
//
// Two disjoint principal populations exist: ExternalPrincipal (organization
// users) and InternalPrincipal (staff users). Sessions, refresh tokens, and
// audit records reference either kind through PrincipalRef, a tagged union of
// kind and id, so business logic never branches on nullable foreign keys.
//
// # Services
//
//   - TokenService - signs and verifies access tokens, mints and rotates
//     refresh tokens
//   - AuthService - registration, login, logout, refresh, email verification
//   - PasswordResetService - forgot/reset-password flow
//
// Services are created with New*Service constructors that validate their
// dependencies. All state lives in the persistence layer; the only in-process
// shared state is the signing keypair, which is read-only after startup.
//
// # Atomicity
//
// Refresh-token rotation and reset-token consumption are single-use under
// concurrency. Both are expressed as one transaction at the repository
// boundary (RefreshTokenRepository.Rotate, the reset completion inside
// Transactor.InTransaction); the engine holds no locks of its own.
package identity
