// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 GateWarden Contributors

package identity

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"

	"github.com/samber/oops"
)

// OpaqueTokenBytes is the entropy of opaque tokens: 32 bytes = 256 bits,
// hex-encoded to 64 chars. Refresh and reset tokens both use this size.
const OpaqueTokenBytes = 32

// GenerateOpaqueToken creates a secure random token and its hash.
// Returns (plaintext_token, sha256_hash, error). The plaintext value is
// returned to the client exactly once; only the hash is ever persisted.
func GenerateOpaqueToken() (token, hash string, err error) {
	tokenBytes := make([]byte, OpaqueTokenBytes)
	if _, err = rand.Read(tokenBytes); err != nil {
		return "", "", oops.Code("TOKEN_GENERATE_FAILED").
			With("operation", "crypto/rand.Read").
			With("requested_bytes", OpaqueTokenBytes).
			Wrap(err)
	}

	token = hex.EncodeToString(tokenBytes)
	hash = HashOpaqueToken(token)

	return token, hash, nil
}

// HashOpaqueToken computes the deterministic SHA256 hash used for storage
// lookup of an opaque token.
func HashOpaqueToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// VerifyOpaqueToken checks if the plaintext token matches the stored hash.
// Uses constant-time comparison to prevent timing attacks.
func VerifyOpaqueToken(token, hash string) bool {
	if token == "" || hash == "" {
		return false
	}
	computed := HashOpaqueToken(token)
	// Both are hex-encoded SHA256 hashes (64 chars), use constant-time compare
	return subtle.ConstantTimeCompare([]byte(computed), []byte(hash)) == 1
}
