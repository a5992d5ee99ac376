// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 GateWarden Contributors

package errutil

import (
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// AssertErrorCode asserts that err carries the given oops code.
func AssertErrorCode(t *testing.T, err error, code string) {
	t.Helper()
	oopsErr, ok := oops.AsOops(err)
	require.True(t, ok, "expected oops error, got %T", err)
	assert.Equal(t, code, oopsErr.Code())
}

// AssertErrorSentinel asserts that err carries the given oops code and
// wraps the sentinel, so callers can match it with errors.Is. Services
// guarantee both on every failure path.
func AssertErrorSentinel(t *testing.T, err error, code string, sentinel error) {
	t.Helper()
	AssertErrorCode(t, err, code)
	assert.ErrorIs(t, err, sentinel)
}

// AssertErrorContext asserts that err carries the given context key/value.
func AssertErrorContext(t *testing.T, err error, key string, value any) {
	t.Helper()
	oopsErr, ok := oops.AsOops(err)
	require.True(t, ok, "expected oops error, got %T", err)
	ctx := oopsErr.Context()
	assert.Contains(t, ctx, key)
	assert.Equal(t, value, ctx[key])
}
