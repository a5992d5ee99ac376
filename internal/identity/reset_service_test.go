// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 GateWarden Contributors

package identity_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatewarden/gatewarden/internal/identity"
	"github.com/gatewarden/gatewarden/pkg/errutil"
)

type resetFixture struct {
	external *fakeExternalRepo
	resets   *fakeResetRepo
	sessions *fakeSessionRepo
	refresh  *fakeRefreshRepo
	audit    *fakeAuditRepo
	mailer   *fakeMailer
	hasher   identity.PasswordHasher
	svc      *identity.PasswordResetService
}

func newResetFixture(t *testing.T, cfg identity.ResetConfig) *resetFixture {
	t.Helper()
	fx := &resetFixture{
		external: newFakeExternalRepo(),
		resets:   newFakeResetRepo(),
		sessions: newFakeSessionRepo(),
		refresh:  newFakeRefreshRepo(),
		audit:    &fakeAuditRepo{},
		mailer:   &fakeMailer{},
		hasher:   identity.NewArgon2idHasherWithParams(testHasherParams()),
	}
	svc, err := identity.NewPasswordResetService(identity.ResetDeps{
		External: fx.external,
		Resets:   fx.resets,
		Sessions: fx.sessions,
		Refresh:  fx.refresh,
		Hasher:   fx.hasher,
		Audit:    fx.audit,
		Mailer:   fx.mailer,
		Tx:       &fakeTransactor{},
	}, cfg)
	require.NoError(t, err)
	fx.svc = svc
	return fx
}

func (fx *resetFixture) addExternal(t *testing.T, email, password string, active bool) *identity.ExternalPrincipal {
	t.Helper()
	hash, err := fx.hasher.Hash(password)
	require.NoError(t, err)
	p, err := identity.NewExternalPrincipal(email, hash, "Test User")
	require.NoError(t, err)
	p.Active = active
	fx.external.add(p)
	return p
}

// requestToken drives RequestReset and extracts the raw token from the
// dispatched email link.
func (fx *resetFixture) requestToken(t *testing.T, email string) string {
	t.Helper()
	require.NoError(t, fx.svc.RequestReset(context.Background(), email, "203.0.113.7", "test-agent"))
	require.NotEmpty(t, fx.mailer.sent)
	body := fx.mailer.sent[len(fx.mailer.sent)-1].Body
	idx := strings.Index(body, "token=")
	require.GreaterOrEqual(t, idx, 0)
	rest := body[idx+len("token="):]
	end := strings.IndexByte(rest, '"')
	require.GreaterOrEqual(t, end, 0)
	return rest[:end]
}

func TestNewPasswordResetService_NilDependencies(t *testing.T) {
	fx := newResetFixture(t, identity.ResetConfig{})
	base := identity.ResetDeps{
		External: fx.external,
		Resets:   fx.resets,
		Sessions: fx.sessions,
		Refresh:  fx.refresh,
		Hasher:   fx.hasher,
		Audit:    fx.audit,
		Mailer:   fx.mailer,
		Tx:       &fakeTransactor{},
	}

	tests := []struct {
		name        string
		mutate      func(d *identity.ResetDeps)
		expectError string
	}{
		{"nil external repository", func(d *identity.ResetDeps) { d.External = nil }, "external principal repository"},
		{"nil reset repository", func(d *identity.ResetDeps) { d.Resets = nil }, "reset token repository"},
		{"nil session repository", func(d *identity.ResetDeps) { d.Sessions = nil }, "session repository"},
		{"nil refresh repository", func(d *identity.ResetDeps) { d.Refresh = nil }, "refresh token repository"},
		{"nil password hasher", func(d *identity.ResetDeps) { d.Hasher = nil }, "password hasher"},
		{"nil audit repository", func(d *identity.ResetDeps) { d.Audit = nil }, "audit repository"},
		{"nil mailer", func(d *identity.ResetDeps) { d.Mailer = nil }, "mailer"},
		{"nil transactor", func(d *identity.ResetDeps) { d.Tx = nil }, "transactor"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := base
			tt.mutate(&deps)
			svc, err := identity.NewPasswordResetService(deps, identity.ResetConfig{})
			require.Error(t, err)
			assert.Nil(t, svc)
			assert.Contains(t, err.Error(), tt.expectError)
		})
	}
}

func TestPasswordResetService_RequestReset(t *testing.T) {
	ctx := context.Background()

	t.Run("sends email with tokenized link", func(t *testing.T) {
		fx := newResetFixture(t, identity.ResetConfig{ResetBaseURL: "https://example.com/reset"})
		fx.addExternal(t, "user@example.com", "old-password", true)

		require.NoError(t, fx.svc.RequestReset(ctx, "user@example.com", "203.0.113.7", "test-agent"))

		require.Len(t, fx.mailer.sent, 1)
		assert.Equal(t, "user@example.com", fx.mailer.sent[0].To)
		assert.Contains(t, fx.mailer.sent[0].Body, "https://example.com/reset?token=")
		assert.Equal(t, []identity.AuditAction{identity.ActionResetRequest}, fx.audit.actions())
	})

	t.Run("unknown email is silent", func(t *testing.T) {
		fx := newResetFixture(t, identity.ResetConfig{})

		err := fx.svc.RequestReset(ctx, "nobody@example.com", "", "")
		require.NoError(t, err, "unknown email must be indistinguishable from success")
		assert.Empty(t, fx.mailer.sent)
		assert.Empty(t, fx.audit.actions())
	})

	t.Run("inactive principal is rejected", func(t *testing.T) {
		fx := newResetFixture(t, identity.ResetConfig{})
		fx.addExternal(t, "user@example.com", "old-password", false)

		err := fx.svc.RequestReset(ctx, "user@example.com", "", "")
		require.Error(t, err)
		assert.ErrorIs(t, err, identity.ErrPrincipalInactive)
	})

	t.Run("email dispatch failure surfaces", func(t *testing.T) {
		fx := newResetFixture(t, identity.ResetConfig{})
		fx.addExternal(t, "user@example.com", "old-password", true)
		fx.mailer.sendErr = errors.New("smtp down")

		err := fx.svc.RequestReset(ctx, "user@example.com", "", "")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "RESET_EMAIL_FAILED")
	})
}

func TestPasswordResetService_ResetPassword(t *testing.T) {
	ctx := context.Background()
	cfg := identity.ResetConfig{ResetBaseURL: "https://example.com/reset"}

	t.Run("updates password and revokes all access", func(t *testing.T) {
		fx := newResetFixture(t, cfg)
		p := fx.addExternal(t, "user@example.com", "old-password", true)

		// Seed an active session and refresh token for the principal.
		session, err := identity.NewSession(p.Ref(), "agent", "203.0.113.7")
		require.NoError(t, err)
		require.NoError(t, fx.sessions.Create(ctx, session))
		_, hash, err := identity.GenerateOpaqueToken()
		require.NoError(t, err)
		refreshToken, err := identity.NewRefreshToken(p.Ref(), session.ID, hash, time.Now().Add(time.Hour))
		require.NoError(t, err)
		require.NoError(t, fx.refresh.Create(ctx, refreshToken))

		raw := fx.requestToken(t, "user@example.com")
		require.NoError(t, fx.svc.ResetPassword(ctx, raw, "new-password", "203.0.113.7", "test-agent"))

		stored, err := fx.external.GetByID(ctx, p.ID)
		require.NoError(t, err)
		ok, err := fx.hasher.Verify("new-password", *stored.PasswordHash)
		require.NoError(t, err)
		assert.True(t, ok)

		_, err = fx.sessions.GetLatestActive(ctx, p.Ref())
		assert.ErrorIs(t, err, identity.ErrNotFound, "all sessions revoked")
		assert.Equal(t, 0, fx.refresh.activeCount(), "all refresh tokens revoked")

		assert.Equal(t, []identity.AuditAction{
			identity.ActionResetRequest,
			identity.ActionResetComplete,
		}, fx.audit.actions())
	})

	t.Run("token is single use", func(t *testing.T) {
		fx := newResetFixture(t, cfg)
		fx.addExternal(t, "user@example.com", "old-password", true)

		raw := fx.requestToken(t, "user@example.com")
		require.NoError(t, fx.svc.ResetPassword(ctx, raw, "new-password", "", ""))

		err := fx.svc.ResetPassword(ctx, raw, "another-password", "", "")
		require.Error(t, err)
		assert.ErrorIs(t, err, identity.ErrTokenInvalid)
	})

	t.Run("unknown token is invalid", func(t *testing.T) {
		fx := newResetFixture(t, cfg)

		err := fx.svc.ResetPassword(ctx, "bogus-token", "new-password", "", "")
		require.Error(t, err)
		assert.ErrorIs(t, err, identity.ErrTokenInvalid)
	})

	t.Run("expired token is rejected and not consumed", func(t *testing.T) {
		fx := newResetFixture(t, identity.ResetConfig{ResetBaseURL: "https://example.com/reset", TokenTTL: time.Nanosecond})
		fx.addExternal(t, "user@example.com", "old-password", true)

		raw := fx.requestToken(t, "user@example.com")
		time.Sleep(10 * time.Millisecond)

		err := fx.svc.ResetPassword(ctx, raw, "new-password", "", "")
		require.Error(t, err)
		assert.ErrorIs(t, err, identity.ErrTokenExpired)

		stored, err := fx.resets.GetByHash(ctx, identity.HashOpaqueToken(raw))
		require.NoError(t, err)
		assert.False(t, stored.IsUsed())
	})

	t.Run("empty password rejected", func(t *testing.T) {
		fx := newResetFixture(t, cfg)

		err := fx.svc.ResetPassword(ctx, "any-token", "", "", "")
		require.Error(t, err)
		assert.ErrorIs(t, err, identity.ErrEmptyPassword)
	})

	t.Run("password update failure aborts without consuming", func(t *testing.T) {
		fx := newResetFixture(t, cfg)
		fx.addExternal(t, "user@example.com", "old-password", true)
		raw := fx.requestToken(t, "user@example.com")
		fx.external.passwdErr = errors.New("db down")

		err := fx.svc.ResetPassword(ctx, raw, "new-password", "", "")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "RESET_FAILED")
	})
}
