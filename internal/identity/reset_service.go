// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 GateWarden Contributors

package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/samber/oops"

	"github.com/gatewarden/gatewarden/pkg/errutil"
)

// ResetDeps are the collaborators of PasswordResetService.
type ResetDeps struct {
	External ExternalPrincipalRepository
	Resets   PasswordResetTokenRepository
	Sessions SessionRepository
	Refresh  RefreshTokenRepository
	Hasher   PasswordHasher
	Audit    AuditLogRepository
	Mailer   Mailer
	Tx       Transactor
}

// ResetConfig carries operator-configured reset parameters.
type ResetConfig struct {
	// ResetBaseURL is the link base for reset emails; the raw token is
	// appended as a query parameter.
	ResetBaseURL string

	// TokenTTL is the reset token validity window. Defaults to ResetTokenTTL.
	TokenTTL time.Duration
}

// PasswordResetService orchestrates the forgot/reset-password flow.
type PasswordResetService struct {
	external ExternalPrincipalRepository
	resets   PasswordResetTokenRepository
	sessions SessionRepository
	refresh  RefreshTokenRepository
	hasher   PasswordHasher
	audit    AuditLogRepository
	mailer   Mailer
	tx       Transactor
	cfg      ResetConfig
	logger   *slog.Logger
}

// NewPasswordResetService creates a PasswordResetService.
func NewPasswordResetService(deps ResetDeps, cfg ResetConfig) (*PasswordResetService, error) {
	return NewPasswordResetServiceWithLogger(deps, cfg, slog.Default())
}

// NewPasswordResetServiceWithLogger creates a PasswordResetService with a
// custom logger.
func NewPasswordResetServiceWithLogger(deps ResetDeps, cfg ResetConfig, logger *slog.Logger) (*PasswordResetService, error) {
	if deps.External == nil {
		return nil, oops.Code("RESET_SERVICE_INVALID").Errorf("external principal repository is required")
	}
	if deps.Resets == nil {
		return nil, oops.Code("RESET_SERVICE_INVALID").Errorf("reset token repository is required")
	}
	if deps.Sessions == nil {
		return nil, oops.Code("RESET_SERVICE_INVALID").Errorf("session repository is required")
	}
	if deps.Refresh == nil {
		return nil, oops.Code("RESET_SERVICE_INVALID").Errorf("refresh token repository is required")
	}
	if deps.Hasher == nil {
		return nil, oops.Code("RESET_SERVICE_INVALID").Errorf("password hasher is required")
	}
	if deps.Audit == nil {
		return nil, oops.Code("RESET_SERVICE_INVALID").Errorf("audit repository is required")
	}
	if deps.Mailer == nil {
		return nil, oops.Code("RESET_SERVICE_INVALID").Errorf("mailer is required")
	}
	if deps.Tx == nil {
		return nil, oops.Code("RESET_SERVICE_INVALID").Errorf("transactor is required")
	}
	if logger == nil {
		return nil, oops.Code("RESET_SERVICE_INVALID").Errorf("logger is required")
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = ResetTokenTTL
	}
	return &PasswordResetService{
		external: deps.External,
		resets:   deps.Resets,
		sessions: deps.Sessions,
		refresh:  deps.Refresh,
		hasher:   deps.Hasher,
		audit:    deps.Audit,
		mailer:   deps.Mailer,
		tx:       deps.Tx,
		cfg:      cfg,
		logger:   logger,
	}, nil
}

// RequestReset starts a password reset for the email's external principal.
// An unknown email returns silently with no signal distinguishable from
// success, preventing account enumeration. Unlike registration, a reset
// email dispatch failure is surfaced to the caller.
func (s *PasswordResetService) RequestReset(ctx context.Context, email, ipAddress, userAgent string) error {
	principal, err := s.external.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return oops.Code("RESET_REQUEST_FAILED").
			With("operation", "get principal by email").
			Wrap(err)
	}

	if !principal.Active {
		return oops.Code("RESET_PRINCIPAL_INACTIVE").Wrap(ErrPrincipalInactive)
	}

	raw, hash, err := GenerateOpaqueToken()
	if err != nil {
		return oops.Code("RESET_REQUEST_FAILED").
			With("operation", "generate reset token").
			Wrap(err)
	}

	reset, err := NewPasswordResetToken(principal.ID, hash, time.Now().Add(s.cfg.TokenTTL))
	if err != nil {
		return oops.Code("RESET_REQUEST_FAILED").
			With("operation", "build reset token").
			Wrap(err)
	}

	if err := s.resets.Create(ctx, reset); err != nil {
		return oops.Code("RESET_REQUEST_FAILED").
			With("operation", "persist reset token").
			Wrap(err)
	}

	link := raw
	if s.cfg.ResetBaseURL != "" {
		link = fmt.Sprintf("%s?token=%s", s.cfg.ResetBaseURL, raw)
	}
	body := fmt.Sprintf(`<p>A password reset was requested for your account.</p><p><a href="%s">Reset password</a></p><p>The link expires in %d minutes.</p>`,
		link, int(s.cfg.TokenTTL.Minutes()))

	if err := s.mailer.Send(ctx, principal.Email, "Reset your password", body); err != nil {
		return oops.Code("RESET_EMAIL_FAILED").
			With("operation", "dispatch reset email").
			Wrap(err)
	}

	s.recordAudit(ctx, NewAuditRecord(ActionResetRequest, principal.Ref(), ipAddress, userAgent))

	return nil
}

// ResetPassword completes a reset: consumes the single-use token, updates
// the password, and revokes every session and refresh token the principal
// holds, forcing re-authentication everywhere. The mark-used guard and all
// revocations commit in one transaction, so two concurrent completions of
// the same leaked token cannot both succeed.
func (s *PasswordResetService) ResetPassword(ctx context.Context, token, newPassword, ipAddress, userAgent string) error {
	if newPassword == "" {
		return ErrEmptyPassword
	}

	hash := HashOpaqueToken(token)
	reset, err := s.resets.GetByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return oops.Code("RESET_TOKEN_INVALID").Wrap(ErrTokenInvalid)
		}
		return oops.Code("RESET_FAILED").
			With("operation", "get reset token by hash").
			Wrap(err)
	}
	if reset.IsUsed() {
		return oops.Code("RESET_TOKEN_USED").Wrap(ErrTokenInvalid)
	}
	if reset.IsExpired() {
		return oops.Code("RESET_TOKEN_EXPIRED").Wrap(ErrTokenExpired)
	}

	passwordHash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return oops.Code("RESET_FAILED").
			With("operation", "hash new password").
			Wrap(err)
	}

	ref := ExternalRef(reset.PrincipalID)
	now := time.Now()
	err = s.tx.InTransaction(ctx, func(txCtx context.Context) error {
		// MarkUsed is the single-use gate: its used_at IS NULL guard makes
		// the racing completion lose inside this transaction.
		if err := s.resets.MarkUsed(txCtx, reset.ID, now); err != nil {
			if errors.Is(err, ErrTokenRevoked) {
				return oops.Code("RESET_TOKEN_USED").Wrap(ErrTokenInvalid)
			}
			return oops.Code("RESET_FAILED").
				With("operation", "mark reset token used").
				Wrap(err)
		}
		if err := s.external.UpdatePassword(txCtx, reset.PrincipalID, passwordHash); err != nil {
			return oops.Code("RESET_FAILED").
				With("operation", "update password").
				With("principal_id", reset.PrincipalID.String()).
				Wrap(err)
		}
		if _, err := s.sessions.RevokeAllForPrincipal(txCtx, ref, now); err != nil {
			return oops.Code("RESET_FAILED").
				With("operation", "revoke sessions").
				With("principal_id", reset.PrincipalID.String()).
				Wrap(err)
		}
		if _, err := s.refresh.RevokeAllForPrincipal(txCtx, ref, now); err != nil {
			return oops.Code("RESET_FAILED").
				With("operation", "revoke refresh tokens").
				With("principal_id", reset.PrincipalID.String()).
				Wrap(err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	PasswordResets.Inc()
	s.recordAudit(ctx, NewAuditRecord(ActionResetComplete, ref, ipAddress, userAgent))

	return nil
}

// recordAudit appends an audit record, logging sink failures.
func (s *PasswordResetService) recordAudit(ctx context.Context, record *AuditRecord) {
	if err := s.audit.Append(ctx, record); err != nil {
		errutil.LogError(s.logger, "audit append failed", err)
	}
}
