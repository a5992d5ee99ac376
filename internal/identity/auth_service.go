// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 GateWarden Contributors

package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/gatewarden/gatewarden/pkg/errutil"
)

// dummyPasswordHash is used when a principal doesn't exist or has no password.
// We still run password verification to make response time consistent.
// This is NOT a real credential - it's a fake hash that will never match any password.
//
//nolint:gosec // G101: This is an intentionally fake hash for timing attack prevention, not a credential.
const dummyPasswordHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// AuthDeps are the collaborators of AuthService. All fields are required
// except Mailer, which defaults to a LogMailer.
type AuthDeps struct {
	External ExternalPrincipalRepository
	Internal InternalPrincipalRepository
	Sessions SessionRepository
	Tokens   *TokenService
	Hasher   PasswordHasher
	Audit    AuditLogRepository
	Mailer   Mailer
	Tx       Transactor
}

// AuthConfig carries operator-configured authentication parameters.
type AuthConfig struct {
	// VerificationBaseURL is the link base for email verification; the
	// signed token is appended as a query parameter.
	VerificationBaseURL string
}

// AuthService orchestrates login, registration, logout, refresh, and email
// verification.
type AuthService struct {
	external ExternalPrincipalRepository
	internal InternalPrincipalRepository
	sessions SessionRepository
	tokens   *TokenService
	hasher   PasswordHasher
	audit    AuditLogRepository
	mailer   Mailer
	tx       Transactor
	cfg      AuthConfig
	logger   *slog.Logger
}

// NewAuthService creates an AuthService.
func NewAuthService(deps AuthDeps, cfg AuthConfig) (*AuthService, error) {
	return NewAuthServiceWithLogger(deps, cfg, slog.Default())
}

// NewAuthServiceWithLogger creates an AuthService with a custom logger.
func NewAuthServiceWithLogger(deps AuthDeps, cfg AuthConfig, logger *slog.Logger) (*AuthService, error) {
	if deps.External == nil {
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("external principal repository is required")
	}
	if deps.Internal == nil {
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("internal principal repository is required")
	}
	if deps.Sessions == nil {
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("session repository is required")
	}
	if deps.Tokens == nil {
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("token service is required")
	}
	if deps.Hasher == nil {
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("password hasher is required")
	}
	if deps.Audit == nil {
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("audit repository is required")
	}
	if deps.Tx == nil {
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("transactor is required")
	}
	if logger == nil {
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("logger is required")
	}
	if deps.Mailer == nil {
		deps.Mailer = NewLogMailer(logger)
	}
	return &AuthService{
		external: deps.External,
		internal: deps.Internal,
		sessions: deps.Sessions,
		tokens:   deps.Tokens,
		hasher:   deps.Hasher,
		audit:    deps.Audit,
		mailer:   deps.Mailer,
		tx:       deps.Tx,
		cfg:      cfg,
		logger:   logger,
	}, nil
}

// RegisterInput is the already-validated registration request.
type RegisterInput struct {
	Email       string
	Password    string
	DisplayName string
	UserAgent   string
	IPAddress   string
}

// Register creates an inactive external principal and dispatches a signed
// verification link. Email delivery failure is logged but never surfaced:
// signup must not block on the mail provider.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*PrincipalSummary, error) {
	existing, err := s.external.GetByEmail(ctx, in.Email)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, oops.Code("REGISTER_FAILED").
			With("operation", "get principal by email").
			Wrap(err)
	}
	if existing != nil {
		return nil, oops.Code("REGISTER_DUPLICATE").Wrap(ErrPrincipalExists)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, oops.Code("REGISTER_FAILED").
			With("operation", "hash password").
			Wrap(err)
	}

	principal, err := NewExternalPrincipal(in.Email, hash, in.DisplayName)
	if err != nil {
		return nil, oops.Code("REGISTER_FAILED").
			With("operation", "build principal").
			Wrap(err)
	}

	// The pre-check above races with concurrent registration; the store's
	// partial unique index is the authority and surfaces ErrPrincipalExists.
	if err := s.external.Create(ctx, principal); err != nil {
		if errors.Is(err, ErrPrincipalExists) {
			return nil, oops.Code("REGISTER_DUPLICATE").Wrap(ErrPrincipalExists)
		}
		return nil, oops.Code("REGISTER_FAILED").
			With("operation", "create principal").
			Wrap(err)
	}

	s.sendVerificationEmail(ctx, principal)

	s.recordAudit(ctx, NewAuditRecord(ActionRegister, principal.Ref(), in.IPAddress, in.UserAgent))

	return principal.Summary(), nil
}

// sendVerificationEmail mints a verification token and dispatches it.
// Failures are logged, never propagated.
func (s *AuthService) sendVerificationEmail(ctx context.Context, principal *ExternalPrincipal) {
	token, err := s.tokens.IssueAccessToken(principal.Ref(), ActionVerifyEmail)
	if err != nil {
		errutil.LogError(s.logger, "issue verification token failed", err)
		return
	}

	link := token
	if s.cfg.VerificationBaseURL != "" {
		link = fmt.Sprintf("%s?token=%s", s.cfg.VerificationBaseURL, token)
	}
	body := fmt.Sprintf(`<p>Welcome! Confirm your email address:</p><p><a href="%s">Verify email</a></p>`, link)

	if err := s.mailer.Send(ctx, principal.Email, "Verify your email address", body); err != nil {
		errutil.LogError(s.logger, "verification email dispatch failed", err)
	}
}

// LoginInput is the already-validated login request.
type LoginInput struct {
	Email     string
	Password  string
	UserAgent string
	IPAddress string
}

// LoginResult is returned on successful authentication.
type LoginResult struct {
	Kind      PrincipalKind
	SessionID ulid.ULID
	Tokens    TokenPair
	Principal *PrincipalSummary
}

// resolvedLogin is the outcome of the email lookup across both populations.
type resolvedLogin struct {
	ref     PrincipalRef
	hash    string
	active  bool
	summary *PrincipalSummary
}

// Login authenticates a principal and creates a session with a fresh token
// pair. Internal principals are resolved first, then active external ones.
// Unknown email and wrong password are indistinguishable, and a dummy hash
// is verified when no principal exists to keep response time constant.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	resolved, err := s.resolvePrincipal(ctx, in.Email)
	if err != nil {
		return nil, err
	}

	targetHash := dummyPasswordHash
	if resolved != nil && resolved.hash != "" {
		targetHash = resolved.hash
	}

	// Always verify (constant-time operation for timing attack prevention).
	valid, verifyErr := s.hasher.Verify(in.Password, targetHash)
	if verifyErr != nil && resolved != nil {
		Logins.WithLabelValues(string(resolved.ref.Kind), OutcomeError).Inc()
		return nil, oops.Code("LOGIN_FAILED").
			With("operation", "verify password").
			Wrap(verifyErr)
	}

	if resolved == nil || resolved.hash == "" || !valid {
		kind := "unknown"
		if resolved != nil {
			kind = string(resolved.ref.Kind)
		}
		Logins.WithLabelValues(kind, OutcomeDenied).Inc()
		return nil, oops.Code("LOGIN_INVALID_CREDENTIALS").Wrap(ErrInvalidCredentials)
	}

	// Checked after password verification to maintain constant time.
	if !resolved.active {
		Logins.WithLabelValues(string(resolved.ref.Kind), OutcomeDenied).Inc()
		return nil, oops.Code("LOGIN_PRINCIPAL_INACTIVE").Wrap(ErrPrincipalInactive)
	}

	session, err := NewSession(resolved.ref, in.UserAgent, in.IPAddress)
	if err != nil {
		return nil, oops.Code("LOGIN_FAILED").
			With("operation", "build session").
			Wrap(err)
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		Logins.WithLabelValues(string(resolved.ref.Kind), OutcomeError).Inc()
		return nil, oops.Code("LOGIN_FAILED").
			With("operation", "persist session").
			Wrap(err)
	}

	access, err := s.tokens.IssueAccessToken(resolved.ref, "")
	if err != nil {
		Logins.WithLabelValues(string(resolved.ref.Kind), OutcomeError).Inc()
		return nil, oops.Code("LOGIN_FAILED").
			With("operation", "issue access token").
			Wrap(err)
	}

	refresh, err := s.tokens.IssueRefreshToken(ctx, resolved.ref, session.ID)
	if err != nil {
		Logins.WithLabelValues(string(resolved.ref.Kind), OutcomeError).Inc()
		return nil, oops.Code("LOGIN_FAILED").
			With("operation", "issue refresh token").
			Wrap(err)
	}

	s.recordAudit(ctx, NewAuditRecord(ActionLogin, resolved.ref, in.IPAddress, in.UserAgent))
	Logins.WithLabelValues(string(resolved.ref.Kind), OutcomeSuccess).Inc()

	return &LoginResult{
		Kind:      resolved.ref.Kind,
		SessionID: session.ID,
		Tokens:    TokenPair{AccessToken: access, RefreshToken: refresh},
		Principal: resolved.summary,
	}, nil
}

// resolvePrincipal looks up an internal principal by email first, then an
// active external one. Returns nil without error when neither exists.
func (s *AuthService) resolvePrincipal(ctx context.Context, email string) (*resolvedLogin, error) {
	internal, err := s.internal.GetByEmail(ctx, email)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, oops.Code("LOGIN_FAILED").
			With("operation", "get internal principal by email").
			Wrap(err)
	}
	if internal != nil {
		r := &resolvedLogin{
			ref:     internal.Ref(),
			active:  internal.Active,
			summary: internal.Summary(),
		}
		if internal.PasswordHash != nil {
			r.hash = *internal.PasswordHash
		}
		return r, nil
	}

	external, err := s.external.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil //nolint:nilnil // absence is not an error here; caller runs the dummy verify
		}
		return nil, oops.Code("LOGIN_FAILED").
			With("operation", "get external principal by email").
			Wrap(err)
	}
	r := &resolvedLogin{
		ref:     external.Ref(),
		active:  external.Active,
		summary: external.Summary(),
	}
	if external.PasswordHash != nil {
		r.hash = *external.PasswordHash
	}
	return r, nil
}

// LogoutResult reports the principal logged out and whether an active
// session was actually found.
type LogoutResult struct {
	Principal    PrincipalRef
	SessionFound bool
}

// Logout verifies the access token, revokes the principal's most recent
// active session, and cascades revocation to its refresh tokens in one
// transaction. Logout is idempotent: with no active session it succeeds
// with SessionFound=false.
func (s *AuthService) Logout(ctx context.Context, accessToken, ipAddress, userAgent string) (*LogoutResult, error) {
	claims, err := s.tokens.VerifyAccessToken(accessToken)
	if err != nil {
		return nil, err
	}
	if claims.Action != "" {
		// Special-purpose tokens (verification links) cannot end sessions.
		return nil, oops.Code("LOGOUT_TOKEN_INVALID").Wrap(ErrTokenInvalid)
	}
	ref, err := claims.Ref()
	if err != nil {
		return nil, err
	}

	session, err := s.sessions.GetLatestActive(ctx, ref)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return &LogoutResult{Principal: ref, SessionFound: false}, nil
		}
		return nil, oops.Code("LOGOUT_FAILED").
			With("operation", "get latest active session").
			Wrap(err)
	}

	now := time.Now()
	err = s.tx.InTransaction(ctx, func(txCtx context.Context) error {
		if err := s.sessions.Revoke(txCtx, session.ID, now); err != nil {
			return oops.Code("LOGOUT_FAILED").
				With("operation", "revoke session").
				With("session_id", session.ID.String()).
				Wrap(err)
		}
		if err := s.tokens.RevokeSessionTokens(txCtx, session.ID); err != nil {
			return oops.Code("LOGOUT_FAILED").
				With("operation", "revoke session tokens").
				With("session_id", session.ID.String()).
				Wrap(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, NewAuditRecord(ActionLogout, ref, ipAddress, userAgent))

	return &LogoutResult{Principal: ref, SessionFound: true}, nil
}

// Refresh rotates a presented refresh token into a new token pair.
func (s *AuthService) Refresh(ctx context.Context, presented, ipAddress, userAgent string) (*TokenPair, error) {
	pair, consumed, err := s.tokens.Rotate(ctx, presented)
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, NewAuditRecord(ActionTokenRefresh, consumed.Principal, ipAddress, userAgent))

	return pair, nil
}

// VerifyEmailResult reports the activated principal.
type VerifyEmailResult struct {
	PrincipalID ulid.ULID
	Email       string
}

// VerifyEmail activates an external principal using a signed verification
// token. The token stays valid until expiry (it is stateless, not a
// single-use row), so a repeat presentation after activation fails with
// ErrAlreadyVerified rather than succeeding twice.
func (s *AuthService) VerifyEmail(ctx context.Context, token, ipAddress, userAgent string) (*VerifyEmailResult, error) {
	claims, err := s.tokens.VerifyAccessToken(token)
	if err != nil {
		return nil, err
	}
	if claims.Action != ActionVerifyEmail {
		return nil, oops.Code("VERIFY_TOKEN_INVALID").Wrap(ErrTokenInvalid)
	}
	ref, err := claims.Ref()
	if err != nil {
		return nil, err
	}
	if ref.Kind != KindExternal {
		return nil, oops.Code("VERIFY_TOKEN_INVALID").Wrap(ErrTokenInvalid)
	}

	principal, err := s.external.GetByID(ctx, ref.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code("VERIFY_TOKEN_INVALID").Wrap(ErrTokenInvalid)
		}
		return nil, oops.Code("VERIFY_FAILED").
			With("operation", "get principal by id").
			Wrap(err)
	}
	if principal.IsDeleted() {
		return nil, oops.Code("VERIFY_TOKEN_INVALID").Wrap(ErrTokenInvalid)
	}
	if principal.Active {
		return nil, oops.Code("VERIFY_ALREADY_DONE").Wrap(ErrAlreadyVerified)
	}

	principal.Active = true
	principal.UpdatedAt = time.Now()
	if err := s.external.Update(ctx, principal); err != nil {
		return nil, oops.Code("VERIFY_FAILED").
			With("operation", "activate principal").
			With("principal_id", principal.ID.String()).
			Wrap(err)
	}

	s.recordAudit(ctx, NewAuditRecord(ActionEmailVerify, ref, ipAddress, userAgent))

	return &VerifyEmailResult{PrincipalID: principal.ID, Email: principal.Email}, nil
}

// recordAudit appends an audit record. The state transition already
// committed, so a sink failure is logged rather than unwinding the caller.
func (s *AuthService) recordAudit(ctx context.Context, record *AuditRecord) {
	if err := s.audit.Append(ctx, record); err != nil {
		errutil.LogError(s.logger, "audit append failed", err)
	}
}
