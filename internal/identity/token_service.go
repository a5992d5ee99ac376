// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 GateWarden Contributors

package identity

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Token service defaults. Both TTLs are operator-configured; these apply
// when the config leaves them zero.
const (
	DefaultAccessTokenTTL  = 15 * time.Minute
	DefaultRefreshTokenTTL = 30 * 24 * time.Hour // 30 days
)

// ActionVerifyEmail tags access tokens minted for email verification links.
const ActionVerifyEmail = "verify_email"

// AccessClaims are the claims carried by a signed access token.
type AccessClaims struct {
	Kind   PrincipalKind `json:"kind"`
	Action string        `json:"act,omitempty"`
	jwt.RegisteredClaims
}

// Ref returns the principal reference encoded in the claims' subject.
func (c *AccessClaims) Ref() (PrincipalRef, error) {
	return ParseSubject(c.Subject)
}

// TokenPair is the result of a login or a refresh rotation.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// TokenService signs and verifies access tokens and manages the refresh
// token lifecycle. The keypair is read-only after construction.
type TokenService struct {
	keys       *KeyPair
	refresh    RefreshTokenRepository
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	logger     *slog.Logger
}

// TokenServiceConfig carries the operator-configured token parameters.
type TokenServiceConfig struct {
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// NewTokenService creates a TokenService.
func NewTokenService(keys *KeyPair, refresh RefreshTokenRepository, cfg TokenServiceConfig) (*TokenService, error) {
	return NewTokenServiceWithLogger(keys, refresh, cfg, slog.Default())
}

// NewTokenServiceWithLogger creates a TokenService with a custom logger.
func NewTokenServiceWithLogger(keys *KeyPair, refresh RefreshTokenRepository, cfg TokenServiceConfig, logger *slog.Logger) (*TokenService, error) {
	if keys == nil {
		return nil, oops.Code("TOKEN_SERVICE_INVALID").Errorf("keypair is required")
	}
	if refresh == nil {
		return nil, oops.Code("TOKEN_SERVICE_INVALID").Errorf("refresh token repository is required")
	}
	if logger == nil {
		return nil, oops.Code("TOKEN_SERVICE_INVALID").Errorf("logger is required")
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "gatewarden"
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = DefaultAccessTokenTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = DefaultRefreshTokenTTL
	}
	return &TokenService{
		keys:       keys,
		refresh:    refresh,
		issuer:     cfg.Issuer,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		logger:     logger,
	}, nil
}

// IssueAccessToken signs a short-lived access token for the principal.
// action tags special-purpose tokens (email verification); pass "" for
// ordinary bearer tokens. Signing has no side effects.
func (s *TokenService) IssueAccessToken(principal PrincipalRef, action string) (string, error) {
	if principal.IsZero() {
		return "", oops.Code("ACCESS_TOKEN_ISSUE_FAILED").Errorf("principal ref cannot be zero")
	}

	now := time.Now().UTC()
	claims := AccessClaims{
		Kind:   principal.Kind,
		Action: action,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   principal.Subject(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
			ID:        ulid.Make().String(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	signed, err := token.SignedString(s.keys.Private)
	if err != nil {
		return "", oops.Code("ACCESS_TOKEN_ISSUE_FAILED").
			With("operation", "sign token").
			Wrap(err)
	}
	return signed, nil
}

// VerifyAccessToken verifies signature and expiry. Bad signature, malformed
// structure, and expiry all surface as ErrTokenInvalid; the distinction is
// intentionally not observable to callers.
func (s *TokenService) VerifyAccessToken(token string) (*AccessClaims, error) {
	if token == "" {
		return nil, oops.Code("ACCESS_TOKEN_INVALID").Wrap(ErrTokenInvalid)
	}

	parsed, err := jwt.ParseWithClaims(token, &AccessClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodEdDSA {
			return nil, oops.Code("ACCESS_TOKEN_INVALID").Errorf("unexpected signing method: %v", t.Method.Alg())
		}
		return s.keys.Public, nil
	}, jwt.WithIssuer(s.issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, oops.Code("ACCESS_TOKEN_INVALID").Wrap(ErrTokenInvalid)
	}

	claims, ok := parsed.Claims.(*AccessClaims)
	if !ok || !parsed.Valid {
		return nil, oops.Code("ACCESS_TOKEN_INVALID").Wrap(ErrTokenInvalid)
	}
	if _, err := ParseSubject(claims.Subject); err != nil {
		return nil, oops.Code("ACCESS_TOKEN_INVALID").Wrap(ErrTokenInvalid)
	}
	return claims, nil
}

// IssueRefreshToken mints a new opaque refresh token bound to the session
// and returns the raw value. Only the hash is persisted.
func (s *TokenService) IssueRefreshToken(ctx context.Context, principal PrincipalRef, sessionID ulid.ULID) (string, error) {
	raw, hash, err := GenerateOpaqueToken()
	if err != nil {
		return "", oops.Code("REFRESH_ISSUE_FAILED").
			With("operation", "generate opaque token").
			Wrap(err)
	}

	token, err := NewRefreshToken(principal, sessionID, hash, time.Now().Add(s.refreshTTL))
	if err != nil {
		return "", oops.Code("REFRESH_ISSUE_FAILED").
			With("operation", "build refresh token").
			Wrap(err)
	}

	if err := s.refresh.Create(ctx, token); err != nil {
		return "", oops.Code("REFRESH_ISSUE_FAILED").
			With("operation", "persist refresh token").
			With("session_id", sessionID.String()).
			Wrap(err)
	}

	return raw, nil
}

// Rotate exchanges a presented refresh token for a new access/refresh pair,
// consuming the presented value. Two concurrent rotations of the same raw
// value cannot both succeed: the repository runs the lookup-assert-revoke-
// insert sequence in one transaction and the loser observes ErrTokenInvalid.
// Returns the pair and the consumed row (for session binding and audit).
func (s *TokenService) Rotate(ctx context.Context, presented string) (*TokenPair, *RefreshToken, error) {
	if presented == "" {
		Rotations.WithLabelValues(OutcomeDenied).Inc()
		return nil, nil, oops.Code("REFRESH_INVALID").Wrap(ErrTokenInvalid)
	}

	presentedHash := HashOpaqueToken(presented)

	raw, replacementHash, err := GenerateOpaqueToken()
	if err != nil {
		Rotations.WithLabelValues(OutcomeError).Inc()
		return nil, nil, oops.Code("REFRESH_ROTATE_FAILED").
			With("operation", "generate replacement token").
			Wrap(err)
	}

	consumed, _, err := s.refresh.Rotate(ctx, presentedHash, replacementHash, time.Now().Add(s.refreshTTL))
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			Rotations.WithLabelValues(OutcomeDenied).Inc()
			return nil, nil, oops.Code("REFRESH_INVALID").Wrap(ErrTokenInvalid)
		case errors.Is(err, ErrTokenRevoked):
			// A consumed token was presented again: replay or theft.
			ReplayDetections.Inc()
			Rotations.WithLabelValues(OutcomeDenied).Inc()
			s.logger.WarnContext(ctx, "revoked refresh token presented",
				"token_hash", presentedHash,
			)
			return nil, nil, oops.Code("REFRESH_REPLAYED").Wrap(ErrTokenInvalid)
		case errors.Is(err, ErrTokenExpired):
			Rotations.WithLabelValues(OutcomeDenied).Inc()
			return nil, nil, oops.Code("REFRESH_EXPIRED").Wrap(ErrTokenExpired)
		default:
			Rotations.WithLabelValues(OutcomeError).Inc()
			return nil, nil, oops.Code("REFRESH_ROTATE_FAILED").
				With("operation", "rotate refresh token").
				Wrap(err)
		}
	}

	access, err := s.IssueAccessToken(consumed.Principal, "")
	if err != nil {
		Rotations.WithLabelValues(OutcomeError).Inc()
		return nil, nil, oops.Code("REFRESH_ROTATE_FAILED").
			With("operation", "issue access token").
			Wrap(err)
	}

	Rotations.WithLabelValues(OutcomeSuccess).Inc()
	return &TokenPair{AccessToken: access, RefreshToken: raw}, consumed, nil
}

// RevokeSessionTokens revokes every active refresh token for the session.
// Idempotent.
func (s *TokenService) RevokeSessionTokens(ctx context.Context, sessionID ulid.ULID) error {
	if _, err := s.refresh.RevokeBySession(ctx, sessionID, time.Now()); err != nil {
		return oops.Code("REFRESH_REVOKE_FAILED").
			With("session_id", sessionID.String()).
			Wrap(err)
	}
	return nil
}

// AccessTokenTTL reports the configured access token lifetime.
func (s *TokenService) AccessTokenTTL() time.Duration {
	return s.accessTTL
}
