// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 GateWarden Contributors

// Package config loads engine configuration from an optional YAML file
// with command-line flag overrides.
package config

import (
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/gatewarden/gatewarden/internal/identity"
	"github.com/gatewarden/gatewarden/internal/store"
)

// Config is the full engine configuration.
type Config struct {
	DatabaseURL string `koanf:"database_url"`
	Log         Log    `koanf:"log"`
	Store       Store  `koanf:"store"`
	Keys        Keys   `koanf:"keys"`
	Tokens      Tokens `koanf:"tokens"`
	Hasher      Hasher `koanf:"hasher"`
	Links       Links  `koanf:"links"`
}

// Log controls the slog handler.
type Log struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// Store bounds database calls. A statement exceeding Timeout fails with
// identity.ErrInfrastructureTimeout.
type Store struct {
	Timeout time.Duration `koanf:"timeout"`
}

// Keys points at the Ed25519 signing keypair on disk.
type Keys struct {
	PrivatePath string `koanf:"private_path"`
	PublicPath  string `koanf:"public_path"`
}

// Tokens carries issuer and lifetime settings for the token service.
type Tokens struct {
	Issuer     string        `koanf:"issuer"`
	AccessTTL  time.Duration `koanf:"access_ttl"`
	RefreshTTL time.Duration `koanf:"refresh_ttl"`
	ResetTTL   time.Duration `koanf:"reset_ttl"`
}

// Hasher carries argon2id cost parameters.
type Hasher struct {
	Time    uint32 `koanf:"time"`
	Memory  uint32 `koanf:"memory"`
	Threads uint8  `koanf:"threads"`
}

// Links are the base URLs embedded in verification and reset emails.
type Links struct {
	VerificationBaseURL string `koanf:"verification_base_url"`
	ResetBaseURL        string `koanf:"reset_base_url"`
}

// Defaults returns the configuration used when neither file nor flags
// override a setting. The database URL has no default; it must be set.
func Defaults() Config {
	hp := identity.DefaultHasherParams()
	return Config{
		Log: Log{
			Level:  "info",
			Format: "text",
		},
		Store: Store{
			Timeout: store.DefaultCallTimeout,
		},
		Keys: Keys{
			PrivatePath: "gatewarden_ed25519.pem",
			PublicPath:  "gatewarden_ed25519.pub.pem",
		},
		Tokens: Tokens{
			Issuer:     "gatewarden",
			AccessTTL:  identity.DefaultAccessTokenTTL,
			RefreshTTL: identity.DefaultRefreshTokenTTL,
			ResetTTL:   identity.ResetTokenTTL,
		},
		Hasher: Hasher{
			Time:    hp.Time,
			Memory:  hp.Memory,
			Threads: hp.Threads,
		},
	}
}

// Load builds a Config from defaults, then the YAML file at path (if
// non-empty), then any set flags. Flag names use dots matching the
// koanf key paths (e.g. --tokens.issuer).
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_FILE_INVALID").With("path", path).Wrap(err)
		}
	}

	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
			return nil, oops.Code("CONFIG_FLAGS_INVALID").Wrap(err)
		}
	}

	cfg := Defaults()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code("CONFIG_INVALID").Wrap(err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks settings that would otherwise fail far from their cause.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return oops.Code("CONFIG_INVALID").Errorf("database_url is required")
	}
	if c.Tokens.AccessTTL < 0 || c.Tokens.RefreshTTL < 0 || c.Tokens.ResetTTL < 0 {
		return oops.Code("CONFIG_INVALID").Errorf("token lifetimes must not be negative")
	}
	if c.Store.Timeout < 0 {
		return oops.Code("CONFIG_INVALID").Errorf("store timeout must not be negative")
	}
	if c.Tokens.AccessTTL > 0 && c.Tokens.RefreshTTL > 0 && c.Tokens.AccessTTL >= c.Tokens.RefreshTTL {
		return oops.Code("CONFIG_INVALID").
			With("access_ttl", c.Tokens.AccessTTL.String()).
			With("refresh_ttl", c.Tokens.RefreshTTL.String()).
			Errorf("access token lifetime must be shorter than refresh token lifetime")
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return oops.Code("CONFIG_INVALID").With("format", c.Log.Format).
			Errorf("log format must be text or json")
	}
	return nil
}

// HasherParams converts the configured costs into identity parameters.
// Zero-valued fields keep their defaults.
func (c *Config) HasherParams() identity.HasherParams {
	p := identity.DefaultHasherParams()
	if c.Hasher.Time > 0 {
		p.Time = c.Hasher.Time
	}
	if c.Hasher.Memory > 0 {
		p.Memory = c.Hasher.Memory
	}
	if c.Hasher.Threads > 0 {
		p.Threads = c.Hasher.Threads
	}
	return p
}
