// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 GateWarden Contributors

// Package store provides database connectivity and schema management.
package store

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

const (
	pingBackoffBase = 250 * time.Millisecond
	pingMaxRetries  = 5
)

// DefaultCallTimeout bounds individual store calls when the configuration
// leaves store.timeout zero.
const DefaultCallTimeout = 5 * time.Second

// applyCallTimeout bounds the initial dial and every statement server-side.
// Zero leaves the pool unbounded.
func applyCallTimeout(cfg *pgxpool.Config, callTimeout time.Duration) {
	if callTimeout <= 0 {
		return
	}
	cfg.ConnConfig.ConnectTimeout = callTimeout
	cfg.ConnConfig.RuntimeParams["statement_timeout"] = strconv.FormatInt(callTimeout.Milliseconds(), 10)
}

// Connect opens a pgx connection pool and verifies it with a ping.
// The ping is retried with exponential backoff so that the engine
// tolerates a database that is still starting up.
//
// callTimeout bounds every statement server-side (and the initial dial);
// statements that exceed it fail with a query_canceled error that the
// repositories surface as identity.ErrInfrastructureTimeout. Zero disables
// the bound.
func Connect(ctx context.Context, databaseURL string, callTimeout time.Duration, logger *slog.Logger) (*pgxpool.Pool, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, oops.Code("DB_CONFIG_INVALID").Wrap(err)
	}

	applyCallTimeout(cfg, callTimeout)

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").Wrap(err)
	}

	backoff := retry.WithMaxRetries(pingMaxRetries, retry.NewExponential(pingBackoffBase))
	attempt := 0
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if pingErr := pool.Ping(ctx); pingErr != nil {
			logger.Warn("database ping failed, retrying",
				"attempt", attempt,
				"error", pingErr)
			return retry.RetryableError(pingErr)
		}
		return nil
	})
	if err != nil {
		pool.Close()
		return nil, oops.Code("DB_PING_FAILED").With("attempts", attempt).Wrap(err)
	}

	return pool, nil
}
