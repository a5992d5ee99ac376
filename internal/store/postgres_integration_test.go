// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 GateWarden Contributors

//go:build integration

package store_test

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/gatewarden/gatewarden/internal/identity"
	identitypg "github.com/gatewarden/gatewarden/internal/identity/postgres"
	"github.com/gatewarden/gatewarden/internal/store"
)

// setupPostgres starts a PostgreSQL container, connects a pool and
// applies all migrations.
func setupPostgres() (*pgxpool.Pool, func(), error) {
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("gatewarden_test"),
		postgres.WithUsername("gatewarden"),
		postgres.WithPassword("gatewarden"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return nil, nil, err
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return nil, nil, err
	}

	migrator, err := store.NewMigrator(connStr)
	if err != nil {
		return nil, nil, err
	}
	if err := migrator.Up(); err != nil {
		return nil, nil, err
	}
	_ = migrator.Close()

	pool, err := store.Connect(ctx, connStr, store.DefaultCallTimeout, nil)
	if err != nil {
		return nil, nil, err
	}

	cleanup := func() {
		pool.Close()
		_ = container.Terminate(ctx)
	}
	return pool, cleanup, nil
}

var _ = Describe("identity schema", func() {
	var pool *pgxpool.Pool
	var cleanup func()
	ctx := context.Background()

	BeforeEach(func() {
		var err error
		pool, cleanup, err = setupPostgres()
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		cleanup()
	})

	Describe("external principals", func() {
		It("round-trips through create and lookup", func() {
			repo := identitypg.NewExternalPrincipalRepository(pool)

			p, err := identity.NewExternalPrincipal("ada@example.com", "$argon2id$stub", "Ada")
			Expect(err).NotTo(HaveOccurred())
			Expect(repo.Create(ctx, p)).To(Succeed())

			got, err := repo.GetByEmail(ctx, "ada@example.com")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.ID).To(Equal(p.ID))
			Expect(got.Active).To(BeFalse())
		})

		It("rejects a duplicate live email", func() {
			repo := identitypg.NewExternalPrincipalRepository(pool)

			first, _ := identity.NewExternalPrincipal("dup@example.com", "$argon2id$stub", "")
			Expect(repo.Create(ctx, first)).To(Succeed())

			second, _ := identity.NewExternalPrincipal("dup@example.com", "$argon2id$stub", "")
			err := repo.Create(ctx, second)
			Expect(err).To(MatchError(identity.ErrPrincipalExists))
		})

		It("frees the email after soft deletion", func() {
			repo := identitypg.NewExternalPrincipalRepository(pool)

			first, _ := identity.NewExternalPrincipal("reuse@example.com", "$argon2id$stub", "")
			Expect(repo.Create(ctx, first)).To(Succeed())
			Expect(repo.SoftDelete(ctx, first.ID)).To(Succeed())

			second, _ := identity.NewExternalPrincipal("reuse@example.com", "$argon2id$stub", "")
			Expect(repo.Create(ctx, second)).To(Succeed())
		})
	})

	Describe("refresh token rotation", func() {
		It("revokes the presented token and rejects replay", func() {
			extRepo := identitypg.NewExternalPrincipalRepository(pool)
			sessRepo := identitypg.NewSessionRepository(pool)
			refreshRepo := identitypg.NewRefreshTokenRepository(pool)

			p, _ := identity.NewExternalPrincipal("rotate@example.com", "$argon2id$stub", "")
			Expect(extRepo.Create(ctx, p)).To(Succeed())

			sess, err := identity.NewSession(p.Ref(), "ua", "127.0.0.1")
			Expect(err).NotTo(HaveOccurred())
			Expect(sessRepo.Create(ctx, sess)).To(Succeed())

			_, firstHash, err := identity.GenerateOpaqueToken()
			Expect(err).NotTo(HaveOccurred())
			tok, err := identity.NewRefreshToken(p.Ref(), sess.ID, firstHash, time.Now().Add(time.Hour))
			Expect(err).NotTo(HaveOccurred())
			Expect(refreshRepo.Create(ctx, tok)).To(Succeed())

			_, secondHash, err := identity.GenerateOpaqueToken()
			Expect(err).NotTo(HaveOccurred())

			consumed, minted, err := refreshRepo.Rotate(ctx, firstHash, secondHash, time.Now().Add(time.Hour))
			Expect(err).NotTo(HaveOccurred())
			Expect(consumed.IsRevoked()).To(BeTrue())
			Expect(minted.SessionID).To(Equal(sess.ID))

			// Replaying the consumed hash must fail.
			_, thirdHash, _ := identity.GenerateOpaqueToken()
			_, _, err = refreshRepo.Rotate(ctx, firstHash, thirdHash, time.Now().Add(time.Hour))
			Expect(err).To(MatchError(identity.ErrTokenRevoked))
		})

		It("admits exactly one winner under concurrent presentation", func() {
			extRepo := identitypg.NewExternalPrincipalRepository(pool)
			sessRepo := identitypg.NewSessionRepository(pool)
			refreshRepo := identitypg.NewRefreshTokenRepository(pool)

			p, _ := identity.NewExternalPrincipal("race@example.com", "$argon2id$stub", "")
			Expect(extRepo.Create(ctx, p)).To(Succeed())

			sess, err := identity.NewSession(p.Ref(), "ua", "127.0.0.1")
			Expect(err).NotTo(HaveOccurred())
			Expect(sessRepo.Create(ctx, sess)).To(Succeed())

			_, presentedHash, err := identity.GenerateOpaqueToken()
			Expect(err).NotTo(HaveOccurred())
			tok, err := identity.NewRefreshToken(p.Ref(), sess.ID, presentedHash, time.Now().Add(time.Hour))
			Expect(err).NotTo(HaveOccurred())
			Expect(refreshRepo.Create(ctx, tok)).To(Succeed())

			const contenders = 8
			replacements := make([]string, contenders)
			for i := range replacements {
				_, h, genErr := identity.GenerateOpaqueToken()
				Expect(genErr).NotTo(HaveOccurred())
				replacements[i] = h
			}

			// All goroutines present the same hash; the row lock inside
			// Rotate serializes them.
			start := make(chan struct{})
			results := make(chan error, contenders)
			var wg sync.WaitGroup
			for i := 0; i < contenders; i++ {
				wg.Add(1)
				go func(replacement string) {
					defer wg.Done()
					<-start
					_, _, rotateErr := refreshRepo.Rotate(ctx, presentedHash, replacement, time.Now().Add(time.Hour))
					results <- rotateErr
				}(replacements[i])
			}
			close(start)
			wg.Wait()
			close(results)

			winners, losers := 0, 0
			for rotateErr := range results {
				if rotateErr == nil {
					winners++
					continue
				}
				losers++
				Expect(rotateErr).To(MatchError(identity.ErrTokenRevoked))
			}
			Expect(winners).To(Equal(1))
			Expect(losers).To(Equal(contenders - 1))

			// The winner's replacement is the only live descendant.
			var active int
			row := pool.QueryRow(ctx, `SELECT count(*) FROM refresh_tokens WHERE session_id = $1 AND revoked_at IS NULL`, sess.ID.String())
			Expect(row.Scan(&active)).To(Succeed())
			Expect(active).To(Equal(1))
		})
	})

	Describe("store call timeouts", func() {
		It("surfaces an exceeded deadline as an infrastructure timeout", func() {
			repo := identitypg.NewExternalPrincipalRepository(pool)

			expired, cancel := context.WithTimeout(ctx, time.Nanosecond)
			defer cancel()

			_, err := repo.GetByEmail(expired, "timeout@example.com")
			Expect(err).To(MatchError(identity.ErrInfrastructureTimeout))
		})
	})

	Describe("password reset tokens", func() {
		It("enforces single use", func() {
			extRepo := identitypg.NewExternalPrincipalRepository(pool)
			resetRepo := identitypg.NewPasswordResetTokenRepository(pool)

			p, _ := identity.NewExternalPrincipal("reset@example.com", "$argon2id$stub", "")
			Expect(extRepo.Create(ctx, p)).To(Succeed())

			_, hash, err := identity.GenerateOpaqueToken()
			Expect(err).NotTo(HaveOccurred())
			tok, err := identity.NewPasswordResetToken(p.ID, hash, time.Now().Add(time.Hour))
			Expect(err).NotTo(HaveOccurred())
			Expect(resetRepo.Create(ctx, tok)).To(Succeed())

			Expect(resetRepo.MarkUsed(ctx, tok.ID, time.Now())).To(Succeed())
			err = resetRepo.MarkUsed(ctx, tok.ID, time.Now())
			Expect(err).To(MatchError(identity.ErrTokenRevoked))
		})
	})
})
