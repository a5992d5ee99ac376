// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 GateWarden Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/gatewarden/gatewarden/internal/store"
)

// migrateConfig holds flag state for the migrate command.
type migrateConfig struct {
	down  bool
	steps int
	force int
}

// newMigrateCmd creates the migrate subcommand.
func newMigrateCmd() *cobra.Command {
	mc := &migrateConfig{force: -1}

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database schema migrations",
		Long: `Apply pending schema migrations to the PostgreSQL database.
Use --down to roll everything back, --steps to migrate a fixed number
of versions, or --force to recover from a dirty migration state.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrate(cmd, mc)
		},
	}

	cmd.Flags().String("database_url", "", "PostgreSQL connection URL")
	cmd.Flags().BoolVar(&mc.down, "down", false, "roll back all migrations (destructive)")
	cmd.Flags().IntVar(&mc.steps, "steps", 0, "apply exactly n migrations (negative rolls back)")
	cmd.Flags().IntVar(&mc.force, "force", -1, "set the schema version without running migrations")

	return cmd
}

func runMigrate(cmd *cobra.Command, mc *migrateConfig) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	migrator, err := store.NewMigrator(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer migrator.Close() //nolint:errcheck

	switch {
	case mc.force >= 0:
		if err := migrator.Force(mc.force); err != nil {
			return err
		}
		cmd.Printf("Schema version forced to %d\n", mc.force)
	case mc.down:
		if err := migrator.Down(); err != nil {
			return err
		}
		cmd.Println("All migrations rolled back")
	case mc.steps != 0:
		if err := migrator.Steps(mc.steps); err != nil {
			return err
		}
		cmd.Printf("Applied %d migration step(s)\n", mc.steps)
	default:
		pending, err := migrator.PendingMigrations()
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			cmd.Println("Schema is up to date")
			return nil
		}
		if err := migrator.Up(); err != nil {
			return err
		}
		cmd.Printf("Applied %d migration(s)\n", len(pending))
	}

	return nil
}
