// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 GateWarden Contributors

package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/gatewarden/gatewarden/internal/store"
)

// SchemaStatus reports the migration state of the database.
type SchemaStatus struct {
	Version uint     `json:"version"`
	Dirty   bool     `json:"dirty"`
	Applied []string `json:"applied"`
	Pending []string `json:"pending"`
}

// statusConfig holds flag state for the status command.
type statusConfig struct {
	jsonOutput bool
}

// newStatusCmd creates the status subcommand.
func newStatusCmd() *cobra.Command {
	sc := &statusConfig{}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show database schema status",
		Long:  `Show the current migration version and any pending migrations.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd, sc)
		},
	}

	cmd.Flags().String("database_url", "", "PostgreSQL connection URL")
	cmd.Flags().BoolVar(&sc.jsonOutput, "json", false, "output status as JSON")

	return cmd
}

func runStatus(cmd *cobra.Command, sc *statusConfig) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	migrator, err := store.NewMigrator(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer migrator.Close() //nolint:errcheck

	status, err := collectSchemaStatus(migrator)
	if err != nil {
		return err
	}

	var output string
	if sc.jsonOutput {
		output, err = formatStatusJSON(status)
		if err != nil {
			return err
		}
	} else {
		output = formatStatusTable(status)
	}

	cmd.Println(output)
	return nil
}

// collectSchemaStatus gathers version and migration-name information.
func collectSchemaStatus(migrator *store.Migrator) (*SchemaStatus, error) {
	version, dirty, err := migrator.Version()
	if err != nil {
		return nil, err
	}

	applied, err := migrator.AppliedMigrations()
	if err != nil {
		return nil, err
	}
	pending, err := migrator.PendingMigrations()
	if err != nil {
		return nil, err
	}

	status := &SchemaStatus{Version: version, Dirty: dirty}
	status.Applied, err = migrationNames(applied)
	if err != nil {
		return nil, err
	}
	status.Pending, err = migrationNames(pending)
	if err != nil {
		return nil, err
	}
	return status, nil
}

func migrationNames(versions []uint) ([]string, error) {
	names := make([]string, 0, len(versions))
	for _, v := range versions {
		name, err := store.MigrationName(v)
		if err != nil {
			return nil, err
		}
		if name == "" {
			name = fmt.Sprintf("%06d_unknown", v)
		}
		names = append(names, name)
	}
	return names, nil
}

func formatStatusJSON(status *SchemaStatus) (string, error) {
	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to format JSON: %w", err)
	}
	return string(data), nil
}

func formatStatusTable(status *SchemaStatus) string {
	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)

	fmt.Fprintf(w, "Schema version:\t%d\n", status.Version)
	if status.Dirty {
		fmt.Fprintf(w, "State:\tDIRTY (manual intervention required)\n")
	} else {
		fmt.Fprintf(w, "State:\tclean\n")
	}
	for _, name := range status.Applied {
		fmt.Fprintf(w, "Applied:\t%s\n", name)
	}
	for _, name := range status.Pending {
		fmt.Fprintf(w, "Pending:\t%s\n", name)
	}
	if len(status.Pending) == 0 {
		fmt.Fprintf(w, "Pending:\tnone\n")
	}

	_ = w.Flush()
	return strings.TrimRight(b.String(), "\n")
}
