// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 GateWarden Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/gatewarden/gatewarden/internal/config"
	"github.com/gatewarden/gatewarden/internal/logging"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the GateWarden CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gatewarden",
		Short: "GateWarden - credential and session lifecycle engine",
		Long: `GateWarden issues, refreshes and revokes credentials for external
organization users and internal staff, with rotation-based refresh
tokens, password reset and a persistent audit trail.`,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")

	cmd.AddCommand(newMigrateCmd())
	cmd.AddCommand(newKeygenCmd())
	cmd.AddCommand(newStatusCmd())

	return cmd
}

// loadConfig resolves configuration for commands that need the database.
// Flags registered on the command overlay the YAML file.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return nil, err
	}
	logging.SetDefault("gatewarden", version, cfg.Log.Format, cfg.Log.Level)
	return cfg, nil
}
