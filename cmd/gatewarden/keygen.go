// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 GateWarden Contributors

package main

import (
	"os"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/gatewarden/gatewarden/internal/identity"
)

// keygenConfig holds flag state for the keygen command.
type keygenConfig struct {
	privatePath string
	publicPath  string
	overwrite   bool
}

// newKeygenCmd creates the keygen subcommand.
func newKeygenCmd() *cobra.Command {
	kc := &keygenConfig{}

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an Ed25519 signing keypair",
		Long: `Generate a new Ed25519 keypair for access token signing and write
it as PEM files. Existing files are never overwritten unless
--overwrite is given; rotating the key invalidates all outstanding
access tokens.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runKeygen(cmd, kc)
		},
	}

	cmd.Flags().StringVar(&kc.privatePath, "private", "gatewarden_ed25519.pem", "private key output path")
	cmd.Flags().StringVar(&kc.publicPath, "public", "gatewarden_ed25519.pub.pem", "public key output path")
	cmd.Flags().BoolVar(&kc.overwrite, "overwrite", false, "replace existing key files")

	return cmd
}

func runKeygen(cmd *cobra.Command, kc *keygenConfig) error {
	if !kc.overwrite {
		for _, path := range []string{kc.privatePath, kc.publicPath} {
			if _, err := os.Stat(path); err == nil {
				return oops.Code("KEYGEN_WOULD_OVERWRITE").With("path", path).
					Errorf("key file already exists, pass --overwrite to replace it")
			}
		}
	}

	privPEM, pubPEM, err := identity.GenerateKeyPair()
	if err != nil {
		return err
	}

	if err := os.WriteFile(kc.privatePath, privPEM, 0o600); err != nil {
		return oops.Code("KEYGEN_WRITE_FAILED").With("path", kc.privatePath).Wrap(err)
	}
	if err := os.WriteFile(kc.publicPath, pubPEM, 0o644); err != nil { //nolint:gosec // public key
		return oops.Code("KEYGEN_WRITE_FAILED").With("path", kc.publicPath).Wrap(err)
	}

	cmd.Printf("Private key written to %s\n", kc.privatePath)
	cmd.Printf("Public key written to %s\n", kc.publicPath)
	return nil
}
