// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 GateWarden Contributors

package identity

import (
	"crypto/ed25519"
	"crypto/x509"
	"encoding/pem"
	"os"

	"github.com/samber/oops"
)

// KeyPair holds the Ed25519 signing keypair loaded at startup. It is
// read-only after construction and safe for unsynchronized concurrent reads.
type KeyPair struct {
	Private ed25519.PrivateKey
	Public  ed25519.PublicKey
}

// LoadKeyPair reads a PEM-encoded Ed25519 keypair from disk.
func LoadKeyPair(privatePath, publicPath string) (*KeyPair, error) {
	privPEM, err := os.ReadFile(privatePath)
	if err != nil {
		return nil, oops.Code("KEY_READ_FAILED").
			With("path", privatePath).
			Wrap(err)
	}
	pubPEM, err := os.ReadFile(publicPath)
	if err != nil {
		return nil, oops.Code("KEY_READ_FAILED").
			With("path", publicPath).
			Wrap(err)
	}
	return ParseKeyPair(privPEM, pubPEM)
}

// ParseKeyPair parses a PEM-encoded PKCS#8 private key and PKIX public key.
// Both must be Ed25519.
func ParseKeyPair(privPEM, pubPEM []byte) (*KeyPair, error) {
	privBlock, _ := pem.Decode(privPEM)
	if privBlock == nil {
		return nil, oops.Code("KEY_PARSE_FAILED").Errorf("no PEM block in private key")
	}
	privAny, err := x509.ParsePKCS8PrivateKey(privBlock.Bytes)
	if err != nil {
		return nil, oops.Code("KEY_PARSE_FAILED").
			With("operation", "parse PKCS#8 private key").
			Wrap(err)
	}
	priv, ok := privAny.(ed25519.PrivateKey)
	if !ok {
		return nil, oops.Code("KEY_PARSE_FAILED").Errorf("private key is not Ed25519")
	}

	pubBlock, _ := pem.Decode(pubPEM)
	if pubBlock == nil {
		return nil, oops.Code("KEY_PARSE_FAILED").Errorf("no PEM block in public key")
	}
	pubAny, err := x509.ParsePKIXPublicKey(pubBlock.Bytes)
	if err != nil {
		return nil, oops.Code("KEY_PARSE_FAILED").
			With("operation", "parse PKIX public key").
			Wrap(err)
	}
	pub, ok := pubAny.(ed25519.PublicKey)
	if !ok {
		return nil, oops.Code("KEY_PARSE_FAILED").Errorf("public key is not Ed25519")
	}

	return &KeyPair{Private: priv, Public: pub}, nil
}

// GenerateKeyPair creates a fresh Ed25519 keypair and returns it PEM-encoded
// (PKCS#8 private, PKIX public). Used by the keygen CLI command.
func GenerateKeyPair() (privPEM, pubPEM []byte, err error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, nil, oops.Code("KEY_GENERATE_FAILED").Wrap(err)
	}

	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, nil, oops.Code("KEY_GENERATE_FAILED").
			With("operation", "marshal PKCS#8 private key").
			Wrap(err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, nil, oops.Code("KEY_GENERATE_FAILED").
			With("operation", "marshal PKIX public key").
			Wrap(err)
	}

	privPEM = pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER})
	pubPEM = pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	return privPEM, pubPEM, nil
}
