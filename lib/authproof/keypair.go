// Copyright 2026 The Caretaker Authors
// SPDX-License-Identifier: Apache-2.0

package authproof

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

const (
	privateKeyFile = "proof-signing-key"
	publicKeyFile  = "proof-signing-key.pub"
)

// GenerateKeypair creates a new Ed25519 keypair for proof signing.
func GenerateKeypair() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generating Ed25519 keypair: %w", err)
	}
	return public, private, nil
}

// KeyID derives the stable identifier for a public key: the first 16
// hex characters of its SHA-256 digest. Carried in each proof so the
// helper can associate a cancellation with the authorization that
// started the execution.
func KeyID(public ed25519.PublicKey) string {
	digest := sha256.Sum256(public)
	return hex.EncodeToString(digest[:8])
}

// SaveKeypair writes an Ed25519 keypair to the broker's state
// directory. The private key file has 0600 permissions; the public
// key file has 0644.
func SaveKeypair(stateDir string, public ed25519.PublicKey, private ed25519.PrivateKey) error {
	privatePath := filepath.Join(stateDir, privateKeyFile)
	if err := os.WriteFile(privatePath, private, 0o600); err != nil {
		return fmt.Errorf("writing private key: %w", err)
	}

	publicPath := filepath.Join(stateDir, publicKeyFile)
	if err := os.WriteFile(publicPath, public, 0o644); err != nil {
		return fmt.Errorf("writing public key: %w", err)
	}

	return nil
}

// LoadKeypair loads an Ed25519 keypair from the state directory.
// Returns an error if either file is missing or has an unexpected
// size.
func LoadKeypair(stateDir string) (ed25519.PublicKey, ed25519.PrivateKey, error) {
	privateBytes, err := os.ReadFile(filepath.Join(stateDir, privateKeyFile))
	if err != nil {
		return nil, nil, fmt.Errorf("reading private key: %w", err)
	}
	if len(privateBytes) != ed25519.PrivateKeySize {
		return nil, nil, fmt.Errorf("private key has %d bytes, want %d", len(privateBytes), ed25519.PrivateKeySize)
	}

	publicBytes, err := os.ReadFile(filepath.Join(stateDir, publicKeyFile))
	if err != nil {
		return nil, nil, fmt.Errorf("reading public key: %w", err)
	}
	if len(publicBytes) != ed25519.PublicKeySize {
		return nil, nil, fmt.Errorf("public key has %d bytes, want %d", len(publicBytes), ed25519.PublicKeySize)
	}

	return ed25519.PublicKey(publicBytes), ed25519.PrivateKey(privateBytes), nil
}

// LoadPublicKey loads only the public half, for verifiers (the helper)
// that must never hold the minting key.
func LoadPublicKey(stateDir string) (ed25519.PublicKey, error) {
	publicBytes, err := os.ReadFile(filepath.Join(stateDir, publicKeyFile))
	if err != nil {
		return nil, fmt.Errorf("reading public key: %w", err)
	}
	if len(publicBytes) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("public key has %d bytes, want %d", len(publicBytes), ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(publicBytes), nil
}
