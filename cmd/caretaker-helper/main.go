// Copyright 2026 The Caretaker Authors
// SPDX-License-Identifier: Apache-2.0

// Command caretaker-helper is the privileged helper daemon. It runs as
// root, listens on a Unix socket, and executes allowlisted maintenance
// commands for callers that present a valid authorization proof.
//
// The trust-root public key is compiled in via -ldflags:
//
//	go build -ldflags "-X main.compiledPublicKeyHex=$(xxd -p -c 64 proof-signing-key.pub)"
//
// For development builds the key may instead be loaded from a file
// with --public-key.
package main

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/caretaker-app/caretaker/helper"
	"github.com/caretaker-app/caretaker/lib/audit"
	"github.com/caretaker-app/caretaker/lib/version"
)

// compiledPublicKeyHex is the hex-encoded Ed25519 trust-root key,
// injected at build time. Release builds must set it; a helper with no
// key refuses to start rather than accept unverifiable proofs.
var compiledPublicKeyHex string

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		socketPath    string
		auditDBPath   string
		allowedUID    uint
		publicKeyFile string
		showVersion   bool
	)

	flag.StringVar(&socketPath, "socket", "/var/run/caretaker/helper.sock", "Unix socket to listen on")
	flag.StringVar(&auditDBPath, "audit-db", "/var/db/caretaker/helper-audit.db", "system-level audit database")
	flag.UintVar(&allowedUID, "allowed-uid", 0, "non-root uid admitted on the socket (required)")
	flag.StringVar(&publicKeyFile, "public-key", "", "trust-root public key file (development builds only)")
	flag.BoolVar(&showVersion, "version", false, "print version information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("caretaker-helper %s\n", version.Info())
		return nil
	}

	if allowedUID == 0 {
		return fmt.Errorf("--allowed-uid is required")
	}

	publicKey, err := trustRootKey(publicKeyFile)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := audit.Open(auditDBPath, logger)
	if err != nil {
		return fmt.Errorf("opening audit store: %w", err)
	}
	defer store.Close()

	service, err := helper.New(helper.Config{
		SocketPath: socketPath,
		PublicKey:  publicKey,
		Store:      store,
		Logger:     logger,
		AllowedUID: uint32(allowedUID),
		Version:    version.Short(),
	})
	if err != nil {
		return err
	}

	logger.Info("helper starting",
		"socket", socketPath,
		"audit_db", auditDBPath,
		"allowed_uid", allowedUID,
		"version", version.Info(),
	)

	return service.Serve(ctx)
}

// trustRootKey resolves the proof verification key: the compiled-in
// key when present, otherwise a development key file.
func trustRootKey(publicKeyFile string) (ed25519.PublicKey, error) {
	if compiledPublicKeyHex != "" {
		key, err := hex.DecodeString(compiledPublicKeyHex)
		if err != nil {
			return nil, fmt.Errorf("compiled-in public key: %w", err)
		}
		if len(key) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("compiled-in public key has %d bytes, want %d",
				len(key), ed25519.PublicKeySize)
		}
		return ed25519.PublicKey(key), nil
	}

	if publicKeyFile == "" {
		return nil, fmt.Errorf("no trust-root key: this build has none compiled in and --public-key was not given")
	}
	key, err := os.ReadFile(publicKeyFile)
	if err != nil {
		return nil, fmt.Errorf("reading public key: %w", err)
	}
	if len(key) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("public key %s has %d bytes, want %d",
			publicKeyFile, len(key), ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(key), nil
}
