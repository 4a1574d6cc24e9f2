// Copyright 2026 The Caretaker Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/user"

	"github.com/caretaker-app/caretaker/lib/audit"
	"github.com/caretaker-app/caretaker/lib/authproof"
	"github.com/caretaker-app/caretaker/lib/catalog"
	"github.com/caretaker-app/caretaker/lib/clock"
	"github.com/caretaker-app/caretaker/lib/config"
	"github.com/caretaker-app/caretaker/lib/execute"
	"github.com/caretaker-app/caretaker/lib/helperclient"
	"github.com/caretaker-app/caretaker/lib/installer"
	"github.com/caretaker-app/caretaker/lib/permission"
	"github.com/caretaker-app/caretaker/lib/preflight"
)

// app wires the full capability stack for one CLI invocation: catalog,
// preflight engine, both executors, the helper channel, and the
// caller-side audit store.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	catalog   *catalog.Catalog
	store     *audit.Store
	client    *helperclient.Client
	installer *installer.Installer
	engine    *preflight.Engine
	runner    *helperclient.Runner
	proofs    helperclient.LocalProofSource
}

// buildApp loads configuration and assembles every component. The
// returned app owns the audit store; callers must Close it.
func buildApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	// CLI invocations log warnings and errors only; JSON lines on
	// stderr stay out of the way of command output on stdout.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	cat, err := catalog.Load(cfg.Paths.Catalog, logger)
	if err != nil {
		return nil, err
	}

	store, err := audit.Open(cfg.Paths.AuditLog, logger)
	if err != nil {
		return nil, err
	}

	public, private, err := loadOrCreateKeypair(cfg.Paths.StateDir)
	if err != nil {
		store.Close()
		return nil, err
	}

	clk := clock.Real()
	center := permission.NewCenter(permission.NewSystemProber(cfg.Paths.HelperSocket), clk, logger)
	engine := preflight.NewEngine(preflight.NewSystemProbes(), center)

	executor := execute.New(execute.Config{
		Store:          store,
		Clock:          clk,
		Logger:         logger,
		DefaultTimeout: cfg.Execute.DefaultTimeout,
		MaxOutputBytes: cfg.Execute.MaxOutputBytes,
	})

	client := helperclient.NewClient(cfg.Paths.HelperSocket)

	inst, err := installer.New(installer.Config{
		SourcePath: cfg.Paths.HelperSource,
		InstallDir: cfg.Paths.HelperInstallDir,
		Client:     client,
		PublicKey:  public,
		Clock:      clk,
		Logger:     logger,
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	proofs := helperclient.LocalProofSource{Public: public, Private: private, Clock: clk}

	runner := helperclient.NewRunner(helperclient.RunnerConfig{
		Catalog:  cat,
		Engine:   engine,
		Executor: executor,
		Client:   client,
		Checker:  inst,
		Proofs:   proofs,
		Logger:   logger,
	})

	return &app{
		cfg:       cfg,
		logger:    logger,
		catalog:   cat,
		store:     store,
		client:    client,
		installer: inst,
		engine:    engine,
		runner:    runner,
		proofs:    proofs,
	}, nil
}

// Close releases the app's resources.
func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("closing audit store", "error", err)
	}
}

// loadOrCreateKeypair returns the proof signing keypair from the state
// directory, generating and persisting one on first use.
func loadOrCreateKeypair(stateDir string) (ed25519.PublicKey, ed25519.PrivateKey, error) {
	if stateDir == "" {
		return nil, nil, fmt.Errorf("paths.state_dir is not configured")
	}

	public, private, err := authproof.LoadKeypair(stateDir)
	if err == nil {
		return public, private, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, nil, err
	}

	if err := os.MkdirAll(stateDir, 0o700); err != nil {
		return nil, nil, fmt.Errorf("creating state directory: %w", err)
	}
	public, private, err = authproof.GenerateKeypair()
	if err != nil {
		return nil, nil, err
	}
	if err := authproof.SaveKeypair(stateDir, public, private); err != nil {
		return nil, nil, err
	}
	return public, private, nil
}

// currentRequester names the invoking user for audit records.
func currentRequester() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return fmt.Sprintf("uid:%d", os.Getuid())
}
