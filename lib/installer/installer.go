// Copyright 2026 The Caretaker Authors
// SPDX-License-Identifier: Apache-2.0

package installer

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/caretaker-app/caretaker/lib/authproof"
	"github.com/caretaker-app/caretaker/lib/binhash"
	"github.com/caretaker-app/caretaker/lib/clock"
	"github.com/caretaker-app/caretaker/lib/execute"
	"github.com/caretaker-app/caretaker/lib/helperclient"
	"github.com/caretaker-app/caretaker/lib/version"
)

// Phase is the coarse installation state.
type Phase string

const (
	PhaseNotInstalled Phase = "not_installed"
	PhaseInstalled    Phase = "installed"
	PhaseOutdated     Phase = "outdated"
)

// State is the installer's verdict about the helper installation.
type State struct {
	Phase Phase

	// Version is the helper's version: the live helper's answer when
	// it is running, otherwise the manifest's record. Empty when not
	// installed.
	Version string
}

// manifest records what was installed, alongside the binary.
type manifest struct {
	Version string `json:"version"`
	SHA256  string `json:"sha256"`
}

const (
	helperBinaryName = "caretaker-helper"
	manifestName     = "manifest.json"
)

// Config assembles an Installer.
type Config struct {
	// SourcePath is the bundled helper binary to install from.
	SourcePath string

	// SourceVersion is the bundled helper's version, recorded in the
	// manifest at install time. Defaults to this build's version.
	SourceVersion string

	// InstallDir is the root-owned directory holding the installed
	// binary and its manifest.
	InstallDir string

	// Client talks to the live helper for version skew detection.
	Client *helperclient.Client

	// PublicKey verifies admin proofs gating Install and Uninstall.
	PublicKey ed25519.PublicKey

	// RequiredVersion is the minimum acceptable helper version.
	// Defaults to version.RequiredHelperVersion.
	RequiredVersion string

	Clock  clock.Clock
	Logger *slog.Logger
}

// Installer verifies and mutates the helper installation. It
// implements helperclient.InstallChecker.
type Installer struct {
	sourcePath      string
	sourceVersion   string
	installDir      string
	client          *helperclient.Client
	publicKey       ed25519.PublicKey
	requiredVersion string
	clock           clock.Clock
	logger          *slog.Logger
}

// New constructs an Installer.
func New(cfg Config) (*Installer, error) {
	if cfg.InstallDir == "" {
		return nil, errors.New("installer: Config.InstallDir is required")
	}
	if len(cfg.PublicKey) != ed25519.PublicKeySize {
		return nil, errors.New("installer: Config.PublicKey is required")
	}

	installer := &Installer{
		sourcePath:      cfg.SourcePath,
		sourceVersion:   cfg.SourceVersion,
		installDir:      cfg.InstallDir,
		client:          cfg.Client,
		publicKey:       cfg.PublicKey,
		requiredVersion: cfg.RequiredVersion,
		clock:           cfg.Clock,
		logger:          cfg.Logger,
	}
	if installer.sourceVersion == "" {
		installer.sourceVersion = version.Short()
	}
	if installer.requiredVersion == "" {
		installer.requiredVersion = version.RequiredHelperVersion
	}
	if installer.clock == nil {
		installer.clock = clock.Real()
	}
	if installer.logger == nil {
		installer.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return installer, nil
}

func (i *Installer) binaryPath() string   { return filepath.Join(i.installDir, helperBinaryName) }
func (i *Installer) manifestPath() string { return filepath.Join(i.installDir, manifestName) }

// Status inspects the installation. A digest mismatch between the
// installed binary and the manifest is an error, not a phase: it means
// the binary on disk is not the one that was installed.
func (i *Installer) Status(ctx context.Context) (State, error) {
	recorded, err := i.readManifest()
	if errors.Is(err, os.ErrNotExist) {
		return State{Phase: PhaseNotInstalled}, nil
	}
	if err != nil {
		return State{}, err
	}

	if _, err := os.Stat(i.binaryPath()); errors.Is(err, os.ErrNotExist) {
		return State{Phase: PhaseNotInstalled}, nil
	} else if err != nil {
		return State{}, fmt.Errorf("installer: checking helper binary: %w", err)
	}

	if err := binhash.VerifyFile(i.binaryPath(), recorded.SHA256); err != nil {
		return State{}, fmt.Errorf("installer: installed helper failed integrity check: %w", err)
	}

	// Prefer the live helper's own answer; fall back to the manifest
	// when the helper is not currently running.
	installedVersion := recorded.Version
	if i.client != nil {
		if live, err := i.client.Version(ctx); err == nil {
			installedVersion = live
		} else if !errors.Is(err, execute.ErrChannelUnavailable) {
			return State{}, fmt.Errorf("installer: querying helper version: %w", err)
		}
	}

	if version.Older(installedVersion, i.requiredVersion) {
		return State{Phase: PhaseOutdated, Version: installedVersion}, nil
	}
	return State{Phase: PhaseInstalled, Version: installedVersion}, nil
}

// Ready implements helperclient.InstallChecker: nil only when the
// installation is verified and current.
func (i *Installer) Ready(ctx context.Context) error {
	state, err := i.Status(ctx)
	if err != nil {
		return err
	}
	switch state.Phase {
	case PhaseInstalled:
		return nil
	case PhaseNotInstalled:
		return errors.New("helper is not installed")
	case PhaseOutdated:
		return fmt.Errorf("helper version %s is older than required %s; reinstall", state.Version, i.requiredVersion)
	}
	return fmt.Errorf("unknown install phase %q", state.Phase)
}

// Install copies the bundled helper into the install directory and
// records its manifest. Requires a fresh admin proof. Idempotent: a
// current, verified installation is left alone.
func (i *Installer) Install(ctx context.Context, proof []byte) error {
	if err := i.checkAdminProof(proof); err != nil {
		return err
	}

	sourceDigest, err := binhash.HashFile(i.sourcePath)
	if err != nil {
		return fmt.Errorf("installer: hashing source binary: %w", err)
	}
	sourceHex := binhash.FormatDigest(sourceDigest)

	// Already installed with identical bytes and version: nothing to
	// do.
	if recorded, err := i.readManifest(); err == nil &&
		recorded.SHA256 == sourceHex && recorded.Version == i.sourceVersion {
		if binhash.VerifyFile(i.binaryPath(), recorded.SHA256) == nil {
			i.logger.Info("helper already installed", "version", recorded.Version)
			return nil
		}
	}

	if err := os.MkdirAll(i.installDir, 0o755); err != nil {
		return fmt.Errorf("installer: creating install directory: %w", err)
	}

	if err := i.atomicCopy(i.sourcePath, i.binaryPath(), 0o755); err != nil {
		return err
	}

	manifestBytes, err := json.MarshalIndent(manifest{
		Version: i.sourceVersion,
		SHA256:  sourceHex,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("installer: encoding manifest: %w", err)
	}
	if err := i.atomicWrite(i.manifestPath(), manifestBytes, 0o644); err != nil {
		return err
	}

	i.logger.Info("helper installed",
		"version", i.sourceVersion, "sha256", sourceHex, "path", i.binaryPath())
	return nil
}

// Uninstall removes the helper binary and manifest. Requires a fresh
// admin proof. Removing an absent installation succeeds.
func (i *Installer) Uninstall(ctx context.Context, proof []byte) error {
	if err := i.checkAdminProof(proof); err != nil {
		return err
	}

	for _, path := range []string{i.binaryPath(), i.manifestPath()} {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("installer: removing %s: %w", path, err)
		}
	}

	i.logger.Info("helper uninstalled", "path", i.binaryPath())
	return nil
}

// checkAdminProof verifies the proof for the admin right. Install and
// uninstall never proceed on peer identity alone.
func (i *Installer) checkAdminProof(proof []byte) error {
	if _, err := authproof.VerifyAt(i.publicKey, proof, authproof.RightAdmin, i.clock.Now()); err != nil {
		return fmt.Errorf("%w: admin proof rejected: %v", execute.ErrPermissionDenied, err)
	}
	return nil
}

func (i *Installer) readManifest() (manifest, error) {
	data, err := os.ReadFile(i.manifestPath())
	if err != nil {
		return manifest{}, err
	}
	var recorded manifest
	if err := json.Unmarshal(data, &recorded); err != nil {
		return manifest{}, fmt.Errorf("installer: parsing manifest: %w", err)
	}
	return recorded, nil
}

// atomicCopy streams source to a temporary file next to destination,
// syncs it, then renames it into place.
func (i *Installer) atomicCopy(source, destination string, mode os.FileMode) error {
	input, err := os.Open(source)
	if err != nil {
		return fmt.Errorf("installer: opening source binary: %w", err)
	}
	defer input.Close()

	temporaryPath := destination + ".tmp"
	output, err := os.OpenFile(temporaryPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("installer: creating temporary file: %w", err)
	}

	if _, err := io.Copy(output, input); err != nil {
		output.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("installer: copying helper binary: %w", err)
	}
	return i.finishAtomic(output, temporaryPath, destination)
}

// atomicWrite writes data to a temporary file, syncs, and renames.
func (i *Installer) atomicWrite(destination string, data []byte, mode os.FileMode) error {
	temporaryPath := destination + ".tmp"
	output, err := os.OpenFile(temporaryPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("installer: creating temporary file: %w", err)
	}
	if _, err := output.Write(data); err != nil {
		output.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("installer: writing %s: %w", destination, err)
	}
	return i.finishAtomic(output, temporaryPath, destination)
}

// finishAtomic syncs and closes the temporary file, renames it into
// place, and syncs the parent directory so the rename survives power
// loss.
func (i *Installer) finishAtomic(output *os.File, temporaryPath, destination string) error {
	if err := output.Sync(); err != nil {
		output.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("installer: syncing %s: %w", temporaryPath, err)
	}
	if err := output.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("installer: closing %s: %w", temporaryPath, err)
	}
	if err := os.Rename(temporaryPath, destination); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("installer: renaming into place: %w", err)
	}
	if parent, err := os.Open(filepath.Dir(destination)); err == nil {
		parent.Sync()
		parent.Close()
	}
	return nil
}
