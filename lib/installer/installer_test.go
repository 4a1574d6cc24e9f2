// Copyright 2026 The Caretaker Authors
// SPDX-License-Identifier: Apache-2.0

package installer

import (
	"context"
	"crypto/ed25519"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/caretaker-app/caretaker/helper"
	"github.com/caretaker-app/caretaker/lib/audit"
	"github.com/caretaker-app/caretaker/lib/authproof"
	"github.com/caretaker-app/caretaker/lib/execute"
	"github.com/caretaker-app/caretaker/lib/helperclient"
	"github.com/caretaker-app/caretaker/lib/testutil"
)

type fixture struct {
	installer *Installer
	public    ed25519.PublicKey
	private   ed25519.PrivateKey
}

func newFixture(t *testing.T, mutate func(*Config)) *fixture {
	t.Helper()

	public, private, err := authproof.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}

	sourceDir := t.TempDir()
	sourcePath := filepath.Join(sourceDir, "caretaker-helper")
	if err := os.WriteFile(sourcePath, []byte("fake helper binary v1"), 0o755); err != nil {
		t.Fatalf("writing source binary: %v", err)
	}

	cfg := Config{
		SourcePath:      sourcePath,
		SourceVersion:   "0.1.0",
		InstallDir:      filepath.Join(t.TempDir(), "helpers"),
		PublicKey:       public,
		RequiredVersion: "0.1.0",
	}
	if mutate != nil {
		mutate(&cfg)
	}

	inst, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &fixture{installer: inst, public: public, private: private}
}

func (f *fixture) mint(t *testing.T, right string) []byte {
	t.Helper()
	proof, err := authproof.New(right, authproof.KeyID(f.public), time.Now())
	if err != nil {
		t.Fatalf("authproof.New: %v", err)
	}
	raw, err := authproof.Mint(f.private, proof)
	if err != nil {
		t.Fatalf("authproof.Mint: %v", err)
	}
	return raw
}

func TestStatusNotInstalled(t *testing.T) {
	f := newFixture(t, nil)

	state, err := f.installer.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if state.Phase != PhaseNotInstalled {
		t.Errorf("Phase = %q, want not_installed", state.Phase)
	}
	if err := f.installer.Ready(context.Background()); err == nil {
		t.Error("Ready should fail when not installed")
	}
}

func TestInstallThenStatus(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if err := f.installer.Install(ctx, f.mint(t, authproof.RightAdmin)); err != nil {
		t.Fatalf("Install: %v", err)
	}

	state, err := f.installer.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if state.Phase != PhaseInstalled {
		t.Errorf("Phase = %q, want installed", state.Phase)
	}
	if state.Version != "0.1.0" {
		t.Errorf("Version = %q, want 0.1.0", state.Version)
	}
	if err := f.installer.Ready(ctx); err != nil {
		t.Errorf("Ready: %v", err)
	}

	// Installed binary has the source's bytes.
	installed, err := os.ReadFile(f.installer.binaryPath())
	if err != nil {
		t.Fatalf("reading installed binary: %v", err)
	}
	if string(installed) != "fake helper binary v1" {
		t.Errorf("installed bytes = %q", installed)
	}

	// Install again: idempotent.
	if err := f.installer.Install(ctx, f.mint(t, authproof.RightAdmin)); err != nil {
		t.Fatalf("second Install: %v", err)
	}
}

func TestInstallRequiresAdminProof(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	// An execute-right proof must not install.
	err := f.installer.Install(ctx, f.mint(t, authproof.RightExecute))
	if !errors.Is(err, execute.ErrPermissionDenied) {
		t.Fatalf("err = %v, want ErrPermissionDenied", err)
	}

	// Tampered admin proof.
	proof := f.mint(t, authproof.RightAdmin)
	proof[0] ^= 0x01
	if err := f.installer.Install(ctx, proof); !errors.Is(err, execute.ErrPermissionDenied) {
		t.Fatalf("tampered proof err = %v, want ErrPermissionDenied", err)
	}

	// Nothing was written.
	if _, err := os.Stat(f.installer.binaryPath()); !errors.Is(err, os.ErrNotExist) {
		t.Error("rejected install left a binary behind")
	}

	state, err := f.installer.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if state.Phase != PhaseNotInstalled {
		t.Errorf("Phase = %q, want not_installed", state.Phase)
	}
}

func TestStatusSurfacesTamperedBinary(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if err := f.installer.Install(ctx, f.mint(t, authproof.RightAdmin)); err != nil {
		t.Fatalf("Install: %v", err)
	}
	if err := os.WriteFile(f.installer.binaryPath(), []byte("swapped binary"), 0o755); err != nil {
		t.Fatalf("tampering: %v", err)
	}

	if _, err := f.installer.Status(ctx); err == nil {
		t.Fatal("Status should surface a digest mismatch")
	}
	if err := f.installer.Ready(ctx); err == nil {
		t.Fatal("Ready should fail on a tampered binary")
	}
}

func TestOutdatedHelper(t *testing.T) {
	f := newFixture(t, func(cfg *Config) {
		cfg.SourceVersion = "0.0.9"
		cfg.RequiredVersion = "0.1.0"
	})
	ctx := context.Background()

	if err := f.installer.Install(ctx, f.mint(t, authproof.RightAdmin)); err != nil {
		t.Fatalf("Install: %v", err)
	}

	state, err := f.installer.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if state.Phase != PhaseOutdated {
		t.Errorf("Phase = %q, want outdated", state.Phase)
	}
	if state.Version != "0.0.9" {
		t.Errorf("Version = %q, want 0.0.9", state.Version)
	}
	if err := f.installer.Ready(ctx); err == nil {
		t.Error("Ready should fail when outdated")
	}
}

func TestUninstall(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if err := f.installer.Install(ctx, f.mint(t, authproof.RightAdmin)); err != nil {
		t.Fatalf("Install: %v", err)
	}
	if err := f.installer.Uninstall(ctx, f.mint(t, authproof.RightAdmin)); err != nil {
		t.Fatalf("Uninstall: %v", err)
	}

	state, err := f.installer.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if state.Phase != PhaseNotInstalled {
		t.Errorf("Phase = %q, want not_installed", state.Phase)
	}

	// Uninstalling again is a no-op, not an error.
	if err := f.installer.Uninstall(ctx, f.mint(t, authproof.RightAdmin)); err != nil {
		t.Fatalf("second Uninstall: %v", err)
	}

	// But it still requires the admin right.
	if err := f.installer.Uninstall(ctx, f.mint(t, authproof.RightExecute)); !errors.Is(err, execute.ErrPermissionDenied) {
		t.Errorf("err = %v, want ErrPermissionDenied", err)
	}
}

type allowAllPeers struct{}

func (allowAllPeers) Check(net.Conn) error { return nil }

// TestStatusPrefersLiveHelperVersion runs a real helper that reports
// an older version than the manifest claims. The live answer wins, so
// the skew is detected.
func TestStatusPrefersLiveHelperVersion(t *testing.T) {
	store, err := audit.Open(filepath.Join(t.TempDir(), "audit.db"), nil)
	if err != nil {
		t.Fatalf("audit.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	public, _, err := authproof.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}

	socketPath := filepath.Join(testutil.SocketDir(t), "helper.sock")
	service, err := helper.New(helper.Config{
		SocketPath:  socketPath,
		PublicKey:   public,
		Store:       store,
		PeerChecker: allowAllPeers{},
		Version:     "0.0.1",
	})
	if err != nil {
		t.Fatalf("helper.New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- service.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		testutil.RequireReceive(t, done, 5*time.Second, "waiting for helper to stop")
	})
	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, err := os.Stat(socketPath); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("helper socket never appeared")
		}
		time.Sleep(5 * time.Millisecond)
	}

	f := newFixture(t, func(cfg *Config) {
		cfg.SourceVersion = "9.9.9"
		cfg.RequiredVersion = "0.1.0"
		cfg.Client = helperclient.NewClient(socketPath)
	})

	if err := f.installer.Install(context.Background(), f.mint(t, authproof.RightAdmin)); err != nil {
		t.Fatalf("Install: %v", err)
	}

	state, err := f.installer.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if state.Phase != PhaseOutdated {
		t.Errorf("Phase = %q, want outdated (live helper reports 0.0.1)", state.Phase)
	}
	if state.Version != "0.0.1" {
		t.Errorf("Version = %q, want the live helper's 0.0.1", state.Version)
	}
}
