// Copyright 2026 The Caretaker Authors
// SPDX-License-Identifier: Apache-2.0

package helperclient

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/caretaker-app/caretaker/helper"
	"github.com/caretaker-app/caretaker/lib/audit"
	"github.com/caretaker-app/caretaker/lib/authproof"
	"github.com/caretaker-app/caretaker/lib/catalog"
	"github.com/caretaker-app/caretaker/lib/clock"
	"github.com/caretaker-app/caretaker/lib/execute"
	"github.com/caretaker-app/caretaker/lib/permission"
	"github.com/caretaker-app/caretaker/lib/preflight"
	"github.com/caretaker-app/caretaker/lib/testutil"
)

type allowAllPeers struct{}

func (allowAllPeers) Check(net.Conn) error { return nil }

// helperFixture is one live helper plus the key that can mint proofs
// it accepts.
type helperFixture struct {
	socketPath string
	store      *audit.Store
	public     ed25519.PublicKey
	private    ed25519.PrivateKey
	toolPath   string
}

func startHelper(t *testing.T, spawner execute.Spawner) *helperFixture {
	t.Helper()

	public, private, err := authproof.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}

	store, err := audit.Open(filepath.Join(t.TempDir(), "helper-audit.db"), nil)
	if err != nil {
		t.Fatalf("audit.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	toolPath := filepath.Join(t.TempDir(), "elevated-tool")
	if err := os.WriteFile(toolPath, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatalf("writing tool: %v", err)
	}

	socketPath := filepath.Join(testutil.SocketDir(t), "helper.sock")
	service, err := helper.New(helper.Config{
		SocketPath:  socketPath,
		PublicKey:   public,
		Allowlist:   helper.Allowlist{toolPath: {}},
		Store:       store,
		Spawner:     spawner,
		PeerChecker: allowAllPeers{},
		Version:     "0.1.0",
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
			t.Fatalf("helper socket never appeared")
		}
		time.Sleep(5 * time.Millisecond)
	}

	return &helperFixture{
		socketPath: socketPath,
		store:      store,
		public:     public,
		private:    private,
		toolPath:   toolPath,
	}
}

// stubSpawner returns a fixed outcome without running anything.
type stubSpawner struct {
	outcome execute.SpawnOutcome
}

func (s stubSpawner) Spawn(context.Context, execute.SpawnRequest) (execute.SpawnOutcome, error) {
	return s.outcome, nil
}

func (f *helperFixture) mint(t *testing.T, right string) []byte {
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

func TestClientExecuteSuccess(t *testing.T) {
	fixture := startHelper(t, stubSpawner{outcome: execute.SpawnOutcome{ExitCode: 0, Stdout: "done\n"}})
	client := NewClient(fixture.socketPath)

	result, err := client.Execute(context.Background(), ExecuteRequest{
		CapabilityID: "deep.cache.purge",
		CommandPath:  fixture.toolPath,
		Arguments:    []string{"-a"},
		Proof:        fixture.mint(t, authproof.RightExecute),
		Requester:    "tester",
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.ExitCode != 0 || result.Stdout != "done\n" {
		t.Errorf("result = %+v", result)
	}
}

func TestClientExecuteNonzeroExit(t *testing.T) {
	fixture := startHelper(t, stubSpawner{outcome: execute.SpawnOutcome{ExitCode: 2, Stderr: "bad flag\n"}})
	client := NewClient(fixture.socketPath)

	_, err := client.Execute(context.Background(), ExecuteRequest{
		CapabilityID: "deep.cache.purge",
		CommandPath:  fixture.toolPath,
		Proof:        fixture.mint(t, authproof.RightExecute),
	})
	var execErr *execute.ExecError
	if !errors.As(err, &execErr) {
		t.Fatalf("err = %v, want *ExecError", err)
	}
	if execErr.Result.ExitCode != 2 || execErr.Result.Stderr != "bad flag\n" {
		t.Errorf("ExecError.Result = %+v", execErr.Result)
	}
}

func TestClientMapsAuthorizationDenied(t *testing.T) {
	fixture := startHelper(t, stubSpawner{})
	client := NewClient(fixture.socketPath)

	proof := fixture.mint(t, authproof.RightExecute)
	proof[0] ^= 0x01

	_, err := client.Execute(context.Background(), ExecuteRequest{
		CommandPath: fixture.toolPath,
		Proof:       proof,
	})
	if !errors.Is(err, execute.ErrPermissionDenied) {
		t.Errorf("err = %v, want ErrPermissionDenied", err)
	}
}

func TestClientMapsCommandNotAllowed(t *testing.T) {
	fixture := startHelper(t, stubSpawner{})
	client := NewClient(fixture.socketPath)

	outsider := filepath.Join(t.TempDir(), "outsider")
	if err := os.WriteFile(outsider, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatalf("writing outsider: %v", err)
	}

	_, err := client.Execute(context.Background(), ExecuteRequest{
		CommandPath: outsider,
		Proof:       fixture.mint(t, authproof.RightExecute),
	})
	if !errors.Is(err, execute.ErrCommandNotAllowed) {
		t.Errorf("err = %v, want ErrCommandNotAllowed", err)
	}
}

func TestClientDialFailureIsChannelUnavailable(t *testing.T) {
	client := NewClient(filepath.Join(t.TempDir(), "no-such.sock"))

	if _, err := client.Execute(context.Background(), ExecuteRequest{}); !errors.Is(err, execute.ErrChannelUnavailable) {
		t.Errorf("Execute err = %v, want ErrChannelUnavailable", err)
	}
	if err := client.Ping(context.Background()); !errors.Is(err, execute.ErrChannelUnavailable) {
		t.Errorf("Ping err = %v, want ErrChannelUnavailable", err)
	}
}

func TestClientVersionAndPing(t *testing.T) {
	fixture := startHelper(t, stubSpawner{})
	client := NewClient(fixture.socketPath)

	version, err := client.Version(context.Background())
	if err != nil {
		t.Fatalf("Version: %v", err)
	}
	if version != "0.1.0" {
		t.Errorf("Version = %q, want 0.1.0", version)
	}
	if err := client.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

// Runner fixtures.

// happyProbes satisfies every precondition.
type happyProbes struct{}

func (happyProbes) PathExists(string) (bool, error)   { return true, nil }
func (happyProbes) PathWritable(string) (bool, error) { return true, nil }
func (happyProbes) FreeBytes(string) (uint64, error)  { return 1 << 40, nil }

func (happyProbes) ProcessRunning(context.Context, string) (bool, error) { return false, nil }
func (happyProbes) IntegrityProtection(context.Context) (bool, error)    { return true, nil }

// deniedPathProbes fails path existence checks.
type deniedPathProbes struct{ happyProbes }

func (deniedPathProbes) PathExists(string) (bool, error) { return false, nil }

type grantedProber struct{}

func (grantedProber) Probe(context.Context, permission.Kind) (permission.Status, error) {
	return permission.Granted, nil
}

func (grantedProber) RequestConsent(context.Context, permission.Kind) error { return nil }

type readyChecker struct{ err error }

func (c readyChecker) Ready(context.Context) error { return c.err }

func testCatalogJSON(userTool, elevatedTool string, preconditions string) []byte {
	return []byte(fmt.Sprintf(`{
		// Test catalog.
		"capabilities": [
			{
				"id": "quick.fake.user",
				"command": %q,
				"args": ["-n", "${count}"],
				"trust_tier": "user",
				"preconditions": [%s]
			},
			{
				"id": "deep.fake.elevated",
				"command": %q,
				"args": ["-a"],
				"trust_tier": "elevated",
				"preconditions": []
			},
		]
	}`, userTool, preconditions, elevatedTool))
}

func newRunner(t *testing.T, fixture *helperFixture, catalogData []byte, checker InstallChecker) (*Runner, *audit.Store) {
	t.Helper()

	logger := testLogger()
	loaded, err := catalog.Parse(catalogData, logger)
	if err != nil {
		t.Fatalf("catalog.Parse: %v", err)
	}

	userStore, err := audit.Open(filepath.Join(t.TempDir(), "user-audit.db"), nil)
	if err != nil {
		t.Fatalf("audit.Open: %v", err)
	}
	t.Cleanup(func() { userStore.Close() })

	center := permission.NewCenter(grantedProber{}, clock.Real(), logger)
	engine := preflight.NewEngine(happyProbes{}, center)

	executor := execute.New(execute.Config{
		Spawner: stubSpawner{outcome: execute.SpawnOutcome{ExitCode: 0, Stdout: "user ok\n"}},
		Store:   userStore,
	})

	runner := NewRunner(RunnerConfig{
		Catalog:  loaded,
		Engine:   engine,
		Executor: executor,
		Client:   NewClient(fixture.socketPath),
		Checker:  checker,
		Proofs: LocalProofSource{
			Public:  fixture.public,
			Private: fixture.private,
			Clock:   clock.Real(),
		},
		Logger: logger,
	})
	return runner, userStore
}

func TestRunnerDispatchesUserTier(t *testing.T) {
	fixture := startHelper(t, stubSpawner{})
	userTool := writeTool(t)
	runner, userStore := newRunner(t, fixture,
		testCatalogJSON(userTool, fixture.toolPath, ""), readyChecker{})

	result, err := runner.Run(context.Background(), "quick.fake.user",
		map[string]string{"count": "3"}, execute.Options{Requester: "tester"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Stdout != "user ok\n" {
		t.Errorf("Stdout = %q, want user executor output", result.Stdout)
	}

	// The user store got the record; the helper store did not.
	userRecords, err := userStore.Query(context.Background(), audit.Filter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(userRecords) != 1 {
		t.Errorf("user store records = %d, want 1", len(userRecords))
	}
	helperRecords, err := fixture.store.Query(context.Background(), audit.Filter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(helperRecords) != 0 {
		t.Errorf("helper store records = %d, want 0", len(helperRecords))
	}
}

func TestRunnerDispatchesElevatedTier(t *testing.T) {
	fixture := startHelper(t, stubSpawner{outcome: execute.SpawnOutcome{ExitCode: 0, Stdout: "elevated ok\n"}})
	userTool := writeTool(t)
	runner, _ := newRunner(t, fixture,
		testCatalogJSON(userTool, fixture.toolPath, ""), readyChecker{})

	result, err := runner.Run(context.Background(), "deep.fake.elevated", nil,
		execute.Options{Requester: "tester"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Stdout != "elevated ok\n" {
		t.Errorf("Stdout = %q, want helper output", result.Stdout)
	}

	// Elevated records land only in the helper's store.
	helperRecords, err := fixture.store.Query(context.Background(), audit.Filter{Tier: catalog.TierElevated})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(helperRecords) != 1 {
		t.Errorf("helper store records = %d, want 1", len(helperRecords))
	}
}

func TestRunnerRefusesElevatedWhenHelperNotReady(t *testing.T) {
	fixture := startHelper(t, stubSpawner{})
	userTool := writeTool(t)
	runner, _ := newRunner(t, fixture,
		testCatalogJSON(userTool, fixture.toolPath, ""),
		readyChecker{err: errors.New("helper is not installed")})

	_, err := runner.Run(context.Background(), "deep.fake.elevated", nil, execute.Options{})
	if !errors.Is(err, execute.ErrChannelUnavailable) {
		t.Fatalf("err = %v, want ErrChannelUnavailable", err)
	}

	// Refused before dialing: no helper audit record at all.
	helperRecords, queryErr := fixture.store.Query(context.Background(), audit.Filter{})
	if queryErr != nil {
		t.Fatalf("Query: %v", queryErr)
	}
	if len(helperRecords) != 0 {
		t.Errorf("helper store records = %d, want 0", len(helperRecords))
	}
}

func TestRunnerPreflightFailureBlocksExecution(t *testing.T) {
	fixture := startHelper(t, stubSpawner{})
	userTool := writeTool(t)

	preconditions := `{"type": "path_exists", "path": "/gone"}`
	catalogData := testCatalogJSON(userTool, fixture.toolPath, preconditions)

	logger := testLogger()
	loaded, err := catalog.Parse(catalogData, logger)
	if err != nil {
		t.Fatalf("catalog.Parse: %v", err)
	}

	userStore, err := audit.Open(filepath.Join(t.TempDir(), "user-audit.db"), nil)
	if err != nil {
		t.Fatalf("audit.Open: %v", err)
	}
	t.Cleanup(func() { userStore.Close() })

	center := permission.NewCenter(grantedProber{}, clock.Real(), logger)
	engine := preflight.NewEngine(deniedPathProbes{}, center)
	executor := execute.New(execute.Config{Spawner: stubSpawner{}, Store: userStore})

	runner := NewRunner(RunnerConfig{
		Catalog:  loaded,
		Engine:   engine,
		Executor: executor,
		Client:   NewClient(fixture.socketPath),
		Checker:  readyChecker{},
		Proofs:   LocalProofSource{Public: fixture.public, Private: fixture.private, Clock: clock.Real()},
		Logger:   logger,
	})

	_, err = runner.Run(context.Background(), "quick.fake.user", map[string]string{"count": "1"}, execute.Options{})
	if !errors.Is(err, execute.ErrPreflightFailed) {
		t.Fatalf("err = %v, want ErrPreflightFailed", err)
	}

	// Nothing executed, nothing audited.
	records, queryErr := userStore.Query(context.Background(), audit.Filter{})
	if queryErr != nil {
		t.Fatalf("Query: %v", queryErr)
	}
	if len(records) != 0 {
		t.Errorf("records = %d, want 0", len(records))
	}
}

func TestRunnerUnknownCapability(t *testing.T) {
	fixture := startHelper(t, stubSpawner{})
	userTool := writeTool(t)
	runner, _ := newRunner(t, fixture,
		testCatalogJSON(userTool, fixture.toolPath, ""), readyChecker{})

	if _, err := runner.Run(context.Background(), "no.such.capability", nil, execute.Options{}); err == nil {
		t.Fatal("unknown capability should fail")
	}
}

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func writeTool(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "user-tool")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatalf("writing tool: %v", err)
	}
	return path
}
