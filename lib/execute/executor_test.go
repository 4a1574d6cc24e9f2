// Copyright 2026 The Caretaker Authors
// SPDX-License-Identifier: Apache-2.0

package execute

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/caretaker-app/caretaker/lib/audit"
	"github.com/caretaker-app/caretaker/lib/catalog"
)

// fakeSpawner records every spawn request so tests can assert that
// rejected executions never reach the process layer.
type fakeSpawner struct {
	mu      sync.Mutex
	calls   []SpawnRequest
	outcome SpawnOutcome
	err     error

	// block makes Spawn wait for ctx cancellation, simulating a
	// command that never finishes on its own.
	block bool
}

func (f *fakeSpawner) Spawn(ctx context.Context, req SpawnRequest) (SpawnOutcome, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		return SpawnOutcome{ExitCode: -1}, ctx.Err()
	}
	return f.outcome, f.err
}

func (f *fakeSpawner) spawnCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// testCapability builds a user-tier capability whose command path
// actually exists on disk.
func testCapability(t *testing.T, args ...catalog.Argument) *catalog.Capability {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-tool")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatalf("writing fake tool: %v", err)
	}
	return &catalog.Capability{
		ID:      "test.fake",
		Tier:    catalog.TierUser,
		Command: catalog.Command{Path: path, Args: args},
	}
}

func newTestExecutor(t *testing.T, spawner Spawner) (*Executor, *audit.Store) {
	t.Helper()
	store, err := audit.Open(filepath.Join(t.TempDir(), "audit.db"), nil)
	if err != nil {
		t.Fatalf("audit.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return New(Config{Spawner: spawner, Store: store}), store
}

func auditRecords(t *testing.T, store *audit.Store) []audit.Record {
	t.Helper()
	records, err := store.Query(context.Background(), audit.Filter{})
	if err != nil {
		t.Fatalf("audit.Query: %v", err)
	}
	return records
}

func TestExecuteSuccess(t *testing.T) {
	spawner := &fakeSpawner{outcome: SpawnOutcome{ExitCode: 0, Stdout: "flushed\n"}}
	executor, store := newTestExecutor(t, spawner)

	capability := testCapability(t,
		catalog.Argument{Literal: "-flushcache"},
		catalog.Argument{Param: "host"})

	result, err := executor.Execute(context.Background(), capability,
		map[string]string{"host": "localhost"}, Options{Requester: "tester"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.ExitCode != 0 || result.Stdout != "flushed\n" {
		t.Errorf("result = %+v", result)
	}
	if spawner.spawnCount() != 1 {
		t.Errorf("spawn count = %d, want 1", spawner.spawnCount())
	}

	// Resolved argv reached the spawner with the parameter in place.
	wantArgs := []string{"-flushcache", "localhost"}
	gotArgs := spawner.calls[0].Args
	if len(gotArgs) != len(wantArgs) || gotArgs[0] != wantArgs[0] || gotArgs[1] != wantArgs[1] {
		t.Errorf("spawned args = %v, want %v", gotArgs, wantArgs)
	}

	records := auditRecords(t, store)
	if len(records) != 1 {
		t.Fatalf("got %d audit records, want 1", len(records))
	}
	record := records[0]
	if record.Status != audit.StatusCompleted {
		t.Errorf("Status = %q, want completed", record.Status)
	}
	if record.ExitCode == nil || *record.ExitCode != 0 {
		t.Errorf("ExitCode = %v, want 0", record.ExitCode)
	}
	if record.Requester != "tester" {
		t.Errorf("Requester = %q", record.Requester)
	}
}

func TestExecuteNonzeroExit(t *testing.T) {
	spawner := &fakeSpawner{outcome: SpawnOutcome{ExitCode: 3, Stderr: "no such cache\n"}}
	executor, store := newTestExecutor(t, spawner)

	result, err := executor.Execute(context.Background(), testCapability(t), nil, Options{})
	var execErr *ExecError
	if !errors.As(err, &execErr) {
		t.Fatalf("err = %v, want *ExecError", err)
	}
	if execErr.Result.ExitCode != 3 {
		t.Errorf("ExecError.Result.ExitCode = %d, want 3", execErr.Result.ExitCode)
	}
	// The captured output is the process's real stderr.
	if execErr.Result.Stderr != "no such cache\n" {
		t.Errorf("Stderr = %q", execErr.Result.Stderr)
	}
	if result.ExitCode != 3 {
		t.Errorf("result.ExitCode = %d, want 3", result.ExitCode)
	}

	records := auditRecords(t, store)
	if len(records) != 1 || records[0].Status != audit.StatusFailed {
		t.Fatalf("records = %+v, want one failed record", records)
	}
}

func TestExecuteTimeout(t *testing.T) {
	spawner := &fakeSpawner{block: true}
	executor, store := newTestExecutor(t, spawner)

	result, err := executor.Execute(context.Background(), testCapability(t), nil,
		Options{Timeout: 20 * time.Millisecond})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if !result.TimedOut {
		t.Error("result.TimedOut = false, want true")
	}

	records := auditRecords(t, store)
	if len(records) != 1 || records[0].Status != audit.StatusTimeout {
		t.Fatalf("records = %+v, want one timeout record", records)
	}
}

func TestExecuteCallerCancellation(t *testing.T) {
	spawner := &fakeSpawner{block: true}
	executor, store := newTestExecutor(t, spawner)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := executor.Execute(ctx, testCapability(t), nil, Options{Timeout: time.Minute})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}

	// The attempt is still audited even though the caller's context is
	// dead.
	records := auditRecords(t, store)
	if len(records) != 1 || records[0].Status != audit.StatusTimeout {
		t.Fatalf("records = %+v, want one timeout record", records)
	}
}

func TestExecuteMissingBinary(t *testing.T) {
	spawner := &fakeSpawner{}
	executor, store := newTestExecutor(t, spawner)

	capability := &catalog.Capability{
		ID:      "test.missing",
		Tier:    catalog.TierUser,
		Command: catalog.Command{Path: "/nonexistent/fake-tool"},
	}

	_, err := executor.Execute(context.Background(), capability, nil, Options{})
	if !errors.Is(err, ErrCommandMissing) {
		t.Fatalf("err = %v, want ErrCommandMissing", err)
	}
	if spawner.spawnCount() != 0 {
		t.Errorf("spawn count = %d, want 0", spawner.spawnCount())
	}

	records := auditRecords(t, store)
	if len(records) != 1 {
		t.Fatalf("got %d audit records, want 1", len(records))
	}
	if records[0].Status != audit.StatusRejectedMissing {
		t.Errorf("Status = %q, want rejected_missing", records[0].Status)
	}
	if records[0].ExitCode != nil {
		t.Errorf("ExitCode = %v, want nil", *records[0].ExitCode)
	}
}

func TestExecuteRejectsElevatedTier(t *testing.T) {
	spawner := &fakeSpawner{}
	executor, store := newTestExecutor(t, spawner)

	capability := testCapability(t)
	capability.Tier = catalog.TierElevated

	if _, err := executor.Execute(context.Background(), capability, nil, Options{}); err == nil {
		t.Fatal("Execute on elevated capability should fail")
	}
	if spawner.spawnCount() != 0 {
		t.Errorf("spawn count = %d, want 0", spawner.spawnCount())
	}
	if records := auditRecords(t, store); len(records) != 0 {
		t.Errorf("got %d audit records, want 0", len(records))
	}
}

func TestExecuteRejectsBadParameters(t *testing.T) {
	spawner := &fakeSpawner{}
	executor, store := newTestExecutor(t, spawner)

	capability := testCapability(t, catalog.Argument{Param: "host"})

	// Missing parameter.
	if _, err := executor.Execute(context.Background(), capability, nil, Options{}); err == nil {
		t.Error("missing parameter should fail")
	}
	// Unknown parameter.
	params := map[string]string{"host": "x", "extra": "y"}
	if _, err := executor.Execute(context.Background(), capability, params, Options{}); err == nil {
		t.Error("unknown parameter should fail")
	}

	if spawner.spawnCount() != 0 {
		t.Errorf("spawn count = %d, want 0", spawner.spawnCount())
	}
	if records := auditRecords(t, store); len(records) != 0 {
		t.Errorf("got %d audit records, want 0", len(records))
	}
}

func TestSystemSpawnerRunsRealCommand(t *testing.T) {
	outcome, err := SystemSpawner{}.Spawn(context.Background(), SpawnRequest{
		Path: "/bin/sh",
		Args: []string{"-c", "echo out; echo err >&2; exit 4"},
	})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if outcome.ExitCode != 4 {
		t.Errorf("ExitCode = %d, want 4", outcome.ExitCode)
	}
	if outcome.Stdout != "out\n" {
		t.Errorf("Stdout = %q", outcome.Stdout)
	}
	if outcome.Stderr != "err\n" {
		t.Errorf("Stderr = %q", outcome.Stderr)
	}
}

func TestSystemSpawnerKillsOnTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := SystemSpawner{}.Spawn(ctx, SpawnRequest{
		Path: "/bin/sh",
		Args: []string{"-c", "sleep 30"},
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want DeadlineExceeded", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("spawn took %s; process group kill did not take effect", elapsed)
	}
}

func TestLimitedBufferCapsOutput(t *testing.T) {
	buf := newLimitedBuffer(8)
	n, err := buf.Write([]byte("0123456789"))
	if err != nil || n != 10 {
		t.Fatalf("Write = (%d, %v), want (10, nil)", n, err)
	}
	if buf.String() != "01234567" {
		t.Errorf("buffered = %q, want first 8 bytes", buf.String())
	}
	// Further writes are accepted and discarded.
	if _, err := buf.Write([]byte("more")); err != nil {
		t.Errorf("Write after cap: %v", err)
	}
	if buf.String() != "01234567" {
		t.Errorf("buffered after overflow = %q", buf.String())
	}
	if !strings.HasPrefix(buf.String(), "0123") {
		t.Error("buffer lost leading bytes")
	}
}
