// Copyright 2026 The Caretaker Authors
// SPDX-License-Identifier: Apache-2.0

package preflight

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"golang.org/x/sys/unix"
)

// SystemProbes is the production Probes implementation: filesystem
// metadata queries, statfs, and read-only shell-outs to pgrep and
// csrutil. The run function is injectable for tests of the shell-out
// paths.
type SystemProbes struct {
	run func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// NewSystemProbes creates the production probe set.
func NewSystemProbes() *SystemProbes {
	return &SystemProbes{
		run: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, name, args...).CombinedOutput()
		},
	}
}

// PathExists implements Probes via a metadata query.
func (p *SystemProbes) PathExists(path string) (bool, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", path, err)
	}
	return true, nil
}

// PathWritable implements Probes via an access(2) check for the
// current identity. No file is created or modified.
func (p *SystemProbes) PathWritable(path string) (bool, error) {
	err := unix.Access(path, unix.W_OK)
	switch err {
	case nil:
		return true, nil
	case unix.EACCES, unix.EPERM, unix.EROFS:
		return false, nil
	case unix.ENOENT:
		return false, nil
	default:
		return false, fmt.Errorf("access %s: %w", path, err)
	}
}

// ProcessRunning implements Probes by asking pgrep for processes
// matching the bundle identity. pgrep exits 0 with matches, 1 with
// none; anything else is a probe failure.
func (p *SystemProbes) ProcessRunning(ctx context.Context, bundleID string) (bool, error) {
	output, err := p.run(ctx, "/usr/bin/pgrep", "-if", bundleID)
	if err == nil {
		return strings.TrimSpace(string(output)) != "", nil
	}
	if exitCode(err) == 1 {
		return false, nil
	}
	return false, fmt.Errorf("pgrep %s: %w", bundleID, err)
}

// FreeBytes implements Probes via filesystem statistics for the
// volume containing path.
func (p *SystemProbes) FreeBytes(path string) (uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, fmt.Errorf("statfs %s: %w", path, err)
	}
	// Bavail: blocks available to unprivileged callers, which is what
	// a maintenance operation can actually use.
	return stat.Bavail * uint64(stat.Bsize), nil
}

// IntegrityProtection implements Probes by reading csrutil's status
// line.
func (p *SystemProbes) IntegrityProtection(ctx context.Context) (bool, error) {
	output, err := p.run(ctx, "/usr/bin/csrutil", "status")
	if err != nil {
		return false, fmt.Errorf("csrutil status: %w", err)
	}
	text := strings.ToLower(string(output))
	switch {
	case strings.Contains(text, "enabled"):
		return true, nil
	case strings.Contains(text, "disabled"):
		return false, nil
	}
	return false, fmt.Errorf("csrutil status: unrecognized output %q", strings.TrimSpace(string(output)))
}

// exitCode extracts the process exit code from a run error, or -1.
func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
