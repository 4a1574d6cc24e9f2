// Copyright 2026 The Caretaker Authors
// SPDX-License-Identifier: Apache-2.0

package execute

import (
	"errors"
	"fmt"
)

// The shared error taxonomy for capability execution. Both the
// in-process executor and the helper client return these, so callers
// branch on errors.Is without caring which tier ran the command.
var (
	// ErrPreflightFailed means one or more declared preconditions did
	// not hold. The command was not spawned.
	ErrPreflightFailed = errors.New("execute: preflight checks failed")

	// ErrPermissionDenied means a required permission grant is absent
	// or the helper rejected the request's authorization proof.
	ErrPermissionDenied = errors.New("execute: permission denied")

	// ErrCommandNotAllowed means the helper's compiled-in allowlist
	// does not contain the command path.
	ErrCommandNotAllowed = errors.New("execute: command not in allowlist")

	// ErrCommandMissing means the command path is valid for the tier
	// but the binary is absent on disk.
	ErrCommandMissing = errors.New("execute: command binary missing")

	// ErrTimeout means the command's deadline expired and its process
	// group was killed.
	ErrTimeout = errors.New("execute: command timed out")

	// ErrChannelUnavailable means the elevated channel could not be
	// reached: the helper is not installed, not running, or its socket
	// refused the connection. Distinct from ErrPermissionDenied so
	// callers can trigger the install flow instead of re-prompting.
	ErrChannelUnavailable = errors.New("execute: elevated channel unavailable")
)

// ExecError reports a command that ran to completion with a nonzero
// exit. The captured Result is the process's real output, never
// synthesized.
type ExecError struct {
	CapabilityID string
	Result       Result
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("execute: %s exited %d", e.CapabilityID, e.Result.ExitCode)
}
