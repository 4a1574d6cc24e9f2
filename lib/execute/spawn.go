// Copyright 2026 The Caretaker Authors
// SPDX-License-Identifier: Apache-2.0

package execute

import (
	"context"
	"errors"
	"os/exec"
	"syscall"
)

// SpawnRequest describes one process to run. Args is the final argv
// (excluding the path itself); there is no shell interpretation
// anywhere.
type SpawnRequest struct {
	Path string
	Args []string

	// Dir is the working directory. Empty means inherit.
	Dir string

	// MaxOutputBytes caps each of stdout and stderr. Output past the
	// cap is discarded, not buffered. Zero means no cap.
	MaxOutputBytes int64
}

// SpawnOutcome is what came back from a finished process. ExitCode is
// -1 when the process died to a signal (including the timeout kill).
type SpawnOutcome struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Spawner runs a process to completion. Implementations must honor
// ctx cancellation by killing the process and must never interpret the
// request through a shell. The indirection exists so tests can count
// spawns and assert that rejected requests spawn nothing.
type Spawner interface {
	Spawn(ctx context.Context, req SpawnRequest) (SpawnOutcome, error)
}

// SystemSpawner spawns real processes.
type SystemSpawner struct{}

// Spawn runs the request's command in its own process group. On ctx
// cancellation the entire group receives SIGKILL (negative PID form),
// so children cannot outlive the command and hold the output pipes
// open. A nonzero exit is reported in the outcome, not as an error;
// the returned error covers start failures and cancellation.
func (SystemSpawner) Spawn(ctx context.Context, req SpawnRequest) (SpawnOutcome, error) {
	cmd := exec.CommandContext(ctx, req.Path, req.Args...)
	cmd.Dir = req.Dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	stdout := newLimitedBuffer(req.MaxOutputBytes)
	stderr := newLimitedBuffer(req.MaxOutputBytes)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	err := cmd.Run()
	outcome := SpawnOutcome{
		ExitCode: 0,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}
	if err == nil {
		return outcome, nil
	}

	var exitError *exec.ExitError
	if errors.As(err, &exitError) {
		outcome.ExitCode = exitError.ExitCode()
		// A timeout kill surfaces as an ExitError too; report the
		// cancellation so the executor can classify it.
		if ctx.Err() != nil {
			return outcome, ctx.Err()
		}
		return outcome, nil
	}

	outcome.ExitCode = -1
	return outcome, err
}

// limitedBuffer accepts writes forever but keeps at most max bytes.
// Never returns an error, so a chatty command cannot fail its own
// output pipe.
type limitedBuffer struct {
	max int64
	buf []byte
}

func newLimitedBuffer(max int64) *limitedBuffer {
	return &limitedBuffer{max: max}
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if b.max <= 0 {
		b.buf = append(b.buf, p...)
		return len(p), nil
	}
	remaining := b.max - int64(len(b.buf))
	if remaining > 0 {
		if int64(len(p)) > remaining {
			b.buf = append(b.buf, p[:remaining]...)
		} else {
			b.buf = append(b.buf, p...)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string { return string(b.buf) }
