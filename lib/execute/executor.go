// Copyright 2026 The Caretaker Authors
// SPDX-License-Identifier: Apache-2.0

package execute

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/caretaker-app/caretaker/lib/audit"
	"github.com/caretaker-app/caretaker/lib/catalog"
	"github.com/caretaker-app/caretaker/lib/clock"
)

// Result is the captured outcome of one execution.
type Result struct {
	ExitCode   int
	Stdout     string
	Stderr     string
	StartedAt  time.Time
	FinishedAt time.Time
	TimedOut   bool
}

// Options are per-call knobs for Execute.
type Options struct {
	// Timeout bounds the command's wall-clock runtime. Zero means the
	// executor's default.
	Timeout time.Duration

	// Requester is recorded in the audit log.
	Requester string
}

// Config assembles an Executor. Store is required; everything else
// has defaults.
type Config struct {
	Spawner Spawner
	Store   *audit.Store
	Clock   clock.Clock
	Logger  *slog.Logger

	// DefaultTimeout applies when Options.Timeout is zero. Defaults to
	// two minutes.
	DefaultTimeout time.Duration

	// MaxOutputBytes caps captured stdout and stderr per command.
	// Defaults to 1 MiB.
	MaxOutputBytes int64
}

// Executor runs user-tier capabilities in the calling process's
// security context. Blocking work runs in the calling goroutine;
// callers that want a suspension point wrap Execute in their own
// goroutine and channel.
type Executor struct {
	spawner        Spawner
	store          *audit.Store
	clock          clock.Clock
	logger         *slog.Logger
	defaultTimeout time.Duration
	maxOutputBytes int64
}

// New constructs an Executor. Panics if cfg.Store is nil: running
// commands without an audit trail is never acceptable.
func New(cfg Config) *Executor {
	if cfg.Store == nil {
		panic("execute: Config.Store is required")
	}
	executor := &Executor{
		spawner:        cfg.Spawner,
		store:          cfg.Store,
		clock:          cfg.Clock,
		logger:         cfg.Logger,
		defaultTimeout: cfg.DefaultTimeout,
		maxOutputBytes: cfg.MaxOutputBytes,
	}
	if executor.spawner == nil {
		executor.spawner = SystemSpawner{}
	}
	if executor.clock == nil {
		executor.clock = clock.Real()
	}
	if executor.logger == nil {
		executor.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if executor.defaultTimeout <= 0 {
		executor.defaultTimeout = 2 * time.Minute
	}
	if executor.maxOutputBytes <= 0 {
		executor.maxOutputBytes = 1 << 20
	}
	return executor
}

// Execute runs a user-tier capability to completion. The caller is
// expected to have run preflight already. Exactly one audit record is
// appended per call, before Execute returns, regardless of outcome.
//
// Errors: *ExecError for a nonzero exit, ErrTimeout when the deadline
// expired, ErrCommandMissing when the binary is absent, ctx.Err() when
// the caller cancelled. In the last three cases the process group was
// killed (or never started).
func (e *Executor) Execute(ctx context.Context, capability *catalog.Capability, params map[string]string, opts Options) (Result, error) {
	if capability.Tier != catalog.TierUser {
		return Result{}, fmt.Errorf("execute: capability %s has tier %q; elevated capabilities go through the helper channel", capability.ID, capability.Tier)
	}

	argv, err := capability.Resolve(params)
	if err != nil {
		return Result{}, err
	}

	if _, err := os.Stat(capability.Command.Path); err != nil {
		now := e.clock.Now()
		record := audit.Record{
			CapabilityID: capability.ID,
			TrustTier:    capability.Tier,
			Arguments:    argv,
			Status:       audit.StatusRejectedMissing,
			StartedAt:    now,
			FinishedAt:   now,
			Requester:    opts.Requester,
		}
		if appendErr := e.store.Append(ctx, record); appendErr != nil {
			return Result{}, errors.Join(fmt.Errorf("%w: %s", ErrCommandMissing, capability.Command.Path), appendErr)
		}
		return Result{}, fmt.Errorf("%w: %s", ErrCommandMissing, capability.Command.Path)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	startedAt := e.clock.Now()
	outcome, spawnErr := e.spawner.Spawn(runCtx, SpawnRequest{
		Path:           capability.Command.Path,
		Args:           argv,
		MaxOutputBytes: e.maxOutputBytes,
	})
	finishedAt := e.clock.Now()

	result := Result{
		ExitCode:   outcome.ExitCode,
		Stdout:     outcome.Stdout,
		Stderr:     outcome.Stderr,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
	}

	var (
		status  audit.Status
		execErr error
	)
	switch {
	case spawnErr == nil && outcome.ExitCode == 0:
		status = audit.StatusCompleted
	case spawnErr == nil:
		status = audit.StatusFailed
		execErr = &ExecError{CapabilityID: capability.ID, Result: result}
	case errors.Is(spawnErr, context.DeadlineExceeded) && ctx.Err() == nil:
		result.TimedOut = true
		status = audit.StatusTimeout
		execErr = fmt.Errorf("%w: %s after %s", ErrTimeout, capability.ID, timeout)
	case ctx.Err() != nil:
		// Caller cancellation. The process group was killed; record it
		// as a timeout-class termination.
		status = audit.StatusTimeout
		execErr = ctx.Err()
	default:
		// The command failed to start (bad permissions, not a binary).
		status = audit.StatusFailed
		execErr = fmt.Errorf("execute: starting %s: %w", capability.ID, spawnErr)
	}

	exitCode := result.ExitCode
	record := audit.Record{
		CapabilityID: capability.ID,
		TrustTier:    capability.Tier,
		Arguments:    argv,
		Status:       status,
		ExitCode:     &exitCode,
		Stdout:       result.Stdout,
		Stderr:       result.Stderr,
		StartedAt:    startedAt,
		FinishedAt:   finishedAt,
		Requester:    opts.Requester,
	}
	// The record must land even when the caller's context is already
	// dead; a cancelled execution still happened.
	if appendErr := e.store.Append(context.WithoutCancel(ctx), record); appendErr != nil {
		execErr = errors.Join(execErr, appendErr)
	}

	e.logger.Info("capability executed",
		"capability", capability.ID,
		"status", status,
		"exit_code", result.ExitCode,
		"duration", finishedAt.Sub(startedAt))

	return result, execErr
}
