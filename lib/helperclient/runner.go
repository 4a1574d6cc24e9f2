// Copyright 2026 The Caretaker Authors
// SPDX-License-Identifier: Apache-2.0

package helperclient

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/caretaker-app/caretaker/lib/authproof"
	"github.com/caretaker-app/caretaker/lib/catalog"
	"github.com/caretaker-app/caretaker/lib/clock"
	"github.com/caretaker-app/caretaker/lib/execute"
	"github.com/caretaker-app/caretaker/lib/preflight"
)

// ProofSource mints a fresh authorization proof for a named right.
// Minting is where user consent happens; the runner asks only after
// every cheaper gate has passed.
type ProofSource interface {
	ProofFor(ctx context.Context, right string) ([]byte, error)
}

// LocalProofSource mints proofs with a locally held private key.
type LocalProofSource struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
	Clock   clock.Clock
}

func (s LocalProofSource) ProofFor(_ context.Context, right string) ([]byte, error) {
	now := s.Clock.Now()
	proof, err := authproof.New(right, authproof.KeyID(s.Public), now)
	if err != nil {
		return nil, err
	}
	return authproof.Mint(s.Private, proof)
}

// InstallChecker reports whether the helper is ready for elevated
// requests. Ready returns nil when the installed helper is current; a
// non-nil error describes why elevated execution must not be
// attempted (not installed, digest mismatch, version skew).
type InstallChecker interface {
	Ready(ctx context.Context) error
}

// Runner is the single entry point for executing a capability by ID.
// It validates preflight, then dispatches on trust tier: user-tier
// capabilities run through the in-process executor, elevated ones
// through the helper channel.
type Runner struct {
	catalog  *catalog.Catalog
	engine   *preflight.Engine
	executor *execute.Executor
	client   *Client
	checker  InstallChecker
	proofs   ProofSource
	logger   *slog.Logger
}

// RunnerConfig assembles a Runner. All fields are required except
// Logger.
type RunnerConfig struct {
	Catalog  *catalog.Catalog
	Engine   *preflight.Engine
	Executor *execute.Executor
	Client   *Client
	Checker  InstallChecker
	Proofs   ProofSource
	Logger   *slog.Logger
}

// NewRunner constructs a Runner.
func NewRunner(cfg RunnerConfig) *Runner {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Runner{
		catalog:  cfg.Catalog,
		engine:   cfg.Engine,
		executor: cfg.Executor,
		client:   cfg.Client,
		checker:  cfg.Checker,
		proofs:   cfg.Proofs,
		logger:   logger,
	}
}

// Run executes the capability with the given ID. Preflight always runs
// first; a failed check surfaces as ErrPreflightFailed with every
// unmet condition in the message, and nothing is executed.
func (r *Runner) Run(ctx context.Context, capabilityID string, params map[string]string, opts execute.Options) (execute.Result, error) {
	capability := r.catalog.Get(capabilityID)
	if capability == nil {
		return execute.Result{}, fmt.Errorf("helperclient: unknown capability %q", capabilityID)
	}

	report, err := r.engine.Validate(ctx, capability)
	if err != nil {
		return execute.Result{}, fmt.Errorf("helperclient: preflight for %s: %w", capabilityID, err)
	}
	if !report.CanExecute {
		return execute.Result{}, fmt.Errorf("%w: %s", execute.ErrPreflightFailed, describeFailures(report))
	}

	switch capability.Tier {
	case catalog.TierUser:
		return r.executor.Execute(ctx, capability, params, opts)
	case catalog.TierElevated:
		return r.runElevated(ctx, capability, params, opts)
	}
	return execute.Result{}, fmt.Errorf("helperclient: capability %s has unknown tier %q", capabilityID, capability.Tier)
}

// runElevated checks helper readiness before dialing: a missing or
// outdated helper must trigger the install flow, not a confusing
// socket error after the user already consented.
func (r *Runner) runElevated(ctx context.Context, capability *catalog.Capability, params map[string]string, opts execute.Options) (execute.Result, error) {
	if err := r.checker.Ready(ctx); err != nil {
		return execute.Result{}, fmt.Errorf("%w: %v", execute.ErrChannelUnavailable, err)
	}

	argv, err := capability.Resolve(params)
	if err != nil {
		return execute.Result{}, err
	}

	proof, err := r.proofs.ProofFor(ctx, authproof.RightExecute)
	if err != nil {
		return execute.Result{}, fmt.Errorf("%w: obtaining proof: %v", execute.ErrPermissionDenied, err)
	}

	r.logger.Info("dispatching elevated capability",
		"capability", capability.ID, "path", capability.Command.Path)

	return r.client.Execute(ctx, ExecuteRequest{
		CapabilityID: capability.ID,
		CommandPath:  capability.Command.Path,
		Arguments:    argv,
		Timeout:      opts.Timeout,
		Proof:        proof,
		Requester:    opts.Requester,
	})
}

// describeFailures flattens a preflight report into one message.
func describeFailures(report preflight.Result) string {
	var parts []string
	for _, failed := range report.FailedChecks {
		parts = append(parts, failed.Reason)
	}
	for _, kind := range report.MissingPermissions {
		parts = append(parts, fmt.Sprintf("missing permission: %s", kind))
	}
	return strings.Join(parts, "; ")
}
