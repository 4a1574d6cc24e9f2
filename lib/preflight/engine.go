// Copyright 2026 The Caretaker Authors
// SPDX-License-Identifier: Apache-2.0

package preflight

import (
	"context"
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/caretaker-app/caretaker/lib/catalog"
	"github.com/caretaker-app/caretaker/lib/permission"
)

// FailedCheck pairs a failed precondition with a human-readable reason.
type FailedCheck struct {
	Spec   catalog.Precondition
	Reason string
}

// Result is the verdict of one validation pass. Computed fresh per
// evaluation; never cached beyond a single decision.
type Result struct {
	// CanExecute is true iff FailedChecks and MissingPermissions are
	// both empty.
	CanExecute bool

	// FailedChecks lists every unmet precondition, complete rather
	// than short-circuited.
	FailedChecks []FailedCheck

	// MissingPermissions lists out-of-band OS permissions that are
	// not currently granted.
	MissingPermissions []permission.Kind
}

// Probes answers the read-only system queries preflight checks need.
// Injected so tests control system state exactly; [NewSystemProbes]
// is the production implementation.
type Probes interface {
	// PathExists reports whether path exists.
	PathExists(path string) (bool, error)

	// PathWritable reports whether the current identity can write to
	// path.
	PathWritable(path string) (bool, error)

	// ProcessRunning reports whether an application with the given
	// bundle identity has a live process.
	ProcessRunning(ctx context.Context, bundleID string) (bool, error)

	// FreeBytes returns the free space on the volume containing path.
	FreeBytes(path string) (uint64, error)

	// IntegrityProtection reports whether System Integrity Protection
	// is enabled.
	IntegrityProtection(ctx context.Context) (bool, error)
}

// Engine validates capabilities. Safe for concurrent use.
type Engine struct {
	probes      Probes
	permissions *permission.Center
}

// NewEngine creates a preflight engine.
func NewEngine(probes Probes, permissions *permission.Center) *Engine {
	return &Engine{probes: probes, permissions: permissions}
}

// Validate evaluates every precondition of capability in declaration
// order and returns the complete verdict. Read-only and idempotent:
// repeated calls with unchanged system state produce the same Result.
//
// An error is returned only for conditions that prevent evaluation
// itself (an unknown precondition kind, a cancelled context) — an
// unmet precondition is a FailedCheck, not an error.
func (e *Engine) Validate(ctx context.Context, capability *catalog.Capability) (Result, error) {
	var result Result

	for _, spec := range capability.Preconditions {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		if err := e.evaluate(ctx, spec, &result); err != nil {
			return Result{}, err
		}
	}

	result.CanExecute = len(result.FailedChecks) == 0 && len(result.MissingPermissions) == 0
	return result, nil
}

// evaluate runs one precondition check and records any failure on
// result.
func (e *Engine) evaluate(ctx context.Context, spec catalog.Precondition, result *Result) error {
	switch spec.Kind {
	case catalog.PathExists:
		exists, err := e.probes.PathExists(spec.Path)
		switch {
		case err != nil:
			result.fail(spec, fmt.Sprintf("check failed: %v", err))
		case !exists:
			result.fail(spec, fmt.Sprintf("%s does not exist", spec.Path))
		}

	case catalog.PathWritable:
		writable, err := e.probes.PathWritable(spec.Path)
		switch {
		case err != nil:
			result.fail(spec, fmt.Sprintf("check failed: %v", err))
		case !writable:
			result.fail(spec, fmt.Sprintf("%s is not writable", spec.Path))
		}

	case catalog.AppRunning:
		running, err := e.probes.ProcessRunning(ctx, spec.BundleID)
		switch {
		case err != nil:
			result.fail(spec, fmt.Sprintf("check failed: %v", err))
		case !running:
			result.fail(spec, fmt.Sprintf("%s is not running", spec.BundleID))
		}

	case catalog.AppNotRunning:
		running, err := e.probes.ProcessRunning(ctx, spec.BundleID)
		switch {
		case err != nil:
			result.fail(spec, fmt.Sprintf("check failed: %v", err))
		case running:
			result.fail(spec, fmt.Sprintf("%s is still running", spec.BundleID))
		}

	case catalog.DiskSpaceAvailable:
		e.checkDiskSpace(spec, result)

	case catalog.IntegrityProtectionEnabled:
		enabled, err := e.probes.IntegrityProtection(ctx)
		switch {
		case err != nil:
			result.fail(spec, fmt.Sprintf("check failed: %v", err))
		case !enabled:
			result.fail(spec, "system integrity protection is disabled")
		}

	case catalog.AutomationPermissionGranted:
		e.checkAutomation(ctx, spec, result)

	default:
		// The variant set is closed; reaching this is a catalog
		// loader bug, not a failed precondition. Fail loud.
		return fmt.Errorf("preflight: unknown precondition kind %q", spec.Kind)
	}
	return nil
}

// fail appends a failed check.
func (r *Result) fail(spec catalog.Precondition, reason string) {
	r.FailedChecks = append(r.FailedChecks, FailedCheck{Spec: spec, Reason: reason})
}

// checkDiskSpace compares the volume's free space against the parsed
// minimum and formats the shortfall for humans.
func (e *Engine) checkDiskSpace(spec catalog.Precondition, result *Result) {
	needed, err := ParseSize(spec.Min)
	if err != nil {
		result.fail(spec, fmt.Sprintf("check failed: %v", err))
		return
	}

	free, err := e.probes.FreeBytes(spec.Path)
	if err != nil {
		result.fail(spec, fmt.Sprintf("check failed: %v", err))
		return
	}

	if free < needed {
		result.fail(spec, fmt.Sprintf("volume %s has %s free, need %s (short %s)",
			spec.Path,
			humanize.IBytes(free),
			humanize.IBytes(needed),
			humanize.IBytes(needed-free),
		))
	}
}

// checkAutomation delegates to the permission center. Anything other
// than an explicit grant is a missing permission — including the
// peer-not-running case, where the state is unknowable until the peer
// launches.
func (e *Engine) checkAutomation(ctx context.Context, spec catalog.Precondition, result *Result) {
	kind := permission.Automation(spec.PeerAppID)
	status, err := e.permissions.Check(ctx, kind)
	if err != nil && !errors.Is(err, permission.ErrPeerNotRunning) {
		result.fail(spec, fmt.Sprintf("check failed: %v", err))
		return
	}
	if status != permission.Granted {
		result.MissingPermissions = append(result.MissingPermissions, kind)
	}
}
