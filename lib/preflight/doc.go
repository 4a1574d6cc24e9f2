// Copyright 2026 The Caretaker Authors
// SPDX-License-Identifier: Apache-2.0

// Package preflight evaluates a capability's declared preconditions
// against live system state and returns a structured verdict.
//
// The [Engine] runs every check in declaration order even after the
// first failure — callers need the complete remediation list in one
// round-trip, so [Result.FailedChecks] is never short-circuited.
// Checks are read-only (metadata queries, process enumeration,
// filesystem statistics, a system status probe); validation has no
// side effects and is safe to repeat and to run concurrently for
// different capabilities.
//
// Automation-permission preconditions delegate to the permission
// [Center]; a non-granted status lands in [Result.MissingPermissions]
// rather than FailedChecks, because the remediation is an OS consent
// flow, not a system-state change.
//
// System probes are injected via [Probes]; [NewSystemProbes] is the
// production implementation.
package preflight
