// Copyright 2026 The Caretaker Authors
// SPDX-License-Identifier: Apache-2.0

// Package permission tracks the grant state of out-of-band OS
// permissions: automation control of specific peer applications, broad
// filesystem access, and helper installation.
//
// The operating system does not push grant changes to the application —
// a user can revoke automation consent in System Settings while the app
// is backgrounded and nothing tells us. The [Center] therefore caches
// probe results with a short freshness window and invalidates the whole
// cache whenever the host application regains foreground focus (an
// explicit event subscription via [Center.BindActivation], not a poll).
//
// Automation state cannot be queried directly; it is classified from
// the failure mode of a no-op control message to the peer application.
// Three outcomes must be surfaced differently: an explicit denial
// (remediation in System Settings), the peer not running (offer to
// launch it first), and consent never having been requested (offer to
// trigger the prompt). See [Prober].
//
// The package decides nothing about UI. [Center.Remediation] supplies
// machine-readable steps with settings deep links; rendering them is
// the host's problem.
package permission
