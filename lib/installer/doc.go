// Copyright 2026 The Caretaker Authors
// SPDX-License-Identifier: Apache-2.0

// Package installer manages the privileged helper's installation
// lifecycle: install, verify, detect version skew, uninstall.
//
// "Installed" is a strong claim here. Status verifies the installed
// binary's SHA-256 against the manifest recorded at install time and
// then asks the live helper for its version, so a tampered binary or
// a stale helper never reads as healthy. A helper older than the
// version this build requires reports Outdated, and the channel
// refuses elevated requests until it is reinstalled.
//
// Install and Uninstall mutate a root-owned directory, so both demand
// a fresh authorization proof for the admin right. Both are
// idempotent; installing over a current installation is a no-op, and
// uninstalling an absent one succeeds. All file writes are atomic:
// write to a temporary name, sync, rename into place, sync the
// directory.
package installer
