// Copyright 2026 The Caretaker Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli provides the command tree infrastructure for the
// caretaker binary: nested subcommand dispatch, pflag flag parsing,
// and structured help output.
package cli
