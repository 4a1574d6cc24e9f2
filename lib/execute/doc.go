// Copyright 2026 The Caretaker Authors
// SPDX-License-Identifier: Apache-2.0

// Package execute runs user-tier capabilities in the caller's own
// security context and defines the error taxonomy shared by both
// execution tiers.
//
// The Executor is a pure "run it" primitive: it assumes the caller
// already ran preflight and resolved parameters are validated by the
// catalog. Commands are spawned from an argv array, never through a
// shell, in their own process group so a timeout or caller
// cancellation kills the whole tree with SIGKILL. Every attempt,
// including timeouts and missing binaries, lands in the audit store
// before Execute returns.
//
// Elevated capabilities never pass through this package's Executor;
// lib/helperclient carries them to the privileged helper, mapping wire
// error codes back onto the sentinels defined here.
package execute
