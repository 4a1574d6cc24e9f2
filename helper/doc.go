// Copyright 2026 The Caretaker Authors
// SPDX-License-Identifier: Apache-2.0

// Package helper implements the privileged helper service: the only
// component that runs elevated commands. It listens on a root-owned
// Unix socket and speaks the lib/helperproto protocol, one request per
// connection.
//
// Every execute request walks a fixed state machine:
//
//	Received -> AuthorizationChecked -> AllowlistChecked ->
//	Executing -> Completed | Rejected
//
// AuthorizationChecked verifies the request's Ed25519 proof against
// the public key compiled into the helper binary, for the execute
// right, on every request. The socket's peer credential (uid) is
// checked first, but peer identity alone never authorizes anything: a
// process running as the right user with no valid proof gets nothing.
//
// AllowlistChecked requires the command path to be an exact string
// match against the compiled-in allowlist. No configuration file, no
// patterns, no symlink resolution: changing what the helper can run
// means shipping a new helper binary.
//
// Rejections are not silent. Each one is logged and appended to the
// helper's own system-level audit store with a rejected_* status and
// no exit code, before the error response is written. Completed
// executions likewise land in the audit store before the response.
//
// Cancellation is scoped by proof key ID: a cancel request needs its
// own valid proof, and it only kills executions whose original proof
// was minted by the same key.
package helper
