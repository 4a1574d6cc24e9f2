// Copyright 2026 The Caretaker Authors
// SPDX-License-Identifier: Apache-2.0

package helperproto

import (
	"fmt"

	"github.com/caretaker-app/caretaker/lib/codec"
)

// Protocol actions.
const (
	// ActionExecute runs an allowlisted command. Requires a proof for
	// the execute right.
	ActionExecute = "execute"

	// ActionCancel kills running executions started under the same
	// proof key ID. Requires its own proof for the execute right.
	ActionCancel = "cancel"

	// ActionVersion reports the helper's build version.
	// Unauthenticated: the installer uses it for skew detection before
	// any proof exists.
	ActionVersion = "version"

	// ActionPing is an unauthenticated liveness check.
	ActionPing = "ping"
)

// Error codes carried in the response envelope.
const (
	// CodeInvalidRequest: the request could not be decoded or is
	// missing required fields.
	CodeInvalidRequest = "invalid_request"

	// CodeUnknownAction: the action name is not part of the protocol.
	CodeUnknownAction = "unknown_action"

	// CodeAuthorizationDenied: the proof is absent, malformed,
	// expired, signed by the wrong key, or scoped to the wrong right.
	CodeAuthorizationDenied = "authorization_denied"

	// CodeCommandNotAllowed: the command path is not in the helper's
	// compiled-in allowlist.
	CodeCommandNotAllowed = "command_not_allowed"

	// CodeCommandMissing: the path is allowlisted but no binary exists
	// there.
	CodeCommandMissing = "command_missing"

	// CodeInternal: the helper itself failed (spawn error, audit
	// write failure).
	CodeInternal = "internal"
)

// Request is the single CBOR value a client writes per connection.
// Fields beyond Action are action-specific; unused ones are omitted
// from the wire encoding.
type Request struct {
	Action string `cbor:"action"`

	// CapabilityID names the catalog entry being executed, for the
	// helper's audit record. The helper does not consult the catalog;
	// authorization comes from the proof and the allowlist.
	CapabilityID string `cbor:"capability_id,omitempty"`

	// CommandPath is the absolute path of the binary to run.
	CommandPath string `cbor:"command_path,omitempty"`

	// Arguments is the final argv, already resolved by the caller.
	// Never shell-interpreted.
	Arguments []string `cbor:"arguments,omitempty"`

	// WorkingDirectory is optional; empty inherits the helper's.
	WorkingDirectory string `cbor:"working_directory,omitempty"`

	// TimeoutMillis bounds the command's runtime. The helper clamps it
	// to its compiled-in ceiling.
	TimeoutMillis int64 `cbor:"timeout_ms,omitempty"`

	// Proof is the raw minted authorization proof (CBOR payload plus
	// Ed25519 signature). Required for execute and cancel.
	Proof []byte `cbor:"proof,omitempty"`

	// Requester is recorded in the helper's audit log.
	Requester string `cbor:"requester,omitempty"`
}

// Response is the envelope for every reply.
type Response struct {
	OK    bool             `cbor:"ok"`
	Error string           `cbor:"error,omitempty"`
	Code  string           `cbor:"code,omitempty"`
	Data  codec.RawMessage `cbor:"data,omitempty"`
}

// ExecuteData is the Data payload for a completed execute action. A
// nonzero exit or a timeout kill is a successful protocol exchange; it
// arrives here, not as an envelope error, so partial output reaches
// the caller.
type ExecuteData struct {
	ExitCode int    `cbor:"exit_code"`
	Stdout   string `cbor:"stdout"`
	Stderr   string `cbor:"stderr"`
	TimedOut bool   `cbor:"timed_out"`
}

// CancelData reports how many executions the cancel affected.
type CancelData struct {
	Cancelled int `cbor:"cancelled"`
}

// VersionData is the Data payload for the version action.
type VersionData struct {
	Version string `cbor:"version"`
}

// Error is a protocol failure with a machine-readable code. Handlers
// return it so the server can fill the envelope's Code field; anything
// else becomes CodeInternal.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Errorf constructs a coded protocol error.
func Errorf(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}
