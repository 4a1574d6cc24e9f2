// Copyright 2026 The Caretaker Authors
// SPDX-License-Identifier: Apache-2.0

package helper

// requestState tracks an execute request through its fixed lifecycle.
// Transitions only move forward; a request that fails a gate goes
// straight to stateRejected and nothing is ever spawned for it.
type requestState int

const (
	stateReceived requestState = iota
	stateAuthorizationChecked
	stateAllowlistChecked
	stateExecuting
	stateCompleted
	stateRejected
)

func (s requestState) String() string {
	switch s {
	case stateReceived:
		return "received"
	case stateAuthorizationChecked:
		return "authorization_checked"
	case stateAllowlistChecked:
		return "allowlist_checked"
	case stateExecuting:
		return "executing"
	case stateCompleted:
		return "completed"
	case stateRejected:
		return "rejected"
	}
	return "unknown"
}
