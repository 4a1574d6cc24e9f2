// Copyright 2026 The Caretaker Authors
// SPDX-License-Identifier: Apache-2.0

// Package helperclient is the app side of the elevated channel. Client
// speaks lib/helperproto to the helper socket and maps wire error
// codes back onto the lib/execute taxonomy, so callers handle an
// elevated denial exactly like a local one.
//
// Runner sits above both tiers: it looks the capability up in the
// catalog, runs preflight, and dispatches to the in-process executor
// or the helper depending on trust tier. Elevated requests are refused
// before dialing when the install checker reports the helper missing
// or outdated; the refusal carries ErrChannelUnavailable so the caller
// can start the install flow instead of retrying.
package helperclient
