// Copyright 2026 The Caretaker Authors
// SPDX-License-Identifier: Apache-2.0

// Package audit implements the append-only execution audit log.
//
// Every execution attempt produces exactly one record: successes,
// nonzero exits, timeouts, and requests the helper rejected before
// spawning anything. Records are never updated or selectively
// deleted; the only mutation besides Append is a full Purge.
//
// There are two physical stores with identical schemas. The user-tier
// store lives in the user's data directory and is written by
// lib/execute. The elevated store lives in a root-owned system
// directory and is written only by the helper process, so a
// compromised caller cannot rewrite the history of elevated
// executions.
//
// Appends are serialized and durable: the store takes a single-writer
// lock and the underlying pool runs synchronous=FULL, so once Append
// returns the record survives a crash. See lib/sqlitepool for the
// pragma rationale.
package audit
