// Copyright 2026 The Caretaker Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool provides the Caretaker-standard SQLite connection
// pool, wrapping zombiezen.com/go/sqlite.
//
// The only local structured storage in this subsystem is the audit
// log, so the pragmas are tuned for durable appends rather than read
// throughput:
//
//   - journal_mode=WAL: write-ahead logging for concurrent readers and
//     a single writer. History queries never block appends.
//   - synchronous=FULL: an append that has returned survives OS
//     crashes and power failure, not just process crashes. The audit
//     log is the evidence trail for elevated executions; losing the
//     tail of it on crash would defeat its purpose. Appends are rare
//     (one per execution attempt), so the per-commit fsync cost is
//     irrelevant.
//   - busy_timeout=5000: wait up to 5 seconds for a write lock instead
//     of returning SQLITE_BUSY immediately.
//   - foreign_keys=OFF: the schema is a single append-only table.
//
// The pool is built on zombiezen's sqlitex.Pool. Callers [Pool.Take] a
// connection, perform work, and [Pool.Put] it back. Connections are
// NOT safe for concurrent use — each goroutine must hold its own
// connection for the duration of its work.
//
// This package is intentionally thin: it applies standard pragmas and
// exposes the underlying zombiezen types directly. Callers write SQL
// and manage transactions with sqlitex; there is no query-builder
// abstraction layered on top.
package sqlitepool
