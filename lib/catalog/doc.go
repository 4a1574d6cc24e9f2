// Copyright 2026 The Caretaker Authors
// SPDX-License-Identifier: Apache-2.0

// Package catalog defines the capability catalog: the static, versioned
// table of maintenance operations the application may run.
//
// A [Capability] is a declarative descriptor — command path, argument
// template, trust tier, preconditions. Capabilities carry no behavior:
// the preflight engine evaluates their preconditions, the executors run
// their commands. The catalog is immutable after [Load] and therefore
// safe for concurrent readers without locking.
//
// Catalogs are authored on disk as JSONC (JSON extended with comments
// and trailing commas), one entry per capability. A schema violation in
// a single entry skips that entry with a logged warning; the rest of
// the catalog loads. An unreadable file or malformed top-level document
// is fatal.
//
// Argument templates are ordered token lists. A token is either a
// literal, passed through verbatim, or a whole-token parameter of the
// form ${name}, substituted at [Capability.Resolve] time. Partial
// interpolation inside a token ("--path=${p}") is rejected at load
// time, so caller-supplied parameter values can never splice into a
// literal argument — injection is structurally impossible, not merely
// avoided by convention.
package catalog
