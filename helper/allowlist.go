// Copyright 2026 The Caretaker Authors
// SPDX-License-Identifier: Apache-2.0

package helper

// Allowlist is the set of absolute command paths the helper will run.
// Membership is an exact string comparison on the path the client
// sent; the helper never resolves symlinks or expands anything.
type Allowlist map[string]struct{}

// DefaultAllowlist returns the compiled-in allowlist. These are the
// system maintenance tools elevated capabilities are built from. The
// list is part of the helper binary: extending it requires shipping
// and reinstalling a new helper.
func DefaultAllowlist() Allowlist {
	return Allowlist{
		"/usr/bin/dscacheutil": {},
		"/usr/bin/killall":     {},
		"/usr/sbin/purge":      {},
		"/usr/bin/mdutil":      {},
		"/usr/bin/tmutil":      {},
		"/usr/sbin/diskutil":   {},
		"/usr/bin/atsutil":     {},
		"/usr/sbin/periodic":   {},
		"/usr/bin/qlmanage":    {},
		"/usr/sbin/nvram":      {},
	}
}

// Contains reports whether path is allowlisted.
func (a Allowlist) Contains(path string) bool {
	_, ok := a[path]
	return ok
}
