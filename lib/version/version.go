// Copyright 2026 The Caretaker Authors
// SPDX-License-Identifier: Apache-2.0

// Package version provides build version information for Caretaker
// binaries and the helper protocol version used for skew detection.
//
// Build information is injected at build time via -ldflags, for example:
//
//	go build -ldflags "-X github.com/caretaker-app/caretaker/lib/version.GitCommit=$(git rev-parse --short HEAD)"
package version

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"
)

// These variables are set via -ldflags at build time.
var (
	// GitCommit is the short git SHA of the build.
	GitCommit = "unknown"

	// GitDirty indicates whether there were uncommitted changes.
	GitDirty = "false"

	// BuildTime is the UTC timestamp of the build.
	BuildTime = "unknown"

	// Version is the semantic version. This is set manually for releases.
	Version = "0.1.0-dev"
)

// RequiredHelperVersion is the minimum helper version this build of
// the application will talk to. When the installed helper reports an
// older version, the installer returns Outdated and the channel client
// refuses to issue elevated requests until the helper is reinstalled.
const RequiredHelperVersion = "0.1.0"

// Info returns a formatted version string suitable for --version output.
func Info() string {
	dirty := ""
	if GitDirty == "true" {
		dirty = "-dirty"
	}
	return fmt.Sprintf("%s (%s%s, %s)", Version, GitCommit, dirty, BuildTime)
}

// Full returns detailed version information including Go version.
func Full() string {
	return fmt.Sprintf("%s\n  Go: %s\n  Platform: %s/%s",
		Info(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// Short returns just the version number.
func Short() string { return Version }

// Older reports whether version a is strictly older than version b.
// Versions are compared as dotted numeric tuples; a pre-release suffix
// (anything after "-") is ignored for ordering. Unparseable components
// compare as zero, so a malformed helper version reads as maximally
// old, which forces a reinstall rather than trusting protocol
// compatibility.
func Older(a, b string) bool {
	as := components(a)
	bs := components(b)
	for i := 0; i < len(as) || i < len(bs); i++ {
		av, bv := 0, 0
		if i < len(as) {
			av = as[i]
		}
		if i < len(bs) {
			bv = bs[i]
		}
		if av != bv {
			return av < bv
		}
	}
	return false
}

// components parses "1.2.3-rc1" into [1 2 3].
func components(v string) []int {
	v, _, _ = strings.Cut(v, "-")
	parts := strings.Split(v, ".")
	out := make([]int, len(parts))
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil {
			n = 0
		}
		out[i] = n
	}
	return out
}
