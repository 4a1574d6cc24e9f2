// Copyright 2026 The Caretaker Authors
// SPDX-License-Identifier: Apache-2.0

package catalog

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const sampleCatalog = `
// Caretaker capability catalog.
{
	"capabilities": [
		{
			"id": "quick.dns.flush",
			"command": "/usr/bin/dscacheutil",
			"args": ["-flushcache"],
			"trust_tier": "elevated",
			"preconditions": [
				{"type": "path_exists", "path": "/usr/bin/dscacheutil"},
			],
		},
		{
			"id": "cache.user.trim",
			"command": "/usr/bin/find",
			"args": ["${target}", "-type", "f", "-atime", "+30", "-delete"],
			"trust_tier": "user",
			"preconditions": [
				{"type": "path_writable", "path": "/tmp"},
				{"type": "disk_space_available", "path": "/", "min": "500MB"},
			],
		},
	],
}
`

func TestParseLoadsEntries(t *testing.T) {
	cat, err := Parse([]byte(sampleCatalog), discardLogger())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cat.Len() != 2 {
		t.Fatalf("Len = %d, want 2", cat.Len())
	}

	flush := cat.Get("quick.dns.flush")
	if flush == nil {
		t.Fatal("quick.dns.flush not found")
	}
	if flush.Tier != TierElevated {
		t.Errorf("Tier = %q, want elevated", flush.Tier)
	}
	if flush.Command.Path != "/usr/bin/dscacheutil" {
		t.Errorf("Command.Path = %q", flush.Command.Path)
	}

	// File order preserved.
	all := cat.All()
	if all[0].ID != "quick.dns.flush" || all[1].ID != "cache.user.trim" {
		t.Errorf("All order = [%s %s]", all[0].ID, all[1].ID)
	}
}

func TestParseSkipsInvalidEntries(t *testing.T) {
	cat, err := Parse([]byte(`{
		"capabilities": [
			{"id": "good", "command": "/usr/bin/true", "trust_tier": "user"},
			{"id": "bad.tier", "command": "/usr/bin/true", "trust_tier": "root"},
			{"id": "bad.relative", "command": "true", "trust_tier": "user"},
			{"id": "bad.precondition", "command": "/usr/bin/true", "trust_tier": "user",
			 "preconditions": [{"type": "phase_of_moon"}]},
			{"id": "bad.partial", "command": "/usr/bin/true", "trust_tier": "user",
			 "args": ["--path=${p}"]},
			{"command": "/usr/bin/true", "trust_tier": "user"}
		]
	}`), discardLogger())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cat.Len() != 1 {
		t.Errorf("Len = %d, want 1 (only the valid entry)", cat.Len())
	}
	if cat.Get("good") == nil {
		t.Error("valid entry should load despite invalid siblings")
	}
}

func TestParseRejectsMalformedDocument(t *testing.T) {
	if _, err := Parse([]byte(`{"capabilities": "nope"`), discardLogger()); err == nil {
		t.Error("malformed top-level document should be fatal")
	}
}

func TestParseSkipsDuplicateIDs(t *testing.T) {
	cat, err := Parse([]byte(`{
		"capabilities": [
			{"id": "dup", "command": "/usr/bin/true", "trust_tier": "user"},
			{"id": "dup", "command": "/usr/bin/false", "trust_tier": "user"}
		]
	}`), discardLogger())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cat.Len() != 1 {
		t.Errorf("Len = %d, want 1", cat.Len())
	}
	if cat.Get("dup").Command.Path != "/usr/bin/true" {
		t.Error("first entry should win on duplicate id")
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.jsonc")
	if err := os.WriteFile(path, []byte(sampleCatalog), 0o644); err != nil {
		t.Fatalf("writing catalog: %v", err)
	}
	cat, err := Load(path, discardLogger())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cat.Len() != 2 {
		t.Errorf("Len = %d, want 2", cat.Len())
	}
}

func TestResolve(t *testing.T) {
	cat, err := Parse([]byte(sampleCatalog), discardLogger())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	trim := cat.Get("cache.user.trim")

	argv, err := trim.Resolve(map[string]string{"target": "/Users/me/Library/Caches"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	want := []string{"/Users/me/Library/Caches", "-type", "f", "-atime", "+30", "-delete"}
	if !reflect.DeepEqual(argv, want) {
		t.Errorf("Resolve = %v, want %v", argv, want)
	}

	if _, err := trim.Resolve(nil); err == nil {
		t.Error("Resolve without required parameter should fail")
	}
	if _, err := trim.Resolve(map[string]string{"target": "/x", "extra": "y"}); err == nil {
		t.Error("Resolve with unknown parameter should fail")
	}
}

func TestResolveValueCannotSplice(t *testing.T) {
	cat, err := Parse([]byte(sampleCatalog), discardLogger())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	trim := cat.Get("cache.user.trim")

	// A hostile value stays a single argv token; it cannot become a
	// flag of its own or extend a literal.
	hostile := "/tmp; rm -rf /"
	argv, err := trim.Resolve(map[string]string{"target": hostile})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if argv[0] != hostile {
		t.Errorf("argv[0] = %q, want the raw value as one token", argv[0])
	}
	if len(argv) != 6 {
		t.Errorf("len(argv) = %d, want 6", len(argv))
	}
}

func TestParams(t *testing.T) {
	cat, err := Parse([]byte(sampleCatalog), discardLogger())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := cat.Get("cache.user.trim").Params(); !reflect.DeepEqual(got, []string{"target"}) {
		t.Errorf("Params = %v, want [target]", got)
	}
	if got := cat.Get("quick.dns.flush").Params(); got != nil {
		t.Errorf("Params = %v, want nil", got)
	}
}

func TestValidate(t *testing.T) {
	cat, err := Parse([]byte(`{
		"capabilities": [
			{"id": "clean", "command": "/usr/bin/true", "trust_tier": "user"},
			{"id": "parameterized.elevated", "command": "/usr/sbin/diskutil",
			 "args": ["repairVolume", "${volume}"], "trust_tier": "elevated"},
			{"id": "relative.precondition", "command": "/usr/bin/true", "trust_tier": "user",
			 "preconditions": [{"type": "path_exists", "path": "Library/Caches"}]}
		]
	}`), discardLogger())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	problems := cat.Validate()
	if len(problems) != 2 {
		t.Fatalf("Validate = %v, want 2 problems", problems)
	}
	if !strings.Contains(problems[0], "parameterized.elevated") {
		t.Errorf("problems[0] = %q", problems[0])
	}
	if !strings.Contains(problems[1], "relative.precondition") {
		t.Errorf("problems[1] = %q", problems[1])
	}

	clean, err := Parse([]byte(sampleCatalog), discardLogger())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	// sampleCatalog's elevated entry takes no parameters, so only a
	// clean result proves the advisory pass doesn't flag normal shapes.
	if problems := clean.Validate(); len(problems) != 0 {
		t.Errorf("Validate(sample) = %v, want none", problems)
	}
}

func TestPreconditionString(t *testing.T) {
	p := Precondition{Kind: DiskSpaceAvailable, Path: "/", Min: "1GB"}
	if got := p.String(); got != "disk space on / >= 1GB" {
		t.Errorf("String = %q", got)
	}
}
