// Copyright 2026 The Caretaker Authors
// SPDX-License-Identifier: Apache-2.0

package catalog

import (
	"fmt"
	"regexp"
	"strings"
)

// TrustTier determines which executor runs a capability.
type TrustTier string

const (
	// TierUser runs in the caller's own security context.
	TierUser TrustTier = "user"

	// TierElevated runs via the separately-installed privileged helper.
	TierElevated TrustTier = "elevated"
)

// ParseTrustTier validates a tier string from the catalog file.
func ParseTrustTier(s string) (TrustTier, error) {
	switch TrustTier(s) {
	case TierUser, TierElevated:
		return TrustTier(s), nil
	}
	return "", fmt.Errorf("unknown trust tier %q", s)
}

// PreconditionKind discriminates the closed set of precondition
// variants. The preflight engine switches exhaustively over this set;
// an unrecognized kind is a loud evaluation error, never a silently
// skipped branch.
type PreconditionKind string

const (
	PathExists                  PreconditionKind = "path_exists"
	PathWritable                PreconditionKind = "path_writable"
	AppRunning                  PreconditionKind = "app_running"
	AppNotRunning               PreconditionKind = "app_not_running"
	DiskSpaceAvailable          PreconditionKind = "disk_space_available"
	IntegrityProtectionEnabled  PreconditionKind = "integrity_protection_enabled"
	AutomationPermissionGranted PreconditionKind = "automation_permission"
)

// Precondition is one declared precondition of a capability. Kind
// selects the variant; only the fields that variant needs are set.
// Each variant carries exactly the data required to evaluate it with
// a read-only system probe.
type Precondition struct {
	Kind PreconditionKind `json:"type"`

	// Path is set for PathExists, PathWritable, and
	// DiskSpaceAvailable (the volume to check).
	Path string `json:"path,omitempty"`

	// BundleID is set for AppRunning and AppNotRunning.
	BundleID string `json:"bundle_id,omitempty"`

	// PeerAppID is set for AutomationPermissionGranted.
	PeerAppID string `json:"peer_app_id,omitempty"`

	// Min is the human-readable minimum free space token for
	// DiskSpaceAvailable ("1GB", "500MB"), interpreted base-1024.
	Min string `json:"min,omitempty"`
}

// String renders the precondition for failure reasons and log lines.
func (p Precondition) String() string {
	switch p.Kind {
	case PathExists:
		return fmt.Sprintf("path exists: %s", p.Path)
	case PathWritable:
		return fmt.Sprintf("path writable: %s", p.Path)
	case AppRunning:
		return fmt.Sprintf("app running: %s", p.BundleID)
	case AppNotRunning:
		return fmt.Sprintf("app not running: %s", p.BundleID)
	case DiskSpaceAvailable:
		return fmt.Sprintf("disk space on %s >= %s", p.Path, p.Min)
	case IntegrityProtectionEnabled:
		return "system integrity protection enabled"
	case AutomationPermissionGranted:
		return fmt.Sprintf("automation permission for %s", p.PeerAppID)
	}
	return fmt.Sprintf("unknown precondition %q", p.Kind)
}

// validate checks that the variant's required fields are present.
func (p Precondition) validate() error {
	switch p.Kind {
	case PathExists, PathWritable:
		if p.Path == "" {
			return fmt.Errorf("precondition %q: path is required", p.Kind)
		}
	case AppRunning, AppNotRunning:
		if p.BundleID == "" {
			return fmt.Errorf("precondition %q: bundle_id is required", p.Kind)
		}
	case DiskSpaceAvailable:
		if p.Path == "" || p.Min == "" {
			return fmt.Errorf("precondition %q: path and min are required", p.Kind)
		}
	case IntegrityProtectionEnabled:
		// No fields.
	case AutomationPermissionGranted:
		if p.PeerAppID == "" {
			return fmt.Errorf("precondition %q: peer_app_id is required", p.Kind)
		}
	default:
		return fmt.Errorf("unknown precondition type %q", p.Kind)
	}
	return nil
}

// Argument is one token of a command's argument template: either a
// literal passed through verbatim, or a whole-token parameter
// substituted at Resolve time. Exactly one of the two fields is set.
type Argument struct {
	Literal string
	Param   string
}

// parameterPattern matches a whole-token parameter reference.
var parameterPattern = regexp.MustCompile(`^\$\{([A-Za-z][A-Za-z0-9_.-]*)\}$`)

// parseArgument classifies a template token. A token that is exactly
// ${name} becomes a parameter; a token containing ${ anywhere else is
// a template error (partial interpolation is forbidden); anything else
// is a literal.
func parseArgument(token string) (Argument, error) {
	if match := parameterPattern.FindStringSubmatch(token); match != nil {
		return Argument{Param: match[1]}, nil
	}
	if strings.Contains(token, "${") {
		return Argument{}, fmt.Errorf("argument %q: parameters must be whole tokens", token)
	}
	return Argument{Literal: token}, nil
}

// Command is a strongly-typed (path, arguments) pair. Instances are
// constructed only from validated catalog templates, never from raw
// caller strings.
type Command struct {
	// Path is the absolute path to the executable.
	Path string

	// Args is the ordered argument template.
	Args []Argument
}

// Capability is an immutable descriptor of one maintenance operation.
type Capability struct {
	// ID is the stable string key ("quick.dns.flush").
	ID string

	// Command is the executable and its argument template.
	Command Command

	// Tier is the trust tier the capability executes at.
	Tier TrustTier

	// Preconditions are evaluated in declaration order by the
	// preflight engine.
	Preconditions []Precondition
}

// Params returns the names of the template's parameters in order of
// first appearance.
func (c *Capability) Params() []string {
	seen := make(map[string]bool)
	var names []string
	for _, arg := range c.Command.Args {
		if arg.Param != "" && !seen[arg.Param] {
			seen[arg.Param] = true
			names = append(names, arg.Param)
		}
	}
	return names
}

// Resolve produces the final argv (excluding the command path) from
// the template and the caller's parameter values. Every template
// parameter must be supplied; parameter names not present in the
// template are rejected so callers notice typos instead of silently
// passing ignored values.
func (c *Capability) Resolve(params map[string]string) ([]string, error) {
	wanted := make(map[string]bool)
	argv := make([]string, 0, len(c.Command.Args))
	for _, arg := range c.Command.Args {
		if arg.Param == "" {
			argv = append(argv, arg.Literal)
			continue
		}
		wanted[arg.Param] = true
		value, ok := params[arg.Param]
		if !ok {
			return nil, fmt.Errorf("capability %s: missing parameter %q", c.ID, arg.Param)
		}
		argv = append(argv, value)
	}
	for name := range params {
		if !wanted[name] {
			return nil, fmt.Errorf("capability %s: unknown parameter %q", c.ID, name)
		}
	}
	return argv, nil
}
