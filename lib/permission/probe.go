// Copyright 2026 The Caretaker Authors
// SPDX-License-Identifier: Apache-2.0

package permission

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// ErrPeerNotRunning reports that an automation probe could not reach
// the peer application because it is not running. Distinct from a
// denial: the right remediation is launching the peer, not opening
// System Settings.
var ErrPeerNotRunning = errors.New("permission: peer application is not running")

// osascript error codes embedded in stderr when a no-op control
// message fails. -1743 is the explicit "not authorized to send Apple
// events" denial; -600 is "application isn't running".
const (
	appleEventDenied     = "-1743"
	appleEventNoReceiver = "-600"
)

// SystemProber probes live permission state by sending no-op control
// messages and inspecting protected paths. It shells out to system
// tools read-only; run is injectable for tests.
type SystemProber struct {
	// run executes a probe command and returns its combined output.
	// Defaults to exec.CommandContext. The error is the process
	// error; output is returned in both cases.
	run func(ctx context.Context, name string, args ...string) ([]byte, error)

	// protectedPath is a path readable only with broad filesystem
	// access. Defaults to the user's Safari support directory.
	protectedPath string

	// helperSocket is the installed helper's socket path, used for
	// the HelperInstalled kind.
	helperSocket string
}

// NewSystemProber creates the production prober. helperSocket is the
// path the installed helper listens on.
func NewSystemProber(helperSocket string) *SystemProber {
	home, _ := os.UserHomeDir()
	return &SystemProber{
		run: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, name, args...).CombinedOutput()
		},
		protectedPath: filepath.Join(home, "Library", "Safari"),
		helperSocket:  helperSocket,
	}
}

// Probe implements Prober.
func (p *SystemProber) Probe(ctx context.Context, kind Kind) (Status, error) {
	switch kind.Class {
	case ClassAutomation:
		return p.probeAutomation(ctx, kind.PeerAppID)
	case ClassBroadFilesystem:
		return p.probeBroadFilesystem()
	case ClassHelperInstalled:
		return p.probeHelperInstalled()
	}
	return Unknown, fmt.Errorf("permission: unknown kind %q", kind.Class)
}

// probeAutomation sends a no-op Apple event to the peer and classifies
// the failure. Success means consent is granted; the denial code means
// the user refused; a missing receiver means the peer is not running
// (state unknowable until it is); any other failure means the OS has
// never asked.
func (p *SystemProber) probeAutomation(ctx context.Context, peerAppID string) (Status, error) {
	script := fmt.Sprintf("tell application id %q to count windows", peerAppID)
	output, err := p.run(ctx, "/usr/bin/osascript", "-e", script)
	if err == nil {
		return Granted, nil
	}

	text := string(output)
	switch {
	case strings.Contains(text, appleEventDenied):
		return Denied, nil
	case strings.Contains(text, appleEventNoReceiver):
		return Unknown, ErrPeerNotRunning
	default:
		return NotDetermined, nil
	}
}

// probeBroadFilesystem checks whether a protected directory is
// listable. Reading metadata of a TCC-protected path fails with
// EPERM until the grant exists.
func (p *SystemProber) probeBroadFilesystem() (Status, error) {
	_, err := os.ReadDir(p.protectedPath)
	if err == nil {
		return Granted, nil
	}
	if os.IsPermission(err) {
		return Denied, nil
	}
	if os.IsNotExist(err) {
		// Nothing protected to test against; cannot classify.
		return Unknown, nil
	}
	return Unknown, fmt.Errorf("probing %s: %w", p.protectedPath, err)
}

// probeHelperInstalled checks for the helper's socket. Liveness and
// version currency are the installer's concern; the permission surface
// only distinguishes "present" from "absent".
func (p *SystemProber) probeHelperInstalled() (Status, error) {
	if p.helperSocket == "" {
		return Unknown, nil
	}
	if _, err := os.Stat(p.helperSocket); err != nil {
		if os.IsNotExist(err) {
			return Denied, nil
		}
		return Unknown, err
	}
	return Granted, nil
}

// RequestConsent implements Prober. For automation, sending the no-op
// control message is itself what makes the OS show the consent prompt
// when the state is NotDetermined. For the other kinds there is no
// programmatic prompt; the caller surfaces Remediation steps instead.
func (p *SystemProber) RequestConsent(ctx context.Context, kind Kind) error {
	switch kind.Class {
	case ClassAutomation:
		script := fmt.Sprintf("tell application id %q to count windows", kind.PeerAppID)
		// Outcome deliberately ignored: the prompt is the point, and
		// the user's decision arrives out-of-band. Callers re-Check.
		_, _ = p.run(ctx, "/usr/bin/osascript", "-e", script)
		return nil
	case ClassBroadFilesystem, ClassHelperInstalled:
		return fmt.Errorf("permission: %s has no programmatic consent prompt, surface remediation steps", kind.Class)
	}
	return fmt.Errorf("permission: unknown kind %q", kind.Class)
}
