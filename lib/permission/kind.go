// Copyright 2026 The Caretaker Authors
// SPDX-License-Identifier: Apache-2.0

package permission

import "fmt"

// Class discriminates the closed set of permission kinds.
type Class string

const (
	// ClassAutomation is per-peer-application automation consent.
	ClassAutomation Class = "automation"

	// ClassBroadFilesystem is the broad filesystem access grant.
	ClassBroadFilesystem Class = "broad_filesystem"

	// ClassHelperInstalled is the privileged helper being installed
	// and current.
	ClassHelperInstalled Class = "helper_installed"
)

// Kind identifies one permission. Comparable, so it serves directly as
// the cache map key. PeerAppID is set only for ClassAutomation.
type Kind struct {
	Class     Class
	PeerAppID string
}

// Automation returns the Kind for automation control of the given peer
// application bundle id.
func Automation(peerAppID string) Kind {
	return Kind{Class: ClassAutomation, PeerAppID: peerAppID}
}

// BroadFilesystem is the broad filesystem access Kind.
var BroadFilesystem = Kind{Class: ClassBroadFilesystem}

// HelperInstalled is the helper installation Kind.
var HelperInstalled = Kind{Class: ClassHelperInstalled}

// String renders the kind for logs and error messages.
func (k Kind) String() string {
	if k.Class == ClassAutomation {
		return fmt.Sprintf("%s(%s)", k.Class, k.PeerAppID)
	}
	return string(k.Class)
}

// Status is the current grant state of a permission.
type Status string

const (
	// Granted: the permission is held.
	Granted Status = "granted"

	// Denied: the user explicitly refused. Recoverable only through
	// user action in System Settings.
	Denied Status = "denied"

	// NotDetermined: the OS has never asked the user. Requesting the
	// permission will trigger the consent prompt.
	NotDetermined Status = "not_determined"

	// Unknown: the probe could not classify the state (for
	// automation, typically because the peer application is not
	// running).
	Unknown Status = "unknown"
)
