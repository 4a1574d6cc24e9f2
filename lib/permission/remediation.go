// Copyright 2026 The Caretaker Authors
// SPDX-License-Identifier: Apache-2.0

package permission

import "fmt"

// Step is one machine-readable remediation action. Target is a deep
// link (System Settings pane URL or similar) the host UI can route an
// "open settings" action to; this subsystem never renders UI.
type Step struct {
	// Description is a short human-readable instruction.
	Description string `json:"description"`

	// Target is the deep link to act on, empty when the step is
	// purely instructional.
	Target string `json:"target,omitempty"`
}

// Settings pane deep links. These are the stable x-apple URLs for the
// privacy panes involved.
const (
	automationPane = "x-apple.systempreferences:com.apple.preference.security?Privacy_Automation"
	fullDiskPane   = "x-apple.systempreferences:com.apple.preference.security?Privacy_AllFiles"
)

// Remediation returns the ordered steps a user can take to grant kind.
// Pure data, independent of current status.
func Remediation(kind Kind) []Step {
	switch kind.Class {
	case ClassAutomation:
		return []Step{
			{
				Description: fmt.Sprintf("Open Privacy & Security → Automation and allow control of %s", kind.PeerAppID),
				Target:      automationPane,
			},
			{
				Description: fmt.Sprintf("If %s is not listed, launch it and retry so the consent prompt can appear", kind.PeerAppID),
			},
		}
	case ClassBroadFilesystem:
		return []Step{
			{
				Description: "Open Privacy & Security → Full Disk Access and enable Caretaker",
				Target:      fullDiskPane,
			},
			{
				Description: "Relaunch Caretaker after changing the setting",
			},
		}
	case ClassHelperInstalled:
		return []Step{
			{
				Description: "Install the privileged helper from Caretaker (administrator password required)",
			},
		}
	}
	return nil
}
