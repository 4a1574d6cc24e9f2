// Copyright 2026 The Caretaker Authors
// SPDX-License-Identifier: Apache-2.0

// Command caretaker is the operator CLI for the Caretaker maintenance
// subsystem: listing and running catalog capabilities, inspecting the
// audit history, and managing the privileged helper.
package main

import (
	"fmt"
	"os"

	"github.com/caretaker-app/caretaker/cmd/caretaker/cli"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	root := &cli.Command{
		Name:    "caretaker",
		Summary: "run system maintenance capabilities with audit and privilege gating",
		Subcommands: []*cli.Command{
			listCommand(),
			preflightCommand(),
			runCommand(),
			historyCommand(),
			helperCommand(),
			versionCommand(),
		},
	}
	return root.Execute(args)
}
