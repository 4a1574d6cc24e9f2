// Copyright 2026 The Caretaker Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/caretaker-app/caretaker/cmd/caretaker/cli"
	"github.com/caretaker-app/caretaker/lib/permission"
)

func preflightCommand() *cli.Command {
	var configPath string
	return &cli.Command{
		Name:    "preflight",
		Summary: "evaluate a capability's preconditions without executing it",
		Usage:   "caretaker preflight <capability-id> [flags]",
		Examples: []cli.Example{
			{Description: "Check whether the DNS flush can run", Command: "caretaker preflight quick.dns.flush"},
		},
		Flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("preflight", pflag.ContinueOnError)
			fs.StringVar(&configPath, "config", "", "config file path")
			return fs
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("usage: caretaker preflight <capability-id>")
			}
			app, err := buildApp(configPath)
			if err != nil {
				return err
			}
			defer app.Close()

			capability := app.catalog.Get(args[0])
			if capability == nil {
				return fmt.Errorf("unknown capability %q", args[0])
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			report, err := app.engine.Validate(ctx, capability)
			if err != nil {
				return fmt.Errorf("evaluating preconditions: %w", err)
			}

			if report.CanExecute {
				fmt.Printf("%s: ready to execute\n", capability.ID)
				return nil
			}

			fmt.Printf("%s: cannot execute\n", capability.ID)
			for _, failed := range report.FailedChecks {
				fmt.Printf("  failed: %s\n", failed.Reason)
			}
			for _, kind := range report.MissingPermissions {
				fmt.Printf("  missing permission: %s\n", kind)
				for _, step := range permission.Remediation(kind) {
					if step.Target != "" {
						fmt.Printf("    - %s (%s)\n", step.Description, step.Target)
					} else {
						fmt.Printf("    - %s\n", step.Description)
					}
				}
			}
			return fmt.Errorf("preflight failed")
		},
	}
}
