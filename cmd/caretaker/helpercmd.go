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
	"github.com/caretaker-app/caretaker/lib/authproof"
	"github.com/caretaker-app/caretaker/lib/installer"
)

func helperCommand() *cli.Command {
	return &cli.Command{
		Name:    "helper",
		Summary: "manage the privileged helper installation",
		Subcommands: []*cli.Command{
			helperStatusCommand(),
			helperInstallCommand(),
			helperUninstallCommand(),
		},
	}
}

func helperStatusCommand() *cli.Command {
	var configPath string
	return &cli.Command{
		Name:    "status",
		Summary: "report whether the helper is installed and current",
		Usage:   "caretaker helper status [flags]",
		Flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("status", pflag.ContinueOnError)
			fs.StringVar(&configPath, "config", "", "config file path")
			return fs
		},
		Run: func(args []string) error {
			if len(args) != 0 {
				return fmt.Errorf("status takes no arguments")
			}
			app, err := buildApp(configPath)
			if err != nil {
				return err
			}
			defer app.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			state, err := app.installer.Status(ctx)
			if err != nil {
				return err
			}
			switch state.Phase {
			case installer.PhaseNotInstalled:
				fmt.Println("helper: not installed")
			case installer.PhaseInstalled:
				fmt.Printf("helper: installed (version %s)\n", state.Version)
			case installer.PhaseOutdated:
				fmt.Printf("helper: outdated (version %s, reinstall required)\n", state.Version)
			}
			return nil
		},
	}
}

func helperInstallCommand() *cli.Command {
	var configPath string
	return &cli.Command{
		Name:    "install",
		Summary: "install or upgrade the helper from the bundled binary",
		Usage:   "caretaker helper install [flags]",
		Flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("install", pflag.ContinueOnError)
			fs.StringVar(&configPath, "config", "", "config file path")
			return fs
		},
		Run: func(args []string) error {
			if len(args) != 0 {
				return fmt.Errorf("install takes no arguments")
			}
			app, err := buildApp(configPath)
			if err != nil {
				return err
			}
			defer app.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			proof, err := app.proofs.ProofFor(ctx, authproof.RightAdmin)
			if err != nil {
				return fmt.Errorf("minting admin proof: %w", err)
			}
			if err := app.installer.Install(ctx, proof); err != nil {
				return err
			}
			fmt.Println("helper installed")
			return nil
		},
	}
}

func helperUninstallCommand() *cli.Command {
	var configPath string
	return &cli.Command{
		Name:    "uninstall",
		Summary: "remove the installed helper binary and manifest",
		Usage:   "caretaker helper uninstall [flags]",
		Flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("uninstall", pflag.ContinueOnError)
			fs.StringVar(&configPath, "config", "", "config file path")
			return fs
		},
		Run: func(args []string) error {
			if len(args) != 0 {
				return fmt.Errorf("uninstall takes no arguments")
			}
			app, err := buildApp(configPath)
			if err != nil {
				return err
			}
			defer app.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			proof, err := app.proofs.ProofFor(ctx, authproof.RightAdmin)
			if err != nil {
				return fmt.Errorf("minting admin proof: %w", err)
			}
			if err := app.installer.Uninstall(ctx, proof); err != nil {
				return err
			}
			fmt.Println("helper uninstalled")
			return nil
		},
	}
}
