// Copyright 2026 The Caretaker Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/caretaker-app/caretaker/cmd/caretaker/cli"
	"github.com/caretaker-app/caretaker/lib/execute"
)

func runCommand() *cli.Command {
	var (
		configPath string
		paramFlags []string
		timeout    time.Duration
	)
	return &cli.Command{
		Name:    "run",
		Summary: "execute a capability",
		Usage:   "caretaker run <capability-id> [flags]",
		Examples: []cli.Example{
			{Description: "Flush the DNS cache", Command: "caretaker run quick.dns.flush"},
			{Description: "Run with a parameter and a tighter deadline", Command: "caretaker run cache.clear.app --param bundle_id=com.example.app --timeout 30s"},
		},
		Flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("run", pflag.ContinueOnError)
			fs.StringVar(&configPath, "config", "", "config file path")
			fs.StringArrayVar(&paramFlags, "param", nil, "capability parameter as key=value (repeatable)")
			fs.DurationVar(&timeout, "timeout", 0, "execution deadline (default from config)")
			return fs
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("usage: caretaker run <capability-id> [flags]")
			}
			params, err := cli.ParsePairs(paramFlags)
			if err != nil {
				return err
			}

			app, err := buildApp(configPath)
			if err != nil {
				return err
			}
			defer app.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			result, err := app.runner.Run(ctx, args[0], params, execute.Options{
				Timeout:   timeout,
				Requester: currentRequester(),
			})

			// Partial output is still worth showing: a timed-out or
			// failed command's stdout/stderr often explains what
			// happened.
			printResult(result)

			var execErr *execute.ExecError
			switch {
			case err == nil:
				return nil
			case errors.As(err, &execErr):
				return fmt.Errorf("%s exited with code %d", args[0], execErr.Result.ExitCode)
			case errors.Is(err, execute.ErrTimeout):
				return fmt.Errorf("%s timed out", args[0])
			default:
				return err
			}
		},
	}
}

func printResult(result execute.Result) {
	if result.Stdout != "" {
		fmt.Fprint(os.Stdout, result.Stdout)
		if result.Stdout[len(result.Stdout)-1] != '\n' {
			fmt.Fprintln(os.Stdout)
		}
	}
	if result.Stderr != "" {
		fmt.Fprint(os.Stderr, result.Stderr)
		if result.Stderr[len(result.Stderr)-1] != '\n' {
			fmt.Fprintln(os.Stderr)
		}
	}
}
