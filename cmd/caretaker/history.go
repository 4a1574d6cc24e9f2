// Copyright 2026 The Caretaker Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/caretaker-app/caretaker/cmd/caretaker/cli"
	"github.com/caretaker-app/caretaker/lib/audit"
	"github.com/caretaker-app/caretaker/lib/catalog"
)

func historyCommand() *cli.Command {
	var (
		configPath   string
		capabilityID string
		tierFlag     string
		sinceFlag    time.Duration
		failedOnly   bool
	)
	return &cli.Command{
		Name:    "history",
		Summary: "show the caller-side audit log",
		Usage:   "caretaker history [flags]",
		Examples: []cli.Example{
			{Description: "Show failures from the last day", Command: "caretaker history --since 24h --failed"},
			{Description: "Show every run of one capability", Command: "caretaker history --capability quick.dns.flush"},
		},
		Subcommands: []*cli.Command{historyPurgeCommand()},
		Flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("history", pflag.ContinueOnError)
			fs.StringVar(&configPath, "config", "", "config file path")
			fs.StringVar(&capabilityID, "capability", "", "restrict to one capability ID")
			fs.StringVar(&tierFlag, "tier", "", "restrict to one trust tier (user or elevated)")
			fs.DurationVar(&sinceFlag, "since", 0, "restrict to records newer than this age (e.g. 24h)")
			fs.BoolVar(&failedOnly, "failed", false, "show only records that did not complete")
			return fs
		},
		Run: func(args []string) error {
			if len(args) != 0 {
				return fmt.Errorf("history takes no arguments")
			}

			filter := audit.Filter{
				CapabilityID: capabilityID,
				Failed:       failedOnly,
			}
			if tierFlag != "" {
				tier, err := catalog.ParseTrustTier(tierFlag)
				if err != nil {
					return err
				}
				filter.Tier = tier
			}

			app, err := buildApp(configPath)
			if err != nil {
				return err
			}
			defer app.Close()

			if sinceFlag > 0 {
				filter.Since = time.Now().Add(-sinceFlag)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			records, err := app.store.Query(ctx, filter)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Println("no records")
				return nil
			}

			tw := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
			fmt.Fprintln(tw, "STARTED\tCAPABILITY\tTIER\tSTATUS\tEXIT\tREQUESTER")
			for _, record := range records {
				exit := "-"
				if record.ExitCode != nil {
					exit = strconv.Itoa(*record.ExitCode)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
					record.StartedAt.Local().Format(time.DateTime),
					record.CapabilityID, record.TrustTier, record.Status,
					exit, record.Requester)
			}
			return tw.Flush()
		},
	}
}

func historyPurgeCommand() *cli.Command {
	var configPath string
	return &cli.Command{
		Name:    "purge",
		Summary: "delete every record from the caller-side audit log",
		Usage:   "caretaker history purge [flags]",
		Flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("purge", pflag.ContinueOnError)
			fs.StringVar(&configPath, "config", "", "config file path")
			return fs
		},
		Run: func(args []string) error {
			if len(args) != 0 {
				return fmt.Errorf("purge takes no arguments")
			}
			app, err := buildApp(configPath)
			if err != nil {
				return err
			}
			defer app.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := app.store.Purge(ctx); err != nil {
				return err
			}
			fmt.Println("audit log purged")
			return nil
		},
	}
}
