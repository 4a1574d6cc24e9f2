// Copyright 2026 The Caretaker Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/caretaker-app/caretaker/cmd/caretaker/cli"
)

func listCommand() *cli.Command {
	var configPath string
	return &cli.Command{
		Name:    "list",
		Summary: "list the capabilities in the catalog",
		Usage:   "caretaker list [flags]",
		Flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("list", pflag.ContinueOnError)
			fs.StringVar(&configPath, "config", "", "config file path")
			return fs
		},
		Run: func(args []string) error {
			if len(args) != 0 {
				return fmt.Errorf("list takes no arguments")
			}
			app, err := buildApp(configPath)
			if err != nil {
				return err
			}
			defer app.Close()

			tw := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
			fmt.Fprintln(tw, "ID\tTIER\tCOMMAND\tPARAMS")
			for _, capability := range app.catalog.All() {
				params := strings.Join(capability.Params(), ",")
				if params == "" {
					params = "-"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
					capability.ID, capability.Tier, capability.Command.Path, params)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			for _, problem := range app.catalog.Validate() {
				fmt.Fprintf(os.Stderr, "warning: %s\n", problem)
			}
			return nil
		},
	}
}
