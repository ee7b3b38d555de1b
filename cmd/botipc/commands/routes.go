// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"io"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/botipc/cmd/botipc/cli"
)

func routesCommand(out, errOut io.Writer) *cli.Command {
	var (
		connection connectionFlags
		output     outputFlags
		asJSON     bool
	)

	return &cli.Command{
		Name:    "routes",
		Summary: "List the server's routes",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("routes", pflag.ContinueOnError)
			connection.register(flagSet)
			output.register(flagSet)
			flagSet.BoolVar(&asJSON, "json", false, "print the list as JSON")
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			printer, err := output.printer(out, errOut)
			if err != nil {
				return err
			}
			session, cleanup, err := connection.session(errOut)
			if err != nil {
				return err
			}
			defer cleanup()

			var names []string
			if err := session.Call(ctx, "/routes", nil, &names); err != nil {
				return describeError(err)
			}
			if asJSON || output.jq != "" {
				if names == nil {
					names = []string{}
				}
				return printer.Payload(ctx, names)
			}
			return printer.Lines(names)
		},
	}
}
