// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"io"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/botipc/cmd/botipc/cli"
)

func discoverCommand(out, errOut io.Writer) *cli.Command {
	var (
		connection connectionFlags
		output     outputFlags
	)

	return &cli.Command{
		Name:    "discover",
		Summary: "Ask the discovery server for the main port",
		Description: `Connect to the discovery server and print the main port, transport
and codec it reports. The discovery port comes from the config file's
client.discovery_port or --discovery-port.`,
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("discover", pflag.ContinueOnError)
			connection.register(flagSet)
			output.register(flagSet)
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

			info, err := session.Discover(ctx)
			if err != nil {
				return describeError(err)
			}
			return printer.Payload(ctx, info)
		},
	}
}
