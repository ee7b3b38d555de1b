// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"io"

	"github.com/bureau-foundation/botipc/cmd/botipc/cli"
)

// Root returns the botipc command tree. Command output goes to out;
// help, status lines and logs go to errOut.
func Root(out, errOut io.Writer) *cli.Command {
	return &cli.Command{
		Name: "botipc",
		Description: `Send requests to a botipc server.

Connection settings come from the client section of the config file
named by --config or BOTIPC_CONFIG, when there is one. Flags override
the file.`,
		HelpOutput: errOut,
		Subcommands: []*cli.Command{
			callCommand(out, errOut),
			discoverCommand(out, errOut),
			routesCommand(out, errOut),
			versionCommand(out, errOut),
		},
		Examples: []cli.Example{
			{
				Description: "Check that the server is up",
				Command:     "botipc call /ping",
			},
			{
				Description: "List a guild's channel names",
				Command:     "botipc call /channels guild_id=81384788765712384 --jq '.[].name' -r",
			},
		},
	}
}
