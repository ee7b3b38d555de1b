// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/botipc/cmd/botipc/cli"
	"github.com/bureau-foundation/botipc/lib/version"
)

func versionCommand(out, errOut io.Writer) *cli.Command {
	var (
		connection connectionFlags
		server     bool
	)

	return &cli.Command{
		Name:    "version",
		Summary: "Print version information",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("version", pflag.ContinueOnError)
			connection.register(flagSet)
			flagSet.BoolVar(&server, "server", false, "also ask the server for its version")
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			fmt.Fprintf(out, "botipc %s\n", version.Full())
			if !server {
				return nil
			}

			session, cleanup, err := connection.session(errOut)
			if err != nil {
				return err
			}
			defer cleanup()

			var info version.BuildInfo
			if err := session.Call(ctx, "/version", nil, &info); err != nil {
				return describeError(err)
			}
			dirty := ""
			if info.Dirty {
				dirty = "-dirty"
			}
			fmt.Fprintf(out, "server %s (%s%s, %s)\n  Go: %s\n  Platform: %s\n",
				info.Version, info.Commit, dirty, info.BuildTime, info.GoVersion, info.Platform)
			return nil
		},
	}
}
