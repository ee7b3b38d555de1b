// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/botipc/cmd/botipc/cli"
	"github.com/bureau-foundation/botipc/lib/ipc"
)

// outputFlags control how a payload is printed.
type outputFlags struct {
	jq      string
	raw     bool
	color   string
	quiet   bool
	flagSet *pflag.FlagSet
}

func (f *outputFlags) register(flagSet *pflag.FlagSet) {
	f.flagSet = flagSet
	flagSet.StringVar(&f.jq, "jq", "", "jq filter applied to the payload")
	flagSet.BoolVarP(&f.raw, "raw", "r", false, "print string results without quotes")
	flagSet.StringVar(&f.color, "color", "auto", "color output: auto, always or never")
	flagSet.BoolVarP(&f.quiet, "quiet", "q", false, "do not print the status line")
}

func (f *outputFlags) printer(out, errOut io.Writer) (*cli.Printer, error) {
	options := cli.PrinterOptions{Filter: f.jq, Raw: f.raw}
	switch f.color {
	case "auto":
	case "always", "never":
		force := f.color == "always"
		options.Color = &force
	default:
		return nil, fmt.Errorf("--color must be auto, always or never, got %q", f.color)
	}
	return cli.NewPrinter(out, errOut, options)
}

func callCommand(out, errOut io.Writer) *cli.Command {
	var (
		connection connectionFlags
		output     outputFlags
		data       string
	)

	return &cli.Command{
		Name:    "call",
		Summary: "Send one request and print the response",
		Description: `Send one request to an endpoint and print the response payload.

Payload fields are given as arguments: key=value sets a string, and
key:=value sets a JSON value (number, boolean, array, object). --data
supplies a JSON object to start from; "@path" reads it from a file and
"@-" from stdin.

The status line goes to stderr. A non-2xx response exits with code 2
after printing the error.`,
		Usage: "botipc call <endpoint> [key=value | key:=json ...] [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("call", pflag.ContinueOnError)
			connection.register(flagSet)
			output.register(flagSet)
			flagSet.StringVarP(&data, "data", "d", "", "JSON object payload, @file or @- for stdin")
			return flagSet
		},
		Examples: []cli.Example{
			{
				Description: "Look up a member",
				Command:     "botipc call /member guild_id=81384788765712384 user_id=80351110224678912",
			},
			{
				Description: "Call a server on a unix socket with a JSON payload",
				Command:     `botipc call /echo --socket /run/botipc.sock -d '{"n": 1}'`,
			},
		},
		Run: func(ctx context.Context, args []string) error {
			if len(args) == 0 {
				return errors.New("endpoint required\n\nUsage: botipc call <endpoint> [key=value ...]")
			}
			// Route names always carry the leading slash; accept "ping" for "/ping".
			endpoint, err := ipc.NormalizeName(args[0])
			if err != nil {
				return err
			}

			payload, err := buildPayload(data, args[1:])
			if err != nil {
				return err
			}
			printer, err := output.printer(out, errOut)
			if err != nil {
				return err
			}
			session, cleanup, err := connection.session(errOut)
			if err != nil {
				return err
			}
			defer cleanup()

			response, err := session.Request(ctx, endpoint, payload)
			return printResponse(ctx, printer, response, err, output.quiet)
		},
	}
}

// printResponse prints a response or the error that replaced it. A
// non-2xx response is printed and turned into exit code 2.
func printResponse(ctx context.Context, printer *cli.Printer, response *ipc.Response, err error, quiet bool) error {
	var statusErr *ipc.StatusError
	if err != nil && !errors.As(err, &statusErr) {
		return describeError(err)
	}

	if !quiet || statusErr != nil {
		printer.Status(response.Status, response.Error, response.RequestID)
	}
	if statusErr != nil {
		return &cli.ExitError{Code: 2}
	}
	if response.Payload == nil {
		return nil
	}
	return printer.Payload(ctx, response.Payload)
}

// buildPayload merges the --data object with key=value and key:=json
// arguments. Later arguments win.
func buildPayload(data string, args []string) (map[string]any, error) {
	payload := map[string]any{}

	if data != "" {
		raw := []byte(data)
		if path, ok := strings.CutPrefix(data, "@"); ok {
			var err error
			if path == "-" {
				raw, err = io.ReadAll(os.Stdin)
			} else {
				raw, err = os.ReadFile(path)
			}
			if err != nil {
				return nil, fmt.Errorf("reading --data: %w", err)
			}
		}
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, fmt.Errorf("--data must be a JSON object: %w", err)
		}
	}

	for _, arg := range args {
		if key, value, ok := strings.Cut(arg, ":="); ok && key != "" && !strings.Contains(key, "=") {
			var decoded any
			if err := json.Unmarshal([]byte(value), &decoded); err != nil {
				return nil, fmt.Errorf("argument %q: value is not valid JSON: %w", arg, err)
			}
			payload[key] = decoded
			continue
		}
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("argument %q: expected key=value or key:=json", arg)
		}
		payload[key] = value
	}

	if len(payload) == 0 {
		return nil, nil
	}
	return payload, nil
}
