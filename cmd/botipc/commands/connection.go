// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/botipc/cmd/botipc/cli"
	"github.com/bureau-foundation/botipc/lib/codec"
	"github.com/bureau-foundation/botipc/lib/config"
	"github.com/bureau-foundation/botipc/lib/ipc"
)

// connectionFlags are the flags every command that talks to a server
// shares. Values the user did not set fall back to the config file.
type connectionFlags struct {
	configPath    string
	host          string
	port          int
	discoveryPort int
	transport     string
	socketPath    string
	codec         string
	secretFile    string
	secretPrompt  bool
	timeout       time.Duration
	retries       int
	verbose       bool

	flagSet *pflag.FlagSet
}

func (f *connectionFlags) register(flagSet *pflag.FlagSet) {
	f.flagSet = flagSet
	flagSet.StringVar(&f.configPath, "config", "", "config file (default $BOTIPC_CONFIG)")
	flagSet.StringVar(&f.host, "host", ipc.DefaultHost, "server host")
	flagSet.IntVar(&f.port, "port", ipc.DefaultPort, "server port (0 asks the discovery server)")
	flagSet.IntVar(&f.discoveryPort, "discovery-port", ipc.DefaultDiscoveryPort, "discovery server port")
	flagSet.StringVar(&f.transport, "transport", string(ipc.WebSocket), "transport: websocket, tcp or unix")
	flagSet.StringVar(&f.socketPath, "socket", "", "unix socket path")
	flagSet.StringVar(&f.codec, "codec", "", "wire codec (default json for websocket, cbor otherwise)")
	flagSet.StringVar(&f.secretFile, "secret-file", "", "read the shared secret from a file (- for stdin)")
	flagSet.BoolVar(&f.secretPrompt, "secret-prompt", false, "prompt for the shared secret")
	flagSet.DurationVar(&f.timeout, "timeout", ipc.DefaultSessionTimeout, "request timeout")
	flagSet.IntVar(&f.retries, "retries", 0, "retry failed dials this many times")
	flagSet.BoolVarP(&f.verbose, "verbose", "v", false, "log connection details")
}

// session loads the client config, applies flags and opens a session.
// The returned cleanup releases the secret.
func (f *connectionFlags) session(errOut io.Writer) (*ipc.ClientSession, func(), error) {
	if f.secretFile != "" && f.secretPrompt {
		return nil, nil, errors.New("--secret-file and --secret-prompt are mutually exclusive")
	}

	cfg, err := config.Resolve(f.configPath)
	if err != nil {
		return nil, nil, err
	}
	client := cfg.Client
	f.override(&client)

	transport, err := ipc.ParseTransport(client.Transport)
	if err != nil {
		return nil, nil, err
	}
	if transport == ipc.Unix && client.SocketPath == "" {
		return nil, nil, errors.New("the unix transport requires --socket")
	}
	var wire codec.Codec
	if client.Codec != "" {
		if wire, err = codec.ByName(client.Codec); err != nil {
			return nil, nil, err
		}
	}

	key, err := cli.SecretSource{
		File:     f.secretFile,
		Prompt:   f.secretPrompt,
		Fallback: client.SecretKeyFile,
	}.Resolve()
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if key != nil {
			key.Close()
		}
	}

	level, err := cfg.Logging.SlogLevel()
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	if f.verbose {
		level = slog.LevelDebug
	}

	session := ipc.NewClientSession(ipc.SessionConfig{
		Host:          client.Host,
		Port:          client.Port,
		DiscoveryPort: client.DiscoveryPort,
		SecretKey:     key,
		Transport:     transport,
		SocketPath:    client.SocketPath,
		Codec:         wire,
		Timeout:       client.Timeout.Std(),
		Retries:       client.Retries,
		Logger:        cli.NewCommandLogger(errOut, level, cfg.Logging.Format).With("command", "botipc"),
	})
	return session, cleanup, nil
}

// override applies the flags the user set explicitly.
func (f *connectionFlags) override(client *config.ClientConfig) {
	changed := func(name string) bool { return f.flagSet != nil && f.flagSet.Changed(name) }
	if changed("host") {
		client.Host = f.host
	}
	if changed("port") {
		client.Port = f.port
	}
	if changed("discovery-port") {
		client.DiscoveryPort = f.discoveryPort
	}
	if changed("transport") {
		client.Transport = f.transport
	}
	if changed("socket") {
		client.SocketPath = f.socketPath
		if !changed("transport") {
			client.Transport = string(ipc.Unix)
		}
	}
	if changed("codec") {
		client.Codec = f.codec
	}
	if changed("timeout") {
		client.Timeout = config.Duration(f.timeout)
	}
	if changed("retries") {
		client.Retries = f.retries
	}
}

// describeError adds a hint to session errors that users commonly hit.
func describeError(err error) error {
	var sessionErr *ipc.SessionError
	if errors.As(err, &sessionErr) && sessionErr.Op == "dial" {
		return fmt.Errorf("%w\n\nIs the server running? Check --host, --port and --transport.", err)
	}
	return err
}
