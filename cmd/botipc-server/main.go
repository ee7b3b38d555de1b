// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Botipc-server serves the botipc IPC protocol. It loads a config file,
// registers the built-in routes (/ping, /routes, /stats, /version),
// connects to Discord and registers the bridge routes when a bot token
// is configured, and serves until SIGINT or SIGTERM.
//
// The config file is named by --config or BOTIPC_CONFIG. There is no
// fallback: a server without a config file refuses to start.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/bureau-foundation/botipc/lib/clock"
	"github.com/bureau-foundation/botipc/lib/codec"
	"github.com/bureau-foundation/botipc/lib/config"
	"github.com/bureau-foundation/botipc/lib/discordipc"
	"github.com/bureau-foundation/botipc/lib/ipc"
	"github.com/bureau-foundation/botipc/lib/process"
	"github.com/bureau-foundation/botipc/lib/version"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		configPath  string
		showVersion bool
	)
	flagSet := pflag.NewFlagSet("botipc-server", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "config file (default $BOTIPC_CONFIG)")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	if showVersion {
		fmt.Printf("botipc-server %s\n", version.Full())
		return nil
	}

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration:\n%w", err)
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverConfig, err := ipcConfig(cfg.Server, logger)
	if err != nil {
		return err
	}
	if serverConfig.SecretKey != nil {
		defer serverConfig.SecretKey.Close()
	} else {
		logger.Warn("no secret configured; requests are not authenticated")
	}

	server := ipc.NewServer(serverConfig)
	registerBuiltins(server, serverConfig.Clock)
	server.Observe(discordipc.LoggingObserver{Logger: logger})

	token, err := cfg.Discord.LoadToken()
	if err != nil {
		return err
	}
	if token != "" {
		session, err := discordipc.Open(token)
		if err != nil {
			return fmt.Errorf("connecting to discord: %w", err)
		}
		defer session.Close()
		if err := discordipc.New(session.State).Register(server); err != nil {
			return err
		}
		logger.Info("discord bridge enabled", "intents", discordipc.Intents)
	}

	logger.Info("botipc server starting",
		"version", version.Info(),
		"environment", cfg.Environment,
		"transport", serverConfig.Transport,
		"host", serverConfig.Host,
		"port", serverConfig.Port,
		"socket", serverConfig.SocketPath,
		"discovery", serverConfig.Discovery,
		"routes", server.Router().Len(),
	)

	if err := server.ListenAndServe(ctx); err != nil {
		return err
	}
	logger.Info("botipc server stopped")
	return nil
}

// ipcConfig translates the file configuration into an ipc.ServerConfig.
func ipcConfig(server config.ServerConfig, logger *slog.Logger) (ipc.ServerConfig, error) {
	transport, err := ipc.ParseTransport(server.Transport)
	if err != nil {
		return ipc.ServerConfig{}, err
	}
	var wire codec.Codec
	if server.Codec != "" {
		if wire, err = codec.ByName(server.Codec); err != nil {
			return ipc.ServerConfig{}, err
		}
	}
	key, err := server.LoadSecret()
	if err != nil {
		return ipc.ServerConfig{}, err
	}

	return ipc.ServerConfig{
		Transport:         transport,
		Host:              server.Host,
		Port:              server.Port,
		SocketPath:        server.SocketPath,
		Discovery:         server.Discovery,
		DiscoveryPort:     server.DiscoveryPort,
		SecretKey:         key,
		Codec:             wire,
		Logger:            logger,
		Clock:             clock.Real(),
		ReadTimeout:       server.ReadTimeout.Std(),
		WriteTimeout:      server.WriteTimeout.Std(),
		IdleTimeout:       server.IdleTimeout.Std(),
		PingInterval:      server.PingInterval.Std(),
		DeferredTimeout:   server.DeferredTimeout.Std(),
		ShutdownTimeout:   server.ShutdownTimeout.Std(),
		MaxRequestSize:    server.MaxRequestSize,
		CompressThreshold: server.CompressThreshold,
		RateLimit:         server.RateLimit,
		RateWindow:        server.RateWindow.Std(),
	}, nil
}

// newLogger builds the process logger. The "auto" format picks text
// for a terminal and JSON otherwise.
func newLogger(logging config.LoggingConfig) (*slog.Logger, error) {
	level, err := logging.SlogLevel()
	if err != nil {
		return nil, err
	}
	options := &slog.HandlerOptions{Level: level}

	format := logging.Format
	if format == "auto" {
		format = "json"
		if term.IsTerminal(int(os.Stderr.Fd())) {
			format = "text"
		}
	}
	if format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, options)), nil
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, options)), nil
}
