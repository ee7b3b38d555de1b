// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/botipc/lib/codec"
	"github.com/bureau-foundation/botipc/lib/secret"
)

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Staging is for pre-production testing.
	Staging Environment = "staging"
	// Production is for production deployments.
	Production Environment = "production"
)

// Config is the master configuration for botipc binaries.
type Config struct {
	// Environment identifies the deployment type (development, staging, production).
	Environment Environment `yaml:"environment" json:"environment"`

	// Server configures the IPC server run inside the bot process.
	Server ServerConfig `yaml:"server" json:"server"`

	// Client configures how the CLI reaches the server.
	Client ClientConfig `yaml:"client" json:"client"`

	// Logging configures the structured logger.
	Logging LoggingConfig `yaml:"logging" json:"logging"`

	// Discord configures the optional Discord state bridge.
	Discord DiscordConfig `yaml:"discord" json:"discord"`

	// Per-environment overrides, applied after the base config is
	// loaded.
	Development *Overrides `yaml:"development,omitempty" json:"development,omitempty"`
	Staging     *Overrides `yaml:"staging,omitempty" json:"staging,omitempty"`
	Production  *Overrides `yaml:"production,omitempty" json:"production,omitempty"`
}

// Overrides contains the sections that can be overridden per
// environment. Zero-valued fields leave the base value alone.
type Overrides struct {
	Server  *ServerConfig  `yaml:"server,omitempty" json:"server,omitempty"`
	Client  *ClientConfig  `yaml:"client,omitempty" json:"client,omitempty"`
	Logging *LoggingConfig `yaml:"logging,omitempty" json:"logging,omitempty"`
	Discord *DiscordConfig `yaml:"discord,omitempty" json:"discord,omitempty"`
}

// ServerConfig configures the IPC server.
type ServerConfig struct {
	// Transport is websocket, tcp or unix.
	Transport string `yaml:"transport" json:"transport"`

	Host string `yaml:"host" json:"host"`
	Port int    `yaml:"port" json:"port"`

	// SocketPath is the listen path for the unix transport.
	SocketPath string `yaml:"socket_path" json:"socket_path"`

	// Codec is json, cbor or protobuf. Empty selects the transport's
	// default (json for websocket, cbor otherwise).
	Codec string `yaml:"codec" json:"codec"`

	// Discovery enables the discovery listener on DiscoveryPort.
	Discovery     bool `yaml:"discovery" json:"discovery"`
	DiscoveryPort int  `yaml:"discovery_port" json:"discovery_port"`

	// SecretKeyFile holds the shared secret clients must present.
	// SecretKey is an inline alternative for development only.
	SecretKeyFile string `yaml:"secret_key_file" json:"secret_key_file"`
	SecretKey     string `yaml:"secret_key" json:"secret_key"`

	ReadTimeout     Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout     Duration `yaml:"idle_timeout" json:"idle_timeout"`
	PingInterval    Duration `yaml:"ping_interval" json:"ping_interval"`
	DeferredTimeout Duration `yaml:"deferred_timeout" json:"deferred_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
	MaxRequestSize  int64    `yaml:"max_request_size" json:"max_request_size"`

	// CompressThreshold compresses responses at least this large.
	// Zero compresses only when a handler asks for it.
	CompressThreshold int `yaml:"compress_threshold" json:"compress_threshold"`

	// RateLimit caps websocket connections per client IP per
	// RateWindow. Zero disables rate limiting.
	RateLimit  int      `yaml:"rate_limit" json:"rate_limit"`
	RateWindow Duration `yaml:"rate_window" json:"rate_window"`
}

// ClientConfig configures the CLI's session.
type ClientConfig struct {
	Transport  string `yaml:"transport" json:"transport"`
	Host       string `yaml:"host" json:"host"`
	Port       int    `yaml:"port" json:"port"`
	SocketPath string `yaml:"socket_path" json:"socket_path"`
	Codec      string `yaml:"codec" json:"codec"`

	// DiscoveryPort is used when Port is zero.
	DiscoveryPort int `yaml:"discovery_port" json:"discovery_port"`

	SecretKeyFile string `yaml:"secret_key_file" json:"secret_key_file"`

	Timeout Duration `yaml:"timeout" json:"timeout"`
	Retries int      `yaml:"retries" json:"retries"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level" json:"level"`

	// Format is auto (text on a terminal, JSON otherwise), text or
	// json.
	Format string `yaml:"format" json:"format"`
}

// DiscordConfig configures the Discord state bridge. The bridge is
// enabled when a token is available.
type DiscordConfig struct {
	Token     string `yaml:"token" json:"token"`
	TokenFile string `yaml:"token_file" json:"token_file"`
}

// Duration is a time.Duration written as a Go duration string ("30s")
// in config files.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d *Duration) parse(text string) error {
	parsed, err := time.ParseDuration(text)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var text string
	if err := node.Decode(&text); err != nil {
		return err
	}
	return d.parse(text)
}

// MarshalYAML writes the duration string.
func (d Duration) MarshalYAML() (any, error) { return d.String(), nil }

// UnmarshalJSON parses a duration string.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		return fmt.Errorf("duration must be a string like \"30s\": %w", err)
	}
	return d.parse(text)
}

// MarshalJSON writes the duration string.
func (d Duration) MarshalJSON() ([]byte, error) { return json.Marshal(d.String()) }

// Default returns the default configuration, used as the base before
// loading the config file.
func Default() *Config {
	return &Config{
		Environment: Development,
		Server: ServerConfig{
			Transport:       "websocket",
			Host:            "localhost",
			Port:            8000,
			DiscoveryPort:   20000,
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(10 * time.Second),
			IdleTimeout:     Duration(60 * time.Second),
			PingInterval:    Duration(25 * time.Second),
			DeferredTimeout: Duration(30 * time.Second),
			ShutdownTimeout: Duration(10 * time.Second),
			MaxRequestSize:  1024 * 1024,
			RateWindow:      Duration(time.Minute),
		},
		Client: ClientConfig{
			Transport:     "websocket",
			Host:          "localhost",
			Port:          8000,
			DiscoveryPort: 20000,
			Timeout:       Duration(45 * time.Second),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
		},
		Discord: DiscordConfig{
			Token: "${DISCORD_TOKEN}",
		},
	}
}

// Load loads configuration from the BOTIPC_CONFIG environment
// variable. There are no fallbacks: if BOTIPC_CONFIG is not set, this
// fails.
func Load() (*Config, error) {
	configPath := os.Getenv("BOTIPC_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("BOTIPC_CONFIG environment variable not set; " +
			"set it to the path of your botipc.yaml config file, or use --config flag")
	}

	return LoadFile(configPath)
}

// Resolve loads path when set, then BOTIPC_CONFIG when set, and
// otherwise returns the expanded defaults. It is for the CLI, which
// must work without a config file; servers use Load or LoadFile.
func Resolve(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("BOTIPC_CONFIG")
	}
	if path != "" {
		return LoadFile(path)
	}
	cfg := Default()
	cfg.expandVariables()
	return cfg, nil
}

// LoadFile loads configuration from a specific file path, applies the
// matching environment section, and expands variables.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if err := cfg.loadFile(path); err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}

	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()

	return cfg, nil
}

// loadFile merges a single configuration file into the current config.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		return json.Unmarshal(jsonc.ToJSON(data), c)
	default:
		return yaml.Unmarshal(data, c)
	}
}

// applyEnvironmentOverrides applies the environment-specific overrides.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *Overrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
	}

	if overrides == nil {
		return
	}

	if overrides.Server != nil {
		c.Server.merge(overrides.Server)
	}
	if overrides.Client != nil {
		c.Client.merge(overrides.Client)
	}
	if overrides.Logging != nil {
		setString(&c.Logging.Level, overrides.Logging.Level)
		setString(&c.Logging.Format, overrides.Logging.Format)
	}
	if overrides.Discord != nil {
		setString(&c.Discord.Token, overrides.Discord.Token)
		setString(&c.Discord.TokenFile, overrides.Discord.TokenFile)
	}
}

func (s *ServerConfig) merge(o *ServerConfig) {
	setString(&s.Transport, o.Transport)
	setString(&s.Host, o.Host)
	setInt(&s.Port, o.Port)
	setString(&s.SocketPath, o.SocketPath)
	setString(&s.Codec, o.Codec)
	// Discovery is a bool, so an override section always decides it.
	s.Discovery = o.Discovery
	setInt(&s.DiscoveryPort, o.DiscoveryPort)
	setString(&s.SecretKeyFile, o.SecretKeyFile)
	setString(&s.SecretKey, o.SecretKey)
	setDuration(&s.ReadTimeout, o.ReadTimeout)
	setDuration(&s.WriteTimeout, o.WriteTimeout)
	setDuration(&s.IdleTimeout, o.IdleTimeout)
	setDuration(&s.PingInterval, o.PingInterval)
	setDuration(&s.DeferredTimeout, o.DeferredTimeout)
	setDuration(&s.ShutdownTimeout, o.ShutdownTimeout)
	if o.MaxRequestSize != 0 {
		s.MaxRequestSize = o.MaxRequestSize
	}
	setInt(&s.CompressThreshold, o.CompressThreshold)
	setInt(&s.RateLimit, o.RateLimit)
	setDuration(&s.RateWindow, o.RateWindow)
}

func (c *ClientConfig) merge(o *ClientConfig) {
	setString(&c.Transport, o.Transport)
	setString(&c.Host, o.Host)
	setInt(&c.Port, o.Port)
	setString(&c.SocketPath, o.SocketPath)
	setString(&c.Codec, o.Codec)
	setInt(&c.DiscoveryPort, o.DiscoveryPort)
	setString(&c.SecretKeyFile, o.SecretKeyFile)
	setDuration(&c.Timeout, o.Timeout)
	setInt(&c.Retries, o.Retries)
}

func setString(target *string, value string) {
	if value != "" {
		*target = value
	}
}

func setInt(target *int, value int) {
	if value != 0 {
		*target = value
	}
}

func setDuration(target *Duration, value Duration) {
	if value != 0 {
		*target = value
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in
// host, path and secret fields.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}

	for _, field := range []*string{
		&c.Server.Host,
		&c.Server.SocketPath,
		&c.Server.SecretKeyFile,
		&c.Server.SecretKey,
		&c.Client.Host,
		&c.Client.SocketPath,
		&c.Client.SecretKeyFile,
		&c.Discord.Token,
		&c.Discord.TokenFile,
	} {
		*field = expandVars(*field, vars)
	}
}

// expandVars expands ${VAR} and ${VAR:-default} patterns.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

var (
	transports = []string{"websocket", "tcp", "unix"}
	logLevels  = []string{"debug", "info", "warn", "error"}
	logFormats = []string{"auto", "text", "json"}
)

const requiredPorts = "must be between 1 and 65535"

// Validate checks the configuration for errors. All problems are
// reported together.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	errs = append(errs, validateEndpoint("server", c.Server.Transport, c.Server.Port, c.Server.SocketPath, c.Server.Codec)...)
	if c.Server.Discovery {
		if c.Server.Transport == "unix" {
			errs = append(errs, errors.New("server.discovery is not available on the unix transport"))
		}
		if c.Server.DiscoveryPort < 1 || c.Server.DiscoveryPort > 65535 {
			errs = append(errs, fmt.Errorf("server.discovery_port %s", requiredPorts))
		}
		if c.Server.DiscoveryPort == c.Server.Port {
			errs = append(errs, errors.New("server.discovery_port must differ from server.port"))
		}
	}
	if c.Server.SecretKey != "" && c.Server.SecretKeyFile != "" {
		errs = append(errs, errors.New("server.secret_key and server.secret_key_file are mutually exclusive"))
	}
	for name, value := range map[string]Duration{
		"server.read_timeout":     c.Server.ReadTimeout,
		"server.write_timeout":    c.Server.WriteTimeout,
		"server.idle_timeout":     c.Server.IdleTimeout,
		"server.ping_interval":    c.Server.PingInterval,
		"server.deferred_timeout": c.Server.DeferredTimeout,
		"server.shutdown_timeout": c.Server.ShutdownTimeout,
		"server.rate_window":      c.Server.RateWindow,
		"client.timeout":          c.Client.Timeout,
	} {
		if value < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", name))
		}
	}
	if c.Server.PingInterval >= c.Server.IdleTimeout && c.Server.IdleTimeout > 0 {
		errs = append(errs, errors.New("server.ping_interval must be shorter than server.idle_timeout"))
	}
	if c.Server.MaxRequestSize < 0 || c.Server.CompressThreshold < 0 || c.Server.RateLimit < 0 {
		errs = append(errs, errors.New("server.max_request_size, server.compress_threshold and server.rate_limit must not be negative"))
	}

	// Port 0 means "discover it", so only the transport and codec are
	// checked strictly for the client.
	if !slices.Contains(transports, c.Client.Transport) {
		errs = append(errs, fmt.Errorf("client.transport must be one of: %v", transports))
	}
	if c.Client.Transport == "unix" && c.Client.SocketPath == "" {
		errs = append(errs, errors.New("client.socket_path is required for the unix transport"))
	}
	if c.Client.Port < 0 || c.Client.Port > 65535 {
		errs = append(errs, fmt.Errorf("client.port %s (or 0 to use discovery)", requiredPorts))
	}
	if c.Client.Codec != "" {
		if _, err := codec.ByName(c.Client.Codec); err != nil {
			errs = append(errs, fmt.Errorf("client.codec: %w", err))
		}
	}
	if c.Client.Retries < 0 {
		errs = append(errs, errors.New("client.retries must not be negative"))
	}

	if !slices.Contains(logLevels, c.Logging.Level) {
		errs = append(errs, fmt.Errorf("logging.level must be one of: %v", logLevels))
	}
	if !slices.Contains(logFormats, c.Logging.Format) {
		errs = append(errs, fmt.Errorf("logging.format must be one of: %v", logFormats))
	}

	if c.Discord.Token != "" && c.Discord.TokenFile != "" {
		errs = append(errs, errors.New("discord.token and discord.token_file are mutually exclusive"))
	}

	if c.Environment == Production {
		if c.Server.SecretKeyFile == "" {
			errs = append(errs, errors.New("production requires server.secret_key_file"))
		}
		if c.Server.SecretKey != "" {
			errs = append(errs, errors.New("server.secret_key is not allowed in production; use server.secret_key_file"))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func validateEndpoint(section, transport string, port int, socketPath, codecName string) []error {
	var errs []error
	if !slices.Contains(transports, transport) {
		errs = append(errs, fmt.Errorf("%s.transport must be one of: %v", section, transports))
	}
	if transport == "unix" {
		if socketPath == "" {
			errs = append(errs, fmt.Errorf("%s.socket_path is required for the unix transport", section))
		}
	} else if port < 1 || port > 65535 {
		errs = append(errs, fmt.Errorf("%s.port %s", section, requiredPorts))
	}
	if codecName != "" {
		if _, err := codec.ByName(codecName); err != nil {
			errs = append(errs, fmt.Errorf("%s.codec: %w", section, err))
		}
	}
	return errs
}

// LoadSecret returns the server's shared secret in protected memory,
// or nil when authentication is disabled.
func (s *ServerConfig) LoadSecret() (*secret.Key, error) {
	switch {
	case s.SecretKeyFile != "":
		key, err := secret.ReadKey(s.SecretKeyFile)
		if err != nil {
			return nil, fmt.Errorf("reading server.secret_key_file: %w", err)
		}
		return key, nil
	case s.SecretKey != "":
		return secret.NewKeyFromString(s.SecretKey)
	default:
		return nil, nil
	}
}

// LoadSecret returns the client's shared secret, or nil when no
// secret file is configured.
func (c *ClientConfig) LoadSecret() (*secret.Key, error) {
	if c.SecretKeyFile == "" {
		return nil, nil
	}
	key, err := secret.ReadKey(c.SecretKeyFile)
	if err != nil {
		return nil, fmt.Errorf("reading client.secret_key_file: %w", err)
	}
	return key, nil
}

// LoadToken returns the bot token, reading TokenFile when set. An
// empty result means the bridge is disabled.
func (d *DiscordConfig) LoadToken() (string, error) {
	if d.TokenFile == "" {
		return strings.TrimSpace(d.Token), nil
	}
	buffer, err := secret.ReadFromPath(d.TokenFile)
	if err != nil {
		return "", fmt.Errorf("reading discord.token_file: %w", err)
	}
	defer buffer.Close()
	return strings.TrimSpace(buffer.String()), nil
}

// SlogLevel parses Level.
func (l LoggingConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("logging.level: %w", err)
	}
	return level, nil
}
