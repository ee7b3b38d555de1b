// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Environment != Development {
		t.Errorf("expected environment=development, got %s", cfg.Environment)
	}
	if cfg.Server.Transport != "websocket" {
		t.Errorf("expected server.transport=websocket, got %s", cfg.Server.Transport)
	}
	if cfg.Server.Port != 8000 || cfg.Server.DiscoveryPort != 20000 {
		t.Errorf("expected ports 8000/20000, got %d/%d", cfg.Server.Port, cfg.Server.DiscoveryPort)
	}
	if cfg.Server.ReadTimeout.Std() != 30*time.Second {
		t.Errorf("expected read_timeout=30s, got %s", cfg.Server.ReadTimeout)
	}
	if cfg.Client.Host != "localhost" {
		t.Errorf("expected client.host=localhost, got %s", cfg.Client.Host)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoad_RequiresBotipcConfig(t *testing.T) {
	t.Setenv("BOTIPC_CONFIG", "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error when BOTIPC_CONFIG not set, got nil")
	}

	expectedMsg := "BOTIPC_CONFIG environment variable not set"
	if !strings.HasPrefix(err.Error(), expectedMsg) {
		t.Errorf("expected error message to start with %q, got %q", expectedMsg, err.Error())
	}
}

func TestLoad_WithBotipcConfig(t *testing.T) {
	configPath := writeConfig(t, "botipc.yaml", `
environment: staging
server:
  port: 9100
`)
	t.Setenv("BOTIPC_CONFIG", configPath)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Environment != Staging {
		t.Errorf("expected environment=staging, got %s", cfg.Environment)
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("expected port=9100, got %d", cfg.Server.Port)
	}
}

func TestResolveWithoutFile(t *testing.T) {
	t.Setenv("BOTIPC_CONFIG", "")
	t.Setenv("DISCORD_TOKEN", "token-from-env")

	cfg, err := Resolve("")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if cfg.Client.Port != 8000 {
		t.Errorf("expected default client port, got %d", cfg.Client.Port)
	}
	if cfg.Discord.Token != "token-from-env" {
		t.Errorf("expected discord token from ${DISCORD_TOKEN}, got %q", cfg.Discord.Token)
	}
}

func TestLoadFile(t *testing.T) {
	configPath := writeConfig(t, "botipc.yaml", `
environment: staging

server:
  transport: tcp
  host: 0.0.0.0
  port: 9000
  codec: cbor
  discovery: true
  discovery_port: 9001
  deferred_timeout: 2m
  shutdown_timeout: 45s
  compress_threshold: 65536

client:
  transport: tcp
  port: 0
  retries: 3

logging:
  level: debug
  format: json
`)

	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if cfg.Server.Transport != "tcp" || cfg.Server.Host != "0.0.0.0" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server address: %+v", cfg.Server)
	}
	if cfg.Server.Codec != "cbor" {
		t.Errorf("expected codec=cbor, got %s", cfg.Server.Codec)
	}
	if !cfg.Server.Discovery || cfg.Server.DiscoveryPort != 9001 {
		t.Errorf("expected discovery on 9001, got %v/%d", cfg.Server.Discovery, cfg.Server.DiscoveryPort)
	}
	if cfg.Server.DeferredTimeout.Std() != 2*time.Minute {
		t.Errorf("expected deferred_timeout=2m, got %s", cfg.Server.DeferredTimeout)
	}
	if cfg.Server.ShutdownTimeout.Std() != 45*time.Second {
		t.Errorf("expected shutdown_timeout=45s, got %s", cfg.Server.ShutdownTimeout)
	}
	// Unset durations keep their defaults.
	if cfg.Server.WriteTimeout.Std() != 10*time.Second {
		t.Errorf("expected write_timeout default 10s, got %s", cfg.Server.WriteTimeout)
	}
	if cfg.Client.Port != 0 || cfg.Client.Retries != 3 {
		t.Errorf("unexpected client config: %+v", cfg.Client)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("unexpected logging config: %+v", cfg.Logging)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate failed: %v", err)
	}
}

func TestLoadFileJSONC(t *testing.T) {
	configPath := writeConfig(t, "botipc.jsonc", `{
  // Dashboard-facing server.
  "environment": "development",
  "server": {
    "port": 8080,
    "rate_limit": 30,
    "rate_window": "10s", // trailing commas are allowed
  },
  /* The bridge reads its token from a file. */
  "discord": {"token": "", "token_file": "/run/secrets/discord"},
}`)

	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("expected port=8080, got %d", cfg.Server.Port)
	}
	if cfg.Server.RateLimit != 30 || cfg.Server.RateWindow.Std() != 10*time.Second {
		t.Errorf("expected rate limit 30 per 10s, got %d per %s", cfg.Server.RateLimit, cfg.Server.RateWindow)
	}
	if cfg.Discord.TokenFile != "/run/secrets/discord" {
		t.Errorf("expected token_file, got %q", cfg.Discord.TokenFile)
	}
}

func TestLoadFileRejectsBadDuration(t *testing.T) {
	configPath := writeConfig(t, "botipc.yaml", `
server:
  read_timeout: soon
`)
	if _, err := LoadFile(configPath); err == nil {
		t.Fatal("expected error for invalid duration")
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	configPath := writeConfig(t, "botipc.yaml", `
environment: production

server:
  host: localhost
  port: 8000
  secret_key_file: /etc/botipc/dev-secret

logging:
  level: debug

production:
  server:
    host: 10.0.0.5
    secret_key_file: /etc/botipc/secret
  logging:
    level: warn
`)

	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if cfg.Server.Host != "10.0.0.5" {
		t.Errorf("expected host=10.0.0.5, got %s", cfg.Server.Host)
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("expected port unchanged at 8000, got %d", cfg.Server.Port)
	}
	if cfg.Server.SecretKeyFile != "/etc/botipc/secret" {
		t.Errorf("expected production secret file, got %s", cfg.Server.SecretKeyFile)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("expected level=warn, got %s", cfg.Logging.Level)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate failed: %v", err)
	}
}

func TestEnvVarsDoNotOverride(t *testing.T) {
	t.Setenv("BOTIPC_PORT", "9999")
	t.Setenv("BOTIPC_ENVIRONMENT", "staging")

	configPath := writeConfig(t, "botipc.yaml", `
environment: development
server:
  port: 8100
`)

	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if cfg.Environment != Development {
		t.Errorf("expected environment=development from file, got %s (env vars should not override)", cfg.Environment)
	}
	if cfg.Server.Port != 8100 {
		t.Errorf("expected port=8100 from file, got %d (env vars should not override)", cfg.Server.Port)
	}
}

func TestVariableExpansion(t *testing.T) {
	t.Setenv("BOTIPC_RUNTIME", "/run/user/1000")

	configPath := writeConfig(t, "botipc.yaml", `
server:
  transport: unix
  socket_path: ${BOTIPC_RUNTIME}/botipc.sock
  secret_key_file: ${BOTIPC_SECRET_DIR:-/etc/botipc}/secret
`)

	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if cfg.Server.SocketPath != "/run/user/1000/botipc.sock" {
		t.Errorf("expected expanded socket path, got %s", cfg.Server.SocketPath)
	}
	if cfg.Server.SecretKeyFile != "/etc/botipc/secret" {
		t.Errorf("expected default secret dir, got %s", cfg.Server.SecretKeyFile)
	}
}

func TestExpandVars(t *testing.T) {
	tests := []struct {
		input    string
		vars     map[string]string
		expected string
	}{
		{
			input:    "${HOME}/botipc",
			vars:     map[string]string{"HOME": "/home/user"},
			expected: "/home/user/botipc",
		},
		{
			input:    "${MISSING_BOTIPC_VAR:-default}",
			vars:     map[string]string{},
			expected: "default",
		},
		{
			input:    "${PRESENT:-default}",
			vars:     map[string]string{"PRESENT": "value"},
			expected: "value",
		},
		{
			input:    "${A}/${B}",
			vars:     map[string]string{"A": "first", "B": "second"},
			expected: "first/second",
		},
		{
			input:    "no variables here",
			vars:     map[string]string{},
			expected: "no variables here",
		},
	}

	for _, tt := range tests {
		result := expandVars(tt.input, tt.vars)
		if result != tt.expected {
			t.Errorf("expandVars(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{
			name:   "valid default config",
			modify: func(c *Config) {},
		},
		{
			name:    "invalid environment",
			modify:  func(c *Config) { c.Environment = "invalid" },
			wantErr: "invalid environment",
		},
		{
			name:    "unknown transport",
			modify:  func(c *Config) { c.Server.Transport = "carrier-pigeon" },
			wantErr: "server.transport must be one of",
		},
		{
			name:    "unix without socket path",
			modify:  func(c *Config) { c.Server.Transport = "unix" },
			wantErr: "server.socket_path is required",
		},
		{
			name: "discovery on unix",
			modify: func(c *Config) {
				c.Server.Transport = "unix"
				c.Server.SocketPath = "/tmp/botipc.sock"
				c.Server.Discovery = true
			},
			wantErr: "server.discovery is not available",
		},
		{
			name: "discovery on main port",
			modify: func(c *Config) {
				c.Server.Discovery = true
				c.Server.DiscoveryPort = c.Server.Port
			},
			wantErr: "must differ",
		},
		{
			name:    "port out of range",
			modify:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: "server.port must be between",
		},
		{
			name:    "unknown codec",
			modify:  func(c *Config) { c.Server.Codec = "xml" },
			wantErr: "server.codec",
		},
		{
			name: "ping slower than idle timeout",
			modify: func(c *Config) {
				c.Server.PingInterval = Duration(2 * time.Minute)
			},
			wantErr: "ping_interval must be shorter",
		},
		{
			name: "both secret sources",
			modify: func(c *Config) {
				c.Server.SecretKey = "inline"
				c.Server.SecretKeyFile = "/etc/botipc/secret"
			},
			wantErr: "mutually exclusive",
		},
		{
			name:    "production without secret file",
			modify:  func(c *Config) { c.Environment = Production },
			wantErr: "production requires server.secret_key_file",
		},
		{
			name:    "bad log level",
			modify:  func(c *Config) { c.Logging.Level = "loud" },
			wantErr: "logging.level",
		},
		{
			name:    "negative retries",
			modify:  func(c *Config) { c.Client.Retries = -1 },
			wantErr: "client.retries",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateReportsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Environment = "invalid"
	cfg.Logging.Format = "xml"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected errors")
	}
	for _, want := range []string{"invalid environment", "logging.format"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected %q in %v", want, err)
		}
	}
}

func TestServerLoadSecret(t *testing.T) {
	server := ServerConfig{}
	key, err := server.LoadSecret()
	if err != nil || key != nil {
		t.Fatalf("expected no secret, got %v, %v", key, err)
	}

	server.SecretKey = "inline-secret"
	key, err = server.LoadSecret()
	if err != nil {
		t.Fatalf("LoadSecret failed: %v", err)
	}
	defer key.Close()
	if !key.Matches("inline-secret") {
		t.Error("inline secret does not match")
	}

	server = ServerConfig{SecretKeyFile: writeConfig(t, "secret", "file-secret\n")}
	fileKey, err := server.LoadSecret()
	if err != nil {
		t.Fatalf("LoadSecret failed: %v", err)
	}
	defer fileKey.Close()
	if !fileKey.Matches("file-secret") {
		t.Error("file secret does not match (trailing newline should be trimmed)")
	}

	server = ServerConfig{SecretKeyFile: filepath.Join(t.TempDir(), "missing")}
	if _, err := server.LoadSecret(); err == nil {
		t.Error("expected error for missing secret file")
	}
}

func TestDiscordLoadToken(t *testing.T) {
	discord := DiscordConfig{Token: "  inline-token \n"}
	token, err := discord.LoadToken()
	if err != nil || token != "inline-token" {
		t.Errorf("LoadToken() = %q, %v", token, err)
	}

	discord = DiscordConfig{TokenFile: writeConfig(t, "token", "file-token\n")}
	token, err = discord.LoadToken()
	if err != nil || token != "file-token" {
		t.Errorf("LoadToken() = %q, %v", token, err)
	}
}

func TestSlogLevel(t *testing.T) {
	level, err := LoggingConfig{Level: "warn"}.SlogLevel()
	if err != nil || level != slog.LevelWarn {
		t.Errorf("SlogLevel() = %v, %v", level, err)
	}
	if _, err := (LoggingConfig{Level: "loud"}).SlogLevel(); err == nil {
		t.Error("expected error for unknown level")
	}
}
