// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli provides the command-line framework for the botipc client.
//
// The central type is [Command], which represents a named subcommand with
// optional nested [Command.Subcommands], a [pflag.FlagSet] factory, and a
// Run function. Commands are assembled into a tree in cmd/botipc/commands
// and dispatched via [Command.Execute], which handles flag parsing,
// subcommand routing, and structured help output with examples.
//
// When a user types an unknown subcommand or flag, the framework computes
// Levenshtein edit distance against all known names and suggests the
// closest match (threshold: distance <= 3).
//
// [Printer] renders response payloads: an optional jq filter (gojq),
// JSON syntax highlighting (chroma) and a styled status line (lipgloss)
// when the output is a terminal, plain text otherwise.
//
// [SecretSource] resolves the shared secret from a file, the
// BOTIPC_SECRET environment variable, or an interactive prompt.
package cli
