// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads botipc configuration.
//
// Configuration is loaded from a single file specified by either the
// BOTIPC_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There are no fallbacks and no automatic file
// search. Files ending in .json or .jsonc are parsed as JSON with
// comments; anything else is YAML.
//
// The file may contain environment-specific sections (development,
// staging, production) that override base values when
// [Config].Environment matches. Production is stricter: the server
// must authenticate clients, and the secret must come from a file.
//
// String fields that name hosts, paths or secrets support ${VAR} and
// ${VAR:-default} expansion after loading. No other environment
// variables override config values.
package config
