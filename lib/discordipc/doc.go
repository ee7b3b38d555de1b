// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package discordipc exposes a bot's Discord state cache over IPC so
// that dashboards and other processes can read guilds, channels and
// members without a gateway connection of their own.
//
// The bridge is read-only. It serves whatever the discordgo state
// cache holds, which depends on the intents the session identified
// with: member lookups need the guild members intent.
package discordipc
