// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers.
//
// [SocketDir] creates a short-named temporary directory in /tmp for
// Unix domain sockets. Socket paths are limited to 108 bytes
// (sun_path in sockaddr_un) and t.TempDir() paths can exceed that.
//
// [LocalListener] binds a TCP listener on an ephemeral loopback port.
//
// [RequireReceive] and [RequireClosed] wrap the select-with-timeout
// pattern so tests never hang on a channel that is never written.
// They are the only place tests use real wall-clock timeouts.
//
// All helpers call t.Fatalf on failure.
package testutil
