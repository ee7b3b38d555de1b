// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source.
//
// The IPC server stamps requests and measures handler durations with
// a Clock, the websocket transport drives its keepalive pings from a
// Clock ticker, and client sessions wait out retry delays on Clock
// timers. Production code uses Real(). Tests use Fake(), which only
// moves when Advance is called:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	server := ipc.NewServer(ipc.ServerConfig{Clock: c})
//	// ... start goroutines ...
//	c.WaitForTimers(1)         // wait for a goroutine to register a timer
//	c.Advance(5 * time.Second) // fire it deterministically
package clock
