// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"time"

	"github.com/bureau-foundation/botipc/lib/clock"
	"github.com/bureau-foundation/botipc/lib/ipc"
	"github.com/bureau-foundation/botipc/lib/version"
)

// pingResponse answers /ping.
type pingResponse struct {
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// statsResponse answers /stats. Counters cover every request that
// reached a route since the server started.
type statsResponse struct {
	UptimeSeconds float64 `json:"uptime_seconds"`
	Received      int64   `json:"received"`
	Completed     int64   `json:"completed"`
	Failed        int64   `json:"failed"`
}

// registerBuiltins adds the operational routes every server carries
// and returns the stats observer feeding /stats.
func registerBuiltins(server *ipc.Server, clk clock.Clock) *ipc.Stats {
	startedAt := clk.Now()
	stats := &ipc.Stats{}
	server.Observe(stats)

	server.Handle("/ping", func(context.Context, *ipc.Request) (any, error) {
		return pingResponse{Message: "pong", Time: clk.Now().UTC()}, nil
	})

	server.Handle("/routes", func(context.Context, *ipc.Request) (any, error) {
		return server.Router().Names(), nil
	})

	server.Handle("/stats", func(context.Context, *ipc.Request) (any, error) {
		snapshot := stats.Snapshot()
		return statsResponse{
			UptimeSeconds: clk.Now().Sub(startedAt).Seconds(),
			Received:      snapshot.Received,
			Completed:     snapshot.Completed,
			Failed:        snapshot.Failed,
		}, nil
	})

	server.Handle("/version", func(context.Context, *ipc.Request) (any, error) {
		return version.Current(), nil
	})

	return stats
}
