// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"context"
	"sync/atomic"
	"time"
)

// Observer receives request lifecycle events. RequestReceived is called
// for every decoded and authenticated request, before route lookup.
// RequestCompleted is called only when a route matched, after its
// response has been written.
//
// Observers run on the connection goroutine and must not block.
type Observer interface {
	RequestReceived(ctx context.Context, request *Request)
	RequestCompleted(ctx context.Context, request *Request, completion Completion)
}

// Completion describes how a matched request finished.
type Completion struct {
	// Status is the response status sent to the client.
	Status int

	// Duration runs from receipt to the response write, measured with
	// the server's clock.
	Duration time.Duration

	// Err is the handler's error, nil on success. A recovered panic is
	// reported here as well.
	Err error
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are
// skipped.
type ObserverFuncs struct {
	Received  func(ctx context.Context, request *Request)
	Completed func(ctx context.Context, request *Request, completion Completion)
}

func (f ObserverFuncs) RequestReceived(ctx context.Context, request *Request) {
	if f.Received != nil {
		f.Received(ctx, request)
	}
}

func (f ObserverFuncs) RequestCompleted(ctx context.Context, request *Request, completion Completion) {
	if f.Completed != nil {
		f.Completed(ctx, request, completion)
	}
}

// Stats counts lifecycle events. Register it with Server.Observe.
type Stats struct {
	received  atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	Received  int64 `json:"received"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

func (s *Stats) RequestReceived(context.Context, *Request) {
	s.received.Add(1)
}

func (s *Stats) RequestCompleted(_ context.Context, _ *Request, completion Completion) {
	s.completed.Add(1)
	if completion.Status >= 400 {
		s.failed.Add(1)
	}
}

// Snapshot returns the current counters.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Received:  s.received.Load(),
		Completed: s.completed.Load(),
		Failed:    s.failed.Load(),
	}
}
