// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package discordipc

import (
	"context"
	"log/slog"

	"github.com/bureau-foundation/botipc/lib/ipc"
)

// LoggingObserver logs every request at debug level and every
// completed request at info level (warn for failures).
type LoggingObserver struct {
	Logger *slog.Logger
}

func (o LoggingObserver) RequestReceived(ctx context.Context, request *ipc.Request) {
	o.Logger.DebugContext(ctx, "ipc request received",
		"endpoint", request.Endpoint(),
		"request_id", request.ID(),
		"remote", request.RemoteAddr(),
		"keys", request.Keys(),
	)
}

func (o LoggingObserver) RequestCompleted(ctx context.Context, request *ipc.Request, completion ipc.Completion) {
	level := slog.LevelInfo
	if completion.Status >= 400 {
		level = slog.LevelWarn
	}
	attributes := []any{
		"endpoint", request.Endpoint(),
		"request_id", request.ID(),
		"status", completion.Status,
		"duration", completion.Duration,
	}
	if completion.Err != nil {
		attributes = append(attributes, "error", completion.Err)
	}
	o.Logger.Log(ctx, level, "ipc request completed", attributes...)
}
