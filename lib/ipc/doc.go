// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ipc implements a small request/response protocol between a
// bot process and external clients such as a web dashboard.
//
// A [Server] owns a [Router]: a table from endpoint name to handler,
// populated at startup and frozen once the server starts serving.
// Clients send one request envelope:
//
//	{endpoint: "/guilds", payload: {...}, headers: {Authorization: "..."}}
//
// and receive exactly one response envelope:
//
//	{status: 200, payload: ...}
//
// Two transports carry the envelopes:
//
//   - websocket (default): GET / upgraded with gorilla/websocket. Each
//     frame is one envelope and gets one reply frame. JSON by default.
//   - stream: one envelope per unix or tcp connection, the way the
//     service sockets work. CBOR by default.
//
// The server emits two lifecycle events to registered [Observer]s:
// RequestReceived before a request is routed, and RequestCompleted
// after a matched handler returns. RequestCompleted never fires for
// requests that did not match a route.
//
// An optional discovery listener answers authenticated clients with
// the port of the main listener, so a [ClientSession] configured
// without a port can find the server.
//
// [ClientSession] is the client side. Every transport or decoding
// failure it reports is a [*SessionError]; a response with a non-2xx
// status is reported as a [*StatusError] alongside the decoded
// [Response].
package ipc
