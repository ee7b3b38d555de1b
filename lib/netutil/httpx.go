// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil provides connection and HTTP helpers shared by the
// IPC server and client.
//
// ErrorBody bounds reads of HTTP error bodies, such as the body of a
// refused websocket handshake, so a misbehaving server cannot make the
// client allocate without limit.
//
// IsExpectedCloseError classifies errors that occur during normal
// connection teardown.
package netutil

import (
	"io"
	"strings"
)

// MaxErrorBodySize is the bound on error body reads. Error bodies are
// diagnostic text; anything longer is truncated.
const MaxErrorBodySize int64 = 64 << 10

// ErrorBody reads an HTTP error response body and returns it, trimmed,
// for diagnostic error messages. Read errors are ignored: a partial or
// empty body is still useful in an error message. A nil body yields "".
func ErrorBody(body io.Reader) string {
	if body == nil {
		return ""
	}
	data, _ := io.ReadAll(io.LimitReader(body, MaxErrorBodySize))
	return strings.TrimSpace(string(data))
}
