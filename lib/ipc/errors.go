// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrEmptyRouteName is returned when a route is created without a
	// name.
	ErrEmptyRouteName = errors.New("ipc: cannot have an empty route name")

	// ErrNilHandler is returned when a route is created without a
	// handler.
	ErrNilHandler = errors.New("ipc: route handler is nil")

	// ErrDuplicateRoute is returned when a name is registered twice.
	ErrDuplicateRoute = errors.New("ipc: duplicate route")

	// ErrRouterFrozen is returned when a route is added after the
	// server has started serving.
	ErrRouterFrozen = errors.New("ipc: routes are immutable once the server has started")

	// ErrAlreadyResponded is returned by Request.Respond on every call
	// after the first.
	ErrAlreadyResponded = errors.New("ipc: request has already been responded to")
)

// Error is returned by handlers to choose the response status and the
// message sent to the client. Any other error a handler returns is
// sent as a 500.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, http.StatusText(e.Status), e.Message)
}

// Errorf returns an *Error with a formatted message.
func Errorf(status int, format string, args ...any) *Error {
	return &Error{Status: status, Message: fmt.Sprintf(format, args...)}
}

// BadRequest returns a 400 *Error. Handlers use it for missing or
// malformed payload fields.
func BadRequest(format string, args ...any) *Error {
	return Errorf(http.StatusBadRequest, format, args...)
}

// NotFound returns a 404 *Error.
func NotFound(format string, args ...any) *Error {
	return Errorf(http.StatusNotFound, format, args...)
}

// SessionError is the single error kind a ClientSession returns for
// failures to connect, encode, send, receive or decode. Err is the
// underlying cause.
type SessionError struct {
	// Op is the stage that failed: "resolve", "dial", "encode",
	// "write", "read", "decode".
	Op string

	// Endpoint is the requested endpoint, empty for discovery.
	Endpoint string

	// URL is the server address the session used.
	URL string

	Err error
}

func (e *SessionError) Error() string {
	if e.Endpoint == "" {
		return fmt.Sprintf("ipc %s %s: %v", e.Op, e.URL, e.Err)
	}
	return fmt.Sprintf("ipc %s %q on %s: %v", e.Op, e.Endpoint, e.URL, e.Err)
}

func (e *SessionError) Unwrap() error { return e.Err }

// StatusError is returned when the server answers with a status
// outside 2xx. The response itself is still returned to the caller.
type StatusError struct {
	Endpoint string
	Status   int
	Message  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("ipc request %q failed with status %d: %s", e.Endpoint, e.Status, e.Message)
}
