// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"context"
	"strings"
)

// HandlerFunc serves one request. The returned value becomes the
// response payload with status 200, unless the handler already called
// request.Respond. Return an *Error to choose a failure status; any
// other error is sent as a 500.
//
// A handler that hands the request to another goroutine returns
// Deferred; the server then waits for that goroutine's Respond.
type HandlerFunc func(ctx context.Context, request *Request) (any, error)

// Deferred is returned by a handler whose response will be written
// later through request.Respond.
var Deferred = deferredResult{}

type deferredResult struct{}

// Route is a named handler. Routes are immutable: the name is fixed at
// construction and always starts with "/".
type Route struct {
	name    string
	handler HandlerFunc
}

// NewRoute creates a route. The name is normalized to start with "/";
// an empty name or nil handler is an error.
func NewRoute(name string, handler HandlerFunc) (*Route, error) {
	normalized, err := NormalizeName(name)
	if err != nil {
		return nil, err
	}
	if handler == nil {
		return nil, ErrNilHandler
	}
	return &Route{name: normalized, handler: handler}, nil
}

// MustRoute is NewRoute for package-level route tables. Panics on
// error.
func MustRoute(name string, handler HandlerFunc) *Route {
	route, err := NewRoute(name, handler)
	if err != nil {
		panic(err)
	}
	return route
}

// NormalizeName prefixes name with "/" if needed.
func NormalizeName(name string) (string, error) {
	if name == "" {
		return "", ErrEmptyRouteName
	}
	if !strings.HasPrefix(name, "/") {
		name = "/" + name
	}
	return name, nil
}

// Name returns the route name, always starting with "/".
func (r *Route) Name() string { return r.name }

func (r *Route) String() string { return r.name }

// Call invokes the handler.
func (r *Route) Call(ctx context.Context, request *Request) (any, error) {
	return r.handler(ctx, request)
}
