// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"context"
	"fmt"
	"maps"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/bureau-foundation/botipc/lib/codec"
)

// PeerCredentials identifies the process on the other end of a unix
// socket connection, as reported by the kernel (SO_PEERCRED).
type PeerCredentials struct {
	PID int32
	UID uint32
	GID uint32
}

// Request is one decoded request envelope. Its payload and headers
// are read-only: accessors return values or copies, never the
// underlying maps.
type Request struct {
	id         string
	endpoint   string
	payload    map[string]any
	headers    map[string]string
	remoteAddr string
	peer       *PeerCredentials
	receivedAt time.Time
	codec      codec.Codec

	// send builds and writes the response envelope and returns the
	// status that went out, which differs from status when the payload
	// could not be encoded.
	send func(status int, payload any, message string, compressed bool) (int, error)

	mu        sync.Mutex
	responded bool
	status    int
	writeErr  error
	done      chan struct{}
}

// ID returns the request id: the client's X-Request-ID header when
// present, otherwise a UUID assigned on receipt.
func (r *Request) ID() string { return r.id }

// Endpoint returns the endpoint the request addressed.
func (r *Request) Endpoint() string { return r.endpoint }

// Get returns the payload value stored under key.
func (r *Request) Get(key string) (any, bool) {
	value, ok := r.payload[key]
	return value, ok
}

// String returns the payload value under key if it is a string.
func (r *Request) String(key string) (string, bool) {
	value, ok := r.payload[key].(string)
	return value, ok
}

// Keys returns the payload keys in sorted order.
func (r *Request) Keys() []string {
	keys := make([]string, 0, len(r.payload))
	for key := range r.payload {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of payload entries.
func (r *Request) Len() int { return len(r.payload) }

// Payload returns a shallow copy of the payload.
func (r *Request) Payload() map[string]any {
	return maps.Clone(r.payload)
}

// Decode decodes the payload into v (typically a pointer to a struct
// with json tags) using the codec the request arrived with.
func (r *Request) Decode(v any) error {
	data, err := r.codec.Marshal(r.payload)
	if err != nil {
		return fmt.Errorf("re-encoding payload: %w", err)
	}
	if err := r.codec.Unmarshal(data, v); err != nil {
		return BadRequest("decoding payload: %v", err)
	}
	return nil
}

// Header returns the value of a header, matched case-insensitively.
func (r *Request) Header(name string) string {
	value, _ := lookupHeader(r.headers, name)
	return value
}

// Headers returns a copy of the request headers.
func (r *Request) Headers() map[string]string {
	return maps.Clone(r.headers)
}

// RemoteAddr returns the client address as reported by the transport.
func (r *Request) RemoteAddr() string { return r.remoteAddr }

// Peer returns the kernel-reported credentials of the client process
// for unix socket connections, or nil.
func (r *Request) Peer() *PeerCredentials { return r.peer }

// ReceivedAt returns when the request was decoded.
func (r *Request) ReceivedAt() time.Time { return r.receivedAt }

// RespondOption configures Respond.
type RespondOption func(*respondOptions)

type respondOptions struct {
	status     int
	compressed bool
}

// WithStatus sets the response status (default 200).
func WithStatus(status int) RespondOption {
	return func(options *respondOptions) { options.status = status }
}

// WithCompression compresses the payload with an encoding the client
// accepts, when it advertised one and the payload shrinks. On the
// websocket transport it also enables per-message deflate for the
// frame.
func WithCompression() RespondOption {
	return func(options *respondOptions) { options.compressed = true }
}

// Respond sends the response. Only the first call writes; later calls
// return ErrAlreadyResponded. Respond may be called from any goroutine,
// including after the handler has returned Deferred.
func (r *Request) Respond(payload any, options ...RespondOption) error {
	resolved := respondOptions{status: http.StatusOK}
	for _, option := range options {
		option(&resolved)
	}
	return r.finish(resolved.status, payload, "", resolved.compressed)
}

// respondError sends a failure response with no payload.
func (r *Request) respondError(status int, message string) error {
	return r.finish(status, nil, message, false)
}

func (r *Request) finish(status int, payload any, message string, compressed bool) error {
	r.mu.Lock()
	if r.responded {
		r.mu.Unlock()
		return ErrAlreadyResponded
	}
	r.responded = true
	r.status = status
	r.mu.Unlock()

	sent, err := r.send(status, payload, message, compressed)

	r.mu.Lock()
	if sent != 0 {
		r.status = sent
	}
	r.writeErr = err
	r.mu.Unlock()
	close(r.done)
	return err
}

// Responded reports whether a response has been started.
func (r *Request) Responded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.responded
}

// Status returns the status of the response sent, or 0.
func (r *Request) Status() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Done is closed once the response has been written (or failed to).
func (r *Request) Done() <-chan struct{} { return r.done }

// Wait blocks until the response has been written and returns the
// write error, if any.
func (r *Request) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.writeErr
	case <-ctx.Done():
		return ctx.Err()
	}
}
