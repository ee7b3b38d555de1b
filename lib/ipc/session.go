// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/bureau-foundation/botipc/lib/clock"
	"github.com/bureau-foundation/botipc/lib/codec"
	"github.com/bureau-foundation/botipc/lib/compress"
	"github.com/bureau-foundation/botipc/lib/netutil"
	"github.com/bureau-foundation/botipc/lib/secret"
)

// dialTimeout covers only the connect phase (and the websocket
// handshake).
const dialTimeout = 5 * time.Second

// DefaultSessionTimeout bounds a whole request, including discovery
// and retries. Matched to the server's read and write timeouts plus
// handler time.
const DefaultSessionTimeout = 45 * time.Second

// SessionConfig configures a ClientSession.
type SessionConfig struct {
	// Host defaults to DefaultHost.
	Host string

	// Port is the server's main port. Zero means the port is found
	// through the discovery server on DiscoveryPort before the first
	// request, then cached.
	Port          int
	DiscoveryPort int

	// SecretKey is sent as the Authorization header when set.
	SecretKey *secret.Key

	// Transport defaults to WebSocket. Unix requires SocketPath.
	Transport  Transport
	SocketPath string

	// Codec must match the server's. Defaults to JSON for WebSocket
	// and CBOR for the stream transports.
	Codec codec.Codec

	// Timeout bounds each Request. Defaults to DefaultSessionTimeout.
	Timeout time.Duration

	// Retries is how many times a failed dial is retried with
	// exponential backoff. Zero disables retry. Failures after the
	// connection is established are never retried.
	Retries int

	// Headers are added to every request envelope.
	Headers map[string]string

	Logger *slog.Logger
	Clock  clock.Clock
}

// ClientSession sends requests to a Server. Each request opens a new
// connection, sends one envelope and reads exactly one response. A
// ClientSession is safe for concurrent use.
type ClientSession struct {
	config SessionConfig

	mu             sync.Mutex
	discoveredPort int
}

// NewClientSession creates a session, filling in defaults.
func NewClientSession(config SessionConfig) *ClientSession {
	if config.Host == "" {
		config.Host = DefaultHost
	}
	if config.DiscoveryPort == 0 {
		config.DiscoveryPort = DefaultDiscoveryPort
	}
	if config.Transport == "" {
		config.Transport = WebSocket
	}
	if config.Codec == nil {
		if config.Transport == WebSocket {
			config.Codec = codec.JSON
		} else {
			config.Codec = codec.CBOR
		}
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultSessionTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	return &ClientSession{config: config}
}

// ResolvedPort returns the port the next request will connect to: the
// configured Port, else a port learned through discovery, else the
// discovery port itself.
func (c *ClientSession) ResolvedPort() int {
	if c.config.Port != 0 {
		return c.config.Port
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.discoveredPort != 0 {
		return c.discoveredPort
	}
	return c.config.DiscoveryPort
}

// URL returns the server URL: ws://host:port, tcp://host:port or
// unix://path.
func (c *ClientSession) URL() string {
	switch c.config.Transport {
	case Unix:
		return "unix://" + c.config.SocketPath
	case TCP:
		return "tcp://" + c.hostPort(c.ResolvedPort())
	default:
		return "ws://" + c.hostPort(c.ResolvedPort())
	}
}

func (c *ClientSession) hostPort(port int) string {
	return net.JoinHostPort(c.config.Host, strconv.Itoa(port))
}

func (c *ClientSession) needsDiscovery() bool {
	if c.config.Transport == Unix || c.config.Port != 0 {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.discoveredPort == 0
}

// RequestRoute is Request addressed by a route's name.
func (c *ClientSession) RequestRoute(ctx context.Context, route *Route, payload map[string]any) (*Response, error) {
	return c.Request(ctx, route.Name(), payload)
}

// Request sends one request and returns the response. Connection,
// encoding and decoding failures return a *SessionError. A non-2xx
// response returns both the response and a *StatusError.
func (c *ClientSession) Request(ctx context.Context, endpoint string, payload map[string]any) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	if c.needsDiscovery() {
		if _, err := c.discover(ctx); err != nil {
			return nil, err
		}
	}

	envelope := &RequestEnvelope{
		Endpoint: endpoint,
		Payload:  payload,
		Headers:  c.headers(),
	}
	response, err := c.roundTrip(ctx, c.hostPort(c.ResolvedPort()), endpoint, envelope)
	if err != nil {
		return nil, err
	}
	if !response.OK() {
		return response, &StatusError{Endpoint: endpoint, Status: response.Status, Message: response.Error}
	}
	return response, nil
}

// Call sends a request and decodes a successful response payload into
// result. result may be nil.
func (c *ClientSession) Call(ctx context.Context, endpoint string, payload map[string]any, result any) error {
	response, err := c.Request(ctx, endpoint, payload)
	if err != nil {
		return err
	}
	if result == nil || response.Payload == nil {
		return nil
	}
	if err := response.Decode(result); err != nil {
		return &SessionError{Op: "decode", Endpoint: endpoint, URL: c.URL(), Err: err}
	}
	return nil
}

// Discover asks the discovery server for the main port and caches it.
func (c *ClientSession) Discover(ctx context.Context) (*DiscoveryInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()
	return c.discover(ctx)
}

func (c *ClientSession) discover(ctx context.Context) (*DiscoveryInfo, error) {
	address := c.hostPort(c.config.DiscoveryPort)
	if c.config.Transport == Unix {
		return nil, &SessionError{Op: "resolve", URL: c.URL(), Err: errors.New("discovery is not available on the unix transport")}
	}

	envelope := &RequestEnvelope{Endpoint: "/discover", Headers: c.headers()}
	response, err := c.roundTrip(ctx, address, "", envelope)
	if err != nil {
		return nil, err
	}
	if !response.OK() {
		return nil, &StatusError{Endpoint: "discover", Status: response.Status, Message: response.Error}
	}

	var info DiscoveryInfo
	if err := response.Decode(&info); err != nil {
		return nil, &SessionError{Op: "decode", URL: c.URL(), Err: err}
	}
	if info.Port <= 0 {
		return nil, &SessionError{Op: "resolve", URL: c.URL(), Err: fmt.Errorf("discovery returned port %d", info.Port)}
	}

	c.mu.Lock()
	c.discoveredPort = info.Port
	c.mu.Unlock()
	c.config.Logger.Debug("discovered ipc server", "port", info.Port, "transport", info.Transport, "codec", info.Codec)
	return &info, nil
}

func (c *ClientSession) headers() map[string]string {
	headers := make(map[string]string, len(c.config.Headers)+3)
	maps.Copy(headers, c.config.Headers)
	headers[HeaderAcceptEncoding] = compress.AcceptHeader()
	headers[HeaderRequestID] = uuid.NewString()
	if c.config.SecretKey != nil {
		headers[HeaderAuthorization] = c.config.SecretKey.Value()
	}
	return headers
}

// roundTrip exchanges one envelope, retrying failed dials when
// configured to.
func (c *ClientSession) roundTrip(ctx context.Context, address, endpoint string, envelope *RequestEnvelope) (*Response, error) {
	if c.config.Retries <= 0 {
		return c.exchange(ctx, address, endpoint, envelope)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 100 * time.Millisecond
	policy.MaxInterval = 2 * time.Second
	policy.Clock = c.config.Clock
	policy.Reset()

	var response *Response
	operation := func() error {
		var err error
		response, err = c.exchange(ctx, address, endpoint, envelope)
		var sessionErr *SessionError
		if err != nil && !(errors.As(err, &sessionErr) && sessionErr.Op == "dial" && ctx.Err() == nil) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		c.config.Logger.Debug("ipc dial failed, retrying", "address", address, "wait", wait, "error", err)
	}

	strategy := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(c.config.Retries)), ctx)
	if err := backoff.RetryNotifyWithTimer(operation, strategy, notify, &clockTimer{clock: c.config.Clock}); err != nil {
		// The retry loop reports context expiry on its own.
		var sessionErr *SessionError
		if !errors.As(err, &sessionErr) {
			err = &SessionError{Op: "dial", Endpoint: endpoint, URL: c.URL(), Err: err}
		}
		return nil, err
	}
	return response, nil
}

func (c *ClientSession) exchange(ctx context.Context, address, endpoint string, envelope *RequestEnvelope) (*Response, error) {
	var wire *ResponseEnvelope
	var err error
	switch c.config.Transport {
	case WebSocket:
		wire, err = c.exchangeWebSocket(ctx, "ws://"+address, endpoint, envelope)
	case Unix:
		wire, err = c.exchangeStream(ctx, "unix", c.config.SocketPath, endpoint, envelope)
	default:
		wire, err = c.exchangeStream(ctx, "tcp", address, endpoint, envelope)
	}
	if err != nil {
		return nil, err
	}

	response, err := newResponse(c.config.Codec, wire)
	if err != nil {
		return nil, &SessionError{Op: "decode", Endpoint: endpoint, URL: c.URL(), Err: err}
	}
	return response, nil
}

func (c *ClientSession) exchangeWebSocket(ctx context.Context, url, endpoint string, envelope *RequestEnvelope) (*ResponseEnvelope, error) {
	fail := func(op string, err error) (*ResponseEnvelope, error) {
		return nil, &SessionError{Op: op, Endpoint: endpoint, URL: url, Err: err}
	}

	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout, EnableCompression: true}
	conn, handshake, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		if handshake != nil {
			body := netutil.ErrorBody(handshake.Body)
			switch {
			case handshake.StatusCode == http.StatusTooManyRequests:
				err = fmt.Errorf("%w (rate limited)", err)
			case body != "":
				err = fmt.Errorf("%w: %d %s", err, handshake.StatusCode, body)
			}
		}
		return fail("dial", err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	data, err := c.config.Codec.Marshal(envelope)
	if err != nil {
		return fail("encode", err)
	}
	messageType := websocket.TextMessage
	if c.config.Codec.Binary() {
		messageType = websocket.BinaryMessage
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetWriteDeadline(deadline)
		conn.SetReadDeadline(deadline)
	}
	if err := conn.WriteMessage(messageType, data); err != nil {
		return fail("write", contextCause(ctx, err))
	}

	conn.SetReadLimit(compress.MaxDecompressedSize)
	_, data, err = conn.ReadMessage()
	if err != nil {
		return fail("read", contextCause(ctx, err))
	}
	var response ResponseEnvelope
	if err := c.config.Codec.Unmarshal(data, &response); err != nil {
		return fail("decode", err)
	}

	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return &response, nil
}

func (c *ClientSession) exchangeStream(ctx context.Context, network, address, endpoint string, envelope *RequestEnvelope) (*ResponseEnvelope, error) {
	url := network + "://" + address
	fail := func(op string, err error) (*ResponseEnvelope, error) {
		return nil, &SessionError{Op: op, Endpoint: endpoint, URL: url, Err: err}
	}

	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, network, address)
	if err != nil {
		return fail("dial", err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	if err := c.config.Codec.NewEncoder(conn).Encode(envelope); err != nil {
		return fail("write", contextCause(ctx, err))
	}

	// Half-close so the server's decoder sees EOF after the envelope.
	if halfCloser, ok := conn.(interface{ CloseWrite() error }); ok {
		halfCloser.CloseWrite()
	}

	var response ResponseEnvelope
	if err := c.config.Codec.NewDecoder(io.LimitReader(conn, compress.MaxDecompressedSize)).Decode(&response); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || ctx.Err() != nil {
			return fail("read", contextCause(ctx, err))
		}
		return fail("decode", err)
	}
	return &response, nil
}

// contextCause prefers the context's error when a connection was
// closed because the context ended.
func contextCause(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %v", ctxErr, err)
	}
	return err
}

// clockTimer adapts clock.Clock to backoff.Timer so retry waits follow
// an injected clock.
type clockTimer struct {
	clock clock.Clock
	timer <-chan time.Time
}

func (t *clockTimer) Start(duration time.Duration) { t.timer = t.clock.After(duration) }
func (t *clockTimer) Stop()                        {}
func (t *clockTimer) C() <-chan time.Time          { return t.timer }
