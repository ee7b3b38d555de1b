// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/botipc/lib/clock"
	"github.com/bureau-foundation/botipc/lib/codec"
	"github.com/bureau-foundation/botipc/lib/compress"
	"github.com/bureau-foundation/botipc/lib/netutil"
	"github.com/bureau-foundation/botipc/lib/secret"
)

// Default timeouts and limits. Zero values in ServerConfig select
// these.
const (
	// DefaultReadTimeout is how long a stream connection has to send
	// its request. A well-behaved client sends it immediately after
	// connecting.
	DefaultReadTimeout = 30 * time.Second

	// DefaultWriteTimeout bounds each response write.
	DefaultWriteTimeout = 10 * time.Second

	// DefaultIdleTimeout is how long a websocket connection may go
	// without a frame or a pong before it is dropped.
	DefaultIdleTimeout = 60 * time.Second

	// DefaultPingInterval is how often idle websocket clients are
	// pinged. Must be shorter than DefaultIdleTimeout.
	DefaultPingInterval = 25 * time.Second

	// DefaultDeferredTimeout is how long the server waits for a
	// handler that returned Deferred to respond.
	DefaultDeferredTimeout = 30 * time.Second

	// DefaultShutdownTimeout bounds graceful HTTP shutdown.
	DefaultShutdownTimeout = 10 * time.Second

	// DefaultMaxRequestSize bounds a single request envelope.
	DefaultMaxRequestSize = 1024 * 1024
)

// ServerConfig configures a Server. The zero value serves websocket on
// localhost:8000 with no authentication.
type ServerConfig struct {
	// Transport selects the wire transport. Defaults to WebSocket.
	Transport Transport

	// Host and Port are the main listen address for ListenAndServe.
	// Port 0 selects DefaultPort; tests that need an OS-assigned port
	// pass their own listener to Serve instead.
	Host string
	Port int

	// SocketPath is the listen path for the Unix transport.
	SocketPath string

	// Discovery enables the discovery listener in ListenAndServe on
	// DiscoveryPort (default DefaultDiscoveryPort).
	Discovery     bool
	DiscoveryPort int

	// SecretKey, when set, must be presented in the Authorization
	// header of every request. Nil disables authentication.
	SecretKey *secret.Key

	// Codec encodes envelopes. Defaults to JSON for WebSocket and CBOR
	// for the stream transports.
	Codec codec.Codec

	// Logger defaults to a logger that discards everything.
	Logger *slog.Logger

	// Clock measures request durations and drives websocket pings and
	// deferred response timeouts. Defaults to the real clock.
	Clock clock.Clock

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	PingInterval    time.Duration
	DeferredTimeout time.Duration
	ShutdownTimeout time.Duration
	MaxRequestSize  int64

	// CompressThreshold compresses every response whose encoded
	// payload is at least this many bytes, when the client accepts a
	// compressed encoding. Zero compresses only responses sent
	// WithCompression.
	CompressThreshold int

	// RateLimit caps websocket upgrades per client IP per RateWindow.
	// Zero disables rate limiting.
	RateLimit  int
	RateWindow time.Duration
}

// Server dispatches request envelopes to routes. Register routes with
// Handle or AddRoute, then call Serve or ListenAndServe. The route
// table is frozen when serving starts.
type Server struct {
	config ServerConfig
	router *Router
	codec  codec.Codec
	logger *slog.Logger
	clock  clock.Clock

	observersMu sync.RWMutex
	observers   []Observer

	readyOnce sync.Once
	ready     chan struct{}

	discoveryReadyOnce sync.Once
	discoveryReady     chan struct{}

	addrMu        sync.RWMutex
	addr          net.Addr
	discoveryAddr net.Addr
}

// NewServer creates a server from config, filling in defaults.
func NewServer(config ServerConfig) *Server {
	if config.Transport == "" {
		config.Transport = WebSocket
	}
	if config.Host == "" {
		config.Host = DefaultHost
	}
	if config.Port == 0 {
		config.Port = DefaultPort
	}
	if config.DiscoveryPort == 0 {
		config.DiscoveryPort = DefaultDiscoveryPort
	}
	if config.Codec == nil {
		if config.Transport == WebSocket {
			config.Codec = codec.JSON
		} else {
			config.Codec = codec.CBOR
		}
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.ReadTimeout == 0 {
		config.ReadTimeout = DefaultReadTimeout
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = DefaultWriteTimeout
	}
	if config.IdleTimeout == 0 {
		config.IdleTimeout = DefaultIdleTimeout
	}
	if config.PingInterval == 0 {
		config.PingInterval = DefaultPingInterval
	}
	if config.DeferredTimeout == 0 {
		config.DeferredTimeout = DefaultDeferredTimeout
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = DefaultShutdownTimeout
	}
	if config.MaxRequestSize == 0 {
		config.MaxRequestSize = DefaultMaxRequestSize
	}
	if config.RateLimit > 0 && config.RateWindow == 0 {
		config.RateWindow = time.Minute
	}

	return &Server{
		config: config,
		router: NewRouter(),
		codec:  config.Codec,
		logger: config.Logger,
		clock:  config.Clock,
		ready:  make(chan struct{}),

		discoveryReady: make(chan struct{}),
	}
}

// Handle registers a handler. Panics on an invalid or duplicate name,
// or after serving has started.
func (s *Server) Handle(name string, handler HandlerFunc) {
	s.router.Handle(name, handler)
}

// AddRoute registers a route, returning ErrDuplicateRoute or
// ErrRouterFrozen on failure.
func (s *Server) AddRoute(route *Route) error {
	return s.router.Add(route)
}

// Router returns the server's route table.
func (s *Server) Router() *Router { return s.router }

// Codec returns the envelope codec.
func (s *Server) Codec() codec.Codec { return s.codec }

// Transport returns the configured transport.
func (s *Server) Transport() Transport { return s.config.Transport }

// Observe registers an observer for request lifecycle events.
func (s *Server) Observe(observer Observer) {
	s.observersMu.Lock()
	defer s.observersMu.Unlock()
	s.observers = append(s.observers, observer)
}

// Ready is closed once Serve has bound its listener and frozen the
// route table.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// DiscoveryReady is closed once the discovery listener's address is
// known. ListenAndServe closes it before Ready.
func (s *Server) DiscoveryReady() <-chan struct{} { return s.discoveryReady }

// Addr returns the main listener's address, or nil before Ready.
func (s *Server) Addr() net.Addr {
	s.addrMu.RLock()
	defer s.addrMu.RUnlock()
	return s.addr
}

// DiscoveryAddr returns the discovery listener's address, or nil when
// discovery is not being served.
func (s *Server) DiscoveryAddr() net.Addr {
	s.addrMu.RLock()
	defer s.addrMu.RUnlock()
	return s.discoveryAddr
}

// WSURL returns the websocket URL of the main listener.
func (s *Server) WSURL() string {
	return "ws://" + net.JoinHostPort(s.config.Host, strconv.Itoa(s.listenPort(s.Addr(), s.config.Port)))
}

// DiscoveryURL returns the websocket URL of the discovery listener.
func (s *Server) DiscoveryURL() string {
	return "ws://" + net.JoinHostPort(s.config.Host, strconv.Itoa(s.listenPort(s.DiscoveryAddr(), s.config.DiscoveryPort)))
}

func (s *Server) listenPort(addr net.Addr, fallback int) int {
	if tcpAddr, ok := addr.(*net.TCPAddr); ok {
		return tcpAddr.Port
	}
	return fallback
}

// Serve serves the configured transport on listener until ctx is
// cancelled, then waits for in-flight requests to finish. The route
// table is frozen before the first connection is accepted.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	s.router.Freeze()
	s.addrMu.Lock()
	s.addr = listener.Addr()
	s.addrMu.Unlock()
	s.readyOnce.Do(func() { close(s.ready) })

	s.logger.Info("ipc server listening",
		"transport", s.config.Transport,
		"address", listener.Addr().String(),
		"codec", s.codec.Name(),
		"routes", s.router.Len(),
	)
	return s.serveListener(ctx, listener, s.dispatch)
}

// ServeDiscovery answers discovery requests on listener until ctx is
// cancelled.
func (s *Server) ServeDiscovery(ctx context.Context, listener net.Listener) error {
	s.setDiscoveryAddr(listener.Addr())

	s.logger.Info("ipc discovery listening", "address", listener.Addr().String())
	return s.serveListener(ctx, listener, s.discover)
}

func (s *Server) setDiscoveryAddr(addr net.Addr) {
	s.addrMu.Lock()
	s.discoveryAddr = addr
	s.addrMu.Unlock()
	s.discoveryReadyOnce.Do(func() { close(s.discoveryReady) })
}

func (s *Server) serveListener(ctx context.Context, listener net.Listener, handle envelopeHandler) error {
	if s.config.Transport == WebSocket {
		return s.serveHTTP(ctx, listener, s.websocketHandler(handle))
	}
	return s.serveStream(ctx, listener, handle)
}

// ListenAndServe binds the configured address (and the discovery port
// when enabled) and serves until ctx is cancelled. For the Unix
// transport a stale socket file is removed before listening and the
// socket is removed on return.
func (s *Server) ListenAndServe(ctx context.Context) error {
	network := s.config.Transport.network()
	address := net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
	if s.config.Transport == Unix {
		if s.config.SocketPath == "" {
			return errors.New("unix transport requires a socket path")
		}
		address = s.config.SocketPath
		if err := os.Remove(address); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing stale socket %s: %w", address, err)
		}
		defer os.Remove(address)
	}

	listener, err := net.Listen(network, address)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", address, err)
	}

	if !s.config.Discovery {
		return s.Serve(ctx, listener)
	}
	if s.config.Transport == Unix {
		listener.Close()
		return errors.New("discovery is not available on the unix transport")
	}

	discoveryAddress := net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.DiscoveryPort))
	discoveryListener, err := net.Listen("tcp", discoveryAddress)
	if err != nil {
		listener.Close()
		return fmt.Errorf("listening on %s: %w", discoveryAddress, err)
	}

	// Both addresses are recorded before Serve closes Ready.
	s.setDiscoveryAddr(discoveryListener.Addr())

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	discoveryDone := make(chan error, 1)
	go func() {
		discoveryDone <- s.ServeDiscovery(ctx, discoveryListener)
	}()

	serveErr := s.Serve(ctx, listener)
	cancel()
	discoveryErr := <-discoveryDone
	if serveErr != nil {
		return serveErr
	}
	if discoveryErr != nil {
		return fmt.Errorf("discovery: %w", discoveryErr)
	}
	return nil
}

// exchange is one client connection as seen by dispatch: where the
// request came from and how to write its response.
type exchange struct {
	remoteAddr string
	peer       *PeerCredentials
	// write encodes and sends response, returning the status actually
	// sent.
	write func(response *ResponseEnvelope, compressed bool) (int, error)
}

// envelopeHandler processes one decoded envelope. It returns false
// when the envelope was rejected before reaching a route; the
// websocket transport closes the connection in that case.
type envelopeHandler func(ctx context.Context, conn *exchange, envelope *RequestEnvelope) bool

// dispatch validates an envelope, notifies observers, and invokes the
// matching route.
func (s *Server) dispatch(ctx context.Context, conn *exchange, envelope *RequestEnvelope) bool {
	requestID := requestIDFor(envelope)

	if envelope.Endpoint == "" {
		s.reject(conn, requestID, http.StatusBadRequest, "No endpoint was set")
		return false
	}
	if status, ok := s.authenticate(envelope.Headers, http.StatusUnauthorized); !ok {
		s.reject(conn, requestID, status, "Unauthorized")
		return false
	}

	request := s.newRequest(conn, requestID, envelope)
	s.notifyReceived(ctx, request)

	route, ok := s.router.Lookup(envelope.Endpoint)
	if !ok {
		s.logger.Debug("unknown endpoint", "endpoint", envelope.Endpoint, "request_id", requestID)
		request.respondError(http.StatusBadRequest, "Invalid endpoint provided")
		return false
	}

	completion := s.invoke(ctx, route, request)
	s.notifyCompleted(ctx, request, completion)
	return true
}

// discover answers a discovery request with the main listener's port.
// The endpoint is ignored. A missing Authorization header is 403 here
// rather than 401.
func (s *Server) discover(_ context.Context, conn *exchange, envelope *RequestEnvelope) bool {
	requestID := requestIDFor(envelope)
	if status, ok := s.authenticate(envelope.Headers, http.StatusForbidden); !ok {
		s.reject(conn, requestID, status, "Unauthorized")
		return false
	}

	info := DiscoveryInfo{
		Message:   "Successfully connected",
		Port:      s.listenPort(s.Addr(), s.config.Port),
		Transport: string(s.config.Transport),
		Codec:     s.codec.Name(),
	}
	if _, err := conn.write(&ResponseEnvelope{Status: http.StatusOK, Payload: info, RequestID: requestID}, false); err != nil {
		s.logger.Debug("failed to write discovery response", "error", err)
	}
	return true
}

// authenticate checks the Authorization header against the configured
// secret. missingStatus is returned when the header is absent.
func (s *Server) authenticate(headers map[string]string, missingStatus int) (int, bool) {
	if s.config.SecretKey == nil {
		return 0, true
	}
	presented, _ := lookupHeader(headers, HeaderAuthorization)
	if presented == "" {
		return missingStatus, false
	}
	if !s.config.SecretKey.Matches(presented) {
		return http.StatusForbidden, false
	}
	return 0, true
}

func requestIDFor(envelope *RequestEnvelope) string {
	if id, _ := lookupHeader(envelope.Headers, HeaderRequestID); id != "" {
		return id
	}
	return uuid.NewString()
}

func (s *Server) newRequest(conn *exchange, requestID string, envelope *RequestEnvelope) *Request {
	accept, _ := lookupHeader(envelope.Headers, HeaderAcceptEncoding)
	request := &Request{
		id:         requestID,
		endpoint:   envelope.Endpoint,
		payload:    envelope.payload(),
		headers:    envelope.Headers,
		remoteAddr: conn.remoteAddr,
		peer:       conn.peer,
		receivedAt: s.clock.Now(),
		codec:      s.codec,
		done:       make(chan struct{}),
	}
	request.send = func(status int, payload any, message string, compressed bool) (int, error) {
		response := s.buildResponse(requestID, accept, status, payload, message, compressed)
		return conn.write(response, compressed)
	}
	return request
}

// invoke runs the route handler and makes sure exactly one response is
// written, whichever way the handler finishes.
func (s *Server) invoke(ctx context.Context, route *Route, request *Request) Completion {
	result, handlerErr := s.call(ctx, route, request)

	switch {
	case handlerErr != nil:
		status, message := errorStatus(handlerErr)
		if err := request.respondError(status, message); errors.Is(err, ErrAlreadyResponded) {
			s.logger.Debug("handler failed after responding",
				"endpoint", route.Name(),
				"request_id", request.ID(),
				"error", handlerErr,
			)
		}
	case isDeferred(result):
		select {
		case <-request.Done():
		case <-s.clock.After(s.config.DeferredTimeout):
			request.respondError(http.StatusGatewayTimeout, "handler did not respond in time")
		case <-ctx.Done():
			request.respondError(http.StatusServiceUnavailable, "server is shutting down")
		}
	default:
		request.Respond(result)
	}

	if err := request.Wait(context.Background()); err != nil {
		level := slog.LevelWarn
		if netutil.IsExpectedCloseError(err) {
			level = slog.LevelDebug
		}
		s.logger.Log(context.Background(), level, "failed to write response",
			"endpoint", route.Name(),
			"request_id", request.ID(),
			"error", err,
		)
	}

	return Completion{
		Status:   request.Status(),
		Duration: s.clock.Now().Sub(request.ReceivedAt()),
		Err:      handlerErr,
	}
}

// call invokes the handler, converting a panic into an error.
func (s *Server) call(ctx context.Context, route *Route, request *Request) (result any, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			s.logger.Error("route handler panicked",
				"endpoint", route.Name(),
				"request_id", request.ID(),
				"panic", recovered,
				"stack", string(debug.Stack()),
			)
			result = nil
			err = fmt.Errorf("handler panicked: %v", recovered)
		}
	}()
	return route.Call(ctx, request)
}

func isDeferred(result any) bool {
	_, ok := result.(deferredResult)
	return ok
}

// errorStatus maps a handler error to a status and client message.
func errorStatus(err error) (int, string) {
	var ipcErr *Error
	if errors.As(err, &ipcErr) {
		return ipcErr.Status, ipcErr.Message
	}
	return http.StatusInternalServerError, err.Error()
}

// reject writes an error envelope for a request that never reached a
// route.
func (s *Server) reject(conn *exchange, requestID string, status int, message string) {
	s.logger.Debug("rejecting request", "status", status, "error", message, "request_id", requestID)
	if _, err := conn.write(&ResponseEnvelope{Status: status, Error: message, RequestID: requestID}, false); err != nil {
		s.logger.Debug("failed to write error response", "error", err)
	}
}

// rejectInvalid answers an envelope that could not be decoded.
func (s *Server) rejectInvalid(conn *exchange, decodeErr error) {
	s.reject(conn, "", http.StatusBadRequest, fmt.Sprintf("invalid request: %v", decodeErr))
}

// buildResponse assembles the response envelope, compressing the
// payload when asked to (or when it crosses CompressThreshold) and the
// client accepts a supported encoding.
func (s *Server) buildResponse(requestID, accept string, status int, payload any, message string, compressed bool) *ResponseEnvelope {
	response := &ResponseEnvelope{Status: status, Error: message, RequestID: requestID}
	if payload == nil {
		return response
	}
	response.Payload = payload

	encoding := compress.Negotiate(accept)
	if encoding == compress.Identity || (!compressed && s.config.CompressThreshold <= 0) {
		return response
	}

	body, err := s.codec.Marshal(payloadBody{Payload: payload})
	if err != nil {
		// Left to the envelope encoder, which reports it as a 500.
		return response
	}
	if !compressed && len(body) < s.config.CompressThreshold {
		return response
	}

	packed, err := compress.Compress(body, encoding)
	if err != nil {
		if !errors.Is(err, compress.ErrIncompressible) {
			s.logger.Warn("payload compression failed", "encoding", encoding, "error", err)
		}
		return response
	}

	response.Payload = nil
	response.Encoding = string(encoding)
	response.Body = packed
	response.Size = len(body)
	return response
}

// encodeResponse encodes a response envelope and returns the status
// of the envelope encoded. delimited selects the codec's stream
// framing (stream transport) over a bare message (websocket frame). A
// payload the codec cannot encode is replaced by a 500 envelope.
func (s *Server) encodeResponse(response *ResponseEnvelope, delimited bool) ([]byte, int, error) {
	data, err := s.encodeEnvelope(response, delimited)
	if err == nil {
		return data, response.Status, nil
	}
	s.logger.Error("encoding response", "request_id", response.RequestID, "error", err)
	data, err = s.encodeEnvelope(&ResponseEnvelope{
		Status:    http.StatusInternalServerError,
		Error:     fmt.Sprintf("internal: encoding response: %v", err),
		RequestID: response.RequestID,
	}, delimited)
	return data, http.StatusInternalServerError, err
}

func (s *Server) encodeEnvelope(response *ResponseEnvelope, delimited bool) ([]byte, error) {
	if !delimited {
		return s.codec.Marshal(response)
	}
	var buffer bytes.Buffer
	if err := s.codec.NewEncoder(&buffer).Encode(response); err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}

func (s *Server) notifyReceived(ctx context.Context, request *Request) {
	s.observersMu.RLock()
	defer s.observersMu.RUnlock()
	for _, observer := range s.observers {
		observer.RequestReceived(ctx, request)
	}
}

func (s *Server) notifyCompleted(ctx context.Context, request *Request, completion Completion) {
	s.observersMu.RLock()
	defer s.observersMu.RUnlock()
	for _, observer := range s.observers {
		observer.RequestCompleted(ctx, request, completion)
	}
}
