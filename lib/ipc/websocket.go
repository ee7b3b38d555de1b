// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/gorilla/websocket"

	"github.com/bureau-foundation/botipc/lib/netutil"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:    4096,
	WriteBufferSize:   4096,
	EnableCompression: true,
	// Clients are local processes and dashboards served from other
	// origins; authentication is by Authorization header.
	CheckOrigin: func(*http.Request) bool { return true },
}

// WebSocketHandler returns an http.Handler serving the main protocol
// at "/", for mounting in an existing HTTP server. The route table is
// frozen.
func (s *Server) WebSocketHandler() http.Handler {
	s.router.Freeze()
	return s.websocketHandler(s.dispatch)
}

func (s *Server) websocketHandler(handle envelopeHandler) http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	if s.config.RateLimit > 0 {
		router.Use(httprate.LimitByIP(s.config.RateLimit, s.config.RateWindow))
	}
	router.Get("/", func(w http.ResponseWriter, r *http.Request) {
		s.serveWebSocket(w, r, handle)
	})
	return router
}

// serveHTTP runs an HTTP server on listener until ctx is cancelled.
// Request contexts derive from ctx, so cancelling it also closes
// hijacked websocket connections.
func (s *Server) serveHTTP(ctx context.Context, listener net.Listener, handler http.Handler) error {
	var active handlerTracker
	server := &http.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !active.add() {
				http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
				return
			}
			defer active.done()
			handler.ServeHTTP(w, r)
		}),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	serveDone := make(chan error, 1)
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveDone <- err
		}
		close(serveDone)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveDone:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	shutdownErr := server.Shutdown(shutdownCtx)

	// Shutdown does not track hijacked connections.
	active.closeAndWait()

	if shutdownErr != nil {
		s.logger.Error("http server shutdown error", "error", shutdownErr)
		return shutdownErr
	}
	return nil
}

// handlerTracker counts running handlers. Once closeAndWait has been
// called, add refuses new handlers so the count can only fall.
type handlerTracker struct {
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func (t *handlerTracker) add() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	t.wg.Add(1)
	return true
}

func (t *handlerTracker) done() { t.wg.Done() }

// closeAndWait stops admitting handlers and waits for the running ones.
func (t *handlerTracker) closeAndWait() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	t.wg.Wait()
}

// wsConn serializes frame writes on one websocket connection.
type wsConn struct {
	conn         *websocket.Conn
	messageType  int
	writeTimeout time.Duration

	mu sync.Mutex
}

func (c *wsConn) write(data []byte, compressed bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.EnableWriteCompression(compressed)
	c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.conn.WriteMessage(c.messageType, data)
}

func (c *wsConn) close(code int, reason string) {
	message := websocket.FormatCloseMessage(code, reason)
	c.conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(c.writeTimeout))
}

// serveWebSocket upgrades the connection and answers frames in order
// until the client disconnects, a protocol error occurs, or the server
// shuts down.
func (s *Server) serveWebSocket(w http.ResponseWriter, r *http.Request, handle envelopeHandler) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error response.
		s.logger.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer conn.Close()

	ctx := r.Context()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	messageType := websocket.TextMessage
	if s.codec.Binary() {
		messageType = websocket.BinaryMessage
	}
	ws := &wsConn{conn: conn, messageType: messageType, writeTimeout: s.config.WriteTimeout}

	conn.SetReadLimit(s.config.MaxRequestSize)
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.config.IdleTimeout))
	})

	pingDone := make(chan struct{})
	defer close(pingDone)
	go s.pingLoop(ws, pingDone)

	client := &exchange{
		remoteAddr: r.RemoteAddr,
		write: func(response *ResponseEnvelope, compressed bool) (int, error) {
			data, status, err := s.encodeResponse(response, false)
			if err != nil {
				return status, err
			}
			return status, ws.write(data, compressed)
		},
	}

	for {
		conn.SetReadDeadline(time.Now().Add(s.config.IdleTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && !netutil.IsExpectedCloseError(err) {
				s.logger.Debug("websocket read failed", "remote", r.RemoteAddr, "error", err)
			}
			return
		}

		var envelope RequestEnvelope
		if err := s.codec.Unmarshal(data, &envelope); err != nil {
			s.rejectInvalid(client, err)
			ws.close(websocket.CloseUnsupportedData, "invalid request")
			return
		}

		// The handler may take longer than the idle timeout.
		conn.SetReadDeadline(time.Time{})
		if !handle(ctx, client, &envelope) {
			ws.close(websocket.ClosePolicyViolation, "request rejected")
			return
		}
	}
}

// pingLoop pings the client every PingInterval until done is closed or
// a ping fails.
func (s *Server) pingLoop(ws *wsConn, done <-chan struct{}) {
	ticker := s.clock.NewTicker(s.config.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := ws.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.config.WriteTimeout)); err != nil {
				return
			}
		}
	}
}
