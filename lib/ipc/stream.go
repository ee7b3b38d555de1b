// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/bureau-foundation/botipc/lib/netutil"
)

// serveStream accepts connections until ctx is cancelled. Each
// connection carries exactly one request and one response. Returns
// after all active connections have finished.
func (s *Server) serveStream(ctx context.Context, listener net.Listener, handle envelopeHandler) error {
	var activeConnections sync.WaitGroup

	// Unblock Accept when the context is cancelled.
	stop := context.AfterFunc(ctx, func() { listener.Close() })
	defer stop()
	defer listener.Close()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}

		activeConnections.Add(1)
		go func() {
			defer activeConnections.Done()
			s.handleStreamConnection(ctx, conn, handle)
		}()
	}

	activeConnections.Wait()
	return nil
}

// handleStreamConnection processes one request-response cycle.
func (s *Server) handleStreamConnection(ctx context.Context, conn net.Conn, handle envelopeHandler) {
	defer conn.Close()

	client := &exchange{
		remoteAddr: conn.RemoteAddr().String(),
		peer:       peerCredentials(conn),
		write: func(response *ResponseEnvelope, _ bool) (int, error) {
			data, status, err := s.encodeResponse(response, true)
			if err != nil {
				return status, err
			}
			conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
			_, err = conn.Write(data)
			return status, err
		},
	}

	conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))

	// Envelopes are self-delimiting in every codec, so no framing
	// beyond the codec's own is needed. The limit bounds memory.
	limited := &io.LimitedReader{R: conn, N: s.config.MaxRequestSize}
	var envelope RequestEnvelope
	if err := s.codec.NewDecoder(limited).Decode(&envelope); err != nil {
		if limited.N <= 0 {
			s.rejectInvalid(client, fmt.Errorf("request exceeds %d bytes", s.config.MaxRequestSize))
			return
		}
		if netutil.IsExpectedCloseError(err) {
			// Client connected but sent nothing.
			return
		}
		s.rejectInvalid(client, err)
		return
	}

	// The handler may run longer than the read timeout.
	conn.SetReadDeadline(time.Time{})
	handle(ctx, client, &envelope)
}
