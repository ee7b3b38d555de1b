// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bureau-foundation/botipc/lib/clock"
	"github.com/bureau-foundation/botipc/lib/codec"
	"github.com/bureau-foundation/botipc/lib/secret"
	"github.com/bureau-foundation/botipc/lib/testutil"
)

var testClockEpoch = time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

// serve runs server.Serve on listener until the test ends.
func serve(t *testing.T, server *Server, listener net.Listener) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx, listener) }()
	testutil.RequireClosed(t, server.Ready(), 5*time.Second, "server ready")

	t.Cleanup(func() {
		cancel()
		err := testutil.RequireReceive[error](t, done, 10*time.Second, "server shutdown")
		assert.NoError(t, err)
	})
}

// serveDiscovery runs server.ServeDiscovery on a loopback listener
// until the test ends and returns the listener's port.
func serveDiscovery(t *testing.T, server *Server) int {
	t.Helper()
	listener := testutil.LocalListener(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.ServeDiscovery(ctx, listener) }()
	testutil.RequireClosed(t, server.DiscoveryReady(), 5*time.Second, "discovery ready")

	t.Cleanup(func() {
		cancel()
		err := testutil.RequireReceive[error](t, done, 10*time.Second, "discovery shutdown")
		assert.NoError(t, err)
	})
	return listener.Addr().(*net.TCPAddr).Port
}

type transportCase struct {
	name      string
	transport Transport
	codec     codec.Codec
}

var transportCases = []transportCase{
	{"websocket-json", WebSocket, codec.JSON},
	{"websocket-cbor", WebSocket, codec.CBOR},
	{"tcp-cbor", TCP, codec.CBOR},
	{"tcp-json", TCP, codec.JSON},
	{"unix-protobuf", Unix, codec.Protobuf},
}

// start creates a server for the case, lets register add routes,
// serves it, and returns a session config pointing at it.
func (c transportCase) start(t *testing.T, config ServerConfig, register func(*Server)) (*Server, SessionConfig) {
	t.Helper()
	config.Transport = c.transport
	config.Codec = c.codec
	server := NewServer(config)
	if register != nil {
		register(server)
	}

	session := SessionConfig{
		Host:      "127.0.0.1",
		Transport: c.transport,
		Codec:     c.codec,
		Timeout:   10 * time.Second,
	}

	var listener net.Listener
	if c.transport == Unix {
		session.SocketPath = filepath.Join(testutil.SocketDir(t), "ipc.sock")
		var err error
		listener, err = net.Listen("unix", session.SocketPath)
		require.NoError(t, err)
		t.Cleanup(func() { listener.Close() })
	} else {
		listener = testutil.LocalListener(t)
		session.Port = listener.Addr().(*net.TCPAddr).Port
	}

	serve(t, server, listener)
	return server, session
}

func registerEcho(server *Server) {
	server.Handle("/echo", func(_ context.Context, request *Request) (any, error) {
		return request.Payload(), nil
	})
}

func TestServerEcho(t *testing.T) {
	for _, tc := range transportCases {
		t.Run(tc.name, func(t *testing.T) {
			_, config := tc.start(t, ServerConfig{}, registerEcho)
			session := NewClientSession(config)

			response, err := session.Request(context.Background(), "/echo", map[string]any{"message": "hello"})
			require.NoError(t, err)
			assert.Equal(t, http.StatusOK, response.Status)
			assert.NotEmpty(t, response.RequestID)
			assert.Empty(t, response.Encoding)

			var echoed struct {
				Message string `json:"message"`
			}
			require.NoError(t, response.Decode(&echoed))
			assert.Equal(t, "hello", echoed.Message)
		})
	}
}

func TestServerErrorStatuses(t *testing.T) {
	register := func(server *Server) {
		server.Handle("/missing", func(context.Context, *Request) (any, error) {
			return nil, NotFound("no guild %s", "42")
		})
		server.Handle("/broken", func(context.Context, *Request) (any, error) {
			return nil, errors.New("boom")
		})
		server.Handle("/panics", func(context.Context, *Request) (any, error) {
			panic("unreachable state")
		})
	}

	tests := []struct {
		endpoint string
		status   int
		message  string
	}{
		{"", http.StatusBadRequest, "No endpoint was set"},
		{"/unknown", http.StatusBadRequest, "Invalid endpoint provided"},
		{"unknown", http.StatusBadRequest, "Invalid endpoint provided"},
		{"/missing", http.StatusNotFound, "no guild 42"},
		{"/broken", http.StatusInternalServerError, "boom"},
		{"/panics", http.StatusInternalServerError, "handler panicked: unreachable state"},
	}

	for _, tc := range transportCases {
		t.Run(tc.name, func(t *testing.T) {
			_, config := tc.start(t, ServerConfig{}, register)
			session := NewClientSession(config)

			for _, test := range tests {
				response, err := session.Request(context.Background(), test.endpoint, nil)
				var statusErr *StatusError
				require.ErrorAs(t, err, &statusErr, "endpoint %q", test.endpoint)
				assert.Equal(t, test.status, statusErr.Status, "endpoint %q", test.endpoint)
				assert.Equal(t, test.message, statusErr.Message, "endpoint %q", test.endpoint)
				require.NotNil(t, response)
				assert.Equal(t, test.status, response.Status)
				assert.False(t, response.OK())
			}
		})
	}
}

func TestServerAuthentication(t *testing.T) {
	serverKey, err := secret.NewKeyFromString("hunter2")
	require.NoError(t, err)
	t.Cleanup(func() { serverKey.Close() })
	clientKey, err := secret.NewKeyFromString("hunter2")
	require.NoError(t, err)
	t.Cleanup(func() { clientKey.Close() })
	wrongKey, err := secret.NewKeyFromString("hunter3")
	require.NoError(t, err)
	t.Cleanup(func() { wrongKey.Close() })

	for _, tc := range transportCases {
		t.Run(tc.name, func(t *testing.T) {
			_, config := tc.start(t, ServerConfig{SecretKey: serverKey}, registerEcho)

			_, err := NewClientSession(config).Request(context.Background(), "/echo", nil)
			var statusErr *StatusError
			require.ErrorAs(t, err, &statusErr)
			assert.Equal(t, http.StatusUnauthorized, statusErr.Status)
			assert.Equal(t, "Unauthorized", statusErr.Message)

			config.SecretKey = wrongKey
			_, err = NewClientSession(config).Request(context.Background(), "/echo", nil)
			require.ErrorAs(t, err, &statusErr)
			assert.Equal(t, http.StatusForbidden, statusErr.Status)

			config.SecretKey = clientKey
			response, err := NewClientSession(config).Request(context.Background(), "/echo", map[string]any{"a": "b"})
			require.NoError(t, err)
			assert.Equal(t, http.StatusOK, response.Status)
		})
	}
}

func TestServerMissingEndpointCheckedBeforeAuthentication(t *testing.T) {
	key, err := secret.NewKeyFromString("hunter2")
	require.NoError(t, err)
	t.Cleanup(func() { key.Close() })

	_, config := transportCases[2].start(t, ServerConfig{SecretKey: key}, registerEcho)
	_, err = NewClientSession(config).Request(context.Background(), "", nil)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusBadRequest, statusErr.Status)
}

func TestServerLifecycleEvents(t *testing.T) {
	fakeClock := clock.Fake(testClockEpoch)
	received := make(chan string, 10)
	completed := make(chan Completion, 10)
	stats := &Stats{}

	register := func(server *Server) {
		server.Handle("/slow", func(context.Context, *Request) (any, error) {
			fakeClock.Advance(250 * time.Millisecond)
			return "done", nil
		})
		server.Handle("/fails", func(context.Context, *Request) (any, error) {
			return nil, BadRequest("missing guild_id")
		})
		server.Observe(stats)
		server.Observe(ObserverFuncs{
			Received: func(_ context.Context, request *Request) {
				received <- request.Endpoint()
			},
			Completed: func(_ context.Context, request *Request, completion Completion) {
				completed <- completion
			},
		})
	}

	_, config := transportCases[2].start(t, ServerConfig{Clock: fakeClock}, register)
	session := NewClientSession(config)
	ctx := context.Background()

	_, err := session.Request(ctx, "/slow", nil)
	require.NoError(t, err)
	assert.Equal(t, "/slow", testutil.RequireReceive(t, received, 5*time.Second, "received /slow"))
	completion := testutil.RequireReceive(t, completed, 5*time.Second, "completed /slow")
	assert.Equal(t, http.StatusOK, completion.Status)
	assert.Equal(t, 250*time.Millisecond, completion.Duration)
	assert.NoError(t, completion.Err)

	_, err = session.Request(ctx, "/fails", nil)
	require.Error(t, err)
	assert.Equal(t, "/fails", testutil.RequireReceive(t, received, 5*time.Second, "received /fails"))
	completion = testutil.RequireReceive(t, completed, 5*time.Second, "completed /fails")
	assert.Equal(t, http.StatusBadRequest, completion.Status)
	assert.Error(t, completion.Err)

	// Unmatched routes are received but never completed.
	_, err = session.Request(ctx, "/unknown", nil)
	require.Error(t, err)
	assert.Equal(t, "/unknown", testutil.RequireReceive(t, received, 5*time.Second, "received /unknown"))

	// Envelopes without an endpoint fire neither event.
	_, err = session.Request(ctx, "", nil)
	require.Error(t, err)

	_, err = session.Request(ctx, "/slow", nil)
	require.NoError(t, err)
	assert.Equal(t, "/slow", testutil.RequireReceive(t, received, 5*time.Second, "received second /slow"))
	testutil.RequireReceive(t, completed, 5*time.Second, "completed second /slow")

	assert.Empty(t, received)
	assert.Empty(t, completed)
	assert.Equal(t, StatsSnapshot{Received: 4, Completed: 3, Failed: 1}, stats.Snapshot())
}

func TestServerUnencodablePayloadCompletesAsInternalError(t *testing.T) {
	for _, tc := range transportCases {
		t.Run(tc.name, func(t *testing.T) {
			completed := make(chan Completion, 1)
			stats := &Stats{}
			register := func(server *Server) {
				server.Handle("/channel", func(context.Context, *Request) (any, error) {
					return map[string]any{"c": make(chan int)}, nil
				})
				server.Observe(stats)
				server.Observe(ObserverFuncs{
					Completed: func(_ context.Context, _ *Request, completion Completion) {
						completed <- completion
					},
				})
			}
			_, config := tc.start(t, ServerConfig{}, register)

			_, err := NewClientSession(config).Request(context.Background(), "/channel", nil)
			var statusErr *StatusError
			require.ErrorAs(t, err, &statusErr)
			assert.Equal(t, http.StatusInternalServerError, statusErr.Status)
			assert.Contains(t, statusErr.Message, "encoding response")

			completion := testutil.RequireReceive(t, completed, 5*time.Second, "completed /channel")
			assert.Equal(t, http.StatusInternalServerError, completion.Status)
			assert.Equal(t, StatsSnapshot{Received: 1, Completed: 1, Failed: 1}, stats.Snapshot())
		})
	}
}

func TestServerRespondEarly(t *testing.T) {
	handlerDone := make(chan struct{})
	register := func(server *Server) {
		server.Handle("/early", func(_ context.Context, request *Request) (any, error) {
			defer close(handlerDone)
			if err := request.Respond("accepted", WithStatus(http.StatusAccepted)); err != nil {
				return nil, err
			}
			return "ignored", nil
		})
	}

	for _, tc := range transportCases[:3] {
		t.Run(tc.name, func(t *testing.T) {
			handlerDone = make(chan struct{})
			_, config := tc.start(t, ServerConfig{}, register)

			response, err := NewClientSession(config).Request(context.Background(), "/early", nil)
			require.NoError(t, err)
			assert.Equal(t, http.StatusAccepted, response.Status)
			assert.Equal(t, "accepted", response.Payload)
			testutil.RequireClosed(t, handlerDone, 5*time.Second, "handler returned")
		})
	}
}

func TestServerDeferredResponse(t *testing.T) {
	register := func(server *Server) {
		server.Handle("/later", func(_ context.Context, request *Request) (any, error) {
			go func() {
				request.Respond(map[string]any{"late": "yes"})
			}()
			return Deferred, nil
		})
	}

	for _, tc := range transportCases {
		t.Run(tc.name, func(t *testing.T) {
			_, config := tc.start(t, ServerConfig{}, register)

			var result struct {
				Late string `json:"late"`
			}
			require.NoError(t, NewClientSession(config).Call(context.Background(), "/later", nil, &result))
			assert.Equal(t, "yes", result.Late)
		})
	}
}

func TestServerDeferredTimeout(t *testing.T) {
	fakeClock := clock.Fake(testClockEpoch)
	register := func(server *Server) {
		server.Handle("/never", func(context.Context, *Request) (any, error) {
			return Deferred, nil
		})
	}
	_, config := transportCases[2].start(t, ServerConfig{Clock: fakeClock, DeferredTimeout: time.Minute}, register)

	result := make(chan error, 1)
	go func() {
		_, err := NewClientSession(config).Request(context.Background(), "/never", nil)
		result <- err
	}()

	fakeClock.WaitForTimers(1)
	fakeClock.Advance(time.Minute)

	err := testutil.RequireReceive(t, result, 5*time.Second, "deferred timeout response")
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusGatewayTimeout, statusErr.Status)
}

func TestServerCompression(t *testing.T) {
	large := strings.Repeat("guild member list ", 512)
	register := func(server *Server) {
		server.Handle("/requested", func(_ context.Context, request *Request) (any, error) {
			return nil, request.Respond(map[string]any{"text": large}, WithCompression())
		})
		server.Handle("/large", func(context.Context, *Request) (any, error) {
			return map[string]any{"text": large}, nil
		})
		server.Handle("/small", func(context.Context, *Request) (any, error) {
			return map[string]any{"text": "short"}, nil
		})
	}

	for _, tc := range transportCases {
		t.Run(tc.name, func(t *testing.T) {
			_, config := tc.start(t, ServerConfig{CompressThreshold: 4096}, register)
			session := NewClientSession(config)
			ctx := context.Background()

			var payload struct {
				Text string `json:"text"`
			}
			for _, endpoint := range []string{"/requested", "/large"} {
				response, err := session.Request(ctx, endpoint, nil)
				require.NoError(t, err)
				assert.Equal(t, "zstd", response.Encoding, endpoint)
				require.NoError(t, response.Decode(&payload))
				assert.Equal(t, large, payload.Text, endpoint)
			}

			response, err := session.Request(ctx, "/small", nil)
			require.NoError(t, err)
			assert.Empty(t, response.Encoding)
			require.NoError(t, response.Decode(&payload))
			assert.Equal(t, "short", payload.Text)
		})
	}
}

func TestServerIncompressiblePayloadSentPlain(t *testing.T) {
	register := func(server *Server) {
		server.Handle("/tiny", func(_ context.Context, request *Request) (any, error) {
			return nil, request.Respond("x", WithCompression())
		})
	}
	_, config := transportCases[0].start(t, ServerConfig{}, register)

	response, err := NewClientSession(config).Request(context.Background(), "/tiny", nil)
	require.NoError(t, err)
	assert.Empty(t, response.Encoding)
	assert.Equal(t, "x", response.Payload)
}

func TestServerFreezesRoutes(t *testing.T) {
	server, _ := transportCases[2].start(t, ServerConfig{}, registerEcho)

	err := server.AddRoute(MustRoute("/late", nopHandler))
	assert.ErrorIs(t, err, ErrRouterFrozen)
	assert.True(t, server.Router().Frozen())
}

func TestServerRequestMetadata(t *testing.T) {
	type metadata struct {
		ID       string `json:"id"`
		Endpoint string `json:"endpoint"`
		Remote   string `json:"remote"`
		PID      int32  `json:"pid"`
		Custom   string `json:"custom"`
	}
	register := func(server *Server) {
		server.Handle("/whoami", func(_ context.Context, request *Request) (any, error) {
			result := metadata{
				ID:       request.ID(),
				Endpoint: request.Endpoint(),
				Remote:   request.RemoteAddr(),
				Custom:   request.Header("x-custom"),
			}
			if peer := request.Peer(); peer != nil {
				result.PID = peer.PID
			}
			return result, nil
		})
	}

	_, config := transportCases[4].start(t, ServerConfig{}, register)
	config.Headers = map[string]string{"X-Custom": "dashboard", HeaderRequestID: "ignored"}
	response, err := NewClientSession(config).Request(context.Background(), "/whoami", nil)
	require.NoError(t, err)

	var result metadata
	require.NoError(t, response.Decode(&result))
	assert.Equal(t, "/whoami", result.Endpoint)
	assert.Equal(t, "dashboard", result.Custom)
	assert.Equal(t, response.RequestID, result.ID)
	// The session always sets its own request id.
	assert.NotEqual(t, "ignored", result.ID)
	if runtime.GOOS == "linux" {
		assert.Equal(t, int32(os.Getpid()), result.PID)
	}
}

func TestServerListenAndServeUnix(t *testing.T) {
	socketPath := filepath.Join(testutil.SocketDir(t), "botipc.sock")
	require.NoError(t, os.WriteFile(socketPath, nil, 0o600), "stale socket file")

	server := NewServer(ServerConfig{Transport: Unix, SocketPath: socketPath})
	registerEcho(server)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.ListenAndServe(ctx) }()
	testutil.RequireClosed(t, server.Ready(), 5*time.Second, "server ready")

	session := NewClientSession(SessionConfig{Transport: Unix, SocketPath: socketPath})
	assert.Equal(t, "unix://"+socketPath, session.URL())
	_, err := session.Request(context.Background(), "/echo", nil)
	require.NoError(t, err)

	cancel()
	require.NoError(t, testutil.RequireReceive[error](t, done, 10*time.Second, "server shutdown"))
	_, err = os.Stat(socketPath)
	assert.True(t, os.IsNotExist(err), "socket removed on shutdown")
}

func TestServerOversizedStreamRequest(t *testing.T) {
	for _, tc := range transportCases[2:4] {
		t.Run(tc.name, func(t *testing.T) {
			_, config := tc.start(t, ServerConfig{MaxRequestSize: 512}, registerEcho)

			payload := map[string]any{"text": strings.Repeat("x", 4096)}
			_, err := NewClientSession(config).Request(context.Background(), "/echo", payload)
			var statusErr *StatusError
			require.ErrorAs(t, err, &statusErr)
			assert.Equal(t, http.StatusBadRequest, statusErr.Status)
			assert.Equal(t, "invalid request: request exceeds 512 bytes", statusErr.Message)
		})
	}
}

// freePort returns a loopback port that was free a moment ago.
func freePort(t *testing.T) int {
	t.Helper()
	listener := testutil.LocalListener(t)
	port := listener.Addr().(*net.TCPAddr).Port
	require.NoError(t, listener.Close())
	return port
}

func TestServerListenAndServeRecordsDiscoveryBeforeReady(t *testing.T) {
	port, discoveryPort := freePort(t), freePort(t)
	server := NewServer(ServerConfig{
		Transport:     TCP,
		Host:          "127.0.0.1",
		Port:          port,
		Discovery:     true,
		DiscoveryPort: discoveryPort,
	})
	registerEcho(server)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.ListenAndServe(ctx) }()
	testutil.RequireClosed(t, server.Ready(), 5*time.Second, "server ready")

	testutil.RequireClosed(t, server.DiscoveryReady(), time.Second, "discovery ready")
	assert.Equal(t, "ws://127.0.0.1:"+strconv.Itoa(discoveryPort), server.DiscoveryURL())

	info, err := NewClientSession(SessionConfig{
		Host:          "127.0.0.1",
		Transport:     TCP,
		DiscoveryPort: discoveryPort,
		Timeout:       10 * time.Second,
	}).Discover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, port, info.Port)

	cancel()
	require.NoError(t, testutil.RequireReceive[error](t, done, 10*time.Second, "server shutdown"))
}

func TestServerListenAndServeRejectsDiscoveryOnUnix(t *testing.T) {
	server := NewServer(ServerConfig{
		Transport:  Unix,
		SocketPath: filepath.Join(testutil.SocketDir(t), "botipc.sock"),
		Discovery:  true,
	})
	err := server.ListenAndServe(context.Background())
	assert.ErrorContains(t, err, "discovery is not available")
}
