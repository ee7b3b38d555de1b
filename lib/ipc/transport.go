// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import "fmt"

// Transport selects how envelopes travel between client and server.
type Transport string

const (
	// WebSocket carries one envelope per frame over a websocket
	// connection. A connection may carry many requests.
	WebSocket Transport = "websocket"

	// TCP carries one envelope per TCP connection.
	TCP Transport = "tcp"

	// Unix carries one envelope per unix socket connection.
	Unix Transport = "unix"
)

const (
	// DefaultHost is the host servers bind and sessions dial when none
	// is configured.
	DefaultHost = "localhost"

	// DefaultPort is the main server port.
	DefaultPort = 8000

	// DefaultDiscoveryPort is the discovery server port.
	DefaultDiscoveryPort = 20000
)

// ParseTransport parses a transport name. The empty string is
// WebSocket.
func ParseTransport(name string) (Transport, error) {
	switch Transport(name) {
	case "", WebSocket:
		return WebSocket, nil
	case TCP:
		return TCP, nil
	case Unix:
		return Unix, nil
	default:
		return "", fmt.Errorf("unknown transport %q (valid: websocket, tcp, unix)", name)
	}
}

// network returns the net.Listen network for stream transports.
func (t Transport) network() string {
	if t == Unix {
		return "unix"
	}
	return "tcp"
}

func (t Transport) String() string { return string(t) }
