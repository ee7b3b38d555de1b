// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import "strings"

// Header names with meaning to the protocol. Header lookup is case
// insensitive.
const (
	HeaderAuthorization  = "Authorization"
	HeaderAcceptEncoding = "Accept-Encoding"
	HeaderRequestID      = "X-Request-ID"
)

// RequestEnvelope is the wire form of a request.
type RequestEnvelope struct {
	Endpoint string            `json:"endpoint"`
	Payload  map[string]any    `json:"payload,omitempty"`
	Headers  map[string]string `json:"headers,omitempty"`

	// Data is accepted from clients that send the payload under its
	// older name. It is folded into Payload on receipt and never sent.
	Data map[string]any `json:"data,omitempty"`
}

// payload returns the request payload, preferring Payload over Data.
func (e *RequestEnvelope) payload() map[string]any {
	if e.Payload != nil {
		return e.Payload
	}
	return e.Data
}

// ResponseEnvelope is the wire form of a response.
type ResponseEnvelope struct {
	Status  int    `json:"status"`
	Payload any    `json:"payload,omitempty"`
	Error   string `json:"error,omitempty"`

	// Encoding, Body and Size carry a compressed payload: Body is the
	// codec-encoded payloadBody compressed with Encoding, and Size is
	// its uncompressed length. Payload is empty when Body is set.
	Encoding string `json:"encoding,omitempty"`
	Body     []byte `json:"body,omitempty"`
	Size     int    `json:"size,omitempty"`

	RequestID string `json:"request_id,omitempty"`
}

// payloadBody wraps a payload before compression so that codecs which
// only encode objects (protobuf) can carry scalar and list payloads.
type payloadBody struct {
	Payload any `json:"payload"`
}

// DiscoveryInfo is the payload of a discovery response.
type DiscoveryInfo struct {
	Message   string `json:"message"`
	Port      int    `json:"port"`
	Transport string `json:"transport"`
	Codec     string `json:"codec"`
}

// lookupHeader finds a header by case-insensitive name.
func lookupHeader(headers map[string]string, name string) (string, bool) {
	if value, ok := headers[name]; ok {
		return value, true
	}
	for key, value := range headers {
		if strings.EqualFold(key, name) {
			return value, true
		}
	}
	return "", false
}
