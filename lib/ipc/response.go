// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"fmt"

	"github.com/bureau-foundation/botipc/lib/codec"
	"github.com/bureau-foundation/botipc/lib/compress"
)

// Response is a decoded response envelope. A compressed body has
// already been decompressed into Payload.
type Response struct {
	Status    int
	Payload   any
	Error     string
	RequestID string

	// Encoding is the compression the payload travelled with, empty
	// when it was sent uncompressed.
	Encoding string

	codec codec.Codec
}

// OK reports whether Status is 2xx.
func (r *Response) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

// Decode decodes the payload into v using the session's codec. With
// the protobuf codec only object payloads can be decoded.
func (r *Response) Decode(v any) error {
	data, err := r.codec.Marshal(r.Payload)
	if err != nil {
		return fmt.Errorf("re-encoding payload: %w", err)
	}
	if err := r.codec.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding payload: %w", err)
	}
	return nil
}

// newResponse converts a wire envelope, decompressing its body.
func newResponse(c codec.Codec, envelope *ResponseEnvelope) (*Response, error) {
	response := &Response{
		Status:    envelope.Status,
		Payload:   envelope.Payload,
		Error:     envelope.Error,
		RequestID: envelope.RequestID,
		Encoding:  envelope.Encoding,
		codec:     c,
	}
	if len(envelope.Body) == 0 {
		return response, nil
	}

	encoding, err := compress.ParseEncoding(envelope.Encoding)
	if err != nil {
		return nil, err
	}
	data, err := compress.Decompress(envelope.Body, encoding, envelope.Size)
	if err != nil {
		return nil, err
	}
	var body payloadBody
	if err := c.Unmarshal(data, &body); err != nil {
		return nil, fmt.Errorf("decoding %s body: %w", encoding, err)
	}
	response.Payload = body.Payload
	return response, nil
}
