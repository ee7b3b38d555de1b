// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"fmt"
	"io"
	"sort"
)

// Codec encodes and decodes IPC envelopes. Implementations are
// stateless and safe for concurrent use.
type Codec interface {
	// Name is the identifier used in configuration and on the
	// command line ("cbor", "json", "protobuf").
	Name() string

	// Marshal encodes v as a single self-contained message.
	Marshal(v any) ([]byte, error)

	// Unmarshal decodes one message produced by Marshal into v.
	Unmarshal(data []byte, v any) error

	// NewEncoder returns an encoder that writes values to a stream
	// with whatever framing the format needs.
	NewEncoder(w io.Writer) StreamEncoder

	// NewDecoder returns a decoder that reads values written by
	// NewEncoder.
	NewDecoder(r io.Reader) StreamDecoder

	// Binary reports whether messages are binary. Websocket
	// transports send binary codecs as binary frames and text codecs
	// as text frames.
	Binary() bool
}

// StreamEncoder writes values to a stream.
type StreamEncoder interface {
	Encode(v any) error
}

// StreamDecoder reads values from a stream.
type StreamDecoder interface {
	Decode(v any) error
}

var registry = map[string]Codec{
	CBOR.Name():     CBOR,
	JSON.Name():     JSON,
	Protobuf.Name(): Protobuf,
}

// ByName returns the codec registered under name.
func ByName(name string) (Codec, error) {
	c, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown codec %q (available: %v)", name, Names())
	}
	return c, nil
}

// Names returns the registered codec names in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
