// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the envelope encodings spoken by the IPC
// transports.
//
// Three codecs are available through [ByName]:
//
//   - "cbor": the default for the stream transport (unix and tcp
//     sockets). CBOR is self-delimiting, so one value can be read from
//     a connection without a framing protocol. The encoder uses Core
//     Deterministic Encoding (RFC 8949 §4.2): sorted map keys,
//     smallest integer encoding, no indefinite-length items.
//   - "json": the default for the websocket transport. Wire-compatible
//     with dashboards and clients written against the JSON envelope.
//   - "protobuf": envelopes carried as google.protobuf.Struct. Streams
//     are framed with varint length prefixes (protodelim).
//
// The package-level Marshal, Unmarshal, NewEncoder and NewDecoder
// functions are the CBOR configuration, used directly by code that
// only ever speaks CBOR:
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// Code that is configured with a codec takes a [Codec]:
//
//	c, err := codec.ByName("json")
//	err = c.NewEncoder(conn).Encode(envelope)
//
// # Struct Tag Rules
//
// Envelope types carry `json` tags only. fxamacker/cbor reads `json`
// tags as a fallback when `cbor` tags are absent, and the protobuf
// codec converts through JSON, so a single `json` tag controls field
// naming and omitempty for every codec. Never use both `cbor` and
// `json` tags on the same field.
package codec
