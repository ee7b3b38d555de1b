// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"encoding/json"
	"io"
)

// JSON is the JSON codec. Streams are newline-delimited.
var JSON Codec = jsonCodec{}

type jsonCodec struct{}

func (jsonCodec) Name() string                       { return "json" }
func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Binary() bool                       { return false }

func (jsonCodec) NewEncoder(w io.Writer) StreamEncoder {
	return json.NewEncoder(w)
}

func (jsonCodec) NewDecoder(r io.Reader) StreamDecoder {
	return json.NewDecoder(r)
}
