// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protodelim"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// maxProtobufMessage bounds a single length-prefixed message read from
// a stream.
const maxProtobufMessage = 1024 * 1024

// Protobuf is the protobuf codec. Values must encode as JSON objects;
// they are converted to google.protobuf.Struct through their JSON form,
// so `json` struct tags control field naming. Map key order in the
// output is deterministic.
var Protobuf Codec = protobufCodec{}

type protobufCodec struct{}

func (protobufCodec) Name() string { return "protobuf" }
func (protobufCodec) Binary() bool { return true }

func (protobufCodec) Marshal(v any) ([]byte, error) {
	message, err := toStruct(v)
	if err != nil {
		return nil, err
	}
	return proto.MarshalOptions{Deterministic: true}.Marshal(message)
}

func (protobufCodec) Unmarshal(data []byte, v any) error {
	var message structpb.Struct
	if err := proto.Unmarshal(data, &message); err != nil {
		return fmt.Errorf("protobuf: %w", err)
	}
	return fromStruct(&message, v)
}

func (protobufCodec) NewEncoder(w io.Writer) StreamEncoder {
	return &protobufEncoder{writer: w}
}

func (protobufCodec) NewDecoder(r io.Reader) StreamDecoder {
	reader, ok := r.(protodelim.Reader)
	if !ok {
		reader = bufio.NewReader(r)
	}
	return &protobufDecoder{reader: reader}
}

type protobufEncoder struct {
	writer io.Writer
}

func (e *protobufEncoder) Encode(v any) error {
	message, err := toStruct(v)
	if err != nil {
		return err
	}
	_, err = protodelim.MarshalOptions{
		MarshalOptions: proto.MarshalOptions{Deterministic: true},
	}.MarshalTo(e.writer, message)
	return err
}

type protobufDecoder struct {
	reader protodelim.Reader
}

func (d *protobufDecoder) Decode(v any) error {
	var message structpb.Struct
	err := protodelim.UnmarshalOptions{MaxSize: maxProtobufMessage}.UnmarshalFrom(d.reader, &message)
	if err != nil {
		return err
	}
	return fromStruct(&message, v)
}

// toStruct converts v to a Struct through its JSON form.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("protobuf: %w", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("protobuf: value must encode as an object: %w", err)
	}
	message, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("protobuf: %w", err)
	}
	return message, nil
}

func fromStruct(message *structpb.Struct, v any) error {
	data, err := json.Marshal(message.AsMap())
	if err != nil {
		return fmt.Errorf("protobuf: %w", err)
	}
	return json.Unmarshal(data, v)
}
