// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package compress implements the payload encodings negotiated between
// IPC clients and servers.
//
// A client lists the encodings it can decode in the Accept-Encoding
// request header. The server picks the first entry it also supports
// with [Negotiate], compresses the encoded payload with [Compress], and
// records the encoding and uncompressed size in the response so the
// client can call [Decompress].
package compress

import (
	"errors"
	"fmt"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Encoding names a payload compression algorithm. The string values
// appear on the wire in the Accept-Encoding header and the response
// envelope's encoding field.
type Encoding string

const (
	// Identity is an uncompressed payload.
	Identity Encoding = "identity"

	// Zstd is zstd at the default level. Best ratio for the JSON-like
	// payloads routes usually return.
	Zstd Encoding = "zstd"

	// LZ4 is LZ4 block compression. Cheaper to produce than zstd with
	// a lower ratio.
	LZ4 Encoding = "lz4"
)

// MaxDecompressedSize bounds the uncompressed size a peer may claim.
// Matches the largest request the stream transport accepts, scaled up
// for responses that are larger than their requests.
const MaxDecompressedSize = 16 * 1024 * 1024

// ErrIncompressible is returned by Compress when the compressed output
// would not be smaller than the input. Callers send the payload
// uncompressed instead.
var ErrIncompressible = errors.New("compress: data is incompressible")

// Supported returns the encodings this package can produce, in server
// preference order.
func Supported() []Encoding {
	return []Encoding{Zstd, LZ4}
}

// AcceptHeader is the Accept-Encoding value a client sends to
// advertise every supported encoding.
func AcceptHeader() string {
	names := make([]string, 0, 2)
	for _, encoding := range Supported() {
		names = append(names, string(encoding))
	}
	return strings.Join(names, ", ")
}

// ParseEncoding parses an encoding name. The empty string is Identity.
func ParseEncoding(name string) (Encoding, error) {
	switch Encoding(strings.ToLower(strings.TrimSpace(name))) {
	case "", Identity:
		return Identity, nil
	case Zstd:
		return Zstd, nil
	case LZ4:
		return LZ4, nil
	default:
		return "", fmt.Errorf("unknown encoding %q", name)
	}
}

// Negotiate returns the first encoding in the comma-separated accept
// list that this package supports, or Identity when there is none.
// Parameters after a semicolon (quality values) are ignored; the
// client's list order is its preference.
func Negotiate(accept string) Encoding {
	for _, entry := range strings.Split(accept, ",") {
		name, _, _ := strings.Cut(entry, ";")
		encoding, err := ParseEncoding(name)
		if err != nil || encoding == Identity {
			continue
		}
		return encoding
	}
	return Identity
}

// Compress compresses data with the given encoding. Identity returns
// data unchanged. Returns ErrIncompressible when compression does not
// shrink the data.
func Compress(data []byte, encoding Encoding) ([]byte, error) {
	switch encoding {
	case Identity:
		return data, nil
	case Zstd:
		return compressZstd(data)
	case LZ4:
		return compressLZ4(data)
	default:
		return nil, fmt.Errorf("unsupported encoding %q", encoding)
	}
}

// Decompress reverses Compress. size is the uncompressed length the
// peer reported; a mismatch is an error.
func Decompress(data []byte, encoding Encoding, size int) ([]byte, error) {
	if size < 0 || size > MaxDecompressedSize {
		return nil, fmt.Errorf("decompress: declared size %d out of range", size)
	}
	switch encoding {
	case Identity:
		if len(data) != size {
			return nil, fmt.Errorf("identity payload: size %d does not match declared %d", len(data), size)
		}
		return data, nil
	case Zstd:
		return decompressZstd(data, size)
	case LZ4:
		return decompressLZ4(data, size)
	default:
		return nil, fmt.Errorf("unsupported encoding %q", encoding)
	}
}

func compressLZ4(data []byte) ([]byte, error) {
	destination := make([]byte, lz4.CompressBlockBound(len(data)))

	written, err := lz4.CompressBlock(data, destination, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	// CompressBlock returns 0 for incompressible input.
	if written == 0 || written >= len(data) {
		return nil, ErrIncompressible
	}
	return destination[:written], nil
}

func decompressLZ4(compressed []byte, size int) ([]byte, error) {
	destination := make([]byte, size)
	read, err := lz4.UncompressBlock(compressed, destination)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	if read != size {
		return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, size)
	}
	return destination, nil
}

// zstd.Encoder and zstd.Decoder are safe for concurrent use through
// EncodeAll and DecodeAll, so one of each serves every connection.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("compress: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxDecompressedSize))
	if err != nil {
		panic("compress: zstd decoder initialization failed: " + err.Error())
	}
}

func compressZstd(data []byte) ([]byte, error) {
	compressed := zstdEncoder.EncodeAll(data, nil)
	if len(compressed) >= len(data) {
		return nil, ErrIncompressible
	}
	return compressed, nil
}

func decompressZstd(compressed []byte, size int) ([]byte, error) {
	result, err := zstdDecoder.DecodeAll(compressed, make([]byte, 0, size))
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	if len(result) != size {
		return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(result), size)
	}
	return result, nil
}
