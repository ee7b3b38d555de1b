// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"crypto/subtle"

	"github.com/zeebo/blake3"
)

// authorizationDomain separates Authorization digests from any other
// use of BLAKE3 in the process. ASCII, zero-padded to 32 bytes.
var authorizationDomain = [32]byte{
	'b', 'o', 't', 'i', 'p', 'c', '.', 'a', 'u', 't', 'h', 'o', 'r', 'i', 'z', 'a',
	't', 'i', 'o', 'n', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// Key is a shared secret checked against presented Authorization
// values.
type Key struct {
	buffer *Buffer
	digest [32]byte
}

// NewKey takes ownership of buffer.
func NewKey(buffer *Buffer) *Key {
	return &Key{
		buffer: buffer,
		digest: digest(buffer.Bytes()),
	}
}

// NewKeyFromString copies value into protected memory. The string
// itself stays on the heap; use it for configuration values that were
// already strings.
func NewKeyFromString(value string) (*Key, error) {
	buffer, err := NewFromBytes([]byte(value))
	if err != nil {
		return nil, err
	}
	return NewKey(buffer), nil
}

// ReadKey reads a key from a file path, or stdin for "-".
func ReadKey(path string) (*Key, error) {
	buffer, err := ReadFromPath(path)
	if err != nil {
		return nil, err
	}
	return NewKey(buffer), nil
}

// Matches reports whether presented equals the key.
func (k *Key) Matches(presented string) bool {
	candidate := digest([]byte(presented))
	return subtle.ConstantTimeCompare(k.digest[:], candidate[:]) == 1
}

// Value returns the key as a string for sending in a header.
func (k *Key) Value() string {
	return k.buffer.String()
}

// Close releases the protected memory.
func (k *Key) Close() error {
	return k.buffer.Close()
}

func digest(data []byte) [32]byte {
	// NewKeyed only fails for keys that are not 32 bytes.
	hasher, err := blake3.NewKeyed(authorizationDomain[:])
	if err != nil {
		panic("secret: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(data)
	var sum [32]byte
	copy(sum[:], hasher.Sum(nil))
	return sum
}
