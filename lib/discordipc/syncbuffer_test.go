// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package discordipc

import (
	"bytes"
	"sync"
)

// syncBuffer is a bytes.Buffer safe for a logger writing from server
// goroutines while the test reads.
type syncBuffer struct {
	mu     sync.Mutex
	buffer *bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buffer.Write(p)
}

func (b *syncBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buffer.Bytes()...)
}

func (b *syncBuffer) String() string {
	return string(b.Bytes())
}
