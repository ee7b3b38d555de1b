// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret holds the shared IPC secret key in protected memory.
//
// [Buffer] allocates memory outside the Go heap via mmap, locks it into
// RAM with mlock, and excludes it from core dumps with
// madvise(MADV_DONTDUMP). Close zeroes, unlocks and unmaps it.
//
// [Key] wraps a Buffer for the server side of authentication. It keeps
// a BLAKE3 digest of the secret and compares presented Authorization
// values digest-to-digest in constant time, so comparison time does not
// depend on how much of a guess was right, or on its length.
//
// Depends on golang.org/x/sys/unix and github.com/zeebo/blake3.
package secret
