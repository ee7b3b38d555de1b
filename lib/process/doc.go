// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process holds entrypoint helpers for the botipc binaries.
// It covers the one place raw stderr output is allowed: reporting the
// error that ended run() before or after the structured logger exists.
package process
