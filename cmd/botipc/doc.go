// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Botipc is the command-line client for botipc servers. It sends one
// request per invocation and prints the response payload, optionally
// filtered through a jq program.
//
// Usage:
//
//	botipc call <endpoint> [key=value | key:=json ...] [flags]
//	botipc discover [flags]
//	botipc routes [flags]
//	botipc version [--server]
//
// A non-2xx response exits with status 2; connection and decoding
// failures exit with status 1.
package main
