// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

// ExitError signals a non-zero exit code. When Message is empty the
// command has already written its own output and nothing more is
// printed; process.Fatal checks for the ExitCode method.
//
// "botipc call" returns one for a non-2xx response: the response was
// received and printed, so this is an outcome rather than a failure.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string {
	return e.Message
}

// ExitCode returns the exit code.
func (e *ExitError) ExitCode() int {
	return e.Code
}
