// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"

	"github.com/bureau-foundation/botipc/lib/secret"
)

// SecretEnv is the environment variable consulted when no secret file
// is given.
const SecretEnv = "BOTIPC_SECRET"

// SecretSource says where the shared secret comes from. The first set
// source wins: File, then Prompt, then Fallback (the config file's
// client.secret_key_file), then the BOTIPC_SECRET environment variable.
type SecretSource struct {
	File     string
	Prompt   bool
	Fallback string

	// Input and Output are used for the prompt. They default to stdin
	// and stderr.
	Input  *os.File
	Output io.Writer
}

// Resolve returns the secret, or nil when no source is set.
func (s SecretSource) Resolve() (*secret.Key, error) {
	switch {
	case s.File != "":
		key, err := secret.ReadKey(s.File)
		if err != nil {
			return nil, fmt.Errorf("reading --secret-file: %w", err)
		}
		return key, nil
	case s.Prompt:
		return s.prompt()
	case s.Fallback != "":
		key, err := secret.ReadKey(s.Fallback)
		if err != nil {
			return nil, fmt.Errorf("reading client.secret_key_file: %w", err)
		}
		return key, nil
	}
	if value := os.Getenv(SecretEnv); value != "" {
		return secret.NewKeyFromString(value)
	}
	return nil, nil
}

func (s SecretSource) prompt() (*secret.Key, error) {
	input, output := s.Input, s.Output
	if input == nil {
		input = os.Stdin
	}
	if output == nil {
		output = os.Stderr
	}
	if !term.IsTerminal(int(input.Fd())) {
		return nil, errors.New("--secret-prompt requires a terminal; use --secret-file - to read stdin")
	}

	fmt.Fprint(output, "Secret: ")
	data, err := term.ReadPassword(int(input.Fd()))
	fmt.Fprintln(output)
	if err != nil {
		return nil, fmt.Errorf("reading secret: %w", err)
	}
	buffer, err := secret.NewFromBytes(data)
	if err != nil {
		return nil, err
	}
	return secret.NewKey(buffer), nil
}
