// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestSecretSource(t *testing.T) {
	dir := t.TempDir()
	flagFile := filepath.Join(dir, "flag-secret")
	configFile := filepath.Join(dir, "config-secret")
	if err := os.WriteFile(flagFile, []byte("from-flag\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(configFile, []byte("from-config\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(SecretEnv, "from-env")

	tests := []struct {
		name   string
		source SecretSource
		want   string
	}{
		{"flag wins", SecretSource{File: flagFile, Fallback: configFile}, "from-flag"},
		{"config file before env", SecretSource{Fallback: configFile}, "from-config"},
		{"env last", SecretSource{}, "from-env"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			key, err := test.source.Resolve()
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			defer key.Close()
			if !key.Matches(test.want) {
				t.Errorf("resolved secret does not match %q", test.want)
			}
		})
	}
}

func TestSecretSourceNone(t *testing.T) {
	t.Setenv(SecretEnv, "")
	key, err := SecretSource{}.Resolve()
	if err != nil || key != nil {
		t.Errorf("Resolve() = %v, %v; want nil, nil", key, err)
	}
}

func TestSecretSourceErrors(t *testing.T) {
	if _, err := (SecretSource{File: filepath.Join(t.TempDir(), "missing")}).Resolve(); err == nil {
		t.Error("expected error for missing secret file")
	}

	// A regular file is never a terminal.
	input, err := os.CreateTemp(t.TempDir(), "stdin")
	if err != nil {
		t.Fatal(err)
	}
	defer input.Close()
	if _, err := (SecretSource{Prompt: true, Input: input, Output: io.Discard}).Resolve(); err == nil {
		t.Error("expected error prompting without a terminal")
	}
}
