// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"testing"

	"github.com/spf13/pflag"
)

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"", "abc", 3},
		{"abc", "", 3},
		{"abc", "abc", 0},
		{"abc", "abd", 1}, // substitution
		{"abc", "ab", 1},  // deletion
		{"ab", "abc", 1},  // insertion
		{"abc", "bac", 2}, // transposition (counted as 2 edits)
		{"kitten", "sitting", 3},
		{"discover", "discvoer", 2},
		{"routes", "route", 1},
	}

	for _, test := range tests {
		t.Run(test.a+"->"+test.b, func(t *testing.T) {
			if got := levenshtein(test.a, test.b); got != test.want {
				t.Errorf("levenshtein(%q, %q) = %d, want %d", test.a, test.b, got, test.want)
			}
			if reverse := levenshtein(test.b, test.a); reverse != test.want {
				t.Errorf("levenshtein(%q, %q) = %d, not symmetric", test.b, test.a, reverse)
			}
		})
	}
}

func TestSuggestCommand(t *testing.T) {
	commands := []*Command{
		{Name: "call"},
		{Name: "discover"},
		{Name: "routes"},
		{Name: "version"},
	}

	tests := []struct {
		input string
		want  string
	}{
		{"cal", "call"},
		{"discovr", "discover"},
		{"ruotes", "routes"},
		{"vrsion", "version"},
		{"zzzzzzzzz", ""},
	}

	for _, test := range tests {
		if got := suggestCommand(test.input, commands); got != test.want {
			t.Errorf("suggestCommand(%q) = %q, want %q", test.input, got, test.want)
		}
	}
}

func TestSuggestFlag(t *testing.T) {
	newFlags := func() *pflag.FlagSet {
		flagSet := pflag.NewFlagSet("call", pflag.ContinueOnError)
		flagSet.String("secret-file", "", "")
		flagSet.String("jq", "", "")
		flagSet.BoolP("raw", "r", false, "")
		return flagSet
	}

	tests := []struct {
		args []string
		want string
	}{
		{[]string{"--secret-fil", "x"}, "--secret-file"},
		{[]string{"--jqq=.id"}, "--jq"},
		{[]string{"-r", "--rwa"}, "--raw"},
		{[]string{"/guilds", "--zzzzzzzz"}, ""},
		{[]string{"--", "--secret-fil"}, ""},
	}

	for _, test := range tests {
		if got := suggestFlag(test.args, newFlags()); got != test.want {
			t.Errorf("suggestFlag(%v) = %q, want %q", test.args, got, test.want)
		}
	}
}
