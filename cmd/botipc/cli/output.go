// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/alecthomas/chroma/v2/quick"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/itchyny/gojq"
	"github.com/muesli/termenv"
)

// Printer writes response payloads to Out and status lines to Err.
type Printer struct {
	out io.Writer
	err io.Writer

	// raw prints string results without JSON quoting, like jq -r.
	raw    bool
	filter *gojq.Code

	highlight bool
	styled    bool
	renderer  *lipgloss.Renderer
}

// PrinterOptions configures NewPrinter.
type PrinterOptions struct {
	// Filter is a jq program applied to each payload. Empty prints the
	// payload unchanged.
	Filter string
	Raw    bool

	// Color forces styling on or off. Nil detects: styling is used
	// when the stream is a terminal and NO_COLOR is unset.
	Color *bool
}

// NewPrinter compiles the filter and detects terminal styling.
func NewPrinter(out, errOut io.Writer, options PrinterOptions) (*Printer, error) {
	printer := &Printer{
		out:       out,
		err:       errOut,
		raw:       options.Raw,
		highlight: wantsColor(out, options.Color),
		styled:    wantsColor(errOut, options.Color),
	}

	if options.Filter != "" {
		query, err := gojq.Parse(options.Filter)
		if err != nil {
			return nil, fmt.Errorf("parsing --jq filter: %w", err)
		}
		code, err := gojq.Compile(query)
		if err != nil {
			return nil, fmt.Errorf("compiling --jq filter: %w", err)
		}
		printer.filter = code
	}

	// lipgloss re-detects the profile from the writer, which reports no
	// color for pipes. A fixed profile renders the same escapes either
	// way and the status line is stripped when not styled.
	printer.renderer = lipgloss.NewRenderer(errOut, termenv.WithProfile(termenv.ANSI256))
	printer.renderer.SetColorProfile(termenv.ANSI256)
	return printer, nil
}

func wantsColor(w io.Writer, force *bool) bool {
	if force != nil {
		return *force
	}
	return isTerminal(w) && !termenv.NewOutput(w).EnvNoColor()
}

// Payload prints value, or each result of the jq filter applied to it.
func (p *Printer) Payload(ctx context.Context, value any) error {
	if p.filter == nil {
		return p.emit(value)
	}

	input, err := jqInput(value)
	if err != nil {
		return err
	}
	iter := p.filter.RunWithContext(ctx, input)
	for {
		result, ok := iter.Next()
		if !ok {
			return nil
		}
		if err, ok := result.(error); ok {
			var halt *gojq.HaltError
			if errors.As(err, &halt) && halt.Value() == nil {
				return nil
			}
			return fmt.Errorf("--jq: %w", err)
		}
		if err := p.emit(result); err != nil {
			return err
		}
	}
}

// jqInput converts a decoded payload into the value types gojq accepts.
// CBOR decodes integers as int64 or uint64; a JSON round trip maps
// everything onto float64, string, bool, nil, []any and map[string]any.
func jqInput(value any) (any, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("payload is not representable as JSON: %w", err)
	}
	var input any
	if err := json.Unmarshal(data, &input); err != nil {
		return nil, err
	}
	return input, nil
}

func (p *Printer) emit(value any) error {
	if text, ok := value.(string); ok && p.raw {
		_, err := fmt.Fprintln(p.out, text)
		return err
	}

	var buffer bytes.Buffer
	encoder := json.NewEncoder(&buffer)
	encoder.SetIndent("", "  ")
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(value); err != nil {
		return fmt.Errorf("formatting payload: %w", err)
	}

	if p.highlight {
		if err := quick.Highlight(p.out, buffer.String(), "json", "terminal256", "monokai"); err == nil {
			return nil
		}
	}
	_, err := p.out.Write(buffer.Bytes())
	return err
}

// Lines prints each line as plain text.
func (p *Printer) Lines(lines []string) error {
	for _, line := range lines {
		if _, err := fmt.Fprintln(p.out, line); err != nil {
			return err
		}
	}
	return nil
}

// Status writes a one-line summary of a response to Err: the status
// code and text, the error message if any, and the request id.
func (p *Printer) Status(status int, message, requestID string) {
	fmt.Fprintln(p.err, p.StatusLine(status, message, requestID))
}

// StatusLine renders the status summary, styled when Err is styled.
func (p *Printer) StatusLine(status int, message, requestID string) string {
	color := lipgloss.Color("2")
	switch {
	case status >= 500:
		color = lipgloss.Color("1")
	case status >= 400:
		color = lipgloss.Color("3")
	}

	var line strings.Builder
	line.WriteString(p.renderer.NewStyle().Bold(true).Foreground(color).
		Render(fmt.Sprintf("%d %s", status, http.StatusText(status))))
	if message != "" {
		line.WriteString(": " + message)
	}
	if requestID != "" {
		line.WriteString(" " + p.renderer.NewStyle().Faint(true).Render("("+requestID+")"))
	}

	if !p.styled {
		return ansi.Strip(line.String())
	}
	return line.String()
}
