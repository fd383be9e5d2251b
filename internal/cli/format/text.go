package format

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/grantcarthew/cdpconn/internal/cdp"
	"golang.org/x/term"
)

func colorFprint(w io.Writer, c color.Attribute, s string) {
	color.New(c).Fprint(w, s)
}

func colorFprintf(w io.Writer, c color.Attribute, format string, args ...interface{}) {
	color.New(c).Fprintf(w, format, args...)
}

// OutputOptions controls text formatting behavior.
type OutputOptions struct {
	UseColor bool // Enable ANSI color codes
	Indent   bool // Pretty print JSON payloads
}

// NewOutputOptions returns output options based on flags and environment.
// Priority: jsonOutput > noColorFlag > NO_COLOR env > TTY detection.
func NewOutputOptions(jsonOutput bool, noColorFlag bool) OutputOptions {
	tty := term.IsTerminal(int(os.Stdout.Fd()))

	// JSON output never has colors
	if jsonOutput {
		return OutputOptions{UseColor: false, Indent: tty}
	}

	// --no-color flag disables colors
	if noColorFlag {
		return OutputOptions{UseColor: false, Indent: tty}
	}

	// NO_COLOR environment variable disables colors
	if os.Getenv("NO_COLOR") != "" {
		return OutputOptions{UseColor: false, Indent: tty}
	}

	// Enable colors if stdout is a TTY
	return OutputOptions{UseColor: tty, Indent: tty}
}

// ActionError outputs "Error: <message>" for failed commands.
func ActionError(w io.Writer, msg string, opts OutputOptions) error {
	if opts.UseColor {
		colorFprint(w, color.FgRed, "Error:")
		fmt.Fprintf(w, " %s\n", msg)
	} else {
		fmt.Fprintf(w, "Error: %s\n", msg)
	}
	return nil
}

// Targets outputs the discovery list, one target per line.
// Targets without a socket address are marked as not connectable.
func Targets(w io.Writer, targets []cdp.Target, opts OutputOptions) error {
	if len(targets) == 0 {
		_, err := fmt.Fprintln(w, "No targets")
		return err
	}

	for _, target := range targets {
		// Truncate ID to 8 chars
		displayID := target.ID
		if len(displayID) > 8 {
			displayID = displayID[:8]
		}

		// Truncate title to 40 chars
		title := strings.TrimSpace(target.Title)
		if len(title) > 40 {
			title = title[:37] + "..."
		}

		suffix := ""
		if target.WebSocketURL == "" {
			suffix = " (not connectable)"
		}

		if opts.UseColor {
			colorFprint(w, color.FgCyan, displayID)
			fmt.Fprint(w, " ")
			colorFprintf(w, color.FgYellow, "%-15s", target.Type)
			fmt.Fprintf(w, " %s - %s%s\n", target.URL, title, suffix)
		} else {
			fmt.Fprintf(w, "%s %-15s %s - %s%s\n", displayID, target.Type, target.URL, title, suffix)
		}
	}
	return nil
}

// Result outputs a command result as JSON.
// An absent result prints as {}.
func Result(w io.Writer, result json.RawMessage, opts OutputOptions) error {
	if len(result) == 0 {
		result = json.RawMessage(`{}`)
	}

	var buf bytes.Buffer
	var err error
	if opts.Indent {
		err = json.Indent(&buf, result, "", "  ")
	} else {
		err = json.Compact(&buf, result)
	}
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(w, buf.String())
	return err
}

// ProtocolError outputs an error reported by the browser for a command.
func ProtocolError(w io.Writer, cdpErr *cdp.Error, opts OutputOptions) error {
	if opts.UseColor {
		colorFprint(w, color.FgRed, "Error:")
		fmt.Fprint(w, " ")
		colorFprintf(w, color.FgYellow, "%d", cdpErr.Code)
		fmt.Fprintf(w, " %s\n", cdpErr.Message)
	} else {
		fmt.Fprintf(w, "Error: %d %s\n", cdpErr.Code, cdpErr.Message)
	}

	if len(cdpErr.Data) > 0 {
		fmt.Fprintf(w, "  %s\n", string(cdpErr.Data))
	}
	return nil
}

// Event outputs an event as "<method> <params>" on a single line.
func Event(w io.Writer, evt cdp.Event, opts OutputOptions) error {
	params := "{}"
	if len(evt.Params) > 0 {
		var buf bytes.Buffer
		if err := json.Compact(&buf, evt.Params); err != nil {
			return err
		}
		params = buf.String()
	}

	if opts.UseColor {
		colorFprint(w, color.FgCyan, evt.Method)
		fmt.Fprintf(w, " %s\n", params)
		return nil
	}
	_, err := fmt.Fprintf(w, "%s %s\n", evt.Method, params)
	return err
}
