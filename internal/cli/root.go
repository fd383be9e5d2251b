package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/go-logr/logr"
	"github.com/grantcarthew/cdpconn/internal/cdp"
	"github.com/grantcarthew/cdpconn/internal/cli/format"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// Version is set at build time.
var Version = "dev"

// Debug enables verbose debug output.
var Debug bool

// JSONOutput enables JSON output format (default is text).
var JSONOutput bool

// NoColor disables color output.
var NoColor bool

// Address is the browser's HTTP debugging address.
var Address string

// TargetType selects the target to attach to.
var TargetType string

// log is built from the flags before each command runs.
var log = logr.Discard()

var rootCmd = &cobra.Command{
	Use:           "cdpconn",
	Short:         "Minimal Chrome DevTools Protocol client",
	Long:          "cdpconn discovers a debuggable target over HTTP, connects to it over a WebSocket, sends CDP commands and prints events.",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		log = newLogger(Debug)
		if NoColor || os.Getenv("NO_COLOR") != "" {
			color.NoColor = true
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&Debug, "debug", false, "Enable verbose debug output")
	rootCmd.PersistentFlags().BoolVar(&JSONOutput, "json", false, "Output in JSON format (default is text)")
	rootCmd.PersistentFlags().BoolVar(&NoColor, "no-color", false, "Disable color output")
	rootCmd.PersistentFlags().StringVarP(&Address, "address", "a", cdp.DefaultAddress, "Browser remote debugging address")
	rootCmd.PersistentFlags().StringVarP(&TargetType, "target", "t", cdp.DefaultTargetType, "Target type to connect to")
	rootCmd.SetVersionTemplate(`cdpconn version {{.Version}}
`)
}

// Execute runs the root command.
// Supports command abbreviation via unique prefix matching.
func Execute() error {
	// Try abbreviation expansion for CLI commands
	args := os.Args[1:]
	if len(args) > 0 {
		if expanded := tryExpandCommand(args[0]); expanded != "" {
			args[0] = expanded
			rootCmd.SetArgs(args)
		}
	}
	return rootCmd.Execute()
}

// tryExpandCommand attempts to expand a command abbreviation.
// Returns the expanded command if exactly one match is found, empty string otherwise.
func tryExpandCommand(prefix string) string {
	var matches []string
	for _, cmd := range rootCmd.Commands() {
		name := cmd.Name()
		if name == prefix {
			// Exact match, no expansion needed
			return ""
		}
		if len(prefix) < len(name) && name[:len(prefix)] == prefix {
			matches = append(matches, name)
		}
	}

	// Return expanded command only if exactly one match
	if len(matches) == 1 {
		return matches[0]
	}
	return ""
}

// printedError marks errors whose message has already been written to stderr.
type printedError struct {
	err error
}

func (e *printedError) Error() string { return e.err.Error() }
func (e *printedError) Unwrap() error { return e.err }

// IsPrintedError reports whether err was already reported to the user.
func IsPrintedError(err error) bool {
	var p *printedError
	return errors.As(err, &p)
}

// isStdoutTTY returns true if stdout is a terminal.
func isStdoutTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// outputJSON writes a JSON response to the given writer.
// Pretty prints if stdout is a TTY, compact otherwise.
func outputJSON(w io.Writer, data any) error {
	enc := json.NewEncoder(w)
	if isStdoutTTY() {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(data)
}

// outputError writes an error response to stderr and returns an error.
// Uses text format by default, JSON if --json flag is set.
func outputError(msg string) error {
	if JSONOutput {
		resp := map[string]any{
			"ok":    false,
			"error": msg,
		}
		outputJSON(os.Stderr, resp)
	} else {
		format.ActionError(os.Stderr, msg, outputOptions())
	}
	return &printedError{err: errors.New(msg)}
}

// outputProtocolError reports an error returned by the browser for a command.
func outputProtocolError(cdpErr *cdp.Error) error {
	if JSONOutput {
		resp := map[string]any{
			"ok": false,
			"error": map[string]any{
				"code":    cdpErr.Code,
				"message": cdpErr.Message,
			},
		}
		if len(cdpErr.Data) > 0 {
			resp["error"].(map[string]any)["data"] = cdpErr.Data
		}
		outputJSON(os.Stderr, resp)
	} else {
		format.ProtocolError(os.Stderr, cdpErr, outputOptions())
	}
	return &printedError{err: cdpErr}
}

// outputOptions returns text formatting options for the current flags.
func outputOptions() format.OutputOptions {
	return format.NewOutputOptions(JSONOutput, NoColor)
}

// errorf formats an error message for outputError.
func errorf(msg string, args ...any) error {
	return outputError(fmt.Sprintf(msg, args...))
}
