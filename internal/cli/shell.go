package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/grantcarthew/cdpconn/internal/cdp"
	"github.com/grantcarthew/cdpconn/internal/cli/format"
	"github.com/peterh/liner"
	"github.com/spf13/cobra"
)

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Interactive CDP command prompt",
	Long: `Connects to the target and reads CDP commands interactively.

Each line is a method name optionally followed by a JSON params object:
  cdp> Browser.getVersion
  cdp> Page.navigate {"url":"https://example.com"}

Type help for shell commands.`,
	Args: cobra.NoArgs,
	RunE: runShell,
}

func init() {
	shellCmd.Flags().Duration("timeout", 30*time.Second, "How long to wait for each result")
	rootCmd.AddCommand(shellCmd)
}

func runShell(cmd *cobra.Command, args []string) error {
	timeout, _ := cmd.Flags().GetDuration("timeout")

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	conn, err := connect(ctx)
	cancel()
	if err != nil {
		return err
	}
	defer conn.Close()

	sh := newShell(conn, os.Stdout, timeout)
	return sh.Run(cmd.Context())
}

// shellCommands lists shell-specific commands for abbreviation matching.
var shellCommands = []string{"exit", "quit", "help", "history"}

// shell reads CDP commands from a prompt and prints their results.
type shell struct {
	conn    *cdp.Connection
	out     io.Writer
	timeout time.Duration
	opts    format.OutputOptions
	history []string
}

func newShell(conn *cdp.Connection, out io.Writer, timeout time.Duration) *shell {
	return &shell{
		conn:    conn,
		out:     out,
		timeout: timeout,
		opts:    outputOptions(),
	}
}

// Run starts the prompt loop. Blocks until exit, EOF or the connection closes.
func (s *shell) Run(ctx context.Context) error {
	line := liner.NewLiner()
	defer line.Close()

	line.SetCtrlCAborts(true)

	for {
		select {
		case <-s.conn.Done():
			return errorf("connection closed: %v", s.conn.Err())
		default:
		}

		input, err := line.Prompt("cdp> ")
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				return nil
			}
			return err
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		if quit := s.exec(ctx, input); quit {
			return nil
		}
	}
}

// exec runs one line of input. Returns true if the shell should exit.
func (s *shell) exec(ctx context.Context, input string) bool {
	s.history = append(s.history, input)

	fields := strings.Fields(input)
	name := strings.ToLower(fields[0])
	if expanded, ok := expandAbbreviation(name, shellCommands); ok && !strings.Contains(name, ".") {
		name = expanded
	}

	switch name {
	case "exit", "quit":
		return true
	case "help", "?":
		s.printHelp()
		return false
	case "history":
		s.printHistory()
		return false
	}

	method, params, err := parseShellLine(input)
	if err != nil {
		format.ActionError(s.out, err.Error(), s.opts)
		return false
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	result, err := s.conn.Call(callCtx, method, params)
	if err != nil {
		var cdpErr *cdp.Error
		switch {
		case errors.As(err, &cdpErr):
			format.ProtocolError(s.out, cdpErr, s.opts)
		case errors.Is(err, context.DeadlineExceeded):
			format.ActionError(s.out, method+": no response before timeout", s.opts)
		default:
			format.ActionError(s.out, err.Error(), s.opts)
		}
		return false
	}

	if err := format.Result(s.out, result, s.opts); err != nil {
		format.ActionError(s.out, err.Error(), s.opts)
	}
	return false
}

// parseShellLine splits "Method {params}" into its parts.
func parseShellLine(input string) (string, json.RawMessage, error) {
	input = strings.TrimSpace(input)
	method, rest, _ := strings.Cut(input, " ")
	if !strings.Contains(method, ".") {
		return "", nil, fmt.Errorf("unknown command: %s (expected Domain.method)", method)
	}

	rest = strings.TrimSpace(rest)
	if rest == "" {
		return method, nil, nil
	}

	params, err := parseParams(rest)
	if err != nil {
		return "", nil, err
	}
	return method, params, nil
}

// expandAbbreviation expands a command prefix to a full command name.
// Returns the expanded command and true if exactly one match found.
func expandAbbreviation(prefix string, commands []string) (string, bool) {
	prefix = strings.ToLower(prefix)
	var matches []string
	for _, cmd := range commands {
		if strings.HasPrefix(cmd, prefix) {
			matches = append(matches, cmd)
		}
	}
	if len(matches) == 1 {
		return matches[0], true
	}
	return "", false
}

// printHelp displays available commands.
func (s *shell) printHelp() {
	help := `
CDP commands:
  <Domain.method> [params]   Send a command, e.g. Page.navigate {"url":"https://example.com"}

Shell (unique prefixes accepted: he=help, hi=history, e=exit, q=quit):
  help, ?     Show this help
  history     Show command history
  exit, quit  Close the connection and exit
`
	fmt.Fprintln(s.out, help)
}

// printHistory displays command history.
func (s *shell) printHistory() {
	for i, cmd := range s.history {
		fmt.Fprintf(s.out, "  %d  %s\n", i+1, cmd)
	}
}
