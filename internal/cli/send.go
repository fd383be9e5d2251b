package cli

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"time"

	"github.com/grantcarthew/cdpconn/internal/cdp"
	"github.com/grantcarthew/cdpconn/internal/cli/format"
	"github.com/spf13/cobra"
)

var sendCmd = &cobra.Command{
	Use:   "send <method> [params]",
	Short: "Send a CDP command and print its result",
	Long: `Connects to the target, sends one CDP command and prints the result.

Params must be a JSON object. Without params, {} is sent.

Examples:
  cdpconn send Browser.getVersion
  cdpconn send Page.navigate '{"url":"https://example.com"}'
  cdpconn send Runtime.evaluate '{"expression":"1+1"}' --json`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runSend,
}

func init() {
	sendCmd.Flags().Duration("timeout", 30*time.Second, "How long to wait for the result")
	rootCmd.AddCommand(sendCmd)
}

func runSend(cmd *cobra.Command, args []string) error {
	timeout, _ := cmd.Flags().GetDuration("timeout")

	method := args[0]
	var params json.RawMessage
	if len(args) > 1 {
		var err error
		if params, err = parseParams(args[1]); err != nil {
			return outputError(err.Error())
		}
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	conn, err := connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	result, err := conn.Call(ctx, method, params)
	if err != nil {
		return callError(method, err)
	}

	if JSONOutput {
		if len(result) == 0 {
			result = json.RawMessage(`{}`)
		}
		return outputJSON(os.Stdout, map[string]any{
			"ok":     true,
			"result": result,
		})
	}
	return format.Result(os.Stdout, result, outputOptions())
}

// callError reports a failed command.
func callError(method string, err error) error {
	var cdpErr *cdp.Error
	switch {
	case errors.As(err, &cdpErr):
		return outputProtocolError(cdpErr)
	case errors.Is(err, context.DeadlineExceeded):
		return errorf("%s: no response before timeout", method)
	default:
		return outputError(err.Error())
	}
}

// parseParams validates a params argument. It must be a JSON object.
func parseParams(s string) (json.RawMessage, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return nil, errors.New("params must be a JSON object")
	}
	return json.RawMessage(s), nil
}
