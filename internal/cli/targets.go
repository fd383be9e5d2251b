package cli

import (
	"context"
	"os"
	"time"

	"github.com/grantcarthew/cdpconn/internal/cdp"
	"github.com/grantcarthew/cdpconn/internal/cli/format"
	"github.com/spf13/cobra"
)

var targetsCmd = &cobra.Command{
	Use:   "targets",
	Short: "List debuggable targets",
	Long: `Lists the targets reported by the browser's /json/list endpoint.

Targets without a WebSocket debugger URL cannot be connected to.

Examples:
  cdpconn targets
  cdpconn targets --address http://localhost:9333 --json`,
	Args: cobra.NoArgs,
	RunE: runTargets,
}

func init() {
	targetsCmd.Flags().Duration("timeout", 10*time.Second, "Timeout for the discovery request")
	rootCmd.AddCommand(targetsCmd)
}

func runTargets(cmd *cobra.Command, args []string) error {
	timeout, _ := cmd.Flags().GetDuration("timeout")

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	targets, err := cdp.ListTargets(ctx, nil, Address)
	if err != nil {
		return errorf("cannot list targets at %s: %v", Address, err)
	}

	if JSONOutput {
		if targets == nil {
			targets = []cdp.Target{}
		}
		return outputJSON(os.Stdout, map[string]any{
			"ok":      true,
			"targets": targets,
		})
	}

	return format.Targets(os.Stdout, targets, outputOptions())
}
