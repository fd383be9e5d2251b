package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/grantcarthew/cdpconn/internal/cdp"
	"github.com/grantcarthew/cdpconn/internal/cli/format"
	"github.com/spf13/cobra"
)

var errEventBufferFull = errors.New("event buffer full")

var listenCmd = &cobra.Command{
	Use:   "listen [method...]",
	Short: "Print CDP events as they arrive",
	Long: `Connects to the target and prints every event it pushes until interrupted.

With method arguments, only events with those methods are printed.
Most domains only emit events once enabled; use --enable to send
<Domain>.enable before listening.

Examples:
  cdpconn listen --enable Network
  cdpconn listen --enable Page,Network Page.loadEventFired
  cdpconn listen --enable Runtime --count 1 --json`,
	RunE: runListen,
}

func init() {
	listenCmd.Flags().StringSlice("enable", nil, "Domains to enable before listening (e.g. Network,Page)")
	listenCmd.Flags().Int("count", 0, "Exit after printing this many events (0 = unlimited)")
	listenCmd.Flags().Duration("timeout", 30*time.Second, "Timeout for connecting and enabling domains")
	rootCmd.AddCommand(listenCmd)
}

func runListen(cmd *cobra.Command, args []string) error {
	domains, _ := cmd.Flags().GetStringSlice("enable")
	count, _ := cmd.Flags().GetInt("count")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	setupCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := connect(setupCtx)
	if err != nil {
		return err
	}
	defer conn.Close()

	filter := make(map[string]bool, len(args))
	for _, m := range args {
		filter[m] = true
	}

	// Events are handed to this goroutine so output never blocks the
	// connection's read loop for long.
	events := make(chan cdp.Event, 256)
	unsubscribe := conn.Subscribe(func(evt cdp.Event) {
		if len(filter) > 0 && !filter[evt.Method] {
			return
		}
		enqueueEvent(events, evt)
	})
	defer unsubscribe()

	for _, domain := range domains {
		method := strings.TrimSpace(domain)
		if method == "" {
			continue
		}
		if !strings.Contains(method, ".") {
			method += ".enable"
		}
		if _, err := conn.Call(setupCtx, method, nil); err != nil {
			return callError(method, err)
		}
		log.V(1).Info("Enabled domain", "method", method)
	}

	opts := outputOptions()
	printed := 0
	emit := func(evt cdp.Event) (done bool, err error) {
		if JSONOutput {
			err = outputJSON(os.Stdout, evt)
		} else {
			err = format.Event(os.Stdout, evt, opts)
		}
		if err != nil {
			return true, err
		}
		printed++
		return count > 0 && printed >= count, nil
	}

	for {
		select {
		case evt := <-events:
			if done, err := emit(evt); done {
				return err
			}
		case <-conn.Done():
			// Events dispatched before the socket closed are still buffered.
			for len(events) > 0 {
				if done, err := emit(<-events); done {
					return err
				}
			}
			if err := conn.Err(); err != nil {
				return errorf("connection closed: %v", err)
			}
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

// enqueueEvent hands evt to the printer without blocking the read loop.
// A full buffer drops the event and reports it at error level.
func enqueueEvent(events chan<- cdp.Event, evt cdp.Event) bool {
	select {
	case events <- evt:
		return true
	default:
		log.Error(errEventBufferFull, "Dropping event", "method", evt.Method)
		return false
	}
}
