package cli

import (
	"context"
	"errors"

	"github.com/grantcarthew/cdpconn/internal/cdp"
)

// connect dials the target selected by the global flags.
func connect(ctx context.Context) (*cdp.Connection, error) {
	log.V(1).Info("Discovering target", "address", Address, "type", TargetType)

	conn, err := cdp.Dial(ctx, cdp.Options{
		Address:    Address,
		TargetType: TargetType,
		Logger:     log.WithName("cdp"),
	})
	if err != nil {
		return nil, connectError(err)
	}
	return conn, nil
}

// connectError turns connection failures into user-facing messages.
func connectError(err error) error {
	var discErr *cdp.DiscoveryError
	switch {
	case errors.Is(err, cdp.ErrNoTarget):
		return errorf("no %q target at %s. Use --target to pick another type", TargetType, Address)
	case errors.As(err, &discErr):
		return errorf("cannot reach browser at %s (%v). Start Chrome with --remote-debugging-port", Address, discErr.Err)
	default:
		return outputError(err.Error())
	}
}
