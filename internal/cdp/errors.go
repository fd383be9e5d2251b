package cdp

import (
	"errors"
	"fmt"
)

// ErrNotConnected is returned by Send when the connection has not finished
// connecting or has been closed.
var ErrNotConnected = errors.New("connection is not open")

// ErrNoTarget is wrapped by DiscoveryError when no target of the requested
// type exposes a WebSocket debugger URL.
var ErrNoTarget = errors.New("no matching target")

// DiscoveryError is returned when the target list cannot be fetched or parsed,
// or when it holds no target of the requested type.
type DiscoveryError struct {
	Address    string
	TargetType string
	Err        error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("discover %q target at %s: %v", e.TargetType, e.Address, e.Err)
}

func (e *DiscoveryError) Unwrap() error {
	return e.Err
}

// ConnectionError is returned when the WebSocket handshake fails.
type ConnectionError struct {
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect to %s: %v", e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}
