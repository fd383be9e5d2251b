// Package cdp provides a minimal Chrome DevTools Protocol connection:
// target discovery over HTTP, id-correlated commands over a WebSocket,
// and fan-out of unsolicited events to listeners.
package cdp

import (
	"context"

	"github.com/coder/websocket"
)

// Conn defines the interface for a WebSocket connection.
// *websocket.Conn satisfies it; tests substitute mock connections.
type Conn interface {
	// Read reads a message from the connection.
	// Returns message type, payload, and any error.
	Read(ctx context.Context) (websocket.MessageType, []byte, error)

	// Write writes a message to the connection.
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error

	// Close closes the connection with a status code and reason.
	Close(code websocket.StatusCode, reason string) error
}
