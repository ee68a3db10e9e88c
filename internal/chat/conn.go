// Package chat provides the node-side registry of live chat subscribers.
package chat

import "context"

// Conn abstracts a subscriber's duplex connection.
// This interface isolates transport details from the hub.
type Conn interface {
	// Read reads a single message frame (JSON text).
	// Returns an error once the connection is closed.
	Read(ctx context.Context) ([]byte, error)

	// Write sends a single message frame (JSON text).
	Write(ctx context.Context, data []byte) error

	// Close closes the connection, telling the peer why.
	Close(reason string) error

	// RemoteAddr returns the remote address for logging.
	RemoteAddr() string
}
