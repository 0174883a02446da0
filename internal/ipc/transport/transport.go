// Package transport moves length-prefixed envelope frames over local Unix
// domain sockets. Each connection carries exactly one request and one
// response; a server exposes a fixed socket path and hands accepted
// connections to endpoints that wait on it.
package transport

import (
	"context"
	"net"
)

// Endpoint is one server-side slot that waits for a single client connection.
// Close is idempotent and aborts a pending WaitForConnection. A delivered
// connection that was never read or written goes back to its source for
// another endpoint; one in use is disconnected.
type Endpoint interface {
	WaitForConnection(ctx context.Context) (net.Conn, error)
	Close() error
}

// EndpointSource creates server-side endpoints for one socket path.
type EndpointSource interface {
	NewEndpoint() (Endpoint, error)
	Path() string
}
