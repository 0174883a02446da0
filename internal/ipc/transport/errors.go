package transport

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrFraming reports a malformed, oversized or short frame.
	ErrFraming = errors.New("framing error")
	// ErrCanceled wraps context.Canceled or context.DeadlineExceeded when an
	// operation on a channel was abandoned.
	ErrCanceled = errors.New("operation canceled")
	// ErrConnectionTimeout is returned when no connection could be made within the connect budget.
	ErrConnectionTimeout = errors.New("connection timeout")
	// ErrSecurityRejected is returned when a peer fails a security check.
	ErrSecurityRejected = errors.New("security rejection")
	// ErrEndpointClosed is returned by an endpoint disposed while waiting.
	ErrEndpointClosed = errors.New("endpoint closed")
	// ErrAddressInUse is returned when another live server owns the socket path.
	ErrAddressInUse = errors.New("address in use")
	// ErrRemoteHost is returned for any host other than the local machine.
	ErrRemoteHost = errors.New("only the local machine is supported")
)

func canceled(cause error) error {
	return fmt.Errorf("%w: %w", ErrCanceled, cause)
}

// IsCanceled reports whether err came from an abandoned operation.
func IsCanceled(err error) bool {
	return errors.Is(err, ErrCanceled) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
