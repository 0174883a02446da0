package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// DefaultConnectTimeout is the connect budget used when none is configured.
const DefaultConnectTimeout = time.Minute

// DefaultRetryInterval paces reconnect attempts while a server is between endpoints.
const DefaultRetryInterval = 10 * time.Millisecond

// DialOptions configures Dial.
type DialOptions struct {
	// Host must name the local machine: "", "." or "localhost".
	Host string
	// ConnectTimeout is the total connect budget. Zero selects
	// DefaultConnectTimeout; a negative value waits indefinitely.
	ConnectTimeout time.Duration
	// RetryInterval is the minimum spacing between attempts.
	RetryInterval time.Duration
	Security      *ClientSecurity
	Logger        zerolog.Logger
}

// IsLocalHost reports whether host names the local machine.
func IsLocalHost(host string) bool {
	switch strings.ToLower(host) {
	case "", ".", "localhost":
		return true
	}
	name, err := os.Hostname()
	return err == nil && strings.EqualFold(name, host)
}

// Dial connects to the server socket at path within the connect budget.
//
// A socket that does not exist yet or refuses the connection is the ordinary
// window between one server endpoint finishing and the next being ready, so
// those attempts are retried until the budget runs out. A connection only
// counts once the server hands it to an endpoint and sends the accepted
// handshake, so a client queued behind busy endpoints also times out with
// ErrConnectionTimeout. A full accept backlog fails immediately the same way.
func Dial(ctx context.Context, path string, o DialOptions) (net.Conn, error) {
	if !IsLocalHost(o.Host) {
		return nil, fmt.Errorf("%w: %q", ErrRemoteHost, o.Host)
	}
	timeout := o.ConnectTimeout
	if timeout == 0 {
		timeout = DefaultConnectTimeout
	}
	interval := o.RetryInterval
	if interval <= 0 {
		interval = DefaultRetryInterval
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, timeout, ErrConnectionTimeout)
		defer cancel()
	}
	limiter := rate.NewLimiter(rate.Every(interval), 1)
	var d net.Dialer
	for attempt := 1; ; attempt++ {
		conn, err := d.DialContext(ctx, "unix", path)
		if err == nil {
			if err := o.Security.verify(conn, path); err != nil {
				_ = conn.Close()
				return nil, err
			}
			err = awaitAccept(ctx, conn)
			if err == nil {
				return conn, nil
			}
			_ = conn.Close()
		}
		if ctx.Err() != nil {
			return nil, connectAbandoned(ctx, timeout)
		}
		switch {
		case errors.Is(err, errServerLeft):
			o.Logger.Debug().Err(err).Int("attempt", attempt).Str("path", path).Msg("server dropped connection before accepting; retrying")
		case isTransient(err):
			o.Logger.Debug().Err(err).Int("attempt", attempt).Str("path", path).Msg("server endpoint not ready; retrying")
		case errors.Is(err, syscall.EAGAIN):
			return nil, fmt.Errorf("%w: server backlog is full: %w", ErrConnectionTimeout, err)
		default:
			return nil, err
		}
		if err := limiter.Wait(ctx); err != nil {
			return nil, connectAbandoned(ctx, timeout)
		}
	}
}

// errServerLeft means the server went away between accept and handshake.
var errServerLeft = errors.New("server closed the connection before accepting it")

// awaitAccept reads the server's handshake byte within ctx.
func awaitAccept(ctx context.Context, conn net.Conn) error {
	var b [1]byte
	err := withCancel(ctx, conn, func() error {
		_, err := io.ReadFull(conn, b[:])
		return err
	})
	if err == nil && ctx.Err() != nil {
		// Canceled right after the byte arrived; conn is already closed.
		err = canceled(ctx.Err())
	}
	switch {
	case err == nil:
	case IsCanceled(err):
		return err
	case errors.Is(err, io.EOF), errors.Is(err, syscall.ECONNRESET):
		return errServerLeft
	default:
		return err
	}
	switch b[0] {
	case handshakeAccepted:
		return nil
	case handshakeRejected:
		return fmt.Errorf("%w: server refused this client", ErrSecurityRejected)
	default:
		return fmt.Errorf("%w: unexpected handshake byte %#x", ErrFraming, b[0])
	}
}

func isTransient(err error) bool {
	return errors.Is(err, syscall.ENOENT) || errors.Is(err, syscall.ECONNREFUSED)
}

// connectAbandoned tells an exhausted budget apart from caller cancellation.
func connectAbandoned(ctx context.Context, timeout time.Duration) error {
	if errors.Is(context.Cause(ctx), ErrConnectionTimeout) {
		return fmt.Errorf("%w: no server accepted within %s", ErrConnectionTimeout, timeout)
	}
	if err := ctx.Err(); err != nil {
		return canceled(err)
	}
	return ErrConnectionTimeout
}
