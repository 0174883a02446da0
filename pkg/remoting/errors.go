package remoting

import (
	"errors"
	"fmt"

	"github.com/mithrel/localrmi/internal/ipc/envelope"
	"github.com/mithrel/localrmi/internal/ipc/transport"
)

var (
	// ErrConnectionTimeout is returned when no server accepted within the connect budget.
	ErrConnectionTimeout = transport.ErrConnectionTimeout
	// ErrFraming reports a malformed or truncated frame.
	ErrFraming = transport.ErrFraming
	// ErrCanceled wraps the context error of an abandoned call.
	ErrCanceled = transport.ErrCanceled
	// ErrSecurityRejected is returned when a peer fails a security check.
	ErrSecurityRejected = transport.ErrSecurityRejected

	ErrSerializerMismatch = errors.New("serializer identity mismatch")
	ErrMethodNotFound     = errors.New("method not found")
	ErrTypeNotResolvable  = errors.New("type not resolvable")
	ErrInvalidRequest     = errors.New("invalid request")
	ErrHostState          = errors.New("invalid host state")
	// ErrRemoteInvocation matches every error reconstructed from a server response.
	ErrRemoteInvocation = errors.New("remote invocation failed")

	errEmptyPath = errors.New("server path is required")
)

// sentinelKinds gives sentinels a stable kind on the wire so errors.Is keeps
// working after reconstruction on the client.
var sentinelKinds = map[error]string{
	ErrConnectionTimeout:  "localrmi.ConnectionTimeout",
	ErrFraming:            "localrmi.Framing",
	ErrCanceled:           "localrmi.Canceled",
	ErrSecurityRejected:   "localrmi.SecurityRejected",
	ErrSerializerMismatch: "localrmi.SerializerMismatch",
	ErrMethodNotFound:     "localrmi.MethodNotFound",
	ErrTypeNotResolvable:  "localrmi.TypeNotResolvable",
	ErrInvalidRequest:     "localrmi.InvalidRequest",
	ErrHostState:          "localrmi.HostState",
}

var sentinelsByKind = func() map[string]error {
	m := make(map[string]error, len(sentinelKinds))
	for err, kind := range sentinelKinds {
		m[kind] = err
	}
	return m
}()

// RemoteError is a server-side error rebuilt on the client. Error returns
// the server's message unchanged and Unwrap walks the server's cause chain.
type RemoteError struct {
	Kind    string
	Message string
	Inner   error
}

func (e *RemoteError) Error() string { return e.Message }

func (e *RemoteError) Unwrap() error { return e.Inner }

// Is matches ErrRemoteInvocation and, for sentinel kinds, the sentinel itself.
func (e *RemoteError) Is(target error) bool {
	if target == ErrRemoteInvocation {
		return true
	}
	s, ok := sentinelsByKind[e.Kind]
	return ok && s == target
}

// ErrorFactory rebuilds a local error from a remote kind and message. It
// returns nil to fall back to *RemoteError.
type ErrorFactory func(kind, message string, inner error) error

// maxReportDepth matches the envelope limit on nested reports.
const maxReportDepth = 32

// reportFor captures err and its cause chain, depth for depth.
func reportFor(err error) *envelope.ErrorReport {
	return reportDepth(err, 0)
}

func reportDepth(err error, depth int) *envelope.ErrorReport {
	if err == nil {
		return nil
	}
	r := &envelope.ErrorReport{Kind: kindOf(err), Message: err.Error()}
	if depth+1 < maxReportDepth {
		r.Inner = reportDepth(cause(err), depth+1)
	}
	return r
}

func kindOf(err error) string {
	if re, ok := err.(*RemoteError); ok {
		return re.Kind
	}
	if kind, ok := sentinelKinds[err]; ok {
		return kind
	}
	return fmt.Sprintf("%T", err)
}

// cause returns the next error in the chain, taking the first branch of a
// joined error.
func cause(err error) error {
	switch u := err.(type) {
	case interface{ Unwrap() error }:
		return u.Unwrap()
	case interface{ Unwrap() []error }:
		if errs := u.Unwrap(); len(errs) > 0 {
			return errs[0]
		}
	}
	return nil
}

func rebuildError(r *envelope.ErrorReport, factory ErrorFactory) error {
	if r == nil {
		return nil
	}
	inner := rebuildError(r.Inner, factory)
	if factory != nil {
		if err := factory(r.Kind, r.Message, inner); err != nil {
			return err
		}
	}
	return &RemoteError{Kind: r.Kind, Message: r.Message, Inner: inner}
}

func panicError(r any) error {
	if err, ok := r.(error); ok {
		return fmt.Errorf("panic: %w", err)
	}
	return fmt.Errorf("panic: %v", r)
}
