package remoting

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/mithrel/localrmi/internal/ipc/pool"
	"github.com/mithrel/localrmi/internal/ipc/transport"
)

// MaxAllowedListeners lifts the limit on concurrent listeners.
const MaxAllowedListeners = pool.Unbounded

// DefaultConnectTimeout is used when ClientSettings.ConnectTimeout is zero.
const DefaultConnectTimeout = transport.DefaultConnectTimeout

type (
	ServerSecurity = transport.ServerSecurity
	ClientSecurity = transport.ClientSecurity
	Access         = transport.Access
)

const (
	AccessCurrentUser = transport.AccessCurrentUser
	AccessAnyUser     = transport.AccessAnyUser
	AccessList        = transport.AccessList
)

// LoggerFactory creates category loggers for servers and clients.
type LoggerFactory interface {
	CreateLogger(category string) zerolog.Logger
}

func createLogger(f LoggerFactory, category string) zerolog.Logger {
	if f == nil {
		return zerolog.Nop()
	}
	return f.CreateLogger(category)
}

// ServerSettings configures a server.
type ServerSettings struct {
	// Path is a bare server name, resolved under RuntimeDir, or an absolute socket path.
	Path       string
	RuntimeDir string
	// MinListeners defaults to 1; MaxListeners defaults to MaxAllowedListeners.
	MinListeners int
	MaxListeners int
	Serializer   Serializer
	// Types resolves payload types that differ from the declared ones. When
	// nil, only the types used by the served interface are resolvable.
	Types         TypeResolver
	LoggerFactory LoggerFactory
	Security      *ServerSecurity
	// ReportUnhandled receives errors that escape request processing.
	ReportUnhandled func(error)
	// Metrics registers pool metrics; nil keeps them unregistered.
	Metrics prometheus.Registerer
}

func (s ServerSettings) withDefaults() ServerSettings {
	if s.MinListeners == 0 {
		s.MinListeners = 1
	}
	if s.MaxListeners == 0 {
		s.MaxListeners = MaxAllowedListeners
	}
	return s
}

// Validate checks the listener bounds and path.
func (s ServerSettings) Validate() error {
	s = s.withDefaults()
	if s.Path == "" {
		return errEmptyPath
	}
	return pool.Options{MinWaiting: s.MinListeners, MaxCount: s.MaxListeners}.Validate()
}

// ClientSettings configures a client.
type ClientSettings struct {
	Path       string
	RuntimeDir string
	// Host must name the local machine: "", "." or "localhost".
	Host string
	// ConnectTimeout defaults to DefaultConnectTimeout; negative waits forever.
	ConnectTimeout time.Duration
	// RetryInterval paces reconnect attempts while no endpoint is ready.
	RetryInterval time.Duration
	Serializer    Serializer
	Types         TypeResolver
	LoggerFactory LoggerFactory
	Security      *ClientSecurity
	ErrorFactory  ErrorFactory
}

// Validate checks the path and host.
func (s ClientSettings) Validate() error {
	if s.Path == "" {
		return errEmptyPath
	}
	if !transport.IsLocalHost(s.Host) {
		return transport.ErrRemoteHost
	}
	return nil
}
