package remoting

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"syscall"

	"github.com/rs/zerolog"
	"go.uber.org/multierr"

	"github.com/mithrel/localrmi/internal/ipc/envelope"
	"github.com/mithrel/localrmi/internal/ipc/pool"
	"github.com/mithrel/localrmi/internal/ipc/transport"
)

// Server is the lifecycle shared by method and message servers.
type Server interface {
	// Start binds the socket and begins accepting requests.
	Start() error
	// Stop stops accepting new requests; requests in flight finish.
	Stop()
	// Stopped is closed once the server has stopped and drained.
	Stopped() <-chan struct{}
	// Close stops the server and cancels requests in flight.
	Close() error
	// Path returns the resolved socket path.
	Path() string
}

// requestHandler turns one decoded request into a response. It must not panic.
type requestHandler func(ctx context.Context, req *envelope.Request) *envelope.Response

// server runs a listener pool over one socket and feeds every request to
// handle.
type server struct {
	settings ServerSettings
	path     string
	log      zerolog.Logger
	handle   requestHandler

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	started  bool
	stopping bool
	acceptor *transport.Acceptor
	pool     *pool.Pool

	stopOnce sync.Once
	stopped  chan struct{}
}

func newServer(settings ServerSettings, category string, handle requestHandler) (*server, error) {
	settings = settings.withDefaults()
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	path, err := transport.SocketPath(settings.RuntimeDir, settings.Path)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &server{
		settings: settings,
		path:     path,
		log:      createLogger(settings.LoggerFactory, category).With().Str("server_path", path).Logger(),
		handle:   handle,
		ctx:      ctx,
		cancel:   cancel,
		stopped:  make(chan struct{}),
	}, nil
}

func (s *server) Path() string { return s.path }

func (s *server) Stopped() <-chan struct{} { return s.stopped }

func (s *server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopping {
		return fmt.Errorf("server %s already started", s.path)
	}
	a, err := transport.Listen(s.path, s.settings.Security, s.log)
	if err != nil {
		return err
	}
	metrics, err := pool.NewMetrics(s.settings.Metrics, s.path)
	if err != nil {
		return multierr.Append(fmt.Errorf("register metrics: %w", err), a.Close())
	}
	p, err := pool.New(s.ctx, a, s.serve, pool.Options{
		MinWaiting:      s.settings.MinListeners,
		MaxCount:        s.settings.MaxListeners,
		Logger:          s.log,
		Metrics:         metrics,
		ReportUnhandled: s.settings.ReportUnhandled,
	})
	if err != nil {
		return multierr.Append(err, a.Close())
	}
	s.acceptor, s.pool, s.started = a, p, true
	p.EnsureMinListeners()
	go func() {
		<-p.Stopped()
		s.markStopped()
	}()
	s.log.Info().Int("min_listeners", s.settings.MinListeners).Int("max_listeners", s.settings.MaxListeners).Msg("server started")
	return nil
}

func (s *server) Stop() {
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		return
	}
	s.stopping = true
	p, a := s.pool, s.acceptor
	s.mu.Unlock()

	if p == nil {
		s.markStopped()
		return
	}
	s.log.Debug().Msg("stopping server")
	p.StopListening()
	if err := a.Close(); err != nil {
		s.log.Debug().Err(err).Msg("close acceptor")
	}
}

func (s *server) Close() error {
	s.cancel()
	s.Stop()
	s.mu.Lock()
	p, a := s.pool, s.acceptor
	s.mu.Unlock()
	if p == nil {
		return nil
	}
	p.Close()
	return a.Close()
}

func (s *server) markStopped() {
	s.stopOnce.Do(func() {
		s.log.Info().Msg("server stopped")
		close(s.stopped)
	})
}

// serve handles the single request on conn. Whatever happens after the
// request frame arrives, the client gets a response frame.
func (s *server) serve(ctx context.Context, conn net.Conn) error {
	var req envelope.Request
	if err := transport.ReadMessage(ctx, conn, &req); err != nil {
		if transport.IsCanceled(err) {
			return nil
		}
		if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
			// The client went away, or the listener was disposed and its
			// connection handed to another one.
			s.log.Debug().Err(err).Msg("connection closed before a request arrived")
			return nil
		}
		return s.reply(ctx, conn, envelope.Failure(reportFor(fmt.Errorf("read request: %w", err))))
	}

	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go watchPeer(conn, cancel)

	return s.reply(ctx, conn, s.handle(reqCtx, &req))
}

// watchPeer cancels the request when the client closes its side. Nothing is
// read from a well-behaved client after the request frame, so any read
// result ends the request.
func watchPeer(conn net.Conn, cancel context.CancelFunc) {
	var b [1]byte
	_, _ = conn.Read(b[:])
	cancel()
}

func (s *server) reply(ctx context.Context, conn net.Conn, resp *envelope.Response) error {
	if _, err := resp.Marshal(); err != nil {
		resp = fallbackResponse(resp, err)
	}
	err := transport.WriteMessage(ctx, conn, resp)
	if err == nil {
		return nil
	}
	if clientGone(err) {
		s.log.Debug().Err(err).Msg("client closed before the response was written")
		return nil
	}
	return fmt.Errorf("write response: %w", err)
}

// fallbackResponse is a plain-text error carrying both the original failure
// (if any) and the reason the response could not be encoded.
func fallbackResponse(resp *envelope.Response, encodeErr error) *envelope.Response {
	var errs []error
	if resp != nil && resp.Error != nil {
		errs = append(errs, errors.New(resp.Error.Message))
	}
	errs = append(errs, fmt.Errorf("encode response: %w", encodeErr))
	return envelope.Failure(&envelope.ErrorReport{
		Kind:    "localrmi.ResponseEncoding",
		Message: multierr.Combine(errs...).Error(),
	})
}

func clientGone(err error) bool {
	return transport.IsCanceled(err) || errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET) || errors.Is(err, net.ErrClosed)
}
