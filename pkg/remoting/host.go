package remoting

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"go.uber.org/multierr"
)

// ExitingEvent is raised by Host.Exit before any server is stopped. An
// observer sets Cancel to veto the exit.
type ExitingEvent struct {
	Code   int
	Cancel bool
}

// Host runs several independent servers and stops them together when the
// process is asked to exit.
type Host struct {
	log zerolog.Logger

	mu        sync.Mutex
	servers   []Server
	observers []func(*ExitingEvent)
	exitCode  int
	exiting   bool
	disposed  bool

	doneOnce sync.Once
	done     chan struct{}
}

// NewHost returns an empty host. f may be nil.
func NewHost(f LoggerFactory) *Host {
	return &Host{log: createLogger(f, "localrmi.host"), done: make(chan struct{})}
}

// Add starts s and registers it with the host.
func (h *Host) Add(s Server) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.checkLocked(); err != nil {
		return err
	}
	if err := s.Start(); err != nil {
		return err
	}
	h.servers = append(h.servers, s)
	h.log.Debug().Str("server_path", s.Path()).Msg("server added")
	return nil
}

func (h *Host) checkLocked() error {
	switch {
	case h.disposed:
		return fmt.Errorf("%w: host is disposed", ErrHostState)
	case h.exiting:
		return fmt.Errorf("%w: host is exiting", ErrHostState)
	}
	return nil
}

// OnExiting registers fn to be called by Exit before any server stops.
func (h *Host) OnExiting(fn func(*ExitingEvent)) {
	h.mu.Lock()
	h.observers = append(h.observers, fn)
	h.mu.Unlock()
}

// IsReady reports whether the host accepts work.
func (h *Host) IsReady() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.checkLocked() == nil
}

// ExitCode returns the exit code recorded by the accepted Exit call.
func (h *Host) ExitCode() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitCode
}

// Exit asks every server to stop and records code. It returns false if an
// observer vetoed the exit. Done is closed once every server has stopped.
func (h *Host) Exit(code int) (bool, error) {
	h.mu.Lock()
	if err := h.checkLocked(); err != nil {
		h.mu.Unlock()
		return false, err
	}
	prev := h.exitCode
	h.exitCode = code
	h.exiting = true
	observers := append([]func(*ExitingEvent){}, h.observers...)
	h.mu.Unlock()

	ev := &ExitingEvent{Code: code}
	for _, fn := range observers {
		fn(ev)
	}
	if ev.Cancel {
		h.mu.Lock()
		h.exitCode = prev
		h.exiting = false
		h.mu.Unlock()
		h.log.Info().Int("code", code).Msg("exit vetoed")
		return false, nil
	}

	h.mu.Lock()
	servers := append([]Server{}, h.servers...)
	h.mu.Unlock()
	h.log.Info().Int("code", code).Int("servers", len(servers)).Msg("exiting")

	var wg sync.WaitGroup
	for _, s := range servers {
		s.Stop()
		wg.Add(1)
		go func(s Server) {
			defer wg.Done()
			<-s.Stopped()
		}(s)
	}
	go func() {
		wg.Wait()
		h.finish()
	}()
	return true, nil
}

func (h *Host) finish() {
	h.doneOnce.Do(func() { close(h.done) })
}

// Done is closed when an accepted Exit has stopped every server, or when
// the host is closed.
func (h *Host) Done() <-chan struct{} { return h.done }

// Wait blocks until Done and returns the exit code.
func (h *Host) Wait(ctx context.Context) (int, error) {
	select {
	case <-h.done:
		return h.ExitCode(), nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Close closes every server and releases waiters. Further Add and Exit calls fail.
func (h *Host) Close() error {
	h.mu.Lock()
	if h.disposed {
		h.mu.Unlock()
		return nil
	}
	h.disposed = true
	servers := h.servers
	h.servers = nil
	h.mu.Unlock()

	var err error
	for _, s := range servers {
		err = multierr.Append(err, s.Close())
	}
	h.finish()
	return err
}

// HostControl is the remote face of a Host, so another process can ask it
// to exit.
type HostControl interface {
	IsReady(ctx context.Context) (bool, error)
	Exit(ctx context.Context, code int) (bool, error)
}

// Control returns h as a HostControl for serving with NewRMIServer.
func (h *Host) Control() HostControl { return hostControl{h} }

type hostControl struct{ h *Host }

func (c hostControl) IsReady(context.Context) (bool, error) { return c.h.IsReady(), nil }

func (c hostControl) Exit(_ context.Context, code int) (bool, error) { return c.h.Exit(code) }

// HostControlClient calls a remote HostControl.
type HostControlClient struct {
	c *Client[HostControl]
}

// NewHostControlClient prepares a HostControl client.
func NewHostControlClient(settings ClientSettings) (*HostControlClient, error) {
	c, err := NewClient[HostControl](settings)
	if err != nil {
		return nil, err
	}
	return &HostControlClient{c: c}, nil
}

func (c *HostControlClient) IsReady(ctx context.Context) (bool, error) {
	return Call[bool](ctx, c.c, "IsReady")
}

func (c *HostControlClient) Exit(ctx context.Context, code int) (bool, error) {
	return Call[bool](ctx, c.c, "Exit", code)
}

var _ HostControl = (*HostControlClient)(nil)
