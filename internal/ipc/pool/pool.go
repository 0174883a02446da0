// Package pool keeps a bounded set of single-use listeners ready on one
// server endpoint source. Each listener serves exactly one connection and
// then disposes itself; the pool replenishes spare listeners as they are
// claimed or finish.
package pool

import (
	"context"
	"fmt"
	"net"
	"runtime/debug"
	"sync"

	"github.com/rs/zerolog"

	"github.com/mithrel/localrmi/internal/ipc/transport"
)

// Unbounded disables the MaxCount limit.
const Unbounded = -1

// ProcessFunc serves one request on conn. The pool closes conn afterwards.
type ProcessFunc func(ctx context.Context, conn net.Conn) error

// Options configures a Pool.
type Options struct {
	// MinWaiting is the number of listeners kept waiting for a client.
	MinWaiting int
	// MaxCount bounds live listeners, waiting or serving. Unbounded disables it.
	MaxCount int
	Logger   zerolog.Logger
	Metrics  *Metrics
	// ReportUnhandled receives errors and panics from request processing.
	ReportUnhandled func(error)
}

// Validate checks the listener bounds.
func (o Options) Validate() error {
	if o.MinWaiting <= 0 {
		return fmt.Errorf("minimum listeners must be positive, got %d", o.MinWaiting)
	}
	if o.MaxCount == Unbounded {
		return nil
	}
	if o.MaxCount <= 0 {
		return fmt.Errorf("maximum listeners must be positive or unbounded, got %d", o.MaxCount)
	}
	if o.MaxCount < o.MinWaiting {
		return fmt.Errorf("maximum listeners (%d) is less than minimum listeners (%d)", o.MaxCount, o.MinWaiting)
	}
	return nil
}

// Pool maintains listeners for one endpoint source.
type Pool struct {
	src     transport.EndpointSource
	handle  ProcessFunc
	ctx     context.Context
	min     int
	max     int
	log     zerolog.Logger
	metrics *Metrics
	onError func(error)

	mu        sync.Mutex
	listeners map[*Listener]struct{}
	stopping  bool

	stoppedOnce sync.Once
	stopped     chan struct{}
	wg          sync.WaitGroup
}

// New returns a pool that hands connections from src to handle. ctx is
// passed to every handler invocation and aborts waiting listeners when done.
// No listeners exist until the first EnsureMinListeners call.
func New(ctx context.Context, src transport.EndpointSource, handle ProcessFunc, o Options) (*Pool, error) {
	if err := o.Validate(); err != nil {
		return nil, err
	}
	return &Pool{
		src:       src,
		handle:    handle,
		ctx:       ctx,
		min:       o.MinWaiting,
		max:       o.MaxCount,
		log:       o.Logger,
		metrics:   o.Metrics,
		onError:   o.ReportUnhandled,
		listeners: make(map[*Listener]struct{}),
		stopped:   make(chan struct{}),
	}, nil
}

// EnsureMinListeners prunes disposed listeners and creates new ones until
// MinWaiting are waiting or MaxCount is reached. Once stopping, it instead
// closes Stopped when the last listener is gone. Safe to call concurrently
// and from within listener callbacks.
func (p *Pool) EnsureMinListeners() {
	var started []*Listener
	p.mu.Lock()
	for l := range p.listeners {
		if l.State() == Disposed {
			delete(p.listeners, l)
		}
	}
	drained := p.stopping && len(p.listeners) == 0
	if !p.stopping && p.ctx.Err() == nil {
		waiting := p.waitingLocked()
		need := p.min - waiting
		if p.max != Unbounded {
			need = min(need, p.max-len(p.listeners))
		}
		for i := 0; i < need; i++ {
			ep, err := p.src.NewEndpoint()
			if err != nil {
				// Out of capacity for this round; a finishing listener retries.
				p.log.Debug().Err(err).Msg("could not create endpoint")
				p.metrics.creationFailed()
				break
			}
			l := newListener(p, ep)
			p.listeners[l] = struct{}{}
			started = append(started, l)
		}
	}
	p.metrics.setWaiting(p.waitingLocked())
	p.mu.Unlock()

	if drained {
		p.stoppedOnce.Do(func() {
			p.log.Debug().Msg("all listeners stopped")
			close(p.stopped)
		})
	}
	for _, l := range started {
		p.spawn(l)
	}
}

func (p *Pool) waitingLocked() int {
	n := 0
	for l := range p.listeners {
		if l.State().waiting() {
			n++
		}
	}
	return n
}

// StopListening stops creating listeners and disposes every listener that
// has not been claimed by a client. Listeners serving a request finish
// normally; Stopped is closed when the last one is gone.
func (p *Pool) StopListening() {
	p.mu.Lock()
	p.stopping = true
	for l := range p.listeners {
		if l.State().waiting() {
			l.Dispose()
			delete(p.listeners, l)
		}
	}
	p.mu.Unlock()
	p.EnsureMinListeners()
}

// Close stops listening and disposes every listener, including ones that
// are serving a request.
func (p *Pool) Close() {
	p.mu.Lock()
	p.stopping = true
	all := make([]*Listener, 0, len(p.listeners))
	for l := range p.listeners {
		all = append(all, l)
	}
	p.mu.Unlock()
	for _, l := range all {
		l.Dispose()
	}
	p.EnsureMinListeners()
}

// Stopped is closed once the pool is stopping and holds no listeners.
func (p *Pool) Stopped() <-chan struct{} { return p.stopped }

// Wait blocks until every listener goroutine has returned.
func (p *Pool) Wait() { p.wg.Wait() }

// Counts returns the number of waiting listeners and of all live listeners.
func (p *Pool) Counts() (waiting, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for l := range p.listeners {
		if l.State() == Disposed {
			continue
		}
		total++
		if l.State().waiting() {
			waiting++
		}
	}
	return waiting, total
}

func (p *Pool) spawn(l *Listener) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				p.report(fmt.Errorf("listener %s panicked: %v\n%s", l.id, r, debug.Stack()))
				l.Dispose()
				p.EnsureMinListeners()
			}
		}()
		l.start(p.ctx)
	}()
}

func (p *Pool) process(ctx context.Context, conn net.Conn) {
	defer func() {
		if r := recover(); r != nil {
			p.report(fmt.Errorf("panic processing request: %v\n%s", r, debug.Stack()))
		}
	}()
	if err := p.handle(ctx, conn); err != nil {
		p.report(err)
	}
}

func (p *Pool) report(err error) {
	p.log.Error().Err(err).Msg("unhandled error")
	if p.onError != nil {
		p.onError(err)
	}
}
