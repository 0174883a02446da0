package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mithrel/localrmi/internal/ipc/transport"
)

// Listener owns one endpoint and serves at most one connection on it.
type Listener struct {
	id   uuid.UUID
	pool *Pool // back-reference for callbacks; the pool owns the listener
	ep   transport.Endpoint
	log  zerolog.Logger

	state       atomic.Int32
	disposeOnce sync.Once
}

func newListener(p *Pool, ep transport.Endpoint) *Listener {
	l := &Listener{id: uuid.New(), pool: p, ep: ep}
	l.log = p.log.With().Str("listener", l.id.String()).Logger()
	return l
}

// ID identifies the listener in logs.
func (l *Listener) ID() uuid.UUID { return l.id }

// State returns the current lifecycle state.
func (l *Listener) State() State { return State(l.state.Load()) }

// advance moves the listener forward to s. It fails if the listener is
// already at or past s, which guards against re-entry and resurrecting a
// disposed listener.
func (l *Listener) advance(s State) bool {
	for {
		cur := l.state.Load()
		if State(cur) >= s {
			return false
		}
		if l.state.CompareAndSwap(cur, int32(s)) {
			l.log.Trace().Stringer("state", s).Msg("listener state")
			return true
		}
	}
}

func (l *Listener) start(ctx context.Context) {
	if !l.advance(WaitingForConnection) {
		return
	}
	conn, err := l.ep.WaitForConnection(ctx)
	if err != nil {
		if errors.Is(err, transport.ErrEndpointClosed) || transport.IsCanceled(err) {
			l.log.Debug().Err(err).Msg("listener stopped waiting")
		} else {
			l.pool.report(err)
		}
		l.Dispose()
		l.pool.EnsureMinListeners()
		return
	}
	if !l.advance(Connected) {
		// Disposed while the connection was being handed over; closing the
		// endpoint passed the unused connection on to the next listener.
		l.pool.EnsureMinListeners()
		return
	}
	// Backfill before the request runs, which may take a long time.
	l.pool.EnsureMinListeners()

	if l.advance(ProcessingRequest) {
		l.pool.metrics.beginRequest()
		l.pool.process(ctx, conn)
		l.pool.metrics.endRequest()
		l.advance(FinishedRequest)
	}
	l.Dispose()
	// Backfill again: the earlier call may have been blocked by max.
	l.pool.EnsureMinListeners()
}

// Dispose marks the listener disposed, then disconnects and closes its
// endpoint. Safe to call more than once and from several goroutines.
func (l *Listener) Dispose() {
	l.disposeOnce.Do(func() {
		l.state.Store(int32(Disposed))
		if err := l.ep.Close(); err != nil {
			l.log.Debug().Err(err).Msg("endpoint close")
		}
	})
}
