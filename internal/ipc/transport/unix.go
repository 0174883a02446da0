package transport

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/multierr"
)

// staleCheckTimeout bounds the dial used to tell a live socket from a leftover file.
const staleCheckTimeout = 200 * time.Millisecond

// Acceptor owns a listening socket and passes each accepted connection to
// exactly one waiting Endpoint. It only accepts while an endpoint is
// waiting, so clients beyond the waiting endpoints stay queued in the
// kernel backlog and their connect budget keeps running.
type Acceptor struct {
	path     string
	ln       *net.UnixListener
	security *ServerSecurity
	log      zerolog.Logger

	waiting   chan *slot
	closed    chan struct{}
	closeOnce sync.Once
	loopDone  chan struct{}

	mu      sync.Mutex
	current *slot // slot the accept loop is blocked for
	pending []*net.UnixConn
}

// Listen binds path, applies the security file mode and starts accepting.
// A leftover socket file nobody answers on is removed first; a live one
// yields ErrAddressInUse.
func Listen(path string, security *ServerSecurity, log zerolog.Logger) (*Acceptor, error) {
	if err := removeStale(path); err != nil {
		return nil, err
	}
	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		return nil, err
	}
	ln.SetUnlinkOnClose(true)
	if err := os.Chmod(path, security.socketMode()); err != nil {
		return nil, multierr.Append(err, ln.Close())
	}
	a := &Acceptor{
		path:     path,
		ln:       ln,
		security: security,
		log:      log,
		waiting:  make(chan *slot),
		closed:   make(chan struct{}),
		loopDone: make(chan struct{}),
	}
	go a.acceptLoop()
	return a, nil
}

func removeStale(path string) error {
	fi, err := os.Lstat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if fi.Mode()&fs.ModeSocket == 0 {
		return fmt.Errorf("%s exists and is not a socket", path)
	}
	conn, err := net.DialTimeout("unix", path, staleCheckTimeout)
	if err == nil {
		_ = conn.Close()
		return fmt.Errorf("%w: %s", ErrAddressInUse, path)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Path returns the socket path this acceptor listens on.
func (a *Acceptor) Path() string { return a.path }

// NewEndpoint returns a slot that receives the next unclaimed connection.
func (a *Acceptor) NewEndpoint() (Endpoint, error) {
	select {
	case <-a.closed:
		return nil, fmt.Errorf("%w: acceptor for %s is closed", ErrEndpointClosed, a.path)
	default:
	}
	return &unixEndpoint{a: a, done: make(chan struct{})}, nil
}

// Close stops accepting and unlinks the socket. Endpoints still waiting
// return ErrEndpointClosed and clients not yet handed to an endpoint are
// disconnected before their handshake; connections already in use are
// untouched.
func (a *Acceptor) Close() error {
	var err error
	a.closeOnce.Do(func() {
		a.mu.Lock()
		close(a.closed)
		pending := a.pending
		a.pending = nil
		a.mu.Unlock()
		err = a.ln.Close()
		<-a.loopDone
		for _, c := range pending {
			_ = c.Close()
		}
	})
	return err
}

func (a *Acceptor) isClosed() bool {
	select {
	case <-a.closed:
		return true
	default:
		return false
	}
}

func (a *Acceptor) acceptLoop() {
	defer close(a.loopDone)
	var (
		s       *slot
		backoff time.Duration
	)
	for {
		if s == nil || !s.open() {
			select {
			case s = <-a.waiting:
			case <-a.closed:
				return
			}
		}
		conn, requeued, err := a.next(s)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			if errors.Is(err, os.ErrDeadlineExceeded) {
				// Woken to re-check the slot or the pending queue.
				continue
			}
			// Resource exhaustion (EMFILE and friends); back off like net/http does.
			if backoff == 0 {
				backoff = 5 * time.Millisecond
			} else if backoff *= 2; backoff > time.Second {
				backoff = time.Second
			}
			a.log.Warn().Err(err).Dur("retry_in", backoff).Msg("accept failed")
			select {
			case <-time.After(backoff):
				continue
			case <-a.closed:
				return
			}
		}
		backoff = 0
		if !peerWaiting(conn) {
			// The client gave up while queued.
			_ = conn.Close()
			continue
		}
		if !requeued {
			if err := a.security.authorize(conn); err != nil {
				a.log.Warn().Err(err).Msg("rejected connection")
				_ = writeHandshake(conn, handshakeRejected)
				_ = conn.Close()
				continue
			}
		}
		if !s.fill(conn) {
			a.pushPending(conn)
		}
	}
}

// next returns the oldest requeued connection, or blocks in accept on
// behalf of s until a client arrives or wakeLocked interrupts it.
func (a *Acceptor) next(s *slot) (conn *net.UnixConn, requeued bool, err error) {
	a.mu.Lock()
	if len(a.pending) > 0 {
		conn = a.pending[0]
		a.pending = a.pending[1:]
		a.mu.Unlock()
		return conn, true, nil
	}
	if !s.open() {
		// Abandoned before the loop got here; slotAbandoned found nothing to wake.
		a.mu.Unlock()
		return nil, false, os.ErrDeadlineExceeded
	}
	a.current = s
	a.mu.Unlock()

	conn, err = a.ln.AcceptUnix()

	a.mu.Lock()
	a.current = nil
	if !a.isClosed() {
		_ = a.ln.SetDeadline(time.Time{})
	}
	a.mu.Unlock()
	return conn, false, err
}

// peerWaiting reports whether the client is still there and silent, as it
// must be until it reads the accepted handshake.
func peerWaiting(conn *net.UnixConn) bool {
	if err := conn.SetReadDeadline(time.Now()); err != nil {
		return false
	}
	n, err := conn.Read(make([]byte, 1))
	_ = conn.SetReadDeadline(time.Time{})
	return n == 0 && errors.Is(err, os.ErrDeadlineExceeded)
}

// wakeLocked interrupts a blocked accept so the loop re-reads its state.
func (a *Acceptor) wakeLocked() {
	if a.current != nil {
		_ = a.ln.SetDeadline(time.Now())
	}
}

func (a *Acceptor) slotAbandoned(s *slot) {
	a.mu.Lock()
	if a.current == s {
		a.wakeLocked()
	}
	a.mu.Unlock()
}

// requeue returns a connection that was never used to the next waiting endpoint.
func (a *Acceptor) requeue(conn *net.UnixConn) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.isClosed() {
		_ = conn.Close()
		return
	}
	if a.current != nil && a.current.fill(conn) {
		a.wakeLocked()
		return
	}
	a.pending = append(a.pending, conn)
	a.wakeLocked()
}

func (a *Acceptor) pushPending(conn *net.UnixConn) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.isClosed() {
		_ = conn.Close()
		return
	}
	a.pending = append([]*net.UnixConn{conn}, a.pending...)
}

// slot is one endpoint's request for a connection. Exactly one of fill and
// abandon decides its outcome.
type slot struct {
	mu        sync.Mutex
	ready     chan struct{}
	conn      *net.UnixConn
	abandoned bool
}

func newSlot() *slot { return &slot{ready: make(chan struct{})} }

func (s *slot) open() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn == nil && !s.abandoned
}

func (s *slot) fill(conn *net.UnixConn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil || s.abandoned {
		return false
	}
	s.conn = conn
	close(s.ready)
	return true
}

// abandon retires s and returns a connection delivered but not taken.
func (s *slot) abandon() *net.UnixConn {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.abandoned = true
	conn := s.conn
	s.conn = nil
	return conn
}

type unixEndpoint struct {
	a    *Acceptor
	done chan struct{}
	once sync.Once

	mu       sync.Mutex
	conn     *servedConn
	disposed bool
}

func (e *unixEndpoint) WaitForConnection(ctx context.Context) (net.Conn, error) {
	s := newSlot()
	select {
	case e.a.waiting <- s:
	case <-e.done:
		return nil, ErrEndpointClosed
	case <-e.a.closed:
		return nil, ErrEndpointClosed
	case <-ctx.Done():
		return nil, canceled(ctx.Err())
	}
	var err error
	select {
	case <-s.ready:
	case <-e.done:
		err = ErrEndpointClosed
	case <-e.a.closed:
		err = ErrEndpointClosed
	case <-ctx.Done():
		err = canceled(ctx.Err())
	}
	if err != nil {
		if conn := s.abandon(); conn != nil {
			e.a.requeue(conn)
		}
		e.a.slotAbandoned(s)
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disposed {
		e.a.requeue(s.conn)
		return nil, ErrEndpointClosed
	}
	e.conn = &servedConn{UnixConn: s.conn}
	return e.conn, nil
}

// Close disconnects the client (half-close first, so the peer sees EOF) and
// releases the endpoint. A connection handed out but never used goes back
// to the acceptor for the next endpoint.
func (e *unixEndpoint) Close() error {
	var err error
	e.once.Do(func() {
		close(e.done)
		e.mu.Lock()
		conn := e.conn
		e.disposed = true
		e.mu.Unlock()
		if conn == nil {
			return
		}
		if conn.reclaim() {
			e.a.requeue(conn.UnixConn)
			return
		}
		err = disconnect(conn.UnixConn)
	})
	return err
}

func disconnect(conn net.Conn) error {
	var err error
	if uc, ok := conn.(*net.UnixConn); ok {
		err = ignoreClosed(uc.CloseWrite())
	}
	return multierr.Append(err, ignoreClosed(conn.Close()))
}

// ignoreClosed drops errors from racing with a peer or a canceled operation
// that already tore the connection down.
func ignoreClosed(err error) error {
	if err == nil || errors.Is(err, net.ErrClosed) || errors.Is(err, syscall.ENOTCONN) ||
		errors.Is(err, syscall.EPIPE) {
		return nil
	}
	return err
}
