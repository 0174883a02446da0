package transport

import (
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// A server answers every accepted connection with one handshake byte before
// any framed traffic: accepted once an endpoint starts serving it, rejected
// when the peer fails the access check.
const (
	handshakeAccepted byte = 1
	handshakeRejected byte = 2
)

func writeHandshake(conn net.Conn, b byte) error {
	_, err := conn.Write([]byte{b})
	return err
}

type connState int

const (
	connUnused connState = iota
	connClaimed
	connReclaimed
)

// servedConn is the server side of a delivered connection. The accepted
// handshake goes out on first use, so a connection whose endpoint is
// disposed before serving it can be reclaimed and handed to another
// endpoint without the client noticing.
type servedConn struct {
	*net.UnixConn

	mu    sync.Mutex
	state connState
	err   error
}

func (c *servedConn) claim() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case connReclaimed:
		return net.ErrClosed
	case connUnused:
		c.state = connClaimed
		if err := writeHandshake(c.UnixConn, handshakeAccepted); err != nil {
			// Surfaces like a client hanging up before its request.
			c.err = fmt.Errorf("client left before the handshake: %w (%w)", io.EOF, err)
		}
	}
	return c.err
}

// reclaim takes the connection back if it was never used.
func (c *servedConn) reclaim() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != connUnused {
		return false
	}
	c.state = connReclaimed
	return true
}

func (c *servedConn) reclaimed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == connReclaimed
}

func (c *servedConn) Read(b []byte) (int, error) {
	if err := c.claim(); err != nil {
		return 0, err
	}
	return c.UnixConn.Read(b)
}

func (c *servedConn) Write(b []byte) (int, error) {
	if err := c.claim(); err != nil {
		return 0, err
	}
	return c.UnixConn.Write(b)
}

func (c *servedConn) SetDeadline(t time.Time) error {
	if c.reclaimed() {
		return net.ErrClosed
	}
	return c.UnixConn.SetDeadline(t)
}

func (c *servedConn) SetReadDeadline(t time.Time) error {
	if c.reclaimed() {
		return net.ErrClosed
	}
	return c.UnixConn.SetReadDeadline(t)
}

func (c *servedConn) SetWriteDeadline(t time.Time) error {
	if c.reclaimed() {
		return net.ErrClosed
	}
	return c.UnixConn.SetWriteDeadline(t)
}

func (c *servedConn) CloseWrite() error {
	if c.reclaimed() {
		return nil
	}
	return c.UnixConn.CloseWrite()
}

// Close is a no-op once the connection went back to the acceptor.
func (c *servedConn) Close() error {
	if c.reclaimed() {
		return nil
	}
	return c.UnixConn.Close()
}
