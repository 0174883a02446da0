package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/mithrel/localrmi/internal/ipc/envelope"
)

// MaxMessageLength caps a single frame body.
const MaxMessageLength = 16 << 20 // 16MB safety

const lengthPrefixSize = 4

// WriteMessage writes m as a 4-byte little-endian length prefix followed by
// the encoded body.
func WriteMessage(ctx context.Context, conn net.Conn, m envelope.Message) error {
	b, err := m.Marshal()
	if err != nil {
		return err
	}
	if len(b) > MaxMessageLength {
		return fmt.Errorf("%w: message too large: %d", ErrFraming, len(b))
	}
	frame := make([]byte, lengthPrefixSize+len(b))
	binary.LittleEndian.PutUint32(frame, uint32(len(b)))
	copy(frame[lengthPrefixSize:], b)
	return withCancel(ctx, conn, func() error {
		_, err := conn.Write(frame)
		return err
	})
}

// ReadMessage reads a single length-prefixed frame from conn into m.
func ReadMessage(ctx context.Context, conn net.Conn, m envelope.Message) error {
	return withCancel(ctx, conn, func() error {
		var prefix [lengthPrefixSize]byte
		if err := requireRead(conn, prefix[:], "message length"); err != nil {
			return err
		}
		n := binary.LittleEndian.Uint32(prefix[:])
		if n > MaxMessageLength {
			return fmt.Errorf("%w: message too large: %d", ErrFraming, n)
		}
		body := make([]byte, n)
		if err := requireRead(conn, body, "message body"); err != nil {
			return err
		}
		if err := m.Unmarshal(body); err != nil {
			return fmt.Errorf("%w: %w", ErrFraming, err)
		}
		return nil
	})
}

// requireRead fills buf or fails; a peer that closes early yields ErrFraming
// wrapping io.EOF (nothing read) or io.ErrUnexpectedEOF.
func requireRead(r io.Reader, buf []byte, what string) error {
	n, err := io.ReadFull(r, buf)
	if err == nil {
		return nil
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: unable to read %d byte %s from stream; only %d bytes were available: %w",
			ErrFraming, len(buf), what, n, err)
	}
	return err
}

// withCancel runs op with ctx bound to conn. The context deadline becomes the
// connection deadline; on cancellation the connection is force-closed because
// an in-flight read does not otherwise observe ctx. Errors caused by either
// path are reported as ErrCanceled.
func withCancel(ctx context.Context, conn net.Conn, op func() error) error {
	if err := ctx.Err(); err != nil {
		return canceled(err)
	}
	dl, hasDeadline := ctx.Deadline()
	if hasDeadline {
		_ = conn.SetDeadline(dl)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Unix(1, 0))
		_ = conn.Close()
	})
	err := op()
	stopped := stop()
	if err == nil {
		if hasDeadline && stopped {
			_ = conn.SetDeadline(time.Time{})
		}
		return nil
	}
	if cerr := ctx.Err(); cerr != nil {
		return canceled(cerr)
	}
	if hasDeadline && errors.Is(err, os.ErrDeadlineExceeded) {
		return canceled(context.DeadlineExceeded)
	}
	return err
}
