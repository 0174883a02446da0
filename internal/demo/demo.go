// Package demo holds the sample services served by the localrmi host
// program, together with their client stubs.
package demo

import (
	"context"
	"encoding/hex"
	"strings"
	"time"

	"github.com/zeebo/blake3"
)

// Calculator only works on even numbers.
type Calculator interface {
	Half(ctx context.Context, n int) (int, error)
}

// Tester is the main sample capability.
type Tester interface {
	Calculator
	Combine(ctx context.Context, part1, part2 string, more ...string) (string, error)
	// WaitForCancel blocks until the call is canceled.
	WaitForCancel(ctx context.Context) error
	Touch(ctx context.Context)
}

// Hasher digests string parts with BLAKE3.
type Hasher interface {
	Digest(ctx context.Context, parts ...string) (string, error)
}

// ArgumentOutOfRangeError reports an argument outside the accepted range.
type ArgumentOutOfRangeError struct {
	Param   string
	Message string
}

func (e *ArgumentOutOfRangeError) Error() string { return e.Message }

// ErrorKind is the wire kind of *ArgumentOutOfRangeError.
const ErrorKind = "*demo.ArgumentOutOfRangeError"

// ErrorFactory rebuilds demo errors on the client.
func ErrorFactory(kind, message string, _ error) error {
	if kind == ErrorKind {
		return &ArgumentOutOfRangeError{Message: message}
	}
	return nil
}

// TesterService implements Tester.
type TesterService struct {
	touched chan struct{}
}

// NewTesterService returns a ready TesterService.
func NewTesterService() *TesterService {
	return &TesterService{touched: make(chan struct{}, 1)}
}

func (*TesterService) Half(_ context.Context, n int) (int, error) {
	if n%2 != 0 {
		return 0, &ArgumentOutOfRangeError{Param: "n", Message: "Only even numbers are supported."}
	}
	return n / 2, nil
}

func (*TesterService) Combine(_ context.Context, part1, part2 string, more ...string) (string, error) {
	return part1 + part2 + strings.Join(more, ""), nil
}

func (*TesterService) WaitForCancel(ctx context.Context) error {
	t := time.NewTicker(10 * time.Millisecond)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (s *TesterService) Touch(context.Context) {
	select {
	case s.touched <- struct{}{}:
	default:
	}
}

// Touched is signalled after Touch is called.
func (s *TesterService) Touched() <-chan struct{} { return s.touched }

// HasherService implements Hasher.
type HasherService struct{}

// Digest hashes the parts, each followed by a zero byte, and returns hex.
func (HasherService) Digest(_ context.Context, parts ...string) (string, error) {
	h := blake3.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Echo answers a message with itself.
func Echo(_ context.Context, msg string) (string, error) { return msg, nil }
