package remoting_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/mithrel/localrmi/internal/demo"
	"github.com/mithrel/localrmi/pkg/remoting"
)

// sockPath returns a socket path in a short temporary directory; socket
// paths are limited to about 100 bytes.
func sockPath(t *testing.T, name string) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "rmi")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return filepath.Join(dir, name+".sock")
}

func start(t *testing.T, s remoting.Server) {
	t.Helper()
	require.NoError(t, s.Start())
	t.Cleanup(func() { _ = s.Close() })
}

func startTester(t *testing.T, mutate func(*remoting.ServerSettings)) (*demo.TesterService, remoting.ClientSettings) {
	t.Helper()
	svc := demo.NewTesterService()
	settings := remoting.ServerSettings{Path: sockPath(t, "tester")}
	if mutate != nil {
		mutate(&settings)
	}
	srv, err := remoting.NewRMIServer[demo.Tester](svc, settings)
	require.NoError(t, err)
	start(t, srv)
	return svc, remoting.ClientSettings{Path: srv.Path(), ConnectTimeout: 5 * time.Second}
}

func testerClient(t *testing.T, cs remoting.ClientSettings) *demo.TesterClient {
	t.Helper()
	c, err := demo.NewTesterClient(cs)
	require.NoError(t, err)
	return c
}

func waitClosed(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatalf("%s not closed", what)
	}
}

type Point struct {
	X, Y int
}

// Label only reaches a server through an interface-typed parameter.
type Label string

// Describer takes nilable and dynamically typed arguments.
type Describer interface {
	Describe(ctx context.Context, p *Point, v any) (string, error)
}

type describer struct{}

func (describer) Describe(_ context.Context, p *Point, v any) (string, error) {
	if p != nil {
		return "pointer", nil
	}
	switch v := v.(type) {
	case nil:
		return "nil nil", nil
	case Label:
		if v == "" {
			return "", errors.New("empty label")
		}
		return "label " + string(v), nil
	}
	return fmt.Sprintf("%T", v), nil
}

// Greeter exchanges protobuf messages.
type Greeter interface {
	Greet(ctx context.Context, name *wrapperspb.StringValue) (*wrapperspb.StringValue, error)
}

type greeter struct{}

func (greeter) Greet(_ context.Context, name *wrapperspb.StringValue) (*wrapperspb.StringValue, error) {
	return wrapperspb.String("hello " + name.GetValue()), nil
}

// Missing is not implemented by any server.
type Missing interface {
	Nope(ctx context.Context) error
}

// Faulty panics.
type Faulty interface {
	Explode(ctx context.Context, msg string) error
}

type faulty struct{}

func (faulty) Explode(_ context.Context, msg string) error { panic(msg) }
