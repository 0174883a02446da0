package remoting_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mithrel/localrmi/internal/demo"
	"github.com/mithrel/localrmi/pkg/remoting"
)

func newHostWithServers(t *testing.T) (*remoting.Host, []remoting.Server) {
	t.Helper()
	tester, err := remoting.NewRMIServer[demo.Tester](demo.NewTesterService(), remoting.ServerSettings{Path: sockPath(t, "tester")})
	require.NoError(t, err)
	hasher, err := remoting.NewRMIServer[demo.Hasher](demo.HasherService{}, remoting.ServerSettings{Path: sockPath(t, "hasher")})
	require.NoError(t, err)
	echo, err := remoting.NewMessageServer(demo.Echo, remoting.ServerSettings{Path: sockPath(t, "echo")})
	require.NoError(t, err)

	h := remoting.NewHost(nil)
	t.Cleanup(func() { _ = h.Close() })
	servers := []remoting.Server{tester, hasher, echo}
	for _, s := range servers {
		require.NoError(t, h.Add(s))
	}
	return h, servers
}

func TestHostExitStopsEveryServer(t *testing.T) {
	t.Parallel()
	h, servers := newHostWithServers(t)
	assert.True(t, h.IsReady())

	ok, err := h.Exit(5)
	require.NoError(t, err)
	require.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	code, err := h.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, code)
	assert.Equal(t, 5, h.ExitCode())
	for _, s := range servers {
		waitClosed(t, s.Stopped(), s.Path())
	}
	assert.False(t, h.IsReady())
}

func TestHostExitVeto(t *testing.T) {
	t.Parallel()
	h, _ := newHostWithServers(t)
	veto := true
	var seen []int
	h.OnExiting(func(ev *remoting.ExitingEvent) {
		seen = append(seen, ev.Code)
		ev.Cancel = veto
	})

	ok, err := h.Exit(3)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, h.ExitCode())
	assert.True(t, h.IsReady())
	select {
	case <-h.Done():
		t.Fatal("vetoed exit completed")
	default:
	}

	veto = false
	ok, err = h.Exit(4)
	require.NoError(t, err)
	assert.True(t, ok)
	waitClosed(t, h.Done(), "host")
	assert.Equal(t, 4, h.ExitCode())
	assert.Equal(t, []int{3, 4}, seen)
}

func TestHostStateErrors(t *testing.T) {
	t.Parallel()
	h, _ := newHostWithServers(t)
	_, err := h.Exit(1)
	require.NoError(t, err)

	_, err = h.Exit(2)
	assert.ErrorIs(t, err, remoting.ErrHostState)
	assert.Equal(t, 1, h.ExitCode())

	late, err := remoting.NewRMIServer[demo.Hasher](demo.HasherService{}, remoting.ServerSettings{Path: sockPath(t, "late")})
	require.NoError(t, err)
	assert.ErrorIs(t, h.Add(late), remoting.ErrHostState)

	require.NoError(t, h.Close())
	_, err = h.Exit(3)
	assert.ErrorIs(t, err, remoting.ErrHostState)
}

func TestHostExitWithoutServers(t *testing.T) {
	t.Parallel()
	h := remoting.NewHost(nil)
	ok, err := h.Exit(0)
	require.NoError(t, err)
	assert.True(t, ok)
	waitClosed(t, h.Done(), "host")
}

func TestHostReentrantExitRejected(t *testing.T) {
	t.Parallel()
	h := remoting.NewHost(nil)
	var inner error
	h.OnExiting(func(*remoting.ExitingEvent) { _, inner = h.Exit(9) })
	ok, err := h.Exit(1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.ErrorIs(t, inner, remoting.ErrHostState)
	assert.Equal(t, 1, h.ExitCode())
}

func TestHostControlRemoteExit(t *testing.T) {
	t.Parallel()
	h, _ := newHostWithServers(t)
	ctl, err := remoting.NewRMIServer[remoting.HostControl](h.Control(), remoting.ServerSettings{Path: sockPath(t, "control")})
	require.NoError(t, err)
	require.NoError(t, h.Add(ctl))

	c, err := remoting.NewHostControlClient(remoting.ClientSettings{Path: ctl.Path()})
	require.NoError(t, err)
	ctx := context.Background()

	ready, err := c.IsReady(ctx)
	require.NoError(t, err)
	assert.True(t, ready)

	ok, err := c.Exit(ctx, 7)
	require.NoError(t, err)
	assert.True(t, ok)

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	code, err := h.Wait(waitCtx)
	require.NoError(t, err)
	assert.Equal(t, 7, code)
}
