package remoting_test

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/mithrel/localrmi/internal/demo"
	"github.com/mithrel/localrmi/pkg/remoting"
)

func TestCombine(t *testing.T) {
	t.Parallel()
	_, cs := startTester(t, nil)
	c := testerClient(t, cs)
	ctx := context.Background()

	got, err := c.Combine(ctx, "A", "B")
	require.NoError(t, err)
	assert.Equal(t, "AB", got)

	got, err = c.Combine(ctx, "A", "B", "C")
	require.NoError(t, err)
	assert.Equal(t, "ABC", got)
}

func TestRemoteErrorKeepsMessageAndServerSurvives(t *testing.T) {
	t.Parallel()
	_, cs := startTester(t, nil)
	c := testerClient(t, cs)
	ctx := context.Background()

	_, err := c.Half(ctx, 3)
	require.Error(t, err)
	var oor *demo.ArgumentOutOfRangeError
	require.ErrorAs(t, err, &oor)
	assert.Equal(t, "Only even numbers are supported.", oor.Message)
	assert.EqualError(t, err, "Only even numbers are supported.")

	half, err := c.Half(ctx, 8)
	require.NoError(t, err)
	assert.Equal(t, 4, half)
}

func TestRemoteErrorWithoutFactory(t *testing.T) {
	t.Parallel()
	_, cs := startTester(t, nil)
	c, err := remoting.NewClient[demo.Tester](cs)
	require.NoError(t, err)

	_, err = c.Invoke(context.Background(), "Half", 5)
	var re *remoting.RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, demo.ErrorKind, re.Kind)
	assert.Equal(t, "Only even numbers are supported.", re.Error())
	assert.ErrorIs(t, err, remoting.ErrRemoteInvocation)
}

func TestCancelEndsCallPromptly(t *testing.T) {
	t.Parallel()
	_, cs := startTester(t, nil)
	c := testerClient(t, cs)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	begin := time.Now()
	err := c.WaitForCancel(ctx)
	elapsed := time.Since(begin)

	require.ErrorIs(t, err, remoting.ErrCanceled)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.GreaterOrEqual(t, elapsed, 400*time.Millisecond)
	assert.Less(t, elapsed, 2*time.Second)
}

func TestVoidMethod(t *testing.T) {
	t.Parallel()
	svc, cs := startTester(t, nil)
	c := testerClient(t, cs)
	require.NoError(t, c.TouchErr(context.Background()))
	select {
	case <-svc.Touched():
	default:
		t.Fatal("Touch did not reach the service")
	}
}

func TestSingleListenerServesConcurrentClients(t *testing.T) {
	t.Parallel()
	_, cs := startTester(t, func(s *remoting.ServerSettings) {
		s.MinListeners = 1
		s.MaxListeners = 1
	})
	c := testerClient(t, cs)

	const clients = 8
	var wg sync.WaitGroup
	errs := make([]error, clients)
	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got, err := c.Combine(context.Background(), "x", "y")
			if err == nil && got != "xy" {
				err = errors.New("unexpected result " + got)
			}
			errs[i] = err
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		assert.NoError(t, err, "client %d", i)
	}
}

func TestSerializerMismatch(t *testing.T) {
	t.Parallel()
	_, cs := startTester(t, func(s *remoting.ServerSettings) { s.Serializer = remoting.JSONSerializer{} })
	c := testerClient(t, cs)
	_, err := c.Combine(context.Background(), "A", "B")
	assert.ErrorIs(t, err, remoting.ErrSerializerMismatch)

	cs.Serializer = remoting.YAMLSerializer{}
	c = testerClient(t, cs)
	_, err = c.Combine(context.Background(), "A", "B")
	assert.ErrorIs(t, err, remoting.ErrSerializerMismatch)

	cs.Serializer = remoting.JSONSerializer{}
	c = testerClient(t, cs)
	got, err := c.Combine(context.Background(), "A", "B")
	require.NoError(t, err)
	assert.Equal(t, "AB", got)
}

func TestYAMLSerializerRoundTrip(t *testing.T) {
	t.Parallel()
	_, cs := startTester(t, func(s *remoting.ServerSettings) { s.Serializer = remoting.YAMLSerializer{} })
	cs.Serializer = remoting.YAMLSerializer{}
	c := testerClient(t, cs)
	got, err := c.Combine(context.Background(), "A", "B", "C", "D")
	require.NoError(t, err)
	assert.Equal(t, "ABCD", got)
}

func TestProtoSerializerRoundTrip(t *testing.T) {
	t.Parallel()
	srv, err := remoting.NewRMIServer[Greeter](greeter{}, remoting.ServerSettings{
		Path:       sockPath(t, "greeter"),
		Serializer: remoting.ProtoSerializer{},
	})
	require.NoError(t, err)
	start(t, srv)

	c, err := remoting.NewClient[Greeter](remoting.ClientSettings{Path: srv.Path(), Serializer: remoting.ProtoSerializer{}})
	require.NoError(t, err)
	got, err := remoting.Call[*wrapperspb.StringValue](context.Background(), c, "Greet", wrapperspb.String("rmi"))
	require.NoError(t, err)
	assert.Equal(t, "hello rmi", got.GetValue())
}

func TestNilArgumentsUseDeclaredTypes(t *testing.T) {
	t.Parallel()
	srv, err := remoting.NewRMIServer[Describer](describer{}, remoting.ServerSettings{Path: sockPath(t, "describer")})
	require.NoError(t, err)
	start(t, srv)
	c, err := remoting.NewClient[Describer](remoting.ClientSettings{Path: srv.Path()})
	require.NoError(t, err)

	got, err := remoting.Call[string](context.Background(), c, "Describe", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "nil nil", got)

	got, err = remoting.Call[string](context.Background(), c, "Describe", &Point{X: 1}, nil)
	require.NoError(t, err)
	assert.Equal(t, "pointer", got)
}

func TestDynamicTypesNeedResolver(t *testing.T) {
	t.Parallel()
	restricted, err := remoting.NewRMIServer[Describer](describer{}, remoting.ServerSettings{Path: sockPath(t, "restricted")})
	require.NoError(t, err)
	start(t, restricted)

	types := remoting.NewTypeRegistry()
	remoting.RegisterType[Label](types)
	open, err := remoting.NewRMIServer[Describer](describer{}, remoting.ServerSettings{
		Path:  sockPath(t, "open"),
		Types: types.Resolve,
	})
	require.NoError(t, err)
	start(t, open)

	ctx := context.Background()
	c, err := remoting.NewClient[Describer](remoting.ClientSettings{Path: restricted.Path()})
	require.NoError(t, err)
	_, err = remoting.Call[string](ctx, c, "Describe", nil, Label("x"))
	assert.ErrorIs(t, err, remoting.ErrTypeNotResolvable)

	c, err = remoting.NewClient[Describer](remoting.ClientSettings{Path: open.Path()})
	require.NoError(t, err)
	got, err := remoting.Call[string](ctx, c, "Describe", nil, Label("x"))
	require.NoError(t, err)
	assert.Equal(t, "label x", got)

	_, err = remoting.Call[string](ctx, c, "Describe", nil, Label(""))
	assert.EqualError(t, err, "empty label")
}

func TestOversizedDynamicTypesRejected(t *testing.T) {
	t.Parallel()
	types := remoting.NewTypeRegistry()
	remoting.RegisterType[Label](types)
	srv, err := remoting.NewRMIServer[Describer](describer{}, remoting.ServerSettings{
		Path:  sockPath(t, "bounded"),
		Types: types.Resolve,
	})
	require.NoError(t, err)
	start(t, srv)
	c, err := remoting.NewClient[Describer](remoting.ClientSettings{Path: srv.Path(), ConnectTimeout: 5 * time.Second})
	require.NoError(t, err)
	ctx := context.Background()

	var deep any = 7
	for i := 0; i < 12; i++ {
		v := reflect.New(reflect.TypeOf(deep))
		v.Elem().Set(reflect.ValueOf(deep))
		deep = v.Interface()
	}
	_, err = remoting.Call[string](ctx, c, "Describe", nil, deep)
	assert.ErrorIs(t, err, remoting.ErrTypeNotResolvable)

	_, err = remoting.Call[string](ctx, c, "Describe", nil, new([100000]int))
	assert.ErrorIs(t, err, remoting.ErrTypeNotResolvable)

	got, err := remoting.Call[string](ctx, c, "Describe", nil, Label("still up"))
	require.NoError(t, err)
	assert.Equal(t, "label still up", got)
}

func TestMethodNotFound(t *testing.T) {
	t.Parallel()
	_, cs := startTester(t, nil)
	c, err := remoting.NewClient[Missing](cs)
	require.NoError(t, err)
	_, err = c.Invoke(context.Background(), "Nope")
	assert.ErrorIs(t, err, remoting.ErrMethodNotFound)
	assert.ErrorIs(t, err, remoting.ErrRemoteInvocation)

	_, err = c.Invoke(context.Background(), "Unknown")
	assert.ErrorIs(t, err, remoting.ErrMethodNotFound)
	assert.NotErrorIs(t, err, remoting.ErrRemoteInvocation)
}

func TestHandlerPanicBecomesError(t *testing.T) {
	t.Parallel()
	srv, err := remoting.NewRMIServer[Faulty](faulty{}, remoting.ServerSettings{Path: sockPath(t, "faulty")})
	require.NoError(t, err)
	start(t, srv)
	c, err := remoting.NewClient[Faulty](remoting.ClientSettings{Path: srv.Path()})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err = c.Invoke(context.Background(), "Explode", "kaboom")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "kaboom")
	}
}

func TestConnectTimeoutWithoutServer(t *testing.T) {
	t.Parallel()
	c, err := demo.NewTesterClient(remoting.ClientSettings{
		Path:           sockPath(t, "missing"),
		ConnectTimeout: 100 * time.Millisecond,
	})
	require.NoError(t, err)
	_, err = c.Combine(context.Background(), "A", "B")
	assert.ErrorIs(t, err, remoting.ErrConnectionTimeout)
}

func TestConnectTimeoutWhileListenersBusy(t *testing.T) {
	t.Parallel()
	_, cs := startTester(t, func(s *remoting.ServerSettings) {
		s.MinListeners = 1
		s.MaxListeners = 1
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	busy := make(chan error, 1)
	go func() { busy <- testerClient(t, cs).WaitForCancel(ctx) }()
	time.Sleep(200 * time.Millisecond)

	late := cs
	late.ConnectTimeout = 200 * time.Millisecond
	begin := time.Now()
	_, err := testerClient(t, late).Combine(context.Background(), "A", "B")
	assert.ErrorIs(t, err, remoting.ErrConnectionTimeout)
	assert.Less(t, time.Since(begin), 2*time.Second)

	cancel()
	require.ErrorIs(t, <-busy, remoting.ErrCanceled)
	got, err := testerClient(t, cs).Combine(context.Background(), "A", "B")
	require.NoError(t, err)
	assert.Equal(t, "AB", got)
}

func TestRecreatedServerSharesMetrics(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	settings := remoting.ServerSettings{Path: sockPath(t, "metrics"), Metrics: reg}
	for i := 0; i < 2; i++ {
		srv, err := remoting.NewRMIServer[demo.Tester](demo.NewTesterService(), settings)
		require.NoError(t, err)
		require.NoError(t, srv.Start())
		_, err = testerClient(t, remoting.ClientSettings{Path: srv.Path(), ConnectTimeout: 5 * time.Second}).
			Combine(context.Background(), "A", "B")
		require.NoError(t, err)
		require.NoError(t, srv.Close())
	}
	n, err := testutil.GatherAndCount(reg, "localrmi_pool_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestStopThenCallTimesOut(t *testing.T) {
	t.Parallel()
	svc := demo.NewTesterService()
	srv, err := remoting.NewRMIServer[demo.Tester](svc, remoting.ServerSettings{Path: sockPath(t, "stop")})
	require.NoError(t, err)
	start(t, srv)

	srv.Stop()
	waitClosed(t, srv.Stopped(), "stopped")

	c := testerClient(t, remoting.ClientSettings{Path: srv.Path(), ConnectTimeout: 100 * time.Millisecond})
	_, err = c.Combine(context.Background(), "A", "B")
	assert.ErrorIs(t, err, remoting.ErrConnectionTimeout)
}

func TestRemoteHostRejected(t *testing.T) {
	t.Parallel()
	_, err := remoting.NewClient[demo.Tester](remoting.ClientSettings{Path: "tester", Host: "elsewhere.example"})
	assert.Error(t, err)
}

func TestServerSettingsValidation(t *testing.T) {
	t.Parallel()
	cases := map[string]remoting.ServerSettings{
		"no path":       {},
		"negative min":  {Path: "x", MinListeners: -1},
		"max below min": {Path: "x", MinListeners: 3, MaxListeners: 2},
	}
	for name, s := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, s.Validate())
		})
	}
	assert.NoError(t, remoting.ServerSettings{Path: "x"}.Validate())
	assert.NoError(t, remoting.ServerSettings{Path: "x", MinListeners: 4, MaxListeners: remoting.MaxAllowedListeners}.Validate())
}
