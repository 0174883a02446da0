package remoting

import (
	"context"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type base interface {
	Ping(ctx context.Context) error
}

type left interface {
	base
	Left(n int) string
}

type right interface {
	base
	Right(ctx context.Context, parts ...string) ([]string, error)
}

type diamond interface {
	left
	right
}

func TestRegistryCollapsesDiamond(t *testing.T) {
	r, err := RegistryFor[diamond]()
	require.NoError(t, err)

	var sigs []string
	for _, m := range r.Methods() {
		sigs = append(sigs, m.Signature)
	}
	assert.Equal(t, []string{
		"string Left(int)",
		"void Ping()",
		"[]string Right(...string)",
	}, sigs)

	m, ok := r.Lookup("void Ping()")
	require.True(t, ok)
	assert.True(t, m.takesContext)
	assert.True(t, m.returnsError)
	assert.Empty(t, m.Params())
}

func TestRegistryVariadicParams(t *testing.T) {
	r, err := RegistryFor[right]()
	require.NoError(t, err)
	m, ok := r.ByName("Right")
	require.True(t, ok)
	assert.True(t, m.variadic)
	assert.Equal(t, []reflect.Type{reflect.TypeFor[[]string]()}, m.Params())
	assert.Equal(t, reflect.TypeFor[[]string](), m.Result())
}

type tooManyResults interface {
	Bad() (int, int, error)
}

type secondNotError interface {
	Bad() (int, string)
}

func TestRegistryRejectsUnsupportedShapes(t *testing.T) {
	_, err := RegistryFor[tooManyResults]()
	assert.Error(t, err)
	_, err = RegistryFor[secondNotError]()
	assert.Error(t, err)
	_, err = NewMethodRegistry(reflect.TypeFor[struct{}]())
	assert.Error(t, err)
}

type pinger struct{ calls int }

func (p *pinger) Ping(context.Context) error { p.calls++; return nil }

func (p *pinger) Left(n int) string {
	if n < 0 {
		panic("negative")
	}
	return "left"
}

func (p *pinger) Right(_ context.Context, parts ...string) ([]string, error) { return parts, nil }

func TestMethodCall(t *testing.T) {
	r, err := RegistryFor[diamond]()
	require.NoError(t, err)
	var target diamond = &pinger{}
	tv := reflect.ValueOf(&target).Elem()

	m, _ := r.ByName("Right")
	out, err := m.call(context.Background(), tv, []reflect.Value{reflect.ValueOf([]string{"a", "b"})})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, out)

	m, _ = r.ByName("Left")
	_, err = m.call(context.Background(), tv, []reflect.Value{reflect.ValueOf(-1)})
	assert.EqualError(t, err, "panic: negative")

	m, _ = r.ByName("Ping")
	_, err = m.call(context.Background(), tv, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, target.(*pinger).calls)
}
