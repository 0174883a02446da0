package remoting

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type customError struct{ code int }

func (e *customError) Error() string { return fmt.Sprintf("code %d", e.code) }

func TestReportMirrorsCauseChain(t *testing.T) {
	inner := &customError{code: 7}
	err := fmt.Errorf("outer: %w", fmt.Errorf("middle: %w", inner))

	r := reportFor(err)
	require.Equal(t, 3, r.Depth())
	assert.Equal(t, "*fmt.wrapError", r.Kind)
	assert.Equal(t, "outer: middle: code 7", r.Message)
	assert.Equal(t, "*remoting.customError", r.Inner.Inner.Kind)
	assert.Equal(t, "code 7", r.Inner.Inner.Message)
}

func TestRebuiltErrorKeepsSentinels(t *testing.T) {
	err := fmt.Errorf("lookup: %w", fmt.Errorf("%w: void Nope()", ErrMethodNotFound))
	rebuilt := rebuildError(reportFor(err), nil)

	assert.Equal(t, err.Error(), rebuilt.Error())
	assert.ErrorIs(t, rebuilt, ErrMethodNotFound)
	assert.ErrorIs(t, rebuilt, ErrRemoteInvocation)
	assert.NotErrorIs(t, rebuilt, ErrHostState)

	var re *RemoteError
	require.ErrorAs(t, rebuilt, &re)
	assert.Equal(t, "*fmt.wrapError", re.Kind)
}

func TestRebuildUsesFactory(t *testing.T) {
	err := fmt.Errorf("wrap: %w", &customError{code: 1})
	rebuilt := rebuildError(reportFor(err), func(kind, message string, inner error) error {
		if kind == "*remoting.customError" {
			return &customError{code: 99}
		}
		return nil
	})
	var ce *customError
	require.ErrorAs(t, rebuilt, &ce)
	assert.Equal(t, 99, ce.code)
}

func TestJoinedErrorFollowsFirstBranch(t *testing.T) {
	err := errors.Join(ErrFraming, ErrHostState)
	r := reportFor(err)
	require.NotNil(t, r.Inner)
	assert.Equal(t, "localrmi.Framing", r.Inner.Kind)
}

func TestPanicError(t *testing.T) {
	assert.EqualError(t, panicError("x"), "panic: x")
	assert.ErrorIs(t, panicError(ErrHostState), ErrHostState)
}
