package envelope

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestRequestRoundTrip(t *testing.T) {
	cases := map[string]*Request{
		"method": {
			MethodSignature: "string Combine(string, string, ...string)",
			Arguments: []TypedValue{
				{DataType: "string", Payload: []byte(`"A"`)},
				{DataType: "string", SerializerID: "json", Payload: []byte(`"B"`)},
				{DataType: "[]string", Payload: []byte("null")},
			},
		},
		"message": {
			Arguments: []TypedValue{{DataType: "int", Payload: []byte("7")}},
		},
		"empty payload": {
			MethodSignature: "void Touch([]uint8)",
			Arguments:       []TypedValue{{DataType: "[]uint8", SerializerID: "raw", Payload: []byte{}}},
		},
	}
	for name, want := range cases {
		t.Run(name, func(t *testing.T) {
			b, err := want.Marshal()
			require.NoError(t, err)
			var got Request
			require.NoError(t, got.Unmarshal(b))
			assert.Equal(t, want, &got)
		})
	}
}

func TestResponseRoundTrip(t *testing.T) {
	cases := map[string]*Response{
		"void": Void(),
		"result": {
			Result: &TypedValue{DataType: "string", Payload: []byte(`"AB"`)},
		},
		"error chain": Failure(&ErrorReport{
			Kind:    "*errors.errorString",
			Message: "outer: middle: inner",
			Inner: &ErrorReport{
				Kind:    "*fmt.wrapError",
				Message: "middle: inner",
				Inner:   &ErrorReport{Kind: "*errors.errorString", Message: "inner"},
			},
		}),
	}
	for name, want := range cases {
		t.Run(name, func(t *testing.T) {
			b, err := want.Marshal()
			require.NoError(t, err)
			var got Response
			require.NoError(t, got.Unmarshal(b))
			assert.Equal(t, want, &got)
		})
	}
}

func TestErrorChainDepthPreserved(t *testing.T) {
	var report *ErrorReport
	for i := 0; i < 5; i++ {
		report = &ErrorReport{Kind: "k", Message: "m", Inner: report}
	}
	b, err := Failure(report).Marshal()
	require.NoError(t, err)
	var got Response
	require.NoError(t, got.Unmarshal(b))
	assert.Equal(t, 5, got.Error.Depth())
}

func TestNullMessages(t *testing.T) {
	var req Request
	assert.ErrorIs(t, req.Unmarshal(nil), ErrNullMessage)
	var resp Response
	assert.ErrorIs(t, resp.Unmarshal([]byte{}), ErrNullMessage)
	_, err := (&Response{}).Marshal()
	assert.ErrorIs(t, err, ErrNullMessage)
}

func TestUnknownFieldsSkipped(t *testing.T) {
	b, err := (&Request{MethodSignature: "void Ping()"}).Marshal()
	require.NoError(t, err)
	b = protowire.AppendTag(b, 99, protowire.VarintType)
	b = protowire.AppendVarint(b, 42)

	var got Request
	require.NoError(t, got.Unmarshal(b))
	assert.Equal(t, "void Ping()", got.MethodSignature)
}

func TestCorruptFrameRejected(t *testing.T) {
	b, err := (&Request{MethodSignature: "void Ping()"}).Marshal()
	require.NoError(t, err)
	var got Request
	assert.Error(t, got.Unmarshal(b[:len(b)-2]))
}

func TestTypedValueRequiresDataType(t *testing.T) {
	var b []byte
	b = protowire.AppendTag(b, fieldRequestArgument, protowire.BytesType)
	b = protowire.AppendBytes(b, nil)
	var got Request
	assert.Error(t, got.Unmarshal(b))
}
