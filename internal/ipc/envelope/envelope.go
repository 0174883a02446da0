// Package envelope defines the fixed wire structures exchanged on a channel:
// a Request, a Response, the TypedValue unit that carries arguments and
// results, and the ErrorReport that mirrors a server-side error chain.
//
// Messages are encoded with the protobuf wire format (field numbers below are
// the protocol); payload bytes inside a TypedValue are opaque at this level.
package envelope

import "errors"

// VoidType is the logical type of a TypedValue that carries no payload.
const VoidType = "void"

// ErrNullMessage is returned when a frame decodes to nothing.
var ErrNullMessage = errors.New("envelope: message cannot be null")

// Message is implemented by Request and Response.
type Message interface {
	Marshal() ([]byte, error)
	Unmarshal(b []byte) error
}

// TypedValue pairs a logical type with an optional serializer identity and a payload.
type TypedValue struct {
	// DataType is the logical type name resolved on the receiving side.
	DataType string
	// SerializerID names the user serializer that produced Payload.
	// Empty means Payload is the envelope's native encoding of the value.
	SerializerID string
	// Payload is nil for void values.
	Payload []byte
}

// IsVoid reports whether v carries no value.
func (v TypedValue) IsVoid() bool { return v.DataType == VoidType }

// ErrorReport is the serializable form of an error and its cause chain.
type ErrorReport struct {
	Kind    string
	Message string
	Inner   *ErrorReport
}

// Depth returns the number of reports in the chain starting at r.
func (r *ErrorReport) Depth() int {
	n := 0
	for ; r != nil; r = r.Inner {
		n++
	}
	return n
}

// Request is a method call (MethodSignature set) or a single-payload message
// call (MethodSignature empty).
type Request struct {
	MethodSignature string
	Arguments       []TypedValue
}

// IsMessage reports whether the request is a message call rather than a method call.
func (r *Request) IsMessage() bool { return r.MethodSignature == "" }

// Response carries either a Result or an Error. Neither means no value.
type Response struct {
	Result *TypedValue
	Error  *ErrorReport
}

// Void returns a successful response with no value.
func Void() *Response {
	return &Response{Result: &TypedValue{DataType: VoidType}}
}

// Failure returns a response carrying only report.
func Failure(report *ErrorReport) *Response {
	return &Response{Error: report}
}
