package remoting

import (
	"context"
	"fmt"
	"reflect"

	"github.com/mithrel/localrmi/internal/ipc/envelope"
)

// MessageHandler answers one message.
type MessageHandler[In, Out any] func(ctx context.Context, in In) (Out, error)

// MessageServer answers single-payload requests that carry no method
// signature.
type MessageServer[In, Out any] struct {
	*server
	fn      MessageHandler[In, Out]
	in, out reflect.Type
	codec   *valueCodec
}

// NewMessageServer prepares a message server around fn.
func NewMessageServer[In, Out any](fn MessageHandler[In, Out], settings ServerSettings) (*MessageServer[In, Out], error) {
	if fn == nil {
		return nil, fmt.Errorf("nil message handler")
	}
	in, out := reflect.TypeFor[In](), reflect.TypeFor[Out]()
	types := settings.Types
	if types == nil {
		types = NewTypeRegistry(in, out).Resolve
	}
	s := &MessageServer[In, Out]{fn: fn, in: in, out: out, codec: newValueCodec(settings.Serializer, types)}
	var err error
	s.server, err = newServer(settings, "localrmi.message.server", s.dispatch)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *MessageServer[In, Out]) dispatch(ctx context.Context, req *envelope.Request) (resp *envelope.Response) {
	defer func() {
		if r := recover(); r != nil {
			resp = envelope.Failure(reportFor(panicError(r)))
		}
	}()
	if !req.IsMessage() {
		return envelope.Failure(reportFor(fmt.Errorf("%w: method %q sent to a message server", ErrInvalidRequest, req.MethodSignature)))
	}
	if len(req.Arguments) != 1 {
		return envelope.Failure(reportFor(fmt.Errorf("%w: a message carries exactly one argument, got %d", ErrInvalidRequest, len(req.Arguments))))
	}
	arg, err := s.codec.decode(req.Arguments[0], s.in)
	if err != nil {
		return envelope.Failure(reportFor(fmt.Errorf("message: %w", err)))
	}
	in, _ := arg.Interface().(In)
	out, err := s.fn(ctx, in)
	if err != nil {
		return envelope.Failure(reportFor(err))
	}
	tv, err := s.codec.encode(any(out), s.out)
	if err != nil {
		return envelope.Failure(reportFor(fmt.Errorf("message result: %w", err)))
	}
	return &envelope.Response{Result: &tv}
}

// MessageClient sends messages to a MessageServer.
type MessageClient[In, Out any] struct {
	*clientBase
	in, out reflect.Type
}

// NewMessageClient prepares a message client.
func NewMessageClient[In, Out any](settings ClientSettings) (*MessageClient[In, Out], error) {
	in, out := reflect.TypeFor[In](), reflect.TypeFor[Out]()
	base, err := newClientBase(settings, "localrmi.message.client", NewTypeRegistry(in, out).Resolve)
	if err != nil {
		return nil, err
	}
	return &MessageClient[In, Out]{clientBase: base, in: in, out: out}, nil
}

// Send delivers in and waits for the reply.
func (c *MessageClient[In, Out]) Send(ctx context.Context, in In) (Out, error) {
	var zero Out
	tv, err := c.codec.encode(any(in), c.in)
	if err != nil {
		return zero, err
	}
	resp, err := c.roundTrip(ctx, &envelope.Request{Arguments: []envelope.TypedValue{tv}})
	if err != nil {
		return zero, err
	}
	v, err := c.result(resp, c.out)
	if err != nil || v == nil {
		return zero, err
	}
	return v.(Out), nil
}
