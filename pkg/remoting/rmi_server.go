package remoting

import (
	"context"
	"fmt"
	"reflect"

	"github.com/mithrel/localrmi/internal/ipc/envelope"
)

// RMIServer exposes the methods of capability interface T, implemented by
// target, to RMI clients.
type RMIServer[T any] struct {
	*server
	target  reflect.Value
	methods *MethodRegistry
	codec   *valueCodec
}

// NewRMIServer prepares a server for target. Call Start to begin serving.
func NewRMIServer[T any](target T, settings ServerSettings) (*RMIServer[T], error) {
	methods, err := RegistryFor[T]()
	if err != nil {
		return nil, err
	}
	tv := reflect.ValueOf(&target).Elem()
	if tv.IsNil() {
		return nil, fmt.Errorf("nil %s target", methods.Interface())
	}
	types := settings.Types
	if types == nil {
		types = NewTypeRegistry(methods.Types()...).Resolve
	}
	s := &RMIServer[T]{
		target:  tv,
		methods: methods,
		codec:   newValueCodec(settings.Serializer, types),
	}
	s.server, err = newServer(settings, "localrmi.rmi.server", s.dispatch)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Methods returns the registry of callable methods.
func (s *RMIServer[T]) Methods() *MethodRegistry { return s.methods }

func (s *RMIServer[T]) dispatch(ctx context.Context, req *envelope.Request) (resp *envelope.Response) {
	defer func() {
		if r := recover(); r != nil {
			resp = envelope.Failure(reportFor(fmt.Errorf("dispatch: %w", panicError(r))))
		}
	}()
	if req.IsMessage() {
		return envelope.Failure(reportFor(fmt.Errorf("%w: message requests are not accepted by an RMI server", ErrInvalidRequest)))
	}
	m, ok := s.methods.Lookup(req.MethodSignature)
	if !ok {
		return envelope.Failure(reportFor(fmt.Errorf("%w: %s", ErrMethodNotFound, req.MethodSignature)))
	}
	args, err := s.decodeArgs(m, req.Arguments)
	if err != nil {
		return envelope.Failure(reportFor(fmt.Errorf("%s: %w", m.Name, err)))
	}
	out, err := m.call(ctx, s.target, args)
	if err != nil {
		s.log.Debug().Err(err).Str("method", m.Name).Msg("method returned an error")
		return envelope.Failure(reportFor(err))
	}
	if m.result == nil {
		return envelope.Void()
	}
	tv, err := s.codec.encode(out, m.result)
	if err != nil {
		return envelope.Failure(reportFor(fmt.Errorf("%s result: %w", m.Name, err)))
	}
	return &envelope.Response{Result: &tv}
}

func (s *RMIServer[T]) decodeArgs(m *Method, in []envelope.TypedValue) ([]reflect.Value, error) {
	if len(in) != len(m.params) {
		return nil, fmt.Errorf("%w: %d arguments for %d parameters", ErrInvalidRequest, len(in), len(m.params))
	}
	args := make([]reflect.Value, len(in))
	for i, tv := range in {
		v, err := s.codec.decode(tv, m.params[i])
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		args[i] = v
	}
	return args, nil
}
