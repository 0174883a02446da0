package remoting

import (
	"context"
	"fmt"

	"github.com/mithrel/localrmi/internal/ipc/envelope"
)

// Client calls the methods of capability interface T on an RMI server.
// Typed stubs wrap Invoke or Call, one method per interface member.
type Client[T any] struct {
	*clientBase
	methods *MethodRegistry
}

// NewClient prepares a client; no connection is made until a call.
func NewClient[T any](settings ClientSettings) (*Client[T], error) {
	methods, err := RegistryFor[T]()
	if err != nil {
		return nil, err
	}
	base, err := newClientBase(settings, "localrmi.rmi.client", NewTypeRegistry(methods.Types()...).Resolve)
	if err != nil {
		return nil, err
	}
	return &Client[T]{clientBase: base, methods: methods}, nil
}

// Methods returns the registry of callable methods.
func (c *Client[T]) Methods() *MethodRegistry { return c.methods }

// Invoke calls method by Go name with args in declaration order, leaving
// out a leading context parameter. A variadic parameter is passed as one
// slice. Each call uses a fresh connection.
func (c *Client[T]) Invoke(ctx context.Context, method string, args ...any) (any, error) {
	m, ok := c.methods.ByName(method)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMethodNotFound, method)
	}
	if len(args) != len(m.params) {
		return nil, fmt.Errorf("%s takes %d arguments, got %d", m.Name, len(m.params), len(args))
	}
	req := &envelope.Request{MethodSignature: m.Signature, Arguments: make([]envelope.TypedValue, len(args))}
	for i, a := range args {
		tv, err := c.codec.encode(a, m.params[i])
		if err != nil {
			return nil, fmt.Errorf("%s argument %d: %w", m.Name, i, err)
		}
		req.Arguments[i] = tv
	}
	resp, err := c.roundTrip(ctx, req)
	if err != nil {
		return nil, err
	}
	return c.result(resp, m.result)
}

// Call invokes method and converts the result to R.
func Call[R, T any](ctx context.Context, c *Client[T], method string, args ...any) (R, error) {
	var zero R
	v, err := c.Invoke(ctx, method, args...)
	if err != nil || v == nil {
		return zero, err
	}
	r, ok := v.(R)
	if !ok {
		return zero, fmt.Errorf("%s returned %T, not %T", method, v, zero)
	}
	return r, nil
}
