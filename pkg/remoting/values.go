package remoting

import (
	"fmt"
	"reflect"

	"github.com/mithrel/localrmi/internal/ipc/envelope"
)

// VoidType is the logical type of a result that carries no value.
const VoidType = envelope.VoidType

// valueCodec converts between Go values and TypedValues for one side of a
// connection.
type valueCodec struct {
	ser   Serializer
	id    string
	types TypeResolver
}

func newValueCodec(ser Serializer, types TypeResolver) *valueCodec {
	c := &valueCodec{ser: ser, id: SerializerID(ser), types: types}
	if c.ser == nil {
		c.ser = nativeSerializer{}
	}
	return c
}

// encode wraps v. The logical type is v's runtime type, or declared when v
// is nil so the receiver still decodes into the right type.
func (c *valueCodec) encode(v any, declared reflect.Type) (envelope.TypedValue, error) {
	t := declared
	if v != nil {
		t = reflect.TypeOf(v)
		if !t.AssignableTo(declared) {
			return envelope.TypedValue{}, fmt.Errorf("%s is not assignable to %s", t, declared)
		}
	}
	b, err := c.ser.Serialize(v, t)
	if err != nil {
		return envelope.TypedValue{}, fmt.Errorf("serialize %s: %w", t, err)
	}
	return envelope.TypedValue{DataType: TypeName(t), SerializerID: c.id, Payload: b}, nil
}

// decode unwraps tv into a value assignable to declared. Types other than
// declared are only materialized through the resolver.
func (c *valueCodec) decode(tv envelope.TypedValue, declared reflect.Type) (reflect.Value, error) {
	if tv.SerializerID != c.id {
		return reflect.Value{}, fmt.Errorf("%w: payload written by %q, expected %q",
			ErrSerializerMismatch, tv.SerializerID, c.id)
	}
	t := declared
	if tv.DataType != TypeName(declared) {
		rt, ok := c.types(tv.DataType)
		if !ok {
			return reflect.Value{}, fmt.Errorf("%w: %.128s", ErrTypeNotResolvable, tv.DataType)
		}
		if !rt.AssignableTo(declared) {
			return reflect.Value{}, fmt.Errorf("%w: %s is not assignable to %s", ErrInvalidRequest, rt, declared)
		}
		t = rt
	}
	v, err := c.ser.Deserialize(tv.Payload, t)
	if err != nil {
		return reflect.Value{}, fmt.Errorf("deserialize %s: %w", t, err)
	}
	if v == nil {
		return reflect.Zero(declared), nil
	}
	rv := reflect.ValueOf(v)
	if !rv.Type().AssignableTo(declared) {
		return reflect.Value{}, fmt.Errorf("%w: decoded %s is not assignable to %s", ErrInvalidRequest, rv.Type(), declared)
	}
	out := reflect.New(declared).Elem()
	out.Set(rv)
	return out, nil
}
