package envelope

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers. Changing any of these breaks compatibility with older peers.
const (
	fieldValueType       protowire.Number = 1
	fieldValueSerializer protowire.Number = 2
	fieldValuePayload    protowire.Number = 3

	fieldErrorKind    protowire.Number = 1
	fieldErrorMessage protowire.Number = 2
	fieldErrorInner   protowire.Number = 3

	fieldRequestSignature protowire.Number = 1
	fieldRequestArgument  protowire.Number = 2

	fieldResponseResult protowire.Number = 1
	fieldResponseError  protowire.Number = 2
)

// maxErrorDepth bounds recursion when decoding nested ErrorReports.
const maxErrorDepth = 64

func (r *Request) Marshal() ([]byte, error) {
	var b []byte
	if r.MethodSignature != "" {
		b = protowire.AppendTag(b, fieldRequestSignature, protowire.BytesType)
		b = protowire.AppendString(b, r.MethodSignature)
	}
	for i := range r.Arguments {
		b = protowire.AppendTag(b, fieldRequestArgument, protowire.BytesType)
		b = protowire.AppendBytes(b, r.Arguments[i].appendWire(nil))
	}
	return b, nil
}

func (r *Request) Unmarshal(b []byte) error {
	if len(b) == 0 {
		return ErrNullMessage
	}
	*r = Request{}
	return walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch {
		case num == fieldRequestSignature && typ == protowire.BytesType:
			r.MethodSignature = string(v)
		case num == fieldRequestArgument && typ == protowire.BytesType:
			var tv TypedValue
			if err := tv.unmarshalWire(v); err != nil {
				return fmt.Errorf("argument %d: %w", len(r.Arguments), err)
			}
			r.Arguments = append(r.Arguments, tv)
		}
		return nil
	})
}

func (r *Response) Marshal() ([]byte, error) {
	var b []byte
	if r.Result != nil {
		b = protowire.AppendTag(b, fieldResponseResult, protowire.BytesType)
		b = protowire.AppendBytes(b, r.Result.appendWire(nil))
	}
	if r.Error != nil {
		eb, err := r.Error.appendWire(nil, 0)
		if err != nil {
			return nil, err
		}
		b = protowire.AppendTag(b, fieldResponseError, protowire.BytesType)
		b = protowire.AppendBytes(b, eb)
	}
	if len(b) == 0 {
		return nil, ErrNullMessage
	}
	return b, nil
}

func (r *Response) Unmarshal(b []byte) error {
	if len(b) == 0 {
		return ErrNullMessage
	}
	*r = Response{}
	return walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch {
		case num == fieldResponseResult && typ == protowire.BytesType:
			tv := new(TypedValue)
			if err := tv.unmarshalWire(v); err != nil {
				return fmt.Errorf("result: %w", err)
			}
			r.Result = tv
		case num == fieldResponseError && typ == protowire.BytesType:
			er := new(ErrorReport)
			if err := er.unmarshalWire(v, 0); err != nil {
				return fmt.Errorf("error: %w", err)
			}
			r.Error = er
		}
		return nil
	})
}

func (v *TypedValue) appendWire(b []byte) []byte {
	b = protowire.AppendTag(b, fieldValueType, protowire.BytesType)
	b = protowire.AppendString(b, v.DataType)
	if v.SerializerID != "" {
		b = protowire.AppendTag(b, fieldValueSerializer, protowire.BytesType)
		b = protowire.AppendString(b, v.SerializerID)
	}
	if v.Payload != nil {
		b = protowire.AppendTag(b, fieldValuePayload, protowire.BytesType)
		b = protowire.AppendBytes(b, v.Payload)
	}
	return b
}

func (v *TypedValue) unmarshalWire(b []byte) error {
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, raw []byte) error {
		if typ != protowire.BytesType {
			return nil
		}
		switch num {
		case fieldValueType:
			v.DataType = string(raw)
		case fieldValueSerializer:
			v.SerializerID = string(raw)
		case fieldValuePayload:
			v.Payload = append([]byte{}, raw...)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if v.DataType == "" {
		return fmt.Errorf("typed value has no data type")
	}
	return nil
}

func (r *ErrorReport) appendWire(b []byte, depth int) ([]byte, error) {
	if depth >= maxErrorDepth {
		return nil, fmt.Errorf("error chain deeper than %d", maxErrorDepth)
	}
	b = protowire.AppendTag(b, fieldErrorKind, protowire.BytesType)
	b = protowire.AppendString(b, r.Kind)
	if r.Message != "" {
		b = protowire.AppendTag(b, fieldErrorMessage, protowire.BytesType)
		b = protowire.AppendString(b, r.Message)
	}
	if r.Inner != nil {
		inner, err := r.Inner.appendWire(nil, depth+1)
		if err != nil {
			return nil, err
		}
		b = protowire.AppendTag(b, fieldErrorInner, protowire.BytesType)
		b = protowire.AppendBytes(b, inner)
	}
	return b, nil
}

func (r *ErrorReport) unmarshalWire(b []byte, depth int) error {
	if depth >= maxErrorDepth {
		return fmt.Errorf("error chain deeper than %d", maxErrorDepth)
	}
	return walkFields(b, func(num protowire.Number, typ protowire.Type, raw []byte) error {
		if typ != protowire.BytesType {
			return nil
		}
		switch num {
		case fieldErrorKind:
			r.Kind = string(raw)
		case fieldErrorMessage:
			r.Message = string(raw)
		case fieldErrorInner:
			inner := new(ErrorReport)
			if err := inner.unmarshalWire(raw, depth+1); err != nil {
				return err
			}
			r.Inner = inner
		}
		return nil
	})
}

// walkFields calls fn for each field in b. Length-delimited fields pass their
// contents as v; other wire types pass nil. Unknown fields are ignored by fn.
func walkFields(b []byte, fn func(num protowire.Number, typ protowire.Type, v []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		var v []byte
		if typ == protowire.BytesType {
			v, n = protowire.ConsumeBytes(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
		} else {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return protowire.ParseError(n)
			}
		}
		if err := fn(num, typ, v); err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}
