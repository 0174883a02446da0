package remoting

import (
	"encoding/json"
	"fmt"
	"reflect"

	"google.golang.org/protobuf/proto"
	"gopkg.in/yaml.v3"
)

// Serializer encodes argument and result payloads. The envelope around
// them is fixed; only payload bytes go through a Serializer.
type Serializer interface {
	Serialize(v any, t reflect.Type) ([]byte, error)
	Deserialize(b []byte, t reflect.Type) (any, error)
}

// SerializerID returns the identity written next to every payload s
// produces. A serializer may name itself with a SerializerID() string
// method; otherwise its qualified type name is used. The nil serializer
// (native encoding) has the empty identity.
func SerializerID(s Serializer) string {
	if s == nil {
		return ""
	}
	if named, ok := s.(interface{ SerializerID() string }); ok {
		return named.SerializerID()
	}
	t := reflect.TypeOf(s)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.PkgPath() + "." + t.Name()
}

// nativeSerializer encodes payloads when no user serializer is configured.
type nativeSerializer struct{}

func (nativeSerializer) Serialize(v any, _ reflect.Type) ([]byte, error) { return json.Marshal(v) }

func (nativeSerializer) Deserialize(b []byte, t reflect.Type) (any, error) {
	p := reflect.New(t)
	if err := json.Unmarshal(b, p.Interface()); err != nil {
		return nil, err
	}
	return p.Elem().Interface(), nil
}

// JSONSerializer encodes payloads as JSON.
type JSONSerializer struct{}

func (JSONSerializer) SerializerID() string { return "json" }

func (JSONSerializer) Serialize(v any, t reflect.Type) ([]byte, error) {
	return nativeSerializer{}.Serialize(v, t)
}

func (JSONSerializer) Deserialize(b []byte, t reflect.Type) (any, error) {
	return nativeSerializer{}.Deserialize(b, t)
}

// YAMLSerializer encodes payloads as YAML documents.
type YAMLSerializer struct{}

func (YAMLSerializer) SerializerID() string { return "yaml" }

func (YAMLSerializer) Serialize(v any, _ reflect.Type) ([]byte, error) { return yaml.Marshal(v) }

func (YAMLSerializer) Deserialize(b []byte, t reflect.Type) (any, error) {
	p := reflect.New(t)
	if err := yaml.Unmarshal(b, p.Interface()); err != nil {
		return nil, err
	}
	return p.Elem().Interface(), nil
}

// ProtoSerializer encodes protobuf messages in their binary wire format.
// Every argument and result must be a proto.Message.
type ProtoSerializer struct{}

func (ProtoSerializer) SerializerID() string { return "proto" }

func (ProtoSerializer) Serialize(v any, _ reflect.Type) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	m, ok := v.(proto.Message)
	if !ok {
		return nil, fmt.Errorf("%T is not a proto.Message", v)
	}
	if rv := reflect.ValueOf(v); rv.Kind() == reflect.Pointer && rv.IsNil() {
		return nil, nil
	}
	b, err := proto.Marshal(m)
	if err != nil {
		return nil, err
	}
	if b == nil {
		b = []byte{}
	}
	return b, nil
}

func (ProtoSerializer) Deserialize(b []byte, t reflect.Type) (any, error) {
	if t.Kind() != reflect.Pointer {
		return nil, fmt.Errorf("%s is not a proto message pointer", t)
	}
	if b == nil {
		return reflect.Zero(t).Interface(), nil
	}
	m, ok := reflect.New(t.Elem()).Interface().(proto.Message)
	if !ok {
		return nil, fmt.Errorf("%s is not a proto.Message", t)
	}
	if err := proto.Unmarshal(b, m); err != nil {
		return nil, err
	}
	return m, nil
}

// ParseSerializer maps a configuration name to a Serializer; "native" and
// the empty string select the native encoding.
func ParseSerializer(name string) (Serializer, error) {
	switch name {
	case "", "native":
		return nil, nil
	case "json":
		return JSONSerializer{}, nil
	case "yaml":
		return YAMLSerializer{}, nil
	case "proto":
		return ProtoSerializer{}, nil
	}
	return nil, fmt.Errorf("unknown serializer %q", name)
}
