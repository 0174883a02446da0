package remoting

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
)

var (
	contextType = reflect.TypeFor[context.Context]()
	errorType   = reflect.TypeFor[error]()
)

// Method is one remotely callable member of a capability interface.
type Method struct {
	Name      string
	Signature string

	index        int
	takesContext bool
	params       []reflect.Type
	variadic     bool
	result       reflect.Type
	returnsError bool
}

// Params returns the marshaled parameter types, without a leading context.
// A variadic parameter is reported as its slice type.
func (m *Method) Params() []reflect.Type { return m.params }

// Result returns the result type, or nil for methods without a value.
func (m *Method) Result() reflect.Type { return m.result }

// MethodRegistry maps wire signatures to the methods of one capability
// interface. Methods promoted from embedded interfaces are included; when
// two paths reach the same signature the first one kept wins.
type MethodRegistry struct {
	iface  reflect.Type
	bySig  map[string]*Method
	byName map[string]*Method
}

// RegistryFor builds the registry for the interface type T.
func RegistryFor[T any]() (*MethodRegistry, error) {
	return NewMethodRegistry(reflect.TypeFor[T]())
}

// NewMethodRegistry builds the registry for iface, which must be an
// interface type whose methods optionally take a leading context.Context
// and return at most one value followed by an optional error.
func NewMethodRegistry(iface reflect.Type) (*MethodRegistry, error) {
	if iface == nil || iface.Kind() != reflect.Interface {
		return nil, fmt.Errorf("capability type %v is not an interface", iface)
	}
	r := &MethodRegistry{
		iface:  iface,
		bySig:  make(map[string]*Method),
		byName: make(map[string]*Method),
	}
	// The interface method set already includes everything promoted from
	// embedded interfaces, with diamonds collapsed.
	for i := 0; i < iface.NumMethod(); i++ {
		m, err := newMethod(i, iface.Method(i))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", iface, err)
		}
		if _, dup := r.bySig[m.Signature]; dup {
			continue
		}
		r.bySig[m.Signature] = m
		r.byName[m.Name] = m
	}
	return r, nil
}

func newMethod(index int, rm reflect.Method) (*Method, error) {
	ft := rm.Type
	m := &Method{Name: rm.Name, index: index, variadic: ft.IsVariadic()}
	for i := 0; i < ft.NumIn(); i++ {
		p := ft.In(i)
		if i == 0 && p == contextType {
			m.takesContext = true
			continue
		}
		m.params = append(m.params, p)
	}
	switch n := ft.NumOut(); {
	case n == 0:
	case n == 1 && ft.Out(0) == errorType:
		m.returnsError = true
	case n == 1:
		m.result = ft.Out(0)
	case n == 2 && ft.Out(1) == errorType:
		m.result = ft.Out(0)
		m.returnsError = true
	default:
		return nil, fmt.Errorf("method %s: results must be at most one value and an optional error", rm.Name)
	}
	m.Signature = signature(m)
	return m, nil
}

// signature renders "Result Name(P1, P2, ...V)", with "void" for methods
// without a value.
func signature(m *Method) string {
	var b strings.Builder
	if m.result == nil {
		b.WriteString(VoidType)
	} else {
		b.WriteString(m.result.String())
	}
	b.WriteByte(' ')
	b.WriteString(m.Name)
	b.WriteByte('(')
	for i, p := range m.params {
		if i > 0 {
			b.WriteString(", ")
		}
		if m.variadic && i == len(m.params)-1 {
			b.WriteString("...")
			b.WriteString(p.Elem().String())
			continue
		}
		b.WriteString(p.String())
	}
	b.WriteByte(')')
	return b.String()
}

// Interface returns the capability interface type.
func (r *MethodRegistry) Interface() reflect.Type { return r.iface }

// Lookup finds a method by wire signature.
func (r *MethodRegistry) Lookup(sig string) (*Method, bool) {
	m, ok := r.bySig[sig]
	return m, ok
}

// ByName finds a method by Go name.
func (r *MethodRegistry) ByName(name string) (*Method, bool) {
	m, ok := r.byName[name]
	return m, ok
}

// Methods returns all methods ordered by name.
func (r *MethodRegistry) Methods() []*Method {
	out := make([]*Method, 0, len(r.bySig))
	for _, m := range r.bySig {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Types returns every parameter and result type used by the interface.
func (r *MethodRegistry) Types() []reflect.Type {
	var out []reflect.Type
	for _, m := range r.bySig {
		out = append(out, m.params...)
		if m.result != nil {
			out = append(out, m.result)
		}
	}
	return out
}

// call invokes m on target. Errors returned and panics raised by the method
// both come back as err.
func (m *Method) call(ctx context.Context, target reflect.Value, args []reflect.Value) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError(r)
		}
	}()
	in := make([]reflect.Value, 0, len(args)+1)
	if m.takesContext {
		in = append(in, reflect.ValueOf(ctx))
	}
	in = append(in, args...)
	fn := target.Method(m.index)
	var res []reflect.Value
	if m.variadic {
		res = fn.CallSlice(in)
	} else {
		res = fn.Call(in)
	}
	if m.returnsError {
		if e := res[len(res)-1]; !e.IsNil() {
			err = e.Interface().(error)
		}
		res = res[:len(res)-1]
	}
	if m.result != nil {
		out = res[0].Interface()
	}
	return out, err
}
