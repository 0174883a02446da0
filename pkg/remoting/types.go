package remoting

import (
	"reflect"
	"strconv"
	"strings"
	"sync"
)

// TypeResolver maps a logical type name from the wire to a Go type. It is
// the only way a receiver materializes a type it was not statically
// expecting, so it doubles as an allow-list.
type TypeResolver func(name string) (reflect.Type, bool)

// TypeName returns the logical name of t: the package path and name for
// named types, the plain name for predeclared ones, and the usual Go
// spelling built from those for slices, arrays, pointers and maps.
func TypeName(t reflect.Type) string {
	if t == nil {
		return VoidType
	}
	if t.Name() != "" {
		if t.PkgPath() == "" {
			return t.Name()
		}
		return t.PkgPath() + "." + t.Name()
	}
	switch t.Kind() {
	case reflect.Slice:
		return "[]" + TypeName(t.Elem())
	case reflect.Array:
		return "[" + strconv.Itoa(t.Len()) + "]" + TypeName(t.Elem())
	case reflect.Pointer:
		return "*" + TypeName(t.Elem())
	case reflect.Map:
		return "map[" + TypeName(t.Key()) + "]" + TypeName(t.Elem())
	}
	return t.String()
}

// TypeRegistry is an explicit set of resolvable types. Composite names are
// resolved from their registered element types.
type TypeRegistry struct {
	mu    sync.RWMutex
	types map[string]reflect.Type
}

var predeclared = []reflect.Type{
	reflect.TypeFor[bool](),
	reflect.TypeFor[string](),
	reflect.TypeFor[int](), reflect.TypeFor[int8](), reflect.TypeFor[int16](),
	reflect.TypeFor[int32](), reflect.TypeFor[int64](),
	reflect.TypeFor[uint](), reflect.TypeFor[uint8](), reflect.TypeFor[uint16](),
	reflect.TypeFor[uint32](), reflect.TypeFor[uint64](), reflect.TypeFor[uintptr](),
	reflect.TypeFor[float32](), reflect.TypeFor[float64](),
	reflect.TypeFor[complex64](), reflect.TypeFor[complex128](),
	reflect.TypeFor[any](),
	reflect.TypeFor[error](),
}

// NewTypeRegistry returns a registry holding the predeclared types and types.
func NewTypeRegistry(types ...reflect.Type) *TypeRegistry {
	r := &TypeRegistry{types: make(map[string]reflect.Type)}
	r.Register(predeclared...)
	r.Register(types...)
	return r
}

// RegisterType adds T to r.
func RegisterType[T any](r *TypeRegistry) {
	r.Register(reflect.TypeFor[T]())
}

// Register adds each type and the element types it is built from.
func (r *TypeRegistry) Register(types ...reflect.Type) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range types {
		r.addLocked(t)
	}
}

func (r *TypeRegistry) addLocked(t reflect.Type) {
	if t == nil {
		return
	}
	r.types[TypeName(t)] = t
	if t.Name() != "" {
		return
	}
	switch t.Kind() {
	case reflect.Slice, reflect.Array, reflect.Pointer:
		r.addLocked(t.Elem())
	case reflect.Map:
		r.addLocked(t.Key())
		r.addLocked(t.Elem())
	}
}

// Limits on composite names built from a peer's DataType. Registered names
// always resolve.
const (
	maxTypeNameLength = 1024
	maxTypeDepth      = 8
	maxArrayLength    = 1 << 16
	maxArraySize      = 1 << 20 // bytes
)

// Resolve implements TypeResolver.
func (r *TypeRegistry) Resolve(name string) (reflect.Type, bool) {
	if len(name) > maxTypeNameLength {
		return r.lookup(name)
	}
	return r.resolve(name, 0)
}

func (r *TypeRegistry) lookup(name string) (reflect.Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.types[name]
	return t, ok
}

func (r *TypeRegistry) resolve(name string, depth int) (reflect.Type, bool) {
	if t, ok := r.lookup(name); ok {
		return t, true
	}
	if depth >= maxTypeDepth {
		return nil, false
	}
	return r.parse(name, depth+1)
}

func (r *TypeRegistry) parse(name string, depth int) (reflect.Type, bool) {
	switch {
	case strings.HasPrefix(name, "[]"):
		if elem, ok := r.resolve(name[2:], depth); ok {
			return reflect.SliceOf(elem), true
		}
	case strings.HasPrefix(name, "*"):
		if elem, ok := r.resolve(name[1:], depth); ok {
			return reflect.PointerTo(elem), true
		}
	case strings.HasPrefix(name, "map["):
		end := closingBracket(name, 3)
		if end < 0 {
			return nil, false
		}
		key, ok := r.resolve(name[4:end], depth)
		if !ok || !key.Comparable() {
			return nil, false
		}
		if elem, ok := r.resolve(name[end+1:], depth); ok {
			return reflect.MapOf(key, elem), true
		}
	case strings.HasPrefix(name, "["):
		end := strings.IndexByte(name, ']')
		if end < 0 {
			return nil, false
		}
		n, err := strconv.Atoi(name[1:end])
		if err != nil || n < 0 || n > maxArrayLength {
			return nil, false
		}
		elem, ok := r.resolve(name[end+1:], depth)
		if !ok {
			return nil, false
		}
		// An array is decoded in one allocation, so its size is capped too.
		if size := elem.Size(); size > 0 && uintptr(n) > maxArraySize/size {
			return nil, false
		}
		return reflect.ArrayOf(n, elem), true
	}
	return nil, false
}

// closingBracket returns the index of the ']' matching the '[' at open.
func closingBracket(s string, open int) int {
	depth := 0
	for i := open; i < len(s); i++ {
		switch s[i] {
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
