package serializer

import (
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

var ErrUnknownType = errors.New("unknown event type")

// Mapper maps payload values to stable type names and back.
type Mapper interface {
	// TypeName is the name stored with an event carrying v.
	TypeName(v any) (string, error)
	// New returns a pointer to a zero value of the type registered as name.
	New(name string) (any, error)
}

// Raw carries a payload whose type is not registered. It is written back unchanged.
type Raw struct {
	Type string
	Data []byte
}

func (r Raw) MarshalJSON() ([]byte, error) {
	if len(r.Data) == 0 {
		return []byte("null"), nil
	}
	return r.Data, nil
}

func (r *Raw) UnmarshalJSON(data []byte) error {
	r.Data = append(r.Data[:0], data...)
	return nil
}

type Registry struct {
	lock   sync.RWMutex
	names  map[reflect.Type]string
	types  map[string]reflect.Type
	rawOut bool
}

type RegistryOption func(*Registry)

// AllowRaw makes unregistered type names decode into *Raw instead of failing.
func AllowRaw() RegistryOption {
	return func(r *Registry) {
		r.rawOut = true
	}
}

func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		names: make(map[reflect.Type]string),
		types: make(map[string]reflect.Type),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register maps T to name. Values and pointers of T both map to name, decoding yields a *T.
func Register[T any](r *Registry, name string) error {
	t := reflect.TypeOf((*T)(nil)).Elem()
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if name == "" {
		return errors.Errorf("registering %s: empty type name", t)
	}
	r.lock.Lock()
	defer r.lock.Unlock()
	if existing, ok := r.types[name]; ok && existing != t {
		return errors.Errorf("type name %q is already registered for %s", name, existing)
	}
	if existing, ok := r.names[t]; ok && existing != name {
		return errors.Errorf("%s is already registered as %q", t, existing)
	}
	r.names[t] = name
	r.types[name] = t
	return nil
}

func (r *Registry) TypeName(v any) (string, error) {
	switch raw := v.(type) {
	case Raw:
		return raw.Type, nil
	case *Raw:
		return raw.Type, nil
	}
	t := reflect.TypeOf(v)
	if t == nil {
		return "", errors.WithMessage(ErrUnknownType, "nil payload")
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	r.lock.RLock()
	name, ok := r.names[t]
	r.lock.RUnlock()
	if !ok {
		return "", errors.WithMessage(ErrUnknownType, t.String())
	}
	return name, nil
}

func (r *Registry) New(name string) (any, error) {
	r.lock.RLock()
	t, ok := r.types[name]
	r.lock.RUnlock()
	if ok {
		return reflect.New(t).Interface(), nil
	}
	if r.rawOut {
		return &Raw{Type: name}, nil
	}
	return nil, errors.WithMessage(ErrUnknownType, fmt.Sprintf("%q", name))
}

// Names lists the registered type names in sorted order.
func (r *Registry) Names() []string {
	r.lock.RLock()
	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	r.lock.RUnlock()
	sort.Strings(names)
	return names
}

// Value returns what the pointer p, as handed out by Mapper.New, points to.
func Value(p any) any {
	v := reflect.ValueOf(p)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return p
	}
	return v.Elem().Interface()
}
