package schema

import (
	"reflect"
	"sort"
	"sync"

	"github.com/roach88/tablekit/internal/dberr"
)

// Tabler is implemented by entity types that name their own table. Such
// types register themselves on first use.
type Tabler interface {
	TableName() string
}

// Registry maps entity types to table descriptors.
//
// Thread-safety: all methods are safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	tables map[reflect.Type]*Table
}

// Default is the process-wide registry used when no other is supplied.
var Default = NewRegistry()

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tables: make(map[reflect.Type]*Table)}
}

// Register binds typ to the named table. Registering the same type under
// the same name again returns the existing descriptor; a different name
// fails with CONFLICTING_REGISTRATION.
func (r *Registry) Register(typ reflect.Type, name string) (*Table, error) {
	typ = indirect(typ)

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.tables[typ]; ok {
		if existing.Name == name {
			return existing, nil
		}
		return nil, dberr.New(dberr.CodeConflictingRegistration, name,
			"%s is already registered as table %q", typ, existing.Name)
	}

	t, err := Build(typ, name)
	if err != nil {
		return nil, err
	}
	r.tables[typ] = t
	return t, nil
}

// Register binds T to the named table in r.
func Register[T any](r *Registry, name string) (*Table, error) {
	return r.Register(reflect.TypeOf((*T)(nil)).Elem(), name)
}

// MustRegister is like Register but panics on error. Intended for package
// level var declarations.
func MustRegister[T any](r *Registry, name string) *Table {
	t, err := Register[T](r, name)
	if err != nil {
		panic(err)
	}
	return t
}

// Lookup returns the table registered for typ.
func (r *Registry) Lookup(typ reflect.Type) (*Table, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tables[indirect(typ)]
	return t, ok
}

// TableFor returns the table for typ, registering it first when typ
// implements Tabler.
func (r *Registry) TableFor(typ reflect.Type) (*Table, error) {
	typ = indirect(typ)
	if t, ok := r.Lookup(typ); ok {
		return t, nil
	}
	if tabler, ok := reflect.New(typ).Interface().(Tabler); ok {
		return r.Register(typ, tabler.TableName())
	}
	return nil, dberr.Misconfigured("", "%s is not registered", typ)
}

// For returns the table for T. See TableFor.
func For[T any](r *Registry) (*Table, error) {
	return r.TableFor(reflect.TypeOf((*T)(nil)).Elem())
}

// Tables returns all registered tables sorted by name.
func (r *Registry) Tables() []*Table {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tables := make([]*Table, 0, len(r.tables))
	for _, t := range r.tables {
		tables = append(tables, t)
	}
	sort.Slice(tables, func(i, j int) bool {
		return tables[i].Name < tables[j].Name
	})
	return tables
}

func indirect(typ reflect.Type) reflect.Type {
	for typ.Kind() == reflect.Pointer {
		typ = typ.Elem()
	}
	return typ
}
