package model

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/roach88/tablekit/internal/dberr"
	"github.com/roach88/tablekit/internal/schema"
)

// RefState is the state of a Ref.
type RefState int

const (
	RefNull RefState = iota
	RefIdentifier
	RefUnresolved
	RefResolved
)

func (s RefState) String() string {
	switch s {
	case RefIdentifier:
		return "identifier"
	case RefUnresolved:
		return "unresolved"
	case RefResolved:
		return "resolved"
	}
	return "null"
}

// Ref is a foreign key to an entity of type T. The zero value is RefNull.
type Ref[T any] struct {
	id     any
	state  RefState
	entity *T
}

// RefTo returns a reference carrying only id. A nil id gives RefNull.
func RefTo[T any](id any) Ref[T] {
	if id == nil {
		return Ref[T]{}
	}
	return Ref[T]{id: id, state: RefIdentifier}
}

// RefOf returns a resolved reference to e. Its id is read from e's primary
// key on every use, so it is nil until e is saved, either directly or
// through WithNested, and follows e afterwards.
func RefOf[T any](e *T) Ref[T] {
	if e == nil {
		return Ref[T]{}
	}
	return Ref[T]{state: RefResolved, entity: e}
}

// ID returns the referenced identifier, or nil. It never fails.
func (r Ref[T]) ID() any {
	if r.state == RefResolved && r.entity != nil {
		if id := schema.EntityKey(reflect.ValueOf(r.entity)); id != nil {
			return id
		}
	}
	return r.id
}

// State returns the reference state.
func (r Ref[T]) State() RefState { return r.state }

// IsNull reports whether r references nothing.
func (r Ref[T]) IsNull() bool { return r.state == RefNull }

// Entity returns the referenced entity. It fails with
// NESTED_ENTITY_NOT_RESOLVED unless r is resolved.
func (r Ref[T]) Entity() (*T, error) {
	if r.state != RefResolved || r.entity == nil {
		return nil, dberr.New(dberr.CodeNestedNotResolved, "",
			"%s reference %v is %s", reflect.TypeFor[T]().Name(), r.id, r.state)
	}
	return r.entity, nil
}

// Resolve loads the referenced entity through the context's backend. It is
// a no-op for null and already resolved references.
func (r *Ref[T]) Resolve(ctx context.Context, opts ...Option) error {
	if r.state == RefNull || r.state == RefResolved {
		return nil
	}
	repo, err := New[T](opts...)
	if err != nil {
		return err
	}
	return r.resolve(ctx, repo.reg)
}

func (r *Ref[T]) resolve(ctx context.Context, reg *schema.Registry) error {
	if r.state == RefNull || r.state == RefResolved {
		return nil
	}
	repo, err := New[T](WithRegistry(reg))
	if err != nil {
		return err
	}
	e, err := repo.Get(ctx, r.id)
	if err != nil {
		return fmt.Errorf("resolve %s reference: %w", repo.table.Name, err)
	}
	r.entity = e
	r.state = RefResolved
	return nil
}

// saveNested persists a resolved entity and records its id.
func (r *Ref[T]) saveNested(ctx context.Context, reg *schema.Registry, opts []SaveOption) error {
	if r.state != RefResolved || r.entity == nil {
		return nil
	}
	repo, err := New[T](WithRegistry(reg))
	if err != nil {
		return err
	}
	if err := repo.Save(ctx, r.entity, opts...); err != nil {
		return err
	}
	r.id = r.ID()
	return nil
}

// unsaved reports a resolved reference whose entity has no key yet.
func (r Ref[T]) unsaved() bool {
	return r.state == RefResolved && r.ID() == nil
}

// ReferencedType implements schema.Reference.
func (r Ref[T]) ReferencedType() reflect.Type { return reflect.TypeFor[T]() }

// RefID implements schema.Reference.
func (r Ref[T]) RefID() any { return r.ID() }

// SetRefID implements schema.ReferenceSetter. It is called when a row is
// loaded, so the reference becomes an unresolved placeholder.
func (r *Ref[T]) SetRefID(id any) {
	r.entity = nil
	r.id = id
	if id == nil {
		r.state = RefNull
		return
	}
	r.state = RefUnresolved
}

// MarshalJSON encodes the reference as its identifier.
func (r Ref[T]) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.ID())
}

// UnmarshalJSON decodes an identifier into an unresolved reference.
func (r *Ref[T]) UnmarshalJSON(data []byte) error {
	var id any
	if err := json.Unmarshal(data, &id); err != nil {
		return err
	}
	if f, ok := id.(float64); ok && f == float64(int64(f)) {
		id = int64(f)
	}
	r.SetRefID(id)
	return nil
}

// refField is implemented by *Ref[T] for every T, so a Repo can walk
// reference fields without knowing their types.
type refField interface {
	resolve(ctx context.Context, reg *schema.Registry) error
	saveNested(ctx context.Context, reg *schema.Registry, opts []SaveOption) error
}

// pendingRef is implemented by Ref[T] and *Ref[T] for every T.
type pendingRef interface {
	schema.Reference
	unsaved() bool
}

var (
	_ refField   = (*Ref[struct{}])(nil)
	_ pendingRef = Ref[struct{}]{}
)
