package model

import (
	"context"
	"fmt"
	"reflect"
	"unicode/utf8"

	"github.com/roach88/tablekit/internal/backend"
	"github.com/roach88/tablekit/internal/dberr"
	"github.com/roach88/tablekit/internal/schema"
	"github.com/roach88/tablekit/internal/txn"
)

// Key is a primary key by column (or field) name. Single-column keys may
// also be passed as a bare value.
type Key map[string]any

// Values are column changes for UpdateRecord.
type Values map[string]any

// Filter selects rows: a scalar means equality, a slice means IN, nil
// means IS NULL.
type Filter = backend.Filter

// Option configures a Repo.
type Option func(*options)

type options struct {
	reg   *schema.Registry
	table string
}

// WithRegistry uses reg instead of schema.Default.
func WithRegistry(reg *schema.Registry) Option {
	return func(o *options) { o.reg = reg }
}

// WithTable registers the entity type under name before use.
func WithTable(name string) Option {
	return func(o *options) { o.table = name }
}

// SaveOption configures Create and Save.
type SaveOption func(*saveOptions)

type saveOptions struct {
	nested bool
}

// WithNested saves resolved referenced entities first, inside the same
// transaction, and writes their ids.
func WithNested() SaveOption {
	return func(o *saveOptions) { o.nested = true }
}

// Repo runs CRUD operations for entities of type T.
//
// Thread-safety: a Repo holds no mutable state and is safe for concurrent
// use.
type Repo[T any] struct {
	reg   *schema.Registry
	table *schema.Table
}

// New returns the repository for T. T must be registered, implement
// schema.Tabler, or be given a table with WithTable.
func New[T any](opts ...Option) (*Repo[T], error) {
	o := options{reg: schema.Default}
	for _, opt := range opts {
		opt(&o)
	}

	var (
		t   *schema.Table
		err error
	)
	if o.table != "" {
		t, err = schema.Register[T](o.reg, o.table)
	} else {
		t, err = schema.For[T](o.reg)
	}
	if err != nil {
		return nil, err
	}
	return &Repo[T]{reg: o.reg, table: t}, nil
}

// MustNew is New that panics on error.
func MustNew[T any](opts ...Option) *Repo[T] {
	r, err := New[T](opts...)
	if err != nil {
		panic(err)
	}
	return r
}

// Table returns the table descriptor.
func (r *Repo[T]) Table() *schema.Table { return r.table }

// Create inserts e and applies generated values onto it.
func (r *Repo[T]) Create(ctx context.Context, e *T, opts ...SaveOption) error {
	so := saveOpts(opts)
	return txn.Do(ctx, func(ctx context.Context) error {
		b, err := backend.FromContext(ctx)
		if err != nil {
			return err
		}
		if err := r.prepare(ctx, e, so, opts); err != nil {
			return err
		}
		return r.insert(ctx, b, e)
	})
}

// Save inserts e if it is new and updates it otherwise. An entity is new
// when its generated key is unset, or when no row has its key.
func (r *Repo[T]) Save(ctx context.Context, e *T, opts ...SaveOption) error {
	so := saveOpts(opts)
	return txn.Do(ctx, func(ctx context.Context) error {
		b, err := backend.FromContext(ctx)
		if err != nil {
			return err
		}
		if err := r.prepare(ctx, e, so, opts); err != nil {
			return err
		}
		if r.isNew(e) {
			return r.insert(ctx, b, e)
		}

		key, err := r.keyOf(e)
		if err != nil {
			return err
		}
		refreshed, err := b.Update(ctx, r.table, key, r.changes(e))
		if dberr.IsNotFound(err) {
			return r.insert(ctx, b, e)
		}
		if err != nil {
			return err
		}
		return r.apply(e, refreshed)
	})
}

// Get returns the entity with the given key, or NOT_FOUND.
func (r *Repo[T]) Get(ctx context.Context, key any) (*T, error) {
	return txn.Run(ctx, true, func(ctx context.Context) (*T, error) {
		return r.get(ctx, key)
	})
}

// GetWithRefs is Get followed by resolving every reference field of the
// entity. Resolution is one level deep.
func (r *Repo[T]) GetWithRefs(ctx context.Context, key any) (*T, error) {
	return txn.Run(ctx, true, func(ctx context.Context) (*T, error) {
		e, err := r.get(ctx, key)
		if err != nil {
			return nil, err
		}
		if err := r.resolveRefs(ctx, e); err != nil {
			return nil, err
		}
		return e, nil
	})
}

// GetList returns the entities matching f in insertion order.
func (r *Repo[T]) GetList(ctx context.Context, f Filter) ([]*T, error) {
	return txn.Run(ctx, true, func(ctx context.Context) ([]*T, error) {
		b, err := backend.FromContext(ctx)
		if err != nil {
			return nil, err
		}
		f, err := r.reduceFilter(f)
		if err != nil {
			return nil, err
		}
		rows, err := b.GetList(ctx, r.table, f)
		if err != nil {
			return nil, err
		}
		return r.decodeAll(rows)
	})
}

// CreateList inserts every entity in one batch. Nothing is written if any
// row fails.
func (r *Repo[T]) CreateList(ctx context.Context, es []*T) error {
	return txn.Do(ctx, func(ctx context.Context) error {
		b, err := backend.FromContext(ctx)
		if err != nil {
			return err
		}
		rows := make([]backend.Row, len(es))
		for i, e := range es {
			if err := r.validate(e); err != nil {
				return err
			}
			rows[i] = r.insertRow(e)
		}
		generated, err := b.CreateBatch(ctx, r.table, rows)
		if err != nil {
			return err
		}
		for i, e := range es {
			if err := r.apply(e, generated[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// UpdateRecord changes columns of the row with the given key without
// loading it.
func (r *Repo[T]) UpdateRecord(ctx context.Context, key any, changes Values) error {
	return txn.Do(ctx, func(ctx context.Context) error {
		b, err := backend.FromContext(ctx)
		if err != nil {
			return err
		}
		k, err := r.keyRow(key)
		if err != nil {
			return err
		}
		set, err := r.reduceChanges(changes)
		if err != nil {
			return err
		}
		_, err = b.Update(ctx, r.table, k, set)
		return err
	})
}

// Update applies changes to every row matching f and returns the updated
// entities in insertion order. Matching nothing is not an error.
func (r *Repo[T]) Update(ctx context.Context, f Filter, changes Values) ([]*T, error) {
	return txn.Run(ctx, false, func(ctx context.Context) ([]*T, error) {
		b, err := backend.FromContext(ctx)
		if err != nil {
			return nil, err
		}
		f, err := r.reduceFilter(f)
		if err != nil {
			return nil, err
		}
		set, err := r.reduceChanges(changes)
		if err != nil {
			return nil, err
		}
		rows, err := b.UpdateWhere(ctx, r.table, f, set)
		if err != nil {
			return nil, err
		}
		return r.decodeAll(rows)
	})
}

// DeleteRecords deletes every row matching f. Matching nothing is not an
// error.
func (r *Repo[T]) DeleteRecords(ctx context.Context, f Filter) error {
	return txn.Do(ctx, func(ctx context.Context) error {
		b, err := backend.FromContext(ctx)
		if err != nil {
			return err
		}
		f, err := r.reduceFilter(f)
		if err != nil {
			return err
		}
		return b.DeleteWhere(ctx, r.table, f)
	})
}

// Delete deletes the row of e.
func (r *Repo[T]) Delete(ctx context.Context, e *T) error {
	return txn.Do(ctx, func(ctx context.Context) error {
		b, err := backend.FromContext(ctx)
		if err != nil {
			return err
		}
		key, err := r.keyOf(e)
		if err != nil {
			return err
		}
		return b.Delete(ctx, r.table, key)
	})
}

// Fetch overwrites e with its persisted row, discarding unsaved changes.
func (r *Repo[T]) Fetch(ctx context.Context, e *T) error {
	return r.fetch(ctx, e, false)
}

// FetchWithRefs is Fetch followed by resolving every reference field.
func (r *Repo[T]) FetchWithRefs(ctx context.Context, e *T) error {
	return r.fetch(ctx, e, true)
}

func (r *Repo[T]) fetch(ctx context.Context, e *T, refs bool) error {
	return txn.DoConditional(ctx, func(ctx context.Context) error {
		key, err := r.keyOf(e)
		if err != nil {
			return err
		}
		fresh, err := r.get(ctx, Key(key))
		if err != nil {
			return err
		}
		if refs {
			if err := r.resolveRefs(ctx, fresh); err != nil {
				return err
			}
		}
		*e = *fresh
		return nil
	})
}

// Select runs a raw query and decodes the rows as entities. Columns the
// table does not declare are ignored. The backend must implement
// backend.Raw.
func (r *Repo[T]) Select(ctx context.Context, stmt string, args ...any) ([]*T, error) {
	return txn.Run(ctx, true, func(ctx context.Context) ([]*T, error) {
		b, err := backend.FromContext(ctx)
		if err != nil {
			return nil, err
		}
		raw, ok := b.(backend.Raw)
		if !ok {
			return nil, dberr.Misconfigured(r.table.Name, "backend %s does not support raw queries", b.Name())
		}
		rows, err := raw.Query(ctx, stmt, args...)
		if err != nil {
			return nil, err
		}
		return r.decodeAll(rows)
	})
}

func (r *Repo[T]) get(ctx context.Context, key any) (*T, error) {
	b, err := backend.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	k, err := r.keyRow(key)
	if err != nil {
		return nil, err
	}
	row, err := b.Get(ctx, r.table, k)
	if err != nil {
		return nil, err
	}
	return r.decode(row)
}

func (r *Repo[T]) insert(ctx context.Context, b backend.Backend, e *T) error {
	generated, err := b.Create(ctx, r.table, r.insertRow(e))
	if err != nil {
		return err
	}
	return r.apply(e, generated)
}

// prepare cascades nested saves when asked, then validates e.
func (r *Repo[T]) prepare(ctx context.Context, e *T, so saveOptions, opts []SaveOption) error {
	if e == nil {
		return dberr.New(dberr.CodeInvalidFieldValue, r.table.Name, "nil entity")
	}
	if so.nested {
		if err := r.eachRef(e, func(c schema.Column, ref refField) error {
			if err := ref.saveNested(ctx, r.reg, opts); err != nil {
				return fmt.Errorf("save nested %s: %w", c.Name, err)
			}
			return nil
		}); err != nil {
			return err
		}
	}
	return r.validate(e)
}

func (r *Repo[T]) resolveRefs(ctx context.Context, e *T) error {
	return r.eachRef(e, func(c schema.Column, ref refField) error {
		return ref.resolve(ctx, r.reg)
	})
}

// eachRef calls fn for every Ref field of e, in column order.
func (r *Repo[T]) eachRef(e *T, fn func(c schema.Column, ref refField) error) error {
	v := reflect.ValueOf(e).Elem()
	for _, c := range r.table.RefColumns() {
		ref, ok := v.FieldByIndex(c.Index).Addr().Interface().(refField)
		if !ok {
			continue
		}
		if err := fn(c, ref); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repo[T]) isNew(e *T) bool {
	gen, ok := r.table.GeneratedKey()
	if !ok {
		return false
	}
	return schema.IsZero(reflect.ValueOf(e).Elem().FieldByIndex(gen.Index).Interface())
}

// insertRow returns the row for e. Unset managed columns are left out so
// the backend generates them.
func (r *Repo[T]) insertRow(e *T) backend.Row {
	v := reflect.ValueOf(e).Elem()
	row := make(backend.Row, len(r.table.Columns))
	for _, c := range r.table.Columns {
		fv := v.FieldByIndex(c.Index).Interface()
		if c.Managed() && schema.IsZero(fv) {
			continue
		}
		row[c.Name] = fv
	}
	return row
}

// changes returns every column an update may set.
func (r *Repo[T]) changes(e *T) backend.Row {
	v := reflect.ValueOf(e).Elem()
	row := backend.Row{}
	for _, c := range r.table.Columns {
		if c.PrimaryKey || c.Managed() {
			continue
		}
		row[c.Name] = v.FieldByIndex(c.Index).Interface()
	}
	return row
}

func (r *Repo[T]) keyOf(e *T) (backend.Row, error) {
	if e == nil {
		return nil, dberr.InvalidQuery(r.table.Name, "nil entity")
	}
	v := reflect.ValueOf(e).Elem()
	key := make(backend.Row, len(r.table.PrimaryKey))
	for _, c := range r.table.KeyColumns() {
		fv := v.FieldByIndex(c.Index).Interface()
		if c.FetchOnCreate && schema.IsZero(fv) {
			return nil, dberr.InvalidQuery(r.table.Name, "entity has no value for primary key %q", c.Name).WithFields(c.Name)
		}
		key[c.Name] = fv
	}
	return key, nil
}

// keyRow converts a caller key: a Key or map, a *T, or a bare value for
// single-column keys.
func (r *Repo[T]) keyRow(key any) (backend.Row, error) {
	switch k := key.(type) {
	case Key:
		return backend.Row(k), nil
	case map[string]any:
		return backend.Row(k), nil
	case backend.Row:
		return k, nil
	case *T:
		return r.keyOf(k)
	}
	if len(r.table.PrimaryKey) != 1 {
		return nil, dberr.InvalidQuery(r.table.Name, "composite primary key %v requires a model.Key", r.table.PrimaryKey)
	}
	return backend.Row{r.table.PrimaryKey[0]: key}, nil
}

func (r *Repo[T]) validate(e *T) error {
	v := reflect.ValueOf(e).Elem()
	for _, c := range r.table.Columns {
		fv := v.FieldByIndex(c.Index).Interface()
		if c.Managed() && schema.IsZero(fv) {
			continue
		}
		if c.Required && schema.IsZero(fv) {
			return dberr.New(dberr.CodeInvalidFieldValue, r.table.Name, "%s is required", c.Field).WithFields(c.Name)
		}
		if ref, ok := fv.(pendingRef); ok && ref.unsaved() {
			return dberr.New(dberr.CodeInvalidFieldValue, r.table.Name, "%s references a %s that has not been saved", c.Field, c.Ref.Name()).WithFields(c.Name)
		}
		if c.Kind == schema.KindRef && !c.Nullable && schema.IsZero(fv) {
			return dberr.New(dberr.CodeInvalidFieldValue, r.table.Name, "%s must reference a persisted %s", c.Field, c.Ref.Name()).WithFields(c.Name)
		}
		if err := r.checkValue(c, fv); err != nil {
			return err
		}
	}
	return nil
}

// checkValue enforces size limits and UUID syntax.
func (r *Repo[T]) checkValue(c schema.Column, v any) error {
	norm, err := c.Normalize(v)
	if err != nil {
		return dberr.Wrap(dberr.CodeInvalidFieldValue, r.table.Name, err, "invalid value for %s", c.Name).WithFields(c.Name)
	}
	s, ok := norm.(string)
	if !ok {
		return nil
	}
	if c.MaxLength > 0 && utf8.RuneCountInString(s) > c.MaxLength {
		return dberr.New(dberr.CodeInvalidFieldValue, r.table.Name,
			"%s is longer than %d characters", c.Name, c.MaxLength).WithFields(c.Name)
	}
	kind := c.Kind
	if kind == schema.KindRef {
		kind = c.RefKind
	}
	if kind == schema.KindUUID && s != "" && !schema.ValidUUID(s) {
		return dberr.New(dberr.CodeInvalidFieldValue, r.table.Name, "%s is not a valid UUID: %q", c.Name, s).WithFields(c.Name)
	}
	return nil
}

// refID reduces v to an identifier when it is a Ref, or an entity (or
// pointer to one) of the type column c references. A reference to an
// entity that has not been saved is an error, not NULL.
func (r *Repo[T]) refID(c schema.Column, v any, code dberr.Code) (any, bool, error) {
	if c.Kind != schema.KindRef || v == nil {
		return nil, false, nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer && rv.IsNil() {
		return nil, false, nil
	}
	if ref, ok := v.(pendingRef); ok {
		if ref.ReferencedType() != c.Ref {
			return nil, false, nil
		}
		if ref.unsaved() {
			return nil, true, dberr.New(code, r.table.Name,
				"%s references a %s that has not been saved", c.Name, c.Ref.Name()).WithFields(c.Name)
		}
		return ref.RefID(), true, nil
	}

	if rv.Kind() == reflect.Pointer {
		rv = rv.Elem()
	}
	if rv.Type() != c.Ref {
		return nil, false, nil
	}
	id := schema.EntityKey(rv)
	if id == nil {
		return nil, true, dberr.New(code, r.table.Name,
			"%s references a %s that has not been saved", c.Name, c.Ref.Name()).WithFields(c.Name)
	}
	return id, true, nil
}

// reduceChanges checks update values and replaces references and entities
// with their ids.
func (r *Repo[T]) reduceChanges(changes Values) (backend.Row, error) {
	set := make(backend.Row, len(changes))
	for name, v := range changes {
		if c, ok := r.table.Resolve(name); ok {
			id, isRef, err := r.refID(c, v, dberr.CodeInvalidFieldValue)
			if err != nil {
				return nil, err
			}
			if isRef {
				v = id
			}
			if err := r.checkValue(c, v); err != nil {
				return nil, err
			}
		}
		set[name] = v
	}
	return set, nil
}

// reduceFilter replaces references and entities in reference filters with
// their ids.
func (r *Repo[T]) reduceFilter(f Filter) (Filter, error) {
	if len(f) == 0 {
		return f, nil
	}
	out := make(Filter, len(f))
	for name, v := range f {
		out[name] = v
		c, ok := r.table.Resolve(name)
		if !ok || c.Kind != schema.KindRef || v == nil {
			continue
		}
		id, isRef, err := r.refID(c, v, dberr.CodeInvalidQuery)
		if err != nil {
			return nil, err
		}
		if isRef {
			out[name] = id
			continue
		}
		rv := reflect.ValueOf(v)
		if rv.Kind() != reflect.Slice || rv.Type().Elem().Kind() == reflect.Uint8 {
			continue
		}
		ids := make([]any, rv.Len())
		for i := range ids {
			elem := rv.Index(i).Interface()
			id, isRef, err := r.refID(c, elem, dberr.CodeInvalidQuery)
			if err != nil {
				return nil, err
			}
			if isRef {
				elem = id
			}
			ids[i] = elem
		}
		out[name] = ids
	}
	return out, nil
}

// apply assigns backend-returned values onto e.
func (r *Repo[T]) apply(e *T, values backend.Row) error {
	v := reflect.ValueOf(e).Elem()
	for name, val := range values {
		c, ok := r.table.Column(name)
		if !ok {
			continue
		}
		if err := c.Assign(v.FieldByIndex(c.Index), val); err != nil {
			return dberr.Wrap(dberr.CodeInvalidFieldValue, r.table.Name, err, "apply %s", c.Name).WithFields(c.Name)
		}
	}
	return nil
}

func (r *Repo[T]) decode(row backend.Row) (*T, error) {
	e := new(T)
	if err := r.apply(e, row); err != nil {
		return nil, err
	}
	return e, nil
}

func (r *Repo[T]) decodeAll(rows []backend.Row) ([]*T, error) {
	out := make([]*T, 0, len(rows))
	for _, row := range rows {
		e, err := r.decode(row)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func saveOpts(opts []SaveOption) saveOptions {
	var so saveOptions
	for _, opt := range opts {
		opt(&so)
	}
	return so
}
