package schema

import (
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/go-openapi/strfmt"

	"github.com/roach88/tablekit/internal/dberr"
)

// Reference is implemented by foreign-key field types. RefID returns the
// referenced identifier, or nil when the reference is empty.
type Reference interface {
	ReferencedType() reflect.Type
	RefID() any
}

// ReferenceSetter is implemented by pointers to Reference types so rows can
// be loaded into them.
type ReferenceSetter interface {
	SetRefID(id any)
}

// Table is the immutable descriptor of one table.
type Table struct {
	Name       string
	Type       reflect.Type // nil for tables built with NewTable
	Columns    []Column
	PrimaryKey []string

	byName  map[string]int
	byField map[string]int
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// NewTable builds a table descriptor from explicit columns.
func NewTable(name string, cols ...Column) (*Table, error) {
	t := &Table{
		Name:    name,
		Columns: append([]Column(nil), cols...),
		byName:  make(map[string]int, len(cols)),
		byField: make(map[string]int, len(cols)),
	}
	if err := t.index(); err != nil {
		return nil, err
	}
	return t, nil
}

// MustTable is like NewTable but panics on error.
func MustTable(name string, cols ...Column) *Table {
	t, err := NewTable(name, cols...)
	if err != nil {
		panic(err)
	}
	return t
}

// index validates the columns and builds the lookup maps.
func (t *Table) index() error {
	if !identifierPattern.MatchString(t.Name) {
		return dberr.Misconfigured(t.Name, "invalid table name %q", t.Name)
	}
	if len(t.Columns) == 0 {
		return dberr.Misconfigured(t.Name, "table has no columns")
	}

	createdKeys := 0
	for i, c := range t.Columns {
		if !identifierPattern.MatchString(c.Name) {
			return dberr.Misconfigured(t.Name, "invalid column name %q", c.Name).WithFields(c.Name)
		}
		if _, dup := t.byName[c.Name]; dup {
			return dberr.Misconfigured(t.Name, "duplicate column %q", c.Name).WithFields(c.Name)
		}
		t.byName[c.Name] = i
		if c.Field != "" {
			t.byField[c.Field] = i
		}

		if c.PrimaryKey {
			t.PrimaryKey = append(t.PrimaryKey, c.Name)
			if c.Nullable {
				return dberr.Misconfigured(t.Name, "primary key %q cannot be nullable", c.Name).WithFields(c.Name)
			}
		}
		if c.FetchOnUpdate && c.Kind != KindTimestamp {
			return dberr.Misconfigured(t.Name, "fetch_on_update requires a timestamp column, %q is %s", c.Name, c.Kind).WithFields(c.Name)
		}
		if c.FetchOnCreate {
			switch {
			case c.Kind == KindTimestamp:
			case c.PrimaryKey && (c.Kind == KindInteger || c.Kind == KindText || c.Kind == KindUUID):
				createdKeys++
			default:
				return dberr.Misconfigured(t.Name, "fetch_on_create requires a timestamp or an integer, text or uuid primary key, %q is %s", c.Name, c.Kind).WithFields(c.Name)
			}
		}
	}

	if len(t.PrimaryKey) == 0 {
		return dberr.Misconfigured(t.Name, "table has no primary key")
	}
	if createdKeys > 0 && len(t.PrimaryKey) > 1 {
		return dberr.Misconfigured(t.Name, "generated primary key cannot be part of a composite key")
	}
	return nil
}

// Column returns the column named name.
func (t *Table) Column(name string) (Column, bool) {
	i, ok := t.byName[name]
	if !ok {
		return Column{}, false
	}
	return t.Columns[i], true
}

// Resolve finds a column by column name or Go field name.
func (t *Table) Resolve(key string) (Column, bool) {
	if c, ok := t.Column(key); ok {
		return c, true
	}
	i, ok := t.byField[key]
	if !ok {
		return Column{}, false
	}
	return t.Columns[i], true
}

// ColumnNames returns all column names in declaration order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// KeyColumns returns the primary-key columns in declaration order.
func (t *Table) KeyColumns() []Column {
	cols := make([]Column, 0, len(t.PrimaryKey))
	for _, name := range t.PrimaryKey {
		c, _ := t.Column(name)
		cols = append(cols, c)
	}
	return cols
}

// RefColumns returns the foreign-key columns.
func (t *Table) RefColumns() []Column {
	var cols []Column
	for _, c := range t.Columns {
		if c.Kind == KindRef {
			cols = append(cols, c)
		}
	}
	return cols
}

// GeneratedKey returns the primary-key column the backend generates, if any.
func (t *Table) GeneratedKey() (Column, bool) {
	for _, c := range t.KeyColumns() {
		if c.FetchOnCreate {
			return c, true
		}
	}
	return Column{}, false
}

// HasManaged reports whether any column is populated by the backend.
func (t *Table) HasManaged() bool {
	for _, c := range t.Columns {
		if c.Managed() {
			return true
		}
	}
	return false
}

// Build derives a table descriptor from a struct type.
func Build(typ reflect.Type, name string) (*Table, error) {
	if typ.Kind() == reflect.Pointer {
		typ = typ.Elem()
	}
	if typ.Kind() != reflect.Struct {
		return nil, dberr.Misconfigured(name, "%s is not a struct", typ)
	}
	cols, err := structColumns(typ, nil, name)
	if err != nil {
		return nil, err
	}
	t, err := NewTable(name, cols...)
	if err != nil {
		return nil, err
	}
	t.Type = typ
	return t, nil
}

func structColumns(typ reflect.Type, index []int, table string) ([]Column, error) {
	var cols []Column
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		tag, hasTag := f.Tag.Lookup("db")
		if tag == "-" {
			continue
		}
		path := append(append([]int(nil), index...), i)

		if f.Anonymous && !hasTag && f.Type.Kind() == reflect.Struct && !isScalarStruct(f.Type) {
			nested, err := structColumns(f.Type, path, table)
			if err != nil {
				return nil, err
			}
			cols = append(cols, nested...)
			continue
		}
		if !f.IsExported() {
			continue
		}

		c, err := fieldColumn(f, tag, table)
		if err != nil {
			return nil, err
		}
		c.Index = path
		cols = append(cols, c)
	}
	return cols, nil
}

func fieldColumn(f reflect.StructField, tag string, table string) (Column, error) {
	parts := strings.Split(tag, ",")
	c := Column{Name: strings.TrimSpace(parts[0]), Field: f.Name}
	if c.Name == "" {
		name, err := CleanIdentifier(SnakeCase(f.Name))
		if err != nil {
			return Column{}, dberr.Misconfigured(table, "field %s: %v", f.Name, err)
		}
		c.Name = name
	}

	var forceUUID, forceJSON bool
	for _, opt := range parts[1:] {
		opt = strings.TrimSpace(opt)
		switch {
		case opt == "":
		case opt == "pk":
			c.PrimaryKey = true
		case opt == "fetch_on_create":
			c.FetchOnCreate = true
		case opt == "fetch_on_update":
			c.FetchOnUpdate = true
		case opt == "unique":
			c.Unique = true
		case opt == "null":
			c.Nullable = true
		case opt == "required":
			c.Required = true
		case opt == "uuid":
			forceUUID = true
		case opt == "json":
			forceJSON = true
		case strings.HasPrefix(opt, "size="):
			n, err := strconv.Atoi(strings.TrimPrefix(opt, "size="))
			if err != nil || n <= 0 {
				return Column{}, dberr.Misconfigured(table, "field %s: invalid size %q", f.Name, opt)
			}
			c.MaxLength = n
		default:
			return Column{}, dberr.Misconfigured(table, "field %s: unknown tag option %q", f.Name, opt)
		}
	}

	ft := f.Type
	if ft.Kind() == reflect.Pointer && !ft.Implements(referenceType) {
		c.Nullable = true
		ft = ft.Elem()
	}

	switch {
	case ft.Implements(referenceType):
		c.Kind = KindRef
		ref := reflect.Zero(ft).Interface().(Reference).ReferencedType()
		kind, err := keyKindOf(ref)
		if err != nil {
			return Column{}, dberr.Misconfigured(table, "field %s: %v", f.Name, err)
		}
		c.Ref = ref
		c.RefKind = kind
	case forceJSON:
		c.Kind = KindJSON
	case forceUUID:
		c.Kind = KindUUID
	default:
		kind, ok := kindOf(ft)
		if !ok {
			return Column{}, dberr.Misconfigured(table, "field %s: unsupported type %s", f.Name, f.Type)
		}
		c.Kind = kind
	}
	return c, nil
}

// kindOf infers the column kind of a Go type.
func kindOf(t reflect.Type) (Kind, bool) {
	switch t {
	case timeType, dateTimeType:
		return KindTimestamp, true
	case uuidType, strfmtUUIDType:
		return KindUUID, true
	case bytesType:
		return KindBlob, true
	}
	switch t.Kind() {
	case reflect.String:
		return KindText, true
	case reflect.Bool:
		return KindBool, true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return KindInteger, true
	case reflect.Float32, reflect.Float64:
		return KindFloat, true
	case reflect.Map, reflect.Slice, reflect.Struct:
		return KindJSON, true
	}
	return 0, false
}

// keyKindOf finds the kind of the single primary key of a referenced type
// without building its full descriptor, so mutually referencing types work.
func keyKindOf(t reflect.Type) (Kind, error) {
	k, err := keyFieldOf(t)
	if err != nil {
		return 0, err
	}
	return k.kind, nil
}

type keyField struct {
	kind  Kind
	index []int
}

// keyFields caches keyFieldOf results by struct type.
var keyFields sync.Map

// keyFieldOf locates the single primary-key field of struct type t from its
// tags alone.
func keyFieldOf(t reflect.Type) (keyField, error) {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if cached, ok := keyFields.Load(t); ok {
		return cached.(keyField), nil
	}
	if t.Kind() != reflect.Struct {
		return keyField{}, fmt.Errorf("referenced type %s is not a struct", t)
	}
	var keys []keyField
	var walk func(reflect.Type, []int)
	walk = func(t reflect.Type, index []int) {
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			path := append(append([]int(nil), index...), i)
			tag, hasTag := f.Tag.Lookup("db")
			if f.Anonymous && !hasTag && f.Type.Kind() == reflect.Struct && !isScalarStruct(f.Type) {
				walk(f.Type, path)
				continue
			}
			parts := strings.Split(tag, ",")
			isPK, isUUID := false, false
			for _, opt := range parts[1:] {
				switch strings.TrimSpace(opt) {
				case "pk":
					isPK = true
				case "uuid":
					isUUID = true
				}
			}
			if !isPK {
				continue
			}
			ft := f.Type
			if ft.Kind() == reflect.Pointer {
				ft = ft.Elem()
			}
			if isUUID {
				keys = append(keys, keyField{kind: KindUUID, index: path})
				continue
			}
			k, _ := kindOf(ft)
			keys = append(keys, keyField{kind: k, index: path})
		}
	}
	walk(t, nil)

	switch len(keys) {
	case 0:
		return keyField{}, fmt.Errorf("referenced type %s has no primary key", t)
	case 1:
		keyFields.Store(t, keys[0])
		return keys[0], nil
	default:
		return keyField{}, fmt.Errorf("referenced type %s has a composite primary key", t)
	}
}

// EntityKey returns the normalized single primary-key value of the struct
// v points at, or nil when the key is unset or v has no single key. The
// type does not need to be registered.
func EntityKey(v reflect.Value) any {
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil
	}
	k, err := keyFieldOf(v.Type())
	if err != nil {
		return nil
	}
	fv := v.FieldByIndex(k.index).Interface()
	if IsZero(fv) {
		return nil
	}
	id, err := Column{Name: "key", Kind: k.kind}.Normalize(fv)
	if err != nil {
		return nil
	}
	return id
}

// isScalarStruct reports struct types stored as a single column.
func isScalarStruct(t reflect.Type) bool {
	return t == timeType || t == dateTimeType
}

// ValidUUID reports whether s is a well-formed UUID in its canonical
// hyphenated or plain hex form.
func ValidUUID(s string) bool {
	return strfmt.IsUUID(s)
}
