package schema

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
)

// Kind is the storage kind of a column.
type Kind int

const (
	KindText Kind = iota
	KindInteger
	KindFloat
	KindBool
	KindTimestamp
	KindUUID
	KindJSON
	KindBlob
	KindRef
)

var kindNames = map[Kind]string{
	KindText:      "text",
	KindInteger:   "integer",
	KindFloat:     "float",
	KindBool:      "bool",
	KindTimestamp: "timestamp",
	KindUUID:      "uuid",
	KindJSON:      "json",
	KindBlob:      "blob",
	KindRef:       "ref",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind returns the Kind named s.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown column kind %q", s)
}

// Column describes one table column.
type Column struct {
	Name string
	Kind Kind

	PrimaryKey    bool
	FetchOnCreate bool
	FetchOnUpdate bool
	Unique        bool
	Nullable      bool
	Required      bool
	MaxLength     int

	// Field is the Go field name and Index its reflect index path. Both are
	// empty for tables built with NewTable.
	Field string
	Index []int

	// Ref is the referenced entity type and RefKind the kind of its single
	// primary key. Set only for KindRef columns.
	Ref     reflect.Type
	RefKind Kind
}

// Managed reports whether the backend populates this column.
func (c Column) Managed() bool {
	return c.FetchOnCreate || c.FetchOnUpdate
}

// storageKind returns the kind values are stored as.
func (c Column) storageKind() Kind {
	if c.Kind == KindRef {
		return c.RefKind
	}
	return c.Kind
}

// Normalize converts v into the canonical driver value for this column:
// int64, float64, bool, string, time.Time (UTC), []byte or nil.
// Pointers are dereferenced and references reduced to their identifier.
func (c Column) Normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if r, ok := v.(Reference); ok {
		return c.Normalize(r.RefID())
	}

	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, nil
		}
		rv = rv.Elem()
		v = rv.Interface()
		if r, ok := v.(Reference); ok {
			return c.Normalize(r.RefID())
		}
	}

	switch c.storageKind() {
	case KindInteger:
		return toInt64(rv)
	case KindFloat:
		return toFloat64(rv)
	case KindBool:
		return toBool(rv)
	case KindTimestamp:
		return toTime(v)
	case KindUUID:
		return toUUIDString(v)
	case KindJSON:
		switch x := v.(type) {
		case string:
			return x, nil
		case []byte:
			return string(x), nil
		}
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", c.Name, err)
		}
		return string(b), nil
	case KindBlob:
		switch x := v.(type) {
		case []byte:
			return x, nil
		case string:
			return []byte(x), nil
		}
	default:
		switch x := v.(type) {
		case string:
			return x, nil
		case []byte:
			return string(x), nil
		case fmt.Stringer:
			return x.String(), nil
		}
		if rv.Kind() == reflect.String {
			return rv.String(), nil
		}
	}
	return nil, fmt.Errorf("column %s: cannot store %T as %s", c.Name, v, c.storageKind())
}

// Assign stores driver value v into dst, which must be addressable.
func (c Column) Assign(dst reflect.Value, v any) error {
	if v == nil {
		dst.Set(reflect.Zero(dst.Type()))
		return nil
	}
	if dst.Kind() == reflect.Pointer {
		elem := reflect.New(dst.Type().Elem())
		if err := c.Assign(elem.Elem(), v); err != nil {
			return err
		}
		dst.Set(elem)
		return nil
	}
	if c.Kind == KindRef {
		setter, ok := dst.Addr().Interface().(ReferenceSetter)
		if !ok {
			return fmt.Errorf("column %s: %s is not a reference", c.Name, dst.Type())
		}
		id, err := c.Normalize(v)
		if err != nil {
			return err
		}
		setter.SetRefID(id)
		return nil
	}

	norm, err := c.Normalize(v)
	if err != nil {
		return err
	}
	if norm == nil {
		dst.Set(reflect.Zero(dst.Type()))
		return nil
	}

	switch dst.Type() {
	case timeType:
		dst.Set(reflect.ValueOf(norm.(time.Time)))
		return nil
	case dateTimeType:
		dst.Set(reflect.ValueOf(strfmt.DateTime(norm.(time.Time))))
		return nil
	case uuidType:
		id, err := uuid.Parse(norm.(string))
		if err != nil {
			return fmt.Errorf("column %s: %w", c.Name, err)
		}
		dst.Set(reflect.ValueOf(id))
		return nil
	case strfmtUUIDType:
		dst.Set(reflect.ValueOf(strfmt.UUID(norm.(string))))
		return nil
	}

	if c.Kind == KindJSON && dst.Kind() != reflect.String {
		s, _ := norm.(string)
		if err := json.Unmarshal([]byte(s), dst.Addr().Interface()); err != nil {
			return fmt.Errorf("unmarshal %s: %w", c.Name, err)
		}
		return nil
	}

	switch dst.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := toInt64(reflect.ValueOf(norm))
		if err != nil {
			return err
		}
		dst.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := toInt64(reflect.ValueOf(norm))
		if err != nil {
			return err
		}
		dst.SetUint(uint64(n))
	case reflect.Float32, reflect.Float64:
		f, err := toFloat64(reflect.ValueOf(norm))
		if err != nil {
			return err
		}
		dst.SetFloat(f)
	case reflect.Bool:
		b, err := toBool(reflect.ValueOf(norm))
		if err != nil {
			return err
		}
		dst.SetBool(b)
	case reflect.String:
		switch x := norm.(type) {
		case string:
			dst.SetString(x)
		case []byte:
			dst.SetString(string(x))
		default:
			dst.SetString(fmt.Sprint(x))
		}
	case reflect.Slice:
		b, ok := norm.([]byte)
		if !ok || dst.Type().Elem().Kind() != reflect.Uint8 {
			return fmt.Errorf("column %s: cannot assign %T to %s", c.Name, norm, dst.Type())
		}
		dst.SetBytes(append([]byte(nil), b...))
	default:
		return fmt.Errorf("column %s: cannot assign %T to %s", c.Name, norm, dst.Type())
	}
	return nil
}

var (
	timeType       = reflect.TypeOf(time.Time{})
	dateTimeType   = reflect.TypeOf(strfmt.DateTime{})
	uuidType       = reflect.TypeOf(uuid.UUID{})
	strfmtUUIDType = reflect.TypeOf(strfmt.UUID(""))
	bytesType      = reflect.TypeOf([]byte(nil))
	referenceType  = reflect.TypeOf((*Reference)(nil)).Elem()
)

func toInt64(rv reflect.Value) (int64, error) {
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(rv.Uint()), nil
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if f != float64(int64(f)) {
			return 0, fmt.Errorf("%v is not an integer", f)
		}
		return int64(f), nil
	case reflect.Bool:
		if rv.Bool() {
			return 1, nil
		}
		return 0, nil
	case reflect.String:
		return strconv.ParseInt(rv.String(), 10, 64)
	case reflect.Slice:
		if rv.Type() == bytesType {
			return strconv.ParseInt(string(rv.Bytes()), 10, 64)
		}
	}
	return 0, fmt.Errorf("cannot convert %s to integer", rv.Type())
}

func toFloat64(rv reflect.Value) (float64, error) {
	switch rv.Kind() {
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), nil
	case reflect.String:
		return strconv.ParseFloat(rv.String(), 64)
	case reflect.Slice:
		if rv.Type() == bytesType {
			return strconv.ParseFloat(string(rv.Bytes()), 64)
		}
	}
	return 0, fmt.Errorf("cannot convert %s to float", rv.Type())
}

func toBool(rv reflect.Value) (bool, error) {
	switch rv.Kind() {
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() != 0, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint() != 0, nil
	case reflect.String:
		return strconv.ParseBool(rv.String())
	case reflect.Slice:
		if rv.Type() == bytesType {
			return strconv.ParseBool(string(rv.Bytes()))
		}
	}
	return false, fmt.Errorf("cannot convert %s to bool", rv.Type())
}

// timeLayouts are the text encodings drivers hand back for timestamps.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func toTime(v any) (any, error) {
	switch x := v.(type) {
	case time.Time:
		return x.UTC(), nil
	case strfmt.DateTime:
		return time.Time(x).UTC(), nil
	case []byte:
		return parseTime(string(x))
	case string:
		return parseTime(x)
	}
	return nil, fmt.Errorf("cannot convert %T to timestamp", v)
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse timestamp %q", s)
}

func toUUIDString(v any) (any, error) {
	switch x := v.(type) {
	case uuid.UUID:
		return x.String(), nil
	case strfmt.UUID:
		return strings.ToLower(string(x)), nil
	case string:
		return strings.ToLower(x), nil
	case []byte:
		if len(x) == 16 {
			id, err := uuid.FromBytes(x)
			if err != nil {
				return nil, err
			}
			return id.String(), nil
		}
		return strings.ToLower(string(x)), nil
	}
	return nil, fmt.Errorf("cannot convert %T to uuid", v)
}

// IsZero reports whether v is nil or the zero value of its type.
func IsZero(v any) bool {
	if v == nil {
		return true
	}
	if r, ok := v.(Reference); ok {
		return r.RefID() == nil
	}
	rv := reflect.ValueOf(v)
	return rv.IsZero()
}
