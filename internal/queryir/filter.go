package queryir

import (
	"reflect"

	"github.com/roach88/tablekit/internal/dberr"
	"github.com/roach88/tablekit/internal/schema"
)

// Filter maps column names (or Go field names) to values.
type Filter map[string]any

// FromFilter builds the predicate for a caller filter. Columns appear in
// table declaration order so compiled SQL is deterministic.
func FromFilter(t *schema.Table, f Filter) (Predicate, error) {
	if len(f) == 0 {
		return nil, nil
	}

	values, err := resolve(t, f)
	if err != nil {
		return nil, err
	}

	preds := make([]Predicate, 0, len(values))
	for _, c := range t.Columns {
		v, ok := values[c.Name]
		if !ok {
			continue
		}
		p, err := columnPredicate(t, c, v)
		if err != nil {
			return nil, err
		}
		preds = append(preds, p)
	}
	return simplify(preds), nil
}

// ForKey builds the predicate selecting one row by its full primary key.
func ForKey(t *schema.Table, key map[string]any) (Predicate, error) {
	values, err := resolve(t, key)
	if err != nil {
		return nil, err
	}
	if len(values) != len(t.PrimaryKey) {
		return nil, dberr.InvalidQuery(t.Name, "primary key requires columns %v, got %d", t.PrimaryKey, len(values))
	}

	preds := make([]Predicate, 0, len(t.PrimaryKey))
	for _, c := range t.KeyColumns() {
		v, ok := values[c.Name]
		if !ok {
			return nil, dberr.InvalidQuery(t.Name, "primary key column %q missing", c.Name).WithFields(c.Name)
		}
		norm, err := c.Normalize(v)
		if err != nil {
			return nil, dberr.Wrap(dberr.CodeInvalidQuery, t.Name, err, "invalid value for %q", c.Name).WithFields(c.Name)
		}
		if norm == nil {
			return nil, dberr.InvalidQuery(t.Name, "primary key column %q is null", c.Name).WithFields(c.Name)
		}
		preds = append(preds, Equals{Column: c.Name, Value: norm})
	}
	return simplify(preds), nil
}

// KeyOf extracts the primary-key values from a row.
func KeyOf(t *schema.Table, row map[string]any) map[string]any {
	key := make(map[string]any, len(t.PrimaryKey))
	for _, name := range t.PrimaryKey {
		key[name] = row[name]
	}
	return key
}

// resolve maps filter keys to column names, rejecting unknown and
// duplicate columns.
func resolve(t *schema.Table, f map[string]any) (map[string]any, error) {
	values := make(map[string]any, len(f))
	for key, v := range f {
		c, ok := t.Resolve(key)
		if !ok {
			return nil, dberr.InvalidQuery(t.Name, "unknown column %q", key).WithFields(key)
		}
		if _, dup := values[c.Name]; dup {
			return nil, dberr.InvalidQuery(t.Name, "column %q given twice", c.Name).WithFields(c.Name)
		}
		values[c.Name] = v
	}
	return values, nil
}

func columnPredicate(t *schema.Table, c schema.Column, v any) (Predicate, error) {
	if v == nil {
		return IsNull{Column: c.Name}, nil
	}

	if rv := reflect.ValueOf(v); rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() != reflect.Uint8 {
		in := In{Column: c.Name, Values: make([]any, 0, rv.Len())}
		for i := 0; i < rv.Len(); i++ {
			norm, err := c.Normalize(rv.Index(i).Interface())
			if err != nil {
				return nil, dberr.Wrap(dberr.CodeInvalidQuery, t.Name, err, "invalid value for %q", c.Name).WithFields(c.Name)
			}
			in.Values = append(in.Values, norm)
		}
		return in, nil
	}

	norm, err := c.Normalize(v)
	if err != nil {
		return nil, dberr.Wrap(dberr.CodeInvalidQuery, t.Name, err, "invalid value for %q", c.Name).WithFields(c.Name)
	}
	if norm == nil {
		return IsNull{Column: c.Name}, nil
	}
	return Equals{Column: c.Name, Value: norm}, nil
}

func simplify(preds []Predicate) Predicate {
	switch len(preds) {
	case 0:
		return nil
	case 1:
		return preds[0]
	default:
		return And{Predicates: preds}
	}
}
