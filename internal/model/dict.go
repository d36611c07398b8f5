package model

import (
	"reflect"

	"github.com/roach88/tablekit/internal/dberr"
)

// ToDict returns every column of e keyed by column name, with values in
// their stored form. References appear as their ids.
func (r *Repo[T]) ToDict(e *T) (map[string]any, error) {
	if e == nil {
		return nil, dberr.New(dberr.CodeInvalidFieldValue, r.table.Name, "nil entity")
	}
	v := reflect.ValueOf(e).Elem()
	out := make(map[string]any, len(r.table.Columns))
	for _, c := range r.table.Columns {
		norm, err := c.Normalize(v.FieldByIndex(c.Index).Interface())
		if err != nil {
			return nil, dberr.Wrap(dberr.CodeInvalidFieldValue, r.table.Name, err, "encode %s", c.Name).WithFields(c.Name)
		}
		out[c.Name] = norm
	}
	return out, nil
}

// FromDict builds an entity from a map keyed by column or field name.
// Reference columns become unresolved placeholders.
func (r *Repo[T]) FromDict(m map[string]any) (*T, error) {
	e := new(T)
	v := reflect.ValueOf(e).Elem()
	for key, val := range m {
		c, ok := r.table.Resolve(key)
		if !ok {
			return nil, dberr.InvalidQuery(r.table.Name, "unknown column %q", key).WithFields(key)
		}
		if err := c.Assign(v.FieldByIndex(c.Index), val); err != nil {
			return nil, dberr.Wrap(dberr.CodeInvalidFieldValue, r.table.Name, err, "decode %s", c.Name).WithFields(c.Name)
		}
	}
	return e, nil
}
