package queryir

import (
	"bytes"
	"time"
)

// Match evaluates p against a row of normalized values.
func Match(p Predicate, row map[string]any) bool {
	switch pred := p.(type) {
	case nil:
		return true
	case Equals:
		v, ok := row[pred.Column]
		return ok && v != nil && Equal(v, pred.Value)
	case In:
		v, ok := row[pred.Column]
		if !ok || v == nil {
			return false
		}
		for _, want := range pred.Values {
			if Equal(v, want) {
				return true
			}
		}
		return false
	case IsNull:
		return row[pred.Column] == nil
	case And:
		for _, sub := range pred.Predicates {
			if !Match(sub, row) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Equal compares two normalized values. NULL never equals anything.
func Equal(a, b any) bool {
	if a == nil || b == nil {
		return false
	}
	switch x := a.(type) {
	case []byte:
		y, ok := b.([]byte)
		return ok && bytes.Equal(x, y)
	case time.Time:
		y, ok := b.(time.Time)
		return ok && x.Equal(y)
	}
	if _, ok := b.([]byte); ok {
		return false
	}
	return a == b
}
