// Package queryir is the backend-neutral representation of the statements
// tablekit issues.
//
// Every Backend operation is lowered to a Query (Select, Insert, Update,
// Delete) whose WHERE clause is a Predicate built from a caller filter with
// FromFilter or from a primary key with ForKey. The SQL backend compiles
// queries with package querysql; the in-memory backend evaluates predicates
// directly with Match. Both therefore share one set of filter rules:
//
//   - a scalar value means equality
//   - a slice value means IN membership, never array equality
//   - an empty slice matches no rows
//   - nil means IS NULL
//   - an empty filter matches every row
//   - an unknown column fails with INVALID_QUERY
//
// Filter values are normalized with schema.Column.Normalize before they are
// stored in a predicate, so comparisons never depend on the Go integer or
// string type a caller happened to use.
package queryir
