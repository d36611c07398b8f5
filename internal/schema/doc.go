// Package schema maps Go struct types onto relational tables.
//
// A Table describes one table: its name, ordered columns, primary-key
// columns (composite keys keep declaration order) and foreign-key columns.
// Tables are built once, either from a struct type through a Registry or
// directly with NewTable, and are immutable afterwards.
//
// # Struct tags
//
// Fields map to columns through the db tag:
//
//	type Org struct {
//	    ID        int64     `db:"id,pk,fetch_on_create"`
//	    Name      string    `db:"name,unique,size=45"`
//	    Tag       *string   `db:"tag"`
//	    CreatedAt time.Time `db:"created_at,fetch_on_create"`
//	    UpdatedAt time.Time `db:"updated_at,fetch_on_update"`
//	}
//
// Options:
//   - pk: part of the primary key
//   - fetch_on_create: populated by the backend on insert (pk or timestamp only)
//   - fetch_on_update: recomputed by the backend on update (timestamp only)
//   - unique, null, required, size=N
//   - uuid, json: force the UUID or JSON column kind
//
// Untagged exported fields become columns named by CleanIdentifier applied
// to the snake_case field name. A tag of "-" skips the field. Embedded
// structs are flattened.
//
// Value conversion goes through Column.Normalize (Go value to the canonical
// driver value shared by every backend) and Column.Assign (driver value back
// into a struct field).
package schema
