package queryir

import "github.com/roach88/tablekit/internal/schema"

// Query represents a statement against one table.
//
// This is a sealed interface - only types in this package implement it.
type Query interface {
	queryNode() // Marker method - seals interface to this package
}

// Predicate represents a filter condition.
//
// This is a sealed interface - only types in this package implement it.
// A nil Predicate matches every row.
type Predicate interface {
	predicateNode() // Marker method - seals interface to this package
}

// Select reads rows in insertion order.
//
//	SELECT <columns> FROM <table> WHERE <where> ORDER BY <insertion order>
type Select struct {
	Table   *schema.Table
	Columns []string  // nil = all table columns
	Where   Predicate // nil = no filter
	Limit   int       // 0 = unlimited
}

func (Select) queryNode() {}

// Insert writes one row. Values holds the columns the caller supplies;
// Returning lists the columns the backend populates.
type Insert struct {
	Table     *schema.Table
	Values    map[string]any
	Returning []string
}

func (Insert) queryNode() {}

// Update changes the listed columns of matching rows. Touch lists
// timestamp columns set to the current time.
type Update struct {
	Table     *schema.Table
	Set       map[string]any
	Touch     []string
	Where     Predicate
	Returning []string
}

func (Update) queryNode() {}

// Delete removes matching rows.
type Delete struct {
	Table *schema.Table
	Where Predicate
}

func (Delete) queryNode() {}

// Equals matches rows whose column equals Value.
type Equals struct {
	Column string
	Value  any
}

func (Equals) predicateNode() {}

// In matches rows whose column equals any of Values. An empty In matches
// nothing.
type In struct {
	Column string
	Values []any
}

func (In) predicateNode() {}

// IsNull matches rows whose column is NULL.
type IsNull struct {
	Column string
}

func (IsNull) predicateNode() {}

// And matches rows satisfying all predicates. An empty And matches every row.
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}
