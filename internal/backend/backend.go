// Package backend defines the storage contract every tablekit backend
// implements, and the context plumbing that selects a backend and its
// ambient transaction for a logical task.
//
// Two implementations exist: store (SQL through database/sql) and memory
// (in-process maps). Both honor the same filter rules (see queryir) and
// return the same dberr kinds, so model code never depends on which one is
// in use.
package backend

import (
	"context"

	"github.com/roach88/tablekit/internal/dberr"
	"github.com/roach88/tablekit/internal/queryir"
	"github.com/roach88/tablekit/internal/schema"
)

// Row maps column names to normalized values (see schema.Column.Normalize).
type Row map[string]any

// Filter maps column names to scalar (equality), slice (IN) or nil
// (IS NULL) values.
type Filter = queryir.Filter

// Backend executes operations against named tables.
type Backend interface {
	// Name identifies the backend in logs ("sqlite3", "mysql", "memory").
	Name() string

	// Begin opens a physical transaction.
	Begin(ctx context.Context) (Tx, error)

	// Create inserts one row. Columns omitted from row that the table marks
	// fetch_on_create or fetch_on_update are generated; the returned Row
	// holds every generated value. Fails with INTEGRITY_ERROR on a key,
	// unique or NOT NULL violation.
	Create(ctx context.Context, t *schema.Table, row Row) (Row, error)

	// CreateBatch inserts all rows atomically and returns the generated
	// values of each, in order.
	CreateBatch(ctx context.Context, t *schema.Table, rows []Row) ([]Row, error)

	// Get returns the row with the given full primary key, or NOT_FOUND.
	Get(ctx context.Context, t *schema.Table, key Row) (Row, error)

	// GetList returns matching rows in insertion order.
	GetList(ctx context.Context, t *schema.Table, f Filter) ([]Row, error)

	// Update changes the listed columns of one row and recomputes its
	// fetch_on_update columns, returning their new values. Primary-key
	// columns cannot be changed. Fails with NOT_FOUND if no row matches.
	Update(ctx context.Context, t *schema.Table, key Row, changes Row) (Row, error)

	// UpdateWhere applies changes to every row matching f and recomputes
	// their fetch_on_update columns. It returns the full updated rows in
	// insertion order; matching nothing returns an empty slice.
	UpdateWhere(ctx context.Context, t *schema.Table, f Filter, changes Row) ([]Row, error)

	// Delete removes one row. Deleting a missing row is not an error.
	Delete(ctx context.Context, t *schema.Table, key Row) error

	// DeleteWhere removes every matching row.
	DeleteWhere(ctx context.Context, t *schema.Table, f Filter) error
}

// Tx is a physical transaction handle.
type Tx interface {
	Commit() error
	Rollback() error
}

// Raw is implemented by backends that can run arbitrary statements. It is
// the escape hatch for queries the filter model cannot express.
type Raw interface {
	Query(ctx context.Context, stmt string, args ...any) ([]Row, error)
	Exec(ctx context.Context, stmt string, args ...any) (int64, error)
}

type backendKey struct{}

type txKey struct{ b Backend }

// WithBackend returns a context whose operations use b.
func WithBackend(ctx context.Context, b Backend) context.Context {
	return context.WithValue(ctx, backendKey{}, b)
}

// FromContext returns the backend set with WithBackend.
func FromContext(ctx context.Context) (Backend, error) {
	b, ok := ctx.Value(backendKey{}).(Backend)
	if !ok || b == nil {
		return nil, dberr.Misconfigured("", "no backend in context")
	}
	return b, nil
}

// WithTx returns a context carrying tx as b's ambient transaction.
func WithTx(ctx context.Context, b Backend, tx Tx) context.Context {
	return context.WithValue(ctx, txKey{b}, tx)
}

// TxFrom returns b's ambient transaction, if any.
func TxFrom(ctx context.Context, b Backend) (Tx, bool) {
	tx, ok := ctx.Value(txKey{b}).(Tx)
	return tx, ok && tx != nil
}

// CheckChanges validates an update: every column must exist and none may
// be part of the primary key.
func CheckChanges(t *schema.Table, changes Row) (Row, error) {
	out := make(Row, len(changes))
	for key, v := range changes {
		c, ok := t.Resolve(key)
		if !ok {
			return nil, dberr.InvalidQuery(t.Name, "unknown column %q", key).WithFields(key)
		}
		if c.PrimaryKey {
			return nil, dberr.InvalidQuery(t.Name, "primary key column %q cannot be updated", c.Name).WithFields(c.Name)
		}
		norm, err := c.Normalize(v)
		if err != nil {
			return nil, dberr.Wrap(dberr.CodeInvalidFieldValue, t.Name, err, "invalid value for %q", c.Name).WithFields(c.Name)
		}
		out[c.Name] = norm
	}
	return out, nil
}

// CheckRow validates an insert row: every column must exist. Values are
// normalized and keys canonicalized to column names.
func CheckRow(t *schema.Table, row Row) (Row, error) {
	out := make(Row, len(row))
	for key, v := range row {
		c, ok := t.Resolve(key)
		if !ok {
			return nil, dberr.InvalidQuery(t.Name, "unknown column %q", key).WithFields(key)
		}
		norm, err := c.Normalize(v)
		if err != nil {
			return nil, dberr.Wrap(dberr.CodeInvalidFieldValue, t.Name, err, "invalid value for %q", c.Name).WithFields(c.Name)
		}
		out[c.Name] = norm
	}
	return out, nil
}

// Touched lists the fetch_on_update columns of t.
func Touched(t *schema.Table) []string {
	var cols []string
	for _, c := range t.Columns {
		if c.FetchOnUpdate {
			cols = append(cols, c.Name)
		}
	}
	return cols
}
