// Package querysql compiles queryir queries to parameterized SQL.
package querysql

import (
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/roach88/tablekit/internal/queryir"
	"github.com/roach88/tablekit/internal/schema"
)

// sqliteTimeLayout matches the text SQLite's CURRENT_TIMESTAMP produces, so
// caller-supplied times and backend-generated ones compare equal.
const sqliteTimeLayout = "2006-01-02 15:04:05.999999999"

// Compiler compiles queryir queries for one SQL dialect.
//
// CRITICAL: All values are parameterized, never interpolated.
// CRITICAL: Every SELECT has a deterministic ORDER BY.
type Compiler struct {
	Dialect schema.Dialect
}

// New creates a Compiler for the dialect.
func New(d schema.Dialect) *Compiler {
	return &Compiler{Dialect: d}
}

// SupportsReturning reports whether INSERT and UPDATE can return columns.
func (c *Compiler) SupportsReturning() bool {
	return c.Dialect == schema.SQLite
}

// Compile converts a query to SQL.
// Returns (sql, params, error) tuple.
func (c *Compiler) Compile(q queryir.Query) (string, []any, error) {
	if q == nil {
		return "", nil, fmt.Errorf("cannot compile nil query")
	}

	var (
		stmt   string
		params []any
		err    error
	)
	switch query := q.(type) {
	case queryir.Select:
		stmt, params, err = c.compileSelect(query)
	case *queryir.Select:
		stmt, params, err = c.compileSelect(*query)
	case queryir.Insert:
		stmt, params, err = c.compileInsert(query)
	case *queryir.Insert:
		stmt, params, err = c.compileInsert(*query)
	case queryir.Update:
		stmt, params, err = c.compileUpdate(query)
	case *queryir.Update:
		stmt, params, err = c.compileUpdate(*query)
	case queryir.Delete:
		stmt, params, err = c.compileDelete(query)
	case *queryir.Delete:
		stmt, params, err = c.compileDelete(*query)
	default:
		return "", nil, fmt.Errorf("unsupported query type: %T", q)
	}
	if err != nil {
		return "", nil, err
	}

	// Expand IN (?) placeholders, then rebind for the driver.
	stmt, params, err = sqlx.In(stmt, params...)
	if err != nil {
		return "", nil, fmt.Errorf("expand params: %w", err)
	}
	return sqlx.Rebind(sqlx.BindType(string(c.Dialect)), stmt), params, nil
}

func (c *Compiler) compileSelect(q queryir.Select) (string, []any, error) {
	if q.Table == nil {
		return "", nil, fmt.Errorf("select: nil table")
	}

	cols := q.Columns
	if cols == nil {
		cols = q.Table.ColumnNames()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", c.columnList(cols), c.Dialect.Quote(q.Table.Name))

	params, err := c.where(&b, q.Where)
	if err != nil {
		return "", nil, err
	}

	// MANDATORY: deterministic insertion order
	b.WriteString(" ORDER BY ")
	b.WriteString(c.stableOrderKey(q.Table))

	if q.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", q.Limit)
	}
	return b.String(), params, nil
}

func (c *Compiler) compileInsert(q queryir.Insert) (string, []any, error) {
	if q.Table == nil {
		return "", nil, fmt.Errorf("insert: nil table")
	}

	cols, params, err := c.orderedValues(q.Table, q.Values)
	if err != nil {
		return "", nil, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s", c.Dialect.Quote(q.Table.Name))
	switch {
	case len(cols) > 0:
		fmt.Fprintf(&b, " (%s) VALUES (%s)", c.columnList(cols), placeholders(len(cols)))
	case c.Dialect == schema.MySQL:
		b.WriteString(" () VALUES ()")
	default:
		b.WriteString(" DEFAULT VALUES")
	}
	c.returning(&b, q.Returning)
	return b.String(), params, nil
}

func (c *Compiler) compileUpdate(q queryir.Update) (string, []any, error) {
	if q.Table == nil {
		return "", nil, fmt.Errorf("update: nil table")
	}
	if len(q.Set) == 0 && len(q.Touch) == 0 {
		return "", nil, fmt.Errorf("update %s: no columns to set", q.Table.Name)
	}

	cols, params, err := c.orderedValues(q.Table, q.Set)
	if err != nil {
		return "", nil, err
	}

	sets := make([]string, 0, len(cols)+len(q.Touch))
	for _, col := range cols {
		sets = append(sets, c.Dialect.Quote(col)+" = ?")
	}
	for _, col := range q.Touch {
		sets = append(sets, c.Dialect.Quote(col)+" = CURRENT_TIMESTAMP")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "UPDATE %s SET %s", c.Dialect.Quote(q.Table.Name), strings.Join(sets, ", "))
	whereParams, err := c.where(&b, q.Where)
	if err != nil {
		return "", nil, err
	}
	c.returning(&b, q.Returning)
	return b.String(), append(params, whereParams...), nil
}

func (c *Compiler) compileDelete(q queryir.Delete) (string, []any, error) {
	if q.Table == nil {
		return "", nil, fmt.Errorf("delete: nil table")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "DELETE FROM %s", c.Dialect.Quote(q.Table.Name))
	params, err := c.where(&b, q.Where)
	if err != nil {
		return "", nil, err
	}
	return b.String(), params, nil
}

// orderedValues returns the columns of values in table order with their
// parameters.
func (c *Compiler) orderedValues(t *schema.Table, values map[string]any) ([]string, []any, error) {
	cols := make([]string, 0, len(values))
	params := make([]any, 0, len(values))
	for _, col := range t.Columns {
		v, ok := values[col.Name]
		if !ok {
			continue
		}
		cols = append(cols, col.Name)
		params = append(params, c.param(v))
	}
	if len(cols) != len(values) {
		for name := range values {
			if _, ok := t.Column(name); !ok {
				return nil, nil, fmt.Errorf("table %s has no column %q", t.Name, name)
			}
		}
	}
	return cols, params, nil
}

func (c *Compiler) where(b *strings.Builder, p queryir.Predicate) ([]any, error) {
	if p == nil {
		return nil, nil
	}
	sql, params, err := c.compilePredicate(p)
	if err != nil {
		return nil, fmt.Errorf("compile filter: %w", err)
	}
	b.WriteString(" WHERE ")
	b.WriteString(sql)
	return params, nil
}

// compilePredicate compiles a predicate to a WHERE clause fragment.
// CRITICAL: Values NEVER interpolated - always use ? placeholders.
func (c *Compiler) compilePredicate(p queryir.Predicate) (string, []any, error) {
	switch pred := p.(type) {
	case nil:
		return "1 = 1", nil, nil
	case queryir.Equals:
		return c.Dialect.Quote(pred.Column) + " = ?", []any{c.param(pred.Value)}, nil
	case queryir.In:
		if len(pred.Values) == 0 {
			return "1 = 0", nil, nil // empty IN matches nothing
		}
		values := make([]any, len(pred.Values))
		for i, v := range pred.Values {
			values[i] = c.param(v)
		}
		return c.Dialect.Quote(pred.Column) + " IN (?)", []any{values}, nil
	case queryir.IsNull:
		return c.Dialect.Quote(pred.Column) + " IS NULL", nil, nil
	case queryir.And:
		if len(pred.Predicates) == 0 {
			return "1 = 1", nil, nil
		}
		parts := make([]string, 0, len(pred.Predicates))
		var params []any
		for _, sub := range pred.Predicates {
			sql, subParams, err := c.compilePredicate(sub)
			if err != nil {
				return "", nil, err
			}
			if _, nested := sub.(queryir.And); nested {
				sql = "(" + sql + ")"
			}
			parts = append(parts, sql)
			params = append(params, subParams...)
		}
		return strings.Join(parts, " AND "), params, nil
	default:
		return "", nil, fmt.Errorf("unsupported predicate type: %T", p)
	}
}

// stableOrderKey returns the ORDER BY clause giving insertion order.
// SQLite orders by rowid; MySQL by primary key.
func (c *Compiler) stableOrderKey(t *schema.Table) string {
	if c.Dialect == schema.SQLite {
		return "rowid ASC"
	}
	keys := make([]string, len(t.PrimaryKey))
	for i, k := range t.PrimaryKey {
		keys[i] = c.Dialect.Quote(k) + " ASC"
	}
	return strings.Join(keys, ", ")
}

func (c *Compiler) returning(b *strings.Builder, cols []string) {
	if len(cols) == 0 || !c.SupportsReturning() {
		return
	}
	b.WriteString(" RETURNING ")
	b.WriteString(c.columnList(cols))
}

func (c *Compiler) columnList(cols []string) string {
	quoted := make([]string, len(cols))
	for i, col := range cols {
		quoted[i] = c.Dialect.Quote(col)
	}
	return strings.Join(quoted, ", ")
}

// param converts a normalized value to a driver parameter.
func (c *Compiler) param(v any) any {
	if t, ok := v.(time.Time); ok && c.Dialect == schema.SQLite {
		return t.UTC().Format(sqliteTimeLayout)
	}
	return v
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
