package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/tablekit/internal/backend"
	"github.com/roach88/tablekit/internal/dberr"
	"github.com/roach88/tablekit/internal/queryir"
	"github.com/roach88/tablekit/internal/schema"
)

// Create implements backend.Backend.
func (s *Store) Create(ctx context.Context, t *schema.Table, row backend.Row) (backend.Row, error) {
	in, err := backend.CheckRow(t, row)
	if err != nil {
		return nil, err
	}
	generated, err := s.insert(ctx, t, in)
	if err != nil {
		return nil, err
	}
	slog.Debug("created row", "backend", s.Name(), "table", t.Name)
	return generated, nil
}

// CreateBatch implements backend.Backend. Rows are inserted one statement
// at a time inside the ambient transaction, or a private one if there is
// none, so generated values line up with their rows.
func (s *Store) CreateBatch(ctx context.Context, t *schema.Table, rows []backend.Row) ([]backend.Row, error) {
	ins := make([]backend.Row, len(rows))
	for i, row := range rows {
		in, err := backend.CheckRow(t, row)
		if err != nil {
			return nil, err
		}
		ins[i] = in
	}

	var out []backend.Row
	err := s.inTx(ctx, t, func(ctx context.Context) error {
		var err error
		out, err = s.insertAll(ctx, t, ins)
		return err
	})
	if err != nil {
		return nil, err
	}
	slog.Debug("created rows", "backend", s.Name(), "table", t.Name, "count", len(out))
	return out, nil
}

// inTx runs fn inside the ambient transaction, or a private one if there
// is none.
func (s *Store) inTx(ctx context.Context, t *schema.Table, fn func(ctx context.Context) error) error {
	if _, ok := backend.TxFrom(ctx, s); ok {
		return fn(ctx)
	}

	tx, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(backend.WithTx(ctx, s, tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			slog.Warn("rollback failed", "table", t.Name, "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit %s: %w", t.Name, err)
	}
	return nil
}

func (s *Store) insertAll(ctx context.Context, t *schema.Table, ins []backend.Row) ([]backend.Row, error) {
	out := make([]backend.Row, 0, len(ins))
	for _, in := range ins {
		generated, err := s.insert(ctx, t, in)
		if err != nil {
			return nil, err
		}
		out = append(out, generated)
	}
	return out, nil
}

// insert writes one normalized row and returns every managed column.
func (s *Store) insert(ctx context.Context, t *schema.Table, in backend.Row) (backend.Row, error) {
	gen, hasGen := t.GeneratedKey()
	if hasGen && gen.Kind != schema.KindInteger && in[gen.Name] == nil {
		in[gen.Name] = s.ids.Generate()
	}
	// An explicit NULL would suppress the column default.
	for _, c := range t.Columns {
		if c.Managed() && in[c.Name] == nil {
			delete(in, c.Name)
		}
	}

	managed := managedColumns(t)
	returning := s.compiler.SupportsReturning() && len(managed) > 0

	q := queryir.Insert{Table: t, Values: in}
	if returning {
		q.Returning = managed
	}
	stmt, args, err := s.compiler.Compile(q)
	if err != nil {
		return nil, dberr.Wrap(dberr.CodeInvalidQuery, t.Name, err, "compile insert")
	}

	if returning {
		rows, err := s.query(ctx, t, stmt, args...)
		if err != nil {
			return nil, mapError(t, "insert into", err)
		}
		if len(rows) != 1 {
			return nil, fmt.Errorf("insert into %s: expected 1 returned row, got %d", t.Name, len(rows))
		}
		return rows[0], nil
	}

	res, err := s.exec(ctx, stmt, args...)
	if err != nil {
		return nil, mapError(t, "insert into", err)
	}
	if len(managed) == 0 {
		return backend.Row{}, nil
	}

	key := make(map[string]any, len(t.PrimaryKey))
	for _, k := range t.PrimaryKey {
		key[k] = in[k]
	}
	if hasGen && gen.Kind == schema.KindInteger && in[gen.Name] == nil {
		id, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("insert into %s: read generated key: %w", t.Name, err)
		}
		key[gen.Name] = id
	}
	return s.refetch(ctx, t, key, managed)
}

// Update implements backend.Backend.
func (s *Store) Update(ctx context.Context, t *schema.Table, key backend.Row, changes backend.Row) (backend.Row, error) {
	pred, err := queryir.ForKey(t, key)
	if err != nil {
		return nil, err
	}
	set, err := backend.CheckChanges(t, changes)
	if err != nil {
		return nil, err
	}
	touched := backend.Touched(t)

	if len(set) == 0 && len(touched) == 0 {
		if _, err := s.Get(ctx, t, key); err != nil {
			return nil, err
		}
		return backend.Row{}, nil
	}

	returning := s.compiler.SupportsReturning() && len(touched) > 0
	q := queryir.Update{Table: t, Set: set, Touch: touched, Where: pred}
	if returning {
		q.Returning = touched
	}
	stmt, args, err := s.compiler.Compile(q)
	if err != nil {
		return nil, dberr.Wrap(dberr.CodeInvalidQuery, t.Name, err, "compile update")
	}

	if returning {
		rows, err := s.query(ctx, t, stmt, args...)
		if err != nil {
			return nil, mapError(t, "update", err)
		}
		if len(rows) == 0 {
			return nil, dberr.NotFound(t.Name, map[string]any(key))
		}
		slog.Debug("updated row", "backend", s.Name(), "table", t.Name)
		return rows[0], nil
	}

	res, err := s.exec(ctx, stmt, args...)
	if err != nil {
		return nil, mapError(t, "update", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("update %s: %w", t.Name, err)
	}
	if n == 0 {
		return nil, dberr.NotFound(t.Name, map[string]any(key))
	}
	slog.Debug("updated row", "backend", s.Name(), "table", t.Name)
	if len(touched) == 0 {
		return backend.Row{}, nil
	}
	return s.refetch(ctx, t, key, touched)
}

// UpdateWhere implements backend.Backend. Matching keys are read first so
// the updated rows can be returned even when changes move them out of f.
func (s *Store) UpdateWhere(ctx context.Context, t *schema.Table, f backend.Filter, changes backend.Row) ([]backend.Row, error) {
	pred, err := queryir.FromFilter(t, f)
	if err != nil {
		return nil, err
	}
	set, err := backend.CheckChanges(t, changes)
	if err != nil {
		return nil, err
	}
	touched := backend.Touched(t)

	out := []backend.Row{}
	err = s.inTx(ctx, t, func(ctx context.Context) error {
		keys, err := s.selectRows(ctx, queryir.Select{Table: t, Columns: t.PrimaryKey, Where: pred})
		if err != nil {
			return err
		}
		if len(keys) == 0 {
			return nil
		}

		if len(set) > 0 || len(touched) > 0 {
			stmt, args, err := s.compiler.Compile(queryir.Update{Table: t, Set: set, Touch: touched, Where: pred})
			if err != nil {
				return dberr.Wrap(dberr.CodeInvalidQuery, t.Name, err, "compile update")
			}
			if _, err := s.exec(ctx, stmt, args...); err != nil {
				return mapError(t, "update", err)
			}
		}

		for _, key := range keys {
			row, err := s.refetch(ctx, t, key, t.ColumnNames())
			if err != nil {
				return err
			}
			out = append(out, row)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slog.Debug("updated rows", "backend", s.Name(), "table", t.Name, "count", len(out))
	return out, nil
}

// Delete implements backend.Backend.
func (s *Store) Delete(ctx context.Context, t *schema.Table, key backend.Row) error {
	pred, err := queryir.ForKey(t, key)
	if err != nil {
		return err
	}
	return s.delete(ctx, t, pred)
}

// DeleteWhere implements backend.Backend.
func (s *Store) DeleteWhere(ctx context.Context, t *schema.Table, f backend.Filter) error {
	pred, err := queryir.FromFilter(t, f)
	if err != nil {
		return err
	}
	return s.delete(ctx, t, pred)
}

func (s *Store) delete(ctx context.Context, t *schema.Table, pred queryir.Predicate) error {
	stmt, args, err := s.compiler.Compile(queryir.Delete{Table: t, Where: pred})
	if err != nil {
		return dberr.Wrap(dberr.CodeInvalidQuery, t.Name, err, "compile delete")
	}
	res, err := s.exec(ctx, stmt, args...)
	if err != nil {
		return mapError(t, "delete from", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		slog.Debug("deleted rows", "backend", s.Name(), "table", t.Name, "count", n)
	}
	return nil
}

// refetch reads cols of the row with the given key.
func (s *Store) refetch(ctx context.Context, t *schema.Table, key map[string]any, cols []string) (backend.Row, error) {
	pred, err := queryir.ForKey(t, key)
	if err != nil {
		return nil, err
	}
	rows, err := s.selectRows(ctx, queryir.Select{Table: t, Columns: cols, Where: pred, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, dberr.NotFound(t.Name, key)
	}
	return rows[0], nil
}

// managedColumns lists the fetch_on_create and fetch_on_update columns.
func managedColumns(t *schema.Table) []string {
	var cols []string
	for _, c := range t.Columns {
		if c.Managed() {
			cols = append(cols, c.Name)
		}
	}
	return cols
}
