package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/roach88/tablekit/internal/backend"
	"github.com/roach88/tablekit/internal/dberr"
	"github.com/roach88/tablekit/internal/queryir"
	"github.com/roach88/tablekit/internal/schema"
)

// Get implements backend.Backend.
func (s *Store) Get(ctx context.Context, t *schema.Table, key backend.Row) (backend.Row, error) {
	pred, err := queryir.ForKey(t, key)
	if err != nil {
		return nil, err
	}

	rows, err := s.selectRows(ctx, queryir.Select{Table: t, Where: pred, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, dberr.NotFound(t.Name, map[string]any(key))
	}
	return rows[0], nil
}

// GetList implements backend.Backend.
// Returns an empty slice (not nil) when nothing matches.
func (s *Store) GetList(ctx context.Context, t *schema.Table, f backend.Filter) ([]backend.Row, error) {
	pred, err := queryir.FromFilter(t, f)
	if err != nil {
		return nil, err
	}
	return s.selectRows(ctx, queryir.Select{Table: t, Where: pred})
}

func (s *Store) selectRows(ctx context.Context, q queryir.Select) ([]backend.Row, error) {
	stmt, args, err := s.compiler.Compile(q)
	if err != nil {
		return nil, dberr.Wrap(dberr.CodeInvalidQuery, q.Table.Name, err, "compile select")
	}
	rows, err := s.query(ctx, q.Table, stmt, args...)
	if err != nil {
		return nil, mapError(q.Table, "select from", err)
	}
	return rows, nil
}

// Query implements backend.Raw. Placeholders are written as ?; slice
// arguments expand to IN lists.
func (s *Store) Query(ctx context.Context, stmt string, args ...any) ([]backend.Row, error) {
	stmt, args, err := s.prepareRaw(stmt, args)
	if err != nil {
		return nil, err
	}
	rows, err := s.query(ctx, nil, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("raw query: %w", err)
	}
	return rows, nil
}

// Exec implements backend.Raw and returns the number of affected rows.
func (s *Store) Exec(ctx context.Context, stmt string, args ...any) (int64, error) {
	stmt, args, err := s.prepareRaw(stmt, args)
	if err != nil {
		return 0, err
	}
	res, err := s.exec(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("raw exec: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) prepareRaw(stmt string, args []any) (string, []any, error) {
	stmt, args, err := sqlx.In(stmt, args...)
	if err != nil {
		return "", nil, dberr.Wrap(dberr.CodeInvalidQuery, "", err, "expand params")
	}
	return s.db.Rebind(stmt), args, nil
}
