package harness

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/tablekit/internal/backend"
	"github.com/roach88/tablekit/internal/dberr"
	"github.com/roach88/tablekit/internal/schema"
)

// Redacted replaces backend-generated timestamps in traces, since each
// backend has its own clock.
const Redacted = "(generated)"

// TableCreator is implemented by backends that can create tables.
type TableCreator interface {
	CreateTable(ctx context.Context, t *schema.Table) error
}

// Harness runs scenarios against one backend.
type Harness struct {
	b      backend.Backend
	tables map[string]*schema.Table
	order  []*schema.Table
	logger *slog.Logger
}

// Run executes a scenario against b and returns the result.
//
// Execution flow:
//  1. Create the declared tables, if b can create tables
//  2. Execute setup steps (any failure aborts the run)
//  3. Execute and trace flow steps, checking expect clauses
//  4. Snapshot every declared table
//  5. Evaluate assertions
//
// Step failures are recorded in the result; the returned error is reserved
// for scenarios that cannot run at all.
func Run(ctx context.Context, scenario *Scenario, b backend.Backend) (*Result, error) {
	tables, err := scenario.BuildTables()
	if err != nil {
		return nil, fmt.Errorf("failed to build tables: %w", err)
	}

	h := &Harness{
		b:      b,
		tables: make(map[string]*schema.Table, len(tables)),
		order:  tables,
		logger: slog.Default().With("scenario", scenario.Name, "backend", b.Name()),
	}
	for _, t := range tables {
		h.tables[t.Name] = t
	}

	if tc, ok := b.(TableCreator); ok {
		for _, t := range tables {
			if err := tc.CreateTable(ctx, t); err != nil {
				return nil, fmt.Errorf("failed to create table %s: %w", t.Name, err)
			}
		}
	}

	result := NewResult()
	result.Backend = b.Name()

	if err := h.executeSetup(ctx, scenario.Setup); err != nil {
		return nil, fmt.Errorf("failed to execute setup: %w", err)
	}
	h.executeFlow(ctx, scenario.Flow, result)

	if err := h.snapshot(ctx, result); err != nil {
		return nil, fmt.Errorf("failed to snapshot state: %w", err)
	}

	for _, msg := range h.evaluateAssertions(ctx, result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

// executeSetup runs all setup steps. Setup steps are not traced.
func (h *Harness) executeSetup(ctx context.Context, setup []Step) error {
	for i, step := range setup {
		if _, err := h.execute(ctx, step); err != nil {
			return fmt.Errorf("setup[%d] %s %s: %w", i, step.Op, step.Table, err)
		}
	}
	return nil
}

// executeFlow runs the flow steps, tracing each and checking expect clauses.
func (h *Harness) executeFlow(ctx context.Context, flow []Step, result *Result) {
	for i, step := range flow {
		rows, err := h.execute(ctx, step)
		t := h.tables[step.Table]

		ev := TraceEvent{Op: step.Op, Table: step.Table}
		if err != nil {
			ev.Error = errorCode(err)
			h.logger.Debug("step failed", "step", i, "op", step.Op, "error", err)
		} else if rows != nil {
			ev.Rows = make([]map[string]any, len(rows))
			for j, row := range rows {
				ev.Rows[j] = present(t, row)
			}
		}
		result.AddTrace(ev)

		for _, msg := range checkExpect(t, step.Expect, rows, err) {
			result.AddError(fmt.Sprintf("flow[%d] %s %s: %s", i, step.Op, step.Table, msg))
		}
	}
}

// execute runs one step and returns the rows it produced.
func (h *Harness) execute(ctx context.Context, step Step) ([]backend.Row, error) {
	t, ok := h.tables[step.Table]
	if !ok {
		return nil, fmt.Errorf("unknown table %q", step.Table)
	}

	switch step.Op {
	case OpCreate:
		row, err := h.b.Create(ctx, t, backend.Row(step.Row))
		if err != nil {
			return nil, err
		}
		return []backend.Row{row}, nil
	case OpCreateBatch:
		in := make([]backend.Row, len(step.Rows))
		for i, r := range step.Rows {
			in[i] = backend.Row(r)
		}
		return h.b.CreateBatch(ctx, t, in)
	case OpGet:
		row, err := h.b.Get(ctx, t, backend.Row(step.Key))
		if err != nil {
			return nil, err
		}
		return []backend.Row{row}, nil
	case OpList:
		return h.b.GetList(ctx, t, backend.Filter(step.Filter))
	case OpUpdate:
		row, err := h.b.Update(ctx, t, backend.Row(step.Key), backend.Row(step.Changes))
		if err != nil {
			return nil, err
		}
		return []backend.Row{row}, nil
	case OpUpdateWhere:
		return h.b.UpdateWhere(ctx, t, backend.Filter(step.Filter), backend.Row(step.Changes))
	case OpDelete:
		return nil, h.b.Delete(ctx, t, backend.Row(step.Key))
	case OpDeleteWhere:
		return nil, h.b.DeleteWhere(ctx, t, backend.Filter(step.Filter))
	default:
		return nil, fmt.Errorf("unknown op %q", step.Op)
	}
}

// snapshot records the final rows of every declared table.
func (h *Harness) snapshot(ctx context.Context, result *Result) error {
	for _, t := range h.order {
		rows, err := h.b.GetList(ctx, t, nil)
		if err != nil {
			return fmt.Errorf("list %s: %w", t.Name, err)
		}
		state := make([]map[string]any, len(rows))
		for i, row := range rows {
			state[i] = present(t, row)
		}
		result.State[t.Name] = state
	}
	return nil
}

// errorCode returns the trace representation of a step error.
func errorCode(err error) string {
	if code := dberr.CodeOf(err); code != "" {
		return string(code)
	}
	return "ERROR"
}

// present converts a backend row into backend-independent trace values:
// generated timestamps are redacted, other times become RFC 3339 strings
// and blobs become strings.
func present(t *schema.Table, row backend.Row) map[string]any {
	out := make(map[string]any, len(row))
	for name, v := range row {
		c, ok := t.Column(name)
		if ok && c.Kind == schema.KindTimestamp && c.Managed() && v != nil {
			out[name] = Redacted
			continue
		}
		switch x := v.(type) {
		case time.Time:
			out[name] = x.UTC().Format(time.RFC3339Nano)
		case []byte:
			out[name] = string(x)
		default:
			out[name] = v
		}
	}
	return out
}
