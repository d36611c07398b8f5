package harness

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/tablekit/internal/backend"
	"github.com/roach88/tablekit/internal/queryir"
	"github.com/roach88/tablekit/internal/schema"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	return fmt.Sprintf("assertion failed: %s: expected %s, got %s", e.Type, e.Expected, e.Actual)
}

// checkExpect validates a step outcome. A nil clause requires success.
func checkExpect(t *schema.Table, exp *ExpectClause, rows []backend.Row, err error) []string {
	if exp == nil {
		exp = &ExpectClause{}
	}

	if exp.Error != "" {
		if err == nil {
			return []string{fmt.Sprintf("expected error %s, step succeeded", exp.Error)}
		}
		if code := errorCode(err); code != exp.Error {
			return []string{fmt.Sprintf("expected error %s, got %s (%v)", exp.Error, code, err)}
		}
		return nil
	}
	if err != nil {
		return []string{fmt.Sprintf("unexpected error: %v", err)}
	}

	var msgs []string
	if exp.Count != nil && len(rows) != *exp.Count {
		msgs = append(msgs, fmt.Sprintf("expected %d rows, got %d", *exp.Count, len(rows)))
	}
	if len(exp.Row) > 0 {
		if len(rows) == 0 {
			msgs = append(msgs, "expected a row, got none")
		} else if diff := matchRow(t, rows[0], exp.Row); diff != "" {
			msgs = append(msgs, diff)
		}
	}
	return msgs
}

// evaluateAssertions evaluates all assertions and returns the failures.
func (h *Harness) evaluateAssertions(ctx context.Context, result *Result, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertRowCount:
			err = h.assertRowCount(ctx, a)
		case AssertFinalState:
			err = h.assertFinalState(ctx, a)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

func (h *Harness) assertRowCount(ctx context.Context, a Assertion) error {
	rows, err := h.b.GetList(ctx, h.tables[a.Table], backend.Filter(a.Where))
	if err != nil {
		return fmt.Errorf("query %s: %w", a.Table, err)
	}
	if len(rows) != a.Count {
		return &AssertionError{
			Type:     AssertRowCount,
			Expected: fmt.Sprintf("%d rows in %s%s", a.Count, a.Table, formatWhere(a.Where)),
			Actual:   fmt.Sprintf("%d rows", len(rows)),
		}
	}
	return nil
}

// assertFinalState requires exactly one row to match Where and checks the
// Expect fields against it.
func (h *Harness) assertFinalState(ctx context.Context, a Assertion) error {
	t := h.tables[a.Table]
	rows, err := h.b.GetList(ctx, t, backend.Filter(a.Where))
	if err != nil {
		return fmt.Errorf("query %s: %w", a.Table, err)
	}
	if len(rows) != 1 {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("one row in %s%s", a.Table, formatWhere(a.Where)),
			Actual:   fmt.Sprintf("%d rows", len(rows)),
		}
	}
	if diff := matchRow(t, rows[0], a.Expect); diff != "" {
		return &AssertionError{Type: AssertFinalState, Expected: formatWhere(a.Expect), Actual: diff}
	}
	return nil
}

func assertTraceCount(trace []TraceEvent, a Assertion) error {
	n := 0
	for _, ev := range trace {
		if ev.Op == a.Op && (a.Table == "" || ev.Table == a.Table) && ev.Error == "" {
			n++
		}
	}
	if n != a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d successful %s steps", a.Count, a.Op),
			Actual:   fmt.Sprintf("%d", n),
		}
	}
	return nil
}

// matchRow checks the expected fields against row (subset match) and
// describes the first mismatch. Expected values are normalized with the
// column's rules first, so YAML integers match int64 columns and RFC 3339
// strings match timestamps. A nil expectation matches NULL.
func matchRow(t *schema.Table, row backend.Row, expected map[string]any) string {
	for _, name := range sortedKeys(expected) {
		want := expected[name]
		c, ok := t.Resolve(name)
		if !ok {
			return fmt.Sprintf("table %s has no column %q", t.Name, name)
		}
		got, present := row[c.Name]
		if !present {
			return fmt.Sprintf("%s: missing", c.Name)
		}
		norm, err := c.Normalize(want)
		if err != nil {
			return fmt.Sprintf("%s: %v", c.Name, err)
		}
		if norm == nil && got == nil {
			continue
		}
		if !queryir.Equal(norm, got) {
			return fmt.Sprintf("%s: expected %v, got %v", c.Name, want, got)
		}
	}
	return ""
}

// formatWhere renders a filter deterministically for messages.
func formatWhere(where map[string]any) string {
	if len(where) == 0 {
		return ""
	}
	parts := make([]string, 0, len(where))
	for _, k := range sortedKeys(where) {
		parts = append(parts, fmt.Sprintf("%s=%v", k, where[k]))
	}
	return " where " + strings.Join(parts, ", ")
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
