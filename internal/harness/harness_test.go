package harness

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tablekit/internal/backend"
	"github.com/roach88/tablekit/internal/config"
	"github.com/roach88/tablekit/internal/memory"
	"github.com/roach88/tablekit/internal/store"
	"github.com/roach88/tablekit/internal/testutil"
)

func newMemory() backend.Backend {
	return memory.New(
		memory.WithClock(testutil.NewStepClock()),
		memory.WithIDGenerator(testutil.NewSequenceGenerator()),
	)
}

func newSQLite(t *testing.T) backend.Backend {
	t.Helper()
	cfg := config.Default()
	cfg.DSN = filepath.Join(t.TempDir(), "harness.db")
	s, err := store.Open(cfg, store.WithIDGenerator(testutil.NewSequenceGenerator()))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestScenarios_Parity(t *testing.T) {
	scenarios, err := LoadDir("testdata/scenarios")
	require.NoError(t, err)
	require.NotEmpty(t, scenarios)

	for _, scenario := range scenarios {
		t.Run(scenario.Name, func(t *testing.T) {
			report, err := RunParity(context.Background(), scenario, newMemory(), newSQLite(t))
			require.NoError(t, err)

			for _, res := range report.Results {
				assert.Empty(t, res.Errors, "backend %s", res.Backend)
			}
			assert.Empty(t, report.Diffs)
			assert.True(t, report.Pass())

			require.NoError(t, AssertGolden(t, scenario.Name, report.Results[0]))
		})
	}
}

func TestRunWithGolden(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/orgs_crud.yaml")
	require.NoError(t, err)

	result, err := RunWithGolden(t, scenario, newSQLite(t))
	require.NoError(t, err)
	assert.True(t, result.Pass)
	assert.Equal(t, "sqlite3", result.Backend)
}

func TestRun_RecordsFailedExpectations(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: failing
description: "Expectations that do not hold"
tables:
  - name: orgs
    columns:
      - { name: id, type: integer, pk: true, fetch_on_create: true }
      - { name: name, type: text }
flow:
  - op: create
    table: orgs
    row: { name: acme }
    expect: { error: INTEGRITY_ERROR }
  - op: get
    table: orgs
    key: { id: 7 }
  - op: list
    table: orgs
    expect: { count: 3 }
assertions:
  - { type: row_count, table: orgs, count: 2 }
  - { type: final_state, table: orgs, where: { id: 1 }, expect: { name: globex } }
  - { type: trace_count, op: get, count: 1 }
`))
	require.NoError(t, err)

	result, err := Run(context.Background(), scenario, newMemory())
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 6)
	assert.Contains(t, result.Errors[0], "expected error INTEGRITY_ERROR, step succeeded")
	assert.Contains(t, result.Errors[1], "unexpected error")
	assert.Contains(t, result.Errors[2], "expected 3 rows, got 1")
	assert.Contains(t, result.Errors[3], "assertions[0]")
	assert.Contains(t, result.Errors[4], "name: expected globex, got acme")
	assert.Contains(t, result.Errors[5], "1 successful get steps, got 0")

	require.Len(t, result.Trace, 3)
	assert.Equal(t, "NOT_FOUND", result.Trace[1].Error)
	assert.Equal(t, 2, result.Trace[1].Seq)
}

func TestRun_SetupFailureAborts(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: bad_setup
description: "Setup violating a constraint"
tables:
  - name: orgs
    columns:
      - { name: id, type: integer, pk: true }
flow:
  - { op: list, table: orgs }
setup:
  - { op: create, table: orgs, row: { id: 1 } }
  - { op: create, table: orgs, row: { id: 1 } }
`))
	require.NoError(t, err)

	_, err = Run(context.Background(), scenario, newMemory())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "setup[1]")
}

func TestRun_BadColumnType(t *testing.T) {
	scenario := &Scenario{
		Name:        "bad_type",
		Description: "Unknown column kind",
		Tables:      []TableDef{{Name: "t", Columns: []ColumnDef{{Name: "id", Type: "decimal", PrimaryKey: true}}}},
		Flow:        []Step{{Op: OpList, Table: "t"}},
	}

	_, err := Run(context.Background(), scenario, newMemory())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown column kind")
}

func TestCompare(t *testing.T) {
	a := NewResult()
	a.Backend = "memory"
	a.AddTrace(TraceEvent{Op: OpGet, Table: "orgs", Rows: []map[string]any{{"id": int64(1)}}})
	a.State["orgs"] = []map[string]any{{"id": int64(1)}}

	b := NewResult()
	b.Backend = "sqlite3"
	b.AddTrace(TraceEvent{Op: OpGet, Table: "orgs", Rows: []map[string]any{{"id": 1}}})
	b.AddTrace(TraceEvent{Op: OpDelete, Table: "orgs"})
	b.State["orgs"] = []map[string]any{}

	diffs, err := Compare(a, b)
	require.NoError(t, err)
	require.Len(t, diffs, 2)
	assert.Contains(t, diffs[0], "trace[1]: memory=null")
	assert.Contains(t, diffs[1], "state.orgs")
}

func TestRunParity_NoBackends(t *testing.T) {
	_, err := RunParity(context.Background(), &Scenario{Name: "x"})
	assert.Error(t, err)
}

func TestPresent(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: present
description: "Trace values"
tables:
  - name: events
    columns:
      - { name: id, type: integer, pk: true }
      - { name: at, type: timestamp, "null": true }
      - { name: body, type: blob, "null": true }
      - { name: created_at, type: timestamp, fetch_on_create: true }
flow:
  - op: create
    table: events
    row: { id: 1, at: "2024-03-01T10:00:00Z", body: "hi" }
`))
	require.NoError(t, err)

	result, err := Run(context.Background(), scenario, newMemory())
	require.NoError(t, err)
	require.True(t, result.Pass, result.Errors)

	assert.Equal(t, []map[string]any{{
		"id":         int64(1),
		"at":         "2024-03-01T10:00:00Z",
		"body":       "hi",
		"created_at": Redacted,
	}}, result.State["events"])
}
