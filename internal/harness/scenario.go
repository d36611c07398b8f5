package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/roach88/tablekit/internal/schema"
)

// Scenario is a sequence of table operations run identically against every
// backend under test.
type Scenario struct {
	// Name uniquely identifies this scenario. It names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario checks.
	Description string `yaml:"description"`

	// Tables declares the tables the scenario creates before it runs.
	Tables []TableDef `yaml:"tables"`

	// Setup steps establish initial rows. They must succeed and are not
	// traced.
	Setup []Step `yaml:"setup,omitempty"`

	// Flow is the traced sequence of operations.
	Flow []Step `yaml:"flow"`

	// Assertions check the final table contents and the trace.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// TableDef declares one table.
type TableDef struct {
	Name    string      `yaml:"name"`
	Columns []ColumnDef `yaml:"columns"`
}

// ColumnDef declares one column. Type is a schema kind name such as
// "integer", "text" or "timestamp".
type ColumnDef struct {
	Name          string `yaml:"name"`
	Type          string `yaml:"type"`
	PrimaryKey    bool   `yaml:"pk,omitempty"`
	FetchOnCreate bool   `yaml:"fetch_on_create,omitempty"`
	FetchOnUpdate bool   `yaml:"fetch_on_update,omitempty"`
	Unique        bool   `yaml:"unique,omitempty"`
	Null          bool   `yaml:"null,omitempty"`
	Size          int    `yaml:"size,omitempty"`
}

// Step is one backend operation.
type Step struct {
	// Op is one of create, create_batch, get, list, update, delete or
	// delete_where.
	Op    string `yaml:"op"`
	Table string `yaml:"table"`

	Row     map[string]any   `yaml:"row,omitempty"`     // create
	Rows    []map[string]any `yaml:"rows,omitempty"`    // create_batch
	Key     map[string]any   `yaml:"key,omitempty"`     // get, update, delete
	Filter  map[string]any   `yaml:"filter,omitempty"`  // list, delete_where
	Changes map[string]any   `yaml:"changes,omitempty"` // update

	// Expect validates the outcome. If nil the step must succeed.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause specifies the expected outcome of a step.
type ExpectClause struct {
	// Error is the expected error code, e.g. "NOT_FOUND". Empty means the
	// step must succeed.
	Error string `yaml:"error,omitempty"`

	// Count is the expected number of returned rows.
	Count *int `yaml:"count,omitempty"`

	// Row is a subset match against the first returned row.
	Row map[string]any `yaml:"row,omitempty"`
}

// Assertion validates the trace or the final table contents.
type Assertion struct {
	// Type is one of row_count, final_state or trace_count.
	Type string `yaml:"type"`

	// Table is required by row_count and final_state, optional for
	// trace_count.
	Table string `yaml:"table,omitempty"`

	// Where filters rows (row_count, final_state).
	Where map[string]any `yaml:"where,omitempty"`

	// Expect is a subset match against the single row final_state selects.
	Expect map[string]any `yaml:"expect,omitempty"`

	// Op is the traced operation counted by trace_count.
	Op string `yaml:"op,omitempty"`

	Count int `yaml:"count,omitempty"`
}

// Step operations.
const (
	OpCreate      = "create"
	OpCreateBatch = "create_batch"
	OpGet         = "get"
	OpList        = "list"
	OpUpdate      = "update"
	OpUpdateWhere = "update_where"
	OpDelete      = "delete"
	OpDeleteWhere = "delete_where"
)

// Assertion type constants.
const (
	AssertRowCount   = "row_count"
	AssertFinalState = "final_state"
	AssertTraceCount = "trace_count"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates a scenario document.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// LoadDir loads every *.yaml scenario in dir, sorted by file name.
func LoadDir(dir string) ([]*Scenario, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no scenarios found in %s", dir)
	}
	sort.Strings(paths)

	scenarios := make([]*Scenario, 0, len(paths))
	for _, p := range paths {
		s, err := LoadScenario(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(p), err)
		}
		scenarios = append(scenarios, s)
	}
	return scenarios, nil
}

// BuildTables converts the table declarations into schema tables, in
// declaration order.
func (s *Scenario) BuildTables() ([]*schema.Table, error) {
	tables := make([]*schema.Table, 0, len(s.Tables))
	for _, def := range s.Tables {
		cols := make([]schema.Column, 0, len(def.Columns))
		for _, cd := range def.Columns {
			kind, err := schema.ParseKind(cd.Type)
			if err != nil {
				return nil, fmt.Errorf("table %s column %s: %w", def.Name, cd.Name, err)
			}
			cols = append(cols, schema.Column{
				Name:          cd.Name,
				Kind:          kind,
				PrimaryKey:    cd.PrimaryKey,
				FetchOnCreate: cd.FetchOnCreate,
				FetchOnUpdate: cd.FetchOnUpdate,
				Unique:        cd.Unique,
				Nullable:      cd.Null,
				MaxLength:     cd.Size,
			})
		}
		t, err := schema.NewTable(def.Name, cols...)
		if err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}
	return tables, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if len(s.Tables) == 0 {
		return fmt.Errorf("tables list is required and must be non-empty")
	}

	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}

	declared := make(map[string]bool, len(s.Tables))
	for i, def := range s.Tables {
		if def.Name == "" {
			return fmt.Errorf("tables[%d]: name is required", i)
		}
		if len(def.Columns) == 0 {
			return fmt.Errorf("tables[%d]: columns list is required", i)
		}
		declared[def.Name] = true
	}

	for i, step := range s.Setup {
		if err := validateStep(fmt.Sprintf("setup[%d]", i), step, declared); err != nil {
			return err
		}
		if step.Expect != nil && step.Expect.Error != "" {
			return fmt.Errorf("setup[%d]: setup steps cannot expect an error", i)
		}
	}

	for i, step := range s.Flow {
		if err := validateStep(fmt.Sprintf("flow[%d]", i), step, declared); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion, declared); err != nil {
			return err
		}
	}

	return nil
}

func validateStep(where string, step Step, declared map[string]bool) error {
	if step.Table == "" {
		return fmt.Errorf("%s: table is required", where)
	}
	if !declared[step.Table] {
		return fmt.Errorf("%s: table %q is not declared", where, step.Table)
	}

	switch step.Op {
	case OpCreate:
		if step.Row == nil {
			return fmt.Errorf("%s: row is required for create (use {} for an empty row)", where)
		}
	case OpCreateBatch:
		if len(step.Rows) == 0 {
			return fmt.Errorf("%s: rows list is required for create_batch", where)
		}
	case OpGet, OpDelete:
		if len(step.Key) == 0 {
			return fmt.Errorf("%s: key is required for %s", where, step.Op)
		}
	case OpUpdate:
		if len(step.Key) == 0 {
			return fmt.Errorf("%s: key is required for update", where)
		}
		if step.Changes == nil {
			return fmt.Errorf("%s: changes is required for update", where)
		}
	case OpUpdateWhere:
		if step.Changes == nil {
			return fmt.Errorf("%s: changes is required for update_where", where)
		}
	case OpList, OpDeleteWhere:
	case "":
		return fmt.Errorf("%s: op is required", where)
	default:
		return fmt.Errorf("%s: unknown op %q", where, step.Op)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion, declared map[string]bool) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}
	if a.Table != "" && !declared[a.Table] {
		return fmt.Errorf("assertions[%d]: table %q is not declared", index, a.Table)
	}

	switch a.Type {
	case AssertRowCount:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for row_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for row_count", index)
		}
	case AssertFinalState:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	case AssertTraceCount:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
