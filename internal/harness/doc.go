// Package harness runs YAML scenarios against backends and checks that they
// behave identically.
//
// A scenario declares tables, runs a flow of table operations and asserts
// on the outcome. Running the same scenario against the in-memory backend
// and a SQL store and comparing the traces is how the two are kept in
// agreement.
//
// # Scenario Format
//
//	name: orgs_crud
//	description: "Create, read, update and delete orgs"
//	tables:
//	  - name: orgs
//	    columns:
//	      - { name: id, type: integer, pk: true, fetch_on_create: true }
//	      - { name: name, type: text, unique: true, size: 45 }
//	setup:
//	  - { op: create, table: orgs, row: { name: acme } }
//	flow:
//	  - op: create
//	    table: orgs
//	    row: { name: acme }
//	    expect: { error: INTEGRITY_ERROR }
//	  - op: list
//	    table: orgs
//	    filter: { id: [1, 2] }
//	    expect: { count: 1 }
//	assertions:
//	  - { type: final_state, table: orgs, where: { id: 1 }, expect: { name: acme } }
//
// Steps are create, create_batch, get, list, update, update_where, delete
// and delete_where. Filters follow the backend rules: a list means IN, null
// means IS NULL.
//
// # Assertion Types
//
//   - row_count: counts the rows of a table matching a filter
//   - final_state: selects exactly one row and checks a subset of its fields
//   - trace_count: counts successful flow steps of one op
//
// # Deterministic Traces
//
// Generated timestamps are replaced by Redacted, since every backend has
// its own clock. Generated keys are kept, so backends under comparison must
// start empty and use the same identifier generator.
//
// Unfiltered reads come back in insertion order on the memory backend and
// SQLite, but in primary-key order on MySQL. Scenarios meant to run against
// MySQL must insert caller-supplied keys in ascending order.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/orgs_crud.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	report, err := harness.RunParity(ctx, scenario, memory.New(), sqliteStore)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, d := range report.Diffs {
//	    log.Println(d)
//	}
package harness
