package harness

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/roach88/tablekit/internal/backend"
)

// Report is the outcome of running one scenario against several backends.
type Report struct {
	Scenario string
	Results  []*Result

	// Diffs lists every point where a result differs from the first one.
	Diffs []string
}

// Pass reports whether every run passed and all runs agree.
func (r *Report) Pass() bool {
	if len(r.Diffs) > 0 {
		return false
	}
	for _, res := range r.Results {
		if !res.Pass {
			return false
		}
	}
	return true
}

// RunParity runs scenario against each backend in turn and compares the
// traces and final states. Backends must start empty.
func RunParity(ctx context.Context, scenario *Scenario, backends ...backend.Backend) (*Report, error) {
	if len(backends) == 0 {
		return nil, fmt.Errorf("no backends to compare")
	}

	report := &Report{Scenario: scenario.Name}
	for _, b := range backends {
		res, err := Run(ctx, scenario, b)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", b.Name(), err)
		}
		report.Results = append(report.Results, res)
	}

	base := report.Results[0]
	for _, other := range report.Results[1:] {
		diffs, err := Compare(base, other)
		if err != nil {
			return nil, err
		}
		report.Diffs = append(report.Diffs, diffs...)
	}
	return report, nil
}

// Compare lists the trace events and tables on which two results differ.
// Values are compared by their JSON encoding.
func Compare(a, b *Result) ([]string, error) {
	var diffs []string

	n := max(len(a.Trace), len(b.Trace))
	for i := range n {
		var ea, eb any
		if i < len(a.Trace) {
			ea = a.Trace[i]
		}
		if i < len(b.Trace) {
			eb = b.Trace[i]
		}
		d, err := diff(fmt.Sprintf("trace[%d]", i), a.Backend, b.Backend, ea, eb)
		if err != nil {
			return nil, err
		}
		diffs = append(diffs, d...)
	}

	tables := make(map[string]any, len(a.State))
	for name := range a.State {
		tables[name] = nil
	}
	for name := range b.State {
		tables[name] = nil
	}
	for _, name := range sortedKeys(tables) {
		d, err := diff("state."+name, a.Backend, b.Backend, a.State[name], b.State[name])
		if err != nil {
			return nil, err
		}
		diffs = append(diffs, d...)
	}
	return diffs, nil
}

func diff(where, nameA, nameB string, a, b any) ([]string, error) {
	ja, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	jb, err := json.Marshal(b)
	if err != nil {
		return nil, err
	}
	if bytes.Equal(ja, jb) {
		return nil, nil
	}
	return []string{fmt.Sprintf("%s: %s=%s %s=%s", where, nameA, ja, nameB, jb)}, nil
}
