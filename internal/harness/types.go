package harness

// TraceEvent records one flow step and its outcome.
type TraceEvent struct {
	Seq   int    `json:"seq"`
	Op    string `json:"op"`
	Table string `json:"table"`

	// Error is the error code of a failed step, or "ERROR" for failures
	// that carry no code.
	Error string `json:"error,omitempty"`

	// Rows holds what the step returned: generated values for create and
	// update, the matched rows for get and list.
	Rows []map[string]any `json:"rows,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Backend names the backend the scenario ran against.
	Backend string `json:"-"`

	// Pass is true if every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace contains one event per flow step, in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// State holds the final rows of every declared table, keyed by table
	// name.
	State map[string][]map[string]any `json:"state,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		State:  make(map[string][]map[string]any),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends a trace event, numbering it.
func (r *Result) AddTrace(ev TraceEvent) {
	ev.Seq = len(r.Trace) + 1
	r.Trace = append(r.Trace, ev)
}
