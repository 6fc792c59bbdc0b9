package api

import (
	"encoding/json"
	"time"
)

// ReportEntry records the outcome of one executed iteration.
type ReportEntry struct {
	// Step is the name of the step this iteration belongs to.
	Step string `json:"step"`

	// Iteration is the zero-based index of this iteration within its step.
	Iteration uint `json:"iteration"`

	// Success records whether the invocation succeeded.
	Success bool `json:"success"`

	// Elapsed is the wall-clock time the invocation took, as measured by the
	// runner.
	Elapsed time.Duration `json:"elapsed"`

	// OverBudget is set when the step carries a duration budget and Elapsed
	// exceeded it. Budgets are advisory; this flag is the only consequence.
	OverBudget bool `json:"over_budget,omitempty"`

	// Error carries the invocation failure message, if any.
	Error string `json:"error,omitempty"`

	// Details is the opaque payload reported by the invoker.
	Details json.RawMessage `json:"details,omitempty"`
}

// SequenceReport is the ordered record of every iteration a run executed.
// Entries appear in execution order: all iterations of the first step, then
// all iterations of the second, and so on.
type SequenceReport struct {
	Entries []ReportEntry `json:"entries"`

	// Aborted is set when the run ended early on an unusable environment or
	// an operator cancel. Entries still holds everything executed up to that
	// point.
	Aborted bool `json:"aborted,omitempty"`
}

// Record appends an entry to the report. Entries must be recorded in
// execution order; the runner is the only writer.
func (r *SequenceReport) Record(e ReportEntry) {
	r.Entries = append(r.Entries, e)
}

// Failures returns the number of iterations that did not succeed.
func (r *SequenceReport) Failures() int {
	var n int
	for _, e := range r.Entries {
		if !e.Success {
			n++
		}
	}
	return n
}

// Succeeded reports whether every executed iteration succeeded and the run
// was not aborted.
func (r *SequenceReport) Succeeded() bool {
	return !r.Aborted && r.Failures() == 0
}
