package task

import (
	"time"

	"github.com/testground/sequencer/pkg/api"
)

// TaskState is the last known scheduling state of a task.
// StateScheduled: initial state, the task sits in the queue.
// StateProcessing: a worker has claimed the task and is driving the run.
// StateComplete: work has finished; check the task outcome and report.
type TaskState string

const (
	StateScheduled  TaskState = "scheduled"
	StateProcessing TaskState = "processing"
	StateComplete   TaskState = "complete"
)

// Outcome is the terminal result of a completed task.
// OutcomeUnknown: not terminal yet.
// OutcomeSuccess: every iteration of the sequence succeeded.
// OutcomeFailure: at least one iteration failed, but the sequence ran to the end.
// OutcomeAborted: the run was cut short by an unusable environment or a cancel.
type Outcome string

const (
	OutcomeUnknown Outcome = "unknown"
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeAborted Outcome = "aborted"
)

// DatedState is a state transition with the time it was entered.
type DatedState struct {
	State   TaskState `json:"state"`
	Created time.Time `json:"created"`
}

// Task is one scheduled sequence run. This schema is both the storage format
// in the task database and the wire format returned to clients querying a
// run's status.
type Task struct {
	Version  int       `json:"version"`  // schema version
	Priority int       `json:"priority"` // scheduling priority; higher runs first
	Created  time.Time `json:"created"`
	ID       string    `json:"id"`

	// Definition is the sequence to execute.
	Definition *api.SequenceDefinition `json:"definition"`

	// Machines is the machine set this run exclusively owns for its duration.
	Machines []api.MachineHandle `json:"machines"`

	// Invoker names the invocation capability to drive the run with.
	Invoker string `json:"invoker"`

	// States is the dated state history, oldest first.
	States []DatedState `json:"states"`

	// Outcome, Report and Error are populated when the task completes.
	Outcome Outcome             `json:"outcome"`
	Report  *api.SequenceReport `json:"report,omitempty"`
	Error   string              `json:"error,omitempty"`
}

// State returns the latest dated state of the task.
func (t *Task) State() DatedState {
	if len(t.States) == 0 {
		return DatedState{}
	}
	return t.States[len(t.States)-1]
}

// Name returns a human-readable identifier for logs: the sequence name when
// the definition carries one, else the task ID.
func (t *Task) Name() string {
	if t.Definition != nil && t.Definition.Metadata.Name != "" {
		return t.Definition.Metadata.Name
	}
	return t.ID
}
