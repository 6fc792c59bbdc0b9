package api

import (
	"context"
	"encoding/json"
	"time"
)

// MachineHandle identifies one target machine. The scheduler treats it as
// opaque and only passes it through to the invocation capability; Addr is
// whatever the invoker needs to reach the machine.
type MachineHandle struct {
	ID   string `toml:"id" json:"id"`
	Addr string `toml:"addr" json:"addr"`
}

// InvocationResult is the outcome of a single test invocation, as reported
// by the invocation capability. Details is opaque to the scheduler; it is
// carried into the report verbatim for downstream consumers.
type InvocationResult struct {
	Success bool            `json:"success"`
	Elapsed time.Duration   `json:"elapsed"`
	Details json.RawMessage `json:"details,omitempty"`
}

// Invoker is the narrow capability through which the scheduler drives test
// executions. It is supplied by the surrounding test-execution framework.
//
// An Invoke call runs one iteration of a test, by name, with the given
// parameters, against the given machines, and blocks until it finishes. A
// failed test run is reported through InvocationResult.Success, not through
// the error return. A non-nil error means the invocation itself could not be
// carried out; if that error is (or wraps) an EnvironmentError, the machines
// are considered lost and the sequence run aborts.
type Invoker interface {
	// ID returns the canonical identifier for this invoker.
	ID() string

	// Invoke runs one iteration of the named test.
	Invoke(ctx context.Context, name string, params map[string]string, machines []MachineHandle) (*InvocationResult, error)
}

// ExecutionContext is the machine set and invocation capability a sequence
// runs against. It is shared by reference across all steps of a run and is
// exclusively owned by that run for its duration; exclusivity is enforced by
// whatever allocates machines to runs, not by the runner.
type ExecutionContext struct {
	Machines []MachineHandle
	Invoker  Invoker
}

// Validate reports an EnvironmentError if this context cannot host a run:
// no invoker, or an empty machine set.
func (ec *ExecutionContext) Validate() error {
	if ec == nil {
		return NewEnvironmentError("nil execution context")
	}
	if ec.Invoker == nil {
		return NewEnvironmentError("execution context has no invoker")
	}
	if len(ec.Machines) == 0 {
		return NewEnvironmentError("execution context has no target machines")
	}
	return nil
}
