package api

// RunRequest is the payload of a run submission to the daemon.
type RunRequest struct {
	// Definition is the sequence to schedule.
	Definition SequenceDefinition `json:"definition"`

	// Machines is the machine set the run will exclusively own. Mutually
	// exclusive with Pool.
	Machines []MachineHandle `json:"machines,omitempty"`

	// Pool names a machine pool configured in the daemon's .env.toml.
	Pool string `json:"pool,omitempty"`

	// Invoker selects the invocation capability; defaults to local:exec.
	Invoker string `json:"invoker,omitempty"`

	// Priority is the scheduling priority; higher runs first.
	Priority int `json:"priority,omitempty"`
}

// RunResponse acknowledges an accepted run submission.
type RunResponse struct {
	TaskID string `json:"task_id"`
}
