package api

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/imdario/mergo"
)

// Duration budgets are expressed in seconds in sequence files. These
// constants keep hand-written budgets legible: duration_budget = 4 *
// SecondsPerHour and so on.
const (
	SecondsPerMinute int64 = 60
	SecondsPerHour         = 60 * SecondsPerMinute
	SecondsPerDay          = 24 * SecondsPerHour
)

type Steps []*SequenceJob

// SequenceDefinition is an ordered list of steps to execute against a fixed
// set of machines. Order is significant: steps run strictly in the listed
// order, never reordered and never in parallel with one another.
type SequenceDefinition struct {
	// Metadata expresses optional metadata about this sequence.
	Metadata Metadata `toml:"metadata" json:"metadata"`

	// Global defines defaults that trickle down to every step.
	Global Global `toml:"global" json:"global"`

	// Steps enumerates the steps of this sequence, in execution order.
	Steps Steps `toml:"steps" json:"steps" validate:"required,gt=0,dive,required"`
}

type Metadata struct {
	// Name is the name of this sequence.
	Name string `toml:"name" json:"name"`

	// Author is the author of this sequence.
	Author string `toml:"author" json:"author"`
}

type Global struct {
	// TestParams are default test parameters applied to every step. A step
	// can override individual keys in its local test_params.
	TestParams map[string]string `toml:"test_params" json:"test_params"`
}

// SequenceJob is one step of a sequence: a named test, its parameters, an
// iteration count, and an advisory per-iteration duration budget. It is a
// value object: construct (or decode) once, validate, and treat as immutable
// thereafter. The scheduler never interprets Parameters; they are passed
// verbatim to the invocation capability.
type SequenceJob struct {
	// Name identifies the test to invoke.
	Name string `toml:"name" json:"name" validate:"required"`

	// Parameters are passed through to the invoked test, opaquely.
	Parameters map[string]string `toml:"test_params" json:"test_params"`

	// Iterations is the number of repeated invocations of this step. When
	// absent it defaults to 1; an explicit value below 1 is a configuration
	// error.
	Iterations *uint `toml:"iterations" json:"iterations,omitempty"`

	// DurationBudget is the wall-clock time, in seconds, each iteration is
	// expected to stay within. It is advisory: the runner records budget
	// overruns in the report but enforces no timeout. Zero means no budget.
	DurationBudget int64 `toml:"duration_budget" json:"duration_budget" validate:"gte=0"`
}

// NewSequenceJob constructs a validated step. iterations must be >= 1 and
// budgetSecs must be non-negative; a budgetSecs of 0 means no budget.
func NewSequenceJob(name string, params map[string]string, iterations uint, budgetSecs int64) (*SequenceJob, error) {
	j := &SequenceJob{
		Name:           name,
		Parameters:     params,
		Iterations:     &iterations,
		DurationBudget: budgetSecs,
	}
	if err := j.validate(); err != nil {
		return nil, err
	}
	return j, nil
}

func (j *SequenceJob) validate() error {
	if j.Name == "" {
		return NewConfigurationError("step has no test name")
	}
	if j.Iterations != nil && *j.Iterations < 1 {
		return NewConfigurationError("step %s: iterations must be >= 1; got %d", j.Name, *j.Iterations)
	}
	if j.DurationBudget < 0 {
		return NewConfigurationError("step %s: duration budget must be non-negative; got %d", j.Name, j.DurationBudget)
	}
	return nil
}

// EffectiveIterations returns the iteration count, applying the default of 1
// when the field was omitted.
func (j *SequenceJob) EffectiveIterations() uint {
	if j.Iterations == nil {
		return 1
	}
	return *j.Iterations
}

// HasBudget reports whether this step carries a duration budget.
func (j *SequenceJob) HasBudget() bool {
	return j.DurationBudget > 0
}

// Budget returns the duration budget as a time.Duration. Zero when unset.
func (j *SequenceJob) Budget() time.Duration {
	return time.Duration(j.DurationBudget) * time.Second
}

// PrepareForRun validates this definition and returns a copy with defaults
// applied: global test parameters are merged into every step (step-local
// values win), and omitted iteration counts become 1. The receiver is not
// mutated.
func (d SequenceDefinition) PrepareForRun() (*SequenceDefinition, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	steps := make(Steps, 0, len(d.Steps))
	for _, s := range d.Steps {
		step := *s

		params := make(map[string]string, len(step.Parameters))
		for k, v := range step.Parameters {
			params[k] = v
		}
		if err := mergo.Merge(&params, d.Global.TestParams); err != nil {
			return nil, fmt.Errorf("failed to merge global test params into step %s: %w", step.Name, err)
		}
		step.Parameters = params

		n := step.EffectiveIterations()
		step.Iterations = &n

		steps = append(steps, &step)
	}

	d.Steps = steps
	return &d, nil
}

// TotalIterations returns the number of iterations this definition will
// execute across all steps.
func (d *SequenceDefinition) TotalIterations() uint {
	var n uint
	for _, s := range d.Steps {
		n += s.EffectiveIterations()
	}
	return n
}

// LoadSequenceDefinition reads and decodes a TOML sequence file. The result
// is decoded only; call PrepareForRun (or Validate) before executing it.
func LoadSequenceDefinition(path string) (*SequenceDefinition, error) {
	d := new(SequenceDefinition)
	if _, err := toml.DecodeFile(path, d); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("no sequence file at %s: %w", path, err)
		}
		return nil, fmt.Errorf("failed to parse sequence file %s: %w", path, err)
	}
	return d, nil
}
