package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/testground/sequencer/pkg/api"
	"github.com/testground/sequencer/pkg/logging"
)

// State is the lifecycle state of a sequence run.
type State int

const (
	StateNotStarted State = iota
	StateRunning
	StateCompleted
	StateAborted
)

func (s State) String() string {
	return [...]string{
		"StateNotStarted",
		"StateRunning",
		"StateCompleted",
		"StateAborted",
	}[s]
}

// Position locates a run within its sequence: the step index and the
// zero-based iteration within that step.
type Position struct {
	Step      int  `json:"step"`
	Iteration uint `json:"iteration"`
}

// Runner drives one sequence run at a time against an execution context.
//
// Steps and iterations execute strictly sequentially: the machines under
// test are physical hardware that cannot host two workloads at once, so the
// only blocking point is the call into the invocation capability itself.
// Cross-run exclusivity over a machine set is the allocator's business (see
// pkg/engine), not the runner's.
type Runner struct {
	mu    sync.Mutex
	state State
	pos   Position
}

func New() *Runner {
	return &Runner{state: StateNotStarted}
}

// Status returns the current lifecycle state and, while running, the
// position of the iteration in flight.
func (r *Runner) Status() (State, Position) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state, r.pos
}

func (r *Runner) transition(s State, pos Position) {
	r.mu.Lock()
	r.state = s
	r.pos = pos
	r.mu.Unlock()
}

// Run executes every iteration of every step of def, in order, against ec,
// and returns the report of everything that executed.
//
// Individual invocation failures are recorded in the report and never stop
// the sequence; a broken iteration must not abort a week-long soak run. Run
// returns a non-nil error in exactly two cases, both of which abort the
// remainder of the sequence:
//
//   - the execution context became unusable (an EnvironmentError, either
//     up front or surfaced by the invoker mid-run);
//   - ctx was cancelled. Cancellation is observed between iterations; an
//     in-flight invocation is the invoker's to interrupt, not ours.
//
// The returned report is non-nil in both cases and holds every iteration
// executed before the abort.
func (r *Runner) Run(ctx context.Context, def *api.SequenceDefinition, ec *api.ExecutionContext) (*api.SequenceReport, error) {
	r.mu.Lock()
	if r.state == StateRunning {
		r.mu.Unlock()
		return nil, fmt.Errorf("runner is already driving a sequence")
	}
	r.state = StateRunning
	r.pos = Position{}
	r.mu.Unlock()

	prepared, err := def.PrepareForRun()
	if err != nil {
		// Malformed input; the run never started.
		r.transition(StateNotStarted, Position{})
		return nil, err
	}

	if err := ec.Validate(); err != nil {
		r.transition(StateAborted, Position{})
		return nil, err
	}

	log := logging.S().With("sequence", prepared.Metadata.Name, "invoker", ec.Invoker.ID(), "machines", len(ec.Machines))
	log.Infow("sequence run starting", "steps", len(prepared.Steps), "iterations", prepared.TotalIterations())

	report := new(api.SequenceReport)

	for si, step := range prepared.Steps {
		iterations := step.EffectiveIterations()

		for it := uint(0); it < iterations; it++ {
			pos := Position{Step: si, Iteration: it}

			// Observe operator cancellation between iterations; transition to
			// Aborted promptly rather than mid-invocation.
			select {
			case <-ctx.Done():
				log.Warnw("sequence run cancelled", "step", step.Name, "iteration", it)
				report.Aborted = true
				r.transition(StateAborted, pos)
				return report, ctx.Err()
			default:
			}

			r.transition(StateRunning, pos)
			log.Debugw("invoking step", "step", step.Name, "iteration", it)

			start := time.Now()
			res, err := ec.Invoker.Invoke(ctx, step.Name, step.Parameters, ec.Machines)
			elapsed := time.Since(start)

			if err != nil {
				if api.IsEnvironmentError(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					log.Errorw("execution context unusable; aborting sequence", "step", step.Name, "iteration", it, "error", err)
					report.Aborted = true
					r.transition(StateAborted, pos)
					return report, err
				}

				// The invocation could not be carried out. Recorded, not fatal.
				log.Warnw("invocation failed", "step", step.Name, "iteration", it, "error", err)
				report.Record(api.ReportEntry{
					Step:       step.Name,
					Iteration:  it,
					Success:    false,
					Elapsed:    elapsed,
					OverBudget: step.HasBudget() && elapsed > step.Budget(),
					Error:      err.Error(),
				})
				continue
			}

			// Prefer the invoker's own elapsed measurement when it reports one.
			if res.Elapsed > 0 {
				elapsed = res.Elapsed
			}

			entry := api.ReportEntry{
				Step:       step.Name,
				Iteration:  it,
				Success:    res.Success,
				Elapsed:    elapsed,
				OverBudget: step.HasBudget() && elapsed > step.Budget(),
				Details:    res.Details,
			}
			report.Record(entry)

			if entry.OverBudget {
				log.Warnw("iteration exceeded its duration budget", "step", step.Name, "iteration", it, "elapsed", elapsed, "budget", step.Budget())
			}
			if !entry.Success {
				log.Warnw("iteration reported failure", "step", step.Name, "iteration", it, "elapsed", elapsed)
			}
		}
	}

	last := Position{Step: len(prepared.Steps) - 1}
	if n := prepared.Steps[last.Step].EffectiveIterations(); n > 0 {
		last.Iteration = n - 1
	}
	r.transition(StateCompleted, last)

	log.Infow("sequence run completed", "iterations", len(report.Entries), "failures", report.Failures())
	return report, nil
}
