package runner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/testground/sequencer/pkg/api"
)

type invocation struct {
	name     string
	params   map[string]string
	machines int
}

// fakeInvoker scripts invocation outcomes per call index. Unscripted calls
// succeed.
type fakeInvoker struct {
	calls []invocation

	// failAt marks call indices whose invocation reports failure.
	failAt map[int]bool

	// errAt maps call indices to errors returned by Invoke itself.
	errAt map[int]error

	// elapsed, when set, is reported as the invocation's own measurement.
	elapsed time.Duration

	// onCall runs before returning, e.g. to cancel a context mid-run.
	onCall func(idx int)
}

func (f *fakeInvoker) ID() string { return "fake" }

func (f *fakeInvoker) Invoke(ctx context.Context, name string, params map[string]string, machines []api.MachineHandle) (*api.InvocationResult, error) {
	idx := len(f.calls)
	f.calls = append(f.calls, invocation{name: name, params: params, machines: len(machines)})

	if f.onCall != nil {
		f.onCall(idx)
	}
	if err, ok := f.errAt[idx]; ok {
		return nil, err
	}
	return &api.InvocationResult{
		Success: !f.failAt[idx],
		Elapsed: f.elapsed,
	}, nil
}

func machines(n int) []api.MachineHandle {
	ms := make([]api.MachineHandle, n)
	for i := range ms {
		ms[i] = api.MachineHandle{ID: string(rune('a' + i)), Addr: "127.0.0.1"}
	}
	return ms
}

func definition(steps ...*api.SequenceJob) *api.SequenceDefinition {
	return &api.SequenceDefinition{
		Metadata: api.Metadata{Name: "test-sequence"},
		Steps:    steps,
	}
}

func step(name string, iterations uint, budgetSecs int64) *api.SequenceJob {
	return &api.SequenceJob{Name: name, Iterations: &iterations, DurationBudget: budgetSecs}
}

func TestRunExecutesStepsInOrder(t *testing.T) {
	// the canonical soak shape: before, soak#0, soak#1, after.
	inv := &fakeInvoker{}
	def := definition(
		step("before", 1, 0),
		step("soak", 2, api.SecondsPerHour),
		step("after", 1, 0),
	)

	report, err := New().Run(context.Background(), def, &api.ExecutionContext{
		Machines: machines(1),
		Invoker:  inv,
	})
	require.NoError(t, err)

	require.Len(t, report.Entries, 4)
	assert.Equal(t, "before", report.Entries[0].Step)
	assert.Equal(t, "soak", report.Entries[1].Step)
	assert.Equal(t, uint(0), report.Entries[1].Iteration)
	assert.Equal(t, "soak", report.Entries[2].Step)
	assert.Equal(t, uint(1), report.Entries[2].Iteration)
	assert.Equal(t, "after", report.Entries[3].Step)

	// invocations happened in the same order, never interleaved.
	names := make([]string, 0, len(inv.calls))
	for _, c := range inv.calls {
		names = append(names, c.name)
	}
	assert.Equal(t, []string{"before", "soak", "soak", "after"}, names)

	assert.True(t, report.Succeeded())
}

func TestRunInvokesExactIterationCount(t *testing.T) {
	inv := &fakeInvoker{}
	def := definition(step("stress", 5, 0))

	report, err := New().Run(context.Background(), def, &api.ExecutionContext{
		Machines: machines(2),
		Invoker:  inv,
	})
	require.NoError(t, err)

	require.Len(t, inv.calls, 5)
	require.Len(t, report.Entries, 5)
	for i, e := range report.Entries {
		assert.Equal(t, uint(i), e.Iteration)
	}
	// the whole machine set is passed through to every invocation.
	assert.Equal(t, 2, inv.calls[0].machines)
}

func TestIterationFailureDoesNotStopTheSequence(t *testing.T) {
	// iteration 2 of step B fails; iteration 3 of B and all of C still run.
	inv := &fakeInvoker{failAt: map[int]bool{2: true}}
	def := definition(
		step("a", 1, 0),
		step("b", 3, 0),
		step("c", 1, 0),
	)

	report, err := New().Run(context.Background(), def, &api.ExecutionContext{
		Machines: machines(1),
		Invoker:  inv,
	})
	require.NoError(t, err)

	require.Len(t, report.Entries, 5)
	assert.False(t, report.Entries[2].Success)
	assert.Equal(t, "b", report.Entries[2].Step)
	assert.Equal(t, uint(1), report.Entries[2].Iteration)
	assert.Equal(t, 1, report.Failures())
	assert.False(t, report.Succeeded())
	assert.Equal(t, "c", report.Entries[4].Step)
}

func TestInvocationErrorIsRecordedNotFatal(t *testing.T) {
	inv := &fakeInvoker{errAt: map[int]error{0: errors.New("dispatch exploded")}}
	def := definition(step("a", 1, 0), step("b", 1, 0))

	report, err := New().Run(context.Background(), def, &api.ExecutionContext{
		Machines: machines(1),
		Invoker:  inv,
	})
	require.NoError(t, err)

	require.Len(t, report.Entries, 2)
	assert.False(t, report.Entries[0].Success)
	assert.Contains(t, report.Entries[0].Error, "dispatch exploded")
	assert.True(t, report.Entries[1].Success)
}

func TestEnvironmentErrorAbortsRemainder(t *testing.T) {
	inv := &fakeInvoker{errAt: map[int]error{1: api.NewEnvironmentError("all machines unreachable")}}
	def := definition(step("a", 2, 0), step("b", 2, 0))

	r := New()
	report, err := r.Run(context.Background(), def, &api.ExecutionContext{
		Machines: machines(1),
		Invoker:  inv,
	})
	require.Error(t, err)
	assert.True(t, api.IsEnvironmentError(err))

	// only the first iteration made it into the report; nothing ran after
	// the environment was lost.
	require.NotNil(t, report)
	assert.Len(t, report.Entries, 1)
	assert.True(t, report.Aborted)
	assert.Len(t, inv.calls, 2)

	state, pos := r.Status()
	assert.Equal(t, StateAborted, state)
	assert.Equal(t, Position{Step: 0, Iteration: 1}, pos)
}

func TestCancellationObservedBetweenIterations(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	// cancel while the first invocation is in flight; the runner must not
	// start iteration 2.
	inv := &fakeInvoker{onCall: func(idx int) {
		if idx == 0 {
			cancel()
		}
	}}
	def := definition(step("soak", 3, 0))

	r := New()
	report, err := r.Run(ctx, def, &api.ExecutionContext{
		Machines: machines(1),
		Invoker:  inv,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	assert.Len(t, inv.calls, 1)
	assert.True(t, report.Aborted)

	state, _ := r.Status()
	assert.Equal(t, StateAborted, state)
}

func TestRunRejectsUnusableContext(t *testing.T) {
	def := definition(step("a", 1, 0))

	// no machines.
	_, err := New().Run(context.Background(), def, &api.ExecutionContext{Invoker: &fakeInvoker{}})
	require.Error(t, err)
	assert.True(t, api.IsEnvironmentError(err))

	// no invoker.
	_, err = New().Run(context.Background(), def, &api.ExecutionContext{Machines: machines(1)})
	require.Error(t, err)
	assert.True(t, api.IsEnvironmentError(err))
}

func TestRunRejectsInvalidDefinition(t *testing.T) {
	_, err := New().Run(context.Background(), &api.SequenceDefinition{}, &api.ExecutionContext{
		Machines: machines(1),
		Invoker:  &fakeInvoker{},
	})
	require.Error(t, err)
	assert.True(t, api.IsConfigurationError(err))
}

func TestOverBudgetIsAdvisory(t *testing.T) {
	// budget of 1s, invoker reports 2s. The iteration is flagged, not failed.
	inv := &fakeInvoker{elapsed: 2 * time.Second}
	def := definition(step("quick", 1, 1))

	report, err := New().Run(context.Background(), def, &api.ExecutionContext{
		Machines: machines(1),
		Invoker:  inv,
	})
	require.NoError(t, err)

	require.Len(t, report.Entries, 1)
	assert.True(t, report.Entries[0].Success)
	assert.True(t, report.Entries[0].OverBudget)
	assert.Equal(t, 2*time.Second, report.Entries[0].Elapsed)
}

func TestRunnerCompletesDespiteFailures(t *testing.T) {
	inv := &fakeInvoker{failAt: map[int]bool{0: true, 1: true}}
	def := definition(step("flaky", 2, 0))

	r := New()
	report, err := r.Run(context.Background(), def, &api.ExecutionContext{
		Machines: machines(1),
		Invoker:  inv,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Failures())

	state, _ := r.Status()
	assert.Equal(t, StateCompleted, state)
}
