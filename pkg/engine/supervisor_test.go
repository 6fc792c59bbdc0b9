package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/testground/sequencer/pkg/api"
	"github.com/testground/sequencer/pkg/config"
	"github.com/testground/sequencer/pkg/task"
)

// stubInvoker counts invocations and optionally blocks until released.
type stubInvoker struct {
	mu    sync.Mutex
	calls int
	gate  chan struct{} // when non-nil, Invoke blocks on it
}

func (s *stubInvoker) ID() string { return "stub" }

func (s *stubInvoker) Invoke(ctx context.Context, name string, params map[string]string, machines []api.MachineHandle) (*api.InvocationResult, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()

	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &api.InvocationResult{Success: true, Elapsed: time.Millisecond}, nil
}

func (s *stubInvoker) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func testEngine(t *testing.T, invokers ...api.Invoker) *Engine {
	t.Helper()

	cfg := &config.EnvConfig{
		Daemon: config.DaemonConfig{
			Workers:       2,
			QueueSize:     16,
			TasksInMemory: true,
		},
	}

	e, err := NewEngine(&EngineConfig{Invokers: invokers, EnvConfig: cfg})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func await(t *testing.T, e *Engine, id string, timeout time.Duration) *task.Task {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		tsk, err := e.Status(id)
		require.NoError(t, err)
		if tsk.State().State == task.StateComplete {
			return tsk
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("task %s did not complete within %s", id, timeout)
	return nil
}

func soakDefinition(iterations uint) *api.SequenceDefinition {
	return &api.SequenceDefinition{
		Metadata: api.Metadata{Name: "engine-test"},
		Steps:    api.Steps{{Name: "soak", Iterations: &iterations}},
	}
}

func TestEngineProcessesQueuedRun(t *testing.T) {
	stub := &stubInvoker{}
	e := testEngine(t, stub)

	id, err := e.QueueRun(soakDefinition(3), []api.MachineHandle{{ID: "dut1"}}, "stub", 0)
	require.NoError(t, err)

	tsk := await(t, e, id, 10*time.Second)
	assert.Equal(t, task.OutcomeSuccess, tsk.Outcome)
	require.NotNil(t, tsk.Report)
	assert.Len(t, tsk.Report.Entries, 3)
	assert.Equal(t, 3, stub.count())
}

func TestEngineRejectsBadSubmissions(t *testing.T) {
	e := testEngine(t, &stubInvoker{})

	// unknown invoker.
	_, err := e.QueueRun(soakDefinition(1), []api.MachineHandle{{ID: "dut1"}}, "nope", 0)
	require.Error(t, err)

	// no machines.
	_, err = e.QueueRun(soakDefinition(1), nil, "stub", 0)
	require.Error(t, err)
	assert.True(t, api.IsEnvironmentError(err))

	// invalid definition.
	_, err = e.QueueRun(&api.SequenceDefinition{}, []api.MachineHandle{{ID: "dut1"}}, "stub", 0)
	require.Error(t, err)
	assert.True(t, api.IsConfigurationError(err))
}

func TestEngineSerializesOverlappingMachineSets(t *testing.T) {
	gate := make(chan struct{})
	stub := &stubInvoker{gate: gate}
	e := testEngine(t, stub)

	shared := []api.MachineHandle{{ID: "dut1"}}

	id1, err := e.QueueRun(soakDefinition(1), shared, "stub", 0)
	require.NoError(t, err)
	id2, err := e.QueueRun(soakDefinition(1), shared, "stub", 0)
	require.NoError(t, err)

	// with the gate closed, only one run can be invoking: the other is
	// either queued or parked by the allocator.
	require.Eventually(t, func() bool { return stub.count() > 0 }, 5*time.Second, 20*time.Millisecond)
	time.Sleep(500 * time.Millisecond)
	assert.Equal(t, 1, stub.count(), "overlapping runs must not invoke concurrently")

	close(gate)

	t1 := await(t, e, id1, 10*time.Second)
	t2 := await(t, e, id2, 10*time.Second)
	assert.Equal(t, task.OutcomeSuccess, t1.Outcome)
	assert.Equal(t, task.OutcomeSuccess, t2.Outcome)
}

func TestEngineCancelAbortsRun(t *testing.T) {
	gate := make(chan struct{})
	stub := &stubInvoker{gate: gate}
	e := testEngine(t, stub)

	id, err := e.QueueRun(soakDefinition(5), []api.MachineHandle{{ID: "dut1"}}, "stub", 0)
	require.NoError(t, err)

	// wait for the first invocation to start, then cancel.
	require.Eventually(t, func() bool { return stub.count() > 0 }, 5*time.Second, 20*time.Millisecond)
	require.NoError(t, e.Cancel(id))

	tsk := await(t, e, id, 10*time.Second)
	assert.Equal(t, task.OutcomeAborted, tsk.Outcome)
	require.NotNil(t, tsk.Report)
	assert.True(t, tsk.Report.Aborted)
	assert.Less(t, len(tsk.Report.Entries), 5)
}

func TestEngineTasksListing(t *testing.T) {
	stub := &stubInvoker{}
	e := testEngine(t, stub)

	id, err := e.QueueRun(soakDefinition(1), []api.MachineHandle{{ID: "dut1"}}, "stub", 0)
	require.NoError(t, err)
	await(t, e, id, 10*time.Second)

	now := time.Now().UTC()
	tsks, err := e.Tasks([]task.TaskState{task.StateComplete}, now.Add(-time.Hour), now)
	require.NoError(t, err)
	require.Len(t, tsks, 1)
	assert.Equal(t, id, tsks[0].ID)
}
