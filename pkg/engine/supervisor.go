package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/testground/sequencer/pkg/api"
	"github.com/testground/sequencer/pkg/logging"
	"github.com/testground/sequencer/pkg/runner"
	"github.com/testground/sequencer/pkg/task"
)

func (e *Engine) startWorkers(n int) {
	if n < 1 {
		n = 1
	}
	for i := 0; i < n; i++ {
		go e.worker(i)
	}
}

// worker drains the queue. Each worker processes one sequence run at a time;
// runs over disjoint machine sets proceed in parallel across workers, while
// the allocator keeps overlapping runs apart.
func (e *Engine) worker(n int) {
	log := logging.S().With("worker_id", n)
	log.Debugw("supervisor worker started")

	for {
		select {
		case <-e.closed:
			log.Debugw("supervisor worker stopped")
			return
		default:
		}

		tsk, err := e.queue.Pop()
		if err == task.ErrQueueEmpty {
			time.Sleep(time.Second)
			continue
		}
		if err != nil {
			log.Errorw("could not pop task off the queue", "error", err)
			time.Sleep(time.Second)
			continue
		}

		// Claim exclusive ownership of the task's machines. If another run
		// holds any of them, put the task back and let it age in the queue.
		if !e.alloc.acquire(tsk.ID, tsk.Machines) {
			log.Debugw("machines busy; requeueing task", "task_id", tsk.ID)
			if err := e.queue.Requeue(tsk); err != nil {
				log.Errorw("could not requeue task", "task_id", tsk.ID, "error", err)
			}
			time.Sleep(time.Second)
			continue
		}

		e.process(log, tsk)
		e.alloc.release(tsk.ID, tsk.Machines)
	}
}

func (e *Engine) process(log *zap.SugaredLogger, tsk *task.Task) {
	log.Infow("worker processing task", "task_id", tsk.ID, "sequence", tsk.Name())

	inv, ok := e.InvokerByName(tsk.Invoker)
	if !ok {
		e.complete(tsk.ID, task.OutcomeAborted, nil, api.NewEnvironmentError("unknown invoker: %s", tsk.Invoker))
		return
	}

	// Wire the task's cancel signal into a context; closing the signal
	// channel aborts the run between iterations.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signal := make(chan struct{})
	e.signalsLk.Lock()
	e.signals[tsk.ID] = signal
	e.signalsLk.Unlock()

	go func() {
		select {
		case <-signal:
			cancel()
		case <-ctx.Done():
		}
	}()

	report, err := runner.New().Run(ctx, tsk.Definition, &api.ExecutionContext{
		Machines: tsk.Machines,
		Invoker:  inv,
	})

	e.signalsLk.Lock()
	if _, ok := e.signals[tsk.ID]; ok {
		delete(e.signals, tsk.ID)
	}
	e.signalsLk.Unlock()

	outcome := task.OutcomeSuccess
	switch {
	case err != nil:
		outcome = task.OutcomeAborted
	case report.Failures() > 0:
		outcome = task.OutcomeFailure
	}

	e.complete(tsk.ID, outcome, report, err)
	log.Infow("worker completed task", "task_id", tsk.ID, "outcome", outcome)
}

func (e *Engine) complete(id string, outcome task.Outcome, report *api.SequenceReport, runErr error) {
	if err := e.store.MarkComplete(id, outcome, report, runErr); err != nil {
		logging.S().Errorw("could not update task status", "task_id", id, "error", err)
	}
}
