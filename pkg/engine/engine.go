package engine

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/xid"

	"github.com/testground/sequencer/pkg/api"
	"github.com/testground/sequencer/pkg/config"
	"github.com/testground/sequencer/pkg/runner"
	"github.com/testground/sequencer/pkg/task"
)

// AllInvokers enumerates all invokers known to the system.
var AllInvokers = []api.Invoker{
	&runner.ExecInvoker{},
}

// Engine is the central runtime object of the system. It owns the invoker
// registry, the task store and queue, the machine allocator, and the worker
// pool that drains the queue. It is supposed to be instantiated as a
// singleton in all runtimes, whether the sequencer runs as a CLI tool or as
// a daemon.
type Engine struct {
	lk sync.RWMutex
	// invokers binds invocation capabilities to their identifying key.
	invokers map[string]api.Invoker
	envcfg   *config.EnvConfig
	store    *task.Storage
	queue    *task.Queue
	alloc    *allocator

	// signals contains a channel for each task being processed; closing a
	// channel cancels the run between iterations.
	signals   map[string]chan struct{}
	signalsLk sync.RWMutex

	closed chan struct{}
}

type EngineConfig struct {
	Invokers  []api.Invoker
	EnvConfig *config.EnvConfig
}

func NewEngine(cfg *EngineConfig) (*Engine, error) {
	var (
		store *task.Storage
		err   error
	)

	if cfg.EnvConfig.Daemon.TasksInMemory {
		store, err = task.NewMemoryStorage()
	} else {
		path := filepath.Join(cfg.EnvConfig.Dirs().Daemon(), "tasks.db")
		store, err = task.NewStorage(path)
	}
	if err != nil {
		return nil, err
	}

	queue, err := task.NewQueue(store, cfg.EnvConfig.Daemon.QueueSize)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		invokers: make(map[string]api.Invoker, len(cfg.Invokers)),
		envcfg:   cfg.EnvConfig,
		store:    store,
		queue:    queue,
		alloc:    newAllocator(),
		signals:  make(map[string]chan struct{}),
		closed:   make(chan struct{}),
	}

	for _, inv := range cfg.Invokers {
		e.invokers[inv.ID()] = inv
	}

	e.startWorkers(cfg.EnvConfig.Daemon.Workers)

	return e, nil
}

func NewDefaultEngine(ecfg *config.EnvConfig) (*Engine, error) {
	return NewEngine(&EngineConfig{
		Invokers:  AllInvokers,
		EnvConfig: ecfg,
	})
}

func (e *Engine) InvokerByName(name string) (api.Invoker, bool) {
	e.lk.RLock()
	defer e.lk.RUnlock()

	inv, ok := e.invokers[name]
	return inv, ok
}

func (e *Engine) ListInvokers() []string {
	e.lk.RLock()
	defer e.lk.RUnlock()

	ids := make([]string, 0, len(e.invokers))
	for k := range e.invokers {
		ids = append(ids, k)
	}
	return ids
}

// QueueRun validates and enqueues a sequence run, returning its task ID. The
// definition is validated up front so configuration errors surface to the
// author at submission time, not when a worker picks the task up.
func (e *Engine) QueueRun(def *api.SequenceDefinition, machines []api.MachineHandle, invoker string, priority int) (string, error) {
	if _, ok := e.InvokerByName(invoker); !ok {
		return "", fmt.Errorf("unknown invoker: %s", invoker)
	}
	if len(machines) == 0 {
		return "", api.NewEnvironmentError("no machines specified for run")
	}
	if err := def.Validate(); err != nil {
		return "", err
	}

	id := xid.New().String()
	err := e.queue.Push(&task.Task{
		Version:    0,
		Priority:   priority,
		Created:    time.Now().UTC(),
		ID:         id,
		Definition: def,
		Machines:   machines,
		Invoker:    invoker,
	})

	return id, err
}

// Status returns a task regardless of its scheduling state, including
// archived tasks from completed runs.
func (e *Engine) Status(id string) (*task.Task, error) {
	return e.store.Get(id)
}

// Tasks returns all tasks in the given states created within the window.
func (e *Engine) Tasks(states []task.TaskState, after, before time.Time) ([]*task.Task, error) {
	var res []*task.Task

	for _, state := range states {
		var prefix string
		switch state {
		case task.StateScheduled:
			prefix = task.QueuePrefix
		case task.StateProcessing:
			prefix = task.CurrentPrefix
		case task.StateComplete:
			prefix = task.ArchivePrefix
		default:
			return nil, fmt.Errorf("unknown task state: %s", state)
		}

		tsks, err := e.store.Range(prefix, after, before)
		if err != nil {
			return nil, err
		}
		res = append(res, tsks...)
	}

	return res, nil
}

// Cancel aborts a task being processed. The run observes the cancel between
// iterations and transitions to Aborted; an in-flight invocation is not
// interrupted.
func (e *Engine) Cancel(id string) error {
	e.signalsLk.Lock()
	defer e.signalsLk.Unlock()

	ch, ok := e.signals[id]
	if !ok {
		return fmt.Errorf("task %s is not being processed", id)
	}
	close(ch)
	delete(e.signals, id)
	return nil
}

// EnvConfig returns the EnvConfig for this Engine.
func (e *Engine) EnvConfig() config.EnvConfig {
	return *e.envcfg
}

// Close stops the workers and releases the task store. Runs in flight finish
// their current iteration before the workers observe the shutdown.
func (e *Engine) Close() error {
	var merr *multierror.Error

	select {
	case <-e.closed:
	default:
		close(e.closed)
	}

	if err := e.store.Close(); err != nil {
		merr = multierror.Append(merr, err)
	}
	return merr.ErrorOrNil()
}
