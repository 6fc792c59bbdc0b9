package task

import (
	"container/heap"
	"encoding/json"
	"errors"
	"sync"

	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/testground/sequencer/pkg/logging"
)

var (
	ErrQueueEmpty = errors.New("queue empty")
	ErrQueueFull  = errors.New("queue full")
)

// NewQueue builds a scheduling queue on top of a task Storage. Tasks found
// under the queue prefix are reloaded into the heap; tasks found under the
// current prefix were in flight when the previous process died, and are
// re-queued so the run is attempted again.
func NewQueue(ts *Storage, max int) (*Queue, error) {
	tq := new(taskQueue)

	for _, prefix := range []string{QueuePrefix, CurrentPrefix} {
		iter := ts.db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
		for iter.Next() {
			tsk := new(Task)
			if err := json.Unmarshal(iter.Value(), tsk); err != nil {
				iter.Release()
				return nil, err
			}
			if prefix == CurrentPrefix {
				logging.S().Warnw("re-queueing task interrupted by a previous shutdown", "task_id", tsk.ID)
				if err := ts.requeue(tsk); err != nil {
					iter.Release()
					return nil, err
				}
			}
			heap.Push(tq, tsk)
		}
		iter.Release()
	}

	return &Queue{
		tq:  tq,
		ts:  ts,
		max: max,
	}, nil
}

// Queue is a bounded priority queue of scheduled tasks. Tasks are ordered by
// priority (higher first) and then by creation time (older first). Pushed
// tasks are persisted before they become visible; popped tasks move to the
// current prefix in storage but remain queryable.
type Queue struct {
	sync.Mutex
	tq *taskQueue
	ts *Storage

	max int // the maximum number of tasks to keep enqueued
}

// Push adds a task to the queue.
// 1. Check whether too many tasks are enqueued already.
// 2. Persist the task to the database.
// 3. Push the task into the in-memory heap.
func (q *Queue) Push(tsk *Task) error {
	q.Lock()
	defer q.Unlock()

	// there are too many items enqueued already. can't push; try again later.
	if q.tq.Len() >= q.max {
		return ErrQueueFull
	}

	if err := q.ts.PersistScheduled(tsk); err != nil {
		return err
	}

	heap.Push(q.tq, tsk)
	return nil
}

// Pop removes and returns the highest-priority task. The task moves to the
// current prefix in storage; it is the caller's job to mark it complete.
func (q *Queue) Pop() (*Task, error) {
	q.Lock()
	defer q.Unlock()

	if q.tq.Len() == 0 {
		return nil, ErrQueueEmpty
	}

	tsk := heap.Pop(q.tq).(*Task)
	logging.S().Debugw("queue.pop", "task_id", tsk.ID, "sequence", tsk.Name())

	claimed, err := q.ts.MarkProcessing(tsk.ID)
	if err != nil {
		// the task is still persisted under the queue prefix; keep it
		// schedulable in memory too.
		heap.Push(q.tq, tsk)
		return nil, err
	}
	return claimed, nil
}

// Requeue returns a popped task to the queue, e.g. when its machines are
// busy. The task moves back under the queue prefix.
func (q *Queue) Requeue(tsk *Task) error {
	q.Lock()
	defer q.Unlock()

	if err := q.ts.requeue(tsk); err != nil {
		return err
	}
	heap.Push(q.tq, tsk)
	return nil
}

// Len returns the number of tasks waiting in the queue.
func (q *Queue) Len() int {
	q.Lock()
	defer q.Unlock()
	return q.tq.Len()
}

// taskQueue implements container/heap.Interface.
// Tasks are sorted by priority and then timestamp.
type taskQueue []*Task

func (q taskQueue) Len() int {
	return len(q)
}

func (q taskQueue) Less(i, j int) bool {
	if q[i].Priority != q[j].Priority {
		return q[i].Priority > q[j].Priority
	}
	return q[i].Created.Before(q[j].Created)
}

func (q taskQueue) Swap(i, j int) {
	q[j], q[i] = q[i], q[j]
}

func (q *taskQueue) Push(x interface{}) {
	t := x.(*Task)
	*q = append(*q, t)
}

func (q *taskQueue) Pop() interface{} {
	t := (*q)[len(*q)-1]
	*q = (*q)[:len(*q)-1]
	return t
}
