package task

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/testground/sequencer/pkg/api"
)

// Key prefixes partition the database by scheduling state. A task lives
// under exactly one prefix at a time and moves between them as it
// progresses: queue -> current -> archive.
const (
	QueuePrefix   = "queue:"
	CurrentPrefix = "current:"
	ArchivePrefix = "archive:"
)

var ErrNotFound = errors.New("task not found")

// Storage persists tasks in a leveldb database, JSON-encoded, keyed by
// prefix plus task ID. Completed tasks remain under the archive prefix so
// clients can query the status and report of a run long after it finished.
type Storage struct {
	mu sync.Mutex
	db *leveldb.DB
}

// NewStorage opens (or creates) an on-disk task database at path.
func NewStorage(path string) (*Storage, error) {
	s, err := storage.OpenFile(path, false)
	if err != nil {
		return nil, err
	}
	return initStorage(s)
}

// NewMemoryStorage creates an in-memory task database. Used by tests and by
// daemons running with tasks_in_memory.
func NewMemoryStorage() (*Storage, error) {
	return initStorage(storage.NewMemStorage())
}

func initStorage(s storage.Storage) (*Storage, error) {
	db, err := leveldb.Open(s, nil)
	if err != nil {
		return nil, err
	}
	return &Storage{db: db}, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

// PersistScheduled writes a freshly created task under the queue prefix and
// stamps its initial state.
func (s *Storage) PersistScheduled(t *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t.States = append(t.States, DatedState{State: StateScheduled, Created: time.Now().UTC()})
	t.Outcome = OutcomeUnknown
	return s.put(QueuePrefix, t)
}

// MarkProcessing moves a task from the queue prefix to the current prefix
// and appends the processing state.
func (s *Storage) MarkProcessing(id string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.get(QueuePrefix, id)
	if err != nil {
		return nil, err
	}

	t.States = append(t.States, DatedState{State: StateProcessing, Created: time.Now().UTC()})

	if err := s.put(CurrentPrefix, t); err != nil {
		return nil, err
	}
	if err := s.delete(QueuePrefix, id); err != nil {
		return nil, err
	}
	return t, nil
}

// MarkComplete moves a task from the current prefix to the archive prefix,
// recording its outcome, report, and terminal error, if any.
func (s *Storage) MarkComplete(id string, outcome Outcome, report *api.SequenceReport, runErr error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.get(CurrentPrefix, id)
	if err != nil {
		return err
	}

	t.States = append(t.States, DatedState{State: StateComplete, Created: time.Now().UTC()})
	t.Outcome = outcome
	t.Report = report
	if runErr != nil {
		t.Error = runErr.Error()
	}

	if err := s.put(ArchivePrefix, t); err != nil {
		return err
	}
	return s.delete(CurrentPrefix, id)
}

// Get looks a task up by ID, checking the archive, current, and queue
// prefixes in that order.
func (s *Storage) Get(id string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, prefix := range []string{ArchivePrefix, CurrentPrefix, QueuePrefix} {
		t, err := s.get(prefix, id)
		if err == nil {
			return t, nil
		}
		if err != ErrNotFound {
			return nil, err
		}
	}
	return nil, ErrNotFound
}

// Range returns all tasks under a prefix created within [after, before],
// ordered by key.
func (s *Storage) Range(prefix string, after, before time.Time) ([]*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res []*Task

	iter := s.db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	defer iter.Release()

	for iter.Next() {
		t := new(Task)
		if err := json.Unmarshal(iter.Value(), t); err != nil {
			return nil, err
		}
		if t.Created.Before(after) || t.Created.After(before) {
			continue
		}
		res = append(res, t)
	}

	return res, iter.Error()
}

// Count returns the number of keys under a prefix.
func (s *Storage) Count(prefix string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	iter := s.db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	defer iter.Release()
	for iter.Next() {
		n++
	}
	return n, iter.Error()
}

// requeue moves a task from the current prefix back to the queue prefix,
// appending a fresh scheduled state. Used on recovery after a crash and when
// a claimed task cannot start because its machines are busy.
func (s *Storage) requeue(t *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t.States = append(t.States, DatedState{State: StateScheduled, Created: time.Now().UTC()})

	if err := s.put(QueuePrefix, t); err != nil {
		return err
	}
	return s.delete(CurrentPrefix, t.ID)
}

func (s *Storage) get(prefix, id string) (*Task, error) {
	val, err := s.db.Get([]byte(prefix+id), nil)
	if err == leveldb.ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	t := new(Task)
	if err := json.Unmarshal(val, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Storage) put(prefix string, t *Task) error {
	val, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return s.db.Put([]byte(prefix+t.ID), val, &opt.WriteOptions{Sync: true})
}

func (s *Storage) delete(prefix, id string) error {
	return s.db.Delete([]byte(prefix+id), &opt.WriteOptions{Sync: true})
}
