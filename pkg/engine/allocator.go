package engine

import (
	"sync"

	"github.com/testground/sequencer/pkg/api"
)

// allocator grants a run exclusive ownership of its machine set for the
// duration of the run. Two runs whose machine sets overlap never execute
// concurrently; runs over disjoint sets proceed in parallel. This is the
// single place machine exclusivity is enforced; the runner itself assumes it
// already owns its machines.
type allocator struct {
	mu   sync.Mutex
	busy map[string]string // machine ID -> owning task ID
}

func newAllocator() *allocator {
	return &allocator{busy: make(map[string]string)}
}

// acquire claims every machine for the given task, all-or-nothing. It
// returns false without claiming anything if any machine is already owned.
func (a *allocator) acquire(taskID string, machines []api.MachineHandle) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, m := range machines {
		if _, taken := a.busy[m.ID]; taken {
			return false
		}
	}
	for _, m := range machines {
		a.busy[m.ID] = taskID
	}
	return true
}

// release returns machines to the pool. Only machines owned by the given
// task are released.
func (a *allocator) release(taskID string, machines []api.MachineHandle) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, m := range machines {
		if owner, ok := a.busy[m.ID]; ok && owner == taskID {
			delete(a.busy, m.ID)
		}
	}
}
