package daemon

import (
	"net/http"
	"strings"
	"time"

	"github.com/testground/sequencer/pkg/engine"
	"github.com/testground/sequencer/pkg/task"
)

// tasksHandler lists tasks. Query parameters:
//
//   - states: comma-separated subset of scheduled,processing,complete;
//     defaults to all three.
//   - window: how far back to look, as a Go duration; defaults to 24h.
func (d *Daemon) tasksHandler(eng *engine.Engine) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		states := []task.TaskState{task.StateScheduled, task.StateProcessing, task.StateComplete}
		if v := r.URL.Query().Get("states"); v != "" {
			states = states[:0]
			for _, s := range strings.Split(v, ",") {
				switch st := task.TaskState(s); st {
				case task.StateScheduled, task.StateProcessing, task.StateComplete:
					states = append(states, st)
				default:
					writeError(w, http.StatusBadRequest, "unknown task state: "+s)
					return
				}
			}
		}

		window := 24 * time.Hour
		if v := r.URL.Query().Get("window"); v != "" {
			dur, err := time.ParseDuration(v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "bad window: "+err.Error())
				return
			}
			window = dur
		}

		now := time.Now().UTC()
		tsks, err := eng.Tasks(states, now.Add(-window), now)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if tsks == nil {
			tsks = []*task.Task{}
		}

		writeJSON(w, http.StatusOK, tsks)
	}
}
