package daemon

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/testground/sequencer/pkg/engine"
	"github.com/testground/sequencer/pkg/task"
)

func (d *Daemon) statusHandler(eng *engine.Engine) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]

		tsk, err := eng.Status(id)
		if err == task.ErrNotFound {
			writeError(w, http.StatusNotFound, "no such task: "+id)
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		writeJSON(w, http.StatusOK, tsk)
	}
}

func (d *Daemon) cancelHandler(eng *engine.Engine) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]

		if err := eng.Cancel(id); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling", "task_id": id})
	}
}
