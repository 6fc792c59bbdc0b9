package daemon

import (
	"encoding/json"
	"net/http"

	"github.com/testground/sequencer/pkg/api"
	"github.com/testground/sequencer/pkg/engine"
	"github.com/testground/sequencer/pkg/logging"
)

func (d *Daemon) runHandler(eng *engine.Engine) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logging.S().With("req_id", r.Header.Get("X-Request-ID"))

		log.Debugw("handle request", "command", "run")
		defer log.Debugw("request handled", "command", "run")

		var req api.RunRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "cannot json decode request body: "+err.Error())
			return
		}

		machines := req.Machines
		if req.Pool != "" {
			if len(machines) > 0 {
				writeError(w, http.StatusBadRequest, "specify either machines or a pool, not both")
				return
			}
			pool, ok := eng.EnvConfig().Pools[req.Pool]
			if !ok {
				writeError(w, http.StatusBadRequest, "unknown machine pool: "+req.Pool)
				return
			}
			machines = pool
		}

		invoker := req.Invoker
		if invoker == "" {
			invoker = "local:exec"
		}

		id, err := eng.QueueRun(&req.Definition, machines, invoker, req.Priority)
		if err != nil {
			status := http.StatusInternalServerError
			if api.IsConfigurationError(err) || api.IsEnvironmentError(err) {
				status = http.StatusBadRequest
			}
			writeError(w, status, err.Error())
			return
		}

		log.Infow("sequence run enqueued", "task_id", id)
		writeJSON(w, http.StatusOK, &api.RunResponse{TaskID: id})
	}
}
