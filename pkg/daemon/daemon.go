package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/testground/sequencer/pkg/config"
	"github.com/testground/sequencer/pkg/engine"
	"github.com/testground/sequencer/pkg/logging"
)

// Daemon is the HTTP front of a sequencer engine. Handlers:
//
//   - POST /runs: enqueue a sequence run.
//   - GET /runs/{id}: status and report of a run, in any state.
//   - POST /runs/{id}/cancel: cancel a run being processed.
//   - GET /tasks: list tasks, filtered by state.
//
// A type-safe client for this server lives in pkg/client.
type Daemon struct {
	server *http.Server
	l      net.Listener
	engine *engine.Engine
	doneCh chan struct{}
}

// New creates a new Daemon backed by a default engine built from cfg.
func New(cfg *config.EnvConfig) (*Daemon, error) {
	eng, err := engine.NewDefaultEngine(cfg)
	if err != nil {
		return nil, err
	}

	srv := &Daemon{
		engine: eng,
		doneCh: make(chan struct{}),
	}

	r := mux.NewRouter()

	// Set a unique request ID.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			req.Header.Set("X-Request-ID", uuid.New().String()[:8])
			next.ServeHTTP(w, req)
		})
	})

	r.HandleFunc("/runs", srv.runHandler(eng)).Methods("POST")
	r.HandleFunc("/runs/{id}", srv.statusHandler(eng)).Methods("GET")
	r.HandleFunc("/runs/{id}/cancel", srv.cancelHandler(eng)).Methods("POST")
	r.HandleFunc("/tasks", srv.tasksHandler(eng)).Methods("GET")

	srv.server = &http.Server{
		Handler:      r,
		WriteTimeout: 600 * time.Second,
		ReadTimeout:  600 * time.Second,
	}

	srv.l, err = net.Listen("tcp", cfg.Daemon.Listen)
	if err != nil {
		return nil, err
	}

	return srv, nil
}

// Serve starts the server and blocks until the server is closed, either
// explicitly via Shutdown, or due to a fault condition. It propagates the
// non-nil err return value from http.Serve.
func (d *Daemon) Serve() error {
	select {
	case <-d.doneCh:
		return fmt.Errorf("tried to reuse a stopped server")
	default:
	}

	logging.S().Infow("daemon listening", "addr", d.Addr())
	return d.server.Serve(d.l)
}

func (d *Daemon) Addr() string {
	return d.l.Addr().String()
}

func (d *Daemon) Port() int {
	return d.l.Addr().(*net.TCPAddr).Port
}

func (d *Daemon) Shutdown(ctx context.Context) error {
	defer close(d.doneCh)
	if err := d.engine.Close(); err != nil {
		logging.S().Warnw("error while closing engine", "error", err)
	}
	return d.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.S().Warnw("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
