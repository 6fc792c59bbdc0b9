package runner

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/testground/sequencer/pkg/api"
	"github.com/testground/sequencer/pkg/logging"
)

// Environment variables passed to test processes launched by ExecInvoker.
const (
	EnvTestName    = "SEQ_TEST_NAME"
	EnvMachineID   = "SEQ_MACHINE_ID"
	EnvMachineAddr = "SEQ_MACHINE_ADDR"

	// Test parameters are passed as SEQ_PARAM_<KEY>=<value>.
	envParamPrefix = "SEQ_PARAM_"
)

// ExecInvoker is an api.Invoker that executes the named test as a local
// process, one process per target machine, with the machine handle and the
// test parameters passed through the environment. Processes for the machines
// of a single iteration run concurrently; serialization across iterations is
// the runner's concern.
//
// The test name resolves to an executable via PATH, or under Dir when set.
type ExecInvoker struct {
	// Dir, when non-empty, is the directory test executables live in.
	Dir string
}

var _ api.Invoker = (*ExecInvoker)(nil)

func (*ExecInvoker) ID() string {
	return "local:exec"
}

func (x *ExecInvoker) Invoke(ctx context.Context, name string, params map[string]string, machines []api.MachineHandle) (*api.InvocationResult, error) {
	if len(machines) == 0 {
		return nil, api.NewEnvironmentError("no machines to invoke %s against", name)
	}

	path := name
	if x.Dir != "" {
		path = filepath.Join(x.Dir, name)
	}
	if _, err := exec.LookPath(path); err != nil {
		return nil, err
	}

	start := time.Now()

	var (
		grp, gctx = errgroup.WithContext(ctx)
		failures  = make([]error, len(machines))
	)

	for i, m := range machines {
		i, m := i, m // capture

		grp.Go(func() error {
			cmd := exec.CommandContext(gctx, path)
			cmd.Env = buildEnv(name, params, m)

			// stdout and stderr share one pipe so the relay drains the
			// combined output without risking a full stderr buffer.
			pr, pw, err := os.Pipe()
			if err != nil {
				failures[i] = err
				return nil
			}
			cmd.Stdout = pw
			cmd.Stderr = pw

			if err := cmd.Start(); err != nil {
				pw.Close()
				pr.Close()
				failures[i] = err
				return nil
			}
			pw.Close()

			relay(name, m.ID, pr)
			pr.Close()

			if err := cmd.Wait(); err != nil {
				failures[i] = err
			}
			return nil
		})
	}

	// Goroutines report per-machine failures through the failures slice and
	// never return errors; Wait only joins them. gctx is cancelled as a side
	// effect of Wait returning, so consult the parent context to distinguish
	// an operator cancel from normal completion.
	_ = grp.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var merr *multierror.Error
	for i, err := range failures {
		if err != nil {
			merr = multierror.Append(merr, errors.New(machines[i].ID+": "+err.Error()))
		}
	}

	res := &api.InvocationResult{
		Success: merr.ErrorOrNil() == nil,
		Elapsed: time.Since(start),
	}

	if merr.ErrorOrNil() != nil {
		details, _ := json.Marshal(struct {
			Failed int    `json:"failed"`
			Error  string `json:"error"`
		}{Failed: merr.Len(), Error: merr.Error()})
		res.Details = details
	}

	return res, nil
}

// relay copies a test process' combined output to the log, line by line.
func relay(test, machine string, r io.Reader) {
	log := logging.S().With("test", test, "machine", machine)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		log.Debugw(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		log.Warnw("error while reading test output", "error", err)
	}
}

func buildEnv(name string, params map[string]string, m api.MachineHandle) []string {
	env := append(os.Environ(),
		EnvTestName+"="+name,
		EnvMachineID+"="+m.ID,
		EnvMachineAddr+"="+m.Addr,
	)
	for k, v := range params {
		env = append(env, envParamPrefix+sanitizeEnvKey(k)+"="+v)
	}
	return env
}

func sanitizeEnvKey(k string) string {
	k = strings.ToUpper(k)
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, k)
}
