package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/testground/sequencer/pkg/api"
	"github.com/testground/sequencer/pkg/client"
	"github.com/testground/sequencer/pkg/runner"
	"github.com/testground/sequencer/pkg/task"
)

// RunCommand is the specification of the `run` command.
var RunCommand = cli.Command{
	Name:   "run",
	Usage:  "run a sequence file, either in-process or via the daemon",
	Action: runCmd,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "file",
			Aliases:  []string{"f"},
			Usage:    "sequence definition file (TOML)",
			Required: true,
		},
		&cli.StringSliceFlag{
			Name:    "machine",
			Aliases: []string{"m"},
			Usage:   "target machine, as `ADDR` or `ID=ADDR`; repeatable",
		},
		&cli.StringFlag{
			Name:  "pool",
			Usage: "named machine pool from .env.toml (daemon mode only)",
		},
		&cli.StringFlag{
			Name:    "invoker",
			Aliases: []string{"i"},
			Usage:   "invoker to use",
			Value:   "local:exec",
		},
		&cli.IntFlag{
			Name:    "priority",
			Aliases: []string{"p"},
			Usage:   "scheduling priority; higher runs first (daemon mode only)",
		},
		&cli.BoolFlag{
			Name:    "local",
			Aliases: []string{"l"},
			Usage:   "drive the sequence in-process instead of submitting to the daemon",
		},
		&cli.BoolFlag{
			Name:    "wait",
			Aliases: []string{"w"},
			Usage:   "after submitting, wait for completion and print the report",
		},
	},
}

func runCmd(c *cli.Context) error {
	def, err := api.LoadSequenceDefinition(c.String("file"))
	if err != nil {
		return err
	}

	if c.Bool("local") {
		return runLocal(c, def)
	}
	return runRemote(c, def)
}

// runLocal drives the sequence directly, without an engine: the invocation
// happens in this process and the report prints on stdout. Useful when
// iterating on a sequence file.
func runLocal(c *cli.Context, def *api.SequenceDefinition) error {
	machines := parseMachines(c.StringSlice("machine"))
	if len(machines) == 0 {
		return fmt.Errorf("local runs need at least one --machine")
	}
	if inv := c.String("invoker"); inv != "local:exec" {
		return fmt.Errorf("local runs only support the local:exec invoker; got %s", inv)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	ec := &api.ExecutionContext{
		Machines: machines,
		Invoker:  &runner.ExecInvoker{},
	}

	report, err := runner.New().Run(ctx, def, ec)
	if report != nil {
		runner.NewPrettyPrinter().Print(report)
	}
	if err != nil {
		return err
	}
	if report.Failures() > 0 {
		return fmt.Errorf("%d iteration(s) failed", report.Failures())
	}
	return nil
}

func runRemote(c *cli.Context, def *api.SequenceDefinition) error {
	cfg, err := loadEnvConfig()
	if err != nil {
		return err
	}

	cl := client.New(resolveEndpoint(c, cfg))
	defer cl.Close()

	req := &api.RunRequest{
		Definition: *def,
		Machines:   parseMachines(c.StringSlice("machine")),
		Pool:       c.String("pool"),
		Invoker:    c.String("invoker"),
		Priority:   c.Int("priority"),
	}

	id, err := cl.Run(c.Context, req)
	if err != nil {
		return err
	}

	fmt.Println("run submitted; task id:", id)

	if !c.Bool("wait") {
		return nil
	}

	for {
		select {
		case <-c.Context.Done():
			return c.Context.Err()
		case <-time.After(2 * time.Second):
		}

		tsk, err := cl.Status(c.Context, id)
		if err != nil {
			return err
		}
		if tsk.State().State != task.StateComplete {
			continue
		}

		if tsk.Report != nil {
			runner.NewPrettyPrinter().Print(tsk.Report)
		}
		if tsk.Outcome != task.OutcomeSuccess {
			return fmt.Errorf("run finished with outcome %s: %s", tsk.Outcome, tsk.Error)
		}
		return nil
	}
}
