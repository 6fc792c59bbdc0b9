package cmd

import (
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/testground/sequencer/pkg/api"
	"github.com/testground/sequencer/pkg/config"
)

// RootCommands collects all subcommands of the sequencer CLI.
var RootCommands = cli.Commands{
	&RunCommand,
	&DaemonCommand,
	&StatusCommand,
	&TasksCommand,
	&CancelCommand,
}

var RootFlags = []cli.Flag{
	&cli.BoolFlag{
		Name:  "v",
		Usage: "verbose output (equivalent to DEBUG log level)",
	},
	&cli.StringFlag{
		Name:  "endpoint",
		Usage: "set the daemon endpoint URI (overrides .env.toml)",
	},
}

func loadEnvConfig() (*config.EnvConfig, error) {
	cfg := new(config.EnvConfig)
	if err := cfg.Load(); err != nil {
		return nil, fmt.Errorf("failed to load env configuration: %w", err)
	}
	return cfg, nil
}

func resolveEndpoint(c *cli.Context, cfg *config.EnvConfig) string {
	if ep := c.String("endpoint"); ep != "" {
		return ep
	}
	return cfg.Client.Endpoint
}

// parseMachines turns --machine flag values into handles. Each value is
// either "addr" or "id=addr".
func parseMachines(vals []string) []api.MachineHandle {
	machines := make([]api.MachineHandle, 0, len(vals))
	for _, v := range vals {
		if id, addr, found := cut(v, "="); found {
			machines = append(machines, api.MachineHandle{ID: id, Addr: addr})
		} else {
			machines = append(machines, api.MachineHandle{ID: v, Addr: v})
		}
	}
	return machines
}

func cut(s, sep string) (before, after string, found bool) {
	if i := strings.Index(s, sep); i >= 0 {
		return s[:i], s[i+len(sep):], true
	}
	return s, "", false
}
