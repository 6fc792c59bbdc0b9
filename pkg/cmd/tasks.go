package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/testground/sequencer/pkg/client"
)

// TasksCommand is the specification of the `tasks` command.
var TasksCommand = cli.Command{
	Name:   "tasks",
	Usage:  "list scheduled, running, and completed runs",
	Action: tasksCmd,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "states",
			Usage: "comma-separated subset of scheduled,processing,complete",
		},
		&cli.StringFlag{
			Name:  "window",
			Usage: "how far back to look, as a duration (default 24h)",
		},
	},
}

func tasksCmd(c *cli.Context) error {
	cfg, err := loadEnvConfig()
	if err != nil {
		return err
	}

	cl := client.New(resolveEndpoint(c, cfg))
	defer cl.Close()

	tsks, err := cl.Tasks(c.Context, c.String("states"), c.String("window"))
	if err != nil {
		return err
	}

	for _, t := range tsks {
		fmt.Printf("%-22s %-12s %-10s %-24s %s\n",
			t.ID,
			t.State().State,
			t.Outcome,
			t.Created.Format("2006-01-02T15:04:05Z"),
			t.Name(),
		)
	}
	return nil
}
