package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/testground/sequencer/pkg/client"
)

// StatusCommand is the specification of the `status` command.
var StatusCommand = cli.Command{
	Name:   "status",
	Usage:  "get the status of a run by task id",
	Action: statusCmd,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "task",
			Aliases:  []string{"t"},
			Usage:    "task id",
			Required: true,
		},
	},
}

func statusCmd(c *cli.Context) error {
	cfg, err := loadEnvConfig()
	if err != nil {
		return err
	}

	cl := client.New(resolveEndpoint(c, cfg))
	defer cl.Close()

	tsk, err := cl.Status(c.Context, c.String("task"))
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(tsk, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
