package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/testground/sequencer/pkg/client"
)

// CancelCommand is the specification of the `cancel` command.
var CancelCommand = cli.Command{
	Name:   "cancel",
	Usage:  "cancel a run being processed; takes effect between iterations",
	Action: cancelCmd,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "task",
			Aliases:  []string{"t"},
			Usage:    "task id",
			Required: true,
		},
	},
}

func cancelCmd(c *cli.Context) error {
	cfg, err := loadEnvConfig()
	if err != nil {
		return err
	}

	cl := client.New(resolveEndpoint(c, cfg))
	defer cl.Close()

	if err := cl.Cancel(c.Context, c.String("task")); err != nil {
		return err
	}

	fmt.Println("cancel requested for task", c.String("task"))
	return nil
}
