package cmd

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/testground/sequencer/pkg/daemon"
	"github.com/testground/sequencer/pkg/logging"
)

// DaemonCommand is the specification of the `daemon` command.
var DaemonCommand = cli.Command{
	Name:   "daemon",
	Usage:  "start the sequencer daemon",
	Action: daemonCmd,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "listen",
			Usage: "listen address (overrides .env.toml)",
		},
	},
}

func daemonCmd(c *cli.Context) error {
	cfg, err := loadEnvConfig()
	if err != nil {
		return err
	}
	if addr := c.String("listen"); addr != "" {
		cfg.Daemon.Listen = addr
	}

	srv, err := daemon.New(cfg)
	if err != nil {
		return err
	}

	exiting := make(chan os.Signal, 1)
	signal.Notify(exiting, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-exiting
		logging.S().Infow("shutting down")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logging.S().Errorw("error while shutting down", "error", err)
		}
	}()

	if err := srv.Serve(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
