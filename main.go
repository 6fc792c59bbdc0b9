package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap/zapcore"

	"github.com/testground/sequencer/pkg/cmd"
	"github.com/testground/sequencer/pkg/logging"
)

func main() {
	app := cli.NewApp()
	app.Name = "sequencer"
	app.Usage = "schedule ordered, repeatable test sequences against fleets of machines"
	app.Commands = cmd.RootCommands
	app.Flags = cmd.RootFlags
	// Disable the built-in -v flag (version), to avoid collisions with the
	// verbosity flag.
	app.HideVersion = true
	app.Before = func(c *cli.Context) error {
		configureLogging(c)
		return nil
	}

	err := app.Run(os.Args)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func configureLogging(c *cli.Context) {
	// The LOG_LEVEL environment variable takes precedence.
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		var l zapcore.Level
		if err := l.UnmarshalText([]byte(level)); err != nil {
			panic(err)
		}
		logging.SetLevel(l)
		return
	}

	if c.Bool("v") {
		logging.SetLevel(zapcore.DebugLevel)
	}
}
