package config

import (
	"path/filepath"

	"github.com/testground/sequencer/pkg/api"
)

// EnvConfig contains the environment configuration. It is populated by
// coalescing values from these sources, in descending order of precedence:
//
//  1. .env.toml.
//  2. default fallbacks.
type EnvConfig struct {
	dirs Directories

	Daemon DaemonConfig `toml:"daemon"`
	Client ClientConfig `toml:"client"`

	// Pools are named machine sets that sequences can be scheduled against
	// by name, instead of enumerating machines on every submission.
	Pools map[string][]api.MachineHandle `toml:"pools"`
}

func (e EnvConfig) Dirs() Directories {
	return e.dirs
}

type DaemonConfig struct {
	Listen        string `toml:"listen"`
	Workers       int    `toml:"workers"`
	QueueSize     int    `toml:"queue_size"`
	TasksInMemory bool   `toml:"tasks_in_memory"`
}

type ClientConfig struct {
	Endpoint string `toml:"endpoint"`
}

// Directories provides accessors to the directories managed by the runtime.
type Directories struct {
	home string
}

// Home is the root of the sequencer working tree.
func (d Directories) Home() string {
	return d.home
}

// Daemon holds daemon state, including the task database.
func (d Directories) Daemon() string {
	return filepath.Join(d.home, "daemon")
}
