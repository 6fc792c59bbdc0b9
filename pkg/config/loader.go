package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/testground/sequencer/pkg/logging"
)

const (
	EnvSequencerHomeDir = "SEQUENCER_HOME"

	DefaultListenAddr = "localhost:8020"
	DefaultWorkers    = 2
	DefaultQueueSize  = 128
)

func (e *EnvConfig) Load() error {
	// apply fallbacks.
	e.Daemon.Listen = DefaultListenAddr
	e.Daemon.Workers = DefaultWorkers
	e.Daemon.QueueSize = DefaultQueueSize
	e.Client.Endpoint = "http://" + DefaultListenAddr

	// calculate home directory; use env var, or fall back to $HOME/sequencer
	// otherwise.
	var home string
	if v, ok := os.LookupEnv(EnvSequencerHomeDir); ok {
		home = v
	} else {
		v, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to obtain user home dir: %w", err)
		}
		home = filepath.Join(v, "sequencer")
	}

	switch fi, err := os.Stat(home); {
	case os.IsNotExist(err):
		logging.S().Infof("creating home directory at %s", home)
		if err := os.MkdirAll(home, 0777); err != nil {
			return fmt.Errorf("failed to create home directory at %s: %w", home, err)
		}
	case err == nil && !fi.IsDir():
		return fmt.Errorf("home path is not a directory: %s", home)
	case err != nil:
		return fmt.Errorf("failed to stat home directory %s: %w", home, err)
	}

	// ensure home and children directories exist.
	e.dirs = Directories{home}
	for _, d := range []string{
		e.dirs.Home(),
		e.dirs.Daemon(),
	} {
		if err := ensureDir(d); err != nil {
			return fmt.Errorf("failed to check/create directory %s: %w", d, err)
		}
	}

	// parse the .env.toml file, if it exists.
	f := filepath.Join(e.dirs.Home(), ".env.toml")
	if _, err := os.Stat(f); err == nil {
		if _, err = toml.DecodeFile(f, e); err != nil {
			return fmt.Errorf("found .env.toml at %s, but failed to parse: %w", f, err)
		}
		logging.S().Infof(".env.toml loaded from: %s", f)
	} else {
		logging.S().Debugf("no .env.toml found at %s; running with defaults", f)
	}
	return nil
}

// ensureDir checks whether the specified path is a directory, and if not it
// attempts to create it.
func ensureDir(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return os.MkdirAll(path, os.ModePerm)
	}

	if !fi.IsDir() {
		return fmt.Errorf("path %s exists, and it is not a directory", path)
	}
	return nil
}
