package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/mediavault/mediavault/internal"
	"github.com/mediavault/mediavault/pkg/logger"
	"github.com/mitchellh/go-homedir"
)

var log = logger.Get("Main")

// main loads the user configuration, constructs the server core and runs
// it until an interrupt/termination signal arrives.
func main() {
	home, err := homedir.Dir()
	if err != nil {
		log.Emit(logger.FATAL, "Failed to determine user home directory: %v\n", err)
		os.Exit(1)
	}

	configPath := flag.String("config", filepath.Join(home, ".config", "mediavault", "config.yaml"), "path to the YAML configuration file")
	flag.Parse()

	config := internal.MediaVaultConfig{}
	if err := config.LoadFromFile(*configPath); err != nil {
		log.Emit(logger.FATAL, "%v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := internal.New(config).Run(ctx); err != nil {
		log.Emit(logger.FATAL, "Server closed due to error: %v\n", err)
		os.Exit(1)
	}

	log.Emit(logger.STOP, "Server shutdown complete\n")
}
