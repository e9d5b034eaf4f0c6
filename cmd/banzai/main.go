package main

import (
	"fmt"
	"os"

	"github.com/jashan-lco/banzai/internal/cli"
	"github.com/jashan-lco/banzai/internal/config"
	"github.com/jashan-lco/banzai/internal/db"
	"github.com/jashan-lco/banzai/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.Setup(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to setup logging: %v\n", err)
		os.Exit(1)
	}

	store, err := db.New(cfg.Database.Path)
	if err != nil {
		log.Error("failed to open catalog database", "path", cfg.Database.Path, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	rootCmd := cli.NewRootCmd(cfg, log, store)
	if err := rootCmd.Execute(); err != nil {
		log.Error("command failed", "error", err)
		os.Exit(1)
	}
}
