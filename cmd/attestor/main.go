package main

import (
	"fmt"
	"os"

	"QuorumGate/internal/logger"
)

func main() {
	logger.Init()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// run is the main entry point with error handling.
func run() error {
	cfg := parseFlags()

	if cfg.RosterPath == "" {
		return fmt.Errorf("-roster is required")
	}

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger.SetLevel(level)

	a, err := NewAttestor(cfg)
	if err != nil {
		return fmt.Errorf("create attestor:\n%w", err)
	}

	printStartupInfo(cfg, a)

	return a.Run()
}

// printStartupInfo displays the quorum configuration at startup.
func printStartupInfo(cfg *Config, a *Attestor) {
	logger.Info("starting attestor",
		"policy", a.coord.Policy().String(),
		"members", a.roster.Len(),
		"http", cfg.HTTPAddress,
		"data", cfg.DataPath,
		"relay", cfg.RelayURL,
	)
}
