package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"flag"
	"fmt"
	"os"
)

// Config holds the attestor configuration.
type Config struct {
	// RosterPath is the roster and quorum configuration file.
	RosterPath string

	// HTTPAddress is the HTTP API listen address.
	HTTPAddress string

	// QUICAddress is the local QUIC address used to reach remote nodes.
	QUICAddress string

	// DataPath is the directory for the audit log. Empty keeps it in memory.
	DataPath string

	// KeyPath is the path to the Ed25519 network key file.
	KeyPath string

	// PrivateKey is the coordinator's Ed25519 network key.
	PrivateKey ed25519.PrivateKey

	// RelayURL is the settlement relay endpoint. Empty verifies locally.
	RelayURL string

	// SubmitRetries is the number of resubmissions after an RPC failure.
	SubmitRetries int

	// MaxConcurrent caps concurrent batch sessions.
	MaxConcurrent int

	// MisbehaviorRate is the fraction of requests on which simulated
	// Byzantine members misbehave. Zero leaves the default of always.
	MisbehaviorRate float64

	// LogLevel is the minimum log level.
	LogLevel string
}

// parseFlags parses command-line flags into Config.
func parseFlags() *Config {
	cfg := &Config{}

	flag.StringVar(&cfg.RosterPath, "roster", "", "Roster file path")
	flag.StringVar(&cfg.HTTPAddress, "http", ":8080", "HTTP API address")
	flag.StringVar(&cfg.QUICAddress, "quic", ":0", "Local QUIC address for remote nodes")
	flag.StringVar(&cfg.DataPath, "data", "./data", "Audit log directory (empty for in-memory)")
	flag.StringVar(&cfg.KeyPath, "key", "", "Ed25519 network key path (generates new if missing)")
	flag.StringVar(&cfg.RelayURL, "relay", "", "Settlement relay URL (default: local verification)")
	flag.IntVar(&cfg.SubmitRetries, "submit-retries", 2, "Resubmissions after a relay RPC failure")
	flag.IntVar(&cfg.MaxConcurrent, "max-concurrent", 0, "Concurrent batch sessions (0 for unbounded)")
	flag.Float64Var(&cfg.MisbehaviorRate, "misbehavior-rate", 1, "Fraction of requests on which simulated Byzantine members misbehave")
	flag.StringVar(&cfg.LogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	return cfg
}

// loadOrGenerateKey loads the private key from file or generates a new one.
func loadOrGenerateKey(keyPath string) (ed25519.PrivateKey, error) {
	if keyPath == "" {
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("generate key:\n%w", err)
		}
		return priv, nil
	}

	data, err := os.ReadFile(keyPath)
	if os.IsNotExist(err) {
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("generate key:\n%w", err)
		}

		if err := os.WriteFile(keyPath, priv, 0600); err != nil {
			return nil, fmt.Errorf("save key to %s:\n%w", keyPath, err)
		}

		return priv, nil
	}

	if err != nil {
		return nil, fmt.Errorf("read key file:\n%w", err)
	}

	if len(data) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid key size: got %d, want %d", len(data), ed25519.PrivateKeySize)
	}

	return ed25519.PrivateKey(data), nil
}
