package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"QuorumGate/internal/bls"
	"QuorumGate/internal/logger"
	"QuorumGate/internal/roster"
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

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger.SetLevel(level)

	cfg.PrivateKey, err = loadOrGenerateKey(cfg.KeyPath)
	if err != nil {
		return fmt.Errorf("load key:\n%w", err)
	}

	signingKey, err := bls.DeriveFromEd25519(cfg.PrivateKey)
	if err != nil {
		return fmt.Errorf("derive signing key:\n%w", err)
	}

	if cfg.PrintEntry {
		return printRosterEntry(cfg, signingKey)
	}

	node, err := NewNode(cfg, signingKey)
	if err != nil {
		return fmt.Errorf("create node:\n%w", err)
	}

	printStartupInfo(cfg, signingKey)

	return node.Run()
}

// rosterEntry builds the roster file entry describing this node.
func rosterEntry(cfg *Config, key *bls.KeyPair) roster.FileMember {
	return roster.FileMember{
		ID:         cfg.ID,
		PublicKey:  hex.EncodeToString(key.PublicKeyBytes()),
		Possession: hex.EncodeToString(key.ProvePossession()),
		Address:    cfg.advertiseAddr(),
		NetworkKey: hex.EncodeToString(cfg.publicKey()),
	}
}

// printRosterEntry writes the roster entry as JSON to stdout.
func printRosterEntry(cfg *Config, key *bls.KeyPair) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	return enc.Encode(rosterEntry(cfg, key))
}

// printStartupInfo displays node configuration at startup.
func printStartupInfo(cfg *Config, key *bls.KeyPair) {
	entry := rosterEntry(cfg, key)

	logger.Info("starting attestation node",
		"id", entry.ID,
		"publicKey", entry.PublicKey,
		"networkKey", entry.NetworkKey,
		"quic", cfg.QUICAddress,
		"replayWindow", cfg.ReplayWindow,
		"refuse", cfg.Refuse,
	)
}
