package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"flag"
	"fmt"
	"os"
	"time"
)

// Config holds the attestation node configuration.
type Config struct {
	// ID is the member id printed in the roster entry.
	ID string

	// QUICAddress is the QUIC listen address for signing requests.
	QUICAddress string

	// Advertise is the address coordinators dial. Defaults to QUICAddress.
	Advertise string

	// KeyPath is the path to the Ed25519 private key file.
	KeyPath string

	// PrivateKey is the node's Ed25519 network key. The BLS key derives from it.
	PrivateKey ed25519.PrivateKey

	// ReplayWindow is how long request ids are remembered.
	ReplayWindow time.Duration

	// Refuse makes the node decline every request, for maintenance.
	Refuse bool

	// LogLevel is the minimum log level.
	LogLevel string

	// PrintEntry prints the roster entry and exits.
	PrintEntry bool
}

// parseFlags parses command-line flags into Config.
func parseFlags() *Config {
	cfg := &Config{}

	flag.StringVar(&cfg.ID, "id", "node", "Member id for the roster entry")
	flag.StringVar(&cfg.QUICAddress, "quic", ":9100", "QUIC listen address")
	flag.StringVar(&cfg.Advertise, "advertise", "", "Address coordinators dial (default: -quic)")
	flag.StringVar(&cfg.KeyPath, "key", "", "Ed25519 private key path (generates new if missing)")
	flag.DurationVar(&cfg.ReplayWindow, "replay-window", 10*time.Minute, "Request id replay window")
	flag.BoolVar(&cfg.Refuse, "refuse", false, "Decline all signing requests")
	flag.StringVar(&cfg.LogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.BoolVar(&cfg.PrintEntry, "print-entry", false, "Print the roster entry for this node and exit")
	flag.Parse()

	return cfg
}

// advertiseAddr returns the address placed in the roster entry.
func (c *Config) advertiseAddr() string {
	if c.Advertise != "" {
		return c.Advertise
	}

	return c.QUICAddress
}

// publicKey returns the network public key.
func (c *Config) publicKey() ed25519.PublicKey {
	return c.PrivateKey.Public().(ed25519.PublicKey)
}

// loadOrGenerateKey loads the private key from file or generates a new one.
func loadOrGenerateKey(keyPath string) (ed25519.PrivateKey, error) {
	if keyPath == "" {
		return generateNewKey()
	}

	data, err := os.ReadFile(keyPath)
	if os.IsNotExist(err) {
		return generateAndSaveKey(keyPath)
	}

	if err != nil {
		return nil, fmt.Errorf("read key file:\n%w", err)
	}

	if len(data) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid key size: got %d, want %d", len(data), ed25519.PrivateKeySize)
	}

	return ed25519.PrivateKey(data), nil
}

// generateNewKey creates a new Ed25519 private key.
func generateNewKey() (ed25519.PrivateKey, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key:\n%w", err)
	}

	return priv, nil
}

// generateAndSaveKey creates a new key and saves it to the given path.
func generateAndSaveKey(path string) (ed25519.PrivateKey, error) {
	priv, err := generateNewKey()
	if err != nil {
		return nil, err
	}

	if err := os.WriteFile(path, priv, 0600); err != nil {
		return nil, fmt.Errorf("save key to %s:\n%w", path, err)
	}

	return priv, nil
}
