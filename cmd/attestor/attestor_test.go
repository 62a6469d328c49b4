package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"QuorumGate/internal/bls"
	"QuorumGate/internal/quorum"
)

// writeRoster writes a roster file of simulated members.
func writeRoster(t *testing.T, header string, behaviors ...string) string {
	t.Helper()

	body := "{" + header + `"members": [`
	for i, b := range behaviors {
		seed := make([]byte, bls.SeedSize)
		seed[0] = byte(i + 1)

		if i > 0 {
			body += ","
		}
		body += fmt.Sprintf(`{"id": "node-%d", "seed": %q, "behavior": %q}`, i, hex.EncodeToString(seed), b)
	}
	body += "]}"

	path := filepath.Join(t.TempDir(), "roster.json")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatalf("write roster: %v", err)
	}

	return path
}

func TestAttestorFromRosterFile(t *testing.T) {
	path := writeRoster(t, `"t": 3, "requestTimeout": "150ms", "sessionTimeout": "300ms", "maxRetries": 1,`,
		"honest", "honest", "forger", "honest")

	cfg := &Config{
		RosterPath:  path,
		HTTPAddress: "127.0.0.1:0",
		DataPath:    t.TempDir(),
	}

	a, err := NewAttestor(cfg)
	if err != nil {
		t.Fatalf("new attestor: %v", err)
	}

	if a.network != nil {
		t.Error("simulated roster should not start a network endpoint")
	}

	if p := a.coord.Policy(); p != (quorum.Policy{N: 4, F: 1, T: 3}) {
		t.Errorf("policy: %+v", p)
	}

	c := a.coord.Config()
	if c.RequestTimeout != 150*time.Millisecond || c.SessionTimeout != 300*time.Millisecond || c.MaxRetries != 1 {
		t.Errorf("config: %+v", c)
	}

	out := a.pipeline.Process(context.Background(), quorum.HashPayload([]byte("from file")))
	a.Close()

	if !out.OK() || out.TxDigest == "" {
		t.Fatalf("expected certified outcome: %v", out.Failure)
	}

	// The audit log survives a restart.
	b, err := NewAttestor(cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer b.Close()

	outs, err := b.reader.Outcomes(0)
	if err != nil || len(outs) != 1 || !outs[0].Certified {
		t.Errorf("persisted outcomes: %+v, %v", outs, err)
	}
}

func TestAttestorDefaults(t *testing.T) {
	path := writeRoster(t, "", "honest", "honest", "honest", "honest", "honest", "honest", "honest")

	a, err := NewAttestor(&Config{RosterPath: path, HTTPAddress: "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("new attestor: %v", err)
	}
	defer a.Close()

	if p := a.coord.Policy(); p != quorum.DefaultPolicy(7) {
		t.Errorf("policy: %+v", p)
	}

	if a.store != nil {
		t.Error("empty data path should keep the audit log in memory")
	}
}

func TestAttestorRejectsBadPolicy(t *testing.T) {
	path := writeRoster(t, `"f": 2, "t": 2,`, "honest", "honest", "honest", "honest")

	if _, err := NewAttestor(&Config{RosterPath: path, HTTPAddress: "127.0.0.1:0"}); err == nil {
		t.Error("f at n/2 without unanimity should be rejected")
	}
}

func TestAttestorRetryBudget(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   int
		ok     bool
	}{
		{"explicit zero", `"maxRetries": 0,`, 0, true},
		{"explicit value", `"maxRetries": 4,`, 4, true},
		{"default", "", quorum.DefaultConfig().MaxRetries, true},
		{"negative", `"maxRetries": -1,`, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeRoster(t, tt.header, "honest", "honest", "honest", "honest")

			a, err := NewAttestor(&Config{RosterPath: path, HTTPAddress: "127.0.0.1:0"})
			if !tt.ok {
				if err == nil {
					a.Close()
					t.Fatal("negative retry budget should be rejected")
				}
				return
			}
			if err != nil {
				t.Fatalf("new attestor: %v", err)
			}
			defer a.Close()

			if got := a.coord.Config().MaxRetries; got != tt.want {
				t.Errorf("MaxRetries = %d, want %d", got, tt.want)
			}
		})
	}
}
