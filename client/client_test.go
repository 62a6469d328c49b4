package client

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"QuorumGate/internal/api"
	"QuorumGate/internal/audit"
	"QuorumGate/internal/bls"
	"QuorumGate/internal/quorum"
	"QuorumGate/internal/roster"
	"QuorumGate/internal/signer"
	"QuorumGate/internal/submit"
)

// startAttestor serves an API over simulated nodes and returns a client for it.
func startAttestor(t *testing.T, behaviors ...signer.Behavior) *Client {
	t.Helper()

	members := make([]roster.Member, len(behaviors))
	for i, b := range behaviors {
		seed := make([]byte, bls.SeedSize)
		seed[0] = byte(i + 1)
		seed[5] = 0x21

		key, err := bls.GenerateKeyFromSeed(seed)
		if err != nil {
			t.Fatalf("generate key: %v", err)
		}

		members[i] = roster.Member{ID: fmt.Sprintf("node-%d", i), Behavior: b.String()}.WithKey(key)
	}

	r, err := roster.New(members)
	if err != nil {
		t.Fatalf("roster: %v", err)
	}

	signers, err := signer.FromRoster(r, nil)
	if err != nil {
		t.Fatalf("signers: %v", err)
	}

	cfg := quorum.DefaultConfig()
	cfg.MaxRetries = 0
	cfg.RequestTimeout = 200 * time.Millisecond
	cfg.SessionTimeout = 300 * time.Millisecond

	sink := audit.NewMemory()

	coord, err := quorum.NewCoordinator(r, signers, quorum.DefaultPolicy(r.Len()), quorum.WithConfig(cfg), quorum.WithSink(sink))
	if err != nil {
		t.Fatalf("coordinator: %v", err)
	}

	server := api.New(":0", submit.NewPipeline(coord, submit.NewVerifier(r)), coord, sink, nil)
	ts := httptest.NewServer(server.Handler())

	t.Cleanup(func() {
		ts.Close()
		coord.Wait()
	})

	return NewClient(strings.TrimPrefix(ts.URL, "http://"))
}

// =============================================================================
// Attestation
// =============================================================================

// TestAttest verifies a certified session over a raw payload.
func TestAttest(t *testing.T) {
	c := startAttestor(t, signer.Honest, signer.Honest, signer.Honest, signer.Honest)

	if err := c.Health(); err != nil {
		t.Fatalf("health: %v", err)
	}

	out, err := c.Attest([]byte("client payload"))
	if err != nil {
		t.Fatalf("attest: %v", err)
	}

	if !out.Certified || out.Signature == "" || out.TxDigest == "" {
		t.Errorf("expected certified outcome, got %+v", out)
	}

	byHash, err := c.AttestHash(quorum.HashPayload([]byte("client payload")))
	if err != nil {
		t.Fatalf("attest hash: %v", err)
	}

	if byHash.PayloadHash != out.PayloadHash || byHash.RequestID == out.RequestID {
		t.Error("same payload should get a fresh request id")
	}
}

// TestAttest_Failed verifies that a failed session is returned, not an error.
func TestAttest_Failed(t *testing.T) {
	c := startAttestor(t, signer.Honest, signer.Refuse, signer.Refuse, signer.Honest)

	out, err := c.Attest([]byte("refused"))
	if err != nil {
		t.Fatalf("attest: %v", err)
	}

	if out.Certified || out.Reason != quorum.ReasonNotEnoughSignatures.String() {
		t.Errorf("expected not_enough_signatures, got %+v", out)
	}
}

// TestAttest_Empty verifies that API errors carry the server message.
func TestAttest_Empty(t *testing.T) {
	c := startAttestor(t, signer.Honest)

	_, err := c.Attest(nil)
	if err == nil || !strings.Contains(err.Error(), "empty payload") {
		t.Errorf("expected empty payload error, got %v", err)
	}
}

// =============================================================================
// Status and audit
// =============================================================================

// TestStatus verifies the roster view.
func TestStatus(t *testing.T) {
	c := startAttestor(t, signer.Honest, signer.Honest, signer.Forger, signer.Honest)

	s, err := c.Status()
	if err != nil {
		t.Fatalf("status: %v", err)
	}

	if s.Policy.N != 4 || s.Policy.T != 3 || len(s.Members) != 4 || s.Members[2].Behavior != "forger" {
		t.Errorf("unexpected status: %+v", s)
	}
}

// TestAuditLogs verifies detections, outcomes, report and export.
func TestAuditLogs(t *testing.T) {
	c := startAttestor(t, signer.Forger, signer.Honest, signer.Honest, signer.Honest)

	for i := range 4 {
		if _, err := c.Attest(fmt.Appendf(nil, "audit %d", i)); err != nil {
			t.Fatalf("attest: %v", err)
		}
	}

	outs, err := c.Outcomes(0)
	if err != nil || len(outs) != 4 {
		t.Fatalf("outcomes: %d, %v", len(outs), err)
	}

	tail, err := c.Outcomes(outs[1].Seq)
	if err != nil || len(tail) != 2 {
		t.Errorf("outcomes since %d: %d, %v", outs[1].Seq, len(tail), err)
	}

	dets, err := c.Detections(0)
	if err != nil {
		t.Fatalf("detections: %v", err)
	}

	for _, d := range dets {
		if d.NodeID != "node-0" {
			t.Errorf("honest node flagged: %+v", d)
		}
	}

	rep, err := c.Report()
	if err != nil {
		t.Fatalf("report: %v", err)
	}

	if rep.Sessions != 4 || rep.Certified != 4 || rep.ExceedsBound() {
		t.Errorf("unexpected report: %+v", rep)
	}

	gotDets, gotOuts, err := c.Export()
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	if len(gotOuts) != 4 || len(gotDets) != len(dets) {
		t.Errorf("export: %d detections, %d outcomes", len(gotDets), len(gotOuts))
	}
}

// TestUnreachable verifies transport errors surface.
func TestUnreachable(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	addr := strings.TrimPrefix(ts.URL, "http://")
	ts.Close()

	c := NewClient(addr)

	if err := c.Health(); err == nil {
		t.Error("health on closed server should fail")
	}

	if _, err := c.Report(); err == nil {
		t.Error("report on closed server should fail")
	}
}
