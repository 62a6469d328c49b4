package integration

import (
	"fmt"
	"slices"
	"testing"

	"QuorumGate/internal/quorum"
)

// TestQuorumOverQUIC certifies a payload with four remote nodes and settles
// the certificate through the relay.
func TestQuorumOverQUIC(t *testing.T) {
	c := startCluster(t, 4)

	out, err := c.Client.Attest([]byte("settle me"))
	if err != nil {
		t.Fatalf("attest: %v", err)
	}

	if !out.Certified || out.TxDigest == "" || out.Signature == "" {
		t.Fatalf("expected settled certificate, got %+v", out)
	}

	if len(out.Signers) < 3 || out.Detections != 0 {
		t.Errorf("signers %v, detections %d", out.Signers, out.Detections)
	}
}

// TestRefusingNodeTolerated checks that one declining node does not block a 3-of-4 quorum.
func TestRefusingNodeTolerated(t *testing.T) {
	c := startCluster(t, 4, refusing(2))

	for i := range 3 {
		out, err := c.Client.Attest(fmt.Appendf(nil, "refusal %d", i))
		if err != nil {
			t.Fatalf("attest: %v", err)
		}

		if !out.Certified {
			t.Fatalf("session %d failed: %s %s", i, out.Reason, out.Error)
		}

		if slices.Contains(out.Signers, "node-2") {
			t.Errorf("refusing node in signers: %v", out.Signers)
		}
	}

	dets, err := c.Client.Detections(0)
	if err != nil {
		t.Fatalf("detections: %v", err)
	}

	if len(dets) != 0 {
		t.Errorf("a refusal is not Byzantine: %+v", dets)
	}
}

// TestNodesDownStarveQuorum stops two of four nodes and expects a reported failure.
func TestNodesDownStarveQuorum(t *testing.T) {
	c := startCluster(t, 4)

	c.Nodes[1].Stop()
	c.Nodes[3].Stop()

	out, err := c.Client.Attest([]byte("starved"))
	if err != nil {
		t.Fatalf("attest: %v", err)
	}

	if out.Certified || out.Reason != quorum.ReasonNotEnoughSignatures.String() {
		t.Errorf("expected not_enough_signatures, got %+v", out)
	}

	if out.ValidShares > 2 || out.Required != 3 {
		t.Errorf("valid %d required %d", out.ValidShares, out.Required)
	}

	report, err := c.Client.Report()
	if err != nil {
		t.Fatalf("report: %v", err)
	}

	if report.Sessions != 1 || report.Certified != 0 {
		t.Errorf("unexpected report: %+v", report)
	}
}

// TestConcurrentSessions runs a batch through the coordinator over QUIC.
func TestConcurrentSessions(t *testing.T) {
	c := startCluster(t, 4)

	hashes := make([]quorum.Hash, 8)
	for i := range hashes {
		hashes[i] = quorum.HashPayload(fmt.Appendf(nil, "batch %d", i))
	}

	outs := c.Coord.AttestMany(t.Context(), hashes)

	for i, out := range outs {
		if !out.OK() {
			t.Errorf("session %d: %v", i, out.Failure)
		}
		if out.PayloadHash != hashes[i] {
			t.Errorf("session %d: outcome out of order", i)
		}
	}

	recs, _ := c.Sink.Outcomes(0)
	if len(recs) != len(hashes) {
		t.Errorf("expected %d records, got %d", len(hashes), len(recs))
	}
}
