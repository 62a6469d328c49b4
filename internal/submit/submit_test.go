package submit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"QuorumGate/internal/audit"
	"QuorumGate/internal/bls"
	"QuorumGate/internal/quorum"
	"QuorumGate/internal/roster"
	"QuorumGate/internal/signer"
)

// fixture is a roster of n simulated nodes with the given behaviors.
type fixture struct {
	roster  *roster.Roster
	signers []quorum.Signer
	sink    *audit.Memory
}

func newFixture(t *testing.T, behaviors ...signer.Behavior) *fixture {
	t.Helper()

	members := make([]roster.Member, len(behaviors))
	for i, b := range behaviors {
		seed := make([]byte, bls.SeedSize)
		seed[0] = byte(i + 1)
		seed[2] = 0x17

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

	return &fixture{roster: r, signers: signers, sink: audit.NewMemory()}
}

func (f *fixture) coordinator(t *testing.T) *quorum.Coordinator {
	t.Helper()

	cfg := quorum.DefaultConfig()
	cfg.MaxRetries = 0
	cfg.RequestTimeout = 200 * time.Millisecond
	cfg.SessionTimeout = 300 * time.Millisecond

	c, err := quorum.NewCoordinator(f.roster, f.signers, quorum.DefaultPolicy(f.roster.Len()),
		quorum.WithConfig(cfg), quorum.WithSink(f.sink))
	if err != nil {
		t.Fatalf("coordinator: %v", err)
	}

	return c
}

// certify runs a session and returns its certificate.
func (f *fixture) certify(t *testing.T, payload string) *quorum.Certificate {
	t.Helper()

	c := f.coordinator(t)
	out := c.Run(context.Background(), quorum.HashPayload([]byte(payload)))
	c.Wait()

	if !out.OK() {
		t.Fatalf("session failed: %v", out.Failure)
	}

	return out.Certificate
}

// TestEncodeDecode tests the settlement encoding.
func TestEncodeDecode(t *testing.T) {
	f := newFixture(t, signer.Honest, signer.Honest, signer.Forger, signer.Honest)
	cert := f.certify(t, "encode")

	data, err := EncodeCertificate(cert, f.roster)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	got, err := DecodeCertificate(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if got.PayloadHash != cert.PayloadHash || got.RequestID != cert.RequestID {
		t.Error("hash or request id mismatch")
	}

	if fmt.Sprint(got.Signers) != "[0 1 3]" || got.SignerCount != 3 || got.Threshold != 3 {
		t.Errorf("signers %v count %d threshold %d", got.Signers, got.SignerCount, got.Threshold)
	}

	if len(got.Signature) != bls.SignatureSize {
		t.Errorf("signature length %d", len(got.Signature))
	}

	for _, bad := range [][]byte{nil, {1, 2, 3}, make([]byte, 64)} {
		if _, err := DecodeCertificate(bad); !errors.Is(err, ErrMalformedCertificate) {
			t.Errorf("decode %x: got %v", bad, err)
		}
	}
}

// TestVerifier tests acceptance and rejection by the loopback verifier.
func TestVerifier(t *testing.T) {
	f := newFixture(t, signer.Honest, signer.Honest, signer.Honest, signer.Honest)
	cert := f.certify(t, "verify")
	v := NewVerifier(f.roster)

	data, _ := EncodeCertificate(cert, f.roster)

	receipt, err := v.Submit(context.Background(), data)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if len(receipt.Digest) != 64 || receipt.Signers != cert.Len() {
		t.Errorf("receipt: %+v", receipt)
	}

	// The payload hash vector is written first, so it ends the buffer.
	tampered := append([]byte(nil), data...)
	tampered[len(tampered)-5] ^= 0x01

	_, err = v.Submit(context.Background(), tampered)
	if Classify(err) != quorum.ReasonL1Execution {
		t.Errorf("tampered certificate: got %v", err)
	}

	// A certificate for another roster does not verify.
	if _, err := NewVerifier(mustRoster(t, 0x99, 4)).Submit(context.Background(), data); Classify(err) != quorum.ReasonL1Execution {
		t.Errorf("foreign roster: got %v", err)
	}

	if _, err := EncodeCertificate(&quorum.Certificate{Threshold: 3}, f.roster); err == nil {
		t.Error("encoding a certificate below threshold should fail")
	}
}

func mustRoster(t *testing.T, salt byte, n int) *roster.Roster {
	t.Helper()

	members := make([]roster.Member, n)
	for i := range members {
		seed := make([]byte, bls.SeedSize)
		seed[0] = byte(i + 1)
		seed[3] = salt

		key, _ := bls.GenerateKeyFromSeed(seed)
		members[i] = roster.Member{ID: fmt.Sprintf("node-%d", i)}.WithKey(key)
	}

	r, err := roster.New(members)
	if err != nil {
		t.Fatalf("roster: %v", err)
	}

	return r
}

// TestHTTPSubmitter tests status classification against a relay.
func TestHTTPSubmitter(t *testing.T) {
	f := newFixture(t, signer.Honest, signer.Honest, signer.Honest, signer.Honest)
	data, _ := EncodeCertificate(f.certify(t, "http"), f.roster)

	relay := httptest.NewServer(RelayHandler(NewVerifier(f.roster)))
	defer relay.Close()

	receipt, err := NewHTTPSubmitter(relay.URL, nil).Submit(context.Background(), data)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if receipt.Digest == "" || receipt.Signers < 3 {
		t.Errorf("receipt: %+v", receipt)
	}

	if _, err := NewHTTPSubmitter(relay.URL, nil).Submit(context.Background(), []byte("junk")); Classify(err) != quorum.ReasonL1Execution {
		t.Errorf("junk: got %v", err)
	}

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer down.Close()

	if _, err := NewHTTPSubmitter(down.URL, nil).Submit(context.Background(), data); Classify(err) != quorum.ReasonL1Rpc {
		t.Errorf("5xx: got %v", err)
	}

	closed := httptest.NewServer(http.NotFoundHandler())
	url := closed.URL
	closed.Close()

	if _, err := NewHTTPSubmitter(url, nil).Submit(context.Background(), data); Classify(err) != quorum.ReasonL1Rpc {
		t.Errorf("unreachable: got %v", err)
	}
}

// TestClassify tests error classification.
func TestClassify(t *testing.T) {
	if Classify(nil) != quorum.ReasonNone {
		t.Error("nil should be ReasonNone")
	}

	if Classify(errors.New("boom")) != quorum.ReasonL1Rpc {
		t.Error("unclassified errors should be L1Rpc")
	}

	wrapped := fmt.Errorf("outer:\n%w", executionError(errors.New("revert")))
	if Classify(wrapped) != quorum.ReasonL1Execution {
		t.Error("wrapped execution error lost its kind")
	}
}

// stubSubmitter fails with err for the first fails calls.
type stubSubmitter struct {
	err   error
	fails int32
	calls atomic.Int32
}

func (s *stubSubmitter) Submit(ctx context.Context, certificate []byte) (*Receipt, error) {
	if s.calls.Add(1) <= s.fails {
		return nil, s.err
	}
	return &Receipt{Digest: "abc", SubmittedAt: time.Now()}, nil
}

// TestPipeline tests submission folding and the single outcome record.
func TestPipeline(t *testing.T) {
	t.Run("certified", func(t *testing.T) {
		f := newFixture(t, signer.Honest, signer.Honest, signer.Honest, signer.Honest)
		c := f.coordinator(t)
		p := NewPipeline(c, NewVerifier(f.roster))

		out := p.Process(context.Background(), quorum.HashPayload([]byte("ok")))
		c.Wait()

		if !out.OK() || out.TxDigest == "" {
			t.Fatalf("expected submitted certificate: %v", out.Failure)
		}

		outs, _ := f.sink.Outcomes(0)
		if len(outs) != 1 || !outs[0].Certified || outs[0].TxDigest != out.TxDigest {
			t.Errorf("records: %+v", outs)
		}
	})

	t.Run("execution failure", func(t *testing.T) {
		f := newFixture(t, signer.Honest, signer.Honest, signer.Honest, signer.Honest)
		c := f.coordinator(t)
		stub := &stubSubmitter{err: executionError(errors.New("revert")), fails: 10}
		p := NewPipeline(c, stub, WithSubmitRetries(3, quorum.Backoff{Initial: time.Millisecond}))

		out := p.Process(context.Background(), quorum.HashPayload([]byte("reverted")))
		c.Wait()

		if out.OK() || out.Reason() != quorum.ReasonL1Execution || stub.calls.Load() != 1 {
			t.Errorf("reason %s after %d calls", out.Reason(), stub.calls.Load())
		}

		outs, _ := f.sink.Outcomes(0)
		if len(outs) != 1 || outs[0].Reason != "l1_execution" {
			t.Errorf("records: %+v", outs)
		}
	})

	t.Run("rpc retried", func(t *testing.T) {
		f := newFixture(t, signer.Honest, signer.Honest, signer.Honest, signer.Honest)
		c := f.coordinator(t)
		stub := &stubSubmitter{err: rpcError(errors.New("connection reset")), fails: 2}
		p := NewPipeline(c, stub, WithSubmitRetries(2, quorum.Backoff{Initial: time.Millisecond}))

		out := p.Process(context.Background(), quorum.HashPayload([]byte("flaky rpc")))
		c.Wait()

		if !out.OK() || stub.calls.Load() != 3 {
			t.Errorf("ok=%v after %d calls: %v", out.OK(), stub.calls.Load(), out.Failure)
		}
	})

	t.Run("quorum failure skips submission", func(t *testing.T) {
		f := newFixture(t, signer.Honest, signer.Refuse, signer.Refuse, signer.Honest)
		c := f.coordinator(t)
		stub := &stubSubmitter{}
		p := NewPipeline(c, stub)

		out := p.Process(context.Background(), quorum.HashPayload([]byte("short")))
		c.Wait()

		if out.Reason() != quorum.ReasonNotEnoughSignatures || stub.calls.Load() != 0 {
			t.Errorf("reason %s, submit calls %d", out.Reason(), stub.calls.Load())
		}
	})
}
