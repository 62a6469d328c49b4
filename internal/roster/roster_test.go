package roster

import (
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"QuorumGate/internal/bls"
)

// testKey returns a deterministic BLS key for index i.
func testKey(t *testing.T, i int) *bls.KeyPair {
	t.Helper()

	seed := make([]byte, bls.SeedSize)
	seed[0] = byte(i + 1)

	key, err := bls.GenerateKeyFromSeed(seed)
	if err != nil {
		t.Fatalf("generate key %d: %v", i, err)
	}

	return key
}

// TestNewRoster tests ordering and lookup.
func TestNewRoster(t *testing.T) {
	members := []Member{
		Member{ID: "b"}.WithKey(testKey(t, 0)),
		Member{ID: "a"}.WithKey(testKey(t, 1)),
	}

	r, err := New(members)
	if err != nil {
		t.Fatalf("new roster: %v", err)
	}

	if r.Len() != 2 {
		t.Fatalf("len: got %d, want 2", r.Len())
	}

	if r.Index("b") != 0 || r.Index("a") != 1 || r.Index("zz") != -1 {
		t.Errorf("unexpected indices: b=%d a=%d zz=%d", r.Index("b"), r.Index("a"), r.Index("zz"))
	}

	if got := strings.Join(r.IDs(), ","); got != "b,a" {
		t.Errorf("ids: got %s, want b,a", got)
	}

	m, ok := r.Get("a")
	if !ok || !m.Simulated() {
		t.Error("member a should be simulated")
	}

	if r.PublicKey("missing") != nil {
		t.Error("unknown member should have no key")
	}
}

// TestNewRosterRejects tests validation failures.
func TestNewRosterRejects(t *testing.T) {
	key := testKey(t, 0)

	if _, err := New(nil); !errors.Is(err, ErrEmpty) {
		t.Errorf("empty: got %v", err)
	}

	dupID := []Member{Member{ID: "x"}.WithKey(key), Member{ID: "x"}.WithKey(testKey(t, 1))}
	if _, err := New(dupID); !errors.Is(err, ErrDuplicateMember) {
		t.Errorf("duplicate id: got %v", err)
	}

	dupKey := []Member{Member{ID: "x"}.WithKey(key), Member{ID: "y"}.WithKey(key)}
	if _, err := New(dupKey); !errors.Is(err, ErrDuplicateMember) {
		t.Errorf("duplicate key: got %v", err)
	}

	if _, err := New([]Member{{ID: "x", PublicKey: []byte{1, 2, 3}}}); err == nil {
		t.Error("bad public key should fail")
	}
}

// TestMembersCopy tests that callers cannot mutate the roster.
func TestMembersCopy(t *testing.T) {
	r, _ := New([]Member{Member{ID: "a"}.WithKey(testKey(t, 0))})

	ms := r.Members()
	ms[0].ID = "mutated"

	if r.At(0).ID != "a" {
		t.Error("roster mutated through Members copy")
	}
}

// TestLoadFile tests decoding a roster file with simulated and remote members.
func TestLoadFile(t *testing.T) {
	remote := testKey(t, 5)
	seed := strings.Repeat("ab", bls.SeedSize)

	content := `{
		"f": 1, "t": 2,
		"requestTimeout": "150ms", "sessionTimeout": "1s",
		"maxRetries": 3, "backoff": "20ms",
		"members": [
			{"id": "sim-1", "seed": "` + seed + `", "behavior": "forger"},
			{"id": "remote-1", "publicKey": "` + hex.EncodeToString(remote.PublicKeyBytes()) + `",
			 "possession": "` + hex.EncodeToString(remote.ProvePossession()) + `",
			 "address": "127.0.0.1:9100", "networkKey": "` + strings.Repeat("11", 32) + `"}
		]
	}`

	path := filepath.Join(t.TempDir(), "roster.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write roster: %v", err)
	}

	f, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if f.F == nil || *f.F != 1 || f.T == nil || *f.T != 2 || f.MaxRetries == nil || *f.MaxRetries != 3 {
		t.Errorf("policy fields not decoded: %+v", f)
	}

	timing, err := f.Timing()
	if err != nil {
		t.Fatalf("timing: %v", err)
	}

	if timing.RequestTimeout != 150*time.Millisecond || timing.SessionTimeout != time.Second {
		t.Errorf("timing: %+v", timing)
	}

	r, err := f.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	sim, _ := r.Get("sim-1")
	if !sim.Simulated() || sim.Behavior != "forger" {
		t.Errorf("sim-1 decoded wrong: %+v", sim)
	}

	rem, _ := r.Get("remote-1")
	if rem.Simulated() || rem.Address != "127.0.0.1:9100" || len(rem.NetworkKey) != 32 {
		t.Errorf("remote-1 decoded wrong: %+v", rem)
	}
}

// TestBuildRejectsIncompleteRemote tests that remote members need transport details.
func TestBuildRejectsIncompleteRemote(t *testing.T) {
	f := &File{Members: []FileMember{{
		ID:        "r",
		PublicKey: hex.EncodeToString(testKey(t, 0).PublicKeyBytes()),
	}}}

	if _, err := f.Build(); err == nil {
		t.Error("remote member without address should fail")
	}

	f = &File{Members: []FileMember{{ID: "empty"}}}
	if _, err := f.Build(); err == nil {
		t.Error("member without key material should fail")
	}
}

// TestPossessionRequired tests that a member key is only admitted with a proof
// made by that key.
func TestPossessionRequired(t *testing.T) {
	key := testKey(t, 7)
	other := testKey(t, 8)

	member := func(proof []byte) Member {
		return Member{
			ID:         "remote",
			PublicKey:  key.PublicKeyBytes(),
			Possession: proof,
			Address:    "127.0.0.1:9100",
			NetworkKey: make([]byte, 32),
		}
	}

	if _, err := New([]Member{member(nil)}); !errors.Is(err, ErrPossession) {
		t.Errorf("missing proof: got %v", err)
	}

	if _, err := New([]Member{member(other.ProvePossession())}); !errors.Is(err, ErrPossession) {
		t.Errorf("proof by another key: got %v", err)
	}

	if _, err := New([]Member{member(key.ProvePossession())}); err != nil {
		t.Errorf("valid proof: %v", err)
	}

	f := &File{Members: []FileMember{{
		ID:         "remote",
		PublicKey:  hex.EncodeToString(key.PublicKeyBytes()),
		Address:    "127.0.0.1:9100",
		NetworkKey: strings.Repeat("11", 32),
	}}}

	if _, err := f.Build(); !errors.Is(err, ErrPossession) {
		t.Errorf("file member without possession: got %v", err)
	}
}
