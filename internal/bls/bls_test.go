package bls

import (
	"bytes"
	"crypto/ed25519"
	"errors"
	"testing"
)

// seed returns a deterministic 32-byte seed starting at b.
func seed(b byte) []byte {
	s := make([]byte, SeedSize)
	for i := range s {
		s[i] = b + byte(i)
	}

	return s
}

// TestSignVerify tests basic sign and verify.
func TestSignVerify(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	message := []byte("payload hash")
	signature := key.Sign(message)

	if len(signature) != SignatureSize {
		t.Errorf("signature size: got %d, want %d", len(signature), SignatureSize)
	}

	if !Verify(signature, message, key.PublicKeyBytes()) {
		t.Error("valid signature should verify")
	}

	if Verify(signature, []byte("other payload"), key.PublicKeyBytes()) {
		t.Error("signature should not verify over another message")
	}
}

// TestVerifyWrongKey tests verification with another node's key.
func TestVerifyWrongKey(t *testing.T) {
	key1, _ := GenerateKeyFromSeed(seed(1))
	key2, _ := GenerateKeyFromSeed(seed(2))

	message := []byte("payload hash")

	if Verify(key1.Sign(message), message, key2.PublicKeyBytes()) {
		t.Error("signature should not verify with wrong key")
	}
}

// TestDeterministicKey tests that a seed produces the same key.
func TestDeterministicKey(t *testing.T) {
	key1, _ := GenerateKeyFromSeed(seed(7))
	key2, _ := GenerateKeyFromSeed(seed(7))

	if !bytes.Equal(key1.PublicKeyBytes(), key2.PublicKeyBytes()) {
		t.Error("same seed should produce same key")
	}

	if _, err := GenerateKeyFromSeed(make([]byte, 16)); err == nil {
		t.Error("short seed should fail")
	}
}

// TestDeriveFromEd25519 tests that derivation is stable per identity.
func TestDeriveFromEd25519(t *testing.T) {
	priv := ed25519.NewKeyFromSeed(seed(3))

	key1, err := DeriveFromEd25519(priv)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}

	key2, _ := DeriveFromEd25519(priv)
	if !bytes.Equal(key1.PublicKeyBytes(), key2.PublicKeyBytes()) {
		t.Error("derivation should be deterministic")
	}

	other, _ := DeriveFromEd25519(ed25519.NewKeyFromSeed(seed(4)))
	if bytes.Equal(key1.PublicKeyBytes(), other.PublicKeyBytes()) {
		t.Error("different identities should derive different keys")
	}
}

// TestCheckSignature tests malformed signature detection.
func TestCheckSignature(t *testing.T) {
	key, _ := GenerateKeyFromSeed(seed(5))

	if err := CheckSignature(key.Sign([]byte("m"))); err != nil {
		t.Errorf("well-formed signature rejected: %v", err)
	}

	if err := CheckSignature(make([]byte, 64)); !errors.Is(err, ErrSignatureSize) {
		t.Errorf("short signature: got %v, want ErrSignatureSize", err)
	}

	garbage := bytes.Repeat([]byte{0xff}, SignatureSize)
	if err := CheckSignature(garbage); !errors.Is(err, ErrSignatureEncoding) {
		t.Errorf("garbage signature: got %v, want ErrSignatureEncoding", err)
	}
}

// TestCheckPublicKey tests public key validation.
func TestCheckPublicKey(t *testing.T) {
	key, _ := GenerateKeyFromSeed(seed(6))

	if err := CheckPublicKey(key.PublicKeyBytes()); err != nil {
		t.Errorf("valid key rejected: %v", err)
	}

	if err := CheckPublicKey(make([]byte, 10)); err == nil {
		t.Error("short key should fail")
	}
}

// TestProofOfPossession tests that proofs bind to their key and tag.
func TestProofOfPossession(t *testing.T) {
	a, _ := GenerateKeyFromSeed(seed(1))
	b, _ := GenerateKeyFromSeed(seed(2))

	proof := a.ProvePossession()
	if !VerifyPossession(a.PublicKeyBytes(), proof) {
		t.Fatal("valid proof rejected")
	}

	if VerifyPossession(b.PublicKeyBytes(), proof) {
		t.Error("proof accepted for another key")
	}

	// A message signature over the key bytes is not a proof.
	if VerifyPossession(a.PublicKeyBytes(), a.Sign(a.PublicKeyBytes())) {
		t.Error("message signature accepted as proof")
	}

	if VerifyPossession(a.PublicKeyBytes(), nil) || VerifyPossession(a.PublicKeyBytes(), make([]byte, SignatureSize)) {
		t.Error("empty proof accepted")
	}
}

// TestAggregation tests signature aggregation and verification.
func TestAggregation(t *testing.T) {
	const numSigners = 5

	message := []byte("aggregate me")
	sigs := make([][]byte, numSigners)
	pubkeys := make([][]byte, numSigners)

	for i := 0; i < numSigners; i++ {
		key, err := GenerateKeyFromSeed(seed(byte(10 * i)))
		if err != nil {
			t.Fatalf("generate key %d: %v", i, err)
		}

		sigs[i] = key.Sign(message)
		pubkeys[i] = key.PublicKeyBytes()
	}

	agg, err := Aggregate(sigs)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}

	if !VerifyAggregated(agg, message, pubkeys) {
		t.Error("aggregated signature should verify")
	}

	if VerifyAggregated(agg, message, pubkeys[:numSigners-1]) {
		t.Error("aggregated signature should not verify with a missing key")
	}

	if _, err := Aggregate(nil); err == nil {
		t.Error("empty aggregation should fail")
	}
}

// TestSignerBitmap tests bitmap round trip.
func TestSignerBitmap(t *testing.T) {
	indices := []int{0, 3, 8, 9}

	bitmap := BuildSignerBitmap(indices, 10)
	if len(bitmap) != 2 {
		t.Fatalf("bitmap length: got %d, want 2", len(bitmap))
	}

	got := ParseSignerBitmap(bitmap)
	if len(got) != len(indices) {
		t.Fatalf("parsed %v, want %v", got, indices)
	}

	for i := range indices {
		if got[i] != indices[i] {
			t.Errorf("index %d: got %d, want %d", i, got[i], indices[i])
		}
	}

	if len(ParseSignerBitmap(BuildSignerBitmap([]int{-1, 12}, 10))) != 0 {
		t.Error("out-of-range indices should be ignored")
	}
}

// BenchmarkVerify benchmarks single signature verification.
func BenchmarkVerify(b *testing.B) {
	key, _ := GenerateKeyFromSeed(seed(9))
	message := []byte("benchmark payload")
	sig := key.Sign(message)
	pk := key.PublicKeyBytes()

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		Verify(sig, message, pk)
	}
}
