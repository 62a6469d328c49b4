package bls

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"

	blst "github.com/supranational/blst/bindings/go"
	"github.com/zeebo/blake3"
)

const (
	// PublicKeySize is the size of a compressed G1 public key in bytes.
	PublicKeySize = 48

	// SignatureSize is the size of a compressed G2 signature in bytes.
	SignatureSize = 96

	// SeedSize is the minimum key generation seed length.
	SeedSize = 32
)

var (
	// ErrSignatureSize is returned when a signature has the wrong length.
	ErrSignatureSize = errors.New("bls: wrong signature size")

	// ErrSignatureEncoding is returned when a signature is not a valid G2 point.
	ErrSignatureEncoding = errors.New("bls: signature is not a valid curve point")
)

// dst is the signature tag of the proof-of-possession ciphersuite. Aggregates
// over one message are only sound when every public key carries a proof.
var dst = []byte("BLS_SIG_BLS12381G2_XMD:SHA-256_SSWU_RO_POP_")

// popDST tags proofs of possession, keeping them apart from message signatures.
var popDST = []byte("BLS_POP_BLS12381G2_XMD:SHA-256_SSWU_RO_POP_")

// keygenTag binds keys derived from a network identity to this system.
const keygenTag = "quorumgate-bls-keygen"

// KeyPair holds a BLS secret key and its public key.
type KeyPair struct {
	secret *blst.SecretKey // secret is the private scalar
	public *blst.P1Affine  // public is the G1 public key
}

// DeriveFromEd25519 derives a deterministic key pair bound to a node's network identity.
// The seed is BLAKE3(keygenTag || ed25519 seed).
func DeriveFromEd25519(priv ed25519.PrivateKey) (*KeyPair, error) {
	h := blake3.New()
	h.Write([]byte(keygenTag))
	h.Write(priv.Seed())

	var derived [32]byte
	h.Sum(derived[:0])

	return GenerateKeyFromSeed(derived[:])
}

// GenerateKey creates a key pair from a random seed.
func GenerateKey() (*KeyPair, error) {
	var ikm [SeedSize]byte
	if _, err := rand.Read(ikm[:]); err != nil {
		return nil, fmt.Errorf("generate random seed:\n%w", err)
	}

	return GenerateKeyFromSeed(ikm[:])
}

// GenerateKeyFromSeed creates a key pair from a deterministic seed of at least 32 bytes.
func GenerateKeyFromSeed(seed []byte) (*KeyPair, error) {
	if len(seed) < SeedSize {
		return nil, fmt.Errorf("seed must be at least %d bytes, got %d", SeedSize, len(seed))
	}

	secret := blst.KeyGen(seed)
	if secret == nil {
		return nil, fmt.Errorf("key generation failed")
	}

	return &KeyPair{
		secret: secret,
		public: new(blst.P1Affine).From(secret),
	}, nil
}

// Sign returns the compressed signature over message.
func (k *KeyPair) Sign(message []byte) []byte {
	return new(blst.P2Affine).Sign(k.secret, message, dst).Compress()
}

// PublicKeyBytes returns the compressed public key.
func (k *KeyPair) PublicKeyBytes() []byte {
	return k.public.Compress()
}

// ProvePossession signs the compressed public key under the possession tag.
func (k *KeyPair) ProvePossession() []byte {
	return new(blst.P2Affine).Sign(k.secret, k.public.Compress(), popDST).Compress()
}

// VerifyPossession checks a proof of possession for publicKey.
func VerifyPossession(publicKey, proof []byte) bool {
	if len(proof) != SignatureSize || len(publicKey) != PublicKeySize {
		return false
	}

	sig := new(blst.P2Affine).Uncompress(proof)
	if sig == nil {
		return false
	}

	pk := new(blst.P1Affine).Uncompress(publicKey)
	if pk == nil {
		return false
	}

	return sig.Verify(true, pk, true, publicKey, popDST)
}

// CheckPublicKey reports whether b decodes to a valid G1 public key.
func CheckPublicKey(b []byte) error {
	if len(b) != PublicKeySize {
		return fmt.Errorf("public key size %d, want %d", len(b), PublicKeySize)
	}

	pk := new(blst.P1Affine).Uncompress(b)
	if pk == nil || !pk.KeyValidate() {
		return fmt.Errorf("public key is not a valid curve point")
	}

	return nil
}

// CheckSignature reports whether sig is a well-formed compressed signature.
// It does not verify the signature against any key.
func CheckSignature(sig []byte) error {
	if len(sig) != SignatureSize {
		return fmt.Errorf("%w: %d != %d", ErrSignatureSize, len(sig), SignatureSize)
	}

	if new(blst.P2Affine).Uncompress(sig) == nil {
		return ErrSignatureEncoding
	}

	return nil
}

// Verify checks a signature against a message and public key.
func Verify(signature, message, publicKey []byte) bool {
	if len(signature) != SignatureSize || len(publicKey) != PublicKeySize {
		return false
	}

	sig := new(blst.P2Affine).Uncompress(signature)
	if sig == nil {
		return false
	}

	pk := new(blst.P1Affine).Uncompress(publicKey)
	if pk == nil {
		return false
	}

	return sig.Verify(true, pk, true, message, dst)
}

// Aggregate combines signatures over the same message into one.
func Aggregate(signatures [][]byte) ([]byte, error) {
	if len(signatures) == 0 {
		return nil, fmt.Errorf("no signatures to aggregate")
	}

	sigs := make([]*blst.P2Affine, len(signatures))

	for i, b := range signatures {
		if len(b) != SignatureSize {
			return nil, fmt.Errorf("signature %d: %w", i, ErrSignatureSize)
		}

		sig := new(blst.P2Affine).Uncompress(b)
		if sig == nil {
			return nil, fmt.Errorf("signature %d: %w", i, ErrSignatureEncoding)
		}

		sigs[i] = sig
	}

	agg := new(blst.P2Aggregate)
	if !agg.Aggregate(sigs, true) {
		return nil, fmt.Errorf("signature aggregation failed")
	}

	return agg.ToAffine().Compress(), nil
}

// VerifyAggregated verifies an aggregate signature over one message by all publicKeys.
func VerifyAggregated(signature, message []byte, publicKeys [][]byte) bool {
	if len(signature) != SignatureSize || len(publicKeys) == 0 {
		return false
	}

	sig := new(blst.P2Affine).Uncompress(signature)
	if sig == nil {
		return false
	}

	pks := make([]*blst.P1Affine, len(publicKeys))

	for i, b := range publicKeys {
		if len(b) != PublicKeySize {
			return false
		}

		pk := new(blst.P1Affine).Uncompress(b)
		if pk == nil {
			return false
		}

		pks[i] = pk
	}

	aggPk := new(blst.P1Aggregate)
	if !aggPk.Aggregate(pks, true) {
		return false
	}

	return sig.Verify(true, aggPk.ToAffine(), true, message, dst)
}
