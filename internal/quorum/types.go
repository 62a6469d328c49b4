package quorum

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/zeebo/blake3"
)

// Hash is a 32-byte BLAKE3 digest of a payload.
type Hash [32]byte

// RequestID identifies one signing attempt. It is unique per attempt so shares
// cannot be replayed across sessions.
type RequestID [32]byte

// HashPayload returns the BLAKE3 digest of a payload.
func HashPayload(payload []byte) Hash {
	return blake3.Sum256(payload)
}

// String returns the hex encoding of the hash.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Short returns the first 8 hex characters for logging.
func (h Hash) Short() string {
	return hex.EncodeToString(h[:4])
}

// ParseHash decodes a 64-character hex string.
func ParseHash(s string) (Hash, error) {
	var h Hash

	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("decode hash:\n%w", err)
	}

	if len(b) != len(h) {
		return h, fmt.Errorf("hash must be %d bytes, got %d", len(h), len(b))
	}

	copy(h[:], b)

	return h, nil
}

// String returns the hex encoding of the request id.
func (id RequestID) String() string {
	return hex.EncodeToString(id[:])
}

// Short returns the first 8 hex characters for logging.
func (id RequestID) Short() string {
	return hex.EncodeToString(id[:4])
}

// NewRequestID derives a fresh request id from the payload hash, the attempt
// number and 16 bytes read from entropy.
func NewRequestID(entropy io.Reader, payload Hash, attempt int) (RequestID, error) {
	var nonce [16]byte
	if _, err := io.ReadFull(entropy, nonce[:]); err != nil {
		return RequestID{}, fmt.Errorf("read request nonce:\n%w", err)
	}

	h := blake3.New()
	h.Write([]byte("quorumgate-request"))
	h.Write(payload[:])
	h.Write(binary.BigEndian.AppendUint32(nil, uint32(attempt)))
	h.Write(nonce[:])

	var id RequestID
	h.Sum(id[:0])

	return id, nil
}

// SigningRequest is sent to every node of an attempt. It is never mutated.
type SigningRequest struct {
	PayloadHash Hash      // PayloadHash is the digest the nodes sign
	RequestID   RequestID // RequestID is unique per attempt
	Deadline    time.Time // Deadline is the session deadline
	Attempt     int       // Attempt counts from 1
}

// SignatureShare is one node's response to a SigningRequest.
type SignatureShare struct {
	NodeID     string    // NodeID is the responding node
	RequestID  RequestID // RequestID echoes the request
	Signature  []byte    // Signature is the BLS signature over the payload hash
	ReceivedAt time.Time // ReceivedAt is stamped by the coordinator
}

// Signer is an attestation node as seen by the coordinator.
// Sign must honour ctx cancellation.
type Signer interface {
	ID() string
	Sign(ctx context.Context, req *SigningRequest) (*SignatureShare, error)
}
