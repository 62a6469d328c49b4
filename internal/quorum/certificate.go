package quorum

import (
	"fmt"
	"sort"
	"sync"

	"QuorumGate/internal/bls"
	"QuorumGate/internal/roster"
)

// Assembler accumulates accepted shares for one attempt until frozen.
type Assembler struct {
	mu        sync.Mutex
	req       SigningRequest
	threshold int
	shares    map[string]SignatureShare
	frozen    bool
	late      int
}

// NewAssembler starts an empty certificate for req.
func NewAssembler(req *SigningRequest, threshold int) *Assembler {
	return &Assembler{
		req:       *req,
		threshold: threshold,
		shares:    make(map[string]SignatureShare),
	}
}

// Add inserts a validated share. It is idempotent per node id: a second share
// from the same node never replaces the first. After Freeze every Add is
// counted as late and rejected.
func (a *Assembler) Add(share SignatureShare) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.frozen {
		a.late++
		return ErrCertificateFrozen
	}

	if _, exists := a.shares[share.NodeID]; exists {
		return ErrDuplicateShare
	}

	if share.RequestID != a.req.RequestID {
		return ErrStaleRequest
	}

	share.Signature = append([]byte(nil), share.Signature...)
	a.shares[share.NodeID] = share

	return nil
}

// Has reports whether nodeID already has an accepted share.
func (a *Assembler) Has(nodeID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	_, exists := a.shares[nodeID]

	return exists
}

// Count returns the number of accepted shares.
func (a *Assembler) Count() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return len(a.shares)
}

// ThresholdMet reports whether the accepted shares reach the threshold.
func (a *Assembler) ThresholdMet() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	return len(a.shares) >= a.threshold
}

// Late returns how many shares were offered after the freeze.
func (a *Assembler) Late() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.late
}

// Freeze stops accepting shares and returns an immutable snapshot.
// Calling Freeze again returns an equal snapshot.
func (a *Assembler) Freeze() *Certificate {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.frozen = true

	shares := make(map[string]SignatureShare, len(a.shares))
	for id, s := range a.shares {
		shares[id] = s
	}

	signers := make([]string, 0, len(shares))
	for id := range shares {
		signers = append(signers, id)
	}
	sort.Strings(signers)

	return &Certificate{
		PayloadHash:  a.req.PayloadHash,
		RequestID:    a.req.RequestID,
		Threshold:    a.threshold,
		ThresholdMet: len(shares) >= a.threshold,
		shares:       shares,
		signers:      signers,
	}
}

// Certificate is a frozen set of accepted shares for one request.
// Only certificates with ThresholdMet may be submitted.
type Certificate struct {
	PayloadHash  Hash
	RequestID    RequestID
	Threshold    int
	ThresholdMet bool

	shares  map[string]SignatureShare
	signers []string
}

// Len returns the number of shares.
func (c *Certificate) Len() int {
	return len(c.shares)
}

// Signers returns the signing node ids in ascending order.
func (c *Certificate) Signers() []string {
	return append([]string(nil), c.signers...)
}

// Share returns the share of nodeID.
func (c *Certificate) Share(nodeID string) (SignatureShare, bool) {
	s, ok := c.shares[nodeID]
	return s, ok
}

// Shares returns all shares ordered by node id.
func (c *Certificate) Shares() []SignatureShare {
	out := make([]SignatureShare, len(c.signers))
	for i, id := range c.signers {
		out[i] = c.shares[id]
	}

	return out
}

// Aggregate combines the share signatures into one BLS signature.
func (c *Certificate) Aggregate() ([]byte, error) {
	sigs := make([][]byte, len(c.signers))
	for i, id := range c.signers {
		sigs[i] = c.shares[id].Signature
	}

	agg, err := bls.Aggregate(sigs)
	if err != nil {
		return nil, fmt.Errorf("aggregate certificate:\n%w", err)
	}

	return agg, nil
}

// SignerIndices returns the roster positions of the signers, ascending.
func (c *Certificate) SignerIndices(r *roster.Roster) ([]int, error) {
	indices := make([]int, 0, len(c.signers))

	for _, id := range c.signers {
		idx := r.Index(id)
		if idx < 0 {
			return nil, fmt.Errorf("%w: %s", ErrUnknownNode, id)
		}
		indices = append(indices, idx)
	}

	sort.Ints(indices)

	return indices, nil
}

// Verify re-checks the certificate invariant against r: enough distinct
// signers and every share verifying over the payload hash.
func (c *Certificate) Verify(r *roster.Roster) error {
	if len(c.shares) < c.Threshold {
		return fmt.Errorf("certificate has %d shares, threshold %d", len(c.shares), c.Threshold)
	}

	for _, id := range c.signers {
		s := c.shares[id]

		pk := r.PublicKey(id)
		if pk == nil {
			return fmt.Errorf("%w: %s", ErrUnknownNode, id)
		}

		if s.RequestID != c.RequestID {
			return fmt.Errorf("share of %s: %w", id, ErrStaleRequest)
		}

		if err := Classify(c.PayloadHash, s.Signature, pk); err != nil {
			return fmt.Errorf("share of %s:\n%w", id, err)
		}
	}

	return nil
}
