package submit

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/zeebo/blake3"

	"QuorumGate/internal/bls"
	"QuorumGate/internal/roster"
)

// Verifier is a loopback settlement layer. It accepts a certificate only if
// the aggregated signature verifies against the roster keys of the signers in
// the bitmap, as the on-chain verifier would.
type Verifier struct {
	roster *roster.Roster
}

// NewVerifier creates a loopback verifier for r.
func NewVerifier(r *roster.Roster) *Verifier {
	return &Verifier{roster: r}
}

// Submit verifies the certificate. Rejections are L1Execution failures.
func (v *Verifier) Submit(ctx context.Context, certificate []byte) (*Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, rpcError(err)
	}

	c, err := DecodeCertificate(certificate)
	if err != nil {
		return nil, executionError(err)
	}

	if err := v.check(c); err != nil {
		return nil, executionError(err)
	}

	digest := blake3.Sum256(certificate)

	return &Receipt{
		Digest:      hex.EncodeToString(digest[:]),
		SubmittedAt: time.Now(),
		Signers:     len(c.Signers),
	}, nil
}

// check applies the settlement rules to a decoded certificate.
func (v *Verifier) check(c *Certificate) error {
	if len(c.Signers) != c.SignerCount {
		return fmt.Errorf("bitmap has %d signers, header says %d", len(c.Signers), c.SignerCount)
	}

	if c.Threshold <= 0 || len(c.Signers) < c.Threshold {
		return fmt.Errorf("%d signers below threshold %d", len(c.Signers), c.Threshold)
	}

	pks := make([][]byte, len(c.Signers))
	for i, idx := range c.Signers {
		if idx >= v.roster.Len() {
			return fmt.Errorf("signer index %d outside roster of %d", idx, v.roster.Len())
		}
		pks[i] = v.roster.At(idx).PublicKey
	}

	if !bls.VerifyAggregated(c.Signature, c.PayloadHash[:], pks) {
		return fmt.Errorf("aggregate signature does not verify")
	}

	return nil
}
