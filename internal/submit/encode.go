package submit

import (
	"errors"
	"fmt"

	flatbuffers "github.com/google/flatbuffers/go"

	"QuorumGate/internal/bls"
	"QuorumGate/internal/quorum"
	"QuorumGate/internal/roster"
	"QuorumGate/internal/types"
)

// ErrMalformedCertificate is returned when encoded bytes are not a certificate.
var ErrMalformedCertificate = errors.New("malformed certificate")

// Certificate is the decoded settlement form of a quorum certificate.
type Certificate struct {
	PayloadHash quorum.Hash
	RequestID   quorum.RequestID
	Signers     []int  // Signers are roster indices, ascending
	Signature   []byte // Signature is the aggregated BLS signature
	Threshold   int
	SignerCount int
}

// EncodeCertificate serializes a threshold-met certificate for submission:
// the aggregated signature plus a signer bitmap over roster order.
func EncodeCertificate(cert *quorum.Certificate, r *roster.Roster) ([]byte, error) {
	if !cert.ThresholdMet {
		return nil, fmt.Errorf("certificate below threshold: %d/%d", cert.Len(), cert.Threshold)
	}

	indices, err := cert.SignerIndices(r)
	if err != nil {
		return nil, fmt.Errorf("signer indices:\n%w", err)
	}

	agg, err := cert.Aggregate()
	if err != nil {
		return nil, err
	}

	builder := flatbuffers.NewBuilder(256)

	hashVec := builder.CreateByteVector(cert.PayloadHash[:])
	idVec := builder.CreateByteVector(cert.RequestID[:])
	bitmapVec := builder.CreateByteVector(bls.BuildSignerBitmap(indices, r.Len()))
	sigVec := builder.CreateByteVector(agg)

	types.QuorumCertificateStart(builder)
	types.QuorumCertificateAddPayloadHash(builder, hashVec)
	types.QuorumCertificateAddRequestId(builder, idVec)
	types.QuorumCertificateAddSignerBitmap(builder, bitmapVec)
	types.QuorumCertificateAddAggregateSignature(builder, sigVec)
	types.QuorumCertificateAddThreshold(builder, uint16(cert.Threshold))
	types.QuorumCertificateAddSigners(builder, uint16(len(indices)))
	offset := types.QuorumCertificateEnd(builder)

	builder.Finish(offset)

	return builder.FinishedBytes(), nil
}

// DecodeCertificate parses an encoded certificate.
func DecodeCertificate(data []byte) (c *Certificate, err error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("%w: %d bytes", ErrMalformedCertificate, len(data))
	}

	// Out-of-range offsets in a hostile buffer panic inside the accessors
	defer func() {
		if r := recover(); r != nil {
			c, err = nil, fmt.Errorf("%w: %v", ErrMalformedCertificate, r)
		}
	}()

	qc := types.GetRootAsQuorumCertificate(data, 0)

	hash := qc.PayloadHashBytes()
	id := qc.RequestIdBytes()

	if len(hash) != len(quorum.Hash{}) || len(id) != len(quorum.RequestID{}) {
		return nil, fmt.Errorf("%w: hash or request id length", ErrMalformedCertificate)
	}

	c = &Certificate{
		Signers:     bls.ParseSignerBitmap(qc.SignerBitmapBytes()),
		Signature:   append([]byte(nil), qc.AggregateSignatureBytes()...),
		Threshold:   int(qc.Threshold()),
		SignerCount: int(qc.Signers()),
	}
	copy(c.PayloadHash[:], hash)
	copy(c.RequestID[:], id)

	return c, nil
}
