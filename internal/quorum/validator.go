package quorum

import (
	"errors"
	"fmt"
	"time"

	"QuorumGate/internal/audit"
	"QuorumGate/internal/bls"
	"QuorumGate/internal/logger"
	"QuorumGate/internal/metrics"
	"QuorumGate/internal/roster"
)

// Classify verifies signature over payloadHash under publicKey.
// It is pure: the same inputs always yield the same verdict.
func Classify(payloadHash Hash, signature, publicKey []byte) error {
	if err := bls.CheckSignature(signature); err != nil {
		return ErrMalformedSignature
	}

	if !bls.Verify(signature, payloadHash[:], publicKey) {
		return ErrInvalidSignature
	}

	return nil
}

// Validator checks shares against the roster and the in-flight request and
// records Byzantine detections. It holds no per-session state.
type Validator struct {
	roster  *roster.Roster
	sink    audit.Sink
	metrics *metrics.Metrics
}

// NewValidator creates a validator. sink and m may be nil.
func NewValidator(r *roster.Roster, sink audit.Sink, m *metrics.Metrics) *Validator {
	if sink == nil {
		sink = audit.Discard
	}

	return &Validator{roster: r, sink: sink, metrics: m}
}

// Validate runs the ordered checks for share against req: roster membership,
// request id, duplicate, then signature. accepted reports whether a node
// already has an accepted share in this session.
// A nil return means the share may be added to the certificate.
func (v *Validator) Validate(req *SigningRequest, share *SignatureShare, accepted func(nodeID string) bool) error {
	pk := v.roster.PublicKey(share.NodeID)
	if pk == nil {
		v.detect(req, share, audit.KindUnknownNode, "node not in roster")
		return ErrUnknownNode
	}

	if share.RequestID != req.RequestID {
		v.detect(req, share, audit.KindStaleRequest, "echoed "+share.RequestID.Short())
		return ErrStaleRequest
	}

	if accepted(share.NodeID) {
		logger.Debug("duplicate share ignored",
			"node", share.NodeID,
			"request", req.RequestID.Short(),
		)
		return ErrDuplicateShare
	}

	if err := Classify(req.PayloadHash, share.Signature, pk); err != nil {
		detail := "verification failed"
		if errors.Is(err, ErrMalformedSignature) {
			detail = "malformed signature"
		}

		v.detect(req, share, audit.KindInvalidSignature, detail)

		return err
	}

	return nil
}

// CheckResponder rejects a share whose claimed node id differs from the node
// that answered, recording the responder as the offender.
func (v *Validator) CheckResponder(req *SigningRequest, responder string, share *SignatureShare) error {
	if share.NodeID == responder {
		return nil
	}

	v.detect(req, &SignatureShare{NodeID: responder, RequestID: share.RequestID}, audit.KindIdentityMismatch, "claimed "+share.NodeID)

	return fmt.Errorf("%w: %s claimed %s", ErrIdentityMismatch, responder, share.NodeID)
}

// detect appends a detection and logs it.
func (v *Validator) detect(req *SigningRequest, share *SignatureShare, kind, detail string) {
	logger.Warn("byzantine share detected",
		"node", share.NodeID,
		"kind", kind,
		"detail", detail,
		"request", req.RequestID.Short(),
		"payload", req.PayloadHash.Short(),
	)

	v.sink.RecordDetection(audit.Detection{
		Time:        time.Now(),
		NodeID:      share.NodeID,
		Kind:        kind,
		RequestID:   req.RequestID.String(),
		PayloadHash: req.PayloadHash.String(),
		Detail:      detail,
	})

	v.metrics.Detection(kind)
}
