package quorum

import (
	"time"

	"QuorumGate/internal/audit"
)

// Outcome is the result of a session: a certificate whose threshold is met,
// or a classified Failure with the partial progress of the last attempt.
type Outcome struct {
	PayloadHash Hash
	RequestID   RequestID    // RequestID is the id of the last attempt
	Certificate *Certificate // Certificate is the frozen share set of the last attempt
	Failure     *Failure     // Failure is nil on success
	Required    int
	Attempts    int
	Detections  int
	TxDigest    string // TxDigest is set once the certificate was submitted
	Started     time.Time
	Duration    time.Duration
}

// OK reports whether the session produced a submittable certificate and,
// when submission was attempted, it succeeded.
func (o *Outcome) OK() bool {
	return o.Failure == nil && o.Certificate != nil && o.Certificate.ThresholdMet
}

// Reason returns the failure reason, or ReasonNone on success.
func (o *Outcome) Reason() FailureReason {
	if o.Failure == nil {
		return ReasonNone
	}

	return o.Failure.Reason
}

// ValidShares returns the number of accepted shares of the last attempt.
func (o *Outcome) ValidShares() int {
	if o.Certificate != nil {
		return o.Certificate.Len()
	}

	if o.Failure != nil {
		return o.Failure.ValidShares
	}

	return 0
}

// Record converts the outcome to its audit entry.
func (o *Outcome) Record() audit.Record {
	r := audit.Record{
		Time:        o.Started,
		PayloadHash: o.PayloadHash.String(),
		RequestID:   o.RequestID.String(),
		Certified:   o.OK(),
		Reason:      o.Reason().String(),
		ValidShares: o.ValidShares(),
		Required:    o.Required,
		Attempts:    o.Attempts,
		Detections:  o.Detections,
		TxDigest:    o.TxDigest,
		Duration:    o.Duration,
	}

	if o.Failure != nil && o.Failure.Err != nil {
		r.Error = o.Failure.Err.Error()
	}

	if o.Certificate != nil && o.Certificate.ThresholdMet {
		r.Signers = o.Certificate.Signers()
	}

	return r
}
