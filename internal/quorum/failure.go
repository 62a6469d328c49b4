package quorum

import (
	"errors"
	"fmt"
)

// FailureReason classifies why a session produced no usable certificate.
type FailureReason int

const (
	// ReasonNone marks a successful outcome.
	ReasonNone FailureReason = iota
	// ReasonNotEnoughSignatures: fewer than t valid shares before the deadline.
	ReasonNotEnoughSignatures
	// ReasonSigningError: the signing request could not be dispatched at all.
	ReasonSigningError
	// ReasonL1Rpc: the submission endpoint could not be reached.
	ReasonL1Rpc
	// ReasonL1Execution: the chain rejected the certificate.
	ReasonL1Execution
)

// Reasons lists every failure reason, in counter order.
var Reasons = []FailureReason{
	ReasonNotEnoughSignatures,
	ReasonSigningError,
	ReasonL1Rpc,
	ReasonL1Execution,
}

// String returns the snake_case name used in metrics and audit records.
func (r FailureReason) String() string {
	switch r {
	case ReasonNone:
		return ""
	case ReasonNotEnoughSignatures:
		return "not_enough_signatures"
	case ReasonSigningError:
		return "signing_error"
	case ReasonL1Rpc:
		return "l1_rpc"
	case ReasonL1Execution:
		return "l1_execution"
	default:
		return fmt.Sprintf("reason(%d)", int(r))
	}
}

// Retryable reports whether the coordinator retries on this reason.
// Submission failures are retried by the caller, not the coordinator.
func (r FailureReason) Retryable() bool {
	return r == ReasonNotEnoughSignatures || r == ReasonSigningError
}

var (
	// ErrInvalidSignature is a share whose signature does not verify.
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrMalformedSignature is a share whose bytes are not a curve point.
	ErrMalformedSignature = fmt.Errorf("%w: malformed encoding", ErrInvalidSignature)

	// ErrDuplicateShare is a second share from a node already accepted.
	ErrDuplicateShare = errors.New("duplicate share")

	// ErrStaleRequest is a share echoing another attempt's request id.
	ErrStaleRequest = errors.New("stale request id")

	// ErrUnknownNode is a share from a node outside the roster.
	ErrUnknownNode = errors.New("unknown node")

	// ErrIdentityMismatch is a share claiming another node's id.
	ErrIdentityMismatch = errors.New("share node id does not match responder")

	// ErrCertificateFrozen is returned by Add after Freeze.
	ErrCertificateFrozen = errors.New("certificate frozen")

	// ErrDispatch is wrapped by signers when a request could not be delivered
	// to the node at all (transport down, node crashed before receipt).
	ErrDispatch = errors.New("request not dispatched")
)

// Failure is a classified session failure carrying partial progress.
type Failure struct {
	Reason      FailureReason // Reason is the failure class
	ValidShares int           // ValidShares is the count of accepted shares
	Required    int           // Required is the policy threshold
	Attempts    int           // Attempts is the number of attempts made
	Detections  int           // Detections is the Byzantine events observed
	Err         error         // Err is the underlying cause, if any
}

// Error implements error.
func (f *Failure) Error() string {
	msg := fmt.Sprintf("%s: %d/%d valid shares after %d attempt(s)", f.Reason, f.ValidShares, f.Required, f.Attempts)
	if f.Err != nil {
		msg += ": " + f.Err.Error()
	}

	return msg
}

// Unwrap returns the underlying cause.
func (f *Failure) Unwrap() error {
	return f.Err
}

// ReasonOf extracts the failure reason from err, or ReasonNone.
func ReasonOf(err error) FailureReason {
	var f *Failure
	if errors.As(err, &f) {
		return f.Reason
	}

	return ReasonNone
}
