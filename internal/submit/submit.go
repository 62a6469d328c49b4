package submit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"QuorumGate/internal/quorum"
)

// Receipt acknowledges an accepted certificate.
type Receipt struct {
	Digest      string    `json:"digest"`      // Digest identifies the settlement transaction
	SubmittedAt time.Time `json:"submittedAt"` // SubmittedAt is when the chain accepted it
	Signers     int       `json:"signers"`     // Signers is the number of aggregated shares
}

// Submitter delivers an encoded certificate to the settlement layer.
type Submitter interface {
	Submit(ctx context.Context, certificate []byte) (*Receipt, error)
}

// Error is a classified submission failure. Kind is quorum.ReasonL1Rpc or
// quorum.ReasonL1Execution.
type Error struct {
	Kind quorum.FailureReason
	Err  error
}

// Error implements error.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// rpcError wraps err as an unreachable-endpoint failure.
func rpcError(err error) *Error {
	return &Error{Kind: quorum.ReasonL1Rpc, Err: err}
}

// executionError wraps err as a rejected-certificate failure.
func executionError(err error) *Error {
	return &Error{Kind: quorum.ReasonL1Execution, Err: err}
}

// Classify returns the failure reason of a submission error. Unclassified
// errors are treated as endpoint failures.
func Classify(err error) quorum.FailureReason {
	if err == nil {
		return quorum.ReasonNone
	}

	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	return quorum.ReasonL1Rpc
}
