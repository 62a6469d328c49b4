package submit

import (
	"context"
	"time"

	"QuorumGate/internal/logger"
	"QuorumGate/internal/quorum"
)

// Pipeline attests a payload and submits the resulting certificate.
// Each call records exactly one outcome, after submission.
type Pipeline struct {
	coord     *quorum.Coordinator
	submitter Submitter
	retries   int
	backoff   quorum.Backoff
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithSubmitRetries retries L1Rpc submission failures up to n times.
func WithSubmitRetries(n int, b quorum.Backoff) PipelineOption {
	return func(p *Pipeline) {
		p.retries = n
		p.backoff = b
	}
}

// NewPipeline creates a pipeline submitting through sub.
func NewPipeline(coord *quorum.Coordinator, sub Submitter, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{coord: coord, submitter: sub}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Coordinator returns the underlying coordinator.
func (p *Pipeline) Coordinator() *quorum.Coordinator {
	return p.coord
}

// Process runs a session for hash and, on success, submits its certificate.
// Submission failures are folded into the outcome as L1 failures.
func (p *Pipeline) Process(ctx context.Context, hash quorum.Hash) *quorum.Outcome {
	out := p.coord.Run(ctx, hash)

	if out.OK() {
		receipt, err := p.submit(ctx, out)
		if err != nil {
			out.Failure = &quorum.Failure{
				Reason:      Classify(err),
				ValidShares: out.Certificate.Len(),
				Required:    out.Required,
				Attempts:    out.Attempts,
				Detections:  out.Detections,
				Err:         err,
			}
		} else {
			out.TxDigest = receipt.Digest
		}

		out.Duration = time.Since(out.Started)
	}

	p.coord.Finish(out)

	return out
}

// submit encodes and submits the certificate of out, retrying endpoint failures.
func (p *Pipeline) submit(ctx context.Context, out *quorum.Outcome) (*Receipt, error) {
	data, err := EncodeCertificate(out.Certificate, p.coord.Roster())
	if err != nil {
		return nil, executionError(err)
	}

	for attempt := 1; ; attempt++ {
		receipt, err := p.submitter.Submit(ctx, data)
		if err == nil {
			logger.Debug("certificate submitted",
				"payload", out.PayloadHash.Short(),
				"digest", receipt.Digest,
				"signers", receipt.Signers,
			)
			return receipt, nil
		}

		if Classify(err) != quorum.ReasonL1Rpc || attempt > p.retries || ctx.Err() != nil {
			return nil, err
		}

		delay := p.backoff.Delay(attempt)
		logger.Warn("submission failed, retrying",
			"payload", out.PayloadHash.Short(),
			"attempt", attempt+1,
			"delay", delay,
			"error", err,
		)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, err
		}
	}
}
