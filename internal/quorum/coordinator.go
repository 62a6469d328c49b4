package quorum

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"QuorumGate/internal/audit"
	"QuorumGate/internal/logger"
	"QuorumGate/internal/metrics"
	"QuorumGate/internal/roster"
)

const (
	defaultRequestTimeout = 2 * time.Second
	defaultSessionTimeout = 5 * time.Second
	defaultMaxRetries     = 2
	defaultBackoff        = 100 * time.Millisecond
	defaultMaxBackoff     = 2 * time.Second
)

// Backoff is an exponential delay between attempts.
type Backoff struct {
	Initial time.Duration // Initial is the delay before the first retry
	Max     time.Duration // Max caps the delay
}

// Delay returns the wait before retry number retry (1-based): Initial doubled
// per previous retry, capped at Max.
func (b Backoff) Delay(retry int) time.Duration {
	delay := b.Initial

	for i := 1; i < retry; i++ {
		delay *= 2
		if b.Max > 0 && delay >= b.Max {
			return b.Max
		}
	}

	if b.Max > 0 && delay > b.Max {
		return b.Max
	}

	return delay
}

// Config holds the coordinator's timing and retry settings.
type Config struct {
	RequestTimeout time.Duration // RequestTimeout bounds each node request
	SessionTimeout time.Duration // SessionTimeout bounds each attempt
	MaxRetries     int           // MaxRetries is the number of reruns after the first attempt
	Backoff        Backoff       // Backoff spaces the reruns
	MaxConcurrent  int           // MaxConcurrent caps AttestMany sessions; 0 is unbounded
}

// DefaultConfig returns the default timings.
func DefaultConfig() Config {
	return Config{
		RequestTimeout: defaultRequestTimeout,
		SessionTimeout: defaultSessionTimeout,
		MaxRetries:     defaultMaxRetries,
		Backoff:        Backoff{Initial: defaultBackoff, Max: defaultMaxBackoff},
	}
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithConfig replaces the timing and retry settings.
func WithConfig(cfg Config) Option {
	return func(c *Coordinator) { c.cfg = cfg }
}

// WithSink sets the audit sink for detections and outcome records.
func WithSink(s audit.Sink) Option {
	return func(c *Coordinator) { c.sink = s }
}

// WithMetrics sets the metrics collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithEntropy sets the source of request id nonces.
func WithEntropy(r io.Reader) Option {
	return func(c *Coordinator) { c.entropy = r }
}

// Coordinator runs attestation sessions against a fixed roster.
// It is safe for concurrent use; sessions share only the roster and the sink.
type Coordinator struct {
	roster    *roster.Roster
	signers   []Signer
	policy    Policy
	cfg       Config
	validator *Validator
	sink      audit.Sink
	metrics   *metrics.Metrics
	entropy   io.Reader

	wg sync.WaitGroup // wg tracks node requests and late drains
}

// NewCoordinator validates that signers match the roster one-to-one and that
// policy fits the roster size.
func NewCoordinator(r *roster.Roster, signers []Signer, policy Policy, opts ...Option) (*Coordinator, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	if policy.N != r.Len() {
		return nil, fmt.Errorf("%w: n=%d but roster has %d members", ErrInvalidPolicy, policy.N, r.Len())
	}

	if len(signers) != r.Len() {
		return nil, fmt.Errorf("roster has %d members but %d signers given", r.Len(), len(signers))
	}

	seen := make(map[string]bool, len(signers))
	for _, s := range signers {
		if r.Index(s.ID()) < 0 {
			return nil, fmt.Errorf("signer %s:\n%w", s.ID(), ErrUnknownNode)
		}

		if seen[s.ID()] {
			return nil, fmt.Errorf("signer %s listed twice", s.ID())
		}
		seen[s.ID()] = true
	}

	c := &Coordinator{
		roster:  r,
		signers: signers,
		policy:  policy,
		cfg:     DefaultConfig(),
		sink:    audit.Discard,
		entropy: rand.Reader,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.cfg.RequestTimeout <= 0 || c.cfg.SessionTimeout <= 0 {
		return nil, fmt.Errorf("request and session timeouts must be positive")
	}

	if c.cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("max retries must not be negative")
	}

	c.validator = NewValidator(r, c.sink, c.metrics)

	return c, nil
}

// Policy returns the quorum policy.
func (c *Coordinator) Policy() Policy {
	return c.policy
}

// Roster returns the roster.
func (c *Coordinator) Roster() *roster.Roster {
	return c.roster
}

// Config returns the timing and retry settings.
func (c *Coordinator) Config() Config {
	return c.cfg
}

// Wait blocks until every dispatched node request and background drain has returned.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Attest runs a session and records its outcome in the sink and metrics.
func (c *Coordinator) Attest(ctx context.Context, hash Hash) *Outcome {
	out := c.Run(ctx, hash)
	c.Finish(out)

	return out
}

// AttestMany runs one session per payload concurrently. Outcomes are in input order.
func (c *Coordinator) AttestMany(ctx context.Context, hashes []Hash) []*Outcome {
	outcomes := make([]*Outcome, len(hashes))

	var g errgroup.Group
	if c.cfg.MaxConcurrent > 0 {
		g.SetLimit(c.cfg.MaxConcurrent)
	}

	for i, h := range hashes {
		g.Go(func() error {
			outcomes[i] = c.Attest(ctx, h)
			return nil
		})
	}

	_ = g.Wait()

	return outcomes
}

// Finish writes the single outcome record and metrics observation of a session.
func (c *Coordinator) Finish(out *Outcome) {
	c.sink.RecordOutcome(out.Record())
	c.metrics.ObserveSession(out.OK(), out.Reason().String(), out.ValidShares(), out.Duration)

	if out.OK() {
		logger.Info("session certified",
			"payload", out.PayloadHash.Short(),
			"shares", out.Certificate.Len(),
			"attempts", out.Attempts,
			"detections", out.Detections,
			"duration", out.Duration,
		)
		return
	}

	logger.Warn("session failed",
		"payload", out.PayloadHash.Short(),
		"reason", out.Reason(),
		"shares", out.ValidShares(),
		"required", c.policy.T,
		"attempts", out.Attempts,
		"error", out.Failure,
	)
}

// Run executes a session, retrying retryable failures with a fresh request id
// after an exponential backoff. It does not record the outcome.
func (c *Coordinator) Run(ctx context.Context, hash Hash) *Outcome {
	start := time.Now()
	out := &Outcome{PayloadHash: hash, Required: c.policy.T, Started: start}

	for attempt := 1; ; attempt++ {
		res := c.runAttempt(ctx, hash, attempt)

		out.Attempts = attempt
		out.RequestID = res.req.RequestID
		out.Detections += res.detections
		out.Certificate = res.cert
		out.Failure = res.failure

		if res.failure == nil {
			break
		}

		res.failure.Attempts = attempt
		res.failure.Detections = out.Detections

		if !res.failure.Reason.Retryable() || attempt > c.cfg.MaxRetries || ctx.Err() != nil {
			break
		}

		delay := c.cfg.Backoff.Delay(attempt)

		logger.Info("retrying session",
			"payload", hash.Short(),
			"attempt", attempt+1,
			"reason", res.failure.Reason,
			"delay", delay,
		)
		c.metrics.Retry()

		if !sleepCtx(ctx, delay) {
			break
		}
	}

	out.Duration = time.Since(start)

	return out
}

// response is one node's result delivered to the fan-in channel.
type response struct {
	nodeID string
	share  *SignatureShare
	err    error
	at     time.Time
}

// attemptResult is the result of a single attempt.
type attemptResult struct {
	req        SigningRequest
	cert       *Certificate
	failure    *Failure
	detections int

	handled          int
	dispatchFailures int
	lastErr          error
}

// runAttempt fans the request out, validates responses in arrival order and
// stops at the threshold, when the threshold becomes unreachable, or at the deadline.
func (c *Coordinator) runAttempt(ctx context.Context, hash Hash, attempt int) *attemptResult {
	res := &attemptResult{}

	id, err := NewRequestID(c.entropy, hash, attempt)
	if err != nil {
		res.failure = &Failure{Reason: ReasonSigningError, Required: c.policy.T, Err: err}
		return res
	}

	deadline := time.Now().Add(c.cfg.SessionTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	req := &SigningRequest{PayloadHash: hash, RequestID: id, Deadline: deadline, Attempt: attempt}
	res.req = *req

	logger.Debug("session attempt started",
		"payload", hash.Short(),
		"request", id.Short(),
		"attempt", attempt,
		"nodes", len(c.signers),
	)

	asm := NewAssembler(req, c.policy.T)

	sessionCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	responses := make(chan response, len(c.signers))

	for _, s := range c.signers {
		c.wg.Add(1)
		go c.dispatch(sessionCtx, s, req, responses)
	}

	pending := len(c.signers)
	expired := false

collect:
	for pending > 0 && !asm.ThresholdMet() {
		// Unreachable threshold: stop early unless every failure so far was a dispatch failure
		if !c.policy.Met(asm.Count()+pending) && res.dispatchFailures < res.handled {
			break
		}

		select {
		case r := <-responses:
			pending--
			c.handle(req, asm, r, res)
		case <-sessionCtx.Done():
			expired = true
			break collect
		}
	}

	cancel()

	// Accept shares already delivered before cancellation took effect.
	if asm.ThresholdMet() {
	drain:
		for pending > 0 {
			select {
			case r := <-responses:
				pending--
				c.handle(req, asm, r, res)
			default:
				break drain
			}
		}
	}

	res.cert = asm.Freeze()

	if pending > 0 {
		c.wg.Add(1)
		go c.drainLate(req, responses, pending)
	}

	if res.cert.ThresholdMet {
		logger.Debug("threshold reached",
			"payload", hash.Short(),
			"request", id.Short(),
			"shares", res.cert.Len(),
			"cancelled", pending,
		)
		return res
	}

	if res.dispatchFailures == len(c.signers) {
		res.failure = &Failure{
			Reason:   ReasonSigningError,
			Required: c.policy.T,
			Err:      fmt.Errorf("no node reachable:\n%w", res.lastErr),
		}
		return res
	}

	cause := ctx.Err()
	if cause == nil && expired {
		cause = context.DeadlineExceeded
	}
	if cause == nil {
		cause = res.lastErr
	}

	res.failure = &Failure{
		Reason:      ReasonNotEnoughSignatures,
		ValidShares: res.cert.Len(),
		Required:    c.policy.T,
		Err:         cause,
	}

	return res
}

// dispatch sends req to one node and delivers the result. The channel is
// buffered for every node so this never blocks.
func (c *Coordinator) dispatch(ctx context.Context, s Signer, req *SigningRequest, out chan<- response) {
	defer c.wg.Done()

	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	share, err := s.Sign(reqCtx, req)

	out <- response{nodeID: s.ID(), share: share, err: err, at: time.Now()}
}

// handle validates one response and adds it to the certificate if valid.
func (c *Coordinator) handle(req *SigningRequest, asm *Assembler, r response, res *attemptResult) {
	res.handled++

	if r.err != nil {
		res.lastErr = fmt.Errorf("node %s:\n%w", r.nodeID, r.err)

		if errors.Is(r.err, ErrDispatch) {
			res.dispatchFailures++
		}

		logger.Debug("node request failed", "node", r.nodeID, "request", req.RequestID.Short(), "error", r.err)

		return
	}

	if r.share == nil {
		res.lastErr = fmt.Errorf("node %s returned no share", r.nodeID)
		return
	}

	share := *r.share
	share.ReceivedAt = r.at

	if err := c.validator.CheckResponder(req, r.nodeID, &share); err != nil {
		res.lastErr = err
		res.detections++
		return
	}

	err := c.validator.Validate(req, &share, asm.Has)

	switch {
	case err == nil:
		if err := asm.Add(share); err != nil {
			logger.Debug("share not added", "node", share.NodeID, "error", err)
		}
	case errors.Is(err, ErrDuplicateShare):
	default:
		res.detections++
	}
}

// drainLate consumes responses that arrive after the freeze so their goroutines
// can finish, counting valid ones as late shares.
func (c *Coordinator) drainLate(req *SigningRequest, responses <-chan response, pending int) {
	defer c.wg.Done()

	late := 0

	for i := 0; i < pending; i++ {
		r := <-responses
		if r.err != nil || r.share == nil {
			continue
		}

		pk := c.roster.PublicKey(r.nodeID)
		if pk == nil || r.share.NodeID != r.nodeID || r.share.RequestID != req.RequestID {
			continue
		}

		if Classify(req.PayloadHash, r.share.Signature, pk) == nil {
			late++
		}
	}

	if late > 0 {
		logger.Debug("late shares dropped", "request", req.RequestID.Short(), "count", late)
		c.metrics.LateShares(late)
	}
}

// sleepCtx waits for d or until ctx ends. It reports whether the full delay elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
