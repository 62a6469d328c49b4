package signer

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	mrand "math/rand/v2"
	"time"

	"QuorumGate/internal/bls"
	"QuorumGate/internal/quorum"
)

var (
	// ErrRefused is returned when a node declines to sign.
	ErrRefused = errors.New("node refused to sign")

	// ErrUnreachable is returned when a node cannot be contacted at all.
	ErrUnreachable = fmt.Errorf("%w: node unreachable", quorum.ErrDispatch)
)

// ForgeMode selects how a Forger builds its bad signature.
type ForgeMode int

const (
	// ForgeWrongPayload signs a different payload: a valid curve point that fails verification.
	ForgeWrongPayload ForgeMode = iota
	// ForgeRandom returns random bytes of signature length.
	ForgeRandom
)

// defaultSlowMargin is how far past the deadline a Slow node answers.
const defaultSlowMargin = 50 * time.Millisecond

// Option configures a Simulated signer.
type Option func(*Simulated)

// WithLatency sets the uniform response latency range of honest-looking answers.
func WithLatency(min, max time.Duration) Option {
	return func(s *Simulated) {
		s.minLatency, s.maxLatency = min, max
	}
}

// WithForgeMode sets how a Forger forges.
func WithForgeMode(m ForgeMode) Option {
	return func(s *Simulated) { s.forge = m }
}

// WithSlowMargin sets how long after the deadline a Slow node answers.
func WithSlowMargin(d time.Duration) Option {
	return func(s *Simulated) { s.slowMargin = d }
}

// WithMisbehaviorRate makes a non-honest node follow its behavior on a
// fraction p of requests and answer honestly on the rest. p is clamped to [0, 1].
func WithMisbehaviorRate(p float64) Option {
	return func(s *Simulated) { s.rate = min(max(p, 0), 1) }
}

// Simulated is an in-process attestation node with a fixed behavior.
// Nodes share no mutable state.
type Simulated struct {
	id         string
	key        *bls.KeyPair
	behavior   Behavior
	minLatency time.Duration
	maxLatency time.Duration
	slowMargin time.Duration
	forge      ForgeMode
	rate       float64 // rate is the probability of misbehaving on a request
}

// NewSimulated creates a simulated node signing with key.
func NewSimulated(id string, key *bls.KeyPair, behavior Behavior, opts ...Option) *Simulated {
	s := &Simulated{
		id:         id,
		key:        key,
		behavior:   behavior,
		slowMargin: defaultSlowMargin,
		rate:       1,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// ID returns the node id.
func (s *Simulated) ID() string {
	return s.id
}

// Behavior returns the node's behavior.
func (s *Simulated) Behavior() Behavior {
	return s.behavior
}

// Sign answers req according to the node's behavior.
func (s *Simulated) Sign(ctx context.Context, req *quorum.SigningRequest) (*quorum.SignatureShare, error) {
	behavior := s.behavior
	if behavior != Honest && s.rate < 1 && mrand.Float64() >= s.rate {
		behavior = Honest
	}

	switch behavior {
	case Crash:
		return nil, ErrUnreachable

	case Refuse:
		return nil, ErrRefused

	case Silent:
		<-ctx.Done()
		return nil, ctx.Err()

	case Slow:
		if err := wait(ctx, time.Until(req.Deadline)+s.slowMargin); err != nil {
			return nil, err
		}
		return s.share(req, s.key.Sign(req.PayloadHash[:])), nil

	case Forger:
		if err := wait(ctx, s.latency()); err != nil {
			return nil, err
		}

		sig, err := s.forgery(req)
		if err != nil {
			return nil, err
		}

		return s.share(req, sig), nil

	default:
		if err := wait(ctx, s.latency()); err != nil {
			return nil, err
		}
		return s.share(req, s.key.Sign(req.PayloadHash[:])), nil
	}
}

// share wraps a signature in a response to req.
func (s *Simulated) share(req *quorum.SigningRequest, sig []byte) *quorum.SignatureShare {
	return &quorum.SignatureShare{
		NodeID:    s.id,
		RequestID: req.RequestID,
		Signature: sig,
	}
}

// forgery returns a signature that does not verify over req's payload hash.
func (s *Simulated) forgery(req *quorum.SigningRequest) ([]byte, error) {
	if s.forge == ForgeRandom {
		sig := make([]byte, bls.SignatureSize)
		if _, err := rand.Read(sig); err != nil {
			return nil, fmt.Errorf("forge signature:\n%w", err)
		}
		return sig, nil
	}

	other := quorum.HashPayload(append([]byte("forged:"), req.PayloadHash[:]...))

	return s.key.Sign(other[:]), nil
}

// latency draws a delay uniformly from [minLatency, maxLatency].
func (s *Simulated) latency() time.Duration {
	if s.maxLatency <= s.minLatency {
		return s.minLatency
	}

	return s.minLatency + time.Duration(mrand.Int64N(int64(s.maxLatency-s.minLatency)+1))
}

// wait sleeps for d unless ctx ends first.
func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
