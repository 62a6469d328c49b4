package quorum

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidPolicy wraps every policy validation failure.
	ErrInvalidPolicy = errors.New("invalid quorum policy")
)

// Policy is the quorum rule for a roster of N nodes tolerating F Byzantine ones.
// T distinct valid shares are required for a certificate.
type Policy struct {
	N int `json:"n"`
	F int `json:"f"`
	T int `json:"t"`
}

// NewPolicy validates and returns a policy.
func NewPolicy(n, f, t int) (Policy, error) {
	p := Policy{N: n, F: f, T: t}

	if err := p.Validate(); err != nil {
		return Policy{}, err
	}

	return p, nil
}

// DefaultPolicy returns the maximal fault tolerance for n nodes:
// f = floor((n-1)/3), t = n - f.
func DefaultPolicy(n int) Policy {
	f := (n - 1) / 3
	if f < 0 {
		f = 0
	}

	return Policy{N: n, F: f, T: n - f}
}

// Validate checks t >= n-f, t <= n and 3f < n. The unanimity policy t == n is
// accepted for any f because every pair of unanimous quorums shares all nodes.
func (p Policy) Validate() error {
	switch {
	case p.N <= 0:
		return fmt.Errorf("%w: n=%d must be positive", ErrInvalidPolicy, p.N)
	case p.F < 0:
		return fmt.Errorf("%w: f=%d must not be negative", ErrInvalidPolicy, p.F)
	case p.T > p.N:
		return fmt.Errorf("%w: t=%d exceeds n=%d", ErrInvalidPolicy, p.T, p.N)
	case p.T < p.N-p.F || p.T <= 0:
		return fmt.Errorf("%w: t=%d below n-f=%d", ErrInvalidPolicy, p.T, p.N-p.F)
	case 3*p.F >= p.N && p.T != p.N:
		return fmt.Errorf("%w: f=%d not below n/3 for n=%d", ErrInvalidPolicy, p.F, p.N)
	}

	return nil
}

// Met reports whether count distinct valid shares satisfy the threshold.
func (p Policy) Met(count int) bool {
	return count >= p.T
}

// String formats the policy for logs.
func (p Policy) String() string {
	return fmt.Sprintf("n=%d f=%d t=%d", p.N, p.F, p.T)
}
