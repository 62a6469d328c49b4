package signer

import (
	"fmt"
	"strings"
)

// Behavior is the modeled conduct of a simulated attestation node.
type Behavior int

const (
	// Honest signs correctly after a modeled latency.
	Honest Behavior = iota
	// Silent never answers; the request only ends when its context does.
	Silent
	// Forger answers with a signature that does not verify.
	Forger
	// Slow signs correctly but only after the session deadline.
	Slow
	// Refuse rejects every request immediately.
	Refuse
	// Crash is unreachable: requests fail at the transport level.
	Crash
)

var behaviorNames = [...]string{
	Honest: "honest",
	Silent: "silent",
	Forger: "forger",
	Slow:   "slow",
	Refuse: "refuse",
	Crash:  "crash",
}

// String returns the lower-case behavior name.
func (b Behavior) String() string {
	if b < 0 || int(b) >= len(behaviorNames) {
		return fmt.Sprintf("behavior(%d)", int(b))
	}

	return behaviorNames[b]
}

// Byzantine reports whether the behavior deviates from the protocol.
func (b Behavior) Byzantine() bool {
	return b != Honest
}

// ParseBehavior maps a roster name to a Behavior. The empty string is Honest.
func ParseBehavior(s string) (Behavior, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return Honest, nil
	}

	for b, name := range behaviorNames {
		if name == s {
			return Behavior(b), nil
		}
	}

	return 0, fmt.Errorf("unknown behavior %q", s)
}
