package signer

import (
	"fmt"

	"QuorumGate/internal/network"
	"QuorumGate/internal/quorum"
	"QuorumGate/internal/roster"
)

// FromRoster builds one signer per roster member in roster order. Members
// holding a key run in-process with their configured behavior; the others are
// reached through node, which may be nil only if every member is simulated.
func FromRoster(r *roster.Roster, node *network.Node, opts ...Option) ([]quorum.Signer, error) {
	signers := make([]quorum.Signer, 0, r.Len())

	for _, m := range r.Members() {
		if m.Simulated() {
			b, err := ParseBehavior(m.Behavior)
			if err != nil {
				return nil, fmt.Errorf("member %s:\n%w", m.ID, err)
			}

			signers = append(signers, NewSimulated(m.ID, m.SigningKey(), b, opts...))
			continue
		}

		if node == nil {
			return nil, fmt.Errorf("member %s is remote but no transport is configured", m.ID)
		}

		signers = append(signers, NewRemote(m.ID, m.Address, m.NetworkKey, node))
	}

	return signers, nil
}
