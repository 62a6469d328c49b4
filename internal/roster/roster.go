package roster

import (
	"bytes"
	"crypto/ed25519"
	"errors"
	"fmt"

	"QuorumGate/internal/bls"
)

var (
	// ErrEmpty is returned when a roster has no members.
	ErrEmpty = errors.New("roster has no members")

	// ErrDuplicateMember is returned when two members share an id or key.
	ErrDuplicateMember = errors.New("duplicate roster member")

	// ErrPossession is returned when a member's key lacks a valid proof of possession.
	ErrPossession = errors.New("missing or invalid proof of possession")
)

// Member is one attestation node known to the coordinator.
type Member struct {
	ID         string            // ID is the stable node identifier
	PublicKey  []byte            // PublicKey is the compressed BLS public key
	Address    string            // Address is the QUIC address of a remote node
	NetworkKey ed25519.PublicKey // NetworkKey authenticates the remote node's transport
	Behavior   string            // Behavior names a simulated profile; empty for remote nodes
	Possession []byte            // Possession proves the holder owns PublicKey

	key *bls.KeyPair // key is held only for simulated members
}

// SigningKey returns the member's BLS key pair if the roster holds it (simulated nodes).
func (m Member) SigningKey() *bls.KeyPair {
	return m.key
}

// Simulated reports whether the member runs in-process.
func (m Member) Simulated() bool {
	return m.key != nil
}

// WithKey returns a copy of m that signs in-process with key.
func (m Member) WithKey(key *bls.KeyPair) Member {
	m.key = key
	m.PublicKey = key.PublicKeyBytes()
	m.Possession = key.ProvePossession()

	return m
}

// Roster is the immutable, ordered set of attestation nodes.
// It is shared read-only across sessions.
type Roster struct {
	members []Member
	index   map[string]int
}

// New validates members and builds a roster preserving their order.
func New(members []Member) (*Roster, error) {
	if len(members) == 0 {
		return nil, ErrEmpty
	}

	r := &Roster{
		members: make([]Member, len(members)),
		index:   make(map[string]int, len(members)),
	}

	for i, m := range members {
		if m.ID == "" {
			return nil, fmt.Errorf("member %d: empty id", i)
		}

		if _, exists := r.index[m.ID]; exists {
			return nil, fmt.Errorf("%w: id %s", ErrDuplicateMember, m.ID)
		}

		if err := bls.CheckPublicKey(m.PublicKey); err != nil {
			return nil, fmt.Errorf("member %s:\n%w", m.ID, err)
		}

		if !bls.VerifyPossession(m.PublicKey, m.Possession) {
			return nil, fmt.Errorf("member %s: %w", m.ID, ErrPossession)
		}

		for _, prev := range r.members[:i] {
			if bytes.Equal(prev.PublicKey, m.PublicKey) {
				return nil, fmt.Errorf("%w: %s and %s share a public key", ErrDuplicateMember, prev.ID, m.ID)
			}
		}

		r.members[i] = m
		r.index[m.ID] = i
	}

	return r, nil
}

// Len returns the number of members.
func (r *Roster) Len() int {
	return len(r.members)
}

// Get returns the member with the given id.
func (r *Roster) Get(id string) (Member, bool) {
	idx, ok := r.index[id]
	if !ok {
		return Member{}, false
	}

	return r.members[idx], true
}

// Index returns the position of id in the roster, or -1 if unknown.
func (r *Roster) Index(id string) int {
	if idx, ok := r.index[id]; ok {
		return idx
	}

	return -1
}

// PublicKey returns the BLS public key of id, or nil if unknown.
func (r *Roster) PublicKey(id string) []byte {
	if idx, ok := r.index[id]; ok {
		return r.members[idx].PublicKey
	}

	return nil
}

// Members returns a copy of all members in roster order.
func (r *Roster) Members() []Member {
	out := make([]Member, len(r.members))
	copy(out, r.members)

	return out
}

// IDs returns member ids in roster order.
func (r *Roster) IDs() []string {
	ids := make([]string, len(r.members))
	for i, m := range r.members {
		ids[i] = m.ID
	}

	return ids
}

// At returns the member at roster position i.
func (r *Roster) At(i int) Member {
	return r.members[i]
}
