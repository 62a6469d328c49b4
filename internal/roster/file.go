package roster

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"QuorumGate/internal/bls"
)

// File is the on-disk roster and quorum configuration.
//
//	{
//	  "f": 1, "t": 3,
//	  "requestTimeout": "2s", "sessionTimeout": "5s",
//	  "maxRetries": 2, "backoff": "200ms", "maxBackoff": "5s",
//	  "members": [
//	    {"id": "node-1", "publicKey": "…", "possession": "…", "address": "10.0.0.1:9100", "networkKey": "…"},
//	    {"id": "node-2", "seed": "…", "behavior": "forger"}
//	  ]
//	}
type File struct {
	F              *int         `json:"f,omitempty"`
	T              *int         `json:"t,omitempty"`
	RequestTimeout string       `json:"requestTimeout,omitempty"`
	SessionTimeout string       `json:"sessionTimeout,omitempty"`
	MaxRetries     *int         `json:"maxRetries,omitempty"`
	Backoff        string       `json:"backoff,omitempty"`
	MaxBackoff     string       `json:"maxBackoff,omitempty"`
	Members        []FileMember `json:"members"`
}

// FileMember is one roster entry. Either PublicKey (remote node) or Seed
// (in-process simulated node) must be set. Remote nodes also carry the
// proof of possession of their BLS key, as printed by the node.
type FileMember struct {
	ID         string `json:"id"`
	PublicKey  string `json:"publicKey,omitempty"`
	Seed       string `json:"seed,omitempty"`
	Address    string `json:"address,omitempty"`
	NetworkKey string `json:"networkKey,omitempty"`
	Possession string `json:"possession,omitempty"`
	Behavior   string `json:"behavior,omitempty"`
}

// Timing holds the parsed durations of a roster file. Zero means "use default".
type Timing struct {
	RequestTimeout time.Duration
	SessionTimeout time.Duration
	Backoff        time.Duration
	MaxBackoff     time.Duration
}

// LoadFile reads and decodes a roster file.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read roster:\n%w", err)
	}

	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode roster %s:\n%w", path, err)
	}

	return &f, nil
}

// Build converts the file entries into a validated roster.
func (f *File) Build() (*Roster, error) {
	members := make([]Member, 0, len(f.Members))

	for _, fm := range f.Members {
		m, err := fm.member()
		if err != nil {
			return nil, fmt.Errorf("member %q:\n%w", fm.ID, err)
		}

		members = append(members, m)
	}

	return New(members)
}

// Timing parses the duration fields.
func (f *File) Timing() (Timing, error) {
	var t Timing

	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"requestTimeout", f.RequestTimeout, &t.RequestTimeout},
		{"sessionTimeout", f.SessionTimeout, &t.SessionTimeout},
		{"backoff", f.Backoff, &t.Backoff},
		{"maxBackoff", f.MaxBackoff, &t.MaxBackoff},
	}

	for _, fd := range fields {
		if fd.raw == "" {
			continue
		}

		d, err := time.ParseDuration(fd.raw)
		if err != nil {
			return Timing{}, fmt.Errorf("parse %s:\n%w", fd.name, err)
		}

		if d < 0 {
			return Timing{}, fmt.Errorf("%s must not be negative", fd.name)
		}

		*fd.dst = d
	}

	return t, nil
}

// member decodes one entry.
func (fm FileMember) member() (Member, error) {
	m := Member{
		ID:       fm.ID,
		Address:  fm.Address,
		Behavior: fm.Behavior,
	}

	if fm.NetworkKey != "" {
		nk, err := hex.DecodeString(fm.NetworkKey)
		if err != nil || len(nk) != 32 {
			return Member{}, fmt.Errorf("network key must be 32 hex-encoded bytes")
		}
		m.NetworkKey = nk
	}

	switch {
	case fm.Seed != "":
		seed, err := hex.DecodeString(fm.Seed)
		if err != nil {
			return Member{}, fmt.Errorf("decode seed:\n%w", err)
		}

		key, err := bls.GenerateKeyFromSeed(seed)
		if err != nil {
			return Member{}, err
		}

		return m.WithKey(key), nil

	case fm.PublicKey != "":
		pk, err := hex.DecodeString(fm.PublicKey)
		if err != nil {
			return Member{}, fmt.Errorf("decode public key:\n%w", err)
		}

		if fm.Address == "" || m.NetworkKey == nil {
			return Member{}, fmt.Errorf("remote member needs address and networkKey")
		}

		pop, err := hex.DecodeString(fm.Possession)
		if err != nil {
			return Member{}, fmt.Errorf("decode possession:\n%w", err)
		}

		m.PublicKey = pk
		m.Possession = pop

		return m, nil

	default:
		return Member{}, fmt.Errorf("either seed or publicKey is required")
	}
}
