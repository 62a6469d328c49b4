package audit

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"QuorumGate/internal/logger"
	"QuorumGate/internal/storage"
)

// Key prefixes. Keys are prefix || big-endian sequence so a prefix scan
// returns entries in insertion order.
var (
	prefixDetection = []byte("d/")
	prefixOutcome   = []byte("o/")
)

// Store is a Pebble-backed persistent sink. Sequence numbers continue
// across restarts.
type Store struct {
	db *storage.Storage

	mu     sync.Mutex // mu serializes sequence assignment with the write
	detSeq uint64
	outSeq uint64
}

// OpenStore opens the audit log at path and recovers its sequence counters.
func OpenStore(path string) (*Store, error) {
	db, err := storage.New(path)
	if err != nil {
		return nil, fmt.Errorf("open audit store:\n%w", err)
	}

	s := &Store{db: db}

	if s.detSeq, err = lastSeq(db, prefixDetection); err != nil {
		db.Close()
		return nil, fmt.Errorf("recover detection sequence:\n%w", err)
	}

	if s.outSeq, err = lastSeq(db, prefixOutcome); err != nil {
		db.Close()
		return nil, fmt.Errorf("recover outcome sequence:\n%w", err)
	}

	return s, nil
}

// RecordDetection persists d. Write failures are logged, never returned to the session.
func (s *Store) RecordDetection(d Detection) {
	if d.Time.IsZero() {
		d.Time = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	d.Seq = s.detSeq + 1
	if err := s.put(prefixDetection, d.Seq, d); err != nil {
		logger.Error("audit write failed", "kind", "detection", "error", err)
		return
	}

	s.detSeq = d.Seq
}

// RecordOutcome persists r.
func (s *Store) RecordOutcome(r Record) {
	if r.Time.IsZero() {
		r.Time = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r.Seq = s.outSeq + 1
	if err := s.put(prefixOutcome, r.Seq, r); err != nil {
		logger.Error("audit write failed", "kind", "outcome", "error", err)
		return
	}

	s.outSeq = r.Seq
}

// Detections returns detections with Seq > since.
func (s *Store) Detections(since uint64) ([]Detection, error) {
	var out []Detection

	err := s.scan(prefixDetection, since, func(value []byte) error {
		var d Detection
		if err := json.Unmarshal(value, &d); err != nil {
			return err
		}
		out = append(out, d)
		return nil
	})

	return out, err
}

// Outcomes returns outcome records with Seq > since.
func (s *Store) Outcomes(since uint64) ([]Record, error) {
	var out []Record

	err := s.scan(prefixOutcome, since, func(value []byte) error {
		var r Record
		if err := json.Unmarshal(value, &r); err != nil {
			return err
		}
		out = append(out, r)
		return nil
	})

	return out, err
}

// Close flushes and closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// put encodes v under prefix||seq.
func (s *Store) put(prefix []byte, seq uint64, v any) error {
	value, err := json.Marshal(v)
	if err != nil {
		return err
	}

	return s.db.Set(seqKey(prefix, seq), value)
}

// scan walks entries after the cursor in order.
func (s *Store) scan(prefix []byte, since uint64, fn func(value []byte) error) error {
	err := s.db.Scan(seqKey(prefix, since+1), storage.PrefixUpperBound(prefix), func(_, value []byte) error {
		return fn(value)
	})
	if err != nil {
		return fmt.Errorf("scan audit log:\n%w", err)
	}

	return nil
}

// seqKey builds prefix || big-endian seq.
func seqKey(prefix []byte, seq uint64) []byte {
	key := make([]byte, 0, len(prefix)+8)
	key = append(key, prefix...)

	return binary.BigEndian.AppendUint64(key, seq)
}

// lastSeq returns the highest sequence stored under prefix, or 0.
func lastSeq(db *storage.Storage, prefix []byte) (uint64, error) {
	key, err := db.LastKey(prefix)
	if err != nil || key == nil {
		return 0, err
	}

	if len(key) != len(prefix)+8 {
		return 0, fmt.Errorf("malformed audit key %x", key)
	}

	return binary.BigEndian.Uint64(key[len(prefix):]), nil
}
