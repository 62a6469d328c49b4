package audit

import (
	"sync"
	"time"
)

// Detection kinds.
const (
	KindInvalidSignature = "invalid_signature"
	KindStaleRequest     = "stale_request"
	KindUnknownNode      = "unknown_node"
	KindIdentityMismatch = "identity_mismatch"
)

// Detection is one observed Byzantine event.
type Detection struct {
	Seq         uint64    `json:"seq"`
	Time        time.Time `json:"time"`
	NodeID      string    `json:"nodeId"`
	Kind        string    `json:"kind"`
	RequestID   string    `json:"requestId"`
	PayloadHash string    `json:"payloadHash"`
	Detail      string    `json:"detail,omitempty"`
}

// Record is the single outcome entry written per attestation session.
type Record struct {
	Seq         uint64        `json:"seq"`
	Time        time.Time     `json:"time"`
	PayloadHash string        `json:"payloadHash"`
	RequestID   string        `json:"requestId"`
	Certified   bool          `json:"certified"`
	Reason      string        `json:"reason,omitempty"`
	Error       string        `json:"error,omitempty"`
	ValidShares int           `json:"validShares"`
	Required    int           `json:"required"`
	Attempts    int           `json:"attempts"`
	Detections  int           `json:"detections"`
	Signers     []string      `json:"signers,omitempty"`
	TxDigest    string        `json:"txDigest,omitempty"`
	Duration    time.Duration `json:"durationNs"`
}

// Sink receives detections and outcome records. Implementations are
// append-only and safe for concurrent writers.
type Sink interface {
	RecordDetection(d Detection)
	RecordOutcome(r Record)
}

// Reader exposes the logs as time-ordered streams. since is an exclusive cursor:
// only entries with Seq > since are returned.
type Reader interface {
	Detections(since uint64) ([]Detection, error)
	Outcomes(since uint64) ([]Record, error)
}

// Memory is an in-process append-only sink.
type Memory struct {
	mu         sync.RWMutex
	detections []Detection
	outcomes   []Record
}

// NewMemory creates an empty in-memory log.
func NewMemory() *Memory {
	return &Memory{}
}

// RecordDetection appends d and assigns its sequence number.
func (m *Memory) RecordDetection(d Detection) {
	m.mu.Lock()
	d.Seq = uint64(len(m.detections)) + 1
	if d.Time.IsZero() {
		d.Time = time.Now()
	}
	m.detections = append(m.detections, d)
	m.mu.Unlock()
}

// RecordOutcome appends r and assigns its sequence number.
func (m *Memory) RecordOutcome(r Record) {
	m.mu.Lock()
	r.Seq = uint64(len(m.outcomes)) + 1
	if r.Time.IsZero() {
		r.Time = time.Now()
	}
	m.outcomes = append(m.outcomes, r)
	m.mu.Unlock()
}

// Detections returns a copy of detections after the cursor.
func (m *Memory) Detections(since uint64) ([]Detection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if since >= uint64(len(m.detections)) {
		return nil, nil
	}

	return append([]Detection(nil), m.detections[since:]...), nil
}

// Outcomes returns a copy of outcome records after the cursor.
func (m *Memory) Outcomes(since uint64) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if since >= uint64(len(m.outcomes)) {
		return nil, nil
	}

	out := make([]Record, len(m.outcomes)-int(since))
	for i, r := range m.outcomes[since:] {
		r.Signers = append([]string(nil), r.Signers...)
		out[i] = r
	}

	return out, nil
}

// Multi fans every entry out to several sinks.
type Multi []Sink

// RecordDetection forwards d to every sink.
func (ms Multi) RecordDetection(d Detection) {
	for _, s := range ms {
		s.RecordDetection(d)
	}
}

// RecordOutcome forwards r to every sink.
func (ms Multi) RecordOutcome(r Record) {
	for _, s := range ms {
		s.RecordOutcome(r)
	}
}

// Discard drops everything.
var Discard Sink = discard{}

type discard struct{}

func (discard) RecordDetection(Detection) {}
func (discard) RecordOutcome(Record)      {}
