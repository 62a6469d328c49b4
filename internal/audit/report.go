package audit

import (
	"sort"
	"time"
)

// Report summarizes an audit log.
type Report struct {
	Sessions          int            `json:"sessions"`
	Certified         int            `json:"certified"`
	SuccessRate       float64        `json:"successRate"`
	FailureReasons    map[string]int `json:"failureReasons"`
	Detections        int            `json:"detections"`
	DetectionsByKind  map[string]int `json:"detectionsByKind"`
	ByzantineNodes    []string       `json:"byzantineNodes"`
	ObservedByzantine float64        `json:"observedByzantineRatio"`
	ConfiguredBound   float64        `json:"configuredByzantineRatio"`
	MeanAttempts      float64        `json:"meanAttempts"`
	MeanLatency       time.Duration  `json:"meanLatencyNs"`
}

// BuildReport aggregates detections and outcomes for a roster of n nodes that
// tolerates f Byzantine members.
func BuildReport(detections []Detection, outcomes []Record, n, f int) Report {
	rep := Report{
		Sessions:         len(outcomes),
		FailureReasons:   make(map[string]int),
		Detections:       len(detections),
		DetectionsByKind: make(map[string]int),
		ByzantineNodes:   []string{},
	}

	var totalLatency time.Duration
	var totalAttempts int

	for _, r := range outcomes {
		if r.Certified {
			rep.Certified++
		} else if r.Reason != "" {
			rep.FailureReasons[r.Reason]++
		}

		totalLatency += r.Duration
		totalAttempts += r.Attempts
	}

	if rep.Sessions > 0 {
		rep.SuccessRate = float64(rep.Certified) / float64(rep.Sessions)
		rep.MeanLatency = totalLatency / time.Duration(rep.Sessions)
		rep.MeanAttempts = float64(totalAttempts) / float64(rep.Sessions)
	}

	nodes := make(map[string]struct{})

	for _, d := range detections {
		rep.DetectionsByKind[d.Kind]++

		// unknown_node ids are not roster members and do not count against f
		if d.Kind != KindUnknownNode {
			nodes[d.NodeID] = struct{}{}
		}
	}

	for id := range nodes {
		rep.ByzantineNodes = append(rep.ByzantineNodes, id)
	}
	sort.Strings(rep.ByzantineNodes)

	if n > 0 {
		rep.ObservedByzantine = float64(len(rep.ByzantineNodes)) / float64(n)
		rep.ConfiguredBound = float64(f) / float64(n)
	}

	return rep
}

// ExceedsBound reports whether more nodes misbehaved than the policy tolerates.
func (r Report) ExceedsBound() bool {
	return r.ObservedByzantine > r.ConfiguredBound
}
