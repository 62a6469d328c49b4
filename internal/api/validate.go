package api

import (
	"fmt"
	"io"
	"net/http"
	"strconv"

	"QuorumGate/internal/quorum"
)

const (
	// maxPayloadSize is the maximum payload size in bytes.
	maxPayloadSize = 1 << 20 // 1 MB
)

// parseAttest returns the payload hash of an attest request: either the
// hex ?hash= parameter or the BLAKE3 digest of the raw body.
func parseAttest(r *http.Request) (quorum.Hash, error) {
	if h := r.URL.Query().Get("hash"); h != "" {
		hash, err := quorum.ParseHash(h)
		if err != nil {
			return quorum.Hash{}, fmt.Errorf("invalid hash: %v", err)
		}
		return hash, nil
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadSize+1))
	if err != nil {
		return quorum.Hash{}, fmt.Errorf("failed to read body")
	}

	if len(body) == 0 {
		return quorum.Hash{}, fmt.Errorf("empty payload")
	}

	if len(body) > maxPayloadSize {
		return quorum.Hash{}, fmt.Errorf("payload exceeds %d bytes", maxPayloadSize)
	}

	return quorum.HashPayload(body), nil
}

// parseSince reads the exclusive ?since= cursor; absent means 0.
func parseSince(r *http.Request) (uint64, error) {
	v := r.URL.Query().Get("since")
	if v == "" {
		return 0, nil
	}

	since, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid since cursor %q", v)
	}

	return since, nil
}
