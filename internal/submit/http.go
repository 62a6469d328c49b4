package submit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultSubmitTimeout = 10 * time.Second

// HTTPSubmitter posts certificates to a settlement relay.
// The relay answers 200 with {"digest": "..."} on acceptance.
type HTTPSubmitter struct {
	url    string
	client *http.Client
}

// NewHTTPSubmitter creates a submitter for the relay at url. A nil client uses
// a default one with a timeout.
func NewHTTPSubmitter(url string, client *http.Client) *HTTPSubmitter {
	if client == nil {
		client = &http.Client{Timeout: defaultSubmitTimeout}
	}

	return &HTTPSubmitter{url: url, client: client}
}

// relayResponse is the relay's acceptance body.
type relayResponse struct {
	Digest  string `json:"digest"`
	Signers int    `json:"signers"`
	Error   string `json:"error"`
}

// Submit posts the certificate. Transport errors and 5xx responses are
// L1Rpc failures; 4xx responses are L1Execution failures.
func (s *HTTPSubmitter) Submit(ctx context.Context, certificate []byte) (*Receipt, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(certificate))
	if err != nil {
		return nil, rpcError(fmt.Errorf("build request:\n%w", err))
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, rpcError(fmt.Errorf("POST %s:\n%w", s.url, err))
	}
	defer func() { io.Copy(io.Discard, resp.Body); resp.Body.Close() }()

	var body relayResponse
	decodeErr := json.NewDecoder(resp.Body).Decode(&body)

	switch {
	case resp.StatusCode >= 500:
		return nil, rpcError(fmt.Errorf("POST %s: status %d %s", s.url, resp.StatusCode, body.Error))
	case resp.StatusCode >= 400:
		return nil, executionError(fmt.Errorf("certificate rejected: status %d %s", resp.StatusCode, body.Error))
	case resp.StatusCode != http.StatusOK:
		return nil, rpcError(fmt.Errorf("POST %s: unexpected status %d", s.url, resp.StatusCode))
	}

	if decodeErr != nil {
		return nil, rpcError(fmt.Errorf("decode relay response:\n%w", decodeErr))
	}

	return &Receipt{Digest: body.Digest, SubmittedAt: time.Now(), Signers: body.Signers}, nil
}
