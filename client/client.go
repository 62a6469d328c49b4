package client

import (
	"bytes"
	"fmt"

	"QuorumGate/internal/api"
	"QuorumGate/internal/audit"
	"QuorumGate/internal/quorum"
)

// Client connects to an attestor via HTTP.
type Client struct {
	baseURL string // baseURL is the API root (e.g. "http://127.0.0.1:8080")
}

// Status is the attestor's quorum configuration.
type Status struct {
	Policy   quorum.Policy `json:"policy"`
	Members  []Member      `json:"members"`
	InFlight int64         `json:"inFlight"`
	Uptime   string        `json:"uptime"`
}

// Member is one roster entry as reported by the attestor.
type Member struct {
	ID        string `json:"id"`
	PublicKey string `json:"publicKey"`
	Address   string `json:"address,omitempty"`
	Simulated bool   `json:"simulated"`
	Behavior  string `json:"behavior,omitempty"`
}

// NewClient creates a client for the attestor at addr ("host:port").
func NewClient(addr string) *Client {
	return &Client{baseURL: "http://" + addr}
}

// Health checks that the attestor is serving.
func (c *Client) Health() error {
	var resp struct {
		Status string `json:"status"`
	}

	if err := httpGet(c.baseURL+"/health", &resp); err != nil {
		return fmt.Errorf("health:\n%w", err)
	}

	if resp.Status != "ok" {
		return fmt.Errorf("unhealthy: %q", resp.Status)
	}

	return nil
}

// Status returns the policy and roster.
func (c *Client) Status() (*Status, error) {
	var s Status
	if err := httpGet(c.baseURL+"/status", &s); err != nil {
		return nil, fmt.Errorf("status:\n%w", err)
	}

	return &s, nil
}

// Attest runs a session over payload and returns its outcome.
// A failed session is not an error: check Certified and Reason.
func (c *Client) Attest(payload []byte) (*api.AttestResponse, error) {
	var out api.AttestResponse

	if err := httpPost(c.baseURL+"/attest", "application/octet-stream", bytes.NewReader(payload), &out); err != nil {
		return nil, fmt.Errorf("attest:\n%w", err)
	}

	return &out, nil
}

// AttestHash runs a session over a precomputed payload hash.
func (c *Client) AttestHash(hash quorum.Hash) (*api.AttestResponse, error) {
	var out api.AttestResponse

	if err := httpPost(c.baseURL+"/attest?hash="+hash.String(), "application/octet-stream", nil, &out); err != nil {
		return nil, fmt.Errorf("attest hash:\n%w", err)
	}

	return &out, nil
}

// Detections returns detections with sequence numbers above since.
func (c *Client) Detections(since uint64) ([]audit.Detection, error) {
	var dets []audit.Detection
	if err := httpGet(fmt.Sprintf("%s/audit/detections?since=%d", c.baseURL, since), &dets); err != nil {
		return nil, fmt.Errorf("detections:\n%w", err)
	}

	return dets, nil
}

// Outcomes returns outcome records with sequence numbers above since.
func (c *Client) Outcomes(since uint64) ([]audit.Record, error) {
	var outs []audit.Record
	if err := httpGet(fmt.Sprintf("%s/audit/outcomes?since=%d", c.baseURL, since), &outs); err != nil {
		return nil, fmt.Errorf("outcomes:\n%w", err)
	}

	return outs, nil
}

// Report returns the aggregate audit report.
func (c *Client) Report() (*audit.Report, error) {
	var rep audit.Report
	if err := httpGet(c.baseURL+"/audit/report", &rep); err != nil {
		return nil, fmt.Errorf("report:\n%w", err)
	}

	return &rep, nil
}

// Export downloads and verifies the compressed audit log.
func (c *Client) Export() ([]audit.Detection, []audit.Record, error) {
	data, err := httpGetBytes(c.baseURL + "/audit/export")
	if err != nil {
		return nil, nil, fmt.Errorf("export:\n%w", err)
	}

	return audit.Import(data)
}
