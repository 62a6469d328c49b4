package signer

import (
	"fmt"
	"time"

	"QuorumGate/internal/bls"
	"QuorumGate/internal/logger"
	"QuorumGate/internal/network"
)

// Handler answers signing requests on an attestation node.
type Handler struct {
	key    *bls.KeyPair // key is the node's BLS signing key
	replay *ReplayGuard // replay rejects request ids already signed
	refuse bool         // refuse makes the node decline every request
	now    func() time.Time
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithRefusal makes the node decline every request with RefusalPolicy.
func WithRefusal() HandlerOption {
	return func(h *Handler) { h.refuse = true }
}

// WithClock overrides the clock used for deadline checks.
func WithClock(now func() time.Time) HandlerOption {
	return func(h *Handler) { h.now = now }
}

// NewHandler creates a request handler signing with key.
func NewHandler(key *bls.KeyPair, replay *ReplayGuard, opts ...HandlerOption) *Handler {
	h := &Handler{
		key:    key,
		replay: replay,
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

// HandleRequest serves one request from peer. It is used as network.Node.OnRequest.
func (h *Handler) HandleRequest(peer *network.Peer, data []byte) ([]byte, error) {
	resp, err := h.Handle(data)
	if err != nil {
		logger.Debug("bad signing request", "peer", peer.Address(), "error", err)
	}

	return resp, err
}

// Handle decodes a signing request and returns the encoded answer.
func (h *Handler) Handle(data []byte) ([]byte, error) {
	req, err := DecodeRequest(data)
	if err != nil {
		return nil, fmt.Errorf("decode request:\n%w", err)
	}

	if !h.now().Before(req.Deadline) {
		return EncodeRefusal(req.RequestID, RefusalExpired), nil
	}

	if h.refuse {
		return EncodeRefusal(req.RequestID, RefusalPolicy), nil
	}

	if !h.replay.Check(req.RequestID[:]) {
		logger.Warn("replayed signing request", "request", req.RequestID.Short(), "payload", req.PayloadHash.Short())
		return EncodeRefusal(req.RequestID, RefusalReplay), nil
	}

	return EncodeSignature(req.RequestID, h.key.Sign(req.PayloadHash[:])), nil
}
