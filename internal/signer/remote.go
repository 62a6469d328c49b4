package signer

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"

	"QuorumGate/internal/network"
	"QuorumGate/internal/quorum"
)

// Remote is an attestation node reached over QUIC.
type Remote struct {
	id         string
	address    string
	networkKey ed25519.PublicKey
	node       *network.Node
}

// NewRemote creates a signer for the node at address presenting networkKey.
func NewRemote(id, address string, networkKey ed25519.PublicKey, node *network.Node) *Remote {
	return &Remote{
		id:         id,
		address:    address,
		networkKey: networkKey,
		node:       node,
	}
}

// ID returns the node id.
func (r *Remote) ID() string {
	return r.id
}

// Sign sends req to the node and decodes its answer. Failures to reach the
// node before the request is written wrap quorum.ErrDispatch.
func (r *Remote) Sign(ctx context.Context, req *quorum.SigningRequest) (*quorum.SignatureShare, error) {
	peer, err := r.node.Dial(ctx, r.address, r.networkKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %s:\n%w", quorum.ErrDispatch, r.id, err)
	}

	data, err := peer.Request(ctx, EncodeRequest(req))
	if err != nil {
		if errors.Is(err, network.ErrStreamOpen) || errors.Is(err, network.ErrPeerClosed) {
			return nil, fmt.Errorf("%w: %s:\n%w", quorum.ErrDispatch, r.id, err)
		}
		return nil, err
	}

	resp, err := DecodeResponse(data)
	if err != nil {
		return nil, fmt.Errorf("decode response from %s:\n%w", r.id, err)
	}

	if resp.Signature == nil {
		return nil, fmt.Errorf("%w: %s", ErrRefused, resp.Refusal)
	}

	return &quorum.SignatureShare{
		NodeID:    r.id,
		RequestID: resp.RequestID,
		Signature: resp.Signature,
	}, nil
}
