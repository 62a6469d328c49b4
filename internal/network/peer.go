package network

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/quic-go/quic-go"

	"QuorumGate/internal/logger"
)

const (
	// defaultRequestTimeout applies when the caller's context has no deadline.
	defaultRequestTimeout = 30 * time.Second

	// serveTimeout bounds how long a handler may take to read and answer a request.
	serveTimeout = 30 * time.Second
)

// Peer is a connection to a remote node.
type Peer struct {
	publicKey ed25519.PublicKey
	address   string
	conn      *quic.Conn
	node      *Node
	closed    atomic.Bool
}

// PublicKey returns the remote node's transport key.
func (p *Peer) PublicKey() ed25519.PublicKey {
	return p.publicKey
}

// Address returns the remote address.
func (p *Peer) Address() string {
	return p.address
}

// Close closes the connection.
func (p *Peer) Close() error {
	if p.closed.Swap(true) {
		return nil
	}

	return p.conn.CloseWithError(0, "closed")
}

// Request sends data on a new bidirectional stream and waits for the response.
// ctx bounds the whole exchange. Errors wrapping ErrStreamOpen or ErrPeerClosed
// mean the request never reached the peer.
func (p *Peer) Request(ctx context.Context, data []byte) ([]byte, error) {
	if p.closed.Load() {
		return nil, ErrPeerClosed
	}

	stream, err := p.conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w:\n%w", ErrStreamOpen, err)
	}
	defer stream.Close()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultRequestTimeout)
	}
	stream.SetDeadline(deadline)

	// Unblock reads when ctx is cancelled before the deadline.
	stop := context.AfterFunc(ctx, func() {
		stream.CancelRead(0)
		stream.CancelWrite(0)
	})
	defer stop()

	if err := writeMessage(stream, data); err != nil {
		return nil, fmt.Errorf("write request:\n%w", err)
	}

	response, err := readMessage(stream)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("read response:\n%w", err)
	}

	return response, nil
}

// serve accepts request streams until the connection ends.
func (p *Peer) serve(ctx context.Context) {
	for {
		stream, err := p.conn.AcceptStream(ctx)
		if err != nil {
			logger.Debug("peer connection ended", "peer", p.address, "error", err)
			break
		}

		go p.handleStream(stream)
	}

	p.handleDisconnect()
}

// handleStream reads one request, calls the node's handler and writes the answer.
func (p *Peer) handleStream(stream *quic.Stream) {
	defer stream.Close()

	stream.SetDeadline(time.Now().Add(serveTimeout))

	data, err := readMessage(stream)
	if err != nil {
		return
	}

	response, err := p.node.callOnRequest(p, data)
	if err != nil {
		logger.Debug("request handler failed", "peer", p.address, "error", err)
		stream.CancelWrite(1)
		return
	}

	if err := writeMessage(stream, response); err != nil {
		logger.Debug("write response failed", "peer", p.address, "error", err)
	}
}

// handleDisconnect runs once when the connection ends.
func (p *Peer) handleDisconnect() {
	if !p.closed.Swap(true) {
		p.conn.CloseWithError(0, "connection ended")
	}

	p.node.handlePeerDisconnect(p)
}
