package network

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/tls"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/quic-go/quic-go"

	"QuorumGate/internal/logger"
)

const (
	// defaultReconnectDelay is the default delay before the first reconnection attempt.
	defaultReconnectDelay = 1 * time.Second

	// maxReconnectDelay caps the reconnection backoff.
	maxReconnectDelay = 30 * time.Second

	// defaultIdleTimeout closes connections without traffic.
	defaultIdleTimeout = 30 * time.Second

	// alpnProtocol is the ALPN protocol identifier.
	alpnProtocol = "quorumgate/1"
)

var (
	// ErrPeerClosed is returned when using a closed peer.
	ErrPeerClosed = errors.New("peer is closed")

	// ErrStreamOpen is returned when no stream could be opened to the peer,
	// meaning the request never reached it.
	ErrStreamOpen = errors.New("open stream")

	// ErrIdentityMismatch is returned when a dialed peer presents another key.
	ErrIdentityMismatch = errors.New("peer identity mismatch")
)

// Handler answers one request from a peer.
type Handler func(peer *Peer, data []byte) ([]byte, error)

// Config holds the configuration for a Node.
type Config struct {
	PrivateKey     ed25519.PrivateKey // PrivateKey is the node's transport identity
	ListenAddr     string             // ListenAddr is the address to listen on (e.g. ":9100")
	ReconnectDelay time.Duration      // ReconnectDelay is the initial reconnection delay
	IdleTimeout    time.Duration      // IdleTimeout closes silent connections
	Reconnect      bool               // Reconnect redials peers this node dialed after they drop
}

// Node is a QUIC endpoint that accepts and initiates authenticated connections
// and serves request/response streams.
type Node struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
	listenAddr string
	tlsConfig  *tls.Config
	quicConfig *quic.Config
	reconnect  bool

	listener *quic.Listener

	peers   map[string]*Peer // peers maps public key hex to peer
	peersMu sync.RWMutex

	dialed   map[string]string // dialed maps public key hex to address for reconnection
	dialedMu sync.RWMutex

	reconnectDelay time.Duration

	onConnect    func(*Peer)
	onDisconnect func(*Peer)
	onRequest    Handler
	handlersMu   sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewNode creates a node. Call Start to accept connections.
func NewNode(cfg Config) (*Node, error) {
	if cfg.PrivateKey == nil {
		return nil, fmt.Errorf("private key is required")
	}

	if cfg.ListenAddr == "" {
		return nil, fmt.Errorf("listen address is required")
	}

	reconnectDelay := cfg.ReconnectDelay
	if reconnectDelay == 0 {
		reconnectDelay = defaultReconnectDelay
	}

	idle := cfg.IdleTimeout
	if idle == 0 {
		idle = defaultIdleTimeout
	}

	cert, err := generateCertificate(cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("generate certificate:\n%w", err)
	}

	tlsConfig := &tls.Config{
		Certificates:       []tls.Certificate{cert},
		ClientAuth:         tls.RequireAnyClientCert,
		InsecureSkipVerify: true, // identity is the ed25519 key, checked after the handshake
		NextProtos:         []string{alpnProtocol},
	}

	quicConfig := &quic.Config{
		MaxIdleTimeout:  idle,
		KeepAlivePeriod: idle / 3,
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Node{
		privateKey:     cfg.PrivateKey,
		publicKey:      cfg.PrivateKey.Public().(ed25519.PublicKey),
		listenAddr:     cfg.ListenAddr,
		tlsConfig:      tlsConfig,
		quicConfig:     quicConfig,
		reconnect:      cfg.Reconnect,
		peers:          make(map[string]*Peer),
		dialed:         make(map[string]string),
		reconnectDelay: reconnectDelay,
		ctx:            ctx,
		cancel:         cancel,
	}, nil
}

// PublicKey returns the node's transport public key.
func (n *Node) PublicKey() ed25519.PublicKey {
	return n.publicKey
}

// Addr returns the listener's address, or "" if not started.
func (n *Node) Addr() string {
	if n.listener == nil {
		return ""
	}

	return n.listener.Addr().String()
}

// Start begins accepting connections.
func (n *Node) Start() error {
	listener, err := quic.ListenAddr(n.listenAddr, n.tlsConfig, n.quicConfig)
	if err != nil {
		return fmt.Errorf("listen on %s:\n%w", n.listenAddr, err)
	}

	n.listener = listener

	n.wg.Add(1)
	go n.acceptLoop()

	return nil
}

// Connect dials addr and registers the peer under whatever key it presents.
func (n *Node) Connect(addr string) (*Peer, error) {
	return n.dial(n.ctx, addr, nil)
}

// Dial connects to addr and requires the peer to present expected as its key.
// An existing connection to that key is reused.
func (n *Node) Dial(ctx context.Context, addr string, expected ed25519.PublicKey) (*Peer, error) {
	if p := n.GetPeer(expected); p != nil {
		return p, nil
	}

	return n.dial(ctx, addr, expected)
}

// dial opens a connection and sets up the peer.
func (n *Node) dial(ctx context.Context, addr string, expected ed25519.PublicKey) (*Peer, error) {
	conn, err := quic.DialAddr(ctx, addr, n.tlsConfig, n.quicConfig)
	if err != nil {
		return nil, fmt.Errorf("dial %s:\n%w", addr, err)
	}

	pubKey, err := extractPublicKey(conn.ConnectionState().TLS)
	if err != nil {
		conn.CloseWithError(1, "bad certificate")
		return nil, fmt.Errorf("extract public key:\n%w", err)
	}

	if expected != nil && !bytes.Equal(pubKey, expected) {
		conn.CloseWithError(1, "unexpected identity")
		return nil, fmt.Errorf("%w: %s presented %x", ErrIdentityMismatch, addr, pubKey[:8])
	}

	n.dialedMu.Lock()
	n.dialed[hex.EncodeToString(pubKey)] = addr
	n.dialedMu.Unlock()

	return n.setupPeer(conn, pubKey, addr), nil
}

// Peers returns all connected peers.
func (n *Node) Peers() []*Peer {
	n.peersMu.RLock()
	defer n.peersMu.RUnlock()

	peers := make([]*Peer, 0, len(n.peers))
	for _, p := range n.peers {
		peers = append(peers, p)
	}

	return peers
}

// GetPeer returns the connected peer with the given key, or nil.
func (n *Node) GetPeer(pubkey ed25519.PublicKey) *Peer {
	n.peersMu.RLock()
	defer n.peersMu.RUnlock()

	return n.peers[hex.EncodeToString(pubkey)]
}

// OnConnect sets the handler called when a peer connects.
func (n *Node) OnConnect(fn func(*Peer)) {
	n.handlersMu.Lock()
	n.onConnect = fn
	n.handlersMu.Unlock()
}

// OnDisconnect sets the handler called when a peer disconnects.
func (n *Node) OnDisconnect(fn func(*Peer)) {
	n.handlersMu.Lock()
	n.onDisconnect = fn
	n.handlersMu.Unlock()
}

// OnRequest sets the handler for incoming requests.
func (n *Node) OnRequest(fn Handler) {
	n.handlersMu.Lock()
	n.onRequest = fn
	n.handlersMu.Unlock()
}

// Close stops the node, closes all connections and waits for its goroutines.
func (n *Node) Close() error {
	n.cancel()

	if n.listener != nil {
		n.listener.Close()
	}

	n.peersMu.Lock()
	peers := n.peers
	n.peers = make(map[string]*Peer)
	n.peersMu.Unlock()

	for _, p := range peers {
		p.Close()
	}

	n.wg.Wait()

	return nil
}

// acceptLoop accepts incoming connections until the listener closes.
func (n *Node) acceptLoop() {
	defer n.wg.Done()

	for {
		conn, err := n.listener.Accept(n.ctx)
		if err != nil {
			return
		}

		pubKey, err := extractPublicKey(conn.ConnectionState().TLS)
		if err != nil {
			logger.Debug("rejecting connection", "addr", conn.RemoteAddr(), "error", err)
			conn.CloseWithError(1, "bad certificate")
			continue
		}

		peer := n.setupPeer(conn, pubKey, conn.RemoteAddr().String())
		n.callOnConnect(peer)
	}
}

// setupPeer registers a connection and starts serving its streams.
func (n *Node) setupPeer(conn *quic.Conn, pubKey ed25519.PublicKey, addr string) *Peer {
	peer := &Peer{
		publicKey: pubKey,
		address:   addr,
		conn:      conn,
		node:      n,
	}

	keyHex := hex.EncodeToString(pubKey)

	n.peersMu.Lock()
	old := n.peers[keyHex]
	n.peers[keyHex] = peer
	n.peersMu.Unlock()

	if old != nil {
		old.Close()
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		peer.serve(n.ctx)
	}()

	return peer
}

// handlePeerDisconnect unregisters p and schedules a reconnection if this node dialed it.
func (n *Node) handlePeerDisconnect(p *Peer) {
	keyHex := hex.EncodeToString(p.publicKey)

	n.peersMu.Lock()
	if n.peers[keyHex] == p {
		delete(n.peers, keyHex)
	}
	n.peersMu.Unlock()

	n.callOnDisconnect(p)

	if !n.reconnect || n.ctx.Err() != nil {
		return
	}

	n.dialedMu.RLock()
	_, dialed := n.dialed[keyHex]
	n.dialedMu.RUnlock()

	if !dialed {
		return
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.reconnectPeer(keyHex, p.publicKey)
	}()
}

// reconnectPeer redials a peer with exponential backoff until it succeeds or the node closes.
func (n *Node) reconnectPeer(keyHex string, pubKey ed25519.PublicKey) {
	delay := n.reconnectDelay

	for {
		select {
		case <-n.ctx.Done():
			return
		case <-time.After(delay):
		}

		n.dialedMu.RLock()
		addr, ok := n.dialed[keyHex]
		n.dialedMu.RUnlock()

		if !ok || n.GetPeer(pubKey) != nil {
			return
		}

		peer, err := n.dial(n.ctx, addr, pubKey)
		if err == nil {
			logger.Info("peer reconnected", "peer", keyHex[:16], "addr", addr)
			n.callOnConnect(peer)
			return
		}

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// callOnConnect calls the onConnect handler if set.
func (n *Node) callOnConnect(p *Peer) {
	n.handlersMu.RLock()
	fn := n.onConnect
	n.handlersMu.RUnlock()

	if fn != nil {
		fn(p)
	}
}

// callOnDisconnect calls the onDisconnect handler if set.
func (n *Node) callOnDisconnect(p *Peer) {
	n.handlersMu.RLock()
	fn := n.onDisconnect
	n.handlersMu.RUnlock()

	if fn != nil {
		fn(p)
	}
}

// callOnRequest calls the request handler if set.
func (n *Node) callOnRequest(p *Peer, data []byte) ([]byte, error) {
	n.handlersMu.RLock()
	fn := n.onRequest
	n.handlersMu.RUnlock()

	if fn == nil {
		return nil, fmt.Errorf("no request handler registered")
	}

	return fn(p, data)
}
