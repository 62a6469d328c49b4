package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"QuorumGate/internal/bls"
	"QuorumGate/internal/logger"
	"QuorumGate/internal/network"
	"QuorumGate/internal/signer"
)

// Node is a running attestation node: a QUIC endpoint answering signing requests.
type Node struct {
	cfg     *Config
	key     *bls.KeyPair
	replay  *signer.ReplayGuard
	handler *signer.Handler
	network *network.Node
}

// NewNode creates and initializes a new node.
func NewNode(cfg *Config, key *bls.KeyPair) (*Node, error) {
	n := &Node{cfg: cfg, key: key}

	n.initHandler()

	if err := n.initNetwork(); err != nil {
		n.Close()
		return nil, err
	}

	return n, nil
}

// initHandler creates the signing handler and its replay guard.
func (n *Node) initHandler() {
	n.replay = signer.NewReplayGuard(n.cfg.ReplayWindow)

	var opts []signer.HandlerOption
	if n.cfg.Refuse {
		opts = append(opts, signer.WithRefusal())
	}

	n.handler = signer.NewHandler(n.key, n.replay, opts...)
}

// initNetwork initializes the QUIC endpoint.
func (n *Node) initNetwork() error {
	node, err := network.NewNode(network.Config{
		PrivateKey: n.cfg.PrivateKey,
		ListenAddr: n.cfg.QUICAddress,
	})
	if err != nil {
		return fmt.Errorf("init network:\n%w", err)
	}

	node.OnConnect(func(p *network.Peer) {
		logger.Debug("coordinator connected", "peer", p.Address())
	})

	node.OnDisconnect(func(p *network.Peer) {
		logger.Debug("coordinator disconnected", "peer", p.Address())
	})

	node.OnRequest(n.handler.HandleRequest)
	n.network = node

	return nil
}

// Run starts the node and blocks until shutdown.
func (n *Node) Run() error {
	if err := n.network.Start(); err != nil {
		return fmt.Errorf("start network:\n%w", err)
	}

	logger.Info("listening for signing requests", "addr", n.network.Addr())

	n.waitForShutdown()

	return nil
}

// waitForShutdown blocks until a termination signal arrives, then closes the node.
func (n *Node) waitForShutdown() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", "signal", sig.String())

	n.Close()
}

// Close releases all resources.
func (n *Node) Close() {
	if n.network != nil {
		n.network.Close()
	}

	if n.replay != nil {
		n.replay.Close()
	}
}
