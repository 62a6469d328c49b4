package integration

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"QuorumGate/client"
	"QuorumGate/internal/api"
	"QuorumGate/internal/audit"
	"QuorumGate/internal/bls"
	"QuorumGate/internal/network"
	"QuorumGate/internal/quorum"
	"QuorumGate/internal/roster"
	"QuorumGate/internal/signer"
	"QuorumGate/internal/submit"
)

// AttestationNode is one in-process attestation node serving over QUIC.
type AttestationNode struct {
	id      string              // id is the roster member id
	key     *bls.KeyPair        // key is the BLS signing key
	network *network.Node       // network is the QUIC endpoint
	replay  *signer.ReplayGuard // replay remembers request ids
}

// Entry returns the roster file entry for the node.
func (n *AttestationNode) Entry() roster.FileMember {
	return roster.FileMember{
		ID:         n.id,
		PublicKey:  hex.EncodeToString(n.key.PublicKeyBytes()),
		Possession: hex.EncodeToString(n.key.ProvePossession()),
		Address:    n.network.Addr(),
		NetworkKey: hex.EncodeToString(n.network.PublicKey()),
	}
}

// Stop closes the node's endpoint.
func (n *AttestationNode) Stop() {
	n.network.Close()
	n.replay.Close()
}

// startNode starts an attestation node on a loopback port.
func startNode(t *testing.T, id string, opts ...signer.HandlerOption) *AttestationNode {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate network key: %v", err)
	}

	key, err := bls.DeriveFromEd25519(priv)
	if err != nil {
		t.Fatalf("derive signing key: %v", err)
	}

	node, err := network.NewNode(network.Config{PrivateKey: priv, ListenAddr: "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("create node %s: %v", id, err)
	}

	replay := signer.NewReplayGuard(time.Minute)
	node.OnRequest(signer.NewHandler(key, replay, opts...).HandleRequest)

	if err := node.Start(); err != nil {
		t.Fatalf("start node %s: %v", id, err)
	}

	n := &AttestationNode{id: id, key: key, network: node, replay: replay}
	t.Cleanup(n.Stop)

	return n
}

// Cluster is a set of attestation nodes behind a coordinator and HTTP API.
type Cluster struct {
	Nodes  []*AttestationNode
	Roster *roster.Roster
	Coord  *quorum.Coordinator
	Sink   *audit.Memory
	Client *client.Client
}

// clusterOption customizes a node at the given index.
type clusterOption func(i int) []signer.HandlerOption

// refusing makes the listed node indices decline every request.
func refusing(indices ...int) clusterOption {
	return func(i int) []signer.HandlerOption {
		for _, idx := range indices {
			if idx == i {
				return []signer.HandlerOption{signer.WithRefusal()}
			}
		}
		return nil
	}
}

// startCluster starts n nodes, builds the roster from their entries and
// serves a pipeline behind the HTTP API.
func startCluster(t *testing.T, n int, opts ...clusterOption) *Cluster {
	t.Helper()

	file := &roster.File{}
	nodes := make([]*AttestationNode, n)

	for i := range nodes {
		var hopts []signer.HandlerOption
		for _, opt := range opts {
			hopts = append(hopts, opt(i)...)
		}

		nodes[i] = startNode(t, fmt.Sprintf("node-%d", i), hopts...)
		file.Members = append(file.Members, nodes[i].Entry())
	}

	r, err := file.Build()
	if err != nil {
		t.Fatalf("build roster: %v", err)
	}

	_, priv, _ := ed25519.GenerateKey(rand.Reader)
	local, err := network.NewNode(network.Config{PrivateKey: priv, ListenAddr: "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("create coordinator endpoint: %v", err)
	}

	if err := local.Start(); err != nil {
		t.Fatalf("start coordinator endpoint: %v", err)
	}

	signers, err := signer.FromRoster(r, local)
	if err != nil {
		t.Fatalf("signers: %v", err)
	}

	cfg := quorum.DefaultConfig()
	cfg.MaxRetries = 0
	cfg.RequestTimeout = time.Second
	cfg.SessionTimeout = 2 * time.Second

	sink := audit.NewMemory()

	coord, err := quorum.NewCoordinator(r, signers, quorum.DefaultPolicy(n),
		quorum.WithConfig(cfg), quorum.WithSink(sink))
	if err != nil {
		t.Fatalf("coordinator: %v", err)
	}

	relay := httptest.NewServer(submit.RelayHandler(submit.NewVerifier(r)))
	pipeline := submit.NewPipeline(coord, submit.NewHTTPSubmitter(relay.URL, nil))
	server := httptest.NewServer(api.New(":0", pipeline, coord, sink, nil).Handler())

	t.Cleanup(func() {
		server.Close()
		relay.Close()
		coord.Wait()
		local.Close()
	})

	return &Cluster{
		Nodes:  nodes,
		Roster: r,
		Coord:  coord,
		Sink:   sink,
		Client: client.NewClient(strings.TrimPrefix(server.URL, "http://")),
	}
}
