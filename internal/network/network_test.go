package network

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// generateTestKey generates a random ed25519 key for testing.
func generateTestKey(t *testing.T) ed25519.PrivateKey {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	return priv
}

// startNode creates and starts a node on a random local port.
func startNode(t *testing.T, key ed25519.PrivateKey, reconnect bool) *Node {
	t.Helper()

	node, err := NewNode(Config{
		PrivateKey:     key,
		ListenAddr:     "127.0.0.1:0",
		ReconnectDelay: 50 * time.Millisecond,
		Reconnect:      reconnect,
	})
	if err != nil {
		t.Fatalf("create node: %v", err)
	}

	if err := node.Start(); err != nil {
		t.Fatalf("start node: %v", err)
	}

	t.Cleanup(func() { node.Close() })

	return node
}

// waitFor polls cond until it holds or the timeout elapses.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}

	return cond()
}

// TestNodeConfigValidation tests that required fields are enforced.
func TestNodeConfigValidation(t *testing.T) {
	if _, err := NewNode(Config{ListenAddr: ":0"}); err == nil {
		t.Error("missing key should fail")
	}

	if _, err := NewNode(Config{PrivateKey: generateTestKey(t)}); err == nil {
		t.Error("missing listen address should fail")
	}
}

// TestNodeConnect tests that both sides register each other by key.
func TestNodeConnect(t *testing.T) {
	serverKey := generateTestKey(t)
	server := startNode(t, serverKey, false)

	var connected atomic.Bool
	server.OnConnect(func(*Peer) { connected.Store(true) })

	client := startNode(t, generateTestKey(t), false)

	peer, err := client.Connect(server.Addr())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	if !bytes.Equal(peer.PublicKey(), serverKey.Public().(ed25519.PublicKey)) {
		t.Error("peer public key mismatch")
	}

	if !waitFor(t, 2*time.Second, connected.Load) {
		t.Fatal("server did not register connection")
	}

	if client.GetPeer(serverKey.Public().(ed25519.PublicKey)) == nil {
		t.Error("client should find server by key")
	}

	if len(server.Peers()) != 1 {
		t.Errorf("server peer count: got %d, want 1", len(server.Peers()))
	}
}

// TestDialIdentityMismatch tests that Dial rejects a peer presenting another key.
func TestDialIdentityMismatch(t *testing.T) {
	server := startNode(t, generateTestKey(t), false)
	client := startNode(t, generateTestKey(t), false)

	wrong := generateTestKey(t).Public().(ed25519.PublicKey)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := client.Dial(ctx, server.Addr(), wrong); !errors.Is(err, ErrIdentityMismatch) {
		t.Fatalf("dial: got %v, want ErrIdentityMismatch", err)
	}

	if len(client.Peers()) != 0 {
		t.Error("mismatched peer should not be registered")
	}
}

// TestRequestResponse tests a round trip through the request handler.
func TestRequestResponse(t *testing.T) {
	serverKey := generateTestKey(t)
	server := startNode(t, serverKey, false)

	server.OnRequest(func(p *Peer, data []byte) ([]byte, error) {
		return append([]byte("echo:"), data...), nil
	})

	client := startNode(t, generateTestKey(t), false)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	peer, err := client.Dial(ctx, server.Addr(), serverKey.Public().(ed25519.PublicKey))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	resp, err := peer.Request(ctx, []byte("ping"))
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	if string(resp) != "echo:ping" {
		t.Errorf("response: got %q", resp)
	}
}

// TestConcurrentRequests tests many requests multiplexed on one connection.
func TestConcurrentRequests(t *testing.T) {
	server := startNode(t, generateTestKey(t), false)
	server.OnRequest(func(_ *Peer, data []byte) ([]byte, error) { return data, nil })

	client := startNode(t, generateTestKey(t), false)

	peer, err := client.Connect(server.Addr())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	const numRequests = 32

	var wg sync.WaitGroup
	errs := make(chan error, numRequests)

	for i := 0; i < numRequests; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			msg := []byte(fmt.Sprintf("req-%d", i))
			resp, err := peer.Request(ctx, msg)
			if err != nil {
				errs <- err
				return
			}

			if !bytes.Equal(resp, msg) {
				errs <- fmt.Errorf("request %d: got %q", i, resp)
			}
		}(i)
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
}

// TestRequestCancelled tests that a slow handler is abandoned when ctx ends.
func TestRequestCancelled(t *testing.T) {
	server := startNode(t, generateTestKey(t), false)

	release := make(chan struct{})
	defer close(release)

	server.OnRequest(func(_ *Peer, data []byte) ([]byte, error) {
		<-release
		return data, nil
	})

	client := startNode(t, generateTestKey(t), false)

	peer, err := client.Connect(server.Addr())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()

	if _, err := peer.Request(ctx, []byte("slow")); err == nil {
		t.Fatal("request should fail after ctx deadline")
	}

	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("request returned after %v, want about 100ms", elapsed)
	}
}

// TestHandlerError tests that a handler error surfaces as a request failure.
func TestHandlerError(t *testing.T) {
	server := startNode(t, generateTestKey(t), false)
	server.OnRequest(func(_ *Peer, _ []byte) ([]byte, error) { return nil, errors.New("boom") })

	client := startNode(t, generateTestKey(t), false)

	peer, err := client.Connect(server.Addr())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := peer.Request(ctx, []byte("x")); err == nil {
		t.Error("request should fail when handler errors")
	}
}

// TestClosedPeer tests that a closed peer refuses requests without a stream.
func TestClosedPeer(t *testing.T) {
	server := startNode(t, generateTestKey(t), false)
	client := startNode(t, generateTestKey(t), false)

	peer, err := client.Connect(server.Addr())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	peer.Close()

	if _, err := peer.Request(context.Background(), []byte("x")); !errors.Is(err, ErrPeerClosed) {
		t.Errorf("closed peer: got %v, want ErrPeerClosed", err)
	}
}

// TestNodeReconnect tests that a dialing node redials a restarted peer.
func TestNodeReconnect(t *testing.T) {
	serverKey := generateTestKey(t)
	server := startNode(t, serverKey, false)
	addr := server.Addr()

	client := startNode(t, generateTestKey(t), true)

	var reconnected atomic.Int32
	client.OnConnect(func(*Peer) { reconnected.Add(1) })

	if _, err := client.Connect(addr); err != nil {
		t.Fatalf("connect: %v", err)
	}

	server.Close()

	pub := serverKey.Public().(ed25519.PublicKey)
	if !waitFor(t, 5*time.Second, func() bool { return client.GetPeer(pub) == nil }) {
		t.Fatal("client did not notice disconnect")
	}

	restarted, err := NewNode(Config{PrivateKey: serverKey, ListenAddr: addr})
	if err != nil {
		t.Fatalf("recreate server: %v", err)
	}

	if err := restarted.Start(); err != nil {
		t.Skipf("port %s not reusable: %v", addr, err)
	}
	defer restarted.Close()

	if !waitFor(t, 10*time.Second, func() bool { return client.GetPeer(pub) != nil }) {
		t.Fatal("client did not reconnect")
	}

	if reconnected.Load() == 0 {
		t.Error("OnConnect not called on reconnect")
	}
}

// TestFrameLimits tests frame encoding bounds.
func TestFrameLimits(t *testing.T) {
	var buf bytes.Buffer

	if err := writeMessage(&buf, []byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := readMessage(&buf)
	if err != nil || string(got) != "hello" {
		t.Fatalf("read: %q, %v", got, err)
	}

	if err := writeMessage(&buf, make([]byte, maxFrameSize+1)); !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("oversized write: got %v", err)
	}

	oversized := []byte{0xff, 0xff, 0xff, 0xff}
	if _, err := readMessage(bytes.NewReader(oversized)); !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("oversized read: got %v", err)
	}
}
