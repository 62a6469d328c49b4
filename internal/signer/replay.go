package signer

import (
	"sync"
	"time"

	"github.com/zeebo/blake3"
)

const (
	// defaultReplayWindow is how long a signed request id is remembered.
	defaultReplayWindow = 10 * time.Minute

	// replayCleanupInterval is the interval between expiry sweeps.
	replayCleanupInterval = 5 * time.Second
)

// ReplayGuard remembers request ids a node has already answered so a request
// cannot be replayed to obtain a second signature. Entries expire after the window.
type ReplayGuard struct {
	seen   map[[32]byte]int64 // seen maps key hash to first-seen unix nanos
	mu     sync.Mutex
	window int64
	stop   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// NewReplayGuard creates a guard; a zero window uses the default.
func NewReplayGuard(window time.Duration) *ReplayGuard {
	if window <= 0 {
		window = defaultReplayWindow
	}

	g := &ReplayGuard{
		seen:   make(map[[32]byte]int64),
		window: int64(window),
		stop:   make(chan struct{}),
	}

	g.wg.Add(1)
	go g.cleanupLoop()

	return g
}

// Check records key and reports whether it was new within the window.
func (g *ReplayGuard) Check(key []byte) bool {
	hash := blake3.Sum256(key)
	now := time.Now().UnixNano()

	g.mu.Lock()
	defer g.mu.Unlock()

	if ts, exists := g.seen[hash]; exists && now-ts < g.window {
		return false
	}

	g.seen[hash] = now

	return true
}

// Len returns the number of remembered keys.
func (g *ReplayGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	return len(g.seen)
}

// Close stops the cleanup goroutine. It is safe to call more than once.
func (g *ReplayGuard) Close() {
	g.once.Do(func() {
		close(g.stop)
		g.wg.Wait()
	})
}

// cleanupLoop periodically drops expired entries.
func (g *ReplayGuard) cleanupLoop() {
	defer g.wg.Done()

	ticker := time.NewTicker(replayCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			g.expire(time.Now().UnixNano())
		case <-g.stop:
			return
		}
	}
}

// expire removes entries older than the window as of now.
func (g *ReplayGuard) expire(now int64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for hash, ts := range g.seen {
		if now-ts >= g.window {
			delete(g.seen, hash)
		}
	}
}
