package peers

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"
)

// DefaultMaxFallbackPeers caps the size of the hardcoded fallback list.
const DefaultMaxFallbackPeers = 10

// DefaultConnectTimeout bounds the startup connectivity probe.
const DefaultConnectTimeout = 3 * time.Second

// hardcodedState is the on-disk shape of <fallback-peers>.cbor.
type hardcodedState struct {
	Peers     []string `cbor:"peers"`
	Timestamp int64    `cbor:"timestamp"`
	Count     int      `cbor:"count"`
}

// HardcodedPeers is the bounded fallback peer list: seeded with a known-
// good set, opportunistically grown during discovery, and pruned at
// startup by a TCP-connect probe.
type HardcodedPeers struct {
	mu      sync.Mutex
	peers   []string
	maxSize int
	path    string
	logger  *slog.Logger
}

// NewHardcodedPeers creates a fallback list persisted at path, loading any
// existing state and appending seed peers not already present. maxSize <=
// 0 uses DefaultMaxFallbackPeers.
func NewHardcodedPeers(path string, maxSize int, seed []string, logger *slog.Logger) *HardcodedPeers {
	if maxSize <= 0 {
		maxSize = DefaultMaxFallbackPeers
	}
	h := &HardcodedPeers{maxSize: maxSize, path: path, logger: logger}

	var state hardcodedState
	if err := readCBOR(path, &state); err != nil {
		if logger != nil {
			logger.Warn("hardcoded peer list load failed", "path", path, "err", err)
		}
	} else {
		h.peers = state.Peers
	}
	for _, p := range seed {
		h.addLocked(p)
	}
	return h
}

// Peers returns a copy of the current fallback list.
func (h *HardcodedPeers) Peers() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.peers))
	copy(out, h.peers)
	return out
}

// Add inserts peer at the end of the list if not already present,
// trimming the oldest entry if the list would exceed maxSize, and
// persists the change.
func (h *HardcodedPeers) Add(peer string) {
	h.mu.Lock()
	h.addLocked(peer)
	snap := append([]string(nil), h.peers...)
	h.mu.Unlock()
	h.persist(snap)
}

func (h *HardcodedPeers) addLocked(peer string) {
	for _, p := range h.peers {
		if p == peer {
			return
		}
	}
	h.peers = append(h.peers, peer)
	if len(h.peers) > h.maxSize {
		h.peers = h.peers[len(h.peers)-h.maxSize:]
	}
}

// Verify probes every current peer with a short TCP connect and removes
// any that fail to connect within DefaultConnectTimeout. Probes run
// concurrently; the result is persisted once all probes complete.
func (h *HardcodedPeers) Verify(ctx context.Context) {
	candidates := h.Peers()
	if len(candidates) == 0 {
		return
	}

	var wg sync.WaitGroup
	alive := make([]bool, len(candidates))
	for i, p := range candidates {
		wg.Add(1)
		go func(i int, peer string) {
			defer wg.Done()
			alive[i] = probeConnect(ctx, peer, DefaultConnectTimeout)
		}(i, p)
	}
	wg.Wait()

	survivors := make([]string, 0, len(candidates))
	for i, p := range candidates {
		if alive[i] {
			survivors = append(survivors, p)
		} else if h.logger != nil {
			h.logger.Info("dropping unreachable fallback peer", "peer", p)
		}
	}

	h.mu.Lock()
	h.peers = survivors
	h.mu.Unlock()
	h.persist(survivors)
}

func probeConnect(ctx context.Context, peer string, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	d := net.Dialer{}
	conn, err := d.DialContext(ctx, "tcp", peer)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

func (h *HardcodedPeers) persist(peers []string) {
	if h.path == "" {
		return
	}
	state := hardcodedState{Peers: peers, Timestamp: time.Now().UnixMilli(), Count: len(peers)}
	if err := writeAtomicCBOR(h.path, state); err != nil {
		if h.logger != nil {
			h.logger.Warn("hardcoded peer list persist failed", "path", h.path, "err", err)
		}
	}
}
