// Package handlers implements the REST API endpoint handlers for the resolver.
//
// @title HNS Resolver Management API
// @version 1.0
// @description REST API for managing the Handshake-aware resolver's configuration, peers, and filtering.
//
// @license.name MIT
// @license.url https://opensource.org/licenses/MIT
//
// @host localhost:8080
// @BasePath /api/v1
//
// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name X-API-Key
package handlers

import (
	"log/slog"
	"sync"
	"time"

	"github.com/jroosing/hnsresolve/internal/config"
	"github.com/jroosing/hnsresolve/internal/dane"
	"github.com/jroosing/hnsresolve/internal/filtering"
	"github.com/jroosing/hnsresolve/internal/hnscache"
	"github.com/jroosing/hnsresolve/internal/peers"
)

// DNSStatsSnapshot mirrors server.DNSStatsSnapshot for API responses,
// decoupling the handlers package from internal/server.
type DNSStatsSnapshot struct {
	QueriesTotal uint64
	QueriesUDP   uint64
	QueriesTCP   uint64
	ResponsesNX  uint64
	ResponsesErr uint64
	AvgLatencyMs float64
}

// Handler contains dependencies for API handlers.
type Handler struct {
	cfg       *config.Config
	logger    *slog.Logger
	startTime time.Time

	// Runtime components (set after server starts)
	policyEngine *filtering.PolicyEngine
	peerRegistry *peers.FullNodePeers
	fallback     *peers.HardcodedPeers
	hnsCache     *hnscache.Cache
	verifier     *dane.Verifier
	dnsStatsFunc func() DNSStatsSnapshot
	mu           sync.RWMutex
}

// New creates a new Handler with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) *Handler {
	return &Handler{
		cfg:       cfg,
		logger:    logger,
		startTime: time.Now(),
	}
}

// SetPolicyEngine sets the filtering policy engine for runtime access.
func (h *Handler) SetPolicyEngine(pe *filtering.PolicyEngine) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.policyEngine = pe
}

// GetPolicyEngine returns the currently configured policy engine, or nil.
func (h *Handler) GetPolicyEngine() *filtering.PolicyEngine {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.policyEngine
}

// SetPeerRegistry sets the Handshake peer registry for runtime access.
func (h *Handler) SetPeerRegistry(r *peers.FullNodePeers) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.peerRegistry = r
}

// GetPeerRegistry returns the configured peer registry, or nil.
func (h *Handler) GetPeerRegistry() *peers.FullNodePeers {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.peerRegistry
}

// SetFallbackPeers sets the hardcoded fallback peer list for runtime access.
func (h *Handler) SetFallbackPeers(f *peers.HardcodedPeers) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fallback = f
}

// GetFallbackPeers returns the configured fallback peer list, or nil.
func (h *Handler) GetFallbackPeers() *peers.HardcodedPeers {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.fallback
}

// SetHandshakeCache sets the Handshake response cache for runtime access.
func (h *Handler) SetHandshakeCache(c *hnscache.Cache) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hnsCache = c
}

// GetHandshakeCache returns the configured Handshake response cache, or nil.
func (h *Handler) GetHandshakeCache() *hnscache.Cache {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.hnsCache
}

// SetVerifier sets the DANE verifier for runtime access.
func (h *Handler) SetVerifier(v *dane.Verifier) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.verifier = v
}

// GetVerifier returns the configured DANE verifier, or nil.
func (h *Handler) GetVerifier() *dane.Verifier {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.verifier
}

// SetDNSStatsFunc registers the callback used to snapshot DNS server statistics.
func (h *Handler) SetDNSStatsFunc(fn func() DNSStatsSnapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dnsStatsFunc = fn
}

// GetDNSStatsFunc returns the registered DNS statistics callback, or nil.
func (h *Handler) GetDNSStatsFunc() func() DNSStatsSnapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.dnsStatsFunc
}
