package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"github.com/jroosing/hnsresolve/internal/api/handlers"
	"github.com/jroosing/hnsresolve/internal/config"
	"github.com/jroosing/hnsresolve/internal/dane"
	"github.com/jroosing/hnsresolve/internal/filtering"
	"github.com/jroosing/hnsresolve/internal/hnscache"
	"github.com/jroosing/hnsresolve/internal/hnserr"
	"github.com/jroosing/hnsresolve/internal/hnswire"
	"github.com/jroosing/hnsresolve/internal/peers"
	"github.com/jroosing/hnsresolve/internal/resolvers"
)

// Runner orchestrates the DNS server startup, configuration, and shutdown.
type Runner struct {
	logger  *slog.Logger
	handler *handlers.Handler // optional; wired with runtime components before serving
	stats   *DNSStats
}

// NewRunner creates a new server runner with the given logger.
func NewRunner(logger *slog.Logger) *Runner {
	return &Runner{logger: logger, stats: NewDNSStats()}
}

// SetAPIHandler registers the management API handler so Run can wire it with
// the policy engine, peer registry, cache, and DANE verifier it builds.
func (r *Runner) SetAPIHandler(h *handlers.Handler) {
	r.handler = h
}

// DNSStats returns the DNS query statistics collector.
func (r *Runner) DNSStats() *DNSStats {
	return r.stats
}

// Run starts the DNS server with the given configuration.
//
// Server lifecycle:
//  1. Configure runtime (GOMAXPROCS based on workers setting)
//  2. Build the resolver chain (Handshake-aware -> conventional forwarding),
//     optionally wrapped in ad-block filtering
//  3. Start UDP and optionally TCP servers
//  4. Wait for shutdown signal (SIGINT/SIGTERM)
//  5. Gracefully stop servers with timeout
func (r *Runner) Run(cfg *config.Config) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	ctx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	// Configure GOMAXPROCS based on worker settings
	desiredProcs := r.configureRuntime(cfg)

	// Calculate concurrency limits
	maxConc := r.calculateMaxConcurrency(cfg, desiredProcs)
	upPool := r.calculateUpstreamPoolSize(cfg, maxConc)

	// Build resolver chain
	resolver, err := r.buildResolverChain(cfg, upPool)
	if err != nil {
		return fmt.Errorf("build resolver chain: %w", err)
	}
	defer resolver.Close()

	// Create server components
	h := &QueryHandler{Logger: r.logger, Resolver: resolver, Timeout: 4 * time.Second, Stats: r.stats}
	limiter := NewRateLimiter(RateLimitSettings{
		CleanupSeconds:   cfg.RateLimit.CleanupSeconds,
		MaxIPEntries:     cfg.RateLimit.MaxIPEntries,
		MaxPrefixEntries: cfg.RateLimit.MaxPrefixEntries,
		GlobalQPS:        cfg.RateLimit.GlobalQPS,
		GlobalBurst:      cfg.RateLimit.GlobalBurst,
		PrefixQPS:        cfg.RateLimit.PrefixQPS,
		PrefixBurst:      cfg.RateLimit.PrefixBurst,
		IPQPS:            cfg.RateLimit.IPQPS,
		IPBurst:          cfg.RateLimit.IPBurst,
	})

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	r.logStartup(cfg, addr, maxConc, upPool)

	// Start servers
	udp := &UDPServer{Logger: r.logger, Handler: h, Limiter: limiter, WorkersPerSocket: maxConc}
	var tcp *TCPServer
	if cfg.Server.EnableTCP {
		tcp = &TCPServer{Logger: r.logger, Handler: h}
	}

	errCh := make(chan error, 2)
	go func() { errCh <- udp.Run(ctx, addr) }()
	if tcp != nil {
		go func() { errCh <- tcp.Run(ctx, addr) }()
	}

	// Wait for shutdown or error
	select {
	case <-ctx.Done():
		// shutdown requested via signal
	case err := <-errCh:
		if err != nil {
			cancelRun()
			return err
		}
	}

	// Graceful shutdown
	stopTimeout := 5 * time.Second
	_ = udp.Stop(stopTimeout)
	if tcp != nil {
		_ = tcp.Stop(stopTimeout)
	}
	return nil
}

// configureRuntime sets GOMAXPROCS based on worker configuration.
// Workers can reduce but never increase parallelism beyond the default.
func (r *Runner) configureRuntime(cfg *config.Config) int {
	baseProcs := runtime.GOMAXPROCS(0)
	if baseProcs <= 0 {
		baseProcs = 1
	}
	desiredProcs := baseProcs

	if cfg.Server.Workers.Mode == config.WorkersFixed {
		w := cfg.Server.Workers.Value
		if w <= 0 {
			w = 1
		}
		if w < desiredProcs {
			desiredProcs = w
		}
	}

	prev := runtime.GOMAXPROCS(desiredProcs)
	actual := runtime.GOMAXPROCS(0)
	if r.logger != nil {
		r.logger.Info("runtime", "gomaxprocs", actual, "prev", prev, "base", baseProcs)
	}
	return actual
}

// calculateMaxConcurrency determines the maximum concurrent request handlers.
func (r *Runner) calculateMaxConcurrency(cfg *config.Config, procs int) int {
	maxConc := cfg.Server.MaxConcurrency
	if maxConc <= 0 {
		c := procs
		if c <= 0 {
			c = 1
		}
		maxConc = c * 256
		if maxConc > 2048 {
			maxConc = 2048
		}
		if maxConc < 1 {
			maxConc = 1
		}
	}
	return maxConc
}

// calculateUpstreamPoolSize determines the UDP connection pool size for upstream queries.
func (r *Runner) calculateUpstreamPoolSize(cfg *config.Config, maxConc int) int {
	upPool := cfg.Server.UpstreamSocketPoolSize
	if upPool <= 0 {
		upPool = maxConc
		if upPool < 64 {
			upPool = 64
		}
		if upPool > 1024 {
			upPool = 1024
		}
	}
	return upPool
}

// buildResolverChain creates the resolver chain: filtering -> (handshake,
// forwarding). The Handshake resolver and the conventional forwarder are
// siblings in a Chained list: the Handshake resolver returns
// resolvers.ErrNotHandshakeName for any query outside its registered TLD
// set, so Chained falls through to forwarding.
func (r *Runner) buildResolverChain(cfg *config.Config, upPool int) (resolvers.Resolver, error) {
	udpTimeout, err := parseDurationOrDefault(cfg.Upstream.UDPTimeout, 2*time.Second)
	if err != nil {
		return nil, fmt.Errorf("upstream.udp_timeout: %w", err)
	}
	tcpTimeout, err := parseDurationOrDefault(cfg.Upstream.TCPTimeout, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("upstream.tcp_timeout: %w", err)
	}

	fwd := resolvers.NewForwardingResolver(
		cfg.Upstream.Servers,
		upPool,
		0,
		cfg.Server.TCPFallback,
		udpTimeout,
		tcpTimeout,
		cfg.Upstream.MaxRetries,
	)

	resList := make([]resolvers.Resolver, 0, 2)

	if len(cfg.Handshake.RegisteredTLDs) > 0 {
		hr, cache, registry, fallback, verifier := r.buildHandshakeResolver(cfg)
		resList = append(resList, hr)
		if r.handler != nil {
			r.handler.SetPeerRegistry(registry)
			r.handler.SetFallbackPeers(fallback)
			r.handler.SetHandshakeCache(cache)
			r.handler.SetVerifier(verifier)
		}
	}
	resList = append(resList, fwd)

	var chain resolvers.Resolver = &resolvers.Chained{Resolvers: resList}

	// Wrap with filtering if enabled
	if cfg.Filtering.Enabled {
		policy := r.buildFilteringPolicy(cfg)
		chain = resolvers.NewFilteringResolver(policy, chain)
		if r.handler != nil {
			r.handler.SetPolicyEngine(policy)
		}
		if r.logger != nil {
			r.logger.Info("filtering enabled",
				"whitelist_count", len(cfg.Filtering.WhitelistDomains),
				"blacklist_count", len(cfg.Filtering.BlacklistDomains),
				"blocklists", len(cfg.Filtering.Blocklists),
			)
		}
	}

	if r.handler != nil {
		r.handler.SetDNSStatsFunc(func() handlers.DNSStatsSnapshot {
			s := r.stats.Snapshot()
			return handlers.DNSStatsSnapshot{
				QueriesTotal: s.QueriesTotal,
				QueriesUDP:   s.QueriesUDP,
				QueriesTCP:   s.QueriesTCP,
				ResponsesNX:  s.ResponsesNX,
				ResponsesErr: s.ResponsesErr,
				AvgLatencyMs: s.AvgLatencyMs,
			}
		})
	}

	return chain, nil
}

// buildHandshakeResolver wires the response cache, full-node peer registry,
// hardcoded fallback peer pool, and a DANE verifier riding on the same
// resolver. The SPV proof client itself is an external collaborator this
// daemon does not implement; unimplementedProofClient reports every lookup
// as unreachable until a real Handshake header-chain client is wired in.
func (r *Runner) buildHandshakeResolver(cfg *config.Config) (
	*resolvers.HandshakeResolver,
	*hnscache.Cache,
	*peers.FullNodePeers,
	*peers.HardcodedPeers,
	*dane.Verifier,
) {
	stateDir := cfg.Handshake.StateDir
	if stateDir == "" {
		stateDir = "."
	}
	_ = os.MkdirAll(stateDir, 0o755)

	cache := hnscache.New(cfg.Handshake.TreeInterval)
	registry := peers.NewFullNodePeers(filepath.Join(stateDir, "fullnode_peers.cbor"), cfg.Handshake.MaxErrors, r.logger)
	fallback := peers.NewHardcodedPeers(filepath.Join(stateDir, "fallback_peers.cbor"), cfg.Handshake.MaxFallbackPeers, cfg.Handshake.SeedPeers, r.logger)
	tlds := resolvers.NewTLDSet(cfg.Handshake.RegisteredTLDs)

	proofClient := &unimplementedProofClient{}

	hr := resolvers.NewHandshakeResolver(
		cache, registry, fallback, proofClient, nil, tlds,
		cfg.Handshake.DNSCacheTTLSeconds, r.logger,
	)

	connectTO, err := parseDurationOrDefault(cfg.Handshake.ConnectTimeout, peers.DefaultConnectTimeout)
	if err != nil {
		connectTO = peers.DefaultConnectTimeout
	}
	verifier := dane.NewVerifier(hr, connectTO)

	if r.logger != nil {
		r.logger.Info("handshake resolution enabled",
			"tlds", cfg.Handshake.RegisteredTLDs,
			"state_dir", stateDir,
			"seed_peers", len(cfg.Handshake.SeedPeers),
		)
	}

	return hr, cache, registry, fallback, verifier
}

// BuildVerifier constructs a standalone DANE verifier riding on the same
// Handshake-aware resolver chain the daemon serves queries from. It is the
// entry point for one-shot tools (cmd/danecheck) that want certificate
// verification without running a DNS listener. The returned resolver must
// be closed by the caller once done.
func BuildVerifier(cfg *config.Config, logger *slog.Logger) (*dane.Verifier, resolvers.Resolver, error) {
	r := &Runner{logger: logger, stats: NewDNSStats()}
	chain, err := r.buildResolverChain(cfg, 64)
	if err != nil {
		return nil, nil, err
	}

	connectTO, err := parseDurationOrDefault(cfg.Handshake.ConnectTimeout, peers.DefaultConnectTimeout)
	if err != nil {
		connectTO = peers.DefaultConnectTimeout
	}
	return dane.NewVerifier(chain, connectTO), chain, nil
}

// unimplementedProofClient is the placeholder for the Handshake SPV
// header-chain client. The real implementation speaks the Handshake P2P
// protocol (version handshake, getheaders/headers, getproof/proof) to full
// nodes; wiring that up is outside this daemon's scope.
type unimplementedProofClient struct{}

func (unimplementedProofClient) GetProof(ctx context.Context, peer string, nameHash [32]byte) (hnswire.Proof, error) {
	return hnswire.Proof{}, hnserr.WithPeer(hnserr.Unreachable, peer,
		fmt.Errorf("no Handshake SPV client configured"))
}

// buildFilteringPolicy creates a PolicyEngine from the configuration.
func (r *Runner) buildFilteringPolicy(cfg *config.Config) *filtering.PolicyEngine {
	// Convert blocklist configs to BlocklistURLs
	blocklists := make([]filtering.BlocklistURL, 0, len(cfg.Filtering.Blocklists))
	for _, bl := range cfg.Filtering.Blocklists {
		format := filtering.FormatAuto
		switch bl.Format {
		case "adblock":
			format = filtering.FormatAdblock
		case "hosts":
			format = filtering.FormatHosts
		case "domains":
			format = filtering.FormatDomains
		}
		blocklists = append(blocklists, filtering.BlocklistURL{
			Name:   bl.Name,
			URL:    bl.URL,
			Format: format,
		})
	}

	// Parse refresh interval
	refreshInterval := 24 * time.Hour
	if cfg.Filtering.RefreshInterval != "" {
		if d, err := time.ParseDuration(cfg.Filtering.RefreshInterval); err == nil {
			refreshInterval = d
		}
	}

	return filtering.NewPolicyEngine(filtering.PolicyEngineConfig{
		Enabled:          cfg.Filtering.Enabled,
		BlockAction:      filtering.ActionBlock,
		LogBlocked:       cfg.Filtering.LogBlocked,
		LogAllowed:       cfg.Filtering.LogAllowed,
		WhitelistDomains: cfg.Filtering.WhitelistDomains,
		BlacklistDomains: cfg.Filtering.BlacklistDomains,
		BlocklistURLs:    blocklists,
		RefreshInterval:  refreshInterval,
	})
}

// logStartup logs server configuration at startup.
func (r *Runner) logStartup(cfg *config.Config, addr string, maxConc, upPool int) {
	if r.logger != nil {
		r.logger.Info(
			"dns listening",
			"addr", addr,
			"udp", true,
			"tcp", cfg.Server.EnableTCP,
			"upstreams", cfg.Upstream.Servers,
			"max_concurrency", maxConc,
			"upstream_pool", upPool,
		)
	}
}

// parseDurationOrDefault parses s as a duration, falling back to def when s
// is empty. An unparseable non-empty value is an error.
func parseDurationOrDefault(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	return time.ParseDuration(s)
}
