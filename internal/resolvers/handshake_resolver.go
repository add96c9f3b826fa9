package resolvers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jroosing/hnsresolve/internal/dns"
	"github.com/jroosing/hnsresolve/internal/hnscache"
	"github.com/jroosing/hnsresolve/internal/hnserr"
	"github.com/jroosing/hnsresolve/internal/hnsrr"
	"github.com/jroosing/hnsresolve/internal/hnswire"
	"github.com/jroosing/hnsresolve/internal/peers"
)

// ErrNotHandshakeName means the query's TLD isn't registered on the
// Handshake chain. The caller (normally Chained) should try the next
// resolver in the chain.
var ErrNotHandshakeName = errors.New("handshake: not a handshake-registered TLD")

// DefaultNegativeTTLSeconds is used when a decoded resource set carries no
// TTL of its own.
const DefaultNegativeTTLSeconds = 300

// PeerSource supplies the candidate peer set for a lookup. FullNodePeers
// implements selection directly; HardcodedPeers supplies the fallback
// pool the registry draws candidates from.
type PeerSource interface {
	Peers() []string
}

// HandshakeResolver answers queries for Handshake-registered TLDs by
// requesting an SPV name-tree proof from a full-node peer, decoding it
// with the resource-record translator, and synthesizing a conventional
// DNS response. Queries for any other TLD return ErrNotHandshakeName so a
// Chained resolver falls through to conventional forwarding.
type HandshakeResolver struct {
	cache       *hnscache.Cache
	registry    *peers.FullNodePeers
	fallback    PeerSource
	proofClient hnswire.ProofClient
	height      hnswire.HeightSource
	tlds        *TLDSet
	defaultTTL  int
	logger      *slog.Logger
}

// NewHandshakeResolver wires together the cache, peer registry, fallback
// peer pool, and proof client that make up the Handshake resolution path.
func NewHandshakeResolver(
	cache *hnscache.Cache,
	registry *peers.FullNodePeers,
	fallback PeerSource,
	proofClient hnswire.ProofClient,
	height hnswire.HeightSource,
	tlds *TLDSet,
	defaultTTLSeconds int,
	logger *slog.Logger,
) *HandshakeResolver {
	if defaultTTLSeconds <= 0 {
		defaultTTLSeconds = DefaultNegativeTTLSeconds
	}
	return &HandshakeResolver{
		cache:       cache,
		registry:    registry,
		fallback:    fallback,
		proofClient: proofClient,
		height:      height,
		tlds:        tlds,
		defaultTTL:  defaultTTLSeconds,
		logger:      logger,
	}
}

// Close releases no resources of its own; the proof client and peer
// registry are owned by the caller that constructed this resolver.
func (h *HandshakeResolver) Close() error { return nil }

// Resolve implements the decision tree of the Handshake resolution path:
// extract the TLD, bail out for non-Handshake names, consult the cache,
// and on a miss select a peer and fetch a name proof.
func (h *HandshakeResolver) Resolve(ctx context.Context, req dns.Packet, reqBytes []byte) (Result, error) {
	if len(req.Questions) == 0 {
		return Result{}, ErrNotHandshakeName
	}
	q := req.Questions[0]
	tld := ExtractTLD(q.Name)
	if !h.tlds.Contains(tld) {
		return Result{}, ErrNotHandshakeName
	}

	height := h.currentHeight(ctx)

	if bytes, ok := h.cacheGet(q.Name, q.Type, q.Class, height); ok {
		return Result{ResponseBytes: PatchTransactionID(bytes, req.Header.ID), Source: "handshake-cache"}, nil
	}

	return h.resolveViaProof(ctx, req, tld, height)
}

func (h *HandshakeResolver) currentHeight(ctx context.Context) uint32 {
	if h.height == nil {
		return 0
	}
	height, err := h.height.Height(ctx)
	if err != nil {
		if h.logger != nil {
			h.logger.Warn("handshake: failed to read chain height", "err", err)
		}
		return 0
	}
	return height
}

// cacheGet validates cached bytes before returning them; corrupt entries
// are removed and reported as a miss so the caller retries against a peer.
func (h *HandshakeResolver) cacheGet(name string, qtype, qclass uint16, height uint32) ([]byte, bool) {
	b, ok := h.cache.Get(name, qtype, qclass, height)
	if !ok {
		return nil, false
	}
	if _, err := dns.ParsePacket(b); err != nil {
		if h.logger != nil {
			h.logger.Warn("handshake: cache entry corrupt, evicting",
				"name", name, "type", qtype, "err", hnserr.New(hnserr.CacheCorrupt, err))
		}
		h.cache.Remove(name, qtype, qclass)
		return nil, false
	}
	return b, true
}

func (h *HandshakeResolver) resolveViaProof(ctx context.Context, req dns.Packet, tld string, height uint32) (Result, error) {
	q := req.Questions[0]
	nameHash := peers.NameHash(tld)
	candidates := h.candidatePeers()
	if len(candidates) == 0 {
		return h.servfailResult(req, tld, hnserr.New(hnserr.Unreachable, fmt.Errorf("handshake: no candidate peers for %s", tld))), nil
	}

	order := h.registry.Select(nameHash, candidates)
	sawNotFound := false
	var lastErr error

	for _, peer := range order {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}

		proof, err := h.proofClient.GetProof(ctx, peer, nameHash)
		if err != nil {
			h.registry.RecordError(peer)
			lastErr = hnserr.WithPeer(hnserr.Unreachable, peer, err)
			continue
		}
		if !proof.Exists {
			h.registry.RecordNotFound(peer)
			sawNotFound = true
			continue
		}

		resp, ttl, err := h.synthesize(req, tld, proof)
		if err != nil {
			h.registry.RecordError(peer)
			lastErr = hnserr.WithPeer(hnserr.BadProof, peer, err)
			continue
		}

		h.registry.RecordSuccess(peer, proof.Services.Has(hnswire.ServiceNetwork))
		h.cacheResults(tld, q, resp, ttl, height)
		respBytes, err := resp.qnamePacket.Marshal()
		if err != nil {
			return Result{}, err
		}
		return Result{ResponseBytes: respBytes, Source: "handshake"}, nil
	}

	if sawNotFound {
		return Result{ResponseBytes: mustMarshal(buildNXDomain(req)), Source: "handshake-notfound"}, nil
	}
	if lastErr == nil {
		lastErr = hnserr.New(hnserr.Unreachable, fmt.Errorf("handshake: every peer failed for %s", tld))
	}
	return h.servfailResult(req, tld, lastErr), nil
}

// servfailResult builds a terminal SERVFAIL response for a query whose
// TLD is Handshake-registered but whose proof lookup could not complete
// (Unreachable, or BadProof exhausted across every candidate peer).
//
// This is returned as a successful Result (nil error) rather than
// propagated as an error: Chained treats any nil-error result as final,
// so a registered TLD that fails here never falls through to the
// ForwardingResolver and leaks to conventional DNS. The NotFound case (a
// notfound from every responding full node) is authoritative NXDOMAIN,
// handled above; this path is the non-authoritative failure case.
func (h *HandshakeResolver) servfailResult(req dns.Packet, tld string, cause error) Result {
	if h.logger != nil {
		h.logger.Warn("handshake: proof lookup failed, returning SERVFAIL", "tld", tld, "err", cause)
	}
	flags := uint16(dns.QRFlag|dns.RAFlag) | uint16(dns.RCodeServFail)
	flags |= req.Header.Flags & dns.RDFlag
	pkt := dns.Packet{
		Header:    dns.Header{ID: req.Header.ID, Flags: flags},
		Questions: req.Questions,
	}
	return Result{ResponseBytes: mustMarshal(pkt), Source: "handshake-servfail"}
}

// candidatePeers combines the reputation-tracked peer set (peers the
// registry has recorded an error, proof, or verification observation
// for) with the hardcoded fallback pool, deduplicated.
func (h *HandshakeResolver) candidatePeers() []string {
	seen := map[string]bool{}
	var out []string
	if h.registry != nil {
		for _, p := range h.registry.KnownPeers() {
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}
	if h.fallback != nil {
		for _, p := range h.fallback.Peers() {
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}
	return out
}

// synthResult bundles the packets built from one proof's decoded records.
type synthResult struct {
	qnamePacket dns.Packet
	nsPacket    *dns.Packet
}

// synthesize decodes proof's resources and builds the DNS response for
// the original question, plus (if NS records were present) a standalone
// (tld, NS, IN) packet for independent caching.
func (h *HandshakeResolver) synthesize(req dns.Packet, tld string, proof hnswire.Proof) (synthResult, int, error) {
	q := req.Questions[0]

	var nsRecords, answerRecords, additionals []dns.Record

	for _, res := range proof.Resources {
		rr, err := hnsrr.DecodeResource(res.Type, res.Data, tld)
		if errors.Is(err, hnsrr.ErrSynthUnsupported) {
			continue // SYNTH4/SYNTH6 decoding isn't supported; skip, don't fail the whole proof
		}
		if err != nil {
			return synthResult{}, 0, err
		}
		if rr.Name == "" {
			rr.Name = tld
		}

		if dns.RecordType(rr.Type) == dns.TypeNS {
			nsRecords = append(nsRecords, rr)
			continue
		}

		if dns.NormalizeName(rr.Name) == dns.NormalizeName(q.Name) && rr.Type == q.Type {
			answerRecords = append(answerRecords, rr)
		} else {
			additionals = append(additionals, rr)
		}
	}

	// The Handshake resource tuple (type, data) carries no TTL of its own
	// (spec data model §3), so there is no per-record minimum to take -
	// defaultTTL governs freshness uniformly for every cached entry.
	ttl := h.defaultTTL

	flags := uint16(dns.QRFlag | dns.RAFlag)
	flags |= req.Header.Flags & dns.RDFlag
	if len(answerRecords) == 0 {
		flags |= uint16(dns.RCodeNXDomain)
	}

	qnamePkt := dns.Packet{
		Header:      dns.Header{ID: req.Header.ID, Flags: flags},
		Questions:   req.Questions,
		Answers:     answerRecords,
		Authorities: nsRecords,
		Additionals: additionals,
	}

	var nsPkt *dns.Packet
	if len(nsRecords) > 0 {
		nsPkt = &dns.Packet{
			Header:    dns.Header{ID: req.Header.ID, Flags: uint16(dns.QRFlag | dns.RAFlag)},
			Questions: []dns.Question{{Name: tld, Type: uint16(dns.TypeNS), Class: uint16(dns.ClassIN)}},
			Answers:   nsRecords,
		}
	}

	return synthResult{qnamePacket: qnamePkt, nsPacket: nsPkt}, ttl, nil
}

func (h *HandshakeResolver) cacheResults(tld string, q dns.Question, resp synthResult, ttl int, height uint32) {
	if b, err := resp.qnamePacket.Marshal(); err == nil {
		h.cache.Put(q.Name, q.Type, q.Class, b, ttl, height)
	}
	if resp.nsPacket != nil {
		if b, err := resp.nsPacket.Marshal(); err == nil {
			h.cache.Put(tld, uint16(dns.TypeNS), uint16(dns.ClassIN), b, ttl, height)
		}
	}
}

func buildNXDomain(req dns.Packet) dns.Packet {
	flags := uint16(dns.QRFlag | dns.RAFlag | dns.RCodeNXDomain)
	flags |= req.Header.Flags & dns.RDFlag
	return dns.Packet{
		Header:    dns.Header{ID: req.Header.ID, Flags: flags},
		Questions: req.Questions,
	}
}

func mustMarshal(p dns.Packet) []byte {
	b, err := p.Marshal()
	if err != nil {
		// Only reachable if a hand-built packet is malformed; NXDOMAIN
		// packets here carry only a question section copied verbatim
		// from a request that already parsed successfully.
		return nil
	}
	return b
}

// ExtractTLD returns the last dot-separated label of name, lowercasing
// only ASCII A-Z and leaving every other byte untouched, matching the
// on-chain name canonicalization.
func ExtractTLD(name string) string {
	name = strings.Trim(name, ".")
	idx := strings.LastIndexByte(name, '.')
	label := name
	if idx >= 0 {
		label = name[idx+1:]
	}
	return lowerASCII(label)
}

func lowerASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// TLDSet is the set of TLDs currently registered on the Handshake chain
// that this resolver will attempt to answer directly, rather than
// forwarding to conventional DNS.
type TLDSet struct {
	set map[string]bool
}

// NewTLDSet builds a TLDSet from an initial list of TLDs (already
// lowercase-normalized by the caller, or not - Contains normalizes).
func NewTLDSet(tlds []string) *TLDSet {
	s := &TLDSet{set: make(map[string]bool, len(tlds))}
	for _, t := range tlds {
		s.set[lowerASCII(t)] = true
	}
	return s
}

// Contains reports whether tld is registered.
func (s *TLDSet) Contains(tld string) bool {
	if s == nil {
		return false
	}
	return s.set[lowerASCII(tld)]
}

// Add registers tld, e.g. after discovering it via a successful proof.
func (s *TLDSet) Add(tld string) {
	if s == nil {
		return
	}
	s.set[lowerASCII(tld)] = true
}
